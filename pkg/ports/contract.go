package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunExecutionStoreContract runs a suite of tests to verify that an
// ExecutionStore implementation adheres to the defined interface contract.
func RunExecutionStoreContract(t *testing.T, store ExecutionStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	graph := &domain.GraphDefinition{ID: "g1", CompanyID: "c1", Version: 3}

	newExec := func(id string) *domain.Execution {
		return domain.NewExecution(id, graph, "conv-1", "contact-1",
			domain.Contact{Name: "Ana", Phone: "+5511912345678"},
			map[string]any{"foo": "bar", "count": 42}, now)
	}

	t.Run("Save and Load", func(t *testing.T) {
		id := prefix + "-save"
		exec := newExec(id)
		exec.ExecutionLog = append(exec.ExecutionLog, domain.StepRecord{NodeID: "start", NodeType: domain.NodeTypeStart, Timestamp: now})

		require.NoError(t, store.Save(ctx, exec), "Save should not return error")
		assert.Equal(t, int64(1), exec.Revision, "Save should bump the revision")

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, id, loaded.ID)
		assert.Equal(t, "g1", loaded.GraphID)
		assert.Equal(t, 3, loaded.GraphVersion)
		assert.Equal(t, "c1", loaded.CompanyID)
		assert.Equal(t, domain.StatusRunning, loaded.Status)
		assert.Equal(t, "Ana", loaded.Contact.Name)
		assert.Equal(t, "bar", loaded.SessionVariables["foo"])
		// JSON-backed stores may widen numbers, so only existence is checked.
		assert.NotNil(t, loaded.SessionVariables["count"])
		assert.Len(t, loaded.ExecutionLog, 1)
		assert.True(t, now.Equal(loaded.StartedAt))
		assert.Equal(t, int64(1), loaded.Revision)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, prefix+"-missing")
		assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
	})

	t.Run("Stale Revision Conflicts", func(t *testing.T) {
		id := prefix + "-conflict"
		require.NoError(t, store.Save(ctx, newExec(id)))

		first, err := store.Load(ctx, id)
		require.NoError(t, err)
		second, err := store.Load(ctx, id)
		require.NoError(t, err)

		first.CurrentNodeID = "winner"
		require.NoError(t, store.Save(ctx, first))
		assert.Equal(t, int64(2), first.Revision)

		second.CurrentNodeID = "loser"
		err = store.Save(ctx, second)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, int64(1), second.Revision, "a rejected Save must not bump the revision")

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "winner", loaded.CurrentNodeID)
	})

	t.Run("Duplicate Create Conflicts", func(t *testing.T) {
		id := prefix + "-dup"
		require.NoError(t, store.Save(ctx, newExec(id)))
		assert.ErrorIs(t, store.Save(ctx, newExec(id)), domain.ErrConflict)
	})

	t.Run("Loaded Copies Are Isolated", func(t *testing.T) {
		id := prefix + "-isolated"
		exec := newExec(id)
		require.NoError(t, store.Save(ctx, exec))
		exec.SessionVariables["foo"] = "mutated after save"

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "bar", loaded.SessionVariables["foo"])
		loaded.SessionVariables["foo"] = "mutated after load"

		again, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "bar", again.SessionVariables["foo"])
	})

	t.Run("ListByStatus", func(t *testing.T) {
		waiting := newExec(prefix + "-waiting")
		waiting.Status = domain.StatusWaitingInput
		require.NoError(t, store.Save(ctx, waiting))

		moving := newExec(prefix + "-moving")
		moving.Status = domain.StatusWaitingInput
		require.NoError(t, store.Save(ctx, moving))
		moving.Status = domain.StatusCompleted
		require.NoError(t, store.Save(ctx, moving))

		ids, err := store.ListByStatus(ctx, domain.StatusWaitingInput)
		require.NoError(t, err)
		assert.Contains(t, ids, waiting.ID)
		assert.NotContains(t, ids, moving.ID)

		ids, err = store.ListByStatus(ctx, domain.StatusCompleted)
		require.NoError(t, err)
		assert.Contains(t, ids, moving.ID)
	})
}
