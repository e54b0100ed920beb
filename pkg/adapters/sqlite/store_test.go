package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/sqlite"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteStore_Contract(t *testing.T) {
	store, err := sqlite.NewStore(openDB(t))
	require.NoError(t, err)
	ports.RunExecutionStoreContract(t, store)
}

func TestSQLiteStore_SchemaIsIdempotent(t *testing.T) {
	db := openDB(t)
	_, err := sqlite.NewStore(db)
	require.NoError(t, err)
	_, err = sqlite.NewStore(db)
	require.NoError(t, err)
}

func TestSQLiteStore_ListIdle(t *testing.T) {
	store, err := sqlite.NewStore(openDB(t))
	require.NoError(t, err)
	ctx := context.Background()
	graph := &domain.GraphDefinition{ID: "g1", CompanyID: "c1", Version: 1}
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	old := domain.NewExecution("old", graph, "conv", "contact", domain.Contact{}, nil, base)
	old.Status = domain.StatusWaitingInput
	require.NoError(t, store.Save(ctx, old))

	fresh := domain.NewExecution("fresh", graph, "conv", "contact", domain.Contact{}, nil, base.Add(time.Hour))
	fresh.Status = domain.StatusWaitingInput
	require.NoError(t, store.Save(ctx, fresh))

	running := domain.NewExecution("running", graph, "conv", "contact", domain.Contact{}, nil, base)
	require.NoError(t, store.Save(ctx, running))

	ids, err := store.ListIdle(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)
}

func TestSQLiteGraphStore(t *testing.T) {
	graphs, err := sqlite.NewGraphStore(openDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	v1 := &domain.GraphDefinition{
		ID: "welcome", CompanyID: "c1", Version: 1,
		Nodes: []domain.Node{{ID: "start", Type: domain.NodeTypeStart}},
	}
	v2 := &domain.GraphDefinition{
		ID: "welcome", CompanyID: "c1", Version: 2,
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "hello", Type: domain.NodeTypeMessage, Data: map[string]any{"content": "Hi {{name}}"}},
		},
		Edges:    []domain.Edge{{ID: "e1", Source: "start", Target: "hello"}},
		Settings: domain.Settings{MaxRetries: 3},
	}
	require.NoError(t, graphs.Put(ctx, v1))
	require.NoError(t, graphs.Put(ctx, v2))
	assert.ErrorIs(t, graphs.Put(ctx, v1), sqlite.ErrVersionExists)

	loaded, err := graphs.Load(ctx, "welcome", 1)
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 1)

	latest, err := graphs.Latest(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 3, latest.Settings.MaxRetries)
	hello, ok := latest.Node("hello")
	require.True(t, ok)
	assert.Equal(t, "Hi {{name}}", hello.Data["content"])

	_, err = graphs.Load(ctx, "welcome", 9)
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)
	_, err = graphs.Latest(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)
}

func TestSQLiteGraphStore_PublishAll(t *testing.T) {
	graphs, err := sqlite.NewGraphStore(openDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	v1 := &domain.GraphDefinition{ID: "welcome", Version: 1}
	v2 := &domain.GraphDefinition{ID: "welcome", Version: 2}
	added, err := graphs.PublishAll(ctx, []*domain.GraphDefinition{v1})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = graphs.PublishAll(ctx, []*domain.GraphDefinition{v1, v2})
	require.NoError(t, err)
	assert.Equal(t, 1, added, "known versions are skipped")

	edited := &domain.GraphDefinition{ID: "welcome", Version: 1, Name: "edited"}
	v3 := &domain.GraphDefinition{ID: "welcome", Version: 3}
	added, err = graphs.PublishAll(ctx, []*domain.GraphDefinition{edited, v3})
	assert.ErrorIs(t, err, domain.ErrGraphVersionChanged)
	assert.Equal(t, 1, added, "later graphs are still archived")
	kept, err := graphs.Load(ctx, "welcome", 1)
	require.NoError(t, err)
	assert.Empty(t, kept.Name, "the archived copy is never overwritten")

	_, err = graphs.PublishAll(ctx, []*domain.GraphDefinition{{ID: "broken"}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrGraphVersionChanged)
}
