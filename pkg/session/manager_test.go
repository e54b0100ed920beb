package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	data map[string]*domain.Execution
	mu   sync.Mutex
}

func (s *SlowStore) Save(_ context.Context, exec *domain.Execution) error {
	time.Sleep(2 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]*domain.Execution)
	}
	var current int64
	if prev, ok := s.data[exec.ID]; ok {
		current = prev.Revision
	}
	if exec.Revision != current {
		return domain.ErrConflict
	}
	exec.Revision++
	s.data[exec.ID] = exec.Clone()
	return nil
}

func (s *SlowStore) Load(_ context.Context, id string) (*domain.Execution, error) {
	time.Sleep(2 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if exec, ok := s.data[id]; ok {
		return exec.Clone(), nil
	}
	return nil, domain.ErrExecutionNotFound
}

func (s *SlowStore) ListByStatus(_ context.Context, status domain.ExecutionStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, e := range s.data {
		if e.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func newExecution(id string) *domain.Execution {
	g := &domain.GraphDefinition{ID: "g", CompanyID: "c", Version: 1}
	return domain.NewExecution(id, g, "conv", "contact", domain.Contact{}, map[string]any{"counter": 0}, time.Now())
}

func TestManager_UpdateSerializes(t *testing.T) {
	store := &SlowStore{}
	manager := session.NewManager(store)
	ctx := context.Background()
	id := "race-test"

	require.NoError(t, manager.Create(ctx, newExecution(id)))

	var wg sync.WaitGroup
	concurrentWrites := 10
	for i := 0; i < concurrentWrites; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Update(ctx, id, func(_ context.Context, exec *domain.Execution) (*domain.Execution, error) {
				next := exec.Clone()
				next.MessagesReceived++
				return next, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := manager.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, concurrentWrites, final.MessagesReceived, "no update may be lost")
	assert.Equal(t, int64(concurrentWrites+1), final.Revision)
}

func TestManager_UpdateAbortsWithoutWriting(t *testing.T) {
	store := &SlowStore{}
	manager := session.NewManager(store)
	ctx := context.Background()
	require.NoError(t, manager.Create(ctx, newExecution("e1")))

	sentinel := errors.New("abort")
	_, err := manager.Update(ctx, "e1", func(_ context.Context, exec *domain.Execution) (*domain.Execution, error) {
		return nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	exec, err := manager.Load(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), exec.Revision)

	_, err = manager.Update(ctx, "missing", func(_ context.Context, exec *domain.Execution) (*domain.Execution, error) {
		t.Fatal("fn must not run for a missing execution")
		return nil, nil
	})
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestManager_CreateTwiceConflicts(t *testing.T) {
	manager := session.NewManager(&SlowStore{})
	ctx := context.Background()
	require.NoError(t, manager.Create(ctx, newExecution("dup")))
	assert.ErrorIs(t, manager.Create(ctx, newExecution("dup")), domain.ErrConflict)
}

type recordingLocker struct {
	mu       sync.Mutex
	locked   []string
	ttl      time.Duration
	unlocked int
	fail     error
}

func (l *recordingLocker) Lock(_ context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	l.mu.Lock()
	l.locked = append(l.locked, key)
	l.ttl = ttl
	l.mu.Unlock()
	return func(context.Context) error {
		l.mu.Lock()
		l.unlocked++
		l.mu.Unlock()
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &recordingLocker{}
	manager := session.NewManager(&SlowStore{}, session.WithLocker(locker), session.WithLockTTL(5*time.Second))

	err := manager.WithLock(context.Background(), "exec-9", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-9"}, locker.locked)
	assert.Equal(t, 5*time.Second, locker.ttl)
	assert.Equal(t, 1, locker.unlocked)

	locker.fail = errors.New("redis down")
	called := false
	err = manager.WithLock(context.Background(), "exec-9", func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}
