package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// DefaultLockTTL is how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to executions, so a turn's load, process and
// save never interleave with another turn for the same execution.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.ExecutionStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Manager over the given execution store.
func NewManager(store ports.ExecutionStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// Load reads an execution without taking the lock. The result is a snapshot.
func (m *Manager) Load(ctx context.Context, id string) (*domain.Execution, error) {
	return m.store.Load(ctx, id)
}

// Create persists a brand new execution.
func (m *Manager) Create(ctx context.Context, exec *domain.Execution) error {
	return m.WithLock(ctx, exec.ID, func(ctx context.Context) error {
		if err := m.store.Save(ctx, exec); err != nil {
			return fmt.Errorf("create execution %s: %w", exec.ID, err)
		}
		return nil
	})
}

// Update loads the execution, hands it to fn and saves what fn returns, all
// under the execution lock. When fn returns an error or a nil execution
// nothing is written.
func (m *Manager) Update(ctx context.Context, id string, fn func(ctx context.Context, exec *domain.Execution) (*domain.Execution, error)) (*domain.Execution, error) {
	var saved *domain.Execution
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		exec, err := m.store.Load(ctx, id)
		if err != nil {
			return err
		}
		next, err := fn(ctx, exec)
		if err != nil || next == nil {
			return err
		}
		if err := m.store.Save(ctx, next); err != nil {
			return fmt.Errorf("save execution %s: %w", id, err)
		}
		saved = next
		return nil
	})
	return saved, err
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context, status domain.ExecutionStatus) ([]string, error) {
	return m.store.ListByStatus(ctx, status)
}

// Store returns the underlying execution store.
func (m *Manager) Store() ports.ExecutionStore {
	return m.store
}

// WithLock executes fn while holding the lock for the execution.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"execution_id", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
