package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/bytedance/sonic"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "parley:"

// Store implements ports.ExecutionStore using Redis.
//
// Each execution is a JSON document under <prefix>exec:<id>. A set per status
// indexes the IDs for ListByStatus. Save runs inside WATCH/MULTI so the
// revision check and the write are atomic.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithTTL sets the expiration of executions that reached a terminal status.
// Active executions never expire.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client so lockers and CRM stores can share it.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(executionID string) string {
	return s.prefix + "exec:" + executionID
}

func (s *Store) statusKey(status domain.ExecutionStatus) string {
	return s.prefix + "status:" + string(status)
}

// Save persists exec if its revision matches the stored one.
func (s *Store) Save(ctx context.Context, exec *domain.Execution) error {
	key := s.key(exec.ID)
	next := exec.Revision + 1

	txf := func(tx *backend.Tx) error {
		current, err := s.read(ctx, tx, key)
		var (
			revision   int64
			prevStatus domain.ExecutionStatus
		)
		switch {
		case errors.Is(err, domain.ErrExecutionNotFound):
		case err != nil:
			return err
		default:
			revision = current.Revision
			prevStatus = current.Status
		}
		if revision != exec.Revision {
			return domain.ErrConflict
		}

		stored := *exec
		stored.Revision = next
		data, err := sonic.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("failed to marshal execution: %w", err)
		}

		var ttl time.Duration
		if exec.Status.IsTerminal() {
			ttl = s.ttl
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			if prevStatus != "" && prevStatus != exec.Status {
				pipe.SRem(ctx, s.statusKey(prevStatus), exec.ID)
			}
			pipe.SAdd(ctx, s.statusKey(exec.Status), exec.ID)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		exec.Revision = next
		return nil
	case errors.Is(err, backend.TxFailedErr):
		// Someone wrote the key between WATCH and EXEC.
		return domain.ErrConflict
	case errors.Is(err, domain.ErrConflict):
		return err
	default:
		return fmt.Errorf("failed to save to redis: %w", err)
	}
}

// Load retrieves the execution from Redis.
func (s *Store) Load(ctx context.Context, executionID string) (*domain.Execution, error) {
	return s.read(ctx, s.client, s.key(executionID))
}

func (s *Store) read(ctx context.Context, c backend.Cmdable, key string) (*domain.Execution, error) {
	val, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var exec domain.Execution
	if err := sonic.Unmarshal(val, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	if exec.SessionVariables == nil {
		exec.SessionVariables = map[string]any{}
	}
	return &exec, nil
}

// ListByStatus returns the IDs indexed under status. IDs whose record has
// expired are pruned from the index on the way.
func (s *Store) ListByStatus(ctx context.Context, status domain.ExecutionStatus) ([]string, error) {
	setKey := s.statusKey(status)
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*backend.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check executions: %w", err)
	}

	live := make([]string, 0, len(ids))
	var stale []any
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired executions: %w", err)
		}
	}
	sort.Strings(live)
	return live, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
