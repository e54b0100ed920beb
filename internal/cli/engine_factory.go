package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/pkg/adapters/cache"
	"github.com/aretw0/parley/pkg/adapters/channel"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/adapters/sqlite"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graphcheck"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
)

// Stack is an engine wired to the adapters selected by configuration,
// together with the resources it owns.
type Stack struct {
	Engine  *parley.Engine
	Graphs  *file.GraphStore
	Cache   *cache.GraphStore
	Store   ports.ExecutionStore
	Metrics *observability.Metrics
	Logger  *slog.Logger

	archive *archivedGraphs
	closers []func() error
}

// Close releases every backend connection, newest first.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// WatchGraphs hot-reloads the graph directory until ctx is done. Cached
// definitions are dropped after every successful reload, and new versions
// are archived when the SQLite backend is in use.
func (s *Stack) WatchGraphs(ctx context.Context) error {
	return s.Graphs.Watch(ctx, file.DefaultDebounce, func(err error) {
		if err != nil {
			s.Logger.Warn("graph reload failed, keeping previous set", "err", err)
			return
		}
		if s.archive != nil {
			if _, err := s.archive.sync(ctx); err != nil {
				s.Logger.Warn("graph archive failed", "err", err)
			}
		}
		s.Cache.Flush()
		s.Logger.Info("graphs reloaded")
	})
}

// BuildStack creates the engine described by cfg. Callers must Close the
// returned stack.
func BuildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	graphs, err := file.NewGraphStore(cfg.GraphsDir, file.WithCheck(graphcheck.Validate))
	if err != nil {
		return nil, fmt.Errorf("error loading graphs: %w", err)
	}

	stack := &Stack{
		Graphs:  graphs,
		Metrics: observability.NewMetrics(),
		Logger:  logger,
	}
	var source ports.GraphStore = graphs

	opts := []parley.Option{
		parley.WithLogger(logger),
		parley.WithLifecycleHooks(observability.Combine(stack.Metrics.Hooks(), observability.LogHooks(logger))),
		parley.WithTriggerObserver(stack.Metrics.ObserveTrigger),
		parley.WithMaxSteps(cfg.MaxSteps),
		parley.WithExternalTimeout(cfg.ExternalTimeout),
		parley.WithTypingDelay(cfg.TypingDelay),
		parley.WithLockTTL(cfg.LockTTL),
		parley.WithDefaultSessionTimeout(cfg.SessionTimeout),
	}

	switch cfg.Store {
	case config.StoreRedis:
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		stack.closers = append(stack.closers, store.Close)
		if err := store.Client().Ping(ctx).Err(); err != nil {
			_ = stack.Close()
			return nil, fmt.Errorf("error connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		client := store.Client()
		stack.Store = store
		opts = append(opts,
			parley.WithLocker(redis.NewLocker(client, cfg.Redis.Prefix)),
			parley.WithTagStore(redis.NewTagStore(client, cfg.Redis.Prefix)),
			parley.WithConversationStore(redis.NewConversationStore(client, cfg.Redis.Prefix)),
		)

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("error opening sqlite at %s: %w", cfg.SQLitePath, err)
		}
		stack.closers = append(stack.closers, db.Close)
		store, err := sqlite.NewStore(db)
		if err != nil {
			_ = stack.Close()
			return nil, err
		}
		archive, err := sqlite.NewGraphStore(db)
		if err != nil {
			_ = stack.Close()
			return nil, err
		}
		stack.archive = &archivedGraphs{disk: graphs, archive: archive}
		added, err := stack.archive.sync(ctx)
		switch {
		case errors.Is(err, domain.ErrGraphVersionChanged):
			logger.Warn("graph edited without a version bump, serving the archived copy", "err", err)
		case err != nil:
			_ = stack.Close()
			return nil, fmt.Errorf("error archiving graphs: %w", err)
		}
		logger.Debug("graphs archived", "added", added)
		source = stack.archive
		stack.Store = store
		opts = append(opts, memoryCRM()...)

	default:
		stack.Store = memory.NewStore()
		opts = append(opts, memoryCRM()...)
	}

	enc, err := cfg.Encryption()
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	if enc != nil {
		mw, err := middleware.NewEncryptionMiddleware(*enc)
		if err != nil {
			_ = stack.Close()
			return nil, err
		}
		stack.Store = mw(stack.Store)
	}

	stack.Cache = cache.NewGraphStore(source, cfg.GraphCacheTTL)

	var outbound ports.MessagingChannel = channel.NewLog(logger)
	if cfg.OutboundURL != "" {
		outbound = channel.NewHTTP(cfg.OutboundURL, channel.WithClient(&http.Client{Timeout: cfg.ExternalTimeout}))
	}

	stack.Engine = parley.New(stack.Store, stack.Cache, outbound, opts...)
	logger.Info("engine ready",
		"store", cfg.Store,
		"graphs_dir", cfg.GraphsDir,
		"outbound", outboundKind(cfg.OutboundURL),
		"encrypted", enc != nil)
	return stack, nil
}

// memoryCRM keeps tags and handoff flags in process for backends without a
// CRM side.
func memoryCRM() []parley.Option {
	return []parley.Option{
		parley.WithTagStore(memory.NewTagStore()),
		parley.WithConversationStore(memory.NewConversationStore()),
	}
}

func outboundKind(url string) string {
	if url == "" {
		return "log"
	}
	return "http"
}
