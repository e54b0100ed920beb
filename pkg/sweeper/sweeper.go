// Package sweeper periodically expires executions that have been waiting for
// input longer than their graph's session timeout.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

// Expirer is the part of the engine the sweeper drives.
type Expirer interface {
	// ExpireIdle expires waiting executions idle at now and reports how many
	// were moved to expired.
	ExpireIdle(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs ExpireIdle on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	expirer  Expirer
	schedule string
	logger   *slog.Logger
	clock    func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures the Sweeper.
type Option func(*Sweeper)

// WithSchedule sets the cron spec. Standard five-field expressions and
// descriptors such as "@every 30s" are accepted.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source passed to ExpireIdle.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a schedule the sweeper accepts:
// five cron fields or a descriptor such as "@every 1m".
func ValidateSchedule(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

// New creates a sweeper. The schedule is parsed eagerly so a bad spec fails
// at startup.
func New(expirer Expirer, opts ...Option) (*Sweeper, error) {
	s := &Sweeper{
		expirer:  expirer,
		schedule: DefaultSchedule,
		logger:   logging.NewNop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := parser.Parse(s.schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	return s, nil
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	started := s.clock()
	n, err := s.expirer.ExpireIdle(ctx, started)
	if err != nil {
		s.logger.Error("sweep failed", "err", err, "expired", n)
		return n, err
	}
	if n > 0 {
		s.logger.Info("expired idle executions", "expired", n)
	}
	return n, nil
}

// Start schedules sweeps until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger}), cron.Recover(cronLogger{s.logger})),
	)
	if _, err := c.AddFunc(s.schedule, func() {
		_, _ = s.RunOnce(runCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.cron, s.cancel = c, cancel
	c.Start()
	s.logger.Info("sweeper started", "schedule", s.schedule)

	go func() {
		<-runCtx.Done()
		s.stop(c)
	}()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.stop(nil)
}

// stop halts the running cron. When only is set, a different instance is left alone.
func (s *Sweeper) stop(only *cron.Cron) {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	if c == nil || (only != nil && c != only) {
		s.mu.Unlock()
		return
	}
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	s.logger.Info("sweeper stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
