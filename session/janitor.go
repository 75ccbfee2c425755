package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	wizard "github.com/goliatone/go-wizard"
)

// DefaultSweepSchedule runs the sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Janitor periodically closes idle sessions on a cron schedule.
type Janitor struct {
	mu       sync.Mutex
	manager  *Manager
	cron     *rcron.Cron
	entryID  rcron.EntryID
	schedule string
	idle     time.Duration
	timeout  time.Duration
	logger   wizard.Logger
	onSweep  func([]string, error)
	running  bool
}

// JanitorOption customizes a Janitor.
type JanitorOption func(*Janitor)

// WithSchedule sets the cron expression. Descriptors such as "@every 1m" work.
func WithSchedule(expr string) JanitorOption {
	return func(j *Janitor) {
		if expr != "" {
			j.schedule = expr
		}
	}
}

// WithSweepTimeout bounds a single sweep run.
func WithSweepTimeout(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithSweepHook is called after every run with the closed ids and any error.
func WithSweepHook(fn func(closed []string, err error)) JanitorOption {
	return func(j *Janitor) {
		j.onSweep = fn
	}
}

// NewJanitor schedules Manager.Sweep(idle). The schedule is validated here so
// a bad expression fails at construction.
func NewJanitor(manager *Manager, idle time.Duration, opts ...JanitorOption) (*Janitor, error) {
	if manager == nil {
		return nil, fmt.Errorf("janitor requires a session manager")
	}
	if idle <= 0 {
		return nil, fmt.Errorf("janitor requires a positive idle duration")
	}
	j := &Janitor{
		manager:  manager,
		schedule: DefaultSweepSchedule,
		idle:     idle,
		timeout:  time.Minute,
		logger:   manager.logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}

	j.cron = rcron.New(
		rcron.WithChain(
			rcron.Recover(&cronLogger{logger: j.logger}),
			rcron.SkipIfStillRunning(&cronLogger{logger: j.logger}),
		),
		rcron.WithLogger(&cronLogger{logger: j.logger}),
	)
	entryID, err := j.cron.AddFunc(j.schedule, j.run)
	if err != nil {
		return nil, fmt.Errorf("failed to add sweep job: %w", err)
	}
	j.entryID = entryID
	return j, nil
}

// Start begins executing sweeps in the background.
func (j *Janitor) Start(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	j.cron.Start()
	j.running = true
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep or ctx, whichever
// finishes first.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow performs a sweep synchronously.
func (j *Janitor) RunNow(ctx context.Context) ([]string, error) {
	closed, err := j.manager.Sweep(ctx, j.idle)
	if err != nil {
		j.logger.Error("session sweep failed: %v", err)
	}
	if j.onSweep != nil {
		j.onSweep(closed, err)
	}
	return closed, err
}

// Next reports when the next sweep is scheduled. Zero when not running.
func (j *Janitor) Next() time.Time {
	return j.cron.Entry(j.entryID).Next
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, _ = j.RunNow(ctx)
}

// cronLogger adapts the wizard logger to robfig/cron's logger.
type cronLogger struct {
	logger wizard.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
