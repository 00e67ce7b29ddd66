package process

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Status represents the current state of a loop.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// defaultInterval applies when Config.Interval is unset.
const defaultInterval = time.Minute

// ErrAlreadyRunning is returned when Run is called on a running loop.
var ErrAlreadyRunning = errors.New("process: loop already running")

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Config holds configuration for a Loop.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Interval is the time between the start of consecutive runs.
	Interval time.Duration

	// Timeout bounds a single run. 0 means the run only ends with the
	// loop context.
	Timeout time.Duration

	// SkipInitialRun delays the first run by one interval instead of
	// running immediately.
	SkipInitialRun bool

	// OnError is called after a run fails or panics.
	OnError func(err error)
}

// Logger defines the logging interface for loops.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Loop runs a Job periodically.
type Loop struct {
	config Config
	job    Job
	logger Logger

	mu           sync.RWMutex
	status       Status
	runs         int
	failures     int
	panics       int
	lastError    error
	lastRun      time.Time
	lastDuration time.Duration
	startTime    time.Time
}

// NewLoop creates a Loop for job.
func NewLoop(cfg Config, job Job) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Loop{
		config: cfg,
		job:    job,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the loop.
func (l *Loop) SetLogger(logger Logger) {
	l.logger = logger
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.config.Name
}

// Run executes the job every interval until ctx is cancelled. It returns
// nil on cancellation so an errgroup is not torn down by a clean shutdown.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.status == StatusRunning {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, l.config.Name)
	}
	l.status = StatusRunning
	l.startTime = time.Now()
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.status = StatusStopped
		l.mu.Unlock()
	}()

	l.logger.Info("loop started", "name", l.config.Name, "interval", l.config.Interval)

	if !l.config.SkipInitialRun {
		l.RunOnce(ctx)
	}

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("loop stopped", "name", l.config.Name)
			return nil
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce executes the job a single time, recovering panics. It reports
// the run's error, if any.
func (l *Loop) RunOnce(ctx context.Context) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	runCtx := ctx
	if l.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	panicked := false

	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			err = fmt.Errorf("panic in %s: %v", l.config.Name, rec)
			l.logger.Error("loop run panicked",
				"name", l.config.Name,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		l.finish(ctx, start, err, panicked)
	}()

	return l.job(runCtx)
}

// finish records the outcome of one run.
func (l *Loop) finish(ctx context.Context, start time.Time, err error, panicked bool) {
	took := time.Since(start)

	// A run cut short by shutdown is not a failure.
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}

	l.mu.Lock()
	l.runs++
	l.lastRun = start
	l.lastDuration = took
	l.lastError = err
	if err != nil {
		l.failures++
	}
	if panicked {
		l.panics++
	}
	l.mu.Unlock()

	if err == nil {
		l.logger.Debug("loop run complete", "name", l.config.Name, "duration", took)
		return
	}
	if !panicked {
		l.logger.Warn("loop run failed",
			"name", l.config.Name,
			"error", err,
			"duration", took,
		)
	}
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}

// Status returns the current status of the loop.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// IsRunning returns true if the loop is currently running.
func (l *Loop) IsRunning() bool {
	return l.Status() == StatusRunning
}

// LastError returns the error of the most recent run.
func (l *Loop) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastError
}

// Stats holds statistics about a loop.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	Interval     time.Duration `json:"interval"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	Panics       int           `json:"panics"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the loop.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		Name:         l.config.Name,
		Status:       l.status,
		Interval:     l.config.Interval,
		Runs:         l.runs,
		Failures:     l.failures,
		Panics:       l.panics,
		LastDuration: l.lastDuration,
	}

	if l.status == StatusRunning {
		stats.Uptime = time.Since(l.startTime)
	}
	if !l.lastRun.IsZero() {
		last := l.lastRun
		stats.LastRun = &last
	}
	if l.lastError != nil {
		stats.LastError = l.lastError.Error()
	}

	return stats
}
