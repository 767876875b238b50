package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrJobNotFound is returned for an unknown job name.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobRunning is returned by RunNow while the job is already running.
	ErrJobRunning = errors.New("job is already running")

	// ErrDuplicateJob is returned when a job name is registered twice.
	ErrDuplicateJob = errors.New("job already registered")
)

// DefaultJobTimeout bounds a job run when no timeout is given.
const DefaultJobTimeout = 5 * time.Minute

// Job is a background task. Jobs talk to the rest of the system only
// through shared stores, so they can run on any schedule.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a function to a Job.
func Func(name string, fn func(ctx context.Context) error) Job {
	return funcJob{name: name, fn: fn}
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcJob) Name() string                  { return f.name }
func (f funcJob) Run(ctx context.Context) error { return f.fn(ctx) }

// JobStatus describes a registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Paused    bool      `json:"paused"`
	Running   bool      `json:"running"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

type entry struct {
	job      Job
	schedule string
	timeout  time.Duration
	id       cron.EntryID

	paused   atomic.Bool
	running  atomic.Bool
	runs     atomic.Int64
	failures atomic.Int64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

// Scheduler runs jobs on cron schedules. Failed runs are logged and counted
// and the job runs again at its next scheduled time.
type Scheduler struct {
	cron    *cron.Cron
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New creates a scheduler.
func New(metrics *Metrics) *Scheduler {
	logger := slog.Default().With("component", "scheduler")
	adapter := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		metrics: metrics,
		logger:  logger,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a job. Standard five-field cron expressions and descriptors
// such as "@every 5m" are accepted. An empty schedule registers the job for
// RunNow only.
//
// Common schedules:
//   - "0 3 * * *"   daily at 3 AM
//   - "*/15 * * * *" every 15 minutes
//   - "@hourly"      every hour
func (s *Scheduler) Add(job Job, schedule string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	e := &entry{job: job, schedule: schedule, timeout: timeout}
	if schedule != "" {
		sched, err := cron.ParseStandard(schedule)
		if err != nil {
			return fmt.Errorf("invalid cron schedule %q for job %s: %w", schedule, name, err)
		}
		e.id = s.cron.Schedule(sched, cron.FuncJob(func() {
			if e.paused.Load() {
				s.logger.Debug("skipping paused job", "job", name)
				return
			}
			if err := s.run(s.ctx, e); errors.Is(err, ErrJobRunning) {
				s.logger.Info("skipping job still running", "job", name)
			}
		}))
	} else {
		s.logger.Info("job has no schedule, manual runs only", "job", name)
	}
	s.entries[name] = e
	return nil
}

// Start starts the scheduler. It stops when ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.cron.Start()
	s.running = true
	s.stopped = make(chan struct{})
	stopped := s.stopped
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopped:
		}
	}()

	s.logger.Info("scheduler started", "jobs", len(s.entries))
}

// Stop stops scheduling, cancels running jobs and waits for them to return.
// A stopped scheduler cannot be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopped)
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pause suspends scheduled runs of a job.
func (s *Scheduler) Pause(name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	e.paused.Store(true)
	s.logger.Info("job paused", "job", name)
	return nil
}

// Resume re-enables scheduled runs of a job.
func (s *Scheduler) Resume(name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	e.paused.Store(false)
	s.logger.Info("job resumed", "job", name)
	return nil
}

// RunNow runs a job synchronously, paused or not, and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	return s.run(ctx, e)
}

// NextRun returns the next scheduled run of a job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	e, err := s.entry(name)
	if err != nil || e.id == 0 {
		return time.Time{}, false
	}
	next := s.cron.Entry(e.id).Next
	return next, !next.IsZero()
}

// Status returns every job's status sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := JobStatus{
			Name:      e.job.Name(),
			Schedule:  e.schedule,
			Paused:    e.paused.Load(),
			Running:   e.running.Load(),
			Runs:      e.runs.Load(),
			Failures:  e.failures.Load(),
			LastRun:   e.lastRun,
			LastError: e.lastErr,
		}
		e.mu.Unlock()
		if next, ok := s.NextRun(st.Name); ok {
			st.NextRun = next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) entry(name string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return e, nil
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	defer e.running.Store(false)

	name := e.job.Name()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := e.job.Run(ctx)
	elapsed := time.Since(start)

	e.runs.Add(1)
	e.mu.Lock()
	e.lastRun = start
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.mu.Unlock()

	if err != nil {
		e.failures.Add(1)
		s.metrics.record(name, false, elapsed)
		s.logger.Error("job failed", "job", name, "duration", elapsed, "error", err)
		return err
	}
	s.metrics.record(name, true, elapsed)
	s.logger.Debug("job completed", "job", name, "duration", elapsed)
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
