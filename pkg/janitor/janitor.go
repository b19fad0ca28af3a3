// Package janitor runs the periodic maintenance of the analytics engine:
// retention eviction and affinity graph rebuilds.
//
// Jobs are scheduled with cron expressions (including descriptors such as
// "@hourly" and "@every 30m") evaluated against an injectable clock, so
// tests drive schedules with a fake clock instead of waiting on wall time.
// Each job runs on its own goroutine; a job never overlaps with itself.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/decisionlens/pkg/observability"
)

var (
	// ErrInvalidSchedule is returned for unparsable cron specs.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrDuplicateJob is returned when a job name is registered twice.
	ErrDuplicateJob = errors.New("duplicate job")
	// ErrUnknownJob is returned by RunNow for unregistered names.
	ErrUnknownJob = errors.New("unknown job")
	// ErrAlreadyRunning is returned by Start and AddJob after Start.
	ErrAlreadyRunning = errors.New("janitor already running")
	// ErrNotRunning is reported by Healthy before Start or after Stop.
	ErrNotRunning = errors.New("janitor not running")
)

// JobFunc performs one maintenance pass and reports how many items it touched.
type JobFunc func(ctx context.Context) (int, error)

// JobStatus describes a registered job.
type JobStatus struct {
	Name      string
	Schedule  string
	Runs      int
	LastRun   time.Time
	LastCount int
	LastError string
	NextRun   time.Time
}

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	fn       JobFunc

	// runMu serializes runs; mu guards the status fields below.
	runMu sync.Mutex

	mu        sync.Mutex
	runs      int
	lastRun   time.Time
	lastCount int
	lastErr   error
	nextRun   time.Time
}

// Janitor schedules and runs maintenance jobs.
type Janitor struct {
	clock   clockwork.Clock
	log     *logrus.Entry
	metrics *observability.Metrics

	mu      sync.Mutex
	jobs    map[string]*job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithClock sets the clock used for scheduling.
func WithClock(c clockwork.Clock) Option {
	return func(j *Janitor) { j.clock = c }
}

// WithLogger sets the log entry.
func WithLogger(log *logrus.Entry) Option {
	return func(j *Janitor) { j.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(j *Janitor) { j.metrics = m }
}

// New creates a janitor with no jobs.
func New(opts ...Option) *Janitor {
	j := &Janitor{
		clock: clockwork.NewRealClock(),
		log:   observability.Discard(),
		jobs:  make(map[string]*job),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// ParseSchedule parses a standard five-field cron spec or a descriptor.
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, spec, err)
	}
	return schedule, nil
}

// AddJob registers a job. Jobs must be added before Start.
func (j *Janitor) AddJob(name, spec string, fn JobFunc) error {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return ErrAlreadyRunning
	}
	if _, exists := j.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	j.jobs[name] = &job{name: name, spec: spec, schedule: schedule, fn: fn}
	return nil
}

// Start launches one scheduling loop per job. The loops stop when ctx is
// cancelled or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.running = true

	for _, jb := range j.jobs {
		j.wg.Add(1)
		go j.loop(ctx, jb)
	}

	j.log.WithField("jobs", len(j.jobs)).Info("Janitor started")
	return nil
}

// Stop cancels every loop and waits for in-flight runs to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	cancel := j.cancel
	j.mu.Unlock()

	cancel()
	j.wg.Wait()
	j.log.Info("Janitor stopped")
}

// Healthy reports whether the scheduling loops are running.
func (j *Janitor) Healthy(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return ErrNotRunning
	}
	return nil
}

// RunNow runs the named job immediately on the caller's goroutine.
func (j *Janitor) RunNow(ctx context.Context, name string) (int, error) {
	j.mu.Lock()
	jb, ok := j.jobs[name]
	j.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j.run(ctx, jb)
}

// Status returns the state of every job sorted by name.
func (j *Janitor) Status() []JobStatus {
	j.mu.Lock()
	jobs := make([]*job, 0, len(j.jobs))
	for _, jb := range j.jobs {
		jobs = append(jobs, jb)
	}
	j.mu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, jb := range jobs {
		jb.mu.Lock()
		st := JobStatus{
			Name:      jb.name,
			Schedule:  jb.spec,
			Runs:      jb.runs,
			LastRun:   jb.lastRun,
			LastCount: jb.lastCount,
			NextRun:   jb.nextRun,
		}
		if jb.lastErr != nil {
			st.LastError = jb.lastErr.Error()
		}
		jb.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (j *Janitor) loop(ctx context.Context, jb *job) {
	defer j.wg.Done()

	for {
		now := j.clock.Now()
		next := jb.schedule.Next(now)
		jb.mu.Lock()
		jb.nextRun = next
		jb.mu.Unlock()

		timer := j.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
			j.run(ctx, jb)
		}
	}
}

func (j *Janitor) run(ctx context.Context, jb *job) (count int, err error) {
	jb.runMu.Lock()
	defer jb.runMu.Unlock()

	log := j.log.WithField("job", jb.name)
	start := j.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			err = observability.MustRecover(r)
			log.WithField("panic", r).Error("Janitor job panicked")
		}
		jb.mu.Lock()
		jb.runs++
		jb.lastRun = start
		jb.lastCount = count
		jb.lastErr = err
		jb.mu.Unlock()
		j.metrics.RecordJanitorRun(jb.name, j.clock.Since(start), err)

		if err != nil {
			log.WithError(err).Warn("Janitor job failed")
		} else {
			log.WithField("items", count).Info("Janitor job finished")
		}
	}()

	return jb.fn(ctx)
}
