// Package scheduler runs the periodic reconciliation jobs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Report summarizes one job run.
type Report struct {
	Scanned int
	Changed int
	Failed  int
}

// JobFunc is one reconciliation pass as of now.
type JobFunc func(ctx context.Context, now time.Time) (Report, error)

type job struct {
	name string
	spec string
	run  JobFunc
}

// Scheduler owns named jobs and runs them on cron specs.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]job
	log     logrus.FieldLogger
	timeout time.Duration
	now     func() time.Time
	ctx     context.Context
}

// New returns a Scheduler. Each run is bounded by timeout.
func New(log logrus.FieldLogger, timeout time.Duration) *Scheduler {
	log = log.WithField("component", "scheduler")
	l := cronLogger{log}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)), cron.WithLogger(l)),
		jobs:    map[string]job{},
		log:     log,
		timeout: timeout,
		now:     time.Now,
		ctx:     context.Background(),
	}
}

// Register adds a job under name. spec is a standard five-field cron
// expression or a descriptor such as "@every 1m".
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.RunNow(s.runContext(), name) }); err != nil {
		return fmt.Errorf("job %q: invalid spec %q: %w", name, spec, err)
	}
	s.jobs[name] = job{name: name, spec: spec, run: fn}
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Names lists registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RunNow runs the named job once and logs its report.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Report, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return Report{}, fmt.Errorf("unknown job %q", name)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := s.now()
	rep, err := j.run(ctx, start.UTC())
	log := s.log.WithFields(logrus.Fields{
		"job":      name,
		"scanned":  rep.Scanned,
		"changed":  rep.Changed,
		"failed":   rep.Failed,
		"duration": time.Since(start).String(),
	})
	switch {
	case err != nil:
		log.WithError(err).Error("job failed")
	case rep.Changed > 0 || rep.Failed > 0:
		log.Info("job finished")
	default:
		log.Debug("job finished")
	}
	return rep, err
}

// Start runs the jobs in the background until ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.log.WithField("jobs", s.Names()).Info("scheduler started")
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct{ log logrus.FieldLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.WithFields(fields(kv)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.WithError(err).WithFields(fields(kv)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
