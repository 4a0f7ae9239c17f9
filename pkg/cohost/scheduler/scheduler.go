// Package scheduler runs the bot's housekeeping jobs (dialogue pruning,
// speech cache trimming, log rotation) on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobNotFound is returned for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// JobFunc does one run of a job.
type JobFunc func(ctx context.Context) error

// Job is a registered housekeeping task.
type Job struct {
	// ID is the unique job name.
	ID string `json:"id"`

	// Schedule is a 5-field cron expression or a descriptor such as
	// "@hourly" or "@every 1m".
	Schedule string `json:"schedule"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	RunCount  int        `json:"run_count"`

	run JobFunc
}

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*Job
	cronIDs map[string]cron.EntryID

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		jobs:    make(map[string]*Job),
		cronIDs: make(map[string]cron.EntryID),
		logger:  logger.With("component", "scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a job. It may be called before or after Start.
func (s *Scheduler) Add(id, schedule string, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job %q already exists", id)
	}

	job := &Job{ID: id, Schedule: schedule, run: run}
	entryID, err := s.cron.AddFunc(schedule, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", schedule, id, err)
	}
	s.jobs[id] = job
	s.cronIDs[id] = entryID

	s.logger.Debug("job added", "id", id, "schedule", schedule)
	return nil
}

// List returns a snapshot of the registered jobs, sorted by ID.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	s.execute(job)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if job.LastError != "" {
		return fmt.Errorf("job %q: %s", id, job.LastError)
	}
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) execute(job *Job) {
	start := time.Now()
	err := job.run(s.ctx)

	s.mu.Lock()
	job.LastRunAt = &start
	job.RunCount++
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("job failed", "id", job.ID, "error", err)
		return
	}
	s.logger.Debug("job completed", "id", job.ID, "duration_ms", time.Since(start).Milliseconds())
}
