// Package scheduler runs the memory maintenance jobs (re-sync, cache
// pruning, session warming) on cron schedules. Uses robfig/cron for
// expression parsing and execution; job run state is persisted so it
// survives restarts.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run when the job sets no timeout.
const DefaultJobTimeout = 10 * time.Minute

// minJobInterval is the minimum time between consecutive executions of the
// same job. Prevents a spin loop when cron fires twice within one second.
const minJobInterval = 2 * time.Second

// Scheduler manages maintenance jobs using cron expressions.
type Scheduler struct {
	jobs map[string]*Job

	cron    *cron.Cron
	cronIDs map[string]cron.EntryID

	// runningJobs prevents overlapping runs of the same job.
	runningJobs map[string]bool

	storage    JobStorage
	handler    JobHandler
	jobTimeout time.Duration
	stagger    bool

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Job is one scheduled maintenance command.
type Job struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule"`
	Command  string `json:"command"`

	// TimeoutSeconds overrides the scheduler's job timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// Exact disables the top-of-hour stagger.
	Exact bool `json:"exact,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// LastRunAt is when the current or most recent run started.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// PreviousRunAt is the start of the run before LastRunAt. Handlers use
	// it to process only what changed since the previous run.
	PreviousRunAt *time.Time `json:"previous_run_at,omitempty"`

	LastError       string        `json:"last_error,omitempty"`
	LastResult      string        `json:"last_result,omitempty"`
	RunCount        int           `json:"run_count"`
	LastRunDuration time.Duration `json:"last_run_duration,omitempty"`
}

// JobHandler executes a job and returns a short result summary.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// JobStorage persists job run state.
type JobStorage interface {
	Save(ctx context.Context, job *Job) error
	Load(ctx context.Context, id string) (*Job, bool, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStorage persists run state between restarts.
func WithStorage(st JobStorage) Option {
	return func(s *Scheduler) { s.storage = st }
}

// WithJobTimeout sets the default per-run timeout.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithStagger toggles the deterministic delay applied to top-of-hour
// schedules (on by default).
func WithStagger(enabled bool) Option {
	return func(s *Scheduler) { s.stagger = enabled }
}

// New creates a Scheduler that dispatches every job to handler.
func New(handler JobHandler, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		jobs:        make(map[string]*Job),
		cronIDs:     make(map[string]cron.EntryID),
		runningJobs: make(map[string]bool),
		handler:     handler,
		jobTimeout:  DefaultJobTimeout,
		stagger:     true,
		logger:      logger.With("component", "scheduler"),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newParser accepts standard 5-field expressions and descriptors such as
// @daily and @every 30m.
func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateSchedule reports whether spec is a schedule the scheduler accepts.
func ValidateSchedule(spec string) error {
	_, err := newParser().Parse(spec)
	return err
}

// Add registers a job. A missing ID is generated and the schedule is
// normalized with NormalizeSchedule.
func (s *Scheduler) Add(job *Job) error {
	if job.Schedule == "" {
		return fmt.Errorf("job schedule is required")
	}
	spec, err := NormalizeSchedule(job.Schedule)
	if err != nil {
		return err
	}
	job.Schedule = spec
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	s.restoreState(job)

	if s.cron != nil {
		if err := s.scheduleCronJob(job); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
		}
	}
	s.jobs[job.ID] = job

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule, "command", job.Command)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("job %q not found", jobID)
	}
	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)

	s.logger.Info("job removed", "id", jobID)
	return nil
}

// List returns a snapshot of the registered jobs sorted by ID.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, *j)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result
}

// Get returns a copy of a job by ID.
func (s *Scheduler) Get(jobID string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Start schedules every registered job and starts cron.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(newParser()))
	for _, job := range s.jobs {
		if err := s.scheduleCronJob(job); err != nil {
			s.logger.Warn("skipping job with invalid schedule",
				"id", job.ID, "schedule", job.Schedule, "error", err)
		}
	}
	jobCount := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", jobCount, "cron_entries", len(s.cron.Entries()))
	return nil
}

// Stop stops cron and waits for running jobs, up to 10 seconds.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	c, cancel := s.cron, s.cancel
	s.mu.RUnlock()

	if c != nil {
		done := c.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, bypassing stagger and the spin-loop
// guard. It returns the handler's result.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) (string, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("job %q not found", jobID)
	}
	return s.executeJob(ctx, job, false)
}

// NextRun returns the next scheduled time of a job, when cron is running.
func (s *Scheduler) NextRun(jobID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.cronIDs[jobID]
	if !ok || s.cron == nil {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// ToJSON serializes a job for CLI output.
func (j Job) ToJSON() string {
	b, _ := json.MarshalIndent(j, "", "  ")
	return string(b)
}

// ---------- Internal ----------

// scheduleCronJob registers a job with cron. Caller holds s.mu.
func (s *Scheduler) scheduleCronJob(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		_, _ = s.executeJob(s.ctx, job, true)
	})
	if err != nil {
		return err
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// restoreState copies persisted run state into job. Caller holds s.mu.
func (s *Scheduler) restoreState(job *Job) {
	if s.storage == nil {
		return
	}
	saved, ok, err := s.storage.Load(s.baseContext(), job.ID)
	if err != nil {
		s.logger.Warn("failed to load job state", "id", job.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	job.LastRunAt = saved.LastRunAt
	job.PreviousRunAt = saved.PreviousRunAt
	job.RunCount = saved.RunCount
	job.LastError = saved.LastError
	job.LastResult = saved.LastResult
	job.LastRunDuration = saved.LastRunDuration
}

// baseContext is the scheduler's run context, or Background before Start.
func (s *Scheduler) baseContext() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *Scheduler) persist(job *Job) {
	if s.storage == nil {
		return
	}
	s.mu.RLock()
	snapshot := *job
	ctx := context.WithoutCancel(s.baseContext())
	s.mu.RUnlock()
	if err := s.storage.Save(ctx, &snapshot); err != nil {
		s.logger.Error("failed to persist job state", "id", job.ID, "error", err)
	}
}

// executeJob runs a job through the handler with safety guards:
//   - a per-job running flag prevents overlapping runs
//   - fromCron runs skip when the job ran less than minJobInterval ago
//   - panics are recovered and recorded as the job's last error
//   - each run is bounded by the job timeout
func (s *Scheduler) executeJob(ctx context.Context, job *Job, fromCron bool) (result string, err error) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return "", fmt.Errorf("job %q is already running", job.ID)
	}
	if fromCron && job.LastRunAt != nil && time.Since(*job.LastRunAt) < minJobInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping job (spin loop guard, ran too recently)", "id", job.ID)
		return "", nil
	}
	s.runningJobs[job.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			job.LastError = err.Error()
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}
		s.mu.Unlock()
		s.persist(job)
	}()

	if fromCron && s.stagger && !job.Exact {
		if d := resolveStagger(job); d > 0 {
			s.logger.Debug("applying stagger delay", "id", job.ID, "stagger", d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	s.mu.Lock()
	now := time.Now()
	job.PreviousRunAt = job.LastRunAt
	job.LastRunAt = &now
	job.RunCount++
	timeout := s.jobTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	s.mu.Unlock()

	if s.handler == nil {
		return "", fmt.Errorf("no handler configured")
	}

	s.logger.Info("executing scheduled job", "id", job.ID, "command", job.Command)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runStart := time.Now()
	result, err = s.handler(runCtx, job)
	duration := time.Since(runStart)

	s.mu.Lock()
	job.LastRunDuration = duration
	job.LastResult = result
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err, "duration", duration)
	} else {
		s.logger.Info("scheduled job completed", "id", job.ID, "result", result, "duration", duration)
	}
	return result, err
}

// resolveStagger derives a deterministic delay of up to 5 minutes from the
// job ID for top-of-hour schedules, so co-scheduled jobs do not fire together.
func resolveStagger(job *Job) time.Duration {
	if !isTopOfHourSchedule(job.Schedule) {
		return 0
	}
	return resolveStableCronOffset(job.ID, 5*time.Minute)
}

func resolveStableCronOffset(jobID string, maxStagger time.Duration) time.Duration {
	h := sha256.Sum256([]byte(jobID))
	n := binary.BigEndian.Uint32(h[:4])
	ms := int64(n) % maxStagger.Milliseconds()
	return time.Duration(ms) * time.Millisecond
}

// isTopOfHourSchedule detects schedules that fire at minute zero
// (e.g. "0 * * * *", "@hourly", "@daily").
func isTopOfHourSchedule(schedule string) bool {
	s := strings.TrimSpace(strings.ToLower(schedule))
	switch s {
	case "@hourly", "@daily", "@midnight", "@weekly", "@monthly", "@yearly", "@annually":
		return true
	}
	fields := strings.Fields(s)
	return len(fields) >= 5 && fields[0] == "0"
}
