package domain

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateJob is returned by Submit when the origin is already
	// registered.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrMissingOrigin is returned by Submit when no origin is given.
	ErrMissingOrigin = errors.New("job has no origin")
	// ErrJobNotFound is returned when an operation names an unknown origin.
	ErrJobNotFound = errors.New("job not found")
)

// Defaults for SchedulerParams.
const (
	DefaultMaxConcurrent = 5
	DefaultMaxRetry      = 3
)

// SubmitSpec describes a new job request.
type SubmitSpec struct {
	Origin   string
	Options  Options
	Priority int
}

// SchedulerParams configures a Scheduler.
type SchedulerParams struct {
	Store      Store
	Downloader Downloader
	// MaxConcurrent bounds the running set; 0 selects DefaultMaxConcurrent.
	MaxConcurrent int
	// MaxRetry bounds automatic requeue of failed jobs; 0 selects
	// DefaultMaxRetry.
	MaxRetry int
	// DefaultPriority is assigned to submissions that don't carry one;
	// 0 selects the package default.
	DefaultPriority int
	// RunContext is the long-lived context workers run under; cancelling it
	// signals the Downloader on daemon shutdown. Defaults to
	// context.Background().
	RunContext context.Context
}

// Scheduler owns the job registry, the pending queue and the running set, and
// reconciles them against the store once per tick. It is single-owner state:
// all mutating methods must be called from one goroutine (the control loop);
// only each job's progress fields are shared with its worker, behind the
// job's own lock.
type Scheduler struct {
	store      Store
	downloader Downloader
	runCtx     context.Context

	maxConcurrent   int
	maxRetry        int
	defaultPriority int

	registry map[string]*Job
	order    []string
	pending  *OrderedWorkQueue
	running  []*Job
}

// NewScheduler creates a Scheduler from params.
func NewScheduler(params SchedulerParams) *Scheduler {
	if params.MaxConcurrent <= 0 {
		params.MaxConcurrent = DefaultMaxConcurrent
	}
	if params.MaxRetry <= 0 {
		params.MaxRetry = DefaultMaxRetry
	}
	if params.DefaultPriority <= 0 {
		params.DefaultPriority = DefaultPriority
	}
	if params.RunContext == nil {
		params.RunContext = context.Background()
	}
	return &Scheduler{
		store:           params.Store,
		downloader:      params.Downloader,
		runCtx:          params.RunContext,
		maxConcurrent:   params.MaxConcurrent,
		maxRetry:        params.MaxRetry,
		defaultPriority: params.DefaultPriority,
		registry:        make(map[string]*Job),
		pending:         NewOrderedWorkQueue(),
	}
}

// Submit creates a job, writes its initial row and enqueues it pending.
// Duplicate or empty origins are rejected with no state change.
func (s *Scheduler) Submit(ctx context.Context, spec SubmitSpec) (*Job, error) {
	if spec.Origin == "" {
		return nil, ErrMissingOrigin
	}
	if _, ok := s.registry[spec.Origin]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, spec.Origin)
	}

	priority := spec.Priority
	if priority <= 0 {
		priority = s.defaultPriority
	}
	job := NewJob(spec.Origin, spec.Options, priority)
	if err := s.store.InsertRow(ctx, job.SnapshotForPersistence()); err != nil {
		return nil, fmt.Errorf("insert job row: %w", err)
	}
	s.register(job)
	s.enqueue(ctx, job)
	return job, nil
}

func (s *Scheduler) register(job *Job) {
	s.registry[job.Origin] = job
	s.order = append(s.order, job.Origin)
}

// Enqueue is the manual requeue path: a negative outcome is reset to zero,
// starting a fresh retry budget, before the job joins the pending queue.
// No-op when the job is already pending.
func (s *Scheduler) Enqueue(ctx context.Context, origin string) error {
	job, ok := s.registry[origin]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, origin)
	}
	s.enqueue(ctx, job)
	return nil
}

func (s *Scheduler) enqueue(ctx context.Context, job *Job) {
	if job.Outcome() < 0 {
		job.setOutcome(0)
	}
	if s.pending.Contains(job) {
		return
	}
	s.pending.Push(job, job.Priority)
	s.Reconcile(ctx)
}

// Cancel removes the named jobs from pending and running bookkeeping. An
// already-started worker is not terminated; it runs to completion unobserved.
// An unknown origin is caller misuse: ErrJobNotFound is returned and no state
// changes.
func (s *Scheduler) Cancel(origins ...string) error {
	jobs := make([]*Job, 0, len(origins))
	for _, origin := range origins {
		job, ok := s.registry[origin]
		if !ok {
			return fmt.Errorf("%w: %s", ErrJobNotFound, origin)
		}
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		s.pending.Remove(job)
		s.dropRunning(job)
	}
	return nil
}

func (s *Scheduler) dropRunning(job *Job) {
	for i, r := range s.running {
		if r == job {
			s.running = append(s.running[:i], s.running[i+1:]...)
			return
		}
	}
}

// Remove cancels the named jobs, drops them from the registry and deletes
// their store rows. An unknown origin returns ErrJobNotFound with no state
// change.
func (s *Scheduler) Remove(ctx context.Context, origins ...string) error {
	if err := s.Cancel(origins...); err != nil {
		return err
	}
	for _, origin := range origins {
		delete(s.registry, origin)
		for i, o := range s.order {
			if o == origin {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	if err := s.store.DeleteRows(ctx, origins); err != nil {
		return fmt.Errorf("delete job rows: %w", err)
	}
	return nil
}

// Reconcile is the per-tick operation. It persists dirty running jobs,
// retires finished workers (requeueing eligible failures), then promotes
// pending jobs into free slots. Never call it from more than one goroutine.
func (s *Scheduler) Reconcile(ctx context.Context) {
	keep := make([]*Job, 0, len(s.running))
	for _, job := range s.running {
		h := job.runHandle()
		if h != nil && !h.Finished() {
			if job.Dirty() {
				s.persist(ctx, job)
			}
			keep = append(keep, job)
			continue
		}
		s.persist(ctx, job)
		job.clearRun()
		if out := job.Outcome(); -s.maxRetry < out && out < 0 {
			s.pending.Push(job, job.Priority)
		}
	}
	s.running = keep

	for len(s.running) < s.maxConcurrent && s.pending.Len() > 0 {
		job, err := s.pending.Pop()
		if err != nil {
			break
		}
		s.running = append(s.running, job)
		s.startWorker(job)
	}
}

// persist logs store failures instead of propagating them: the in-memory job
// stays authoritative until the next successful persist, and one bad write
// must not halt scheduling of other jobs.
func (s *Scheduler) persist(ctx context.Context, job *Job) {
	if err := job.Persist(ctx, s.store); err != nil {
		log.Printf("job %s: persist failed: %v", job.Origin, err)
	}
}

// startWorker spawns the single goroutine that runs the Downloader for this
// job. The worker boundary converts any failure, panics included, into an
// outcome decrement; nothing propagates to the scheduler.
func (s *Scheduler) startWorker(job *Job) {
	h := &RunHandle{
		ID:   uuid.NewString(),
		done: make(chan struct{}),
	}
	job.setRun(h)
	go func() {
		defer close(h.done)
		err := s.runDownload(job)
		if err != nil {
			log.Printf("job %s (run %s): download failed: %v", job.Origin, h.ID, err)
		}
		job.finish(err)
	}()
}

func (s *Scheduler) runDownload(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("downloader panic: %v", r)
		}
	}()
	return s.downloader.Download(s.runCtx, job.Origin, job.Options, job.ReportProgress)
}

// Rehydrate loads all persisted rows into the registry and enqueues every job
// whose outcome is below the success marker, so unfinished work resumes with a
// fresh retry budget. Called once at startup, before the first tick.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	rows, err := s.store.ListRows(ctx)
	if err != nil {
		return fmt.Errorf("list job rows: %w", err)
	}
	for _, row := range rows {
		if _, ok := s.registry[row.Origin]; ok {
			log.Printf("job %s: already registered, skipping stored row", row.Origin)
			continue
		}
		job := jobFromRow(row)
		s.register(job)
		if job.Outcome() < 1 {
			if job.Outcome() < 0 {
				job.setOutcome(0)
			}
			s.pending.Push(job, job.Priority)
		}
	}
	return nil
}

// Get returns the registered job for the origin.
func (s *Scheduler) Get(origin string) (*Job, error) {
	job, ok := s.registry[origin]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, origin)
	}
	return job, nil
}

// Jobs returns all registered jobs in insertion order.
func (s *Scheduler) Jobs() []*Job {
	jobs := make([]*Job, 0, len(s.order))
	for _, origin := range s.order {
		jobs = append(jobs, s.registry[origin])
	}
	return jobs
}

// Running returns a copy of the running set.
func (s *Scheduler) Running() []*Job {
	jobs := make([]*Job, len(s.running))
	copy(jobs, s.running)
	return jobs
}

// Pending returns a snapshot of the pending queue.
func (s *Scheduler) Pending() []*Job {
	return s.pending.All()
}

// Succeeded returns the jobs with a positive outcome, in insertion order.
func (s *Scheduler) Succeeded() []*Job {
	var jobs []*Job
	for _, origin := range s.order {
		if job := s.registry[origin]; job.Outcome() > 0 {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Failed returns the jobs with a negative outcome, in insertion order.
func (s *Scheduler) Failed() []*Job {
	var jobs []*Job
	for _, origin := range s.order {
		if job := s.registry[origin]; job.Outcome() < 0 {
			jobs = append(jobs, job)
		}
	}
	return jobs
}
