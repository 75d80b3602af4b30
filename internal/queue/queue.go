// Package queue runs briefs through the orchestrator on a bounded worker pool,
// retrying transient failures with backoff.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidgen/internal/backoff"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

const (
	DefaultWorkers     = 3
	DefaultMaxAttempts = 3
	DefaultRetention   = time.Hour
)

// Generator produces an artifact for a brief.
type Generator interface {
	Generate(ctx context.Context, jobID string, brief domain.Brief) (domain.MediaArtifact, error)
	// Finalize is called once per job after its last dispatch.
	Finalize(jobID string)
}

// Events receives job outcomes.
type Events interface {
	JobResolved(jobID, status, provider string, cost domain.Money, err error)
	WastedCharge(jobID, provider string, amount domain.Money)
}

// Options configures a Queue.
type Options struct {
	Workers     int
	MaxAttempts int
	Backoff     backoff.Policy
	// Retention is how long resolved jobs stay visible to Status.
	Retention time.Duration
	// Validate runs on Submit after the brief's own checks.
	Validate func(domain.Brief) error
	Events   Events
	Logger   *infra.Logger
	Now      func() time.Time
}

// Queue is a priority queue of generation jobs with a fixed worker pool.
type Queue struct {
	gen         Generator
	workers     int
	maxAttempts int
	policy      backoff.Policy
	retention   time.Duration
	validate    func(domain.Brief) error
	events      Events
	logger      *infra.Logger
	now         func() time.Time

	mu      sync.Mutex
	jobs    map[string]*item
	ready   readyHeap
	delayed delayedHeap
	seq     uint64
	signal  chan struct{}
}

// New builds a Queue. Nothing is dispatched until Run is called.
func New(gen Generator, opts Options) *Queue {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	policy := opts.Backoff
	if policy.Base <= 0 {
		policy = backoff.Default()
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		gen:         gen,
		workers:     workers,
		maxAttempts: maxAttempts,
		policy:      policy,
		retention:   retention,
		validate:    opts.Validate,
		events:      opts.Events,
		logger:      logger,
		now:         now,
		jobs:        make(map[string]*item),
		signal:      make(chan struct{}),
	}
}

// Submit validates and enqueues a brief.
func (q *Queue) Submit(brief domain.Brief) (domain.QueuedJob, error) {
	if err := brief.Validate(); err != nil {
		return domain.QueuedJob{}, err
	}
	if q.validate != nil {
		if err := q.validate(brief); err != nil {
			return domain.QueuedJob{}, err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	q.pruneLocked(now)
	q.seq++
	it := &item{
		seq:  q.seq,
		done: make(chan struct{}),
		job: domain.QueuedJob{
			ID:          uuid.NewString(),
			Brief:       brief,
			Priority:    brief.Priority,
			Status:      domain.JobStatusQueued,
			EnqueuedAt:  now,
			MaxAttempts: q.maxAttempts,
			UpdatedAt:   now,
		},
	}
	q.jobs[it.job.ID] = it
	heap.Push(&q.ready, it)
	q.notifyLocked()
	q.logger.Info().
		Str("job_id", it.job.ID).
		Str("priority", it.job.Priority.String()).
		Str("platform", brief.Platform).
		Msg("queue: job enqueued")
	return snapshot(it), nil
}

// Status returns the job's current state.
func (q *Queue) Status(id string) (domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.jobs[id]
	if !ok {
		return domain.QueuedJob{}, fmt.Errorf("job %q: %w", id, domain.ErrNotFound)
	}
	return snapshot(it), nil
}

// List returns every retained job, most recently enqueued first.
func (q *Queue) List() []domain.QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked(q.now())
	out := make([]domain.QueuedJob, 0, len(q.jobs))
	for _, it := range q.jobs {
		out = append(out, snapshot(it))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.After(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel resolves a job as cancelled. A waiting job is removed and never
// dispatched; a job already held by a worker keeps running and any artifact it
// returns is discarded.
func (q *Queue) Cancel(id string) (domain.QueuedJob, error) {
	q.mu.Lock()
	it, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return domain.QueuedJob{}, fmt.Errorf("job %q: %w", id, domain.ErrNotFound)
	}
	if it.job.Status.Terminal() {
		snap := snapshot(it)
		q.mu.Unlock()
		return snap, fmt.Errorf("job %q is %s: %w", id, snap.Status, domain.ErrJobTerminal)
	}
	inFlight := it.job.InFlight
	if inFlight {
		it.cancelled = true
	} else if it.index >= 0 {
		if it.delayed {
			heap.Remove(&q.delayed, it.index)
		} else {
			heap.Remove(&q.ready, it.index)
		}
	}
	q.resolveLocked(it, domain.JobStatusCancelled, nil)
	snap := snapshot(it)
	q.mu.Unlock()

	q.logger.Info().Str("job_id", id).Bool("in_flight", inFlight).Msg("queue: job cancelled")
	if !inFlight {
		q.gen.Finalize(id)
	}
	q.resolved(snap, nil)
	close(it.done)
	return snap, nil
}

// Wait blocks until the job resolves or ctx ends.
func (q *Queue) Wait(ctx context.Context, id string) (domain.QueuedJob, error) {
	q.mu.Lock()
	it, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return domain.QueuedJob{}, fmt.Errorf("job %q: %w", id, domain.ErrNotFound)
	}
	select {
	case <-ctx.Done():
		return domain.QueuedJob{}, ctx.Err()
	case <-it.done:
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return snapshot(it), nil
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker has returned. Jobs interrupted by shutdown go back to the queue.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info().Int("workers", q.workers).Int("max_attempts", q.maxAttempts).Msg("queue: started")
	var wg sync.WaitGroup
	for i := range q.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, i)
		}()
	}
	wg.Wait()
	q.logger.Info().Msg("queue: stopped")
	return nil
}

func (q *Queue) work(ctx context.Context, worker int) {
	for {
		it, wait, signal := q.next()
		if it != nil {
			q.dispatch(ctx, worker, it)
			continue
		}
		var timer *time.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-signal:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// next pops the best eligible job, or reports how long until one becomes eligible.
func (q *Queue) next() (*item, time.Duration, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for {
		at, ok := q.delayed.nextAt()
		if !ok || at.After(now) {
			break
		}
		it := heap.Pop(&q.delayed).(*item)
		it.job.Status = domain.JobStatusQueued
		heap.Push(&q.ready, it)
	}
	if q.ready.Len() > 0 {
		it := heap.Pop(&q.ready).(*item)
		it.job.Status = domain.JobStatusRunning
		it.job.InFlight = true
		it.job.Attempts++
		it.job.UpdatedAt = now
		return it, 0, nil
	}
	var wait time.Duration
	if at, ok := q.delayed.nextAt(); ok {
		wait = max(at.Sub(now), time.Millisecond)
	}
	return nil, wait, q.signal
}

func (q *Queue) dispatch(ctx context.Context, worker int, it *item) {
	q.mu.Lock()
	id, brief, attempt := it.job.ID, it.job.Brief, it.job.Attempts
	q.mu.Unlock()

	log := q.logger.With().Str("job_id", id).Int("worker", worker).Int("attempt", attempt).Logger()
	log.Info().Msg("queue: dispatch")
	artifact, err := q.gen.Generate(ctx, id, brief)

	q.mu.Lock()
	it.job.InFlight = false
	it.job.UpdatedAt = q.now()
	var tf *domain.TerminalFailure
	if errors.As(err, &tf) {
		it.job.History = append(it.job.History, tf.Attempts...)
		for _, a := range tf.Attempts {
			it.job.TotalCost += a.Charged
		}
	} else if err == nil {
		it.job.TotalCost += artifact.TotalCost
	}

	if it.cancelled {
		q.mu.Unlock()
		if err == nil {
			log.Warn().Str("provider", artifact.Provider).Str("amount", artifact.TotalCost.String()).Msg("queue: discarding artifact of cancelled job")
			if q.events != nil {
				q.events.WastedCharge(id, artifact.Provider, artifact.TotalCost)
			}
		}
		q.gen.Finalize(id)
		return
	}

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Shutdown interrupted the attempt; it does not count.
		it.job.Attempts--
		it.job.Status = domain.JobStatusQueued
		heap.Push(&q.ready, it)
		q.mu.Unlock()
		log.Info().Msg("queue: job requeued on shutdown")
		return
	}

	switch {
	case err == nil:
		art := artifact
		art.Data = nil
		it.job.Artifact = &art
		q.resolveLocked(it, domain.JobStatusSucceeded, nil)
	case transient(err) && attempt < q.maxAttempts:
		delay := q.policy.Delay(attempt)
		it.job.Status = domain.JobStatusRetryWait
		it.job.NextRetryAt = q.now().Add(delay)
		it.job.ErrorKind = domain.ErrorKind(err)
		it.job.Error = err.Error()
		heap.Push(&q.delayed, it)
		q.notifyLocked()
		q.mu.Unlock()
		log.Info().Err(err).Dur("delay", delay).Msg("queue: transient failure, retry scheduled")
		return
	case transient(err):
		err = &domain.AttemptsExhaustedError{Attempts: attempt, Last: err}
		q.resolveLocked(it, domain.JobStatusFailed, err)
	default:
		q.resolveLocked(it, domain.JobStatusFailed, err)
	}
	snap := snapshot(it)
	q.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("queue: job failed")
	} else {
		log.Info().Str("provider", artifact.Provider).Str("total_cost", snap.TotalCost.String()).Msg("queue: job succeeded")
	}
	q.gen.Finalize(id)
	q.resolved(snap, err)
	close(it.done)
}

// resolveLocked marks it terminal. The caller closes it.done once the
// generator and events have seen the outcome.
func (q *Queue) resolveLocked(it *item, status domain.JobStatus, err error) {
	now := q.now()
	it.job.Status = status
	it.job.FinishedAt = now
	it.job.UpdatedAt = now
	it.job.NextRetryAt = time.Time{}
	if err != nil {
		it.job.ErrorKind = domain.ErrorKind(err)
		it.job.Error = err.Error()
	} else if status == domain.JobStatusSucceeded {
		it.job.ErrorKind, it.job.Error = "", ""
	}
}

func (q *Queue) resolved(job domain.QueuedJob, err error) {
	if q.events == nil {
		return
	}
	provider := ""
	if job.Artifact != nil {
		provider = job.Artifact.Provider
	}
	q.events.JobResolved(job.ID, string(job.Status), provider, job.TotalCost, err)
}

func (q *Queue) notifyLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

func (q *Queue) pruneLocked(now time.Time) {
	for id, it := range q.jobs {
		if it.job.Status.Terminal() && !it.job.InFlight && now.Sub(it.job.FinishedAt) > q.retention {
			delete(q.jobs, id)
		}
	}
}

func transient(err error) bool {
	var tf *domain.TerminalFailure
	if errors.As(err, &tf) {
		return tf.Transient()
	}
	return domain.IsTransient(err)
}

func snapshot(it *item) domain.QueuedJob {
	job := it.job
	job.History = slices.Clone(it.job.History)
	if it.job.Artifact != nil {
		art := *it.job.Artifact
		art.Data = nil
		job.Artifact = &art
	}
	return job
}
