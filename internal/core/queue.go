package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orrn/printq/internal/obs"
)

const maxRetryBackoff = 5 * time.Second

type Options struct {
	ConfirmationWindow time.Duration
	PrintDuration      time.Duration
	PollInterval       time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	Pricing            PricingTable
}

func (o Options) withDefaults() Options {
	if o.ConfirmationWindow <= 0 {
		o.ConfirmationWindow = 5 * time.Minute
	}
	if o.PrintDuration <= 0 {
		o.PrintDuration = 3 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Pricing == (PricingTable{}) {
		o.Pricing = DefaultPricing
	}
	return o
}

// Queue owns the single printer. Every status transition, whether driven by
// the scheduling loop or by an API action, happens under mu.
type Queue struct {
	store    JobStore
	clock    Clock
	notifier Notifier
	logger   *slog.Logger
	opts     Options

	mu        sync.RWMutex
	deadlines *deadlines
	// holder is the job in awaiting_confirmation or printing, if any.
	holder string
	// standby refuses status-changing actions while another replica schedules.
	standby bool

	wake chan struct{}
}

func NewQueue(store JobStore, clock Clock, notifier Notifier, logger *slog.Logger, opts Options) *Queue {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		store:     store,
		clock:     clock,
		notifier:  notifier,
		logger:    logger,
		opts:      opts.withDefaults(),
		deadlines: newDeadlines(),
		wake:      make(chan struct{}, 1),
	}
}

// Run recovers in-flight jobs and then drives the printer until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	return q.run(ctx, false)
}

// RunAsLeader is Run for a replica holding the scheduling lease. The queue
// accepts actions only between a completed Recover and the end of ctx.
func (q *Queue) RunAsLeader(ctx context.Context) error {
	defer q.SetStandby(true)
	return q.run(ctx, true)
}

// SetStandby makes status-changing actions fail with ErrStandby.
func (q *Queue) SetStandby(standby bool) {
	q.mu.Lock()
	q.standby = standby
	q.mu.Unlock()
}

func (q *Queue) run(ctx context.Context, leader bool) error {
	if err := q.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	if leader {
		q.SetStandby(false)
	}
	q.logger.Info("scheduler started",
		"confirmation_window", q.opts.ConfirmationWindow,
		"print_duration", q.opts.PrintDuration)

	for {
		q.Step(ctx)

		timer := time.NewTimer(q.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			q.logger.Info("scheduler stopped")
			return nil
		case <-q.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Step fires every due deadline and then hands the printer to the next
// eligible job if it is free.
func (q *Queue) Step(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	q.syncInFlight(ctx)
	for _, ev := range q.deadlines.popDue(q.clock.Now()) {
		switch ev.kind {
		case deadlineConfirmation:
			q.expireConfirmation(ctx, ev)
		case deadlineCompletion:
			q.completePrint(ctx, ev)
		}
	}
	q.dispatch(ctx)
}

// Recover rebuilds the in-memory printer state from the store after a restart.
func (q *Queue) Recover(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	q.deadlines = newDeadlines()
	q.holder = ""
	now := q.clock.Now()

	var awaiting []*Job
	for _, j := range jobs {
		switch j.Status {
		case JobStatusPrinting:
			if q.holder != "" {
				q.failJob(ctx, j.ID, "another job already held the printer at restart")
				continue
			}
			q.holder = j.ID
			q.deadlines.arm(j.ID, deadlineCompletion, q.completionAt(j, now))
			q.logger.Info("resumed printing job", "job_id", j.ID)
		case JobStatusAwaitingConfirmation:
			awaiting = append(awaiting, j)
		}
	}

	for _, j := range awaiting {
		if q.holder == "" {
			at := now.Add(q.opts.ConfirmationWindow)
			if j.ConfirmationDeadline != nil {
				at = *j.ConfirmationDeadline
			}
			q.holder = j.ID
			q.deadlines.arm(j.ID, deadlineConfirmation, at)
			q.logger.Info("resumed confirmation window", "job_id", j.ID, "deadline", at)
			continue
		}
		_, err := q.persist(ctx, j.ID, JobPatch{
			Status:                    statusPtr(JobStatusPending),
			ClearConfirmationDeadline: true,
			ExpectStatus:              []JobStatus{JobStatusAwaitingConfirmation},
		})
		if err != nil {
			q.failJob(ctx, j.ID, err.Error())
			continue
		}
		q.logger.Warn("returned job to queue, printer held by another job", "job_id", j.ID, "holder", q.holder)
	}

	obs.SetPrinterBusy(q.holder != "")
	q.rerank(ctx)
	return nil
}

// syncInFlight reconciles the printer slot with the store, which another
// process may have written since the last step.
func (q *Queue) syncInFlight(ctx context.Context) {
	jobs, err := q.store.ListAll(ctx)
	if err != nil {
		q.logger.Warn("failed to list jobs for printer sync", "error", err)
		return
	}
	now := q.clock.Now()

	byID := make(map[string]*Job, len(jobs))
	var inFlight *Job
	for _, j := range jobs {
		byID[j.ID] = j
		switch j.Status {
		case JobStatusPrinting:
			if inFlight == nil || inFlight.Status != JobStatusPrinting {
				inFlight = j
			}
		case JobStatusAwaitingConfirmation:
			if inFlight == nil {
				inFlight = j
			}
		}
	}

	if q.holder != "" {
		held, ok := byID[q.holder]
		switch {
		case ok && held.Status == JobStatusAwaitingConfirmation:
			return
		case ok && held.Status == JobStatusPrinting:
			if ev, armed := q.deadlines.get(held.ID); !armed || ev.kind != deadlineCompletion {
				q.deadlines.arm(held.ID, deadlineCompletion, q.completionAt(held, now))
				q.logger.Warn("printer holder started printing in another process", "job_id", held.ID)
			}
			return
		}
		q.logger.Warn("printer holder left the printer in another process", "job_id", q.holder)
		q.deadlines.forget(q.holder)
		q.release(q.holder)
	}

	if inFlight == nil {
		return
	}
	q.holder = inFlight.ID
	obs.SetPrinterBusy(true)
	if inFlight.Status == JobStatusPrinting {
		q.deadlines.arm(inFlight.ID, deadlineCompletion, q.completionAt(inFlight, now))
	} else {
		at := now.Add(q.opts.ConfirmationWindow)
		if inFlight.ConfirmationDeadline != nil {
			at = *inFlight.ConfirmationDeadline
		}
		q.deadlines.arm(inFlight.ID, deadlineConfirmation, at)
	}
	q.logger.Warn("adopted in-flight job from the store", "job_id", inFlight.ID, "status", inFlight.Status)
}

func (q *Queue) completionAt(j *Job, now time.Time) time.Time {
	if j.StartedAt != nil {
		return j.StartedAt.Add(q.opts.PrintDuration)
	}
	return now.Add(q.opts.PrintDuration)
}

func (q *Queue) nextWait() time.Duration {
	q.mu.RLock()
	defer q.mu.RUnlock()

	wait := q.opts.PollInterval
	if at, ok := q.deadlines.next(); ok {
		if d := at.Sub(q.clock.Now()); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (q *Queue) wakeUp() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) expireConfirmation(ctx context.Context, ev *deadline) {
	now := q.clock.Now()
	job, err := q.persist(ctx, ev.jobID, JobPatch{
		Status:                    statusPtr(JobStatusSkipped),
		ClearConfirmationDeadline: true,
		CompletedAt:               &now,
		QueuePosition:             intPtr(0),
		ExpectStatus:              []JobStatus{JobStatusAwaitingConfirmation},
	})
	switch {
	case err == nil:
		q.release(ev.jobID)
		obs.RecordTransition(string(JobStatusSkipped))
		q.logger.Info("confirmation window elapsed, job skipped", "job_id", job.ID, "owner_id", job.OwnerID)
		q.rerank(ctx)
		q.notify(ctx, EventSkipped, job)
	case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrNotFound):
		q.logger.Warn("confirmation deadline fired for job no longer awaiting", "job_id", ev.jobID, "error", err)
		q.release(ev.jobID)
	case ctx.Err() != nil:
		q.deadlines.arm(ev.jobID, deadlineConfirmation, ev.at)
	default:
		if !q.failJob(ctx, ev.jobID, err.Error()) {
			q.deadlines.arm(ev.jobID, deadlineConfirmation, now.Add(q.opts.PollInterval))
		}
	}
}

func (q *Queue) completePrint(ctx context.Context, ev *deadline) {
	now := q.clock.Now()
	job, err := q.persist(ctx, ev.jobID, JobPatch{
		Status:       statusPtr(JobStatusCompleted),
		CompletedAt:  &now,
		ExpectStatus: []JobStatus{JobStatusPrinting},
	})
	switch {
	case err == nil:
		q.release(ev.jobID)
		obs.RecordTransition(string(JobStatusCompleted))
		q.logger.Info("job printed", "job_id", job.ID, "owner_id", job.OwnerID, "pages", job.PageCount)
		q.rerank(ctx)
		q.notify(ctx, EventCompleted, job)
	case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrNotFound):
		q.logger.Warn("completion fired for job no longer printing", "job_id", ev.jobID, "error", err)
		q.release(ev.jobID)
	case ctx.Err() != nil:
		q.deadlines.arm(ev.jobID, deadlineCompletion, ev.at)
	default:
		if !q.failJob(ctx, ev.jobID, err.Error()) {
			q.deadlines.arm(ev.jobID, deadlineCompletion, now.Add(q.opts.PollInterval))
		}
	}
}

// dispatch hands the free printer to the best ranked pending or paid job. A
// job whose transition cannot be written is failed and the next one is tried.
func (q *Queue) dispatch(ctx context.Context) {
	attempted := make(map[string]bool)
	for q.holder == "" && ctx.Err() == nil {
		job, err := q.nextCandidate(ctx, attempted)
		if err != nil {
			q.logger.Error("failed to select next job", "error", err)
			return
		}
		if job == nil {
			return
		}
		attempted[job.ID] = true

		if job.PaymentState == PaymentPaid || job.PresenceConfirmedAt != nil {
			_, err = q.startPrinting(ctx, job.ID, JobPatch{}, JobStatusPending, JobStatusPaid)
		} else {
			err = q.requestConfirmation(ctx, job)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrStatusConflict), errors.Is(err, ErrNotFound):
			q.logger.Warn("candidate changed before dispatch", "job_id", job.ID, "error", err)
		case ctx.Err() != nil:
			return
		default:
			q.logger.Error("failed to dispatch job", "job_id", job.ID, "error", err)
			q.failJob(ctx, job.ID, err.Error())
		}
	}
}

func (q *Queue) nextCandidate(ctx context.Context, skip map[string]bool) (*Job, error) {
	jobs, err := q.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	positions := Rank(jobs)

	var best *Job
	bestPos := 0
	for _, j := range jobs {
		if skip[j.ID] {
			continue
		}
		if j.Status != JobStatusPending && j.Status != JobStatusPaid {
			continue
		}
		if p := positions[j.ID]; best == nil || p < bestPos {
			best, bestPos = j, p
		}
	}
	return best, nil
}

func (q *Queue) requestConfirmation(ctx context.Context, job *Job) error {
	at := q.clock.Now().Add(q.opts.ConfirmationWindow)
	updated, err := q.persist(ctx, job.ID, JobPatch{
		Status:               statusPtr(JobStatusAwaitingConfirmation),
		ConfirmationDeadline: &at,
		ExpectStatus:         []JobStatus{JobStatusPending},
	})
	if err != nil {
		return err
	}

	q.holder = job.ID
	obs.SetPrinterBusy(true)
	q.deadlines.arm(job.ID, deadlineConfirmation, at)
	obs.RecordTransition(string(JobStatusAwaitingConfirmation))
	q.logger.Info("awaiting presence confirmation", "job_id", job.ID, "owner_id", job.OwnerID, "deadline", at)
	q.notify(ctx, EventConfirmationRequired, updated)
	return nil
}

// startPrinting moves a job onto the printer. base carries any extra fields
// written in the same update. Callers make sure the printer is free or already
// held by this job.
func (q *Queue) startPrinting(ctx context.Context, id string, base JobPatch, expect ...JobStatus) (*Job, error) {
	now := q.clock.Now()
	patch := base
	patch.Status = statusPtr(JobStatusPrinting)
	patch.StartedAt = &now
	patch.ClearConfirmationDeadline = true
	patch.QueuePosition = intPtr(0)
	patch.ExpectStatus = expect

	job, err := q.persist(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	q.deadlines.cancelConfirmation(id)
	q.holder = id
	obs.SetPrinterBusy(true)
	q.deadlines.arm(id, deadlineCompletion, now.Add(q.opts.PrintDuration))
	obs.RecordTransition(string(JobStatusPrinting))
	q.logger.Info("printing job", "job_id", job.ID, "owner_id", job.OwnerID, "payment_state", job.PaymentState)
	q.rerank(ctx)
	q.notify(ctx, EventPrinting, job)
	return job, nil
}

// failJob marks a job failed after its transition could not be written. It
// reports whether the failure itself was recorded.
func (q *Queue) failJob(ctx context.Context, id, reason string) bool {
	if ctx.Err() != nil {
		return false
	}
	now := q.clock.Now()
	job, err := q.persist(ctx, id, JobPatch{
		Status:                    statusPtr(JobStatusFailed),
		ErrorMessage:              stringPtr(reason),
		CompletedAt:               &now,
		ClearConfirmationDeadline: true,
		QueuePosition:             intPtr(0),
		ExpectStatus: []JobStatus{
			JobStatusPending, JobStatusPaid, JobStatusAwaitingConfirmation, JobStatusPrinting,
		},
	})
	if err != nil {
		q.logger.Error("failed to mark job failed", "job_id", id, "reason", reason, "error", err)
		return false
	}

	q.deadlines.forget(id)
	q.release(id)
	obs.RecordTransition(string(JobStatusFailed))
	q.logger.Error("job failed", "job_id", id, "owner_id", job.OwnerID, "reason", reason)
	q.rerank(ctx)
	q.notify(ctx, EventFailed, job)
	return true
}

func (q *Queue) release(id string) {
	if q.holder == id {
		q.holder = ""
	}
	obs.SetPrinterBusy(q.holder != "")
}

// rerank recomputes positions and writes back every job whose stored
// position is stale.
func (q *Queue) rerank(ctx context.Context) {
	jobs, err := q.store.ListAll(ctx)
	if err != nil {
		q.logger.Warn("failed to list jobs for ranking", "error", err)
		return
	}
	positions := Rank(jobs)
	for _, j := range jobs {
		want := positions[j.ID]
		if j.QueuePosition == want {
			continue
		}
		if _, err := q.persist(ctx, j.ID, JobPatch{QueuePosition: intPtr(want)}); err != nil {
			q.logger.Warn("failed to store queue position", "job_id", j.ID, "position", want, "error", err)
		}
	}
	obs.SetAdmitted(len(positions))
}

func (q *Queue) notify(ctx context.Context, typ EventType, job *Job) {
	if q.notifier == nil || job == nil {
		return
	}
	q.notifier.Notify(ctx, JobEvent{Type: typ, Job: job.Clone(), At: q.clock.Now()})
}

func (q *Queue) persist(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	var job *Job
	err := q.withRetry(ctx, "update job "+id, func() error {
		var err error
		job, err = q.store.Update(ctx, id, patch)
		return err
	})
	return job, err
}

// withRetry runs fn up to MaxRetries+1 times. Not-found and status conflicts
// are returned at once; exhaustion is reported as ErrStore.
func (q *Queue) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= q.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			obs.RecordStoreRetry()
			if err := sleepCtx(ctx, q.calculateBackoff(attempt-1)); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStatusConflict) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		q.logger.Warn("job store write failed", "op", op, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, lastErr)
}

func (q *Queue) calculateBackoff(retryCount int) time.Duration {
	backoff := q.opts.RetryDelay * time.Duration(1<<uint(retryCount))
	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	return backoff
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
