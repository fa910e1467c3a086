package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printq/internal/obs"
)

func ParseSides(s string) (PrintSides, error) {
	switch PrintSides(strings.ToLower(strings.TrimSpace(s))) {
	case "", SidesSingle:
		return SidesSingle, nil
	case SidesDouble:
		return SidesDouble, nil
	}
	return "", validationError("print sides must be single or double, got %q", s)
}

func ParseColor(s string) (PrintColor, error) {
	switch PrintColor(strings.ToLower(strings.TrimSpace(s))) {
	case "", ColorMono:
		return ColorMono, nil
	case ColorColor:
		return ColorColor, nil
	}
	return "", validationError("print color must be mono or color, got %q", s)
}

// Submit admits a new job as pending, or as paid when the owner paid up front.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, validationError("owner id is required")
	}
	name := strings.TrimSpace(req.File.Name)
	if name == "" {
		return nil, validationError("file name is required")
	}
	if req.File.PageCount < 1 {
		return nil, validationError("page count must be at least 1, got %d", req.File.PageCount)
	}
	if req.File.SizeBytes < 0 {
		return nil, validationError("file size must not be negative")
	}
	sides, err := ParseSides(string(req.Sides))
	if err != nil {
		return nil, err
	}
	color, err := ParseColor(string(req.Color))
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Name:         name,
		SizeBytes:    req.File.SizeBytes,
		PageCount:    req.File.PageCount,
		PrintSides:   sides,
		PrintColor:   color,
		Price:        q.opts.Pricing.Price(sides, color, req.File.PageCount),
		PaymentState: PaymentUnpaid,
		Status:       JobStatusPending,
		CreatedAt:    q.clock.Now(),
	}
	if req.PayNow {
		job.PaymentState = PaymentPaid
		job.Status = JobStatusPaid
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err = q.withRetry(ctx, "insert job "+job.ID, func() error {
		return q.store.Insert(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	obs.RecordTransition(string(job.Status))
	q.logger.Info("job admitted", "job_id", job.ID, "owner_id", ownerID, "status", job.Status, "price", job.Price)

	q.rerank(ctx)
	q.wakeUp()

	if stored, err := q.store.Get(ctx, job.ID); err == nil {
		return stored, nil
	}
	return job, nil
}

// Pay marks a job paid. Paying a job that is awaiting confirmation counts as
// confirmation and starts printing. Paying a queued job that is already paid
// is a no-op; any job that left the queue rejects payment.
func (q *Queue) Pay(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.standby {
		return nil, ErrStandby
	}

	job, err := q.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.PaymentState == PaymentPaid && job.Status.IsAdmitted() {
		return job, nil
	}

	switch job.Status {
	case JobStatusPending:
		updated, err := q.persist(ctx, id, JobPatch{
			PaymentState: paymentPtr(PaymentPaid),
			Status:       statusPtr(JobStatusPaid),
			ExpectStatus: []JobStatus{JobStatusPending},
		})
		if err != nil {
			return nil, err
		}
		obs.RecordTransition(string(JobStatusPaid))
		q.logger.Info("job paid", "job_id", id, "owner_id", job.OwnerID)
		q.wakeUp()
		return updated, nil
	case JobStatusAwaitingConfirmation:
		q.logger.Info("job paid during confirmation window", "job_id", id, "owner_id", job.OwnerID)
		return q.startPrinting(ctx, id, JobPatch{PaymentState: paymentPtr(PaymentPaid)}, JobStatusAwaitingConfirmation)
	}
	return nil, invalidState(job, "pay")
}

// ConfirmPresence releases an awaiting job to the printer. A pending job is
// marked present ahead of time and prints as soon as it reaches the head.
func (q *Queue) ConfirmPresence(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.standby {
		return nil, ErrStandby
	}

	job, err := q.get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := q.clock.Now()

	switch job.Status {
	case JobStatusAwaitingConfirmation:
		return q.startPrinting(ctx, id, JobPatch{PresenceConfirmedAt: &now}, JobStatusAwaitingConfirmation)
	case JobStatusPending:
		updated, err := q.persist(ctx, id, JobPatch{
			PresenceConfirmedAt: &now,
			ExpectStatus:        []JobStatus{JobStatusPending},
		})
		if err != nil {
			return nil, err
		}
		q.logger.Info("presence confirmed early", "job_id", id, "owner_id", job.OwnerID)
		q.dispatch(ctx)
		if latest, err := q.store.Get(ctx, id); err == nil {
			return latest, nil
		}
		return updated, nil
	}
	return nil, invalidState(job, "confirm presence for")
}

// AdminSkip removes a job from the queue. A printing job cannot be skipped.
func (q *Queue) AdminSkip(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.standby {
		return nil, ErrStandby
	}

	job, err := q.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsAdmitted() {
		return nil, invalidState(job, "skip")
	}

	now := q.clock.Now()
	updated, err := q.persist(ctx, id, JobPatch{
		Status:                    statusPtr(JobStatusSkipped),
		ClearConfirmationDeadline: true,
		CompletedAt:               &now,
		QueuePosition:             intPtr(0),
		ExpectStatus:              []JobStatus{JobStatusPending, JobStatusPaid, JobStatusAwaitingConfirmation},
	})
	if err != nil {
		return nil, err
	}

	q.deadlines.cancelConfirmation(id)
	q.release(id)
	obs.RecordTransition(string(JobStatusSkipped))
	q.logger.Info("job skipped by admin", "job_id", id, "owner_id", job.OwnerID, "previous_status", job.Status)
	q.rerank(ctx)
	q.notify(ctx, EventSkipped, updated)
	q.wakeUp()
	return updated, nil
}

// AdminForcePrint sends a pending or awaiting job straight to the printer.
func (q *Queue) AdminForcePrint(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.standby {
		return nil, ErrStandby
	}

	job, err := q.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != JobStatusPending && job.Status != JobStatusAwaitingConfirmation {
		return nil, invalidState(job, "force print")
	}
	if q.holder != "" && q.holder != id {
		if ev, ok := q.deadlines.get(q.holder); ok && ev.kind == deadlineConfirmation {
			return nil, fmt.Errorf("%w: printer reserved for job %s until its confirmation window closes at %s",
				ErrPrinterBusy, q.holder, ev.at.UTC().Format(time.RFC3339))
		}
		return nil, fmt.Errorf("%w: job %s is printing", ErrPrinterBusy, q.holder)
	}

	q.logger.Info("admin forced print", "job_id", id, "owner_id", job.OwnerID)
	return q.startPrinting(ctx, id, JobPatch{}, JobStatusPending, JobStatusAwaitingConfirmation)
}

func (q *Queue) get(ctx context.Context, id string) (*Job, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get job %s: %w", ErrStore, id, err)
	}
	return job, nil
}
