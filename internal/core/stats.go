package core

import (
	"context"
	"fmt"
	"sort"
)

// QueueStats summarizes the queue. When ownerID is set, the owner's earliest
// admitted job determines YourPosition and the wait estimate.
func (q *Queue) QueueStats(ctx context.Context, ownerID string) (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	jobs, err := q.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %w", ErrStore, err)
	}
	positions := Rank(jobs)

	stats := &QueueStats{
		TotalAdmitted:       len(positions),
		AveragePrintMinutes: q.opts.PrintDuration.Minutes(),
		PrinterBusy:         q.holder != "",
	}
	if ownerID == "" {
		return stats, nil
	}

	best := 0
	for _, j := range jobs {
		if j.OwnerID != ownerID {
			continue
		}
		if p := positions[j.ID]; p > 0 && (best == 0 || p < best) {
			best = p
		}
	}
	if best > 0 {
		wait := float64(best) * stats.AveragePrintMinutes
		stats.YourPosition = &best
		stats.EstimatedWaitMinutesForYou = &wait
	}
	return stats, nil
}

// ListJobsForOwner returns the owner's jobs, newest first.
func (q *Queue) ListJobsForOwner(ctx context.Context, ownerID string) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all, err := q.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %w", ErrStore, err)
	}
	positions := Rank(all)

	jobs, err := q.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs for owner: %w", ErrStore, err)
	}
	for _, j := range jobs {
		j.QueuePosition = positions[j.ID]
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs, nil
}

// ListJobs returns all jobs in queue order, optionally filtered by status.
func (q *Queue) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all, err := q.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %w", ErrStore, err)
	}
	positions := Rank(all)

	want := make(map[JobStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	jobs := make([]*Job, 0, len(all))
	for _, j := range all {
		if len(want) > 0 && !want[j.Status] {
			continue
		}
		j.QueuePosition = positions[j.ID]
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.get(ctx, id)
}

func (q *Queue) Pricing() PricingTable {
	return q.opts.Pricing
}

func (q *Queue) Price(sides PrintSides, color PrintColor, pages int) (int64, error) {
	s, err := ParseSides(string(sides))
	if err != nil {
		return 0, err
	}
	c, err := ParseColor(string(color))
	if err != nil {
		return 0, err
	}
	if pages < 1 {
		return 0, validationError("page count must be at least 1, got %d", pages)
	}
	return q.opts.Pricing.Price(s, c, pages), nil
}

// PrinterHolder returns the id of the job holding the printer, if any.
func (q *Queue) PrinterHolder() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.holder
}

// EstimateWaitMinutes is the wait for a job at the given queue position, one
// print duration per job ahead of and including it. Unranked jobs wait zero.
func (q *Queue) EstimateWaitMinutes(position int) float64 {
	if position < 1 {
		return 0
	}
	return float64(position) * q.opts.PrintDuration.Minutes()
}
