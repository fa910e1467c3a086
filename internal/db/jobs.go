package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orrn/printq/internal/core"
)

// JobOperations is the SQLite implementation of core.JobStore.
type JobOperations struct {
	db *sql.DB
}

var _ core.JobStore = (*JobOperations)(nil)

func (o *JobOperations) Insert(ctx context.Context, j *core.Job) error {
	_, err := o.db.ExecContext(ctx, InsertJob,
		j.ID, j.OwnerID, j.Name, j.SizeBytes, j.PageCount, string(j.PrintSides), string(j.PrintColor), j.Price,
		string(j.PaymentState), string(j.Status), j.QueuePosition, utcPtr(j.ConfirmationDeadline), utcPtr(j.PresenceConfirmedAt),
		j.ErrorMessage, j.CreatedAt.UTC(), utcPtr(j.StartedAt), utcPtr(j.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (o *JobOperations) Get(ctx context.Context, id string) (*core.Job, error) {
	j, err := scanJob(o.db.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) ListByOwner(ctx context.Context, ownerID string) ([]*core.Job, error) {
	rows, err := o.db.QueryContext(ctx, ListJobsByOwner, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by owner: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (o *JobOperations) ListAll(ctx context.Context) ([]*core.Job, error) {
	rows, err := o.db.QueryContext(ctx, ListAllJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Update applies patch in one transaction. The status precondition is checked
// against the row read inside that transaction.
func (o *JobOperations) Update(ctx context.Context, id string, patch core.JobPatch) (*core.Job, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin job update: %w", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, GetJobStatus, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}
	if !patch.Allows(core.JobStatus(status)) {
		return nil, fmt.Errorf("%w: job %s is %s", core.ErrStatusConflict, id, status)
	}

	sets, args := patchAssignments(patch)
	if len(sets) > 0 {
		query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		args = append(args, id)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
	}

	j, err := scanJob(tx.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to reload job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return j, nil
}

// JobsForArchival returns terminal jobs that finished before cutoff.
func (o *JobOperations) JobsForArchival(ctx context.Context, cutoff time.Time) ([]*core.Job, error) {
	rows, err := o.db.QueryContext(ctx, GetJobsForArchival, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// DeleteJobs removes terminal jobs by id in one transaction.
func (o *JobOperations) DeleteJobs(ctx context.Context, ids []string) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, DeleteJob, id); err != nil {
			return fmt.Errorf("failed to delete job %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func patchAssignments(p core.JobPatch) ([]string, []interface{}) {
	var sets []string
	var args []interface{}

	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.PaymentState != nil {
		sets = append(sets, "payment_state = ?")
		args = append(args, string(*p.PaymentState))
	}
	if p.QueuePosition != nil {
		sets = append(sets, "queue_position = ?")
		args = append(args, *p.QueuePosition)
	}
	if p.ClearConfirmationDeadline {
		sets = append(sets, "confirmation_deadline = NULL")
	} else if p.ConfirmationDeadline != nil {
		sets = append(sets, "confirmation_deadline = ?")
		args = append(args, p.ConfirmationDeadline.UTC())
	}
	if p.PresenceConfirmedAt != nil {
		sets = append(sets, "presence_confirmed_at = ?")
		args = append(args, p.PresenceConfirmedAt.UTC())
	}
	if p.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, p.StartedAt.UTC())
	}
	if p.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, p.CompletedAt.UTC())
	}
	if p.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *p.ErrorMessage)
	}
	return sets, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*core.Job, error) {
	j := &core.Job{}
	var sides, color, payment, status string
	var deadline, presence, started, completed sql.NullTime
	err := row.Scan(
		&j.ID, &j.OwnerID, &j.Name, &j.SizeBytes, &j.PageCount, &sides, &color, &j.Price,
		&payment, &status, &j.QueuePosition, &deadline, &presence,
		&j.ErrorMessage, &j.CreatedAt, &started, &completed)
	if err != nil {
		return nil, err
	}
	j.PrintSides = core.PrintSides(sides)
	j.PrintColor = core.PrintColor(color)
	j.PaymentState = core.PaymentState(payment)
	j.Status = core.JobStatus(status)
	j.CreatedAt = j.CreatedAt.UTC()
	j.ConfirmationDeadline = nullTime(deadline)
	j.PresenceConfirmedAt = nullTime(presence)
	j.StartedAt = nullTime(started)
	j.CompletedAt = nullTime(completed)
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]*core.Job, error) {
	var jobs []*core.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
