package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/orrn/printq/internal/core"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "printq.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func newJob(id, owner string, created time.Time) *core.Job {
	return &core.Job{
		ID:           id,
		OwnerID:      owner,
		Name:         id + ".pdf",
		SizeBytes:    4096,
		PageCount:    2,
		PrintSides:   core.SidesSingle,
		PrintColor:   core.ColorMono,
		Price:        100,
		PaymentState: core.PaymentUnpaid,
		Status:       core.JobStatusPending,
		CreatedAt:    created,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printq.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer d.Close()
	if err := d.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestJobRoundTrip(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 9, 0, 0, 123456789, time.UTC)

	if err := d.Jobs.Insert(ctx, newJob("a", "u1", created)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := d.Jobs.Insert(ctx, newJob("a", "u1", created)); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	got, err := d.Jobs.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, got.CreatedAt)
	}
	if got.Status != core.JobStatusPending || got.PrintSides != core.SidesSingle || got.Price != 100 {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.ConfirmationDeadline != nil || got.StartedAt != nil {
		t.Fatalf("expected nullable times to be nil, got %+v", got)
	}

	if _, err := d.Jobs.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJobUpdate(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := d.Jobs.Insert(ctx, newJob("a", "u1", created)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	deadline := created.Add(5 * time.Minute)
	awaiting := core.JobStatusAwaitingConfirmation
	pos := 1
	got, err := d.Jobs.Update(ctx, "a", core.JobPatch{
		Status:               &awaiting,
		QueuePosition:        &pos,
		ConfirmationDeadline: &deadline,
		ExpectStatus:         []core.JobStatus{core.JobStatusPending},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != awaiting || got.QueuePosition != 1 {
		t.Fatalf("unexpected job after update %+v", got)
	}
	if got.ConfirmationDeadline == nil || !got.ConfirmationDeadline.Equal(deadline) {
		t.Fatalf("expected deadline %v, got %v", deadline, got.ConfirmationDeadline)
	}

	// Precondition no longer holds.
	_, err = d.Jobs.Update(ctx, "a", core.JobPatch{
		Status:       &awaiting,
		ExpectStatus: []core.JobStatus{core.JobStatusPending},
	})
	if !errors.Is(err, core.ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}

	printing := core.JobStatusPrinting
	started := deadline.Add(-time.Minute)
	got, err = d.Jobs.Update(ctx, "a", core.JobPatch{
		Status:                    &printing,
		StartedAt:                 &started,
		ClearConfirmationDeadline: true,
		ExpectStatus:              []core.JobStatus{core.JobStatusAwaitingConfirmation},
	})
	if err != nil {
		t.Fatalf("update to printing: %v", err)
	}
	if got.ConfirmationDeadline != nil {
		t.Fatalf("expected deadline cleared, got %v", got.ConfirmationDeadline)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("expected started_at %v, got %v", started, got.StartedAt)
	}

	if _, err := d.Jobs.Update(ctx, "missing", core.JobPatch{}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListJobsOrdered(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		owner := "u1"
		if id == "b" {
			owner = "u2"
		}
		if err := d.Jobs.Insert(ctx, newJob(id, owner, base.Add(time.Duration(2-i)*time.Second))); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	all, err := d.Jobs.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "b" || all[1].ID != "a" || all[2].ID != "c" {
		t.Fatalf("unexpected order: %v, %v, %v", all[0].ID, all[1].ID, all[2].ID)
	}

	mine, err := d.Jobs.ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 jobs for u1, got %d", len(mine))
	}
}

func TestQueueOnSQLiteStore(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	clock := core.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	q := core.NewQueue(d.Jobs, clock, nil, nil, core.Options{})

	job, err := q.Submit(ctx, core.SubmitRequest{
		OwnerID: "u1",
		File:    core.FileMeta{Name: "thesis.pdf", PageCount: 2},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	q.Step(ctx)

	got, err := d.Jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.JobStatusAwaitingConfirmation || got.QueuePosition != 1 {
		t.Fatalf("expected awaiting at position 1, got %s at %d", got.Status, got.QueuePosition)
	}

	clock.Advance(5*time.Minute + time.Second)
	q.Step(ctx)
	got, err = d.Jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.JobStatusSkipped {
		t.Fatalf("expected skipped, got %s", got.Status)
	}
}

func TestWebhookOperations(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	w := &Webhook{Name: "owner-bot", URL: "http://example.invalid/hook", EventsJSON: `["job_printing","job_skipped"]`, Enabled: true}
	if err := d.Webhooks.CreateWebhook(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}

	hooks, err := d.Webhooks.ListActiveWebhooksForEvent(ctx, "job_skipped")
	if err != nil {
		t.Fatalf("list for event: %v", err)
	}
	if len(hooks) != 1 {
		t.Fatalf("expected 1 webhook for job_skipped, got %d", len(hooks))
	}
	hooks, err = d.Webhooks.ListActiveWebhooksForEvent(ctx, "job_completed")
	if err != nil {
		t.Fatalf("list for event: %v", err)
	}
	if len(hooks) != 0 {
		t.Fatalf("expected no webhook for job_completed, got %d", len(hooks))
	}

	w.Enabled = false
	if err := d.Webhooks.UpdateWebhook(ctx, w); err != nil {
		t.Fatalf("update: %v", err)
	}
	hooks, err = d.Webhooks.ListActiveWebhooksForEvent(ctx, "job_skipped")
	if err != nil {
		t.Fatalf("list for event: %v", err)
	}
	if len(hooks) != 0 {
		t.Fatalf("expected disabled webhook to be skipped")
	}

	if err := d.Webhooks.DeleteWebhook(ctx, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.Webhooks.GetWebhookByID(ctx, w.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows, got %v", err)
	}
}

func TestSettingsAndAudit(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if _, err := d.Settings.GetSetting(ctx, "jwt_secret"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows, got %v", err)
	}
	if err := d.Settings.SetSetting(ctx, "jwt_secret", "abc", false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := d.Settings.SetSetting(ctx, "jwt_secret", "def", false); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	s, err := d.Settings.GetSetting(ctx, "jwt_secret")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Value != "def" {
		t.Fatalf("expected def, got %s", s.Value)
	}

	for _, action := range []string{"job.skip", "job.force_print", "job.skip"} {
		if err := d.Audit.CreateAuditLog(ctx, &AuditLog{Action: action, EntityType: "job", EntityID: "a"}); err != nil {
			t.Fatalf("audit: %v", err)
		}
	}
	logs, err := d.Audit.ListAuditLogs(ctx, AuditFilter{Action: "job.skip"}, 10, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 skip entries, got %d", len(logs))
	}
}

func TestCounters(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	if err := d.Counters.RecordCompletion(ctx, day, 2, 100); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := d.Counters.RecordCompletion(ctx, day.Add(time.Hour), 3, 450); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := d.Counters.RecordCompletion(ctx, day.AddDate(0, 0, 1), 1, 50); err != nil {
		t.Fatalf("record: %v", err)
	}

	counters, err := d.Counters.GetCounters(ctx, day, day)
	if err != nil {
		t.Fatalf("get counters: %v", err)
	}
	if len(counters) != 1 {
		t.Fatalf("expected 1 day, got %d", len(counters))
	}
	c := counters[0]
	if c.Date != "2026-03-02" || c.Jobs != 2 || c.Pages != 5 || c.Revenue != 550 {
		t.Fatalf("unexpected counter %+v", c)
	}
}

func TestCompletionCounterOnlyCountsCompletions(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	counter := NewCompletionCounter(d.Counters, nil)

	job := newJob("a", "u1", at)
	counter.Notify(ctx, core.JobEvent{Type: core.EventPrinting, Job: job, At: at})
	counter.Notify(ctx, core.JobEvent{Type: core.EventCompleted, Job: job, At: at})

	counters, err := d.Counters.GetCounters(ctx, at, at)
	if err != nil {
		t.Fatalf("get counters: %v", err)
	}
	if len(counters) != 1 || counters[0].Jobs != 1 || counters[0].Pages != 2 {
		t.Fatalf("unexpected counters %+v", counters)
	}
}
