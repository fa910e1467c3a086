package core

import (
	"testing"
	"time"
)

func TestRankOrdersAdmittedJobs(t *testing.T) {
	at := func(s int) time.Time { return testEpoch.Add(time.Duration(s) * time.Second) }
	jobs := []*Job{
		{ID: "late", Status: JobStatusPending, CreatedAt: at(30)},
		{ID: "done", Status: JobStatusCompleted, CreatedAt: at(0)},
		{ID: "tie-b", Status: JobStatusPaid, CreatedAt: at(10)},
		{ID: "tie-a", Status: JobStatusAwaitingConfirmation, CreatedAt: at(10)},
		{ID: "printing", Status: JobStatusPrinting, CreatedAt: at(5)},
		{ID: "skipped", Status: JobStatusSkipped, CreatedAt: at(1)},
		{ID: "first", Status: JobStatusPending, CreatedAt: at(2)},
	}

	got := Rank(jobs)
	want := map[string]int{"first": 1, "tie-a": 2, "tie-b": 3, "late": 4}
	if len(got) != len(want) {
		t.Fatalf("expected %d ranked jobs, got %v", len(want), got)
	}
	for id, pos := range want {
		if got[id] != pos {
			t.Fatalf("job %s: expected position %d, got %d", id, pos, got[id])
		}
	}
}

func TestRankEmpty(t *testing.T) {
	if got := Rank(nil); len(got) != 0 {
		t.Fatalf("expected no positions, got %v", got)
	}
}

func TestPricing(t *testing.T) {
	tests := []struct {
		sides PrintSides
		color PrintColor
		pages int
		want  int64
	}{
		{SidesSingle, ColorMono, 2, 100},
		{SidesSingle, ColorColor, 1, 150},
		{SidesDouble, ColorMono, 4, 320},
		{SidesDouble, ColorColor, 10, 2400},
	}
	for _, tt := range tests {
		if got := DefaultPricing.Price(tt.sides, tt.color, tt.pages); got != tt.want {
			t.Errorf("%s/%s x%d: expected %d, got %d", tt.sides, tt.color, tt.pages, tt.want, got)
		}
	}
}

func TestQueuePriceValidates(t *testing.T) {
	q, _, _ := newTestQueue(t, NewMemoryStore())

	if got, err := q.Price("", "", 3); err != nil || got != 150 {
		t.Fatalf("expected default single mono 150, got %d (%v)", got, err)
	}
	if _, err := q.Price("double", "color", 0); err == nil {
		t.Fatalf("expected error for zero pages")
	}
	if _, err := q.Price("quad", "mono", 1); err == nil {
		t.Fatalf("expected error for unknown sides")
	}
}

func TestDeadlines(t *testing.T) {
	d := newDeadlines()
	d.arm("a", deadlineConfirmation, testEpoch.Add(2*time.Minute))
	d.arm("b", deadlineCompletion, testEpoch.Add(time.Minute))
	d.arm("c", deadlineConfirmation, testEpoch.Add(time.Hour))

	if next, ok := d.next(); !ok || !next.Equal(testEpoch.Add(time.Minute)) {
		t.Fatalf("unexpected next deadline %v", next)
	}
	if d.cancelConfirmation("b") {
		t.Fatalf("completion deadline must not be cancellable")
	}
	if !d.cancelConfirmation("c") {
		t.Fatalf("expected confirmation deadline to be cancelled")
	}

	due := d.popDue(testEpoch.Add(5 * time.Minute))
	if len(due) != 2 || due[0].jobID != "b" || due[1].jobID != "a" {
		t.Fatalf("unexpected due events %+v", due)
	}
	if d.len() != 0 {
		t.Fatalf("expected no deadlines left, got %d", d.len())
	}
	if _, ok := d.next(); ok {
		t.Fatalf("expected no next deadline")
	}
}

func TestMemoryStoreStatusPrecondition(t *testing.T) {
	store := NewMemoryStore()
	ctx := t.Context()
	if err := store.Insert(ctx, &Job{ID: "a", Status: JobStatusPending, CreatedAt: testEpoch}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, &Job{ID: "a"}); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	_, err := store.Update(ctx, "a", JobPatch{
		Status:       statusPtr(JobStatusPrinting),
		ExpectStatus: []JobStatus{JobStatusAwaitingConfirmation},
	})
	if err == nil {
		t.Fatalf("expected status conflict")
	}
	job, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Fatalf("conflicting update was applied: %s", job.Status)
	}
}
