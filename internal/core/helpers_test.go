package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		ConfirmationWindow: 5 * time.Minute,
		PrintDuration:      3 * time.Minute,
		PollInterval:       5 * time.Second,
		MaxRetries:         2,
		RetryDelay:         0,
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []JobEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, event JobEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types(jobID string) []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []EventType
	for _, ev := range n.events {
		if ev.Job.ID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// flakyStore fails the next failUpdates updates, and every update for failID.
type flakyStore struct {
	*MemoryStore
	mu          sync.Mutex
	failUpdates int
	failID      string
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore()}
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	s.failUpdates = n
	s.mu.Unlock()
}

func (s *flakyStore) Update(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	s.mu.Lock()
	fail := false
	if s.failUpdates > 0 {
		s.failUpdates--
		fail = true
	}
	if id == s.failID {
		fail = true
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("disk I/O error")
	}
	return s.MemoryStore.Update(ctx, id, patch)
}

func newTestQueue(t *testing.T, store JobStore) (*Queue, *ManualClock, *recordingNotifier) {
	t.Helper()
	clock := NewManualClock(testEpoch)
	notifier := &recordingNotifier{}
	return NewQueue(store, clock, notifier, nil, testOptions()), clock, notifier
}

func submit(t *testing.T, q *Queue, owner string, payNow bool) *Job {
	t.Helper()
	job, err := q.Submit(context.Background(), SubmitRequest{
		OwnerID: owner,
		File:    FileMeta{Name: owner + ".pdf", SizeBytes: 2048, PageCount: 2},
		PayNow:  payNow,
	})
	if err != nil {
		t.Fatalf("submit for %s: %v", owner, err)
	}
	return job
}

func mustGet(t *testing.T, store JobStore, id string) *Job {
	t.Helper()
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return job
}

func wantStatus(t *testing.T, store JobStore, id string, want JobStatus) *Job {
	t.Helper()
	job := mustGet(t, store, id)
	if job.Status != want {
		t.Fatalf("job %s: expected status %s, got %s", id, want, job.Status)
	}
	return job
}

// assertInvariants checks the data model invariants against the stored jobs.
func assertInvariants(t *testing.T, store JobStore) {
	t.Helper()
	jobs, err := store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}

	printing := 0
	var admitted []*Job
	for _, j := range jobs {
		if j.Status == JobStatusPrinting {
			printing++
		}
		if j.Status.IsAdmitted() {
			admitted = append(admitted, j)
		} else if j.QueuePosition != 0 {
			t.Fatalf("job %s in %s still has position %d", j.ID, j.Status, j.QueuePosition)
		}
		if (j.ConfirmationDeadline != nil) != (j.Status == JobStatusAwaitingConfirmation) {
			t.Fatalf("job %s in %s has deadline %v", j.ID, j.Status, j.ConfirmationDeadline)
		}
		if j.PaymentState == PaymentPaid && j.Status == JobStatusAwaitingConfirmation {
			t.Fatalf("paid job %s is awaiting confirmation", j.ID)
		}
	}
	if printing > 1 {
		t.Fatalf("expected at most one printing job, got %d", printing)
	}

	sort.Slice(admitted, func(a, b int) bool {
		if !admitted[a].CreatedAt.Equal(admitted[b].CreatedAt) {
			return admitted[a].CreatedAt.Before(admitted[b].CreatedAt)
		}
		return admitted[a].ID < admitted[b].ID
	})
	for i, j := range admitted {
		if j.QueuePosition != i+1 {
			t.Fatalf("job %s: expected position %d, got %d", j.ID, i+1, j.QueuePosition)
		}
	}
}
