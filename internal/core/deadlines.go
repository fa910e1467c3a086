package core

import (
	"sort"
	"time"
)

type deadlineKind int

const (
	deadlineConfirmation deadlineKind = iota
	deadlineCompletion
)

func (k deadlineKind) String() string {
	if k == deadlineCompletion {
		return "completion"
	}
	return "confirmation"
}

// deadline is a scheduled state advance for one job. token identifies the
// arming so a stale event can never act on a later one.
type deadline struct {
	jobID string
	kind  deadlineKind
	at    time.Time
	token uint64
}

// deadlines holds at most one pending event per job. It is not safe for
// concurrent use; Queue guards it with its mutex.
type deadlines struct {
	seq   uint64
	byJob map[string]*deadline
}

func newDeadlines() *deadlines {
	return &deadlines{byJob: make(map[string]*deadline)}
}

func (d *deadlines) arm(jobID string, kind deadlineKind, at time.Time) *deadline {
	d.seq++
	ev := &deadline{jobID: jobID, kind: kind, at: at, token: d.seq}
	d.byJob[jobID] = ev
	return ev
}

// cancelConfirmation disarms a confirmation deadline. Completion deadlines
// cannot be cancelled.
func (d *deadlines) cancelConfirmation(jobID string) bool {
	ev, ok := d.byJob[jobID]
	if !ok || ev.kind != deadlineConfirmation {
		return false
	}
	delete(d.byJob, jobID)
	return true
}

// forget drops whatever is armed for a job that reached a terminal state.
func (d *deadlines) forget(jobID string) {
	delete(d.byJob, jobID)
}

func (d *deadlines) get(jobID string) (*deadline, bool) {
	ev, ok := d.byJob[jobID]
	return ev, ok
}

// popDue removes and returns every event due at now, earliest first.
func (d *deadlines) popDue(now time.Time) []*deadline {
	var due []*deadline
	for id, ev := range d.byJob {
		if !ev.at.After(now) {
			due = append(due, ev)
			delete(d.byJob, id)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].at.Equal(due[b].at) {
			return due[a].at.Before(due[b].at)
		}
		return due[a].token < due[b].token
	})
	return due
}

func (d *deadlines) next() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, ev := range d.byJob {
		if !found || ev.at.Before(earliest) {
			earliest = ev.at
			found = true
		}
	}
	return earliest, found
}

func (d *deadlines) len() int { return len(d.byJob) }
