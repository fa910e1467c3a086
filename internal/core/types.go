package core

import (
	"context"
	"time"
)

type JobStatus string

const (
	JobStatusPending              JobStatus = "pending"
	JobStatusPaid                 JobStatus = "paid"
	JobStatusAwaitingConfirmation JobStatus = "awaiting_confirmation"
	JobStatusPrinting             JobStatus = "printing"
	JobStatusCompleted            JobStatus = "completed"
	JobStatusFailed               JobStatus = "failed"
	JobStatusSkipped              JobStatus = "skipped"
)

// IsAdmitted reports whether a job in this status takes part in the ranking.
func (s JobStatus) IsAdmitted() bool {
	switch s {
	case JobStatusPending, JobStatusPaid, JobStatusAwaitingConfirmation:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

func (s JobStatus) Valid() bool {
	return s.IsAdmitted() || s.IsTerminal() || s == JobStatusPrinting
}

type PaymentState string

const (
	PaymentUnpaid PaymentState = "unpaid"
	PaymentPaid   PaymentState = "paid"
)

type PrintSides string

const (
	SidesSingle PrintSides = "single"
	SidesDouble PrintSides = "double"
)

type PrintColor string

const (
	ColorMono  PrintColor = "mono"
	ColorColor PrintColor = "color"
)

type Job struct {
	ID                   string       `json:"id"`
	OwnerID              string       `json:"owner_id"`
	Name                 string       `json:"name"`
	SizeBytes            int64        `json:"size_bytes"`
	PageCount            int          `json:"page_count"`
	PrintSides           PrintSides   `json:"print_sides"`
	PrintColor           PrintColor   `json:"print_color"`
	Price                int64        `json:"price"`
	PaymentState         PaymentState `json:"payment_state"`
	Status               JobStatus    `json:"status"`
	QueuePosition        int          `json:"queue_position,omitempty"`
	ConfirmationDeadline *time.Time   `json:"confirmation_deadline,omitempty"`
	PresenceConfirmedAt  *time.Time   `json:"presence_confirmed_at,omitempty"`
	ErrorMessage         string       `json:"error_message,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	StartedAt            *time.Time   `json:"started_at,omitempty"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no pointers with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.ConfirmationDeadline = cloneTime(j.ConfirmationDeadline)
	c.PresenceConfirmedAt = cloneTime(j.PresenceConfirmedAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type FileMeta struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	PageCount int    `json:"page_count"`
}

type SubmitRequest struct {
	OwnerID string
	File    FileMeta
	Sides   PrintSides
	Color   PrintColor
	PayNow  bool
}

// JobPatch is a partial update. Nil fields are left untouched. When ExpectStatus
// is non-empty the update only applies if the stored status is one of them,
// otherwise the store returns ErrStatusConflict.
type JobPatch struct {
	Status                    *JobStatus
	PaymentState              *PaymentState
	QueuePosition             *int
	ConfirmationDeadline      *time.Time
	ClearConfirmationDeadline bool
	PresenceConfirmedAt       *time.Time
	StartedAt                 *time.Time
	CompletedAt               *time.Time
	ErrorMessage              *string
	ExpectStatus              []JobStatus
}

func (p JobPatch) Allows(status JobStatus) bool {
	if len(p.ExpectStatus) == 0 {
		return true
	}
	for _, s := range p.ExpectStatus {
		if s == status {
			return true
		}
	}
	return false
}

// Apply mutates j in place. Preconditions are not checked here.
func (p JobPatch) Apply(j *Job) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.PaymentState != nil {
		j.PaymentState = *p.PaymentState
	}
	if p.QueuePosition != nil {
		j.QueuePosition = *p.QueuePosition
	}
	if p.ClearConfirmationDeadline {
		j.ConfirmationDeadline = nil
	} else if p.ConfirmationDeadline != nil {
		j.ConfirmationDeadline = cloneTime(p.ConfirmationDeadline)
	}
	if p.PresenceConfirmedAt != nil {
		j.PresenceConfirmedAt = cloneTime(p.PresenceConfirmedAt)
	}
	if p.StartedAt != nil {
		j.StartedAt = cloneTime(p.StartedAt)
	}
	if p.CompletedAt != nil {
		j.CompletedAt = cloneTime(p.CompletedAt)
	}
	if p.ErrorMessage != nil {
		j.ErrorMessage = *p.ErrorMessage
	}
}

// JobStore is the durable collection of jobs. Every method is atomic at the
// single-record level; no multi-record transactions are assumed.
type JobStore interface {
	Insert(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Job, error)
	ListAll(ctx context.Context) ([]*Job, error)
	Update(ctx context.Context, id string, patch JobPatch) (*Job, error)
}

type EventType string

const (
	EventConfirmationRequired EventType = "job_confirmation_required"
	EventPrinting             EventType = "job_printing"
	EventCompleted            EventType = "job_completed"
	EventSkipped              EventType = "job_skipped"
	EventFailed               EventType = "job_failed"
)

type JobEvent struct {
	Type EventType
	Job  *Job
	At   time.Time
}

// Notifier delivers owner-facing job events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, event JobEvent)
}

type QueueStats struct {
	TotalAdmitted              int      `json:"total_admitted"`
	YourPosition               *int     `json:"your_position,omitempty"`
	AveragePrintMinutes        float64  `json:"average_print_minutes"`
	EstimatedWaitMinutesForYou *float64 `json:"estimated_wait_minutes_for_you,omitempty"`
	PrinterBusy                bool     `json:"printer_busy"`
}

func statusPtr(s JobStatus) *JobStatus { return &s }

func paymentPtr(p PaymentState) *PaymentState { return &p }

func intPtr(i int) *int { return &i }

func timePtr(t time.Time) *time.Time { return &t }

func stringPtr(s string) *string { return &s }
