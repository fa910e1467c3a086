package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
)

type WebhookEvent string

const (
	EventConfirmationRequired = WebhookEvent(core.EventConfirmationRequired)
	EventJobPrinting          = WebhookEvent(core.EventPrinting)
	EventJobCompleted         = WebhookEvent(core.EventCompleted)
	EventJobSkipped           = WebhookEvent(core.EventSkipped)
	EventJobFailed            = WebhookEvent(core.EventFailed)
)

// Events lists every event a webhook may subscribe to.
var Events = []WebhookEvent{
	EventConfirmationRequired,
	EventJobPrinting,
	EventJobCompleted,
	EventJobSkipped,
	EventJobFailed,
}

func IsValidEvent(event string) bool {
	for _, e := range Events {
		if string(e) == event {
			return true
		}
	}
	return false
}

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID                string     `json:"job_id"`
	OwnerID              string     `json:"owner_id"`
	Name                 string     `json:"name"`
	Status               string     `json:"status"`
	PaymentState         string     `json:"payment_state"`
	Price                int64      `json:"price"`
	ConfirmationDeadline *time.Time `json:"confirmation_deadline,omitempty"`
	ErrorMessage         string     `json:"error_message,omitempty"`
}

// Registry resolves which webhooks receive an event.
type Registry interface {
	ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*db.Webhook, error)
}

type WebhookConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type webhookTask struct {
	event   WebhookEvent
	payload *WebhookPayload
}

// StatusError is returned when a receiver answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error: %d", e.Code)
}

// WebhookSender delivers job events to registered webhooks from a pool of
// workers. It implements core.Notifier.
type WebhookSender struct {
	registry    Registry
	httpClient  *http.Client
	logger      *slog.Logger
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ core.Notifier = (*WebhookSender)(nil)

func NewWebhookSender(registry Registry, config WebhookConfig, logger *slog.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &WebhookSender{
		registry: registry,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      logger.With("component", "webhook"),
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		queue:       make(chan *webhookTask, config.QueueSize),
		stopCh:      make(chan struct{}),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Notify queues a job event for delivery. It never blocks; when the queue is
// full the event is dropped and logged.
func (s *WebhookSender) Notify(ctx context.Context, event core.JobEvent) {
	if event.Job == nil {
		return
	}
	j := event.Job
	data := &JobEventData{
		JobID:                j.ID,
		OwnerID:              j.OwnerID,
		Name:                 j.Name,
		Status:               string(j.Status),
		PaymentState:         string(j.PaymentState),
		Price:                j.Price,
		ConfirmationDeadline: j.ConfirmationDeadline,
		ErrorMessage:         j.ErrorMessage,
	}
	s.enqueue(WebhookEvent(event.Type), event.At, data)
}

func (s *WebhookSender) enqueue(event WebhookEvent, at time.Time, data interface{}) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	task := &webhookTask{
		event: event,
		payload: &WebhookPayload{
			Event:     string(event),
			Timestamp: at,
			Data:      data,
		},
	}

	select {
	case s.queue <- task:
	default:
		s.logger.Warn("queue full, dropping event", "event", event)
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			s.deliver(id, task)
		}
	}
}

func (s *WebhookSender) deliver(workerID int, task *webhookTask) {
	ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout)
	webhooks, err := s.registry.ListActiveWebhooksForEvent(ctx, string(task.event))
	cancel()
	if err != nil {
		s.logger.Error("failed to get webhooks for event", "event", task.event, "error", err)
		return
	}

	for _, w := range webhooks {
		payload := *task.payload
		if err := s.sendWithRetry(w, &payload); err != nil {
			s.logger.Error("failed to deliver webhook",
				"worker", workerID, "webhook_id", w.ID, "event", task.event, "error", err)
		}
	}
}

func (s *WebhookSender) sendWithRetry(webhook *db.Webhook, payload *WebhookPayload) error {
	var lastErr error
	for attempt := 1; attempt <= s.retryCount; attempt++ {
		err := s.sendRequest(webhook, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			s.logger.Warn("client error, not retrying", "webhook_id", webhook.ID, "error", err)
			return err
		}

		if attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(attempt-1))
			s.logger.Warn("retrying webhook",
				"webhook_id", webhook.ID, "attempt", attempt, "max_attempts", s.retryCount, "backoff", backoff, "error", err)

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(webhook *db.Webhook, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	payload.Signature = ""
	if webhook.Secret != "" {
		payload.Signature = Sign(dataBytes, webhook.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// isClientError reports a 4xx answer other than 408 and 429, which are worth retrying.
func isClientError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests {
		return false
	}
	return se.Code >= 400 && se.Code < 500
}
