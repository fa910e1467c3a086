package db

import (
	"context"
	"log/slog"

	"github.com/orrn/printq/internal/core"
)

// CompletionCounter adds every completed job to the daily print counters.
// It writes synchronously, one row per event.
type CompletionCounter struct {
	counters *CounterOperations
	logger   *slog.Logger
}

var _ core.Notifier = (*CompletionCounter)(nil)

func NewCompletionCounter(counters *CounterOperations, logger *slog.Logger) *CompletionCounter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CompletionCounter{counters: counters, logger: logger}
}

func (c *CompletionCounter) Notify(ctx context.Context, event core.JobEvent) {
	if event.Type != core.EventCompleted || event.Job == nil {
		return
	}
	if err := c.counters.RecordCompletion(ctx, event.At, event.Job.PageCount, event.Job.Price); err != nil {
		c.logger.Warn("failed to record completed job", "job_id", event.Job.ID, "error", err)
	}
}
