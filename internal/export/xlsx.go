// Package export renders job history as spreadsheets for the admin console.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/orrn/printq/internal/core"
)

const jobsSheet = "Jobs"

var jobHeaders = []string{
	"ID", "Owner", "File", "Pages", "Sides", "Color", "Price",
	"Payment", "Status", "Position", "Created", "Started", "Completed", "Error",
}

// WriteJobsXLSX streams jobs into a single-sheet workbook on w.
func WriteJobsXLSX(w io.Writer, jobs []*core.Job) error {
	f := excelize.NewFile()
	defer f.Close()

	def := f.GetSheetName(0)
	if def == "" {
		def = "Sheet1"
	}
	if err := f.SetSheetName(def, jobsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(jobsSheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	header := make([]interface{}, len(jobHeaders))
	for i, h := range jobHeaders {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, j := range jobs {
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(axis, jobRow(j)); err != nil {
			return fmt.Errorf("write job %s: %w", j.ID, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func jobRow(j *core.Job) []interface{} {
	position := interface{}("")
	if j.Status.IsAdmitted() && j.QueuePosition > 0 {
		position = j.QueuePosition
	}
	return []interface{}{
		j.ID,
		j.OwnerID,
		j.Name,
		j.PageCount,
		string(j.PrintSides),
		string(j.PrintColor),
		j.Price,
		string(j.PaymentState),
		string(j.Status),
		position,
		formatTime(&j.CreatedAt),
		formatTime(j.StartedAt),
		formatTime(j.CompletedAt),
		j.ErrorMessage,
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
