package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/orrn/printq/internal/core"
)

func TestWriteJobsXLSX(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	jobs := []*core.Job{
		{
			ID: "a", OwnerID: "u1", Name: "thesis.pdf", PageCount: 12,
			PrintSides: core.SidesDouble, PrintColor: core.ColorMono, Price: 960,
			PaymentState: core.PaymentPaid, Status: core.JobStatusPrinting,
			CreatedAt: created, StartedAt: &started,
		},
		{
			ID: "b", OwnerID: "u2", Name: "poster.png", PageCount: 1,
			PrintSides: core.SidesSingle, PrintColor: core.ColorColor, Price: 150,
			PaymentState: core.PaymentUnpaid, Status: core.JobStatusPending, QueuePosition: 1,
			CreatedAt: created,
		},
	}

	var buf bytes.Buffer
	if err := WriteJobsXLSX(&buf, jobs); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(jobsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][8] != "Status" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "a" || rows[1][8] != "printing" || rows[1][11] != started.Format(time.RFC3339) {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][9] != "1" {
		t.Fatalf("expected queue position 1, got %q", rows[2][9])
	}
}

func TestWriteJobsXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJobsXLSX(&buf, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(jobsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected only the header row, got %d", len(rows))
	}
}
