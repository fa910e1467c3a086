package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	queue  *core.Queue
	clock  *core.ManualClock
	db     *db.DB
	admin  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "printq.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Database.ArchivePath = filepath.Join(dir, "archives")

	clock := core.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	queue := core.NewQueue(database.Jobs, clock, db.NewCompletionCounter(database.Counters, nil), nil, core.Options{
		ConfirmationWindow: 5 * time.Minute,
		PrintDuration:      3 * time.Minute,
		MaxRetries:         1,
	})

	ctx := context.Background()
	auth, err := middleware.NewAuthMiddleware(ctx, database.Settings, middleware.AuthConfig{})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	if err := auth.EnsureAdminPassword(ctx, "admin-pass"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	archiver, err := archive.NewArchiver(database, archive.ArchiveConfig{ArchivePath: cfg.Database.ArchivePath})
	if err != nil {
		t.Fatalf("archiver: %v", err)
	}

	s := &testServer{
		router: NewRouter(RouterDeps{
			Config:   cfg,
			Queue:    queue,
			DB:       database,
			Auth:     auth,
			Archiver: archiver,
		}),
		queue: queue,
		clock: clock,
		db:    database,
	}

	var login middleware.LoginResponse
	s.decode(t, s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"password": "admin-pass"}), http.StatusOK, &login)
	s.admin = login.Token
	return s
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) decode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, v interface{}) {
	t.Helper()
	if w.Code != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, w.Code, w.Body.String())
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (s *testServer) userToken(t *testing.T, owner string) string {
	t.Helper()
	var sess middleware.SessionResponse
	s.decode(t, s.do(t, http.MethodPost, "/api/auth/session", "", gin.H{"owner_id": owner}), http.StatusOK, &sess)
	return sess.Token
}

func (s *testServer) submit(t *testing.T, token string, payNow bool) JobResponse {
	t.Helper()
	var job JobResponse
	s.decode(t, s.do(t, http.MethodPost, "/api/jobs", token, gin.H{
		"name":        "notes.pdf",
		"size_bytes":  2048,
		"page_count":  2,
		"print_sides": "single",
		"print_color": "mono",
		"pay_now":     payNow,
	}), http.StatusCreated, &job)
	return job
}

func TestSubmitAndListOwnJobs(t *testing.T) {
	s := newTestServer(t)
	u1 := s.userToken(t, "u1")
	u2 := s.userToken(t, "u2")

	job := s.submit(t, u1, false)
	if job.Status != core.JobStatusPending || job.Price != 100 || job.OwnerID != "u1" {
		t.Fatalf("unexpected job %+v", job.Job)
	}
	if job.QueuePosition != 1 || job.EstimatedWaitMinutes == nil || *job.EstimatedWaitMinutes != 3 {
		t.Fatalf("expected position 1 with a 3 minute wait, got %d %v", job.QueuePosition, job.EstimatedWaitMinutes)
	}

	var list struct {
		Jobs  []JobResponse `json:"jobs"`
		Count int           `json:"count"`
	}
	s.decode(t, s.do(t, http.MethodGet, "/api/jobs", u1, nil), http.StatusOK, &list)
	if list.Count != 1 || list.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	s.decode(t, s.do(t, http.MethodGet, "/api/jobs", u2, nil), http.StatusOK, &list)
	if list.Count != 0 {
		t.Fatalf("expected u2 to see no jobs, got %d", list.Count)
	}

	if w := s.do(t, http.MethodGet, "/api/jobs/"+job.ID, u2, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another owner's job, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/pay", u2, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 paying another owner's job, got %d", w.Code)
	}
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t)
	u1 := s.userToken(t, "u1")

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing pages", gin.H{"name": "a.pdf"}},
		{"zero pages", gin.H{"name": "a.pdf", "page_count": 0}},
		{"bad sides", gin.H{"name": "a.pdf", "page_count": 1, "print_sides": "triple"}},
		{"bad color", gin.H{"name": "a.pdf", "page_count": 1, "print_color": "sepia"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, "/api/jobs", u1, tt.body); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	if w := s.do(t, http.MethodPost, "/api/jobs", "", gin.H{"name": "a.pdf", "page_count": 1}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", w.Code)
	}
}

func TestQueueStatsForCaller(t *testing.T) {
	s := newTestServer(t)
	u1 := s.userToken(t, "u1")
	u2 := s.userToken(t, "u2")

	s.submit(t, u1, false)
	s.clock.Advance(10 * time.Second)
	s.submit(t, u2, false)

	var stats core.QueueStats
	s.decode(t, s.do(t, http.MethodGet, "/api/queue", u2, nil), http.StatusOK, &stats)
	if stats.TotalAdmitted != 2 || stats.YourPosition == nil || *stats.YourPosition != 2 {
		t.Fatalf("unexpected stats for u2 %+v", stats)
	}
	if stats.EstimatedWaitMinutesForYou == nil || *stats.EstimatedWaitMinutesForYou != 6 {
		t.Fatalf("expected 6 minute wait, got %v", stats.EstimatedWaitMinutesForYou)
	}

	var anon core.QueueStats
	s.decode(t, s.do(t, http.MethodGet, "/api/queue", "", nil), http.StatusOK, &anon)
	if anon.TotalAdmitted != 2 || anon.YourPosition != nil {
		t.Fatalf("unexpected anonymous stats %+v", anon)
	}
}

func TestConfirmationFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	u1 := s.userToken(t, "u1")
	job := s.submit(t, u1, false)

	s.queue.Step(context.Background())

	var got JobResponse
	s.decode(t, s.do(t, http.MethodGet, "/api/jobs/"+job.ID, u1, nil), http.StatusOK, &got)
	if got.Status != core.JobStatusAwaitingConfirmation || got.ConfirmationDeadline == nil {
		t.Fatalf("expected awaiting confirmation with deadline, got %+v", got.Job)
	}

	s.decode(t, s.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/confirm", u1, nil), http.StatusOK, &got)
	if got.Status != core.JobStatusPrinting {
		t.Fatalf("expected printing after confirm, got %s", got.Status)
	}

	if w := s.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/confirm", u1, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 confirming a printing job, got %d", w.Code)
	}

	s.clock.Advance(3 * time.Minute)
	s.queue.Step(context.Background())

	s.decode(t, s.do(t, http.MethodGet, "/api/jobs/"+job.ID, u1, nil), http.StatusOK, &got)
	if got.Status != core.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	var stats StatsResponse
	s.decode(t, s.do(t, http.MethodGet, "/api/admin/stats?from=2026-03-01&to=2026-03-03", s.admin, nil), http.StatusOK, &stats)
	if stats.Jobs != 1 || stats.Pages != 2 || stats.Revenue != 100 {
		t.Fatalf("unexpected daily totals %+v", stats)
	}
	if stats.ByStatus[core.JobStatusCompleted] != 1 {
		t.Fatalf("expected one completed job, got %v", stats.ByStatus)
	}
}

func TestAdminActions(t *testing.T) {
	s := newTestServer(t)
	u1 := s.userToken(t, "u1")
	first := s.submit(t, u1, false)
	second := s.submit(t, u1, false)

	if w := s.do(t, http.MethodPost, "/api/admin/jobs/"+first.ID+"/skip", u1, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user token on admin route, got %d", w.Code)
	}

	var got JobResponse
	s.decode(t, s.do(t, http.MethodPost, "/api/admin/jobs/"+first.ID+"/force-print", s.admin, nil), http.StatusOK, &got)
	if got.Status != core.JobStatusPrinting {
		t.Fatalf("expected force-printed job printing, got %s", got.Status)
	}

	var errResp ErrorResponse
	s.decode(t, s.do(t, http.MethodPost, "/api/admin/jobs/"+second.ID+"/force-print", s.admin, nil), http.StatusConflict, &errResp)
	if errResp.Error != "printer_busy" {
		t.Fatalf("expected printer_busy, got %+v", errResp)
	}

	s.decode(t, s.do(t, http.MethodPost, "/api/admin/jobs/"+second.ID+"/skip", s.admin, nil), http.StatusOK, &got)
	if got.Status != core.JobStatusSkipped {
		t.Fatalf("expected skipped, got %s", got.Status)
	}

	if w := s.do(t, http.MethodPost, "/api/jobs/"+second.ID+"/pay", u1, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 paying a skipped job, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/admin/jobs/missing/skip", s.admin, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", w.Code)
	}

	var audit struct {
		Entries []db.AuditLog `json:"entries"`
	}
	s.decode(t, s.do(t, http.MethodGet, "/api/admin/audit?entity_type=job", s.admin, nil), http.StatusOK, &audit)
	if len(audit.Entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(audit.Entries))
	}
	if audit.Entries[0].Action != "job.skip" || audit.Entries[1].Action != "job.force_print" {
		t.Fatalf("unexpected audit order %s, %s", audit.Entries[0].Action, audit.Entries[1].Action)
	}

	var list struct {
		Jobs        []JobResponse `json:"jobs"`
		PrinterBusy bool          `json:"printer_busy"`
		PrinterJob  string        `json:"printer_job"`
	}
	s.decode(t, s.do(t, http.MethodGet, "/api/admin/jobs?status=printing", s.admin, nil), http.StatusOK, &list)
	if len(list.Jobs) != 1 || !list.PrinterBusy || list.PrinterJob != first.ID {
		t.Fatalf("unexpected admin listing %+v", list)
	}
	if w := s.do(t, http.MethodGet, "/api/admin/jobs?status=lost", s.admin, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestStandbyReplicaRefusesJobActions(t *testing.T) {
	s := newTestServer(t)
	u1 := s.userToken(t, "u1")
	job := s.submit(t, u1, false)

	s.queue.SetStandby(true)

	var errResp ErrorResponse
	s.decode(t, s.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/pay", u1, nil), http.StatusServiceUnavailable, &errResp)
	if errResp.Error != "scheduler_standby" {
		t.Fatalf("expected scheduler_standby, got %+v", errResp)
	}
	if w := s.do(t, http.MethodPost, "/api/admin/jobs/"+job.ID+"/force-print", s.admin, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for admin action on standby replica, got %d", w.Code)
	}

	s.submit(t, u1, false)

	var got JobResponse
	s.decode(t, s.do(t, http.MethodGet, "/api/jobs/"+job.ID, u1, nil), http.StatusOK, &got)
	if got.Status != core.JobStatusPending || got.PaymentState != core.PaymentUnpaid {
		t.Fatalf("expected job untouched, got %s/%s", got.Status, got.PaymentState)
	}
}

func TestPricingRoutes(t *testing.T) {
	s := newTestServer(t)

	var table core.PricingTable
	s.decode(t, s.do(t, http.MethodGet, "/api/pricing", "", nil), http.StatusOK, &table)
	if table != core.DefaultPricing {
		t.Fatalf("unexpected pricing %+v", table)
	}

	var quote QuoteResponse
	s.decode(t, s.do(t, http.MethodGet, "/api/pricing/quote?sides=double&color=color&pages=3", "", nil), http.StatusOK, &quote)
	if quote.PerPage != 240 || quote.Price != 720 {
		t.Fatalf("unexpected quote %+v", quote)
	}

	if w := s.do(t, http.MethodGet, "/api/pricing/quote?sides=double&pages=0", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero pages, got %d", w.Code)
	}
}

func TestExportJobs(t *testing.T) {
	s := newTestServer(t)
	u1 := s.userToken(t, "u1")
	s.submit(t, u1, true)

	w := s.do(t, http.MethodGet, "/api/admin/export/jobs", s.admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %s", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected a zip container")
	}
}

func TestWebhookRoutes(t *testing.T) {
	s := newTestServer(t)

	received := make(chan string, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	if w := s.do(t, http.MethodPost, "/api/admin/webhooks", s.admin, gin.H{
		"name": "bad", "url": receiver.URL, "events": []string{"printer_status_changed"},
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event, got %d", w.Code)
	}

	var created WebhookResponse
	s.decode(t, s.do(t, http.MethodPost, "/api/admin/webhooks", s.admin, gin.H{
		"name": "owner-notify", "url": receiver.URL, "secret": "s3cret",
		"events": []string{"job_confirmation_required", "job_completed"},
	}), http.StatusCreated, &created)
	if !created.HasSecret || len(created.Events) != 2 {
		t.Fatalf("unexpected webhook %+v", created)
	}

	var test TestWebhookResponse
	s.decode(t, s.do(t, http.MethodPost, "/api/admin/webhooks/"+itoa(created.ID)+"/test", s.admin, nil), http.StatusOK, &test)
	if !test.Success {
		t.Fatalf("expected test delivery to succeed: %s", test.Message)
	}
	if sig := <-received; sig == "" {
		t.Fatalf("expected signed test delivery")
	}

	var updated WebhookResponse
	s.decode(t, s.do(t, http.MethodPut, "/api/admin/webhooks/"+itoa(created.ID), s.admin, gin.H{"enabled": false}), http.StatusOK, &updated)
	if updated.Enabled {
		t.Fatalf("expected webhook disabled")
	}

	if w := s.do(t, http.MethodDelete, "/api/admin/webhooks/"+itoa(created.ID), s.admin, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/admin/webhooks/"+itoa(created.ID), s.admin, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestSettingsAndArchiveRoutes(t *testing.T) {
	s := newTestServer(t)

	var settings SettingsResponse
	s.decode(t, s.do(t, http.MethodGet, "/api/admin/settings", s.admin, nil), http.StatusOK, &settings)
	if settings.ArchiveDays != 30 {
		t.Fatalf("expected default archive days, got %d", settings.ArchiveDays)
	}

	s.decode(t, s.do(t, http.MethodPut, "/api/admin/settings/archive", s.admin, gin.H{"archive_days": 7}), http.StatusOK, nil)
	s.decode(t, s.do(t, http.MethodGet, "/api/admin/settings", s.admin, nil), http.StatusOK, &settings)
	if settings.ArchiveDays != 7 {
		t.Fatalf("expected 7 archive days, got %d", settings.ArchiveDays)
	}

	var stats ArchiveStatsResponse
	s.decode(t, s.do(t, http.MethodGet, "/api/admin/archives/stats", s.admin, nil), http.StatusOK, &stats)
	if stats.ArchiveDays != 7 || stats.TotalArchives != 0 {
		t.Fatalf("unexpected archive stats %+v", stats)
	}

	s.decode(t, s.do(t, http.MethodPost, "/api/admin/archives/run", s.admin, nil), http.StatusOK, nil)
	if w := s.do(t, http.MethodGet, "/api/admin/archives/files/archive_1999_01.db", s.admin, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing archive, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
