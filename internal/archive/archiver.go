package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
)

var ErrArchiveNotFound = errors.New("archive not found")

// Archiver moves finished jobs older than the retention window out of the
// live database into one SQLite file per month.
type Archiver struct {
	db          *db.DB
	archivePath string
	archiveDays int
	logger      *slog.Logger
	now         func() time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobCount  int       `json:"job_count"`
	DateRange string    `json:"date_range"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
	Logger      *slog.Logger
	Now         func() time.Time
}

func NewArchiver(database *db.DB, config ArchiveConfig) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	if err := os.MkdirAll(config.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		db:          database,
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		logger:      config.Logger.With("component", "archiver"),
		now:         config.Now,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	go a.runDailyArchive()
}

func (a *Archiver) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

func (a *Archiver) runDailyArchive() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			n, err := a.RunArchive(ctx)
			cancel()
			if err != nil {
				a.logger.Error("archive run failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("archived jobs", "count", n)
			}
		}
	}
}

// RunArchive archives every completed, failed or skipped job that finished
// more than archiveDays ago and returns how many were moved.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	cutoff := now.AddDate(0, 0, -a.archiveDays)

	jobs, err := a.db.Jobs.JobsForArchival(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	filename := fmt.Sprintf("archive_%s.db", now.Format("2006_01"))
	if err := a.writeArchive(ctx, filepath.Join(a.archivePath, filename), jobs, now); err != nil {
		return 0, err
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	if err := a.db.Archive.RecordArchivedJobs(ctx, ids, filename); err != nil {
		return 0, fmt.Errorf("failed to record archive jobs: %w", err)
	}
	if err := a.db.Jobs.DeleteJobs(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to delete archived jobs: %w", err)
	}
	return len(jobs), nil
}

func (a *Archiver) writeArchive(ctx context.Context, path string, jobs []*core.Job, now time.Time) error {
	archiveDB, err := openArchiveDB(path)
	if err != nil {
		return fmt.Errorf("failed to create archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	for _, j := range jobs {
		if err := insertArchivedJob(ctx, tx, j); err != nil {
			return fmt.Errorf("failed to insert job %s to archive: %w", j.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`, now); err != nil {
		return fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

func openArchiveDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			page_count INTEGER NOT NULL,
			print_sides TEXT NOT NULL,
			print_color TEXT NOT NULL,
			price INTEGER NOT NULL,
			payment_state TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_jobs_completed_at ON jobs(completed_at);
		CREATE INDEX IF NOT EXISTS idx_archive_jobs_owner ON jobs(owner_id);
	`)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func insertArchivedJob(ctx context.Context, tx *sql.Tx, j *core.Job) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs (id, owner_id, name, page_count, print_sides, print_color, price, payment_state, status, error_message, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.OwnerID, j.Name, j.PageCount, string(j.PrintSides), string(j.PrintColor), j.Price,
		string(j.PaymentState), string(j.Status), j.ErrorMessage, j.CreatedAt.UTC(), j.StartedAt, j.CompletedAt)
	return err
}

func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		if file.IsDir() || !isArchiveName(file.Name()) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		archives = append(archives, &ArchiveFile{
			Filename:  file.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			DateRange: dateRange(file.Name()),
		})
	}
	return archives, nil
}

func (a *Archiver) GetArchiveInfo(ctx context.Context, filename string) (*ArchiveFile, error) {
	if !isArchiveName(filename) {
		return nil, ErrArchiveNotFound
	}
	info, err := os.Stat(filepath.Join(a.archivePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile := &ArchiveFile{
		Filename:  filename,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
		DateRange: dateRange(filename),
	}
	if n, err := a.db.Archive.CountByFile(ctx, filename); err == nil {
		archiveFile.JobCount = n
	}
	return archiveFile, nil
}

// ArchivePath returns the on-disk path of an archive for download.
func (a *Archiver) ArchivePath(filename string) (string, error) {
	if !isArchiveName(filename) {
		return "", ErrArchiveNotFound
	}
	path := filepath.Join(a.archivePath, filename)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrArchiveNotFound
		}
		return "", err
	}
	return path, nil
}

func (a *Archiver) DeleteArchive(ctx context.Context, filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, err := a.ArchivePath(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return a.db.Archive.DeleteByFile(ctx, filename)
}

func (a *Archiver) SetArchiveDays(days int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archiveDays = days
}

func (a *Archiver) GetArchiveDays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archiveDays
}

func (a *Archiver) GetArchivePath() string {
	return a.archivePath
}

// isArchiveName rejects anything that is not a bare archive_*.db name.
func isArchiveName(name string) bool {
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return false
	}
	return strings.HasPrefix(name, "archive_") && strings.HasSuffix(name, ".db")
}

func dateRange(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, "archive_"), ".db")
}
