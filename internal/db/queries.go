package db

const jobColumns = `id, owner_id, name, size_bytes, page_count, print_sides, print_color, price,
	payment_state, status, queue_position, confirmation_deadline, presence_confirmed_at,
	error_message, created_at, started_at, completed_at`

const (
	InsertJob = `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	GetJobStatus = `SELECT status FROM jobs WHERE id = ?`

	ListJobsByOwner = `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = ? ORDER BY created_at ASC, id ASC`

	ListAllJobs = `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at ASC, id ASC`

	GetJobsForArchival = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN ('completed', 'failed', 'skipped')
		AND completed_at IS NOT NULL
		AND completed_at < ?
		ORDER BY completed_at ASC
	`

	DeleteJob = `DELETE FROM jobs WHERE id = ?`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY name ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ? WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, encrypted, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = ?, encrypted = ?, updated_at = CURRENT_TIMESTAMP
	`
)

const (
	InsertAuditLog = `
		INSERT INTO audit_log (action, entity_type, entity_id, details_json, ip_address)
		VALUES (?, ?, ?, ?, ?)
	`
)

const (
	InsertArchiveJob = `
		INSERT INTO archive_jobs (original_job_id, archive_file)
		VALUES (?, ?)
	`

	ListArchiveJobs = `
		SELECT id, original_job_id, archive_file, archived_at
		FROM archive_jobs ORDER BY archived_at DESC, id DESC LIMIT ? OFFSET ?
	`

	CountArchiveJobsByFile = `SELECT COUNT(*) FROM archive_jobs WHERE archive_file = ?`

	DeleteArchiveJobsByFile = `DELETE FROM archive_jobs WHERE archive_file = ?`
)

const (
	IncrementPrintCounter = `
		INSERT INTO print_counters (date, jobs, pages, revenue)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			jobs = jobs + 1,
			pages = pages + excluded.pages,
			revenue = revenue + excluded.revenue
	`

	GetPrintCountersByDateRange = `
		SELECT date, jobs, pages, revenue
		FROM print_counters WHERE date >= ? AND date <= ? ORDER BY date ASC
	`
)

const (
	GetAppliedMigrations = `SELECT version FROM schema_migrations`
)
