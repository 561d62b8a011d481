package worker

import (
	"context"
	"database/sql"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/models"
)

// SQLRecorder keeps job state in the sync_jobs table.
type SQLRecorder struct {
	store *database.Store
}

func NewSQLRecorder(store *database.Store) *SQLRecorder {
	return &SQLRecorder{store: store}
}

// Record upserts the job row.
func (r *SQLRecorder) Record(ctx context.Context, job Job, status models.SyncJobStatus, lastErr string) error {
	var errText *string
	if lastErr != "" {
		errText = &lastErr
	}
	_, err := r.store.Execute(ctx, `
		INSERT INTO sync_jobs (id, job_type, payload, status, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status), attempts = VALUES(attempts), last_error = VALUES(last_error)`,
		job.ID, job.Type, string(job.Payload), string(status), job.Attempts, errText)
	return err
}

// List returns the most recent jobs, optionally filtered by status.
func (r *SQLRecorder) List(ctx context.Context, status models.SyncJobStatus, limit int) ([]models.SyncJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := "SELECT id, job_type, payload, status, attempts, last_error, created_at, updated_at FROM sync_jobs"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	return database.Select(ctx, r.store, query, args, func(rows *sql.Rows) (models.SyncJob, error) {
		var j models.SyncJob
		err := rows.Scan(&j.ID, &j.JobType, &j.Payload, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
		return j, err
	})
}
