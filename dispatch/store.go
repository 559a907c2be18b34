package dispatch

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/foreman/errors"
)

// Store persists the job journal and worker registrations. Jobs are
// written as history rows: results never land in the database, and the
// payload is stored without its file content so the journal stays small.
type Store struct {
	db *sql.DB
}

// NewStore creates a dispatch store on an open database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, status, priority, payload, file_name,
	created_at, started_at, completed_at,
	worker_id, worker_name, error, retry_count, duration`

// SaveJob upserts a job's journal row. Called on admission (pending), on
// dispatch (running + worker binding) and at each terminal transition.
func (s *Store) SaveJob(job *Job) error {
	payload, err := marshalJournalPayload(job.Payload)
	if err != nil {
		return errors.Wrapf(err, "failed to encode payload for job %s", job.ID)
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			payload = excluded.payload,
			file_name = excluded.file_name,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			worker_id = excluded.worker_id,
			worker_name = excluded.worker_name,
			error = excluded.error,
			retry_count = excluded.retry_count,
			duration = excluded.duration
	`

	var duration sql.NullFloat64
	if d := job.DurationSeconds(); d != nil {
		duration = sql.NullFloat64{Float64: *d, Valid: true}
	}

	_, err = s.db.Exec(query,
		job.ID,
		job.Status,
		job.Priority,
		payload,
		nullString(job.FileName),
		job.CreatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.WorkerID),
		nullString(job.WorkerName),
		nullString(job.Error),
		job.RetryCount,
		duration,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a journal row by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJobRow(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// ListJobs returns a page of journal rows newest first, optionally
// filtered by status, along with the total row count for the filter.
func (s *Store) ListJobs(status *JobStatus, limit, offset int) ([]*Job, int, error) {
	var (
		countQuery = `SELECT COUNT(*) FROM jobs`
		listQuery  = `SELECT ` + jobColumns + ` FROM jobs`
		filterArgs []interface{}
	)
	if status != nil {
		countQuery += ` WHERE status = ?`
		listQuery += ` WHERE status = ?`
		filterArgs = append(filterArgs, *status)
	}
	listQuery += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var total int
	if err := s.db.QueryRow(countQuery, filterArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count jobs")
	}

	rows, err := s.db.Query(listQuery, append(filterArgs, limit, offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListTerminal returns a page of finished journal rows newest first,
// along with the total finished row count. Pending and running rows are
// excluded since the engine's live state is authoritative for those.
func (s *Store) ListTerminal(limit, offset int) ([]*Job, int, error) {
	const where = ` WHERE status IN (?, ?, ?, ?)`
	filterArgs := []interface{}{JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusCancelled}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs`+where, filterArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count finished jobs")
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.Query(query, append(filterArgs, limit, offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list finished jobs")
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListRetryable returns every terminally failed or timed out journal row,
// oldest first, for the retry-all path.
func (s *Store) ListRetryable() ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status IN (?, ?)
		ORDER BY created_at ASC`

	rows, err := s.db.Query(query, JobStatusFailed, JobStatusTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list retryable jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// SaveWorker upserts a worker registration row
func (s *Store) SaveWorker(w *Worker) error {
	query := `
		INSERT INTO workers (id, name, url, enabled, total_jobs, failed_jobs, created_at, backend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			enabled = excluded.enabled,
			total_jobs = excluded.total_jobs,
			failed_jobs = excluded.failed_jobs,
			backend = excluded.backend
	`

	_, err := s.db.Exec(query,
		w.ID, w.Name, w.URL, w.Enabled, w.TotalJobs, w.FailedJobs, w.CreatedAt, w.Backend)
	if err != nil {
		return errors.Wrapf(err, "failed to save worker %s", w.ID)
	}
	return nil
}

// DeleteWorker removes a worker registration row
func (s *Store) DeleteWorker(id string) error {
	result, err := s.db.Exec(`DELETE FROM workers WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete worker %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrWorkerNotFound, "worker %s", id)
	}
	return nil
}

// ListWorkers returns all persisted workers in registration order,
// used to hydrate the pool at boot.
func (s *Store) ListWorkers() ([]*Worker, error) {
	rows, err := s.db.Query(`
		SELECT id, name, url, enabled, total_jobs, failed_jobs, created_at, backend
		FROM workers ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workers")
	}
	defer rows.Close()

	var workers []*Worker
	for rows.Next() {
		var w Worker
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Enabled,
			&w.TotalJobs, &w.FailedJobs, &w.CreatedAt, &w.Backend); err != nil {
			return nil, errors.Wrap(err, "failed to scan worker")
		}
		w.Status = WorkerStatusOffline
		workers = append(workers, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating workers")
	}
	return workers, nil
}

// rowScanner covers sql.Row and sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobRow(rs rowScanner) (*Job, error) {
	var (
		job         Job
		payload     string
		fileName    sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
		workerID    sql.NullString
		workerName  sql.NullString
		errMsg      sql.NullString
		duration    sql.NullFloat64
	)

	err := rs.Scan(
		&job.ID,
		&job.Status,
		&job.Priority,
		&payload,
		&fileName,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&workerID,
		&workerName,
		&errMsg,
		&job.RetryCount,
		&duration,
	)
	if err != nil {
		return nil, err
	}

	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
			return nil, errors.Wrapf(err, "failed to decode payload for job %s", job.ID)
		}
	}
	job.FileName = fileName.String
	job.WorkerID = workerID.String
	job.WorkerName = workerName.String
	job.Error = errMsg.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

// marshalJournalPayload encodes a payload for the journal with the file
// content removed. Everything else round-trips.
func marshalJournalPayload(payload map[string]interface{}) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	if _, ok := payload["file_base64"]; ok {
		trimmed := make(map[string]interface{}, len(payload)-1)
		for k, v := range payload {
			if k == "file_base64" {
				continue
			}
			trimmed[k] = v
		}
		payload = trimmed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
