package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 2
	maxRetryBackoff    = 30 * time.Second
)

// SQLJobRepository persists analysis queue jobs. Claiming is a transactional
// compare-and-set so that concurrent workers never run the same job twice.
type SQLJobRepository struct {
	db *DB
}

var _ JobRepository = (*SQLJobRepository)(nil)

func NewJobRepository(db *DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

const jobColumns = `id, type, entry_id, priority, force, status, attempts, max_attempts,
		run_after, heartbeat_at, last_error, created_at, updated_at`

// EnqueueJob inserts a pending job and returns its id. A zero RunAfter means
// the job is due immediately; MaxAttempts defaults when unset.
func (r *SQLJobRepository) EnqueueJob(job Job) (string, error) {
	now := time.Now().UTC()

	id := job.ID
	if id == "" {
		id = uuid.New().String()
	}
	runAfter := job.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	_, err := r.db.Exec(`
		INSERT INTO jobs (id, type, entry_id, priority, force, status, attempts, max_attempts, run_after, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?, '', ?, ?)
	`, id, job.Type, job.EntryID, job.Priority, job.Force, maxAttempts,
		formatTime(runAfter), formatTime(now), formatTime(now))

	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return id, nil
}

// ClaimNextJob atomically claims the highest-priority due job of one of the
// given types, or returns nil when nothing is due.
func (r *SQLJobRepository) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY priority DESC, run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, formatTime(now))
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}

	job, err := scanJob(tx.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to select next job: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE jobs SET status = 'running', heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, formatTime(now), formatTime(now), job.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to check claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = JobStatusRunning
	job.HeartbeatAt = &now
	return job, nil
}

func (r *SQLJobRepository) CompleteJob(jobID string) error {
	res, err := r.db.Exec(`
		UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?
	`, formatTime(time.Now().UTC()), jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return requireRow(res)
}

// FailJob records a transient failure. The job is rescheduled with
// exponential backoff until its attempt budget is exhausted, then marked
// failed with the last error preserved.
func (r *SQLJobRepository) FailJob(jobID string, errMsg string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load job attempts: %w", err)
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`
			UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?
		`, attempts, errMsg, formatTime(now), jobID)
	} else {
		backoff := time.Duration(1<<uint(attempts)) * time.Second
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
		_, err = tx.Exec(`
			UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, heartbeat_at = NULL, updated_at = ? WHERE id = ?
		`, attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), jobID)
	}

	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}

	return tx.Commit()
}

// FailJobPermanently marks a job failed without consuming retries. Used for
// validation errors that retrying cannot fix.
func (r *SQLJobRepository) FailJobPermanently(jobID string, errMsg string) error {
	res, err := r.db.Exec(`
		UPDATE jobs SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?
	`, errMsg, formatTime(time.Now().UTC()), jobID)
	if err != nil {
		return fmt.Errorf("failed to fail job permanently: %w", err)
	}
	return requireRow(res)
}

func (r *SQLJobRepository) Heartbeat(jobID string) error {
	res, err := r.db.Exec(`
		UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND status = 'running'
	`, formatTime(time.Now().UTC()), jobID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return requireRow(res)
}

func (r *SQLJobRepository) GetJob(jobID string) (*Job, error) {
	job, err := scanJob(r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *SQLJobRepository) GetJobCounts() (JobCounts, error) {
	var counts JobCounts
	now := formatTime(time.Now().UTC())

	err := r.db.QueryRow(`
		SELECT
			SUM(CASE WHEN status = 'pending' AND run_after <= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'pending' AND run_after > ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END)
		FROM jobs
	`, now, now).Scan(
		&sqlInt{&counts.Waiting}, &sqlInt{&counts.Delayed}, &sqlInt{&counts.Active},
		&sqlInt{&counts.Completed}, &sqlInt{&counts.Failed},
	)
	if err != nil {
		return JobCounts{}, fmt.Errorf("failed to get job counts: %w", err)
	}

	return counts, nil
}

// HasOpenOrCompletedJob reports whether the entry already has a job of the
// given type that is pending, running or completed. Guards against duplicate
// deep-analysis jobs for the same entry.
func (r *SQLJobRepository) HasOpenOrCompletedJob(entryID string, jobType string) (bool, error) {
	var one int
	err := r.db.QueryRow(`
		SELECT 1 FROM jobs
		WHERE entry_id = ? AND type = ? AND status IN ('pending', 'running', 'completed')
		LIMIT 1
	`, entryID, jobType).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existing job: %w", err)
	}
	return true, nil
}

// RetryFailedJobs resets up to limit failed jobs back to pending with a fresh
// attempt budget. Returns the number of jobs requeued.
func (r *SQLJobRepository) RetryFailedJobs(limit int) (int, error) {
	now := formatTime(time.Now().UTC())
	res, err := r.db.Exec(`
		UPDATE jobs SET status = 'pending', attempts = 0, run_after = ?, heartbeat_at = NULL, updated_at = ?
		WHERE id IN (
			SELECT id FROM jobs WHERE status = 'failed' ORDER BY updated_at ASC LIMIT ?
		)
	`, now, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// RequeueStalled returns running jobs whose heartbeat is older than the
// cutoff to the pending state. At-least-once delivery: a worker crash mid-job
// surfaces here.
func (r *SQLJobRepository) RequeueStalled(olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := formatTime(now.Add(-olderThan))

	res, err := r.db.Exec(`
		UPDATE jobs SET status = 'pending', run_after = ?, heartbeat_at = NULL, updated_at = ?
		WHERE status = 'running' AND (heartbeat_at IS NULL OR heartbeat_at < ?)
	`, formatTime(now), formatTime(now), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stalled jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PruneJobs deletes finished jobs older than maxAge, always keeping the most
// recent keep finished jobs for inspection.
func (r *SQLJobRepository) PruneJobs(maxAge time.Duration, keep int) (int, error) {
	cutoff := formatTime(time.Now().UTC().Add(-maxAge))

	res, err := r.db.Exec(`
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed')
		  AND updated_at < ?
		  AND id NOT IN (
			SELECT id FROM jobs WHERE status IN ('completed', 'failed')
			ORDER BY updated_at DESC LIMIT ?
		  )
	`, cutoff, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var runAfter, createdAt, updatedAt string
	var heartbeatAt sql.NullString

	err := row.Scan(
		&job.ID, &job.Type, &job.EntryID, &job.Priority, &job.Force,
		&job.Status, &job.Attempts, &job.MaxAttempts,
		&runAfter, &heartbeatAt, &job.LastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if job.RunAfter, err = parseTime(runAfter); err != nil {
		return nil, err
	}
	if job.HeartbeatAt, err = parseTimePtr(heartbeatAt); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &job, nil
}

// sqlInt scans a nullable SUM() result into an int, treating NULL as 0.
type sqlInt struct {
	dest *int
}

func (s *sqlInt) Scan(value any) error {
	if value == nil {
		*s.dest = 0
		return nil
	}
	switch v := value.(type) {
	case int64:
		*s.dest = int(v)
	case float64:
		*s.dest = int(v)
	default:
		return fmt.Errorf("unexpected count type %T", value)
	}
	return nil
}
