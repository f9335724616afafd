package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BeginJob records a new running job for (sourceCode, targetDate). When the
// pair already has a succeeded job and force is false, no row is written and a
// synthetic job with status "skipped" comes back instead.
func (s *Store) BeginJob(ctx context.Context, sourceCode string, targetDate time.Time, force bool) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if !force {
		var prior Job
		query := s.db.Rebind(`
			SELECT id, source_code, target_date, started_at, finished_at, status,
			       rows_inserted, rows_updated, parse_warnings, error_text, url_used
			FROM jobs
			WHERE source_code = ? AND target_date = ? AND status = ?
			ORDER BY started_at DESC
			LIMIT 1`)
		err := s.db.GetContext(ctx, &prior, query, sourceCode, targetDate, StatusSucceeded)
		if err == nil {
			skipped := prior
			skipped.Status = StatusSkipped
			return &skipped, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check prior jobs: %w", err)
		}
	}

	job := &Job{
		SourceCode: sourceCode,
		TargetDate: Stamp(targetDate),
		StartedAt:  Stamp(time.Now().UTC()),
		Status:     StatusRunning,
	}

	if s.driver == "postgres" {
		query := `
			INSERT INTO jobs (source_code, target_date, started_at, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id`
		if err := s.db.GetContext(ctx, &job.ID, query, job.SourceCode, job.TargetDate, job.StartedAt, job.Status); err != nil {
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		return job, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (source_code, target_date, started_at, status) VALUES (?, ?, ?, ?)`,
		job.SourceCode, job.TargetDate, job.StartedAt, job.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	job.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read job id: %w", err)
	}
	return job, nil
}

// FinishJob closes out a running job. Guarded on status so a finished job is
// never rewritten.
func (s *Store) FinishJob(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := Stamp(time.Now().UTC())
	job.FinishedAt = &now

	query := s.db.Rebind(`
		UPDATE jobs
		SET finished_at = ?, status = ?, rows_inserted = ?, rows_updated = ?,
		    parse_warnings = ?, error_text = ?, url_used = ?
		WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		job.FinishedAt, job.Status, job.RowsInserted, job.RowsUpdated,
		job.ParseWarnings, job.ErrorText, job.URLUsed, job.ID, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to finish job %d: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %d is not running", job.ID)
	}
	return nil
}

// AppendJobLog attaches one log line to a job.
func (s *Store) AppendJobLog(ctx context.Context, jobID int64, level, message string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := s.db.Rebind(`INSERT INTO job_logs (job_id, level, ts, message) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, jobID, level, Stamp(time.Now().UTC()), message); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// RecentJobs returns the newest jobs, optionally filtered to one source.
func (s *Store) RecentJobs(ctx context.Context, sourceCode string, limit int) ([]Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, source_code, target_date, started_at, finished_at, status,
		       rows_inserted, rows_updated, parse_warnings, error_text, url_used
		FROM jobs`
	args := []interface{}{}
	if sourceCode != "" {
		query += ` WHERE source_code = ?`
		args = append(args, sourceCode)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	jobs := []Job{}
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
