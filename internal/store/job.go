package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/mathwhiz/internal/model"
)

const jobColumns = `id, kind, owner_id, class_id, status, progress, input, result, error, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	var j model.Job
	var result string
	if err := row.Scan(&j.ID, &j.Kind, &j.OwnerID, &j.ClassID, &j.Status, &j.Progress, &j.Input, &result, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if result != "" {
		j.Result = []byte(result)
	}
	return &j, nil
}

// CreateJob inserts a job in the pending state.
func (s *Store) CreateJob(j model.Job) (*model.Job, error) {
	now := time.Now()
	j.Status = model.JobPending
	j.CreatedAt, j.UpdatedAt = now, now
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, kind, owner_id, class_id, status, progress, input, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.OwnerID, j.ClassID, j.Status, j.Progress, j.Input, j.CreatedAt, j.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("job %s: %w", j.ID, ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob returns a job by ID, or ErrNotFound.
func (s *Store) GetJob(id string) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// JobUpdate carries the fields written by TransitionJob.
type JobUpdate struct {
	Result []byte
	Error  string
}

// TransitionJob moves a job from one status to another, but only if the job
// is still in from and the step is legal. Losing the race yields
// ErrConflict; the stored status is left untouched.
func (s *Store) TransitionJob(id string, from, to model.JobStatus, upd JobUpdate) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("job %s: illegal transition %s -> %s: %w", id, from, to, ErrConflict)
	}
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, result = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, string(upd.Result), upd.Error, time.Now(), id, from,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetJob(id); err != nil {
			return err
		}
		return fmt.Errorf("job %s: not in status %s: %w", id, from, ErrConflict)
	}
	return nil
}

// CancelJob moves a pending or processing job to cancelled. It returns
// ErrConflict when the job has already finished.
func (s *Store) CancelJob(id string) (*model.Job, error) {
	for range 3 {
		j, err := s.GetJob(id)
		if err != nil {
			return nil, err
		}
		if j.Status.IsTerminal() {
			return j, fmt.Errorf("job %s already %s: %w", id, j.Status, ErrConflict)
		}
		err = s.TransitionJob(id, j.Status, model.JobCancelled, JobUpdate{})
		if err == nil {
			j.Status = model.JobCancelled
			return j, nil
		}
		if !isConflict(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("job %s: status keeps changing: %w", id, ErrConflict)
}

// UpdateJobProgress sets the progress message of a running job. Jobs that
// already reached a terminal status are not modified.
func (s *Store) UpdateJobProgress(id, progress string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET progress = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		progress, time.Now(), id, model.JobPending, model.JobProcessing,
	)
	return err
}

// ListJobsByOwner returns a user's most recent jobs, newest first.
func (s *Store) ListJobsByOwner(ownerID int64, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// FailStaleJobs marks jobs left pending or processing by a previous process
// as failed. It runs at startup, before any job is started.
func (s *Store) FailStaleJobs(message string) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error = ?, updated_at = ?
		 WHERE status IN (?, ?)`,
		model.JobError, message, time.Now(), model.JobPending, model.JobProcessing,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
