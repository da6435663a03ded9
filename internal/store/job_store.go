package store

import (
	"context"
	"fmt"
	"time"
)

func (s *SQLiteStore) CreateJob(ctx context.Context, j *Job) error {
	if j.State == "" {
		j.State = JobPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (handle, message_id, fire_at, state, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		j.Handle, j.MessageID, j.FireAt.UTC(), j.State, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating job %s: %w", j.Handle, err)
	}
	return nil
}

func (s *SQLiteStore) ClaimFired(ctx context.Context, handle string) (bool, error) {
	return s.claim(ctx, handle, JobFired)
}

func (s *SQLiteStore) ClaimCancelled(ctx context.Context, handle string) (bool, error) {
	return s.claim(ctx, handle, JobCancelled)
}

// ReleaseJob is the inverse of ClaimFired, guarded the same way so only a
// job that actually sits in the fired state can be returned to pending.
func (s *SQLiteStore) ReleaseJob(ctx context.Context, handle string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ? WHERE handle = ? AND state = ?",
		JobPending, handle, JobFired,
	)
	if err != nil {
		return false, fmt.Errorf("releasing job %s: %w", handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// claim performs the atomic pending -> to transition. The state guard in
// the WHERE clause is what makes a racing cancel and fire mutually
// exclusive: only one UPDATE can see state='pending'.
func (s *SQLiteStore) claim(ctx context.Context, handle, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ? WHERE handle = ? AND state = ?",
		to, handle, JobPending,
	)
	if err != nil {
		return false, fmt.Errorf("claiming job %s as %s: %w", handle, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) PendingJobs(ctx context.Context) ([]Job, error) {
	var out []Job
	err := s.db.SelectContext(ctx, &out,
		"SELECT handle, message_id, fire_at, state, created_at FROM jobs WHERE state = ? ORDER BY fire_at",
		JobPending,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending jobs: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) DueJobs(ctx context.Context, now time.Time) ([]Job, error) {
	var out []Job
	err := s.db.SelectContext(ctx, &out,
		"SELECT handle, message_id, fire_at, state, created_at FROM jobs WHERE state = ? AND fire_at <= ? ORDER BY fire_at",
		JobPending, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing due jobs: %w", err)
	}
	return out, nil
}
