package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rackops/internal/models"
)

// StalePendingJobs returns pending jobs created before the cutoff.
func (s *Store) StalePendingJobs(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending jobs: %w", err)
	}
	return jobs, nil
}

// StaleRunningJobs returns running jobs started before the cutoff.
func (s *Store) StaleRunningJobs(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale running jobs: %w", err)
	}
	return jobs, nil
}

// OrphanedJobs returns active child jobs whose parent is no longer active.
// The active set is read at query time, so calling this after the staleness
// cancellations naturally picks up children they orphaned.
func (s *Store) OrphanedJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('pending', 'running')
		AND parent_job_id IS NOT NULL
		AND parent_job_id NOT IN (
			SELECT id FROM jobs WHERE status IN ('pending', 'running')
		)
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned jobs: %w", err)
	}
	return jobs, nil
}

// ExpiredJobBatch selects up to limit terminal jobs older than the cutoff.
// Kinds in excludeKinds are skipped (used to leave user-initiated or
// background work out of a run).
func (s *Store) ExpiredJobBatch(ctx context.Context, cutoff time.Time, excludeKinds []string, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < $1`
	args := []interface{}{cutoff}

	if len(excludeKinds) > 0 {
		args = append(args, pq.Array(excludeKinds))
		query += fmt.Sprintf(" AND kind != ALL($%d)", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args))

	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select expired jobs: %w", err)
	}
	return ids, nil
}

// DeleteJobBatch removes the given jobs and their tasks in one transaction,
// tasks strictly before jobs.
func (s *Store) DeleteJobBatch(ctx context.Context, ids []uuid.UUID) (tasksDeleted, jobsDeleted int64, err error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE job_id = ANY($1)`, pq.Array(strIDs))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	tasksDeleted, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ANY($1)`, pq.Array(strIDs))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	jobsDeleted, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit deletion: %w", err)
	}
	return tasksDeleted, jobsDeleted, nil
}

type KindCount struct {
	Kind  string `db:"kind"`
	Count int    `db:"count"`
}

// ExpiredCountsByKind aggregates terminal jobs older than the cutoff by kind.
func (s *Store) ExpiredCountsByKind(ctx context.Context, cutoff time.Time) ([]KindCount, error) {
	var counts []KindCount
	err := s.db.SelectContext(ctx, &counts, `
		SELECT kind, COUNT(*) AS count FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < $1
		GROUP BY kind
		ORDER BY kind ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to count expired jobs: %w", err)
	}
	return counts, nil
}

// ExpiredTaskCount counts tasks owned by expired jobs.
func (s *Store) ExpiredTaskCount(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM tasks t
		JOIN jobs j ON t.job_id = j.id
		WHERE j.status IN ('completed', 'failed', 'cancelled') AND j.created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired tasks: %w", err)
	}
	return count, nil
}

// StaleCounts reports how many jobs the reaper would currently cancel.
// Informational, used by the compactor preview.
func (s *Store) StaleCounts(ctx context.Context, pendingCutoff, runningCutoff time.Time) (stalePending, staleRunning int, err error) {
	err = s.db.GetContext(ctx, &stalePending, `
		SELECT COUNT(*) FROM jobs WHERE status = 'pending' AND created_at < $1`, pendingCutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count stale pending jobs: %w", err)
	}
	err = s.db.GetContext(ctx, &staleRunning, `
		SELECT COUNT(*) FROM jobs WHERE status = 'running' AND started_at < $1`, runningCutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count stale running jobs: %w", err)
	}
	return stalePending, staleRunning, nil
}
