package maintenance

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"rackops/internal/kinds"
	"rackops/internal/models"
	"rackops/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(sqlx.NewDb(db, "sqlmock"), kinds.Defaults()), mock
}

var jobCols = []string{
	"id", "kind", "status", "target_scope", "details", "created_by",
	"created_at", "started_at", "completed_at", "schedule_at",
	"parent_job_id", "component_order",
}

func jobRows(jobs ...models.Job) *sqlmock.Rows {
	rows := sqlmock.NewRows(jobCols)
	for _, j := range jobs {
		var parent interface{}
		if j.ParentJobID != nil {
			parent = j.ParentJobID.String()
		}
		rows.AddRow(j.ID.String(), j.Kind, string(j.Status), []byte(`{}`), []byte(`{}`),
			nil, j.CreatedAt, j.StartedAt, nil, nil, parent, j.ComponentOrder)
	}
	return rows
}

func emptyJobRows() *sqlmock.Rows {
	return sqlmock.NewRows(jobCols)
}

func expectCancel(mock sqlmock.Sqlmock, id uuid.UUID, kind string) {
	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRows(models.Job{ID: id, Kind: kind, Status: models.JobCancelled, CreatedAt: time.Now()}))
}

func TestReaper_CancelsStaleAndOrphans(t *testing.T) {
	s, mock := newMockStore(t)
	r := NewReaper(s, 24*time.Hour, 6*time.Hour, false)

	old := time.Now().Add(-48 * time.Hour)
	parent := models.Job{ID: uuid.New(), Kind: "full-update", Status: models.JobPending, CreatedAt: old}
	running := models.Job{ID: uuid.New(), Kind: "vm-clone", Status: models.JobRunning, CreatedAt: old, StartedAt: &old}
	order := 1
	child := models.Job{ID: uuid.New(), Kind: "firmware-bmc", Status: models.JobPending,
		CreatedAt: old, ParentJobID: &parent.ID, ComponentOrder: &order}

	// step 1: stale pending
	mock.ExpectQuery(`status = 'pending' AND created_at <`).WillReturnRows(jobRows(parent))
	expectCancel(mock, parent.ID, parent.Kind)
	// step 2: stale running
	mock.ExpectQuery(`status = 'running' AND started_at <`).WillReturnRows(jobRows(running))
	expectCancel(mock, running.ID, running.Kind)
	// step 3: orphan sweep re-reads the active set, catching the child
	// orphaned by step 1's cancellation in the same pass
	mock.ExpectQuery(`parent_job_id NOT IN`).WillReturnRows(jobRows(child))
	expectCancel(mock, child.ID, child.Kind)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.StalePending != 1 || sum.StaleRunning != 1 || sum.Orphaned != 1 {
		t.Errorf("got summary %+v, want 1/1/1", sum)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestReaper_IdempotentWhenNothingStale(t *testing.T) {
	s, mock := newMockStore(t)
	r := NewReaper(s, 24*time.Hour, 6*time.Hour, false)

	mock.ExpectQuery(`status = 'pending' AND created_at <`).WillReturnRows(emptyJobRows())
	mock.ExpectQuery(`status = 'running' AND started_at <`).WillReturnRows(emptyJobRows())
	mock.ExpectQuery(`parent_job_id NOT IN`).WillReturnRows(emptyJobRows())

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.StalePending+sum.StaleRunning+sum.Orphaned != 0 {
		t.Errorf("idempotent run changed something: %+v", sum)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestReaper_SkipsJobsThatMovedOnConcurrently(t *testing.T) {
	s, mock := newMockStore(t)
	r := NewReaper(s, 24*time.Hour, 6*time.Hour, false)

	old := time.Now().Add(-48 * time.Hour)
	job := models.Job{ID: uuid.New(), Kind: "power-cycle", Status: models.JobPending, CreatedAt: old}

	mock.ExpectQuery(`status = 'pending' AND created_at <`).WillReturnRows(jobRows(job))
	// cancel loses the race: guarded update misses, job is now completed
	mock.ExpectQuery(`UPDATE jobs SET status`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT status FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectQuery(`status = 'running' AND started_at <`).WillReturnRows(emptyJobRows())
	mock.ExpectQuery(`parent_job_id NOT IN`).WillReturnRows(emptyJobRows())

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.StalePending != 0 {
		t.Errorf("raced job counted as reaped: %+v", sum)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
