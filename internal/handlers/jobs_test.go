package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"rackops/internal/kinds"
	"rackops/internal/models"
	"rackops/internal/notify"
	"rackops/internal/store"
)

func newTestHandler(t *testing.T) (*JobsHandler, sqlmock.Sqlmock, *notify.Hub) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	hub := notify.NewHub()
	s := store.New(sqlx.NewDb(db, "sqlmock"), kinds.Defaults())
	return NewJobsHandler(s, hub), mock, hub
}

var jobCols = []string{
	"id", "kind", "status", "target_scope", "details", "created_by",
	"created_at", "started_at", "completed_at", "schedule_at",
	"parent_job_id", "component_order",
}

func jobRow(id uuid.UUID, kind string, status models.JobStatus) *sqlmock.Rows {
	return sqlmock.NewRows(jobCols).AddRow(
		id.String(), kind, string(status), []byte(`{}`), []byte(`{}`), nil,
		time.Now(), nil, nil, nil, nil, nil,
	)
}

func TestCreateJob_RequestValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing kind", `{"target_scope":{"server_ids":[]}}`},
		{"malformed json", `{"kind":`},
		{"bad schedule_at", `{"kind":"power-cycle","schedule_at":"tomorrow"}`},
		{"bad credential set", `{"kind":"power-cycle","credential_sets":["not-a-uuid"]}`},
		{"details not an object", `{"kind":"power-cycle","details":[1,2],"credential_sets":["` + uuid.NewString() + `"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/jobs", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.CreateJob(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateJob_UnknownKindIsBadRequest(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"kind":"defrag-everything","target_scope":{"server_ids":["` + uuid.NewString() + `"]}}`
	req := httptest.NewRequest("POST", "/api/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateJob(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateJob_Created(t *testing.T) {
	h, mock, _ := newTestHandler(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(jobRow(id, "power-cycle", models.JobPending))
	mock.ExpectCommit()

	body := `{"kind":"power-cycle","target_scope":{"server_ids":["` + uuid.NewString() + `"]}}`
	req := httptest.NewRequest("POST", "/api/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateJob(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp CreateJobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Job == nil || resp.Job.ID != id {
		t.Errorf("response job = %+v, want id %s", resp.Job, id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateStatus_PublishesEvent(t *testing.T) {
	h, mock, hub := newTestHandler(t)
	id := uuid.New()

	events, cancel := hub.Subscribe(id)
	defer cancel()

	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnRows(jobRow(id, "power-cycle", models.JobRunning))

	body := `{"status":"running","log":"claimed by executor-7"}`
	req := httptest.NewRequest("POST", "/api/jobs/"+id.String()+"/status", strings.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": id.String()})
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	select {
	case ev := <-events:
		if ev.JobID != id || ev.Status != models.JobRunning {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("no event published")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateStatus_ConflictOnFinishedJob(t *testing.T) {
	h, mock, _ := newTestHandler(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE jobs SET status`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT status FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	body := `{"status":"running"}`
	req := httptest.NewRequest("POST", "/api/jobs/"+id.String()+"/status", strings.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": id.String()})
	rec := httptest.NewRecorder()
	h.UpdateStatus(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h, mock, _ := newTestHandler(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id`).
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest("GET", "/api/jobs/"+id.String(), nil)
	req = mux.SetURLVars(req, map[string]string{"id": id.String()})
	rec := httptest.NewRecorder()
	h.GetJob(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestClaimableJobs_LimitValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for _, limit := range []string{"0", "51", "abc"} {
		req := httptest.NewRequest("GET", "/api/jobs/claimable?limit="+limit, nil)
		rec := httptest.NewRecorder()
		h.ClaimableJobs(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit %q: status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestCancelJob_DefaultReason(t *testing.T) {
	h, mock, _ := newTestHandler(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE jobs SET status`).
		WithArgs("cancelled", []byte(`{"cancel_reason":"cancelled by caller"}`),
			id.String(), sqlmock.AnyArg()).
		WillReturnRows(jobRow(id, "power-cycle", models.JobCancelled))

	req := httptest.NewRequest("POST", "/api/jobs/"+id.String()+"/cancel", strings.NewReader(`{}`))
	req = mux.SetURLVars(req, map[string]string{"id": id.String()})
	rec := httptest.NewRecorder()
	h.CancelJob(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
