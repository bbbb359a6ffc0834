package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"rackops/internal/audit"
	"rackops/internal/middleware"
	"rackops/internal/models"
	"rackops/internal/notify"
	"rackops/internal/store"
)

type JobsHandler struct {
	store *store.Store
	hub   *notify.Hub
}

func NewJobsHandler(s *store.Store, hub *notify.Hub) *JobsHandler {
	return &JobsHandler{store: s, hub: hub}
}

// writeStoreError maps store errors onto HTTP statuses. Validation messages
// go back verbatim so callers can fix the request; everything else is
// logged and kept generic.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("store error: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type CreateJobRequest struct {
	Kind           string          `json:"kind"`
	TargetScope    json.RawMessage `json:"target_scope"`
	Details        json.RawMessage `json:"details"`
	ScheduleAt     string          `json:"schedule_at"`
	CredentialSets []string        `json:"credential_sets"`
}

type CreateJobResponse struct {
	Job      *models.Job  `json:"job"`
	Children []models.Job `json:"children,omitempty"`
}

// CreateJob accepts a work request and persists it (plus its decomposed
// children for composite kinds) as pending.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		http.Error(w, "Job kind is required", http.StatusBadRequest)
		return
	}

	var scheduleAt *time.Time
	if req.ScheduleAt != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduleAt)
		if err != nil {
			http.Error(w, "Invalid schedule_at timestamp", http.StatusBadRequest)
			return
		}
		scheduleAt = &t
	}

	// Credential sets are resolved by the credential service at execution
	// time; here they only need to be well-formed.
	for _, cs := range req.CredentialSets {
		if _, err := uuid.Parse(cs); err != nil {
			http.Error(w, "Invalid credential set identifier", http.StatusBadRequest)
			return
		}
	}
	details := req.Details
	if len(req.CredentialSets) > 0 {
		var m map[string]interface{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &m); err != nil {
				http.Error(w, "details must be an object", http.StatusBadRequest)
				return
			}
		} else {
			m = map[string]interface{}{}
		}
		m["credential_sets"] = req.CredentialSets
		b, err := json.Marshal(m)
		if err != nil {
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		details = b
	}

	res := middleware.AuthFromContext(r.Context())
	job, children, err := h.store.CreateJob(r.Context(), store.CreateJobParams{
		Kind:        req.Kind,
		TargetScope: req.TargetScope,
		Details:     details,
		CreatedBy:   res.CallerID,
		ScheduleAt:  scheduleAt,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	audit.Log(audit.EventJobCreated, res.CallerID, job.ID.String(),
		map[string]interface{}{"kind": job.Kind, "children": len(children), "auth": res.Method})
	writeJSON(w, http.StatusCreated, CreateJobResponse{Job: job, Children: children})
}

// ListJobs returns jobs, optionally filtered by status, kind or parent
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Status: r.URL.Query().Get("status"),
		Kind:   r.URL.Query().Get("kind"),
	}
	if parent := r.URL.Query().Get("parent_id"); parent != "" {
		id, err := uuid.Parse(parent)
		if err != nil {
			http.Error(w, "Invalid parent_id", http.StatusBadRequest)
			return
		}
		filter.ParentID = &id
	}

	jobs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type JobDetailResponse struct {
	Job      *models.Job   `json:"job"`
	Children []models.Job  `json:"children"`
	Tasks    []models.Task `json:"tasks"`
}

// GetJob returns a single job with its children and tasks
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	children, err := h.store.GetJobChildren(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	tasks, err := h.store.ListTasks(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobDetailResponse{Job: job, Children: children, Tasks: tasks})
}

// ClaimableJobs is the executor pickup feed
func (h *JobsHandler) ClaimableJobs(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 || v > 50 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}

	jobs, err := h.store.ClaimableJobs(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type UpdateStatusRequest struct {
	Status  models.JobStatus `json:"status"`
	Details json.RawMessage  `json:"details"`
	Log     string           `json:"log"`
}

// UpdateStatus applies an executor progress report as a state transition
func (h *JobsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	patch := req.Details
	if req.Log != "" {
		var m map[string]interface{}
		if len(patch) > 0 {
			if err := json.Unmarshal(patch, &m); err != nil {
				http.Error(w, "details must be an object", http.StatusBadRequest)
				return
			}
		} else {
			m = map[string]interface{}{}
		}
		m["log"] = req.Log
		b, err := json.Marshal(m)
		if err != nil {
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		patch = b
	}

	job, err := h.store.Transition(r.Context(), id, req.Status, patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.hub.Publish(notify.JobEvent{JobID: job.ID, Status: job.Status})
	writeJSON(w, http.StatusOK, job)
}

type CancelJobRequest struct {
	Reason string `json:"reason"`
}

// CancelJob marks a pending or running job cancelled. Cancellation is
// cooperative: in-flight executor work is not interrupted.
func (h *JobsHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	var req CancelJobRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by caller"
	}

	job, err := h.store.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	res := middleware.AuthFromContext(r.Context())
	audit.Log(audit.EventJobCancelled, res.CallerID, job.ID.String(),
		map[string]interface{}{"reason": req.Reason})
	h.hub.Publish(notify.JobEvent{JobID: job.ID, Status: job.Status})
	writeJSON(w, http.StatusOK, job)
}
