package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"rackops/internal/audit"
	"rackops/internal/middleware"
	"rackops/internal/models"
	"rackops/internal/store"
)

type TasksHandler struct {
	store *store.Store
}

func NewTasksHandler(s *store.Store) *TasksHandler {
	return &TasksHandler{store: s}
}

type CreateTasksRequest struct {
	TargetIDs []string `json:"target_ids"`
}

// CreateTasks creates one pending task per target for a job
func (h *TasksHandler) CreateTasks(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	var req CreateTasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tasks, err := h.store.CreateTasksForJob(r.Context(), jobID, req.TargetIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	res := middleware.AuthFromContext(r.Context())
	audit.Log(audit.EventTasksCreated, res.CallerID, jobID.String(),
		map[string]interface{}{"count": len(tasks)})
	writeJSON(w, http.StatusCreated, tasks)
}

// ListTasks returns a job's tasks
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	tasks, err := h.store.ListTasks(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type UpdateTaskRequest struct {
	Status   models.TaskStatus `json:"status"`
	Progress int               `json:"progress"`
	Log      string            `json:"log"`
}

// UpdateTask records executor progress on a task
func (h *TasksHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid task ID", http.StatusBadRequest)
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	task, err := h.store.UpdateTask(r.Context(), id, req.Status, req.Progress, req.Log)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
