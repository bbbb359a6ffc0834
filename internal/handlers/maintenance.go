package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"rackops/internal/audit"
	"rackops/internal/maintenance"
	"rackops/internal/middleware"
)

type MaintenanceHandler struct {
	reaper    *maintenance.Reaper
	compactor *maintenance.Compactor
}

func NewMaintenanceHandler(r *maintenance.Reaper, c *maintenance.Compactor) *MaintenanceHandler {
	return &MaintenanceHandler{reaper: r, compactor: c}
}

// Reap runs one reaper pass on demand
func (h *MaintenanceHandler) Reap(w http.ResponseWriter, r *http.Request) {
	sum, err := h.reaper.Run(r.Context())
	if err != nil {
		log.Printf("reaper run failed: %v", err)
		http.Error(w, "Maintenance run failed", http.StatusInternalServerError)
		return
	}

	res := middleware.AuthFromContext(r.Context())
	audit.Log(audit.EventReaperRun, res.CallerID, "",
		map[string]interface{}{"stale_pending": sum.StalePending,
			"stale_running": sum.StaleRunning, "orphaned": sum.Orphaned})
	writeJSON(w, http.StatusOK, sum)
}

type CompactRequest struct {
	Preview               bool  `json:"preview"`
	RetentionDays         int   `json:"retention_days"`
	IncludeBackgroundJobs *bool `json:"include_background_jobs"`
}

// Compact runs (or previews) a retention compaction
func (h *MaintenanceHandler) Compact(w http.ResponseWriter, r *http.Request) {
	var req CompactRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.RetentionDays < 0 {
		http.Error(w, "Invalid retention_days", http.StatusBadRequest)
		return
	}

	if req.Preview {
		preview, err := h.compactor.Preview(r.Context(), req.RetentionDays)
		if err != nil {
			log.Printf("compaction preview failed: %v", err)
			http.Error(w, "Maintenance run failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	}

	includeBackground := true
	if req.IncludeBackgroundJobs != nil {
		includeBackground = *req.IncludeBackgroundJobs
	}

	result, err := h.compactor.Run(r.Context(), req.RetentionDays, includeBackground)
	if err != nil {
		log.Printf("compaction failed: %v", err)
		http.Error(w, "Maintenance run failed", http.StatusInternalServerError)
		return
	}

	res := middleware.AuthFromContext(r.Context())
	audit.Log(audit.EventCompactionRun, res.CallerID, "",
		map[string]interface{}{"deleted_jobs": result.DeletedJobs,
			"deleted_tasks": result.DeletedTasks, "batches": result.Batches})
	writeJSON(w, http.StatusOK, result)
}
