// Package notify is the push boundary between the control plane and its
// callers: handlers publish job status changes here instead of frontends
// re-polling the read endpoint. In-process only; the store stays the source
// of truth and subscribers re-read it after an event.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"rackops/internal/models"
)

type JobEvent struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan JobEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan JobEvent]struct{})}
}

// Subscribe registers interest in one job. The returned cancel func must be
// called to release the subscription.
func (h *Hub) Subscribe(jobID uuid.UUID) (<-chan JobEvent, func()) {
	ch := make(chan JobEvent, 8)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan JobEvent]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[jobID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to current subscribers of the job. Slow
// subscribers are skipped rather than blocking the publisher; they catch up
// on their next read of the job.
func (h *Hub) Publish(ev JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
