package handlers

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"rackops/internal/notify"
	"rackops/internal/store"
)

type WatchHandler struct {
	store *store.Store
	hub   *notify.Hub
}

func NewWatchHandler(s *store.Store, hub *notify.Hub) *WatchHandler {
	return &WatchHandler{store: s, hub: hub}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth already ran in the middleware chain
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Watch streams status changes for one job over a websocket, replacing
// frontend polling. The current status is sent immediately so subscribers
// never miss a change that happened before the socket opened.
func (h *WatchHandler) Watch(w http.ResponseWriter, r *http.Request) {
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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe(id)
	defer cancel()

	if err := conn.WriteJSON(notify.JobEvent{JobID: job.ID, Status: job.Status}); err != nil {
		return
	}
	if job.Status.Terminal() {
		return
	}

	// Reader goroutine only detects the peer going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Status.Terminal() {
				return
			}
		case <-done:
			return
		}
	}
}
