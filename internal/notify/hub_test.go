package notify

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"rackops/internal/models"
)

func TestHub_PublishReachesSubscribers(t *testing.T) {
	h := NewHub()
	jobID := uuid.New()

	ch, cancel := h.Subscribe(jobID)
	defer cancel()

	h.Publish(JobEvent{JobID: jobID, Status: models.JobRunning})

	select {
	case ev := <-ch:
		if ev.Status != models.JobRunning {
			t.Errorf("got status %s", ev.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_EventsAreScopedToJob(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(uuid.New())
	defer cancel()

	h.Publish(JobEvent{JobID: uuid.New(), Status: models.JobCompleted})

	select {
	case ev := <-ch:
		t.Errorf("received event for another job: %+v", ev)
	default:
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	h := NewHub()
	jobID := uuid.New()

	ch, cancel := h.Subscribe(jobID)
	cancel()

	h.Publish(JobEvent{JobID: jobID, Status: models.JobRunning})

	select {
	case ev := <-ch:
		t.Errorf("received event after cancel: %+v", ev)
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub()
	jobID := uuid.New()

	_, cancel := h.Subscribe(jobID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// more events than the subscriber buffer holds
		for i := 0; i < 100; i++ {
			h.Publish(JobEvent{JobID: jobID, Status: models.JobRunning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
