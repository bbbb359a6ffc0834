// Package maintenance contains the time-triggered housekeeping that runs
// against the job store: the stale-job reaper and the retention compactor.
// Both use only the store's public operations and tolerate being
// interrupted; a partial run leaves the store consistent for the next one.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"rackops/internal/store"
)

// Reaper force-cancels work its executor has evidently abandoned: jobs
// pending or running past a threshold, and active children whose parent is
// already terminal.
type Reaper struct {
	store      *store.Store
	pendingAge time.Duration
	runningAge time.Duration
	debug      bool
}

func NewReaper(s *store.Store, pendingAge, runningAge time.Duration, debug bool) *Reaper {
	return &Reaper{store: s, pendingAge: pendingAge, runningAge: runningAge, debug: debug}
}

type ReapSummary struct {
	StalePending int `json:"stale_pending"`
	StaleRunning int `json:"stale_running"`
	Orphaned     int `json:"orphaned"`
}

// Run executes one reaper pass. The orphan sweep runs last and reads the
// active set fresh, so children orphaned by this pass's own staleness
// cancellations are caught in the same run. Each step is idempotent:
// cancelled jobs leave the pending/running sets and are not seen again.
func (r *Reaper) Run(ctx context.Context) (*ReapSummary, error) {
	now := time.Now()
	sum := &ReapSummary{}

	stale, err := r.store.StalePendingJobs(ctx, now.Add(-r.pendingAge))
	if err != nil {
		return sum, err
	}
	for _, job := range stale {
		reason := fmt.Sprintf("stale: pending longer than %s", r.pendingAge)
		cancelled, err := r.cancel(ctx, job.ID, reason)
		if err != nil {
			return sum, err
		}
		if cancelled {
			sum.StalePending++
		}
	}

	stale, err = r.store.StaleRunningJobs(ctx, now.Add(-r.runningAge))
	if err != nil {
		return sum, err
	}
	for _, job := range stale {
		reason := fmt.Sprintf("stale: running longer than %s", r.runningAge)
		cancelled, err := r.cancel(ctx, job.ID, reason)
		if err != nil {
			return sum, err
		}
		if cancelled {
			sum.StaleRunning++
		}
	}

	orphans, err := r.store.OrphanedJobs(ctx)
	if err != nil {
		return sum, err
	}
	for _, job := range orphans {
		reason := "orphaned: parent job is no longer active"
		if job.ParentJobID != nil {
			reason = fmt.Sprintf("orphaned: parent %s is no longer active", *job.ParentJobID)
		}
		cancelled, err := r.cancel(ctx, job.ID, reason)
		if err != nil {
			return sum, err
		}
		if cancelled {
			sum.Orphaned++
		}
	}

	if sum.StalePending+sum.StaleRunning+sum.Orphaned > 0 || r.debug {
		log.Printf("reaper: cancelled %d stale-pending, %d stale-running, %d orphaned jobs",
			sum.StalePending, sum.StaleRunning, sum.Orphaned)
	}
	return sum, nil
}

func (r *Reaper) cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	_, err := r.store.Cancel(ctx, id, reason)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
		// The job moved on between selection and cancellation; the
		// store's transition guard already resolved the race.
		if r.debug {
			log.Printf("reaper: job %s changed concurrently, skipping", id)
		}
		return false, nil
	}
	return false, err
}
