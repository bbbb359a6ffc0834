package maintenance

import (
	"context"
	"log"
	"time"

	"rackops/internal/store"
)

const (
	// Deletion batch size; bounds the size of any single datastore
	// operation.
	defaultBatchSize = 100

	// Pause between batches to bound sustained load.
	defaultBatchPause = 250 * time.Millisecond
)

// Compactor removes terminal jobs (and their tasks) older than the
// retention window, in bounded batches. Preview mode reports what a run
// would remove without mutating anything.
type Compactor struct {
	store         *store.Store
	retentionDays int
	pendingAge    time.Duration
	runningAge    time.Duration
	batchSize     int
	batchPause    time.Duration
	debug         bool
}

func NewCompactor(s *store.Store, retentionDays int, pendingAge, runningAge time.Duration, debug bool) *Compactor {
	return &Compactor{
		store:         s,
		retentionDays: retentionDays,
		pendingAge:    pendingAge,
		runningAge:    runningAge,
		batchSize:     defaultBatchSize,
		batchPause:    defaultBatchPause,
		debug:         debug,
	}
}

type Preview struct {
	RetentionDays  int            `json:"retention_days"`
	Cutoff         time.Time      `json:"cutoff"`
	TotalJobs      int            `json:"total_jobs"`
	BackgroundJobs int            `json:"background_jobs"`
	UserJobs       int            `json:"user_jobs"`
	ByKind         map[string]int `json:"by_kind"`
	Tasks          int            `json:"tasks"`
	StalePending   int            `json:"stale_pending"`
	StaleRunning   int            `json:"stale_running"`
}

type Result struct {
	DeletedJobs  int64 `json:"deleted_jobs"`
	DeletedTasks int64 `json:"deleted_tasks"`
	Batches      int   `json:"batches"`
}

func (c *Compactor) days(override int) int {
	if override > 0 {
		return override
	}
	return c.retentionDays
}

// Preview aggregates eligible jobs by kind, splits background/system kinds
// from user-initiated ones, and adds the current stale counts as
// informational context. No mutation.
func (c *Compactor) Preview(ctx context.Context, retentionDays int) (*Preview, error) {
	days := c.days(retentionDays)
	now := time.Now()
	cutoff := now.AddDate(0, 0, -days)

	counts, err := c.store.ExpiredCountsByKind(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		RetentionDays: days,
		Cutoff:        cutoff,
		ByKind:        map[string]int{},
	}
	registry := c.store.Kinds()
	for _, kc := range counts {
		p.ByKind[kc.Kind] = kc.Count
		p.TotalJobs += kc.Count
		if registry.IsSystem(kc.Kind) {
			p.BackgroundJobs += kc.Count
		} else {
			p.UserJobs += kc.Count
		}
	}

	p.Tasks, err = c.store.ExpiredTaskCount(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	p.StalePending, p.StaleRunning, err = c.store.StaleCounts(ctx,
		now.Add(-c.pendingAge), now.Add(-c.runningAge))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Run deletes eligible jobs in batches, tasks strictly before jobs within
// each batch, until a batch selection comes back empty. An error stops the
// run; whatever was already deleted stays deleted and the next run resumes
// where this one left off.
func (c *Compactor) Run(ctx context.Context, retentionDays int, includeBackground bool) (*Result, error) {
	days := c.days(retentionDays)
	cutoff := time.Now().AddDate(0, 0, -days)

	var exclude []string
	if !includeBackground {
		exclude = c.store.Kinds().SystemKinds()
	}

	res := &Result{}
	for {
		ids, err := c.store.ExpiredJobBatch(ctx, cutoff, exclude, c.batchSize)
		if err != nil {
			return res, err
		}
		if len(ids) == 0 {
			break
		}

		tasks, jobs, err := c.store.DeleteJobBatch(ctx, ids)
		if err != nil {
			return res, err
		}
		res.DeletedTasks += tasks
		res.DeletedJobs += jobs
		res.Batches++
		if c.debug {
			log.Printf("compactor: batch %d removed %d jobs, %d tasks", res.Batches, jobs, tasks)
		}

		if c.batchPause > 0 {
			select {
			case <-time.After(c.batchPause):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
	}

	if res.DeletedJobs > 0 || c.debug {
		log.Printf("compactor: removed %d jobs and %d tasks older than %d days",
			res.DeletedJobs, res.DeletedTasks, days)
	}
	return res, nil
}
