package maintenance

import (
	"context"
	"log"
	"time"
)

// Scheduler drives the reaper and compactor on their configured intervals.
type Scheduler struct {
	reaper          *Reaper
	compactor       *Compactor
	reapInterval    time.Duration
	compactInterval time.Duration
	stop            chan struct{}
}

func NewScheduler(r *Reaper, c *Compactor, reapInterval, compactInterval time.Duration) *Scheduler {
	return &Scheduler{
		reaper:          r,
		compactor:       c,
		reapInterval:    reapInterval,
		compactInterval: compactInterval,
		stop:            make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) run() {
	// Reap once on start so a restart doesn't wait a full interval
	s.reap()

	reapTicker := time.NewTicker(s.reapInterval)
	defer reapTicker.Stop()
	compactTicker := time.NewTicker(s.compactInterval)
	defer compactTicker.Stop()

	for {
		select {
		case <-reapTicker.C:
			s.reap()
		case <-compactTicker.C:
			s.compact()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) reap() {
	if _, err := s.reaper.Run(context.Background()); err != nil {
		log.Printf("reaper run failed: %v", err)
	}
}

func (s *Scheduler) compact() {
	// Scheduled runs compact background jobs too; operators can exclude
	// them on manual runs.
	if _, err := s.compactor.Run(context.Background(), 0, true); err != nil {
		log.Printf("compactor run failed: %v", err)
	}
}
