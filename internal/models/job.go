package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TransitionSources returns the statuses a job must currently be in for a
// transition to the given status to be valid. Empty means the target status
// is never reachable via a transition (pending is creation-only).
func TransitionSources(to JobStatus) []JobStatus {
	switch to {
	case JobRunning:
		return []JobStatus{JobPending}
	case JobCompleted, JobFailed:
		return []JobStatus{JobRunning}
	case JobCancelled:
		return []JobStatus{JobPending, JobRunning}
	}
	return nil
}

type Job struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	Kind           string          `db:"kind" json:"kind"`
	Status         JobStatus       `db:"status" json:"status"`
	TargetScope    json.RawMessage `db:"target_scope" json:"target_scope"`
	Details        json.RawMessage `db:"details" json:"details"`
	CreatedBy      *string         `db:"created_by" json:"created_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	StartedAt      *time.Time      `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at"`
	ScheduleAt     *time.Time      `db:"schedule_at" json:"schedule_at"`
	ParentJobID    *uuid.UUID      `db:"parent_job_id" json:"parent_job_id"`
	ComponentOrder *int            `db:"component_order" json:"component_order"`
}
