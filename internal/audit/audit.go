package audit

import (
	"log"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventJobCreated    EventType = "job_created"
	EventJobCancelled  EventType = "job_cancelled"
	EventTasksCreated  EventType = "tasks_created"
	EventAuthRejected  EventType = "auth_rejected"
	EventReaperRun     EventType = "reaper_run"
	EventCompactionRun EventType = "compaction_run"
)

// Log records an audit event
// In production, this should write to a database or external audit service
func Log(eventType EventType, callerID, targetID string, details map[string]interface{}) {
	timestamp := time.Now().UTC().Format(time.RFC3339)

	log.Printf("AUDIT [%s] event=%s caller=%s target=%s details=%v",
		timestamp, eventType, callerID, targetID, details)
}

// LogWithIP records an audit event with the caller's remote address
func LogWithIP(eventType EventType, callerID, targetID, ip string, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["ip"] = ip
	Log(eventType, callerID, targetID, details)
}
