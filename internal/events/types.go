// Package events defines the event subjects published by the orchestrator.
package events

// Event types for work units
const (
	WorkUnitCreated       = "work_unit.created"
	WorkUnitUpdated       = "work_unit.updated"
	WorkUnitStatusChanged = "work_unit.status_changed"
	WorkUnitDeleted       = "work_unit.deleted"
)

// Event types for the attention queue
const (
	AttentionAdded    = "attention.added"
	AttentionResolved = "attention.resolved"
)

// Event types for conflict analyses
const (
	ConflictAnalyzed = "conflict.analyzed"
	ConflictResolved = "conflict.resolved"
)

// Event types for the daemon lifecycle
const (
	DaemonStarted  = "daemon.started"
	DaemonStopping = "daemon.stopping"
)

// BuildWorkUnitSubject creates a work-unit subject for a specific chunk.
func BuildWorkUnitSubject(chunk string) string {
	return WorkUnitUpdated + "." + chunk
}

// BuildWorkUnitWildcardSubject subscribes to all work-unit update events.
func BuildWorkUnitWildcardSubject() string {
	return WorkUnitUpdated + ".*"
}
