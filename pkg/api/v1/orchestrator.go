// Package v1 defines the wire types shared by the orchestrator daemon, the
// HTTP API, and the CLI.
package v1

import "time"

// Phase is an agent pass over a chunk.
type Phase string

const (
	PhaseGoal      Phase = "GOAL"
	PhasePlan      Phase = "PLAN"
	PhaseImplement Phase = "IMPLEMENT"
	PhaseComplete  Phase = "COMPLETE"
)

// ValidPhase reports whether p is a known phase.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseGoal, PhasePlan, PhaseImplement, PhaseComplete:
		return true
	}
	return false
}

// NextPhase returns the phase that follows p and whether one exists.
// COMPLETE has no successor; finishing it makes the work unit DONE.
func NextPhase(p Phase) (Phase, bool) {
	switch p {
	case PhaseGoal:
		return PhasePlan, true
	case PhasePlan:
		return PhaseImplement, true
	case PhaseImplement:
		return PhaseComplete, true
	}
	return "", false
}

// UnitStatus is the scheduler-facing status of a work unit.
type UnitStatus string

const (
	StatusReady          UnitStatus = "READY"
	StatusRunning        UnitStatus = "RUNNING"
	StatusBlocked        UnitStatus = "BLOCKED"
	StatusNeedsAttention UnitStatus = "NEEDS_ATTENTION"
	StatusDone           UnitStatus = "DONE"
)

// ValidUnitStatus reports whether s is a known status.
func ValidUnitStatus(s UnitStatus) bool {
	switch s {
	case StatusReady, StatusRunning, StatusBlocked, StatusNeedsAttention, StatusDone:
		return true
	}
	return false
}

// Verdict is a conflict-oracle classification of a chunk pair.
type Verdict string

const (
	VerdictIndependent Verdict = "INDEPENDENT"
	VerdictSerialize   Verdict = "SERIALIZE"
	VerdictAskOperator Verdict = "ASK_OPERATOR"
)

// ValidVerdict reports whether v is a known verdict.
func ValidVerdict(v Verdict) bool {
	switch v {
	case VerdictIndependent, VerdictSerialize, VerdictAskOperator:
		return true
	}
	return false
}

// WorkUnit is the orchestrator's runtime handle on a chunk.
type WorkUnit struct {
	Chunk             string             `json:"chunk"`
	Phase             Phase              `json:"phase"`
	Status            UnitStatus         `json:"status"`
	Priority          int                `json:"priority"`
	BlockedBy         []string           `json:"blocked_by"`
	Worktree          string             `json:"worktree,omitempty"`
	SessionID         string             `json:"session_id,omitempty"`
	PendingAnswer     string             `json:"pending_answer,omitempty"`
	AttentionReason   string             `json:"attention_reason,omitempty"`
	ConflictVerdicts  map[string]Verdict `json:"conflict_verdicts,omitempty"`
	ConflictOverride  Verdict            `json:"conflict_override,omitempty"`
	DisplacedChunk    string             `json:"displaced_chunk,omitempty"`
	CompletionRetries int                `json:"completion_retries"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// IsBlockedBy reports whether the unit lists chunk in blocked_by.
func (u *WorkUnit) IsBlockedBy(chunk string) bool {
	for _, b := range u.BlockedBy {
		if b == chunk {
			return true
		}
	}
	return false
}

// StatusTransition is one row of the append-only status history.
// OldStatus is empty for the creation row.
type StatusTransition struct {
	Chunk     string     `json:"chunk"`
	OldStatus UnitStatus `json:"old_status,omitempty"`
	NewStatus UnitStatus `json:"new_status"`
	At        time.Time  `json:"at"`
}

// ConflictAnalysis is a cached oracle result for a canonical chunk pair
// (ChunkA < ChunkB lexicographically).
type ConflictAnalysis struct {
	ChunkA    string    `json:"chunk_a"`
	ChunkB    string    `json:"chunk_b"`
	Verdict   Verdict   `json:"verdict"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// OrchestratorConfig is the operator-tunable daemon configuration.
type OrchestratorConfig struct {
	MaxAgents            int     `json:"max_agents"`
	DispatchInterval     float64 `json:"dispatch_interval"` // seconds
	MaxCompletionRetries int     `json:"max_completion_retries"`
	BaseBranch           string  `json:"base_branch"`
}

// AttentionItem is a NEEDS_ATTENTION work unit enriched for operator triage.
type AttentionItem struct {
	Chunk       string    `json:"chunk"`
	Phase       Phase     `json:"phase"`
	Reason      string    `json:"reason"`
	SessionID   string    `json:"session_id,omitempty"`
	BlocksCount int       `json:"blocks_count"`
	TimeWaiting float64   `json:"time_waiting"` // seconds
	UpdatedAt   time.Time `json:"updated_at"`
}

// QuestionOption is one selectable answer of an intercepted operator question.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is the normalised form of an intercepted ask-user-question tool call.
type Question struct {
	Text        string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multi_select,omitempty"`
	// Questions carries the full set when the tool call bundled several.
	Questions []Question `json:"questions,omitempty"`
}

// DaemonStatus is the /status response body.
type DaemonStatus struct {
	PID          int                `json:"pid"`
	Host         string             `json:"host"`
	Port         int                `json:"port"`
	StartedAt    time.Time          `json:"started_at"`
	Uptime       float64            `json:"uptime"` // seconds
	StatusCounts map[UnitStatus]int `json:"status_counts"`
	Running      []string           `json:"running"`
}
