package server

import v1 "github.com/vesys/ve/pkg/api/v1"

// CreateWorkUnitRequest creates a work unit directly, bypassing inject
// validation.
type CreateWorkUnitRequest struct {
	Chunk     string   `json:"chunk" binding:"required"`
	Phase     v1.Phase `json:"phase" binding:"required"`
	Priority  int      `json:"priority"`
	BlockedBy []string `json:"blocked_by"`
}

// InjectRequest validates a chunk and creates its work unit.
type InjectRequest struct {
	Chunk     string   `json:"chunk" binding:"required"`
	Priority  int      `json:"priority"`
	BlockedBy []string `json:"blocked_by"`
}

// InjectResponse carries the created unit and an optional validation warning.
type InjectResponse struct {
	WorkUnit *v1.WorkUnit `json:"work_unit"`
	Warning  string       `json:"warning,omitempty"`
}

// UpdateWorkUnitRequest is a partial work-unit update. Nil fields are left
// untouched.
type UpdateWorkUnitRequest struct {
	Status           *v1.UnitStatus `json:"status"`
	Priority         *int           `json:"priority"`
	BlockedBy        *[]string      `json:"blocked_by"`
	ConflictOverride *v1.Verdict    `json:"conflict_override"`
	PendingAnswer    *string        `json:"pending_answer"`
}

// PriorityRequest sets a unit's priority.
type PriorityRequest struct {
	Priority int `json:"priority"`
}

// AnswerRequest submits an operator answer to a suspended unit.
type AnswerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// ResolveRequest records an operator verdict on a conflict pair.
type ResolveRequest struct {
	OtherChunk string `json:"other_chunk" binding:"required"`
	Verdict    string `json:"verdict" binding:"required"` // parallelize | serialize
}

// AnalyzeRequest asks the oracle for a pair verdict.
type AnalyzeRequest struct {
	ChunkA string `json:"chunk_a" binding:"required"`
	ChunkB string `json:"chunk_b" binding:"required"`
}

// UpdateConfigRequest is a partial daemon config update.
type UpdateConfigRequest struct {
	MaxAgents            *int     `json:"max_agents"`
	DispatchInterval     *float64 `json:"dispatch_interval"`
	MaxCompletionRetries *int     `json:"max_completion_retries"`
	BaseBranch           *string  `json:"base_branch"`
}
