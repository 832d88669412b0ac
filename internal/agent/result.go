// Package agent supervises autonomous coding-agent runs over a chunk's
// worktree: it builds phase prompts, installs sandbox and question-intercept
// hooks into the agent runtime, and classifies the run outcome.
package agent

import (
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// ResultKind classifies how an agent run ended.
type ResultKind string

const (
	// ResultCompleted means the agent ran to its natural end.
	ResultCompleted ResultKind = "completed"
	// ResultSuspended means a question-intercept hook stopped the agent;
	// the captured question needs an operator answer.
	ResultSuspended ResultKind = "suspended"
	// ResultFailed means the agent raised or reported an error.
	ResultFailed ResultKind = "failed"
)

// Result is the outcome of one phase run.
type Result struct {
	Kind      ResultKind
	SessionID string
	// Question is set for ResultSuspended.
	Question *v1.Question
	// Error is set for ResultFailed.
	Error string
}

// RunPhaseRequest describes one agent pass over a chunk.
type RunPhaseRequest struct {
	Chunk    string
	Phase    v1.Phase
	Worktree string
	// ResumeSession resumes a previous agent session when non-empty.
	ResumeSession string
	// InjectedAnswer is a queued operator answer, prefixed to the prompt.
	InjectedAnswer string
	// PromptOverride replaces the skill-file prompt entirely. Used for the
	// completion-reminder resume.
	PromptOverride string
	// MaxTurns caps agent turns; 0 uses the configured default.
	MaxTurns int
}
