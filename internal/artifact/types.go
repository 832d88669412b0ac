package artifact

import (
	"path/filepath"
	"regexp"
)

// Type identifies an artifact kind. Each type owns a directory under docs/
// and a main file carrying its frontmatter.
type Type string

const (
	TypeChunk         Type = "chunk"
	TypeNarrative     Type = "narrative"
	TypeInvestigation Type = "investigation"
	TypeSubsystem     Type = "subsystem"
)

// Types lists all artifact types in a stable order.
var Types = []Type{TypeChunk, TypeNarrative, TypeInvestigation, TypeSubsystem}

// Dir returns the artifact directory for a type, relative to the repo root.
func (t Type) Dir() string {
	switch t {
	case TypeChunk:
		return filepath.Join("docs", "chunks")
	case TypeNarrative:
		return filepath.Join("docs", "narratives")
	case TypeInvestigation:
		return filepath.Join("docs", "investigations")
	case TypeSubsystem:
		return filepath.Join("docs", "subsystems")
	}
	return ""
}

// MainFile returns the frontmatter-bearing file for a type.
func (t Type) MainFile() string {
	switch t {
	case TypeChunk:
		return "GOAL.md"
	case TypeNarrative:
		return "NARRATIVE.md"
	case TypeInvestigation:
		return "INVESTIGATION.md"
	case TypeSubsystem:
		return "SUBSYSTEM.md"
	}
	return ""
}

// ChunkStatus is the lifecycle status of a chunk.
type ChunkStatus string

const (
	ChunkFuture       ChunkStatus = "FUTURE"
	ChunkImplementing ChunkStatus = "IMPLEMENTING"
	ChunkActive       ChunkStatus = "ACTIVE"
	ChunkSuperseded   ChunkStatus = "SUPERSEDED"
	ChunkHistorical   ChunkStatus = "HISTORICAL"
)

// ValidChunkStatus reports whether s is a known chunk status.
func ValidChunkStatus(s ChunkStatus) bool {
	switch s {
	case ChunkFuture, ChunkImplementing, ChunkActive, ChunkSuperseded, ChunkHistorical:
		return true
	}
	return false
}

// chunkTransitions is the normal status machine. The orchestrator may
// additionally demote IMPLEMENTING back to FUTURE when displacing a chunk;
// that pair is handled by AllowTransition's orchestration flag.
var chunkTransitions = map[ChunkStatus][]ChunkStatus{
	ChunkFuture:       {ChunkImplementing, ChunkHistorical},
	ChunkImplementing: {ChunkActive, ChunkHistorical},
	ChunkActive:       {ChunkSuperseded, ChunkHistorical},
	ChunkSuperseded:   {ChunkHistorical},
	ChunkHistorical:   {},
}

// AllowTransition reports whether from→to is permitted. Displacement
// (IMPLEMENTING→FUTURE) is only allowed for orchestration callers.
func AllowTransition(from, to ChunkStatus, orchestration bool) bool {
	if orchestration && from == ChunkImplementing && to == ChunkFuture {
		return true
	}
	for _, next := range chunkTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TipEligible reports whether an artifact of the given type and status can
// be a causal tip. External references are always eligible and are handled
// by the index directly.
func TipEligible(t Type, status string) bool {
	switch t {
	case TypeChunk:
		return status == string(ChunkActive) || status == string(ChunkImplementing)
	case TypeNarrative:
		return status == "ACTIVE"
	case TypeInvestigation, TypeSubsystem:
		return true
	}
	return false
}

// Identifier validation patterns.
var (
	nameRe     = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	shaRe      = regexp.MustCompile(`^[0-9a-f]{40}$`)
	frictionRe = regexp.MustCompile(`^F\d+$`)
)

// ValidName reports whether s is a valid artifact name (directory-name rules).
func ValidName(s string) bool {
	return nameRe.MatchString(s)
}

// ValidSHA reports whether s is a full 40-hex commit SHA.
func ValidSHA(s string) bool {
	return shaRe.MatchString(s)
}

// ValidFrictionID reports whether s is a friction-log entry ID.
func ValidFrictionID(s string) bool {
	return frictionRe.MatchString(s)
}
