package domain

import "time"

type ConflictType string

const (
	ConflictTypeDuplicate        ConflictType = "duplicate"
	ConflictTypeTimeOverlap      ConflictType = "time_overlap"
	ConflictTypeSimultaneousEdit ConflictType = "simultaneous_edit"
)

type ResolutionStrategy string

const (
	ResolutionUseLocal       ResolutionStrategy = "use_local"
	ResolutionUseRemote      ResolutionStrategy = "use_remote"
	ResolutionMerge          ResolutionStrategy = "merge"
	ResolutionCreateSeparate ResolutionStrategy = "create_separate"
	ResolutionSkip           ResolutionStrategy = "skip"
)

// EventConflict is a detected inconsistency between a candidate event and the
// cache. Resolution is terminal: once resolved the conflict is discarded, no
// history is kept beyond metrics.
type EventConflict struct {
	ID                 string             `json:"id"`
	Type               ConflictType       `json:"type"`
	PrimaryEvent       UnifiedEvent       `json:"primary_event"`
	ConflictingEvents  []UnifiedEvent     `json:"conflicting_events"`
	DetectedAt         time.Time          `json:"detected_at"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy,omitempty"`
}

type ResolveConflictRequest struct {
	Strategy ResolutionStrategy `json:"strategy" validate:"required,oneof=use_local use_remote merge create_separate skip"`
}
