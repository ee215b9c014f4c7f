package service

import (
	"fmt"
	"time"

	"calsync-agent/internal/domain"
	"calsync-agent/internal/repository"

	"github.com/google/uuid"
)

const conflictCopySuffix = " (Conflict Copy)"

// ConflictService detects overlapping, duplicated, and concurrently edited
// events against the merged cache view and applies resolution strategies.
type ConflictService struct {
	events               repository.EventRepository
	duplicateGranularity time.Duration
	editWindow           time.Duration
	now                  func() time.Time
}

func NewConflictService(events repository.EventRepository, duplicateGranularity, editWindow time.Duration) *ConflictService {
	return &ConflictService{
		events:               events,
		duplicateGranularity: duplicateGranularity,
		editWindow:           editWindow,
		now:                  time.Now,
	}
}

// Detect classifies a candidate (freshly created or updated) against the full
// cache. A candidate can raise zero, one, or several conflicts — at most one
// per type, each carrying every event implicated in that type.
func (s *ConflictService) Detect(candidate domain.UnifiedEvent, cached []domain.CacheEntry) []domain.EventConflict {
	now := s.now()

	var overlapping, duplicated, edited []domain.UnifiedEvent

	for _, entry := range cached {
		other := entry.Event

		if other.Key() == candidate.Key() {
			// Same identity: a cached LastModified this close to now means
			// another system touched the event while we were syncing it.
			if !other.LastModified.IsZero() && absDuration(now.Sub(other.LastModified)) < s.editWindow {
				edited = append(edited, other)
			}
			continue
		}

		if other.Source == candidate.Source && candidate.Overlaps(other) {
			overlapping = append(overlapping, other)
		}

		if other.Title == candidate.Title &&
			s.truncate(other.StartTime).Equal(s.truncate(candidate.StartTime)) &&
			s.truncate(other.EndTime).Equal(s.truncate(candidate.EndTime)) {
			duplicated = append(duplicated, other)
		}
	}

	var conflicts []domain.EventConflict
	if len(duplicated) > 0 {
		conflicts = append(conflicts, s.newConflict(domain.ConflictTypeDuplicate, candidate, duplicated, now))
	}
	if len(overlapping) > 0 {
		conflicts = append(conflicts, s.newConflict(domain.ConflictTypeTimeOverlap, candidate, overlapping, now))
	}
	if len(edited) > 0 {
		conflicts = append(conflicts, s.newConflict(domain.ConflictTypeSimultaneousEdit, candidate, edited, now))
	}

	return conflicts
}

func (s *ConflictService) newConflict(t domain.ConflictType, primary domain.UnifiedEvent, others []domain.UnifiedEvent, now time.Time) domain.EventConflict {
	return domain.EventConflict{
		ID:                uuid.New().String(),
		Type:              t,
		PrimaryEvent:      primary,
		ConflictingEvents: others,
		DetectedAt:        now,
	}
}

func (s *ConflictService) truncate(t time.Time) time.Time {
	return t.UTC().Truncate(s.duplicateGranularity)
}

// AutoStrategy returns the automatic resolution for a conflict type. Time
// overlaps have none: double-booking is a user-significant fact that must be
// surfaced, not silently repaired.
func (s *ConflictService) AutoStrategy(t domain.ConflictType) (domain.ResolutionStrategy, bool) {
	switch t {
	case domain.ConflictTypeDuplicate:
		return domain.ResolutionUseRemote, true
	case domain.ConflictTypeSimultaneousEdit:
		return domain.ResolutionMerge, true
	default:
		return "", false
	}
}

// Resolve applies one strategy to one conflict and mutates the cache
// accordingly. create_separate is the only strategy that grows the cache.
func (s *ConflictService) Resolve(conflict domain.EventConflict, strategy domain.ResolutionStrategy) error {
	primary := conflict.PrimaryEvent

	switch strategy {
	case domain.ResolutionUseLocal:
		if err := s.events.Save(primary, domain.SyncStatusSynced); err != nil {
			return err
		}
		for _, other := range conflict.ConflictingEvents {
			if other.Key() == primary.Key() {
				continue
			}
			if err := s.events.PermanentlyDelete(other.Source, other.ID); err != nil {
				return err
			}
		}
		return nil

	case domain.ResolutionUseRemote:
		if len(conflict.ConflictingEvents) == 0 {
			return fmt.Errorf("no remote event to resolve with")
		}
		remote := conflict.ConflictingEvents[0]
		if remote.Key() != primary.Key() {
			if err := s.events.PermanentlyDelete(primary.Source, primary.ID); err != nil {
				return err
			}
		}
		return s.events.Save(remote, domain.SyncStatusSynced)

	case domain.ResolutionMerge:
		if len(conflict.ConflictingEvents) == 0 {
			return fmt.Errorf("no remote event to merge with")
		}
		merged := MergeEvents(primary, conflict.ConflictingEvents[0])
		return s.events.Save(merged, domain.SyncStatusSynced)

	case domain.ResolutionCreateSeparate:
		if err := s.events.Save(primary, domain.SyncStatusSynced); err != nil {
			return err
		}
		for _, other := range conflict.ConflictingEvents {
			separate := other
			separate.ID = uuid.New().String()
			separate.Title = other.Title + conflictCopySuffix
			if err := s.events.Save(separate, domain.SyncStatusSynced); err != nil {
				return err
			}
		}
		return nil

	case domain.ResolutionSkip:
		return nil

	default:
		return fmt.Errorf("unknown resolution strategy: %s", strategy)
	}
}

// MergeEvents reconciles two versions of an event field by field: text fields
// prefer the non-empty local value and fall back to the remote one; timing is
// always taken from the local side.
func MergeEvents(local, remote domain.UnifiedEvent) domain.UnifiedEvent {
	merged := local

	if merged.Title == "" {
		merged.Title = remote.Title
	}
	if merged.Location == "" {
		merged.Location = remote.Location
	}
	if merged.Description == "" {
		merged.Description = remote.Description
	}
	if merged.Organizer == "" {
		merged.Organizer = remote.Organizer
	}

	return merged
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
