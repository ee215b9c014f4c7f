package domain

import (
	"fmt"
	"time"
)

type EventSource string

const (
	SourceLocal   EventSource = "local"
	SourceGoogle  EventSource = "google"
	SourceOutlook EventSource = "outlook"
	SourceICS     EventSource = "ics"
)

type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// UnifiedEvent is the canonical, source-agnostic calendar event. Identity is
// (ID, Source); the same real-world event seen through two sources is two
// distinct events until merged. Instances are value types — an update is a
// new value with the same identity.
type UnifiedEvent struct {
	ID            string      `json:"id"`
	Source        EventSource `json:"source"`
	Title         string      `json:"title"`
	Location      string      `json:"location,omitempty"`
	Description   string      `json:"description,omitempty"`
	StartTime     time.Time   `json:"start_time"`
	EndTime       time.Time   `json:"end_time"`
	IsAllDay      bool        `json:"is_all_day"`
	Organizer     string      `json:"organizer,omitempty"`
	CalendarID    string      `json:"calendar_id,omitempty"`
	CalendarName  string      `json:"calendar_name,omitempty"`
	CalendarColor string      `json:"calendar_color,omitempty"`
	LastModified  time.Time   `json:"last_modified,omitempty"`

	// ProviderRef is an opaque, source-scoped handle the owning adapter can
	// use to re-resolve the raw provider event on demand.
	ProviderRef string `json:"provider_ref,omitempty"`
}

// EventKey namespaces an event id with its source. Cache and hash-index
// documents are keyed this way so ids shared across sources never collide.
func EventKey(source EventSource, id string) string {
	return fmt.Sprintf("%s:%s", source, id)
}

func (e UnifiedEvent) Key() string {
	return EventKey(e.Source, e.ID)
}

func (e UnifiedEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event has no id")
	}
	if e.Source == "" {
		return fmt.Errorf("event %s has no source", e.ID)
	}
	if e.EndTime.Before(e.StartTime) {
		return fmt.Errorf("event %s ends before it starts", e.Key())
	}
	return nil
}

// Overlaps reports whether two events occupy overlapping time ranges.
// Intervals are half-open: back-to-back events (end == start) do not overlap.
func (e UnifiedEvent) Overlaps(other UnifiedEvent) bool {
	return e.StartTime.Before(other.EndTime) && other.StartTime.Before(e.EndTime)
}

// CacheEntry is an event plus its sync status as held by the local durable
// cache. Mutated only through delta engine or conflict resolver output.
type CacheEntry struct {
	Event      UnifiedEvent `json:"event"`
	SyncStatus SyncStatus   `json:"sync_status"`
}
