package domain

// SyncDelta is the created/updated/deleted classification of one source's
// events relative to the cache, for one sync cycle. Deleted holds event ids
// only — the full event is already gone from the incoming set. Prior holds
// the cache entry each updated event overwrote, keyed by event id, so
// conflict detection can compare against the replaced value instead of the
// candidate's own fresh copy.
type SyncDelta struct {
	Source  EventSource             `json:"source"`
	Created []UnifiedEvent          `json:"created"`
	Updated []UnifiedEvent          `json:"updated"`
	Deleted []string                `json:"deleted"`
	Prior   map[string]UnifiedEvent `json:"-"`
}

func NewSyncDelta(source EventSource) *SyncDelta {
	return &SyncDelta{
		Source:  source,
		Created: []UnifiedEvent{},
		Updated: []UnifiedEvent{},
		Deleted: []string{},
		Prior:   make(map[string]UnifiedEvent),
	}
}

func (d *SyncDelta) IsEmpty() bool {
	return len(d.Created) == 0 && len(d.Updated) == 0 && len(d.Deleted) == 0
}

func (d *SyncDelta) TotalChanges() int {
	return len(d.Created) + len(d.Updated) + len(d.Deleted)
}
