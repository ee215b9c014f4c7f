package domain

import "time"

// ReplicaRecord is the wire shape of one event in the shared replica store.
// LastModified is set by the writing device and drives last-writer-wins
// resolution; Rev carries the store's own revision for conflict re-puts.
type ReplicaRecord struct {
	Event        UnifiedEvent `json:"event"`
	DeviceID     string       `json:"device_id"`
	LastModified time.Time    `json:"last_modified"`
	Rev          string       `json:"_rev,omitempty"`
}

func (r ReplicaRecord) Key() string {
	return r.Event.Key()
}

// BatchResult reports the outcome of one replica batch write. Conflicted
// holds the keys the store rejected because a concurrent writer got there
// first; those are resolved inline, not treated as failures.
type BatchResult struct {
	Saved      int
	Conflicted []string
}
