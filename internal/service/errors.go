package service

import (
	"errors"
	"fmt"

	"calsync-agent/internal/domain"
)

// ErrSyncInProgress is returned when a sync cycle is requested while another
// one is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// AdapterFetchError wraps a source adapter failure. The source is skipped for
// the cycle; the rest of the cycle proceeds.
type AdapterFetchError struct {
	Source domain.EventSource
	Err    error
}

func (e *AdapterFetchError) Error() string {
	return fmt.Sprintf("source %s fetch failed: %v", e.Source, e.Err)
}

func (e *AdapterFetchError) Unwrap() error { return e.Err }

// CachePersistenceError wraps a failed cache or hash-index write for a single
// event. The event's mutation is abandoned as a unit and retried next cycle.
type CachePersistenceError struct {
	Source domain.EventSource
	ID     string
	Err    error
}

func (e *CachePersistenceError) Error() string {
	return fmt.Sprintf("cache write failed for %s: %v", domain.EventKey(e.Source, e.ID), e.Err)
}

func (e *CachePersistenceError) Unwrap() error { return e.Err }

// ReplicaBatchError wraps a failed replica push or pull batch. Other batches
// are unaffected; the failed one is retried on the next replication pass.
type ReplicaBatchError struct {
	Batch int
	Err   error
}

func (e *ReplicaBatchError) Error() string {
	return fmt.Sprintf("replica batch %d failed: %v", e.Batch, e.Err)
}

func (e *ReplicaBatchError) Unwrap() error { return e.Err }
