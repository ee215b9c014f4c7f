package service

import (
	"context"
	"log"

	"calsync-agent/internal/domain"
	"calsync-agent/internal/repository"
	"calsync-agent/pkg/hash"
)

// DeltaService classifies one source's freshly fetched events against the
// cache: created, updated, unchanged, or deleted. Classification is driven by
// the durable content-hash index, so running it twice over identical input
// yields an empty delta the second time, across restarts included.
type DeltaService struct {
	events repository.EventRepository
	hashes repository.HashIndexRepository
	locks  *keyLock
}

func NewDeltaService(events repository.EventRepository, hashes repository.HashIndexRepository) *DeltaService {
	return &DeltaService{
		events: events,
		hashes: hashes,
		locks:  newKeyLock(),
	}
}

// Compute produces the SyncDelta for one source and applies it: creates and
// updates land in the cache as synced with their digests persisted, deletes
// remove cache entry and digest. Only entries this engine committed (digest
// present) are deletion candidates; entries that arrived through replication
// stay until their owning device retires them. A persistence failure for a
// single event leaves that event unclassified for this cycle; it is retried
// on the next.
func (s *DeltaService) Compute(ctx context.Context, source domain.EventSource, incoming []domain.UnifiedEvent) (*domain.SyncDelta, error) {
	cached, err := s.events.FetchBySource(source)
	if err != nil {
		return nil, &CachePersistenceError{Source: source, Err: err}
	}

	delta := domain.NewSyncDelta(source)
	cachedByID := make(map[string]domain.UnifiedEvent, len(cached))
	for _, entry := range cached {
		cachedByID[entry.Event.ID] = entry.Event
	}

	incomingIDs := make(map[string]bool, len(incoming))

	for _, event := range incoming {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Registered before validation: a transiently malformed row must
		// defer, not let the deletion pass destroy its cached copy.
		if event.ID != "" {
			incomingIDs[event.ID] = true
		}

		if err := event.Validate(); err != nil {
			log.Printf("skipping invalid event from %s: %v", source, err)
			continue
		}

		digest := hash.Content(event)

		previous, found, err := s.hashes.Get(source, event.ID)
		if err != nil {
			log.Printf("digest lookup failed for %s, deferring to next cycle: %v", event.Key(), err)
			continue
		}

		switch {
		case !found:
			if err := s.apply(event, digest); err != nil {
				log.Printf("deferring created event %s: %v", event.Key(), err)
				continue
			}
			// No digest does not mean no cache entry: a replicated record may
			// already hold a value this write just replaced.
			if prior, ok := cachedByID[event.ID]; ok {
				delta.Prior[event.ID] = prior
			}
			delta.Created = append(delta.Created, event)

		case previous != digest:
			if err := s.apply(event, digest); err != nil {
				log.Printf("deferring updated event %s: %v", event.Key(), err)
				continue
			}
			if prior, ok := cachedByID[event.ID]; ok {
				delta.Prior[event.ID] = prior
			}
			delta.Updated = append(delta.Updated, event)
		}
	}

	for _, entry := range cached {
		if incomingIDs[entry.Event.ID] {
			continue
		}

		digest, found, err := s.hashes.Get(source, entry.Event.ID)
		if err != nil {
			log.Printf("digest lookup failed for %s, deferring deletion: %v", entry.Event.Key(), err)
			continue
		}
		if !found {
			// No digest means this pass never committed the entry: it arrived
			// through replication and its lifecycle belongs to the device that
			// created it. Deleting it here would only have the next pull
			// resurrect it.
			continue
		}

		if err := s.remove(source, entry.Event.ID, digest); err != nil {
			log.Printf("deferring deletion of %s: %v", entry.Event.Key(), err)
			continue
		}
		delta.Deleted = append(delta.Deleted, entry.Event.ID)
	}

	return delta, nil
}

// apply commits one create/update. Cache write and digest write are a unit:
// if the digest write fails, the cache entry is reverted to pending so the
// event is reclassified and retried next cycle instead of surfacing a
// half-applied state.
func (s *DeltaService) apply(event domain.UnifiedEvent, digest string) error {
	unlock := s.locks.Lock(event.Key())
	defer unlock()

	if err := s.events.Save(event, domain.SyncStatusSynced); err != nil {
		return &CachePersistenceError{Source: event.Source, ID: event.ID, Err: err}
	}

	if err := s.hashes.Put(event.Source, event.ID, digest); err != nil {
		if markErr := s.events.MarkForSync(event.Source, event.ID, domain.SyncStatusPending); markErr != nil {
			log.Printf("failed to revert %s to pending: %v", event.Key(), markErr)
		}
		return &CachePersistenceError{Source: event.Source, ID: event.ID, Err: err}
	}

	return nil
}

// remove drops the digest before the cache entry. If the cache delete then
// fails the digest is restored, keeping the pair eligible for the deletion
// pass on the next cycle.
func (s *DeltaService) remove(source domain.EventSource, id, digest string) error {
	unlock := s.locks.Lock(domain.EventKey(source, id))
	defer unlock()

	if err := s.hashes.Delete(source, id); err != nil {
		return &CachePersistenceError{Source: source, ID: id, Err: err}
	}

	if err := s.events.PermanentlyDelete(source, id); err != nil {
		if putErr := s.hashes.Put(source, id, digest); putErr != nil {
			log.Printf("failed to restore digest for %s: %v", domain.EventKey(source, id), putErr)
		}
		return &CachePersistenceError{Source: source, ID: id, Err: err}
	}

	return nil
}
