package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"calsync-agent/internal/domain"
	"calsync-agent/internal/repository"
	"calsync-agent/pkg/hash"

	"golang.org/x/sync/errgroup"
)

type ReplicationOptions struct {
	DeviceID        string
	DeviceName      string
	BatchSize       int
	Fanout          int
	PageLimit       int
	OnlineThreshold time.Duration
}

// ReplicationService keeps the local cache eventually consistent with the
// shared replica store: bounded-batch pushes, cursor-paginated pulls,
// last-writer-wins reconciliation, and device presence tracking.
type ReplicationService struct {
	events  repository.EventRepository
	replica repository.ReplicaRepository
	opts    ReplicationOptions
	now     func() time.Time

	mu          sync.Mutex
	state       domain.SyncState
	online      bool
	subscribers []chan domain.SyncState
}

func NewReplicationService(events repository.EventRepository, replica repository.ReplicaRepository, opts ReplicationOptions) *ReplicationService {
	return &ReplicationService{
		events:  events,
		replica: replica,
		opts:    opts,
		now:     time.Now,
		state:   domain.SyncStateIdle,
	}
}

func (s *ReplicationService) State() domain.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel receiving state transitions. Slow consumers
// drop transitions instead of blocking replication.
func (s *ReplicationService) Subscribe() <-chan domain.SyncState {
	ch := make(chan domain.SyncState, 8)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

func (s *ReplicationService) setState(state domain.SyncState) {
	s.mu.Lock()
	s.state = state
	subscribers := s.subscribers
	s.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- state:
		default:
		}
	}
}

// Sync runs one full replication attempt: presence refresh, push, pull,
// reconcile. Per-batch failures are isolated; the attempt fails only when the
// replica is unreachable outright.
func (s *ReplicationService) Sync(ctx context.Context) error {
	if !s.tryStart() {
		return ErrSyncInProgress
	}

	if err := s.refreshPresence(); err != nil {
		s.setState(domain.SyncStateFailed)
		s.setState(domain.SyncStateIdle)
		return err
	}

	pushErr := s.push(ctx)
	pullErr := s.pullAndMerge(ctx)

	if err := errors.Join(pushErr, pullErr); err != nil {
		s.setState(domain.SyncStateFailed)
		s.setState(domain.SyncStateIdle)
		return err
	}

	s.setState(domain.SyncStateCompleted)
	s.setState(domain.SyncStateIdle)
	return nil
}

func (s *ReplicationService) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.SyncStateSyncing {
		return false
	}
	s.state = domain.SyncStateSyncing
	for _, ch := range s.subscribers {
		select {
		case ch <- domain.SyncStateSyncing:
		default:
		}
	}
	return true
}

// refreshPresence registers this device in the replica's registry. Success is
// the network-available signal; failure flips the coordinator offline and
// skips replication for the cycle.
func (s *ReplicationService) refreshPresence() error {
	err := s.replica.RegisterDevice(domain.DeviceRecord{
		DeviceID:   s.opts.DeviceID,
		DeviceName: s.opts.DeviceName,
		LastSeen:   s.now(),
	})

	s.mu.Lock()
	wasOnline := s.online
	s.online = err == nil
	s.mu.Unlock()

	if err != nil {
		if wasOnline {
			log.Printf("replica unreachable, going offline: %v", err)
		}
		return err
	}

	if !wasOnline {
		log.Printf("replica reachable, device %s registered", s.opts.DeviceID)
	}
	return nil
}

func (s *ReplicationService) push(ctx context.Context) error {
	entries, err := s.events.FetchAll()
	if err != nil {
		return err
	}

	now := s.now()
	records := make([]domain.ReplicaRecord, 0, len(entries))
	byKey := make(map[string]domain.ReplicaRecord, len(entries))
	for _, entry := range entries {
		record := domain.ReplicaRecord{
			Event:        entry.Event,
			DeviceID:     s.opts.DeviceID,
			LastModified: now,
		}
		if !entry.Event.LastModified.IsZero() {
			record.LastModified = entry.Event.LastModified
		}
		records = append(records, record)
		byKey[record.Key()] = record
	}

	var (
		errMu     sync.Mutex
		batchErrs []error
	)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Fanout)

	for i := 0; i < len(records); i += s.opts.BatchSize {
		batch := records[i:min(i+s.opts.BatchSize, len(records))]
		batchIndex := i / s.opts.BatchSize

		g.Go(func() error {
			result, err := s.replica.SaveBatch(batch)
			if err != nil {
				errMu.Lock()
				batchErrs = append(batchErrs, &ReplicaBatchError{Batch: batchIndex, Err: err})
				errMu.Unlock()
				return nil // other batches proceed
			}

			for _, key := range result.Conflicted {
				if local, ok := byKey[key]; ok {
					if err := s.resolveWriteConflict(key, local); err != nil {
						log.Printf("write conflict resolution failed for %s: %v", key, err)
					}
				}
			}
			return nil
		})
	}

	g.Wait()
	return errors.Join(batchErrs...)
}

// resolveWriteConflict applies last-writer-wins when the replica rejects a
// record because a concurrent writer updated it first. Strictly greater
// LastModified wins; ties keep the server's current value.
func (s *ReplicationService) resolveWriteConflict(key string, local domain.ReplicaRecord) error {
	server, err := s.replica.GetRecord(key)
	if err != nil {
		return err
	}
	if server == nil {
		return s.replica.SaveRecord(local)
	}

	if local.LastModified.After(server.LastModified) {
		local.Rev = server.Rev
		return s.replica.SaveRecord(local)
	}

	// Server wins: absorb its value locally.
	return s.events.Save(server.Event, domain.SyncStatusSynced)
}

// pullAndMerge accumulates the full remote set via cursor pagination, then
// reconciles it against the cache with last-writer-wins.
func (s *ReplicationService) pullAndMerge(ctx context.Context) error {
	var remote []domain.ReplicaRecord
	cursor := ""
	page := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		records, next, err := s.replica.FetchPage(cursor, s.opts.PageLimit)
		if err != nil {
			return &ReplicaBatchError{Batch: page, Err: err}
		}
		remote = append(remote, records...)
		if next == "" {
			break
		}
		cursor = next
		page++
	}

	for _, record := range remote {
		if err := s.mergeRemote(record); err != nil {
			log.Printf("failed to merge remote record %s: %v", record.Key(), err)
		}
	}

	return nil
}

func (s *ReplicationService) mergeRemote(record domain.ReplicaRecord) error {
	local, err := s.events.Get(record.Event.Source, record.Event.ID)
	if err != nil {
		return err
	}

	if local == nil {
		return s.events.Save(record.Event, domain.SyncStatusSynced)
	}

	if hash.Content(local.Event) == hash.Content(record.Event) {
		return nil
	}

	// Strictly newer local survives and wins on the next push; anything else
	// takes the replica's value.
	if local.Event.LastModified.After(record.LastModified) {
		return nil
	}

	return s.events.Save(record.Event, domain.SyncStatusSynced)
}

// HandleRemoteChange absorbs changes announced by another device: pull and
// merge only, no push. Intended to run from the change-feed subscriber.
func (s *ReplicationService) HandleRemoteChange(ctx context.Context) error {
	if !s.tryStart() {
		return ErrSyncInProgress
	}

	if err := s.pullAndMerge(ctx); err != nil {
		s.setState(domain.SyncStateFailed)
		s.setState(domain.SyncStateIdle)
		return err
	}

	s.setState(domain.SyncStateCompleted)
	s.setState(domain.SyncStateIdle)
	return nil
}

// ListOnlineDevices filters the registry by the staleness threshold.
func (s *ReplicationService) ListOnlineDevices() ([]domain.DeviceResponse, error) {
	devices, err := s.replica.ListDevices()
	if err != nil {
		return nil, err
	}

	now := s.now()
	online := make([]domain.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		if !d.IsOnline(now, s.opts.OnlineThreshold) {
			continue
		}
		online = append(online, domain.DeviceResponse{
			DeviceID:   d.DeviceID,
			DeviceName: d.DeviceName,
			LastSeen:   d.LastSeen,
			IsOnline:   true,
		})
	}

	return online, nil
}
