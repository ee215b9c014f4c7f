package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"calsync-agent/internal/adapter"
	"calsync-agent/internal/domain"
	"calsync-agent/internal/repository"

	"golang.org/x/sync/errgroup"
)

// OrchestratorService drives one reconciliation cycle: fetch every source in
// parallel, compute per-source deltas, join, detect conflicts over the merged
// view, auto-resolve what policy allows, replicate, and publish status.
type OrchestratorService struct {
	adapters      []adapter.SourceAdapter
	delta         *DeltaService
	conflicts     *ConflictService
	replication   *ReplicationService
	events        repository.EventRepository
	sourceTimeout time.Duration

	mu             sync.Mutex
	isSyncing      bool
	lastSyncDate   *time.Time
	syncErrors     []string
	pending        []domain.EventConflict
	cycles         int
	totalDuration  time.Duration
	lastCompressed float64
	totalCached    int
}

func NewOrchestratorService(
	delta *DeltaService,
	conflicts *ConflictService,
	replication *ReplicationService,
	events repository.EventRepository,
	sourceTimeout time.Duration,
) *OrchestratorService {
	return &OrchestratorService{
		delta:         delta,
		conflicts:     conflicts,
		replication:   replication,
		events:        events,
		sourceTimeout: sourceTimeout,
	}
}

func (o *OrchestratorService) RegisterAdapter(a adapter.SourceAdapter) {
	o.adapters = append(o.adapters, a)
}

// SyncNow runs one full cycle. Per-source failures and timeouts exclude that
// source only; the cycle continues with the rest.
func (o *OrchestratorService) SyncNow(ctx context.Context, rng adapter.DateRange) error {
	o.mu.Lock()
	if o.isSyncing {
		o.mu.Unlock()
		return ErrSyncInProgress
	}
	o.isSyncing = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.isSyncing = false
		o.mu.Unlock()
	}()

	start := time.Now()

	var (
		resultMu  sync.Mutex
		deltas    []*domain.SyncDelta
		cycleErrs []string
		totalSeen int
	)

	recordErr := func(err error) {
		resultMu.Lock()
		cycleErrs = append(cycleErrs, err.Error())
		resultMu.Unlock()
	}

	// One task per source; all per-source passes join here before conflict
	// detection, which needs the complete merged view.
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range o.adapters {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, o.sourceTimeout)
			defer cancel()

			incoming, err := a.FetchEvents(sctx, rng)
			if err != nil {
				recordErr(&AdapterFetchError{Source: a.Source(), Err: err})
				return nil
			}

			delta, err := o.delta.Compute(sctx, a.Source(), incoming)
			if err != nil {
				recordErr(fmt.Errorf("delta for %s failed: %w", a.Source(), err))
				return nil
			}

			resultMu.Lock()
			deltas = append(deltas, delta)
			totalSeen += len(incoming)
			resultMu.Unlock()
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	pending, err := o.detectAndResolve(deltas, recordErr)
	if err != nil {
		recordErr(err)
	}

	if err := o.replication.Sync(ctx); err != nil {
		recordErr(err)
	}

	cached, err := o.events.FetchAll()
	if err != nil {
		recordErr(err)
	}

	totalChanges := 0
	for _, d := range deltas {
		totalChanges += d.TotalChanges()
	}

	compression := 0.0
	if totalSeen > 0 {
		compression = 1 - float64(totalChanges)/float64(totalSeen)
	}

	now := time.Now()
	o.mu.Lock()
	o.lastSyncDate = &now
	o.syncErrors = cycleErrs
	o.pending = pending
	o.cycles++
	o.totalDuration += time.Since(start)
	o.lastCompressed = compression
	o.totalCached = len(cached)
	o.mu.Unlock()

	log.Printf("sync cycle done: %d sources, %d events seen, %d changes, %d pending conflicts, %d errors",
		len(o.adapters), totalSeen, totalChanges, len(pending), len(cycleErrs))

	return nil
}

// detectAndResolve runs conflict detection over every created/updated
// candidate against the merged cache view, applies the auto-resolution
// policy, and returns the conflicts that need an explicit decision.
func (o *OrchestratorService) detectAndResolve(deltas []*domain.SyncDelta, recordErr func(error)) ([]domain.EventConflict, error) {
	cached, err := o.events.FetchAll()
	if err != nil {
		return nil, err
	}

	var pending []domain.EventConflict

	for _, delta := range deltas {
		candidates := append(append([]domain.UnifiedEvent{}, delta.Created...), delta.Updated...)
		for _, candidate := range candidates {
			view := detectionView(cached, candidate, delta.Prior)
			for _, conflict := range o.conflicts.Detect(candidate, view) {
				strategy, ok := o.conflicts.AutoStrategy(conflict.Type)
				if !ok {
					if err := o.events.MarkForSync(candidate.Source, candidate.ID, domain.SyncStatusConflict); err != nil {
						recordErr(err)
					}
					pending = append(pending, conflict)
					continue
				}

				if err := o.conflicts.Resolve(conflict, strategy); err != nil {
					recordErr(fmt.Errorf("auto-resolution of %s conflict failed: %w", conflict.Type, err))
					continue
				}

				// The resolution mutated the cache; later candidates must not
				// detect against entries that no longer exist.
				if cached, err = o.events.FetchAll(); err != nil {
					return pending, err
				}
			}
		}
	}

	return pending, nil
}

// detectionView builds the cache view one candidate is detected against. The
// delta engine has already overwritten the candidate's own entry, so the
// same-key slot is substituted with the value the update replaced —
// simultaneous-edit detection and merge need what was overwritten, not the
// candidate echoed back. Freshly created candidates have no prior value and
// their own entry is dropped.
func detectionView(cached []domain.CacheEntry, candidate domain.UnifiedEvent, prior map[string]domain.UnifiedEvent) []domain.CacheEntry {
	view := make([]domain.CacheEntry, 0, len(cached))
	for _, entry := range cached {
		if entry.Event.Key() == candidate.Key() {
			previous, ok := prior[candidate.ID]
			if !ok {
				continue
			}
			entry.Event = previous
		}
		view = append(view, entry)
	}
	return view
}

// ResolvePending applies an explicit decision to a surfaced conflict.
func (o *OrchestratorService) ResolvePending(conflictID string, strategy domain.ResolutionStrategy) error {
	o.mu.Lock()
	index := -1
	var conflict domain.EventConflict
	for i, c := range o.pending {
		if c.ID == conflictID {
			index = i
			conflict = c
			break
		}
	}
	o.mu.Unlock()

	if index < 0 {
		return fmt.Errorf("conflict %s not found", conflictID)
	}

	if err := o.conflicts.Resolve(conflict, strategy); err != nil {
		return err
	}

	o.mu.Lock()
	o.pending = append(o.pending[:index], o.pending[index+1:]...)
	o.mu.Unlock()

	return nil
}

// HandleRemoteChange reacts to a replica change notification: pull and merge
// without pushing, so edits from other devices land promptly.
func (o *OrchestratorService) HandleRemoteChange(ctx context.Context) {
	if err := o.replication.HandleRemoteChange(ctx); err != nil {
		log.Printf("remote change refresh failed: %v", err)
	}
}

// Cleanup trims cache entries that ended before the cutoff.
func (o *OrchestratorService) Cleanup(cutoff time.Time) {
	removed, err := o.events.CleanupOlderThan(cutoff)
	if err != nil {
		log.Printf("cache cleanup failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("cache cleanup removed %d events", removed)
	}
}

// Status returns the snapshot surfaced to the UI.
func (o *OrchestratorService) Status() domain.StatusSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	avg := time.Duration(0)
	if o.cycles > 0 {
		avg = o.totalDuration / time.Duration(o.cycles)
	}

	errs := make([]string, len(o.syncErrors))
	copy(errs, o.syncErrors)
	pending := make([]domain.EventConflict, len(o.pending))
	copy(pending, o.pending)

	return domain.StatusSnapshot{
		IsSyncing:        o.isSyncing,
		LastSyncDate:     o.lastSyncDate,
		SyncErrors:       errs,
		PendingConflicts: pending,
		Metrics: domain.PerformanceMetrics{
			AvgProcessingTime: avg,
			CompressionRatio:  o.lastCompressed,
			TotalCached:       o.totalCached,
		},
	}
}
