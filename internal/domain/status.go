package domain

import "time"

// SyncState is the replication coordinator's per-attempt state machine.
// failed transitions back to idle and is retried on the next trigger.
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateFailed    SyncState = "failed"
)

type PerformanceMetrics struct {
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	CompressionRatio  float64       `json:"compression_ratio"`
	TotalCached       int           `json:"total_cached"`
}

// StatusSnapshot is the orchestrator status surface consumed by the UI.
type StatusSnapshot struct {
	IsSyncing        bool               `json:"is_syncing"`
	LastSyncDate     *time.Time         `json:"last_sync_date,omitempty"`
	SyncErrors       []string           `json:"sync_errors"`
	PendingConflicts []EventConflict    `json:"pending_conflicts"`
	Metrics          PerformanceMetrics `json:"performance_metrics"`
}
