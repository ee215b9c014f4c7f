package adapter

import (
	"context"
	"time"

	"calsync-agent/internal/domain"
)

type DateRange struct {
	Start time.Time
	End   time.Time
}

// SourceAdapter fetches the full current event set for one source. Called
// once per sync cycle per source; a returned error excludes the source from
// the cycle without failing the others.
type SourceAdapter interface {
	Source() domain.EventSource
	FetchEvents(ctx context.Context, rng DateRange) ([]domain.UnifiedEvent, error)
}
