package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"calsync-agent/internal/domain"
)

// Content returns a deterministic SHA-256 digest over an event's semantic
// fields. Grouping metadata (calendar id/name/color) is excluded so moving an
// event between calendar folders does not register as a content change.
// LastModified is excluded so re-fetching an untouched event hashes the same.
func Content(e domain.UnifiedEvent) string {
	fields := []string{
		e.Title,
		canonicalTime(e.StartTime),
		canonicalTime(e.EndTime),
		e.Location,
		e.Description,
		strconv.FormatBool(e.IsAllDay),
		e.Organizer,
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// canonicalTime normalizes to UTC before formatting so the digest is stable
// across devices in different zones.
func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
