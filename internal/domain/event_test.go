package domain

import (
	"testing"
	"time"
)

func eventAt(start, end time.Time) UnifiedEvent {
	return UnifiedEvent{
		ID:        "evt1",
		Source:    SourceLocal,
		Title:     "Meeting",
		StartTime: start,
		EndTime:   end,
	}
}

func TestUnifiedEvent_Overlaps(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	tests := []struct {
		name string
		a    UnifiedEvent
		b    UnifiedEvent
		want bool
	}{
		{"partial overlap", eventAt(at(14, 0), at(15, 0)), eventAt(at(14, 30), at(15, 30)), true},
		{"containment", eventAt(at(14, 0), at(16, 0)), eventAt(at(14, 30), at(15, 0)), true},
		{"identical range", eventAt(at(14, 0), at(15, 0)), eventAt(at(14, 0), at(15, 0)), true},
		{"back to back", eventAt(at(14, 0), at(15, 0)), eventAt(at(15, 0), at(16, 0)), false},
		{"disjoint", eventAt(at(9, 0), at(10, 0)), eventAt(at(14, 0), at(15, 0)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			// Symmetric in both directions.
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("reversed Overlaps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnifiedEvent_Validate(t *testing.T) {
	day := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	valid := eventAt(day, day.Add(time.Hour))
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() on valid event = %v", err)
	}

	noID := valid
	noID.ID = ""
	if err := noID.Validate(); err == nil {
		t.Error("expected error for missing id")
	}

	inverted := valid
	inverted.EndTime = day.Add(-time.Hour)
	if err := inverted.Validate(); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestEventKey_NamespacesBySource(t *testing.T) {
	if EventKey(SourceLocal, "evt1") == EventKey(SourceGoogle, "evt1") {
		t.Error("same id on different sources produced the same key")
	}
}
