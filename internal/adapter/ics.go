package adapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calsync-agent/internal/domain"
)

// ICSAdapter reads the device-local calendar from an .ics file. It is the
// in-process adapter for the "local" source; provider adapters live outside
// this module and satisfy the same SourceAdapter contract.
type ICSAdapter struct {
	path   string
	source domain.EventSource
}

func NewICSAdapter(path string, source domain.EventSource) *ICSAdapter {
	return &ICSAdapter{
		path:   path,
		source: source,
	}
}

func (a *ICSAdapter) Source() domain.EventSource {
	return a.source
}

func (a *ICSAdapter) FetchEvents(ctx context.Context, rng DateRange) ([]domain.UnifiedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calendar file: %w", err)
	}
	defer f.Close()

	cal, err := ical.ParseCalendar(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar file: %w", err)
	}

	var events []domain.UnifiedEvent
	for _, ve := range cal.Events() {
		event, err := a.convert(ve)
		if err != nil {
			continue // Skip malformed entries, keep the rest
		}

		if !rng.Start.IsZero() && event.EndTime.Before(rng.Start) {
			continue
		}
		if !rng.End.IsZero() && event.StartTime.After(rng.End) {
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

func (a *ICSAdapter) convert(ve *ical.VEvent) (domain.UnifiedEvent, error) {
	var event domain.UnifiedEvent
	event.Source = a.source

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return event, fmt.Errorf("missing UID")
	}
	event.ID = uid.Value
	event.ProviderRef = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		event.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		event.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		event.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		event.Organizer = strings.TrimPrefix(p.Value, "mailto:")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return event, fmt.Errorf("missing DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		end = start
	}
	event.StartTime = start
	event.EndTime = end

	// All-day events carry DTSTART as VALUE=DATE (no time component).
	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if params := dtStart.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				event.IsAllDay = true
			}
		}
		if !strings.Contains(dtStart.Value, "T") {
			event.IsAllDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyLastModified); p != nil {
		if t, err := time.Parse("20060102T150405Z", p.Value); err == nil {
			event.LastModified = t
		}
	}

	if err := event.Validate(); err != nil {
		return event, err
	}

	return event, nil
}
