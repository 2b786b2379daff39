package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

// DefaultMaxOccurrencesPerEvent bounds recurrence expansion for a single
// event so an open-ended rule (no COUNT/UNTIL) cannot run away.
const DefaultMaxOccurrencesPerEvent = 500

// Options controls materialization.
type Options struct {
	// DefaultLocation is the zone floating times are interpreted in and
	// the fallback display zone. Nil means UTC.
	DefaultLocation *time.Location

	// WindowStart/WindowEnd optionally bound the emitted occurrences.
	WindowStart *time.Time
	WindowEnd   *time.Time

	// MaxOccurrencesPerEvent caps expansion per event; zero means
	// DefaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// Materialize turns one raw ICS payload into concrete occurrences for the
// given calendar. Pure: no network or storage access.
//
// It returns ErrMalformedCalendarData when the payload cannot be parsed
// into a calendar structure at all; callers skip the object and continue.
func Materialize(body []byte, calendarName, calendarID, sourceID string, opts Options) ([]model.Event, error) {
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	if opts.MaxOccurrencesPerEvent <= 0 {
		opts.MaxOccurrencesPerEvent = DefaultMaxOccurrencesPerEvent
	}

	parsed, err := ParseEvents(body, opts.DefaultLocation)
	if err != nil {
		return nil, err
	}

	// Split series overrides (RECURRENCE-ID) from base events.
	bases := make([]ParsedEvent, 0, len(parsed))
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range parsed {
		if ev.IsOverride() {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	out := make([]model.Event, 0, len(bases))
	for _, ev := range bases {
		if ev.RawRRule == "" {
			if occ, ok := materializeSingle(ev, calendarID, sourceID, opts); ok {
				out = append(out, occ)
			}
			continue
		}
		out = append(out, materializeRecurring(ev, overridesByUID[ev.UID], calendarID, sourceID, opts)...)
	}

	appLog.Debug("ics: materialized calendar object",
		"calendar", calendarName, "events", len(bases), "occurrences", len(out))
	return out, nil
}

func materializeSingle(ev ParsedEvent, calendarID, sourceID string, opts Options) (model.Event, bool) {
	if opts.WindowStart != nil && ev.End.Before(*opts.WindowStart) {
		return model.Event{}, false
	}
	if opts.WindowEnd != nil && ev.Start.After(*opts.WindowEnd) {
		return model.Event{}, false
	}
	return makeOccurrence(ev, ev.UID, ev.Start, ev.End, calendarID, sourceID, ""), true
}

func materializeRecurring(ev ParsedEvent, overrides []ParsedEvent, calendarID, sourceID string, opts Options) []model.Event {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		// Malformed rule: skip this event, keep its siblings.
		appLog.Error("ics: skipping event with unparseable RRULE", err,
			"uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	excluded := make(map[int64]bool, len(ev.ExDates))
	for _, ex := range ev.ExDates {
		excluded[ex.Unix()] = true
	}

	duration := ev.End.Sub(ev.Start)
	out := make([]model.Event, 0)

	// Candidates before the window and excluded candidates still count
	// toward the safety cap; iteration stops past the window's end.
	next := r.Iterator()
	for considered := 0; considered < opts.MaxOccurrencesPerEvent; considered++ {
		start, ok := next()
		if !ok {
			break
		}
		if opts.WindowEnd != nil && start.After(*opts.WindowEnd) {
			break
		}
		if opts.WindowStart != nil && start.Before(*opts.WindowStart) {
			continue
		}
		if excluded[start.Unix()] {
			continue
		}

		id := fmt.Sprintf("%s_%d", ev.UID, start.Unix())
		end := start.Add(duration)

		src := ev
		if o, ok := overrideFor(overrides, start); ok {
			src = o
			start = o.Start
			end = o.End
		}

		out = append(out, makeOccurrence(src, id, start, end, calendarID, sourceID, ev.RawRRule))
	}

	return out
}

// overrideFor finds the override VEVENT whose RECURRENCE-ID matches the
// candidate instant.
func overrideFor(overrides []ParsedEvent, candidate time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.RecurrenceID != nil && o.RecurrenceID.Equal(candidate) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, id string, start, end time.Time, calendarID, sourceID, rawRRule string) model.Event {
	return model.Event{
		ID:             id,
		SourceID:       sourceID,
		CalendarID:     calendarID,
		Title:          ev.Summary,
		Description:    ev.Description,
		Location:       ev.Location,
		StartTime:      start.UTC(),
		EndTime:        end.UTC(),
		Timezone:       ev.Timezone,
		RecurrenceRule: rawRRule,
		IsAllDay:       ev.AllDay,
	}
}
