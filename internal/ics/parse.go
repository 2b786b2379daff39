// Package ics is the occurrence materializer: it turns raw iCalendar
// payloads into concrete, deduplicated event occurrences. It performs no
// network or storage I/O.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "kioskcal/internal/log"
)

// ErrMalformedCalendarData is returned when a payload cannot be parsed into
// a calendar structure at all. Callers treat the whole object as skippable
// rather than failing the source's sync.
var ErrMalformedCalendarData = errors.New("ics: malformed calendar data")

// ParsedEvent is the normalized representation of a VEVENT. Recurrence
// expansion operates on this type.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string

	// Start/End are absolute instants with timezone resolution already
	// applied: all-day events are anchored at 12:00 UTC on their calendar
	// date, explicit TZID values keep their zone, floating values are
	// interpreted as wall-clock time in the default zone.
	Start  time.Time
	End    time.Time
	AllDay bool

	// Timezone is the IANA zone the occurrence should be displayed in.
	Timezone string

	RawRRule     string
	ExDates      []time.Time
	RecurrenceID *time.Time // set when this VEVENT overrides one instance
}

// IsOverride reports whether this VEVENT replaces a single instance of a
// recurring series.
func (p *ParsedEvent) IsOverride() bool { return p.RecurrenceID != nil }

// ParseEvents parses one ICS payload into ParsedEvents. defaultLoc is the
// zone floating times are interpreted in; nil means UTC.
//
// A payload that cannot be parsed at all yields ErrMalformedCalendarData.
// Individual events that fail to parse (e.g. missing UID) are logged and
// skipped so the rest of the payload still materializes.
func ParseEvents(body []byte, defaultLoc *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedCalendarData)
	}
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCalendarData, err)
	}

	events := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, defaultLoc)
		if perr != nil {
			appLog.Error("ics: skipping unparseable event", perr)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, defaultLoc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || startProp.Value == "" {
		return out, errors.New("missing DTSTART")
	}

	start, allDay, tz, err := resolveTime(startProp.Value, propParam(startProp, "TZID"), propIsDate(startProp), defaultLoc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = allDay
	out.Timezone = tz

	out.End = defaultEnd(out.Start, allDay)
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil && endProp.Value != "" {
		end, _, _, err := resolveTime(endProp.Value, propParam(endProp, "TZID"), propIsDate(endProp), defaultLoc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		if end.After(out.Start) {
			out.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tzid := propParam(p, "TZID")
		isDate := propIsDate(p)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, _, err := resolveTime(part, tzid, isDate, defaultLoc)
			if err != nil {
				appLog.Error("ics: skipping unparseable EXDATE", err, "uid", out.UID, "value", part)
				continue
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	// Raw property name: the library's constant set has varied across
	// versions for RECURRENCE-ID.
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil && p.Value != "" {
		t, _, _, err := resolveTime(p.Value, propParam(p, "TZID"), propIsDate(p), defaultLoc)
		if err != nil {
			appLog.Error("ics: skipping unparseable RECURRENCE-ID", err, "uid", out.UID)
		} else {
			out.RecurrenceID = &t
		}
	}

	return out, nil
}

// resolveTime applies the timezone resolution ladder to one ICS date or
// date-time value:
//
//  1. date-only values are all-day; the instant is anchored at 12:00 UTC on
//     that calendar date so later rendering keeps the date in any zone
//     within UTC±12 (zones beyond +12, e.g. Pacific/Kiritimati, can still
//     render the following date).
//  2. values with an explicit zone (trailing Z, or a TZID parameter naming
//     a known IANA zone) keep it.
//  3. floating values, and values with an unknown TZID, are interpreted as
//     wall-clock time in defaultLoc.
//
// The returned string is the IANA zone to display the value in.
func resolveTime(value, tzid string, isDate bool, defaultLoc *time.Location) (time.Time, bool, string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, "", errors.New("empty time value")
	}

	if isDate || !strings.Contains(value, "T") {
		d, err := time.Parse("20060102", value)
		if err != nil {
			return time.Time{}, false, "", err
		}
		anchored := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, time.UTC)
		return anchored, true, "UTC", nil
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse("20060102T150405Z", value)
		if err != nil {
			return time.Time{}, false, "", err
		}
		return t, false, "UTC", nil
	}

	loc := defaultLoc
	name := defaultLoc.String()
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
			name = tzid
		} else {
			appLog.Debug("ics: unknown TZID, using default zone", "tzid", tzid)
		}
	}

	t, err := time.ParseInLocation("20060102T150405", value, loc)
	if err != nil {
		return time.Time{}, false, "", err
	}
	return t, false, name, nil
}

// defaultEnd supplies an end when DTEND is absent: all-day events span one
// day, timed events have zero duration.
func defaultEnd(start time.Time, allDay bool) time.Time {
	if allDay {
		return start.Add(24 * time.Hour)
	}
	return start
}

func propParam(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func propIsDate(p *ical.IANAProperty) bool {
	return strings.EqualFold(propParam(p, "VALUE"), "DATE")
}
