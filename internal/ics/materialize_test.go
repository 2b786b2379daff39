package ics

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func icsPayload(eventLines ...string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//kioskcal//test//EN",
	}
	lines = append(lines, eventLines...)
	lines = append(lines, "END:VCALENDAR", "")
	return []byte(strings.Join(lines, "\r\n"))
}

func vevent(lines ...string) []string {
	out := []string{"BEGIN:VEVENT"}
	out = append(out, lines...)
	out = append(out, "END:VEVENT")
	return out
}

func mustMaterialize(t *testing.T, body []byte, opts Options) []occurrence {
	t.Helper()
	occs, err := Materialize(body, "Test Calendar", "cal-1", "src-1", opts)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	out := make([]occurrence, 0, len(occs))
	for _, o := range occs {
		out = append(out, occurrence{o.ID, o.Title, o.StartTime, o.EndTime, o.Timezone, o.IsAllDay})
	}
	return out
}

type occurrence struct {
	ID       string
	Title    string
	Start    time.Time
	End      time.Time
	Timezone string
	AllDay   bool
}

func TestSingleEventBasics(t *testing.T) {
	body := icsPayload(vevent(
		"UID:single-1",
		"SUMMARY:Team standup",
		"LOCATION:Room 4",
		"DTSTART:20250106T090000Z",
		"DTEND:20250106T093000Z",
	)...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(occs))
	}
	got := occs[0]
	if got.ID != "single-1" {
		t.Errorf("id: non-recurring events use the bare UID, got %q", got.ID)
	}
	if got.Title != "Team standup" {
		t.Errorf("title = %q", got.Title)
	}
	want := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	if !got.Start.Equal(want) {
		t.Errorf("start = %v, want %v", got.Start, want)
	}
	if got.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", got.Timezone)
	}
}

func TestSingleEventWindowFilter(t *testing.T) {
	body := icsPayload(vevent(
		"UID:single-2",
		"SUMMARY:Out of window",
		"DTSTART:20250106T090000Z",
		"DTEND:20250106T100000Z",
	)...)

	cases := []struct {
		name       string
		start, end time.Time
		want       int
	}{
		{"inside", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), 1},
		{"window before event", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), 0},
		{"window after event", time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC), 0},
		{"overlapping start", time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC), time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			occs := mustMaterialize(t, body, Options{WindowStart: &tc.start, WindowEnd: &tc.end})
			if len(occs) != tc.want {
				t.Errorf("got %d occurrences, want %d", len(occs), tc.want)
			}
		})
	}
}

func TestRecurrenceSafetyCap(t *testing.T) {
	// Unbounded daily rule, no window: the cap must stop expansion at
	// exactly the configured limit.
	body := icsPayload(vevent(
		"UID:forever-1",
		"SUMMARY:Repeats forever",
		"DTSTART:20250101T100000Z",
		"DTEND:20250101T110000Z",
		"RRULE:FREQ=DAILY",
	)...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != DefaultMaxOccurrencesPerEvent {
		t.Fatalf("got %d occurrences, want exactly %d", len(occs), DefaultMaxOccurrencesPerEvent)
	}

	occs = mustMaterialize(t, body, Options{MaxOccurrencesPerEvent: 25})
	if len(occs) != 25 {
		t.Fatalf("custom cap: got %d occurrences, want 25", len(occs))
	}
}

func TestPreWindowCandidatesCountTowardCap(t *testing.T) {
	// 100 daily candidates precede the window start; they are skipped but
	// still consume cap budget, so only cap-100 occurrences come out.
	body := icsPayload(vevent(
		"UID:forever-2",
		"SUMMARY:Repeats forever",
		"DTSTART:20250101T100000Z",
		"DTEND:20250101T110000Z",
		"RRULE:FREQ=DAILY",
	)...)

	ws := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC).AddDate(0, 0, 100)
	occs := mustMaterialize(t, body, Options{WindowStart: &ws})
	want := DefaultMaxOccurrencesPerEvent - 100
	if len(occs) != want {
		t.Fatalf("got %d occurrences, want %d", len(occs), want)
	}
	if occs[0].Start.Before(ws) {
		t.Errorf("first occurrence %v precedes window start %v", occs[0].Start, ws)
	}
}

func TestExclusionHonored(t *testing.T) {
	body := icsPayload(vevent(
		"UID:daily-5",
		"SUMMARY:Daily for five days",
		"DTSTART:20250106T090000Z",
		"DTEND:20250106T100000Z",
		"RRULE:FREQ=DAILY;COUNT=5",
		"EXDATE:20250108T090000Z",
	)...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 4 {
		t.Fatalf("got %d occurrences, want 4", len(occs))
	}
	excluded := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	for _, o := range occs {
		if o.Start.Equal(excluded) {
			t.Errorf("excluded instant %v still present", excluded)
		}
	}
}

func TestUntilBoundary(t *testing.T) {
	// Daily from Jan 6, UNTIL end of Jan 10: days 6..10 inclusive.
	body := icsPayload(vevent(
		"UID:until-1",
		"SUMMARY:Daily until",
		"DTSTART:20250106T090000Z",
		"DTEND:20250106T100000Z",
		"RRULE:FREQ=DAILY;UNTIL=20250110T235959Z",
	)...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 5 {
		t.Fatalf("got %d occurrences, want 5", len(occs))
	}
	last := occs[len(occs)-1].Start
	want := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	if !last.Equal(want) {
		t.Errorf("last occurrence %v, want %v", last, want)
	}
}

func TestRecurringOccurrenceIDs(t *testing.T) {
	body := icsPayload(vevent(
		"UID:daily-3",
		"SUMMARY:Daily",
		"DTSTART:20250106T090000Z",
		"DTEND:20250106T100000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
	)...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(occs))
	}
	for _, o := range occs {
		want := fmt.Sprintf("daily-3_%d", o.Start.Unix())
		if o.ID != want {
			t.Errorf("id = %q, want %q", o.ID, want)
		}
	}

	// Determinism: a second run yields identical ids in identical order.
	again := mustMaterialize(t, body, Options{})
	for i := range occs {
		if occs[i].ID != again[i].ID {
			t.Errorf("id drift between runs: %q vs %q", occs[i].ID, again[i].ID)
		}
	}
}

func TestAllDayAnchoring(t *testing.T) {
	body := icsPayload(vevent(
		"UID:allday-1",
		"SUMMARY:Conference day",
		"DTSTART;VALUE=DATE:20250310",
		"DTEND;VALUE=DATE:20250311",
	)...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(occs))
	}
	got := occs[0]
	if !got.AllDay {
		t.Fatal("expected all-day occurrence")
	}

	want := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if !got.Start.Equal(want) {
		t.Fatalf("all-day start = %v, want noon UTC anchor %v", got.Start, want)
	}

	// Rendering the anchored instant in distant zones keeps the date.
	for _, zone := range []string{"America/Los_Angeles", "America/Chicago", "Europe/Berlin", "Asia/Tokyo"} {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			t.Fatalf("LoadLocation(%s): %v", zone, err)
		}
		y, m, d := got.Start.In(loc).Date()
		if y != 2025 || m != time.March || d != 10 {
			t.Errorf("in %s the date becomes %04d-%02d-%02d, want 2025-03-10", zone, y, m, d)
		}
	}
}

func TestAllDayRecurring(t *testing.T) {
	body := icsPayload(vevent(
		"UID:allday-weekly",
		"SUMMARY:Weekly holiday",
		"DTSTART;VALUE=DATE:20250106",
		"DTEND;VALUE=DATE:20250107",
		"RRULE:FREQ=WEEKLY;COUNT=3",
	)...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(occs))
	}
	for i, o := range occs {
		want := time.Date(2025, 1, 6+7*i, 12, 0, 0, 0, time.UTC)
		if !o.Start.Equal(want) {
			t.Errorf("occurrence %d start = %v, want %v", i, o.Start, want)
		}
		if !o.AllDay {
			t.Errorf("occurrence %d not marked all-day", i)
		}
	}
}

func TestFloatingTimeResolution(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatal(err)
	}

	// Floating 09:30 on 2024-11-05 (after the DST transition) resolves to
	// 15:30 UTC under the Chicago default zone.
	body := icsPayload(vevent(
		"UID:floating-1",
		"SUMMARY:Floating meeting",
		"DTSTART:20241105T093000",
		"DTEND:20241105T103000",
	)...)

	occs := mustMaterialize(t, body, Options{DefaultLocation: chicago})
	if len(occs) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(occs))
	}
	got := occs[0]
	want := time.Date(2024, 11, 5, 15, 30, 0, 0, time.UTC)
	if !got.Start.Equal(want) {
		t.Errorf("start = %v, want %v", got.Start, want)
	}
	if got.Timezone != "America/Chicago" {
		t.Errorf("timezone = %q, want America/Chicago", got.Timezone)
	}
}

func TestExplicitTZIDRespected(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatal(err)
	}

	// The explicit TZID wins over the default zone.
	body := icsPayload(vevent(
		"UID:tzid-1",
		"SUMMARY:Berlin meeting",
		"DTSTART;TZID=Europe/Berlin:20250611T140000",
		"DTEND;TZID=Europe/Berlin:20250611T150000",
	)...)

	occs := mustMaterialize(t, body, Options{DefaultLocation: chicago})
	if len(occs) != 1 {
		t.Fatalf("got %d occurrences, want 1", len(occs))
	}
	got := occs[0]
	// June: Berlin is UTC+2.
	want := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	if !got.Start.Equal(want) {
		t.Errorf("start = %v, want %v", got.Start, want)
	}
	if got.Timezone != "Europe/Berlin" {
		t.Errorf("timezone = %q, want Europe/Berlin", got.Timezone)
	}
}

func TestOverrideReplacesInstance(t *testing.T) {
	events := append(
		vevent(
			"UID:series-1",
			"SUMMARY:Weekly sync",
			"DTSTART:20250106T090000Z",
			"DTEND:20250106T100000Z",
			"RRULE:FREQ=DAILY;COUNT=3",
		),
		vevent(
			"UID:series-1",
			"SUMMARY:Weekly sync (moved)",
			"DTSTART:20250107T140000Z",
			"DTEND:20250107T150000Z",
			"RECURRENCE-ID:20250107T090000Z",
		)...,
	)
	body := icsPayload(events...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(occs))
	}

	var moved *occurrence
	for i := range occs {
		if occs[i].Title == "Weekly sync (moved)" {
			moved = &occs[i]
		}
	}
	if moved == nil {
		t.Fatal("override instance not applied")
	}
	want := time.Date(2025, 1, 7, 14, 0, 0, 0, time.UTC)
	if !moved.Start.Equal(want) {
		t.Errorf("override start = %v, want %v", moved.Start, want)
	}
	// The id still derives from the series candidate, keeping replace
	// idempotent across syncs.
	candidate := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
	wantID := fmt.Sprintf("series-1_%d", candidate.Unix())
	if moved.ID != wantID {
		t.Errorf("override id = %q, want %q", moved.ID, wantID)
	}
}

func TestMalformedPayload(t *testing.T) {
	for _, body := range [][]byte{
		nil,
		[]byte("this is not a calendar"),
	} {
		_, err := Materialize(body, "Test", "cal-1", "src-1", Options{})
		if !errors.Is(err, ErrMalformedCalendarData) {
			t.Errorf("payload %q: err = %v, want ErrMalformedCalendarData", body, err)
		}
	}
}

func TestEventMissingUIDSkipped(t *testing.T) {
	events := append(
		vevent(
			"SUMMARY:No UID here",
			"DTSTART:20250106T090000Z",
		),
		vevent(
			"UID:good-1",
			"SUMMARY:Valid",
			"DTSTART:20250106T100000Z",
			"DTEND:20250106T110000Z",
		)...,
	)
	body := icsPayload(events...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 1 || occs[0].ID != "good-1" {
		t.Fatalf("expected only the valid event, got %+v", occs)
	}
}

func TestBadRRuleSkipsEventOnly(t *testing.T) {
	events := append(
		vevent(
			"UID:bad-rule",
			"SUMMARY:Broken",
			"DTSTART:20250106T090000Z",
			"RRULE:FREQ=NOT_A_FREQ",
		),
		vevent(
			"UID:good-2",
			"SUMMARY:Fine",
			"DTSTART:20250106T100000Z",
			"DTEND:20250106T110000Z",
		)...,
	)
	body := icsPayload(events...)

	occs := mustMaterialize(t, body, Options{})
	if len(occs) != 1 || occs[0].ID != "good-2" {
		t.Fatalf("expected only the intact event, got %+v", occs)
	}
}
