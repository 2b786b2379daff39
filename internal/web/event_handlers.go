package web

import (
	"net/http"
	"time"

	"kioskcal/internal/model"
	"kioskcal/internal/store"
)

type eventResponse struct {
	model.Event
	IsRecurring bool `json:"isRecurring"`
}

// handleEvents returns cached occurrences filtered by source, calendar and
// an overlap-based time window, ordered by start ascending.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.EventFilter{
		SourceID:   q.Get("sourceId"),
		CalendarID: q.Get("calendarId"),
	}

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: expected RFC 3339")
			return
		}
		filter.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end: expected RFC 3339")
			return
		}
		filter.End = &t
	}

	events, err := s.store.QueryEvents(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{Event: ev, IsRecurring: ev.IsRecurring()})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEventsCount returns the occurrence count, optionally for one
// source.
func (s *Server) handleEventsCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CountEvents(r.Context(), r.URL.Query().Get("sourceId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}
