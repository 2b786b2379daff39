package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kioskcal/internal/model"
	"kioskcal/internal/store"
	syncpkg "kioskcal/internal/sync"
)

type syncResultResponse struct {
	SourceID string `json:"sourceId"`
	Success  bool   `json:"success"`
	Count    int    `json:"count"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

func toSyncResponse(r syncpkg.Result) syncResultResponse {
	out := syncResultResponse{
		SourceID: r.SourceID,
		Success:  r.Success,
		Count:    r.OccurrenceCount,
		Skipped:  r.Skipped,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// handleSyncTrigger runs one sync cycle for the given source, or for all
// enabled sources when no sourceId is supplied.
func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string `json:"sourceId"`
	}
	if r.Body != nil {
		// An empty body means "sync everything".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if req.SourceID != "" {
		res := s.engine.SyncSource(r.Context(), req.SourceID)
		if errors.Is(res.Err, syncpkg.ErrSourceNotFound) {
			writeError(w, http.StatusNotFound, res.Err.Error())
			return
		}
		writeJSON(w, http.StatusOK, []syncResultResponse{toSyncResponse(res)})
		return
	}

	results := s.engine.SyncAll(r.Context())
	out := make([]syncResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toSyncResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

type syncStatusResponse struct {
	model.SyncMetadata
	State syncpkg.State `json:"state"`
}

func (s *Server) statusOf(meta model.SyncMetadata) syncStatusResponse {
	return syncStatusResponse{
		SyncMetadata: meta,
		State:        syncpkg.StateOf(meta, s.engine.Now(), s.engine.MaxRetries()),
	}
}

// handleSyncStatus returns sync metadata for one or all sources.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("sourceId")
	if sourceID != "" {
		meta, err := s.store.GetSyncMetadata(r.Context(), sourceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Known source that simply never synced yet.
				writeJSON(w, http.StatusOK, s.statusOf(model.SyncMetadata{
					SourceID:       sourceID,
					LastSyncStatus: model.SyncStatusNever,
				}))
				return
			}
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.statusOf(*meta))
		return
	}

	metas, err := s.store.ListSyncMetadata(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]syncStatusResponse, 0, len(metas))
	for _, meta := range metas {
		out = append(out, s.statusOf(meta))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleResetRetry clears a source's retry state so it becomes immediately
// eligible again.
func (s *Server) handleResetRetry(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	if _, err := s.store.GetSource(r.Context(), sourceID); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.engine.ResetRetry(r.Context(), sourceID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
