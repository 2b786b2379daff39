package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

type sourceRequest struct {
	Name         string `json:"name"`
	ServerURL    string `json:"serverUrl"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	SourceType   string `json:"sourceType"`
	RequiresAuth bool   `json:"requiresAuth"`
	IsPublic     bool   `json:"isPublic"`
	Enabled      bool   `json:"enabled"`
}

func (req *sourceRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if req.ServerURL == "" {
		return "serverUrl is required"
	}
	switch req.SourceType {
	case model.SourceTypeCalDAV, model.SourceTypeICSFeed:
	default:
		return "sourceType must be caldav or ics-feed"
	}
	if req.RequiresAuth && req.Username == "" {
		return "username is required when requiresAuth is set"
	}
	return ""
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("includeInactive") == "true"
	sources, err := s.store.ListSources(r.Context(), includeInactive)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	src := model.CalendarSource{
		ID:           uuid.NewString(),
		Name:         req.Name,
		ServerURL:    req.ServerURL,
		Username:     req.Username,
		SourceType:   req.SourceType,
		RequiresAuth: req.RequiresAuth,
		IsPublic:     req.IsPublic,
		IsActive:     true,
		Enabled:      req.Enabled,
	}

	if req.Password != "" {
		envelope, err := s.secrets.Encrypt(req.Password)
		if err != nil {
			appLog.Error("web: encrypting credentials failed", err)
			writeError(w, http.StatusInternalServerError, "credential encryption failed")
			return
		}
		src.PasswordEncrypted = envelope
	}

	if err := s.store.CreateSource(r.Context(), &src); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	src.Name = req.Name
	src.ServerURL = req.ServerURL
	src.Username = req.Username
	src.SourceType = req.SourceType
	src.RequiresAuth = req.RequiresAuth
	src.IsPublic = req.IsPublic
	src.Enabled = req.Enabled

	// An empty password keeps the stored credential.
	if req.Password != "" {
		envelope, err := s.secrets.Encrypt(req.Password)
		if err != nil {
			appLog.Error("web: encrypting credentials failed", err)
			writeError(w, http.StatusInternalServerError, "credential encryption failed")
			return
		}
		src.PasswordEncrypted = envelope
	}

	if err := s.store.UpdateSource(r.Context(), src); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// handleDeleteSource soft-deletes: the source goes inactive, history and
// foreign keys stay intact.
func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SoftDeleteSource(r.Context(), chi.URLParam(r, "sourceID")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type calendarRequest struct {
	Name        string `json:"name"`
	CalendarURL string `json:"calendarUrl"`
	Color       string `json:"color"`
	Enabled     bool   `json:"enabled"`
}

// handleReplaceCalendars swaps out the source's calendar list as one batch.
func (s *Server) handleReplaceCalendars(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	if _, err := s.store.GetSource(r.Context(), sourceID); err != nil {
		writeStoreError(w, err)
		return
	}

	var reqs []calendarRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cals := make([]model.Calendar, 0, len(reqs))
	for _, req := range reqs {
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "calendar name is required")
			return
		}
		cals = append(cals, model.Calendar{
			ID:          uuid.NewString(),
			SourceID:    sourceID,
			Name:        req.Name,
			CalendarURL: req.CalendarURL,
			Color:       req.Color,
			Enabled:     req.Enabled,
		})
	}

	if err := s.store.ReplaceCalendars(r.Context(), sourceID, cals); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cals)
}
