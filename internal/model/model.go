// Package model holds the persisted entities shared by the store, the
// sync engine and the HTTP API.
package model

import "time"

// Source types.
const (
	SourceTypeCalDAV  = "caldav"
	SourceTypeICSFeed = "ics-feed"
)

// Sync statuses recorded in SyncMetadata.
const (
	SyncStatusNever   = "never"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// CalendarSource is a configured remote calendar account or feed. Sources
// are soft-deleted (IsActive=false) by normal flows so history and foreign
// keys stay consistent.
type CalendarSource struct {
	ID                string `gorm:"primaryKey" json:"id"`
	Name              string `json:"name"`
	ServerURL         string `json:"serverUrl"`
	Username          string `json:"username"`
	PasswordEncrypted string `json:"-"`
	SourceType        string `json:"sourceType"`
	RequiresAuth      bool   `json:"requiresAuth"`
	IsPublic          bool   `json:"isPublic"`
	IsActive          bool   `json:"isActive"`
	Enabled           bool   `json:"enabled"`

	Calendars []Calendar    `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"calendars,omitempty"`
	SyncMeta  *SyncMetadata `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (CalendarSource) TableName() string { return "calendar_sources" }

// Calendar is one collection under a source. Only enabled calendars are
// fetched during sync.
type Calendar struct {
	ID          string `gorm:"primaryKey" json:"id"`
	SourceID    string `gorm:"index" json:"sourceId"`
	Name        string `json:"name"`
	CalendarURL string `json:"calendarUrl"`
	Color       string `json:"color"`
	Enabled     bool   `json:"enabled"`

	Events []Event `gorm:"foreignKey:CalendarID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Calendar) TableName() string { return "calendars" }

// Event is one materialized occurrence in the event cache.
//
// ID is the event UID for a single event, or "<UID>_<epochSeconds>" for an
// expanded recurrence instance, so re-syncing unchanged remote data yields
// identical rows. Start/End are absolute UTC instants; Timezone is the IANA
// zone the occurrence should be displayed in.
type Event struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	SourceID       string    `gorm:"index" json:"sourceId"`
	CalendarID     string    `gorm:"index" json:"calendarId"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	StartTime      time.Time `gorm:"index;index:idx_events_window,priority:1" json:"start"`
	EndTime        time.Time `gorm:"index;index:idx_events_window,priority:2" json:"end"`
	Timezone       string    `json:"timezone"`
	RecurrenceRule string    `json:"recurrenceRule,omitempty"`
	IsAllDay       bool      `json:"allDay"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Event) TableName() string { return "events" }

// IsRecurring reports whether this occurrence came out of an expanded
// recurrence rule.
func (e *Event) IsRecurring() bool { return e.RecurrenceRule != "" }

// SyncMetadata is the per-source sync bookkeeping record. SyncToken and
// CTag are carried forward for future incremental sync but are not read.
type SyncMetadata struct {
	SourceID       string     `gorm:"primaryKey" json:"sourceId"`
	LastSyncTime   *time.Time `json:"lastSyncTime"`
	LastSyncStatus string     `json:"lastSyncStatus"`
	LastError      string     `json:"lastError,omitempty"`
	RetryCount     int        `json:"retryCount"`
	NextRetryTime  *time.Time `json:"nextRetryTime,omitempty"`
	SyncToken      string     `json:"-"`
	CTag           string     `gorm:"column:ctag" json:"-"`
}

func (SyncMetadata) TableName() string { return "sync_metadata" }
