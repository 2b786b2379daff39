// Package sync orchestrates per-source calendar synchronization: fetch,
// materialize, atomic cache replace, retry bookkeeping.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"kioskcal/internal/fetch"
	"kioskcal/internal/ics"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
	"kioskcal/internal/secret"
	"kioskcal/internal/store"
)

// ErrSourceNotFound is returned when a sync is requested for a source that
// does not exist or was soft-deleted.
var ErrSourceNotFound = errors.New("sync: source not found")

// Result is the outcome of one source's sync cycle.
type Result struct {
	SourceID        string
	Success         bool
	OccurrenceCount int
	// Skipped means the backoff gate intentionally prevented the attempt
	// this cycle; Err then carries the prior failure.
	Skipped bool
	Err     error
}

// Config wires an Engine.
type Config struct {
	Store   *store.Store
	Secrets *secret.Encryptor

	// Feeds and DialCalDAV default to the real network clients; tests
	// inject fakes.
	Feeds      fetch.FeedClient
	DialCalDAV fetch.CalDAVDialer

	// DefaultLocation resolves floating event times. Nil means UTC.
	DefaultLocation *time.Location

	MaxRetries             int
	MaxOccurrencesPerEvent int

	// InitialTimeout bounds fetches during the first cycle after startup;
	// BackgroundTimeout bounds every later cycle.
	InitialTimeout    time.Duration
	BackgroundTimeout time.Duration

	// Now is the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// Engine runs sync cycles. All event-cache and metadata mutation flows
// through here.
type Engine struct {
	store      *store.Store
	secrets    *secret.Encryptor
	feeds      fetch.FeedClient
	dialCalDAV fetch.CalDAVDialer

	defaultLoc        *time.Location
	maxRetries        int
	maxOccurrences    int
	initialTimeout    time.Duration
	backgroundTimeout time.Duration
	now               func() time.Time

	firstCycleDone atomic.Bool

	// perSource serializes concurrent syncs of the same source so two
	// replace operations can never interleave.
	mu        gosync.Mutex
	perSource map[string]*gosync.Mutex
}

// NewEngine creates an Engine, filling unset Config fields with defaults.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		store:             cfg.Store,
		secrets:           cfg.Secrets,
		feeds:             cfg.Feeds,
		dialCalDAV:        cfg.DialCalDAV,
		defaultLoc:        cfg.DefaultLocation,
		maxRetries:        cfg.MaxRetries,
		maxOccurrences:    cfg.MaxOccurrencesPerEvent,
		initialTimeout:    cfg.InitialTimeout,
		backgroundTimeout: cfg.BackgroundTimeout,
		now:               cfg.Now,
		perSource:         make(map[string]*gosync.Mutex),
	}
	if e.feeds == nil {
		e.feeds = fetch.NewFeedClient()
	}
	if e.dialCalDAV == nil {
		e.dialCalDAV = fetch.NewCalDAVClient
	}
	if e.defaultLoc == nil {
		e.defaultLoc = time.UTC
	}
	if e.maxRetries <= 0 {
		e.maxRetries = 3
	}
	if e.maxOccurrences <= 0 {
		e.maxOccurrences = ics.DefaultMaxOccurrencesPerEvent
	}
	if e.initialTimeout <= 0 {
		e.initialTimeout = 60 * time.Second
	}
	if e.backgroundTimeout <= 0 {
		e.backgroundTimeout = 45 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// SyncAll syncs every enabled source concurrently. One source's failure
// never blocks or fails the others.
func (e *Engine) SyncAll(ctx context.Context) []Result {
	sources, err := e.store.ListEnabledSources(ctx)
	if err != nil {
		appLog.Error("sync: listing sources failed", err)
		return nil
	}

	results := make([]Result, len(sources))
	var wg gosync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = e.SyncSource(ctx, id)
		}(i, src.ID)
	}
	wg.Wait()

	e.firstCycleDone.Store(true)
	return results
}

// SyncSource runs one sync cycle for a single source.
func (e *Engine) SyncSource(ctx context.Context, sourceID string) Result {
	lock := e.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	res := Result{SourceID: sourceID}

	src, err := e.store.GetSource(ctx, sourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			res.Err = ErrSourceNotFound
		} else {
			res.Err = err
		}
		return res
	}
	if !src.IsActive {
		res.Err = ErrSourceNotFound
		return res
	}

	meta := e.loadMetadata(ctx, sourceID)
	now := e.now()

	if Gated(meta, now, e.maxRetries) {
		appLog.Info("sync: source gated by backoff",
			"source", sourceID, "retry_count", meta.RetryCount, "next_retry", meta.NextRetryTime)
		res.Skipped = true
		res.Err = fmt.Errorf("retry limit reached: %s", meta.LastError)
		return res
	}

	calendars, err := e.store.ListEnabledCalendars(ctx, sourceID)
	if err != nil {
		return e.fail(ctx, meta, res, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout())
	defer cancel()

	var occurrences []model.Event
	var fetchErrs []error

	// Zero enabled calendars is a trivial success with zero occurrences.
	if len(calendars) > 0 {
		switch src.SourceType {
		case model.SourceTypeCalDAV:
			occurrences, fetchErrs = e.fetchCalDAV(fetchCtx, src, calendars)
		default:
			occurrences, fetchErrs = e.fetchFeeds(fetchCtx, src, calendars)
		}
		// One completed network attempt ends the generous startup window,
		// even when syncs are only ever triggered per source.
		e.firstCycleDone.Store(true)
	}

	// Any fetch failure fails the whole cycle so the cache only ever holds
	// the complete result of a fully successful fetch; siblings were still
	// attempted above.
	if len(fetchErrs) > 0 {
		return e.fail(ctx, meta, res, errors.Join(fetchErrs...))
	}

	if err := e.store.ReplaceSourceEvents(ctx, sourceID, occurrences); err != nil {
		return e.fail(ctx, meta, res, err)
	}

	meta = ApplySuccess(meta, e.now())
	if err := e.store.SaveSyncMetadata(ctx, &meta); err != nil {
		appLog.Error("sync: saving metadata failed", err, "source", sourceID)
	}

	appLog.Info("sync: source synced", "source", sourceID, "occurrences", len(occurrences))
	res.Success = true
	res.OccurrenceCount = len(occurrences)
	return res
}

// fetchFeeds handles ics-feed sources: one GET per enabled calendar.
// Calendars without their own feed URL fall back to the source URL.
func (e *Engine) fetchFeeds(ctx context.Context, src *model.CalendarSource, calendars []model.Calendar) ([]model.Event, []error) {
	username, password, err := e.credentials(src)
	if err != nil {
		return nil, []error{err}
	}

	var out []model.Event
	var errs []error
	for _, cal := range calendars {
		url := cal.CalendarURL
		if url == "" {
			url = src.ServerURL
		}

		body, err := e.feeds.Fetch(ctx, url, username, password)
		if err != nil {
			appLog.Error("sync: feed fetch failed", err,
				"source", src.ID, "calendar", cal.ID, "url", appLog.RedactURL(url))
			errs = append(errs, fmt.Errorf("calendar %s: %w", cal.ID, err))
			continue
		}

		out = append(out, e.materialize(body, cal, src.ID)...)
	}
	return out, errs
}

// fetchCalDAV handles caldav sources: one connection per source, remote
// collections matched to enabled local calendars by URL.
func (e *Engine) fetchCalDAV(ctx context.Context, src *model.CalendarSource, calendars []model.Calendar) ([]model.Event, []error) {
	username, password, err := e.credentials(src)
	if err != nil {
		return nil, []error{err}
	}

	client, err := e.dialCalDAV(src.ServerURL, username, password)
	if err != nil {
		return nil, []error{err}
	}

	remotes, err := client.ListCalendars(ctx)
	if err != nil {
		// Connection-level failure: the whole source fails this cycle.
		return nil, []error{err}
	}

	var out []model.Event
	var errs []error
	for _, cal := range calendars {
		remote, ok := matchRemote(remotes, cal.CalendarURL)
		if !ok {
			appLog.Info("sync: no remote collection for calendar, skipping",
				"source", src.ID, "calendar", cal.ID, "url", appLog.RedactURL(cal.CalendarURL))
			continue
		}

		bodies, err := client.FetchObjects(ctx, remote.Path)
		if err != nil {
			appLog.Error("sync: caldav fetch failed", err,
				"source", src.ID, "calendar", cal.ID)
			errs = append(errs, fmt.Errorf("calendar %s: %w", cal.ID, err))
			continue
		}

		for _, body := range bodies {
			out = append(out, e.materialize(body, cal, src.ID)...)
		}
	}
	return out, errs
}

// materialize expands one raw payload; malformed payloads are logged and
// skipped without failing the source's sync.
func (e *Engine) materialize(body []byte, cal model.Calendar, sourceID string) []model.Event {
	occs, err := ics.Materialize(body, cal.Name, cal.ID, sourceID, ics.Options{
		DefaultLocation:        e.defaultLoc,
		MaxOccurrencesPerEvent: e.maxOccurrences,
	})
	if err != nil {
		appLog.Error("sync: skipping malformed calendar object", err,
			"source", sourceID, "calendar", cal.ID)
		return nil
	}
	return occs
}

// ResetRetry clears a source's retry state so it is immediately eligible.
func (e *Engine) ResetRetry(ctx context.Context, sourceID string) error {
	err := e.store.ResetRetry(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		// Never-synced sources have no metadata row; nothing to reset.
		return nil
	}
	return err
}

// MaxRetries exposes the configured gate threshold for status reporting.
func (e *Engine) MaxRetries() int { return e.maxRetries }

// Now exposes the engine clock for status reporting.
func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) fail(ctx context.Context, meta model.SyncMetadata, res Result, err error) Result {
	// The event cache is deliberately untouched: the last good snapshot
	// stays queryable through consecutive failures.
	meta = ApplyFailure(meta, e.now(), err)
	if saveErr := e.store.SaveSyncMetadata(ctx, &meta); saveErr != nil {
		appLog.Error("sync: saving metadata failed", saveErr, "source", meta.SourceID)
	}
	appLog.Error("sync: source sync failed", err,
		"source", meta.SourceID, "retry_count", meta.RetryCount, "next_retry", meta.NextRetryTime)
	res.Err = err
	return res
}

func (e *Engine) loadMetadata(ctx context.Context, sourceID string) model.SyncMetadata {
	meta, err := e.store.GetSyncMetadata(ctx, sourceID)
	if err != nil {
		return model.SyncMetadata{
			SourceID:       sourceID,
			LastSyncStatus: model.SyncStatusNever,
		}
	}
	return *meta
}

func (e *Engine) credentials(src *model.CalendarSource) (string, string, error) {
	if !src.RequiresAuth {
		return "", "", nil
	}
	password, err := e.secrets.Decrypt(src.PasswordEncrypted)
	if err != nil {
		return "", "", fmt.Errorf("decrypt credentials for source %s: %w", src.ID, err)
	}
	return src.Username, password, nil
}

func (e *Engine) fetchTimeout() time.Duration {
	if e.firstCycleDone.Load() {
		return e.backgroundTimeout
	}
	return e.initialTimeout
}

func (e *Engine) sourceLock(sourceID string) *gosync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.perSource[sourceID]
	if !ok {
		lock = &gosync.Mutex{}
		e.perSource[sourceID] = lock
	}
	return lock
}

// matchRemote matches a local calendar URL against discovered collections.
// Servers report collection paths; configs may store absolute URLs, so a
// suffix match is accepted.
func matchRemote(remotes []fetch.RemoteCalendar, localURL string) (fetch.RemoteCalendar, bool) {
	if localURL == "" {
		return fetch.RemoteCalendar{}, false
	}
	for _, r := range remotes {
		if r.Path == localURL || hasSuffixPath(localURL, r.Path) {
			return r, true
		}
	}
	return fetch.RemoteCalendar{}, false
}

func hasSuffixPath(url, path string) bool {
	return path != "" && len(url) >= len(path) && url[len(url)-len(path):] == path
}
