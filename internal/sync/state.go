package sync

import (
	"time"

	"kioskcal/internal/model"
)

// backoffSchedule is the fixed retry cooldown ladder, indexed by
// min(retryCount-1, len-1).
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// State is the derived sync state of a source.
type State string

const (
	StateIdle    State = "idle"    // never failed, or recovered
	StateRetry   State = "retry"   // failing, next attempt allowed now
	StateBackoff State = "backoff" // retries exhausted, cooling down
)

// StateOf derives the current state from a metadata record. maxRetries is
// the count at which the backoff gate engages.
func StateOf(meta model.SyncMetadata, now time.Time, maxRetries int) State {
	if meta.RetryCount == 0 {
		return StateIdle
	}
	if Gated(meta, now, maxRetries) {
		return StateBackoff
	}
	return StateRetry
}

// Gated reports whether a sync attempt must be skipped this cycle: the
// source has reached the retry maximum and its cooldown has not elapsed.
func Gated(meta model.SyncMetadata, now time.Time, maxRetries int) bool {
	return meta.RetryCount >= maxRetries &&
		meta.NextRetryTime != nil &&
		meta.NextRetryTime.After(now)
}

// ApplySuccess returns the metadata after a fully successful sync: retry
// state cleared, last error wiped.
func ApplySuccess(meta model.SyncMetadata, now time.Time) model.SyncMetadata {
	t := now.UTC()
	meta.LastSyncTime = &t
	meta.LastSyncStatus = model.SyncStatusSuccess
	meta.LastError = ""
	meta.RetryCount = 0
	meta.NextRetryTime = nil
	return meta
}

// ApplyFailure returns the metadata after a failed sync attempt: retry
// count incremented and the next eligible retry time computed from the
// backoff schedule.
func ApplyFailure(meta model.SyncMetadata, now time.Time, err error) model.SyncMetadata {
	t := now.UTC()
	meta.LastSyncTime = &t
	meta.LastSyncStatus = model.SyncStatusError
	if err != nil {
		meta.LastError = err.Error()
	}
	meta.RetryCount++

	idx := meta.RetryCount - 1
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	next := t.Add(backoffSchedule[idx])
	meta.NextRetryTime = &next
	return meta
}

// ApplyReset returns the metadata after an operator-triggered retry reset:
// the source becomes immediately eligible without a successful sync.
func ApplyReset(meta model.SyncMetadata) model.SyncMetadata {
	meta.RetryCount = 0
	meta.NextRetryTime = nil
	return meta
}
