package storage

import (
	"time"

	"ytsheets/pipeline"
)

// RunRecord is a finished run with its destination.
type RunRecord struct {
	pipeline.RunResult

	SpreadsheetID string `json:"spreadsheet_id"`
	Tab           string `json:"tab"`
}

// NewRunRecord wraps res for the given destination.
func NewRunRecord(res *pipeline.RunResult, dest pipeline.Destination) *RunRecord {
	return &RunRecord{
		RunResult:     *res,
		SpreadsheetID: dest.SpreadsheetID,
		Tab:           dest.Tab,
	}
}

// Sync status constants for the SyncState.Status field.
const (
	// SyncStatusIdle indicates the last sync of the channel succeeded.
	SyncStatusIdle = "idle"
	// SyncStatusError indicates the last sync of the channel failed.
	SyncStatusError = "error"
)

// SyncState tracks the sync history of one channel.
type SyncState struct {
	// Channel is the reference the channel was synced under.
	Channel   string `json:"channel"`
	ChannelID string `json:"channel_id,omitempty"`
	Title     string `json:"title,omitempty"`

	// LastSyncAt is the end of the last successful sync.
	LastSyncAt time.Time `json:"last_sync_at"`
	// LastAttemptAt is the end of the last sync, successful or not.
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LastRunID     string    `json:"last_run_id"`

	// Status is SyncStatusIdle or SyncStatusError.
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
	// Failures counts consecutive failed syncs.
	Failures int `json:"failures"`

	// LastNewVideos is the number of new videos found by the last successful sync.
	LastNewVideos int `json:"last_new_videos"`
	// TotalNewVideos accumulates new videos over all syncs.
	TotalNewVideos int `json:"total_new_videos"`
}

// NewSyncState creates a new SyncState for a channel.
func NewSyncState(channel string) *SyncState {
	return &SyncState{
		Channel: channel,
		Status:  SyncStatusIdle,
	}
}

// CompleteSync marks the sync as successfully completed.
func (s *SyncState) CompleteSync(runID string, sum pipeline.ChannelSummary, at time.Time) {
	if s == nil {
		return
	}

	if sum.ChannelID != "" {
		s.ChannelID = sum.ChannelID
	}
	if sum.Title != "" {
		s.Title = sum.Title
	}
	s.Status = SyncStatusIdle
	s.LastError = ""
	s.Failures = 0
	s.LastRunID = runID
	s.LastSyncAt = at
	s.LastAttemptAt = at
	s.LastNewVideos = sum.NewVideos
	s.TotalNewVideos += sum.NewVideos
}

// FailSync marks the sync as failed with an error message. The last
// successful sync time is preserved.
func (s *SyncState) FailSync(runID, errMsg string, at time.Time) {
	if s == nil {
		return
	}

	s.Status = SyncStatusError
	s.LastError = errMsg
	s.Failures++
	s.LastRunID = runID
	s.LastAttemptAt = at
}
