// Package pipeline runs a sync: it fans channel fetches out over a worker
// pool, deduplicates and filters their videos, and writes them to a
// spreadsheet tab in adaptively sized batches.
package pipeline

import (
	"time"

	"ytsheets/youtube"
)

// FilterMode selects how keywords are applied.
type FilterMode string

const (
	// ModeInclude keeps videos matching at least one keyword.
	ModeInclude FilterMode = "include"
	// ModeExclude drops videos matching any keyword.
	ModeExclude FilterMode = "exclude"
)

// FilterSpec selects which videos of a channel are written.
type FilterSpec struct {
	Keywords []string   `json:"keywords,omitempty" validate:"dive,required"`
	Mode     FilterMode `json:"mode,omitempty" validate:"omitempty,oneof=include exclude"`

	// MinDuration drops videos shorter than this.
	MinDuration time.Duration `json:"min_duration,omitempty" validate:"gte=0"`

	// ExcludeShorts drops videos no longer than ShortFormThreshold.
	ExcludeShorts      bool          `json:"exclude_shorts,omitempty"`
	ShortFormThreshold time.Duration `json:"short_form_threshold,omitempty" validate:"gte=0"`

	// MaxResults caps the uploads listed per channel.
	MaxResults int `json:"max_results" validate:"min=1,max=500"`
}

// Destination is the spreadsheet tab a run writes to.
type Destination struct {
	SpreadsheetID   string `json:"spreadsheet_id" validate:"required"`
	Tab             string `json:"tab" validate:"tabname"`
	CreateIfMissing bool   `json:"create_if_missing,omitempty"`
}

// RunConfig is the input of one run.
type RunConfig struct {
	Channels    []string    `json:"channels" validate:"required,min=1,dive,channelref"`
	Filter      FilterSpec  `json:"filter"`
	Destination Destination `json:"destination"`

	// BatchSize overrides the adaptive batch size when positive.
	BatchSize int `json:"batch_size,omitempty" validate:"gte=0"`
	// RequestDelay, when positive, replaces the transport's request spacing
	// for this run.
	RequestDelay time.Duration `json:"request_delay,omitempty" validate:"gte=0"`
}

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RunResult is the outcome of a run. Only the orchestrator's consumer loop
// mutates it.
type RunResult struct {
	RunID     string    `json:"run_id"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	VideosProcessed   int `json:"videos_processed"`
	VideosWritten     int `json:"videos_written"`
	DuplicatesSkipped int `json:"duplicates_skipped"`

	ChannelsTotal     int `json:"channels_total"`
	ChannelsProcessed int `json:"channels_processed"`
	ChannelsFailed    int `json:"channels_failed"`
	BatchesWritten    int `json:"batches_written"`

	Errors         []string `json:"errors,omitempty"`
	QuotaUsed      int      `json:"quota_used"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`

	// Channels holds one summary per consumed channel, in completion order.
	Channels []ChannelSummary `json:"channels,omitempty"`
}

// ChannelSummary is the outcome of one channel within a run.
type ChannelSummary struct {
	Channel    string `json:"channel"`
	ChannelID  string `json:"channel_id,omitempty"`
	Title      string `json:"title,omitempty"`
	NewVideos  int    `json:"new_videos"`
	Duplicates int    `json:"duplicates"`
	CacheHit   bool   `json:"cache_hit,omitempty"`
	QuotaUsed  int    `json:"quota_used"`
	Error      string `json:"error,omitempty"`
}

// SuccessRate is VideosWritten/VideosProcessed. ok is false when nothing
// was processed.
func (r *RunResult) SuccessRate() (rate float64, ok bool) {
	if r.VideosProcessed == 0 {
		return 0, false
	}
	return float64(r.VideosWritten) / float64(r.VideosProcessed), true
}

// IsComplete reports whether the run reached a terminal state.
func (r *RunResult) IsComplete() bool { return r.Status.Terminal() }

// HasWarnings reports whether a completed run recorded failures.
func (r *RunResult) HasWarnings() bool {
	return r.Status == StatusCompleted && len(r.Errors) > 0
}

// Progress is reported after each channel result is consumed.
type Progress struct {
	RunID             string  `json:"run_id"`
	Channel           string  `json:"channel"`
	ChannelsProcessed int     `json:"channels_processed"`
	ChannelsTotal     int     `json:"channels_total"`
	Percent           float64 `json:"percent"`
	VideosProcessed   int     `json:"videos_processed"`
	VideosWritten     int     `json:"videos_written"`
}

// ChannelResult is the output of one channel fetch. Err is set when the
// fetch failed; Videos is then empty.
type ChannelResult struct {
	Channel      string
	ChannelID    string
	ChannelTitle string

	Videos []youtube.Video

	// Fetched counts hydrated videos before filtering.
	Fetched    int
	Filtered   int
	Duplicates int
	CacheHit   bool
	QuotaUsed  int

	Err error
}

// Summary condenses r for a RunResult.
func (r ChannelResult) Summary() ChannelSummary {
	s := ChannelSummary{
		Channel:    r.Channel,
		ChannelID:  r.ChannelID,
		Title:      r.ChannelTitle,
		NewVideos:  len(r.Videos),
		Duplicates: r.Duplicates,
		CacheHit:   r.CacheHit,
		QuotaUsed:  r.QuotaUsed,
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}
