// Package youtube reads channel uploads and video metadata from YouTube.
package youtube

import (
	"context"
	"errors"
)

// Sentinel errors for channel and video lookups.
var (
	ErrChannelNotFound   = errors.New("youtube: channel not found")
	ErrInvalidChannelRef = errors.New("youtube: invalid channel reference")
	ErrUpstream          = errors.New("youtube: upstream request failed")
)

// MaxHydrateBatch is the most ids videos.list accepts in one call.
const MaxHydrateBatch = 50

// Listing is the newest uploads of one channel.
type Listing struct {
	ChannelID    string
	ChannelTitle string
	VideoIDs     []string
	// ETag validates the first uploads page; it changes when a video is
	// added to or removed from the channel.
	ETag string
}

// VideoSource fetches channel listings and video details.
type VideoSource interface {
	// ResolveHandle maps a handle ("@name") or custom URL name to a channel
	// ID. It returns ErrChannelNotFound when nothing matches.
	ResolveHandle(ctx context.Context, handle string) (string, error)

	// ListChannelVideoIDs returns up to maxResults of the channel's most
	// recent uploads, newest first.
	ListChannelVideoIDs(ctx context.Context, channelID string, maxResults int) (Listing, error)

	// HydrateVideos returns full metadata for at most MaxHydrateBatch ids.
	// Ids that no longer exist are omitted.
	HydrateVideos(ctx context.Context, ids []string) ([]Video, error)
}

// SourceError wraps a failed upstream operation.
// Use errors.As() to get at the failing operation:
//
//	var srcErr *youtube.SourceError
//	if errors.As(err, &srcErr) {
//		fmt.Printf("%s failed for %s\n", srcErr.Op, srcErr.Channel)
//	}
type SourceError struct {
	// Op is the API operation, e.g. "playlistItems.list".
	Op string
	// Channel is the channel ID or handle being processed, if any.
	Channel string
	Err     error
}

func (e *SourceError) Error() string {
	if e.Channel == "" {
		return "youtube: " + e.Op + ": " + e.Err.Error()
	}
	return "youtube: " + e.Op + " " + e.Channel + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error { return e.Err }
