package youtube

import "time"

// Video is the metadata of one uploaded video. Values are treated as
// immutable once built by a VideoSource.
type Video struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	PublishedAt  time.Time `json:"published_at"`

	// Duration is the length in whole seconds. Live streams and premieres
	// without a known length report 0.
	Duration int `json:"duration"`

	ViewCount    uint64 `json:"view_count"`
	LikeCount    uint64 `json:"like_count"`
	CommentCount uint64 `json:"comment_count"`

	Thumbnail string `json:"thumbnail,omitempty"`
	URL       string `json:"url"`
	ETag      string `json:"etag,omitempty"`
}

// IsShortForm reports whether the video is no longer than threshold.
// Videos of unknown length are never short-form.
func (v Video) IsShortForm(threshold time.Duration) bool {
	return v.Duration > 0 && time.Duration(v.Duration)*time.Second <= threshold
}

// VideoURL returns the watch URL for a video ID.
func VideoURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// ChannelURL returns the canonical URL for a channel ID.
func ChannelURL(channelID string) string {
	return "https://www.youtube.com/channel/" + channelID
}
