package sheets

import (
	"time"

	"ytsheets/youtube"
)

// Header is the first row of every managed tab.
var Header = []string{
	"Video ID",
	"Title",
	"Channel",
	"Published",
	"Duration (s)",
	"Views",
	"Likes",
	"Comments",
	"URL",
	"Thumbnail",
	"Description",
}

// Column indexes used by formatting.
const (
	colDuration = 4
	colViews    = 5
)

// maxCellChars is the Sheets limit on characters in one cell.
const maxCellChars = 50000

// Row lays a video out in Header order.
func Row(v youtube.Video) []any {
	published := ""
	if !v.PublishedAt.IsZero() {
		published = v.PublishedAt.UTC().Format(time.RFC3339)
	}
	return []any{
		v.ID,
		v.Title,
		v.ChannelTitle,
		published,
		v.Duration,
		v.ViewCount,
		v.LikeCount,
		v.CommentCount,
		v.URL,
		v.Thumbnail,
		truncate(v.Description, maxCellChars),
	}
}

func headerRow() []any {
	out := make([]any, len(Header))
	for i, h := range Header {
		out[i] = h
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
