// Package sheets writes video rows into a Google Sheets tab.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"ytsheets/youtube"
)

// Sentinel errors.
var (
	ErrInvalidSpreadsheetURL = errors.New("sheets: invalid spreadsheet URL")
	ErrInvalidTabName        = errors.New("sheets: invalid tab name")
	ErrWriteFailed           = errors.New("sheets: write failed")
)

// MaxTabNameLength is the longest sheet title the Sheets UI accepts.
const MaxTabNameLength = 100

// Destination is the spreadsheet side of a sync.
type Destination interface {
	// EnsureTab creates tab (with a header row) if missing and reports
	// whether it did.
	EnsureTab(ctx context.Context, tab string) (bool, error)
	// ReadExistingIDs returns the video IDs already in the tab.
	ReadExistingIDs(ctx context.Context, tab string) ([]string, error)
	// WriteBatch appends one row per video in a single request.
	WriteBatch(ctx context.Context, tab string, videos []youtube.Video) error
	// ApplyFormatting styles the header and adds conditional formats.
	ApplyFormatting(ctx context.Context, tab string) error
}

// DestinationError wraps a failed spreadsheet operation.
type DestinationError struct {
	Op  string
	Tab string
	Err error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("sheets: %s %q: %v", e.Op, e.Tab, e.Err)
}

func (e *DestinationError) Unwrap() error { return e.Err }

var spreadsheetIDRegex = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// ExtractSpreadsheetID returns the ID from a URL of the form
// .../spreadsheets/d/<ID>/edit. A bare ID is returned unchanged. Anything
// else yields "".
func ExtractSpreadsheetID(s string) string {
	s = strings.TrimSpace(s)
	if m := spreadsheetIDRegex.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if s != "" && !strings.ContainsAny(s, "/:?#. ") {
		return s
	}
	return ""
}

// ParseSpreadsheetID is ExtractSpreadsheetID returning an error on failure.
func ParseSpreadsheetID(s string) (string, error) {
	id := ExtractSpreadsheetID(s)
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSpreadsheetURL, s)
	}
	return id, nil
}

// ValidateTabName rejects names the Sheets API refuses as sheet titles.
func ValidateTabName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidTabName)
	case utf8.RuneCountInString(name) > MaxTabNameLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidTabName, MaxTabNameLength)
	case strings.ContainsAny(name, `[]*?/\:`):
		return fmt.Errorf("%w: %q contains one of []*?/\\:", ErrInvalidTabName, name)
	}
	return nil
}

// a1Range quotes tab for use in an A1 range.
func a1Range(tab, cells string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + cells
}
