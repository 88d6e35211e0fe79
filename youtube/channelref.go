package youtube

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RefKind classifies a user-supplied channel reference.
type RefKind int

const (
	// RefID is a canonical channel ID (UC + 22 characters).
	RefID RefKind = iota
	// RefHandle is an @handle, bare or taken from a /@handle URL.
	RefHandle
	// RefCustom is the name in a legacy /c/name or /user/name URL.
	RefCustom
)

func (k RefKind) String() string {
	switch k {
	case RefID:
		return "id"
	case RefHandle:
		return "handle"
	case RefCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ChannelRef is a parsed channel reference. Value holds the channel ID,
// the handle including its "@", or the custom name.
type ChannelRef struct {
	Kind  RefKind
	Value string
}

// NeedsResolution reports whether an API lookup is needed to get the ID.
func (r ChannelRef) NeedsResolution() bool { return r.Kind != RefID }

var (
	channelIDRegex = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)
	handleRegex    = regexp.MustCompile(`^@[a-zA-Z0-9._-]{3,30}$`)
)

// IsChannelID reports whether s is a canonical channel ID.
func IsChannelID(s string) bool { return channelIDRegex.MatchString(s) }

// ParseChannelRef classifies s as a channel ID, a handle, or a channel URL
// of the /channel/, /@, /c/ or /user/ form.
func ParseChannelRef(s string) (ChannelRef, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ChannelRef{}, fmt.Errorf("%w: empty", ErrInvalidChannelRef)
	case channelIDRegex.MatchString(s):
		return ChannelRef{Kind: RefID, Value: s}, nil
	case strings.HasPrefix(s, "@"):
		if !handleRegex.MatchString(s) {
			return ChannelRef{}, fmt.Errorf("%w: malformed handle %q", ErrInvalidChannelRef, s)
		}
		return ChannelRef{Kind: RefHandle, Value: s}, nil
	}

	raw := s
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || !isYouTubeHost(u.Hostname()) {
		return ChannelRef{}, fmt.Errorf("%w: %q", ErrInvalidChannelRef, s)
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(segs) >= 2 && segs[0] == "channel" && channelIDRegex.MatchString(segs[1]):
		return ChannelRef{Kind: RefID, Value: segs[1]}, nil
	case len(segs) >= 1 && handleRegex.MatchString(segs[0]):
		return ChannelRef{Kind: RefHandle, Value: segs[0]}, nil
	case len(segs) >= 2 && (segs[0] == "c" || segs[0] == "user") && segs[1] != "":
		return ChannelRef{Kind: RefCustom, Value: segs[1]}, nil
	}
	return ChannelRef{}, fmt.Errorf("%w: %q", ErrInvalidChannelRef, s)
}

func isYouTubeHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	host = strings.TrimPrefix(host, "m.")
	return host == "youtube.com"
}
