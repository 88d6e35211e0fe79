package pipeline

import (
	"strings"
	"time"

	"ytsheets/youtube"
)

// DefaultShortFormThreshold is used when a FilterSpec leaves it unset.
const DefaultShortFormThreshold = 60 * time.Second

// ApplyFilters returns the videos passing every predicate of spec, in
// input order. Each video is dropped at its first failing predicate.
func ApplyFilters(videos []youtube.Video, spec FilterSpec) []youtube.Video {
	threshold := spec.ShortFormThreshold
	if threshold <= 0 {
		threshold = DefaultShortFormThreshold
	}
	keywords := lowerKeywords(spec.Keywords)

	out := make([]youtube.Video, 0, len(videos))
	for _, v := range videos {
		if spec.MinDuration > 0 && time.Duration(v.Duration)*time.Second < spec.MinDuration {
			continue
		}
		if spec.ExcludeShorts && v.IsShortForm(threshold) {
			continue
		}
		if len(keywords) > 0 && !keywordsPass(v, keywords, spec.Mode) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func lowerKeywords(kw []string) []string {
	out := make([]string, 0, len(kw))
	for _, k := range kw {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func keywordsPass(v youtube.Video, keywords []string, mode FilterMode) bool {
	text := strings.ToLower(v.Title + "\n" + v.Description)
	matched := false
	for _, k := range keywords {
		if strings.Contains(text, k) {
			matched = true
			break
		}
	}
	if mode == ModeExclude {
		return !matched
	}
	return matched
}
