package youtube

import (
	"fmt"
	"regexp"
	"strconv"
)

// isoDurationRegex matches the subset of ISO-8601 durations the Data API
// emits in contentDetails.duration: P[nW][nD][T[nH][nM][nS]].
var isoDurationRegex = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration converts an ISO-8601 duration such as "PT1H2M3S" to
// whole seconds. "P0D" (live streams) is 0.
func ParseISODuration(s string) (int, error) {
	m := isoDurationRegex.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("youtube: invalid duration %q", s)
	}

	units := [...]int{7 * 24 * 3600, 24 * 3600, 3600, 60, 1}
	total := 0
	for i, mult := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("youtube: invalid duration %q: %w", s, err)
		}
		total += n * mult
	}
	return total, nil
}
