package quota

// YouTube Data API operations with a known quota cost.
const (
	OpSearchList        = "search.list"
	OpChannelsList      = "channels.list"
	OpPlaylistItemsList = "playlistItems.list"
	OpVideosList        = "videos.list"
)

var costs = map[string]int{
	OpSearchList:        100,
	OpChannelsList:      1,
	OpPlaylistItemsList: 1,
	OpVideosList:        1,
}

// Cost returns the quota units charged for one call of op. Unknown
// operations cost 1.
func Cost(op string) int {
	if c, ok := costs[op]; ok {
		return c
	}
	return 1
}
