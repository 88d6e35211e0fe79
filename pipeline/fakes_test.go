package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ytsheets/quota"
	"ytsheets/youtube"
)

// fakeSource serves canned channels. Channel IDs map to their videos;
// handles map to channel IDs.
type fakeSource struct {
	mu       sync.Mutex
	handles  map[string]string
	videos   map[string][]youtube.Video
	etags    map[string]string
	failList map[string]error

	// block, when set, is waited on at the start of each listing.
	block chan struct{}

	resolveCalls int
	listCalls    int
	hydrateCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		handles:  map[string]string{},
		videos:   map[string][]youtube.Video{},
		etags:    map[string]string{},
		failList: map[string]error{},
	}
}

// addChannel registers n videos of duration 120s for channelID.
func (f *fakeSource) addChannel(channelID string, n int) []youtube.Video {
	vids := make([]youtube.Video, n)
	for i := range vids {
		vids[i] = youtube.Video{
			ID:        fmt.Sprintf("%s-v%03d", channelID[len(channelID)-4:], i),
			Title:     fmt.Sprintf("video %d", i),
			ChannelID: channelID,
			Duration:  120,
		}
	}
	f.videos[channelID] = vids
	return vids
}

func (f *fakeSource) ResolveHandle(ctx context.Context, handle string) (string, error) {
	quota.Charge(ctx, quota.Cost(quota.OpChannelsList))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	id, ok := f.handles[strings.TrimPrefix(handle, "@")]
	if !ok {
		return "", youtube.ErrChannelNotFound
	}
	return id, nil
}

func (f *fakeSource) ListChannelVideoIDs(ctx context.Context, channelID string, maxResults int) (youtube.Listing, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return youtube.Listing{}, ctx.Err()
		}
	}

	quota.Charge(ctx, quota.Cost(quota.OpPlaylistItemsList))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err, ok := f.failList[channelID]; ok {
		return youtube.Listing{}, err
	}
	vids, ok := f.videos[channelID]
	if !ok {
		return youtube.Listing{}, youtube.ErrChannelNotFound
	}
	ids := make([]string, 0, len(vids))
	for _, v := range vids {
		if len(ids) == maxResults {
			break
		}
		ids = append(ids, v.ID)
	}
	return youtube.Listing{
		ChannelID:    channelID,
		ChannelTitle: "title " + channelID,
		VideoIDs:     ids,
		ETag:         f.etags[channelID],
	}, nil
}

func (f *fakeSource) HydrateVideos(ctx context.Context, ids []string) ([]youtube.Video, error) {
	quota.Charge(ctx, quota.Cost(quota.OpVideosList))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hydrateCalls++
	if len(ids) > youtube.MaxHydrateBatch {
		return nil, fmt.Errorf("batch of %d", len(ids))
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []youtube.Video
	for _, vids := range f.videos {
		for _, v := range vids {
			if want[v.ID] {
				out = append(out, v)
			}
		}
	}
	// Keep request order.
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	sorted := make([]youtube.Video, len(ids))
	for _, v := range out {
		sorted[pos[v.ID]] = v
	}
	return sorted, nil
}

func (f *fakeSource) calls() (resolve, list, hydrate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls, f.listCalls, f.hydrateCalls
}

// fakeDest records every call.
type fakeDest struct {
	mu        sync.Mutex
	existing  []string
	batches   [][]youtube.Video
	failWrite map[int]error // keyed by write call number, from 1
	writes    int
	formats   int
	ensured   int
	created   bool
	ensureErr error
	readErr   error
	formatErr error
}

func (d *fakeDest) EnsureTab(_ context.Context, _ string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensured++
	return d.created, d.ensureErr
}

func (d *fakeDest) ReadExistingIDs(_ context.Context, _ string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return nil, d.readErr
	}
	return append([]string(nil), d.existing...), nil
}

func (d *fakeDest) WriteBatch(_ context.Context, _ string, videos []youtube.Video) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if err := d.failWrite[d.writes]; err != nil {
		return err
	}
	d.batches = append(d.batches, append([]youtube.Video(nil), videos...))
	return nil
}

func (d *fakeDest) ApplyFormatting(_ context.Context, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.formats++
	return d.formatErr
}

func (d *fakeDest) batchSizes() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	sizes := make([]int, len(d.batches))
	for i, b := range d.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// channelID builds a syntactically valid channel ID ending in suffix.
func channelID(suffix string) string {
	const base = "UC0123456789abcdefghijkl"
	return base[:len(base)-len(suffix)] + suffix
}
