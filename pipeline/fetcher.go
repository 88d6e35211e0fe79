package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ytsheets/cache"
	"ytsheets/dedup"
	"ytsheets/internal/logger"
	"ytsheets/internal/metrics"
	"ytsheets/quota"
	"ytsheets/youtube"

	"github.com/rs/zerolog"
)

// ErrChannelResolution marks a channel reference that could not be turned
// into a channel ID.
var ErrChannelResolution = errors.New("pipeline: channel resolution failed")

// QuotaGauge reports the quota left today. *quota.Tracker satisfies it.
type QuotaGauge interface {
	Remaining() int
}

// FetcherDeps are the shared collaborators of a ChannelFetcher. Only Dedup
// is required.
type FetcherDeps struct {
	Quota    QuotaGauge
	Cache    *cache.ResponseCache
	Dedup    *dedup.Deduplicator
	Logger   *zerolog.Logger
	Recorder metrics.Recorder

	// HydrateBatchSize is capped at youtube.MaxHydrateBatch.
	HydrateBatchSize int
}

// ChannelFetcher runs resolve, list, hydrate, filter and dedup for one
// channel. It is safe for concurrent use.
type ChannelFetcher struct {
	source  youtube.VideoSource
	quota   QuotaGauge
	cache   *cache.ResponseCache
	dedup   *dedup.Deduplicator
	log     *zerolog.Logger
	rec     metrics.Recorder
	hydrate int
}

// NewChannelFetcher creates a fetcher over source.
func NewChannelFetcher(source youtube.VideoSource, deps FetcherDeps) *ChannelFetcher {
	f := &ChannelFetcher{
		source:  source,
		quota:   deps.Quota,
		cache:   deps.Cache,
		dedup:   deps.Dedup,
		log:     deps.Logger,
		rec:     deps.Recorder,
		hydrate: deps.HydrateBatchSize,
	}
	if f.dedup == nil {
		f.dedup = dedup.New()
	}
	if f.log == nil {
		f.log = logger.Named("fetcher")
	}
	if f.rec == nil {
		f.rec = metrics.Nop{}
	}
	if f.hydrate <= 0 || f.hydrate > youtube.MaxHydrateBatch {
		f.hydrate = youtube.MaxHydrateBatch
	}
	return f
}

// listingKey is the cache key of a channel's hydrated uploads.
func listingKey(channelID string, maxResults int) string {
	return cache.Key("listing", channelID, strconv.Itoa(maxResults))
}

// Fetch never returns an error directly: failures are reported in
// ChannelResult.Err with no videos.
func (f *ChannelFetcher) Fetch(ctx context.Context, channel, tab string, spec FilterSpec) (res ChannelResult) {
	start := time.Now()
	res.Channel = channel

	var meter quota.Meter
	ctx = quota.WithMeter(ctx, &meter)
	log := f.log.With().Str("channel", channel).Logger()

	defer func() {
		res.QuotaUsed = meter.Units()
		f.rec.RecordChannelFetch(res.Err == nil, time.Since(start))
		if res.Err != nil {
			res.Videos = nil
			log.Warn().Err(res.Err).Int("quota_used", res.QuotaUsed).Msg("channel fetch failed")
		}
	}()

	if f.quota != nil && f.quota.Remaining() <= 0 {
		res.Err = fmt.Errorf("%w: nothing left today", quota.ErrQuotaExceeded)
		return res
	}

	ref, err := youtube.ParseChannelRef(channel)
	if err != nil {
		res.Err = err
		return res
	}
	channelID := ref.Value
	if ref.NeedsResolution() {
		channelID, err = f.source.ResolveHandle(ctx, ref.Value)
		if err != nil {
			res.Err = fmt.Errorf("%w: %s: %w", ErrChannelResolution, channel, err)
			return res
		}
		log.Debug().Str("channel_id", channelID).Msg("resolved channel")
	}
	res.ChannelID = channelID

	listing, err := f.source.ListChannelVideoIDs(ctx, channelID, spec.MaxResults)
	if err != nil {
		res.Err = err
		return res
	}
	res.ChannelTitle = listing.ChannelTitle

	videos, hit, err := f.videosFor(ctx, listing, spec.MaxResults)
	if err != nil {
		res.Err = err
		return res
	}
	res.CacheHit = hit
	res.Fetched = len(videos)

	kept := ApplyFilters(videos, spec)
	res.Filtered = len(videos) - len(kept)

	res.Videos, res.Duplicates = f.dedupe(kept, channelID, tab)
	f.rec.RecordDuplicates(res.Duplicates)

	log.Info().
		Str("channel_id", channelID).
		Int("fetched", res.Fetched).
		Int("filtered", res.Filtered).
		Int("duplicates", res.Duplicates).
		Int("new", len(res.Videos)).
		Bool("cache_hit", hit).
		Msg("channel fetched")
	return res
}

// videosFor returns the hydrated uploads of listing, from the cache when
// the listing's ETag is unchanged.
func (f *ChannelFetcher) videosFor(ctx context.Context, listing youtube.Listing, maxResults int) ([]youtube.Video, bool, error) {
	key := listingKey(listing.ChannelID, maxResults)
	if f.cache != nil && listing.ETag != "" {
		var cached []youtube.Video
		if f.cache.GetValue(key, listing.ETag, &cached) {
			return cached, true, nil
		}
	}

	videos := make([]youtube.Video, 0, len(listing.VideoIDs))
	for i := 0; i < len(listing.VideoIDs); i += f.hydrate {
		end := min(i+f.hydrate, len(listing.VideoIDs))
		batch, err := f.source.HydrateVideos(ctx, listing.VideoIDs[i:end])
		if err != nil {
			return nil, false, err
		}
		videos = append(videos, batch...)
	}

	if f.cache != nil {
		if err := f.cache.SetValue(key, videos, listing.ETag); err != nil {
			f.log.Warn().Err(err).Str("key", key).Msg("failed to cache listing")
		}
	}
	return videos, false, nil
}

// dedupe drops videos already in the destination tab, then videos seen
// earlier for this channel and tab.
func (f *ChannelFetcher) dedupe(videos []youtube.Video, channelID, tab string) ([]youtube.Video, int) {
	existing := 0
	candidates := make([]string, 0, len(videos))
	for _, v := range videos {
		if f.dedup.Seen(v.ID, "", tab) {
			existing++
			continue
		}
		candidates = append(candidates, v.ID)
	}

	fresh := f.dedup.FilterNew(candidates, channelID, tab)
	keep := make(map[string]struct{}, len(fresh))
	for _, id := range fresh {
		keep[id] = struct{}{}
	}

	out := make([]youtube.Video, 0, len(fresh))
	for _, v := range videos {
		if _, ok := keep[v.ID]; ok {
			out = append(out, v)
			delete(keep, v.ID)
		}
	}
	return out, existing + len(candidates) - len(fresh)
}
