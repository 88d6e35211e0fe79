package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ytsheets/internal/logger"
	"ytsheets/internal/retry"
	"ytsheets/quota"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// QuotaSpender is charged before every Data API call. *quota.Tracker
// satisfies it.
type QuotaSpender interface {
	Consume(units int, resource string) error
}

type unmetered struct{}

func (unmetered) Consume(int, string) error { return nil }

// APIConfig configures an APISource.
type APIConfig struct {
	// APIKey is required.
	APIKey string
	// HTTPClient carries the outbound transport. The API key is added to
	// each request on top of it.
	HTTPClient *http.Client
	Quota      QuotaSpender
	Retry      retry.Config
	Logger     *zerolog.Logger
}

// APISource implements VideoSource on the YouTube Data API v3.
type APISource struct {
	service *youtube.Service
	quota   QuotaSpender
	retry   retry.Config
	log     *zerolog.Logger
}

// NewAPISource creates an APISource. Extra client options are passed to the
// generated service, e.g. option.WithEndpoint in tests.
func NewAPISource(ctx context.Context, cfg APIConfig, opts ...option.ClientOption) (*APISource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("youtube: api key required")
	}

	if cfg.HTTPClient != nil {
		base := cfg.HTTPClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client := *cfg.HTTPClient
		client.Transport = &transport.APIKey{Key: cfg.APIKey, Transport: base}
		opts = append(opts, option.WithHTTPClient(&client))
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	s := &APISource{
		service: service,
		quota:   cfg.Quota,
		retry:   cfg.Retry,
		log:     cfg.Logger,
	}
	if s.quota == nil {
		s.quota = unmetered{}
	}
	if s.log == nil {
		s.log = logger.Named("youtube")
	}
	if s.retry.OnRetry == nil {
		log := s.log
		s.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			log.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying api call")
		}
	}
	return s, nil
}

// do charges the quota for op and runs fn under retry. Each attempt is
// charged since each one reaches the API.
func (s *APISource) do(ctx context.Context, op, channel string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, s.retry, apiErrorClassifier, func(ctx context.Context) error {
		units := quota.Cost(op)
		if err := s.quota.Consume(units, op); err != nil {
			return retry.Permanent(err)
		}
		quota.Charge(ctx, units)
		return fn(ctx)
	})
	if err == nil {
		return nil
	}
	return &SourceError{Op: op, Channel: channel, Err: classify(err)}
}

// classify tags an API failure with the matching sentinel.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrChannelNotFound),
		errors.Is(err, quota.ErrQuotaExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	if hasReason(err, "quotaExceeded", "dailyLimitExceeded") {
		return fmt.Errorf("%w: %w", quota.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// ResolveHandle looks the handle up with channels.list forHandle and falls
// back to a channel search, which costs 100 units.
func (s *APISource) ResolveHandle(ctx context.Context, handle string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if name == "" {
		return "", fmt.Errorf("%w: empty handle", ErrInvalidChannelRef)
	}

	var channelID string
	err := s.do(ctx, quota.OpChannelsList, handle, func(ctx context.Context) error {
		resp, err := s.service.Channels.List([]string{"id"}).
			ForHandle("@" + name).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		if len(resp.Items) > 0 {
			channelID = resp.Items[0].Id
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if channelID != "" {
		return channelID, nil
	}

	s.log.Debug().Str("handle", handle).Msg("handle lookup empty, falling back to search")
	err = s.do(ctx, quota.OpSearchList, handle, func(ctx context.Context) error {
		resp, err := s.service.Search.List([]string{"id"}).
			Q(name).
			Type("channel").
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.ChannelId == "" {
			return ErrChannelNotFound
		}
		channelID = resp.Items[0].Id.ChannelId
		return nil
	})
	if err != nil {
		return "", err
	}
	return channelID, nil
}

// ListChannelVideoIDs pages through the channel's uploads playlist.
func (s *APISource) ListChannelVideoIDs(ctx context.Context, channelID string, maxResults int) (Listing, error) {
	if maxResults <= 0 {
		maxResults = MaxHydrateBatch
	}
	listing := Listing{ChannelID: channelID}

	var uploads string
	err := s.do(ctx, quota.OpChannelsList, channelID, func(ctx context.Context) error {
		resp, err := s.service.Channels.List([]string{"contentDetails", "snippet"}).
			Id(channelID).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return ErrChannelNotFound
		}
		ch := resp.Items[0]
		if ch.ContentDetails == nil || ch.ContentDetails.RelatedPlaylists == nil {
			return ErrChannelNotFound
		}
		uploads = ch.ContentDetails.RelatedPlaylists.Uploads
		if ch.Snippet != nil {
			listing.ChannelTitle = ch.Snippet.Title
		}
		return nil
	})
	if err != nil {
		return Listing{}, err
	}

	pageToken := ""
	for len(listing.VideoIDs) < maxResults {
		pageSize := min(maxResults-len(listing.VideoIDs), MaxHydrateBatch)

		var next string
		err := s.do(ctx, quota.OpPlaylistItemsList, channelID, func(ctx context.Context) error {
			resp, err := s.service.PlaylistItems.List([]string{"contentDetails"}).
				PlaylistId(uploads).
				MaxResults(int64(pageSize)).
				PageToken(pageToken).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			if pageToken == "" {
				listing.ETag = resp.Etag
			}
			for _, item := range resp.Items {
				if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
					continue
				}
				listing.VideoIDs = append(listing.VideoIDs, item.ContentDetails.VideoId)
			}
			next = resp.NextPageToken
			return nil
		})
		if err != nil {
			return Listing{}, err
		}
		if next == "" {
			break
		}
		pageToken = next
	}

	if len(listing.VideoIDs) > maxResults {
		listing.VideoIDs = listing.VideoIDs[:maxResults]
	}
	return listing, nil
}

// HydrateVideos fetches snippet, contentDetails and statistics for ids.
func (s *APISource) HydrateVideos(ctx context.Context, ids []string) ([]Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxHydrateBatch {
		return nil, fmt.Errorf("youtube: %d ids exceeds batch limit of %d", len(ids), MaxHydrateBatch)
	}

	var videos []Video
	err := s.do(ctx, quota.OpVideosList, "", func(ctx context.Context) error {
		resp, err := s.service.Videos.List([]string{"snippet", "contentDetails", "statistics"}).
			Id(ids...).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		videos = make([]Video, 0, len(resp.Items))
		for _, item := range resp.Items {
			videos = append(videos, s.toVideo(item))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return videos, nil
}

func (s *APISource) toVideo(item *youtube.Video) Video {
	v := Video{
		ID:   item.Id,
		URL:  VideoURL(item.Id),
		ETag: item.Etag,
	}
	if sn := item.Snippet; sn != nil {
		v.Title = sn.Title
		v.Description = sn.Description
		v.ChannelID = sn.ChannelId
		v.ChannelTitle = sn.ChannelTitle
		if t, err := time.Parse(time.RFC3339, sn.PublishedAt); err == nil {
			v.PublishedAt = t
		}
		v.Thumbnail = bestThumbnail(sn.Thumbnails)
	}
	if cd := item.ContentDetails; cd != nil && cd.Duration != "" {
		secs, err := ParseISODuration(cd.Duration)
		if err != nil {
			s.log.Debug().Err(err).Str("video", item.Id).Msg("unparseable duration")
		}
		v.Duration = secs
	}
	if st := item.Statistics; st != nil {
		v.ViewCount = st.ViewCount
		v.LikeCount = st.LikeCount
		v.CommentCount = st.CommentCount
	}
	return v
}

func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

// apiErrorClassifier reports whether a Data API error is worth retrying.
func apiErrorClassifier(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	if errors.Is(err, ErrChannelNotFound) || errors.Is(err, quota.ErrQuotaExceeded) {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if hasReason(err, "quotaExceeded", "dailyLimitExceeded") {
			return false
		}
		if hasReason(err, "rateLimitExceeded", "userRateLimitExceeded") {
			return true
		}
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}

	// Transport errors: connection resets, client timeouts.
	return true
}

func hasReason(err error, reasons ...string) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}
