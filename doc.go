// Package ytsheets synchronizes YouTube channel uploads into a Google Sheets
// tab.
//
// Overview
//
// A sync takes a list of channels (IDs, @handles or channel URLs), fetches
// their newest uploads from the YouTube Data API, filters them, drops the
// ones already in the target tab, and appends the rest as rows in
// adaptively sized batches. One failing channel does not fail the run: a
// run completes when at least 80% of its channels succeed.
//
// Quick Start
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	s, err := ytsheets.Open(ctx, cfg, "https://docs.google.com/spreadsheets/d/1abc/edit", ytsheets.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	res, err := s.Run(ctx, pipeline.RunConfig{
//		Channels:    []string{"@GoogleDevelopers", "UC_x5XG1OV2P6uZZ5FSM9Ttw"},
//		Filter:      pipeline.FilterSpec{MaxResults: 50, ExcludeShorts: true},
//		Destination: pipeline.Destination{SpreadsheetID: "1abc", Tab: "Videos", CreateIfMissing: true},
//	})
//	if err != nil {
//		log.Fatal(err) // invalid RunConfig
//	}
//	fmt.Printf("%s: wrote %d of %d videos\n", res.Status, res.VideosWritten, res.VideosProcessed)
//
// Quota
//
// The YouTube Data API grants 10,000 units a day. A search costs 100 units
// and every other call used here costs 1. The quota tracker refuses calls
// that would overrun the budget and persists usage between runs; ETag
// caching lets an unchanged channel skip re-hydrating its videos.
//
// Configuration
//
// ytsheets loads settings from multiple sources:
//
//  1. Environment variables (highest priority)
//  2. Config file (ytsheets.yaml, ytsheets.json or ~/.config/ytsheets/, or
//     the file named by YTSHEETS_CONFIG)
//  3. Default values (lowest priority)
//
// Environment variables:
//
//   - YTSHEETS_API_KEY: YouTube Data API key
//   - YTSHEETS_CREDENTIALS_FILE: Google service account JSON for Sheets
//   - YTSHEETS_DAILY_QUOTA: Daily quota budget in units
//   - YTSHEETS_QUOTA_STATE_FILE, YTSHEETS_CACHE_FILE: State file locations
//   - YTSHEETS_CACHE_ENABLED: Enable the ETag cache (true/false)
//   - YTSHEETS_MAX_CONCURRENCY: Ceiling on concurrent channel fetches
//   - YTSHEETS_SUCCESS_THRESHOLD: Fraction of channels that must succeed
//   - YTSHEETS_REQUEST_TIMEOUT, YTSHEETS_REQUEST_DELAY: HTTP timing
//   - YTSHEETS_MAX_RETRIES, YTSHEETS_INITIAL_BACKOFF, YTSHEETS_MAX_BACKOFF: Retry policy
//   - YTSHEETS_LOG_LEVEL, YTSHEETS_LOG_FORMAT: Logging
//
// Error Handling
//
// Checking for sentinel errors:
//
//	if errors.Is(err, ytsheets.ErrInvalidConfig) {
//		fmt.Println("Bad run config")
//	}
//
// Extracting wrapped error details:
//
//	var verr *ytsheets.ValidationError
//	if errors.As(err, &verr) {
//		fmt.Printf("%s %s\n", verr.Field, verr.Reason)
//	}
//
// Advanced Usage
//
// For more control, use the sub-packages directly:
//
//   - pipeline: Orchestrator, ChannelFetcher, filters and run types
//   - youtube: VideoSource and the Data API implementation
//   - sheets: Destination and the Sheets API implementation
//   - quota, cache, dedup: Quota accounting, ETag cache, deduplication
//   - http: Rate limited, circuit breaking HTTP transport
//   - config: Configuration management
package ytsheets
