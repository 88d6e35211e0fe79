package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"ytsheets"
	"ytsheets/cache"
	"ytsheets/config"
	"ytsheets/internal/logger"
	"ytsheets/internal/metrics"
	"ytsheets/pipeline"
	"ytsheets/quota"
	"ytsheets/sheets"
	"ytsheets/storage"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger.Init(logger.FromEnv())

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "sync":
		os.Exit(cmdSync(args))
	case "quota":
		os.Exit(cmdQuota(args))
	case "cache":
		os.Exit(cmdCache(args))
	case "history":
		os.Exit(cmdHistory(args))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ytsheets - sync YouTube channel uploads into Google Sheets

Usage:
  ytsheets sync [flags] <channel>...   Append new uploads of the channels to a tab
  ytsheets quota [--reset]             Show today's YouTube API quota usage
  ytsheets cache stats|clear           Inspect or clear the ETag response cache
  ytsheets history [flags]             Show recent runs or per-channel sync state
  ytsheets help                        Show this help message

Channels may be channel IDs (UC...), @handles or youtube.com channel URLs.

Examples:
  ytsheets sync --sheet https://docs.google.com/spreadsheets/d/1abc/edit --tab Videos @GoogleDevelopers
  ytsheets sync --sheet 1abc --tab Talks --keywords golang,gophercon --min-duration 10m UCxxxxx
  ytsheets sync --sheet 1abc --tab New --create-tab --exclude-shorts --max 100 @a @b @c

For help on specific command: ytsheets <command> -h
`)
}

// syncFlags are the raw sync command line values.
type syncFlags struct {
	sheet         string
	tab           string
	createTab     bool
	keywords      string
	mode          string
	minDuration   time.Duration
	excludeShorts bool
	max           int
	batchSize     int
	delay         time.Duration
	metricsAddr   string
	timeout       time.Duration
	jsonOut       bool
}

// runConfig turns parsed flags into a RunConfig. Validation happens in
// the orchestrator.
func (f syncFlags) runConfig(channels []string, defaultMax int) (pipeline.RunConfig, error) {
	id, err := sheets.ParseSpreadsheetID(f.sheet)
	if err != nil {
		return pipeline.RunConfig{}, err
	}
	maxResults := f.max
	if maxResults == 0 {
		maxResults = defaultMax
	}
	return pipeline.RunConfig{
		Channels: channels,
		Filter: pipeline.FilterSpec{
			Keywords:      splitList(f.keywords),
			Mode:          pipeline.FilterMode(f.mode),
			MinDuration:   f.minDuration,
			ExcludeShorts: f.excludeShorts,
			MaxResults:    maxResults,
		},
		Destination: pipeline.Destination{
			SpreadsheetID:   id,
			Tab:             f.tab,
			CreateIfMissing: f.createTab,
		},
		BatchSize:    f.batchSize,
		RequestDelay: f.delay,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func cmdSync(args []string) int {
	var sf syncFlags
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	fs.StringVar(&sf.sheet, "sheet", "", "Spreadsheet URL or ID (required)")
	fs.StringVar(&sf.tab, "tab", "Videos", "Tab to append rows to")
	fs.BoolVar(&sf.createTab, "create-tab", false, "Create the tab with a header row if it is missing")
	fs.StringVar(&sf.keywords, "keywords", "", "Comma-separated keywords matched against title and description")
	fs.StringVar(&sf.mode, "mode", "include", "Keyword mode: include or exclude")
	fs.DurationVar(&sf.minDuration, "min-duration", 0, "Skip videos shorter than this (e.g. 60s)")
	fs.BoolVar(&sf.excludeShorts, "exclude-shorts", false, "Skip short-form videos")
	fs.IntVar(&sf.max, "max", 0, "Newest uploads to consider per channel, 1-500 (default from config)")
	fs.IntVar(&sf.batchSize, "batch-size", 0, "Rows per write (0 = adaptive)")
	fs.DurationVar(&sf.delay, "delay", 0, "Minimum spacing between API requests (0 = config default)")
	fs.StringVar(&sf.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	fs.DurationVar(&sf.timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	fs.BoolVar(&sf.jsonOut, "json", false, "Print the run result as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytsheets sync [flags] <channel>...\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	channels := fs.Args()
	if len(channels) == 0 || sf.sheet == "" {
		fmt.Fprintf(os.Stderr, "Error: --sheet and at least one channel are required\n")
		fs.Usage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if cfg.APIKey == "" {
		fmt.Fprintf(os.Stderr, "Error: no YouTube API key; set YTSHEETS_API_KEY or api_key in the config file\n")
		return 1
	}

	rc, err := sf.runConfig(channels, cfg.DefaultMaxResults)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := logger.Get()
	ctx := context.Background()
	if sf.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sf.timeout)
		defer cancel()
	}

	var rec metrics.Recorder = metrics.Nop{}
	if sf.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		rec = metrics.NewCollector(reg)
		srv := &http.Server{Addr: sf.metricsAddr, Handler: metrics.NewMux(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", sf.metricsAddr).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	s, err := ytsheets.Open(ctx, cfg, sf.sheet, ytsheets.Options{
		Logger:   log,
		Recorder: rec,
		OnProgress: func(p pipeline.Progress) {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s (%.0f%%) processed=%d written=%d\n",
				p.ChannelsProcessed, p.ChannelsTotal, p.Channel, p.Percent, p.VideosProcessed, p.VideosWritten)
		},
		OnQuotaAlert: func(a quota.Alert) {
			fmt.Fprintf(os.Stderr, "Warning: quota %s at %.1f%% (%d/%d units)\n", a.Level, a.Percentage, a.Used, a.Budget)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("closing syncer")
		}
	}()

	// The first interrupt lets in-flight channels finish; a second one
	// aborts them.
	ctx, abort := context.WithCancel(ctx)
	defer abort()
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		if _, ok := <-sigs; !ok {
			return
		}
		fmt.Fprintf(os.Stderr, "\nCancelling: waiting for in-flight channels (interrupt again to abort)\n")
		s.Cancel()
		if _, ok := <-sigs; ok {
			abort()
		}
	}()

	fmt.Fprintf(os.Stderr, "Syncing %d channel(s) into %q...\n", len(rc.Channels), rc.Destination.Tab)
	res, err := s.Run(ctx, rc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if sf.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res)
	} else {
		printResult(res)
	}

	if res.Status != pipeline.StatusCompleted {
		if quotaHit(res) {
			fmt.Fprintf(os.Stderr, "Daily quota exhausted; run `ytsheets quota` for details\n")
		}
		return 1
	}
	return 0
}

// quotaHit reports whether any channel failed on the daily quota.
func quotaHit(res *pipeline.RunResult) bool {
	for _, e := range res.Errors {
		if strings.Contains(e, quota.ErrQuotaExceeded.Error()) {
			return true
		}
	}
	return false
}

func printResult(res *pipeline.RunResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run\t%s\n", res.RunID)
	fmt.Fprintf(w, "Channels\t%d processed, %d failed of %d\n", res.ChannelsProcessed, res.ChannelsFailed, res.ChannelsTotal)
	fmt.Fprintf(w, "Videos\t%d processed, %d written in %d batch(es)\n", res.VideosProcessed, res.VideosWritten, res.BatchesWritten)
	fmt.Fprintf(w, "Duplicates\t%d skipped\n", res.DuplicatesSkipped)
	fmt.Fprintf(w, "Quota\t%d units\n", res.QuotaUsed)
	fmt.Fprintf(w, "Elapsed\t%.1fs\n", res.ElapsedSeconds)
	w.Flush()

	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "  - %s\n", e)
	}

	switch {
	case res.HasWarnings():
		fmt.Println("\nStatus: completed with warnings")
	default:
		fmt.Printf("\nStatus: %s\n", res.Status)
	}
}

func cmdQuota(args []string) int {
	fs := flag.NewFlagSet("quota", flag.ExitOnError)
	reset := fs.Bool("reset", false, "Reset today's usage")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytsheets quota [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	tracker := quota.New(cfg.QuotaConfig(), quota.WithLogger(logger.Get()))
	if *reset {
		tracker.Reset()
		fmt.Fprintln(os.Stderr, "Quota usage reset.")
	}

	st := tracker.Status()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status\t%s\n", st.Level)
	fmt.Fprintf(w, "Used\t%d of %d units (%.1f%%)\n", st.Used, st.Budget, st.Percentage)
	fmt.Fprintf(w, "Remaining\t%d units\n", st.Remaining)
	for resource, units := range tracker.ResourceBreakdown() {
		fmt.Fprintf(w, "  %s\t%d\n", resource, units)
	}
	w.Flush()
	fmt.Printf("\n%s\n", st.Recommendation)

	if hist := tracker.History(); len(hist) > 0 {
		fmt.Println("\nHistory:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, d := range hist {
			fmt.Fprintf(w, "  %s\t%d\n", d.Date, d.Used)
		}
		w.Flush()
	}
	return 0
}

func cmdCache(args []string) int {
	if len(args) == 0 || (args[0] != "stats" && args[0] != "clear") {
		fmt.Fprintf(os.Stderr, "Usage: ytsheets cache stats|clear\n")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if cfg.CacheFile == "" {
		fmt.Fprintln(os.Stderr, "Cache persistence is disabled (cache_file is empty).")
		return 0
	}
	c := cache.New(cache.Options{Path: cfg.CacheFile, Logger: logger.Get()})

	switch args[0] {
	case "clear":
		n := c.Len()
		c.Clear()
		if err := c.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Cleared %d cached response(s) from %s\n", n, cfg.CacheFile)
	default:
		st := c.Stats()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "File\t%s\n", cfg.CacheFile)
		fmt.Fprintf(w, "Entries\t%d\n", st.Entries)
		fmt.Fprintf(w, "Stored hits\t%d\n", c.TotalHits())
		w.Flush()
	}
	return 0
}

func cmdHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 10, "Number of runs to show")
	channels := fs.Bool("channels", false, "Show per-channel sync state instead of runs")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytsheets history [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if cfg.HistoryFile == "" {
		fmt.Fprintln(os.Stderr, "History is disabled (history_file is empty).")
		return 0
	}
	store, err := storage.NewJSONStore(cfg.HistoryFile, cfg.HistoryRuns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ctx := context.Background()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if *channels {
		states, err := store.SyncStates(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(w, "CHANNEL\tTITLE\tSTATUS\tLAST SYNC\tNEW (LAST/TOTAL)\tFAILURES")
		for _, st := range states {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\n",
				st.Channel, truncate(st.Title, 30), st.Status, formatTime(st.LastSyncAt),
				st.LastNewVideos, st.TotalNewVideos, st.Failures)
		}
		return 0
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, "STARTED\tSTATUS\tTAB\tCHANNELS\tWRITTEN\tQUOTA\tERRORS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\n",
			formatTime(r.StartedAt), r.Status, r.Tab,
			r.ChannelsProcessed-r.ChannelsFailed, r.ChannelsTotal,
			r.VideosWritten, r.QuotaUsed, len(r.Errors))
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
