package ytsheets

import (
	"context"
	"errors"
	"fmt"

	"ytsheets/cache"
	"ytsheets/config"
	"ytsheets/dedup"
	ythttp "ytsheets/http"
	"ytsheets/internal/logger"
	"ytsheets/internal/metrics"
	"ytsheets/pipeline"
	"ytsheets/quota"
	"ytsheets/sheets"
	"ytsheets/storage"
	"ytsheets/youtube"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Options customizes Open. Every field is optional.
type Options struct {
	Logger   *zerolog.Logger
	Recorder metrics.Recorder

	// OnProgress receives a report after each channel of a run.
	OnProgress func(pipeline.Progress)
	// OnQuotaAlert is called when quota usage crosses a status level.
	OnQuotaAlert func(quota.Alert)

	// YouTubeOptions and SheetsOptions are passed to the generated clients,
	// e.g. option.WithEndpoint.
	YouTubeOptions []option.ClientOption
	SheetsOptions  []option.ClientOption
}

// Syncer is a fully wired sync engine for one spreadsheet.
type Syncer struct {
	Orchestrator *pipeline.Orchestrator
	Quota        *quota.Tracker
	Cache        *cache.ResponseCache
	Transport    *ythttp.Transport
	// History is nil when cfg.HistoryFile is empty.
	History *storage.JSONStore

	log *zerolog.Logger
}

// Open builds the transport, both Google clients, the quota tracker and the
// response cache from cfg. spreadsheet is a Sheets URL or bare ID.
func Open(ctx context.Context, cfg *config.Config, spreadsheet string, opts Options) (*Syncer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.Nop{}
	}

	spreadsheetID, err := sheets.ParseSpreadsheetID(spreadsheet)
	if err != nil {
		return nil, err
	}

	tc := cfg.TransportConfig()
	tc.Logger = log
	client, transport := ythttp.NewClient(tc)

	qopts := []quota.Option{quota.WithLogger(log), quota.WithRecorder(rec)}
	if opts.OnQuotaAlert != nil {
		qopts = append(qopts, quota.WithAlertHook(opts.OnQuotaAlert))
	}
	tracker := quota.New(cfg.QuotaConfig(), qopts...)

	var rc *cache.ResponseCache
	if cfg.CacheEnabled {
		rc = cache.New(cache.Options{Path: cfg.CacheFile, Logger: log, Recorder: rec})
	}

	var history *storage.JSONStore
	if cfg.HistoryFile != "" {
		history, err = storage.NewJSONStore(cfg.HistoryFile, cfg.HistoryRuns)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
	}

	source, err := youtube.NewAPISource(ctx, youtube.APIConfig{
		APIKey:     cfg.APIKey,
		HTTPClient: client,
		Quota:      tracker,
		Retry:      cfg.RetryConfig(),
		Logger:     log,
	}, opts.YouTubeOptions...)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}

	dest, err := sheets.NewAPIDestination(ctx, sheets.APIConfig{
		SpreadsheetID:      spreadsheetID,
		CredentialsFile:    cfg.CredentialsFile,
		HTTPClient:         client,
		ShortFormThreshold: cfg.ShortFormThreshold,
		Retry:              cfg.RetryConfig(),
		Logger:             log,
	}, opts.SheetsOptions...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}

	orch := pipeline.New(source, dest, cfg.OrchestratorConfig(), pipeline.Deps{
		Quota:      tracker,
		Cache:      rc,
		Dedup:      dedup.New(),
		Logger:     log,
		Recorder:   rec,
		OnProgress: opts.OnProgress,
		Delay:      transport,
	})

	return &Syncer{
		Orchestrator: orch,
		Quota:        tracker,
		Cache:        rc,
		Transport:    transport,
		History:      history,
		log:          log,
	}, nil
}

// Run executes one sync and records it in the history. A history write
// failure is logged and does not affect the result.
func (s *Syncer) Run(ctx context.Context, rc pipeline.RunConfig) (*pipeline.RunResult, error) {
	res, err := s.Orchestrator.Run(ctx, rc)
	if err != nil || s.History == nil {
		return res, err
	}
	// Recording must survive a cancelled run context.
	if err := storage.RecordRun(context.WithoutCancel(ctx), s.History, storage.NewRunRecord(res, rc.Destination)); err != nil {
		s.log.Warn().Err(err).Str("run_id", res.RunID).Msg("failed to record run history")
	}
	return res, nil
}

// Cancel stops the current run from submitting more channels.
func (s *Syncer) Cancel() { s.Orchestrator.Cancel() }

// Close flushes the response cache and the history to disk.
func (s *Syncer) Close() error {
	var errs []error
	if s.Cache != nil {
		if err := s.Cache.Save(); err != nil {
			errs = append(errs, fmt.Errorf("ytsheets: save cache: %w", err))
		}
	}
	if s.History != nil {
		if err := s.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ytsheets: save history: %w", err))
		}
	}
	return errors.Join(errs...)
}
