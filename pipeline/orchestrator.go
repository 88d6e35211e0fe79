package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"ytsheets/cache"
	"ytsheets/dedup"
	"ytsheets/internal/logger"
	"ytsheets/internal/metrics"
	"ytsheets/quota"
	"ytsheets/sheets"
	"ytsheets/youtube"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config tunes concurrency, batching and the run success criteria.
type Config struct {
	// MaxConcurrency is the hard ceiling on concurrent channel fetches.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
	// MinWorkers is the floor of the worker count before the ceiling and
	// the channel count apply.
	MinWorkers int `json:"min_workers" yaml:"min_workers"`

	BatchFraction float64 `json:"batch_fraction" yaml:"batch_fraction"`
	MinBatchSize  int     `json:"min_batch_size" yaml:"min_batch_size"`
	MaxBatchSize  int     `json:"max_batch_size" yaml:"max_batch_size"`

	HydrateBatchSize int `json:"hydrate_batch_size" yaml:"hydrate_batch_size"`

	// SuccessThreshold is the fraction of channels that must succeed for a
	// run to complete.
	SuccessThreshold float64 `json:"success_threshold" yaml:"success_threshold"`

	// ShortFormThreshold is used when a run's filter leaves it unset.
	ShortFormThreshold time.Duration `json:"short_form_threshold" yaml:"short_form_threshold"`
}

// DefaultConfig returns the stock orchestrator settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:     10,
		MinWorkers:         5,
		BatchFraction:      0.1,
		MinBatchSize:       10,
		MaxBatchSize:       500,
		HydrateBatchSize:   youtube.MaxHydrateBatch,
		SuccessThreshold:   0.8,
		ShortFormThreshold: DefaultShortFormThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = d.MinWorkers
	}
	if c.BatchFraction <= 0 {
		c.BatchFraction = d.BatchFraction
	}
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = d.MinBatchSize
	}
	if c.MaxBatchSize < c.MinBatchSize {
		c.MaxBatchSize = max(d.MaxBatchSize, c.MinBatchSize)
	}
	if c.HydrateBatchSize <= 0 {
		c.HydrateBatchSize = d.HydrateBatchSize
	}
	if c.SuccessThreshold <= 0 || c.SuccessThreshold > 1 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.ShortFormThreshold <= 0 {
		c.ShortFormThreshold = d.ShortFormThreshold
	}
	return c
}

// DelaySetter accepts a per-run request spacing hint.
type DelaySetter interface {
	SetDelay(time.Duration)
}

// Deps are the shared services of an Orchestrator. Every field is
// optional.
type Deps struct {
	Quota    *quota.Tracker
	Cache    *cache.ResponseCache
	Dedup    *dedup.Deduplicator
	Logger   *zerolog.Logger
	Recorder metrics.Recorder

	// OnProgress is called from the consumer loop after each channel.
	OnProgress func(Progress)
	// Delay receives RunConfig.RequestDelay when it is positive.
	Delay DelaySetter
}

// Orchestrator runs syncs from a VideoSource to a spreadsheet Destination.
type Orchestrator struct {
	source youtube.VideoSource
	dest   sheets.Destination
	cfg    Config

	dedup    *dedup.Deduplicator
	fetcher  *ChannelFetcher
	log      *zerolog.Logger
	rec      metrics.Recorder
	progress func(Progress)
	delay    DelaySetter

	cancelled atomic.Bool
}

// New creates an Orchestrator.
func New(source youtube.VideoSource, dest sheets.Destination, cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		source:   source,
		dest:     dest,
		cfg:      cfg.withDefaults(),
		dedup:    deps.Dedup,
		log:      deps.Logger,
		rec:      deps.Recorder,
		progress: deps.OnProgress,
		delay:    deps.Delay,
	}
	if o.dedup == nil {
		o.dedup = dedup.New()
	}
	if o.log == nil {
		o.log = logger.Named("orchestrator")
	}
	if o.rec == nil {
		o.rec = metrics.Nop{}
	}

	fd := FetcherDeps{
		Cache:            deps.Cache,
		Dedup:            o.dedup,
		Logger:           o.log,
		Recorder:         o.rec,
		HydrateBatchSize: o.cfg.HydrateBatchSize,
	}
	if deps.Quota != nil {
		fd.Quota = deps.Quota
	}
	o.fetcher = NewChannelFetcher(source, fd)
	return o
}

// Cancel asks a running Run to stop submitting channels. Results already
// in flight are still consumed but nothing more is written. A Cancel that
// arrives before Run starts cancels that run.
func (o *Orchestrator) Cancel() { o.cancelled.Store(true) }

// Cancelled reports whether a cancellation is pending. The flag is cleared
// when a run finishes.
func (o *Orchestrator) Cancelled() bool { return o.cancelled.Load() }

// WorkerCount is the number of concurrent fetches for n channels.
func (o *Orchestrator) WorkerCount(n int) int {
	w := min(o.cfg.MaxConcurrency, n, max(o.cfg.MinWorkers, n/2))
	return max(w, 1)
}

// BatchSize is the adaptive flush size for an estimated item count.
func (o *Orchestrator) BatchSize(estimatedItems int) int {
	size := int(math.Round(float64(estimatedItems) * o.cfg.BatchFraction))
	return min(max(size, o.cfg.MinBatchSize), o.cfg.MaxBatchSize)
}

// Run executes rc. The only error returned is a validation error; every
// other failure is reported in the result.
func (o *Orchestrator) Run(ctx context.Context, rc RunConfig) (*RunResult, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}

	defer o.cancelled.Store(false)
	res := &RunResult{
		RunID:         uuid.NewString(),
		Status:        StatusRunning,
		StartedAt:     time.Now(),
		ChannelsTotal: len(rc.Channels),
	}
	tab := rc.Destination.Tab
	log := o.log.With().Str("run_id", res.RunID).Str("tab", tab).Logger()

	spec := rc.Filter
	if spec.ShortFormThreshold <= 0 {
		spec.ShortFormThreshold = o.cfg.ShortFormThreshold
	}
	if rc.RequestDelay > 0 && o.delay != nil {
		o.delay.SetDelay(rc.RequestDelay)
	}

	batchSize := rc.BatchSize
	if batchSize <= 0 {
		batchSize = o.BatchSize(len(rc.Channels) * spec.MaxResults)
	}
	workers := o.WorkerCount(len(rc.Channels))

	log.Info().
		Int("channels", len(rc.Channels)).
		Int("workers", workers).
		Int("batch_size", batchSize).
		Msg("sync started")

	created := o.prepare(ctx, &log, rc.Destination)

	results := o.fanOut(ctx, rc.Channels, tab, spec, workers)

	var pending []youtube.Video
	// owner maps a pending video to the channel scope it was marked under.
	owner := make(map[string]string)
	for cr := range results {
		res.ChannelsProcessed++
		res.QuotaUsed += cr.QuotaUsed
		res.Channels = append(res.Channels, cr.Summary())
		if cr.Err != nil {
			res.ChannelsFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", cr.Channel, cr.Err))
		} else {
			res.VideosProcessed += len(cr.Videos)
			res.DuplicatesSkipped += cr.Duplicates
			pending = append(pending, cr.Videos...)
			for _, v := range cr.Videos {
				owner[v.ID] = cr.ChannelID
			}
		}

		for len(pending) >= batchSize && !o.stopped(ctx) {
			if !o.flush(ctx, &log, tab, pending[:batchSize], res) {
				o.release(&log, tab, pending[:batchSize], owner)
			}
			pending = pending[batchSize:]
		}

		o.report(res, cr.Channel)
	}

	cancelled := o.stopped(ctx)
	if len(pending) > 0 && (cancelled || !o.flush(ctx, &log, tab, pending, res)) {
		o.release(&log, tab, pending, owner)
	}

	if !cancelled && (res.BatchesWritten > 0 || created) {
		if err := o.dest.ApplyFormatting(ctx, tab); err != nil {
			log.Warn().Err(err).Msg("formatting failed")
			res.Errors = append(res.Errors, fmt.Sprintf("formatting: %v", err))
		}
	}

	res.Status = o.finalStatus(res, cancelled)
	res.EndedAt = time.Now()
	res.ElapsedSeconds = res.EndedAt.Sub(res.StartedAt).Seconds()
	o.rec.RecordRun(string(res.Status))

	ev := log.Info()
	if res.Status != StatusCompleted {
		ev = log.Warn()
	}
	ev.Str("status", string(res.Status)).
		Int("channels_processed", res.ChannelsProcessed).
		Int("channels_failed", res.ChannelsFailed).
		Int("videos_processed", res.VideosProcessed).
		Int("videos_written", res.VideosWritten).
		Int("duplicates", res.DuplicatesSkipped).
		Int("batches", res.BatchesWritten).
		Int("quota_used", res.QuotaUsed).
		Float64("elapsed_s", res.ElapsedSeconds).
		Msg("sync finished")

	return res, nil
}

// prepare creates the tab when asked and seeds the deduplicator with the
// IDs already in it. It reports whether the tab was created.
func (o *Orchestrator) prepare(ctx context.Context, log *zerolog.Logger, d Destination) bool {
	var created bool
	if d.CreateIfMissing {
		var err error
		created, err = o.dest.EnsureTab(ctx, d.Tab)
		if err != nil {
			log.Warn().Err(err).Msg("ensure tab failed")
		} else if created {
			log.Info().Msg("tab created")
		}
	}

	ids, err := o.dest.ReadExistingIDs(ctx, d.Tab)
	if err != nil {
		log.Warn().Err(err).Msg("read existing ids failed")
		return created
	}
	o.dedup.MarkAsSeen(ids, "", d.Tab)
	log.Debug().Int("existing", len(ids)).Msg("seeded deduplicator")
	return created
}

// fanOut fetches channels on a bounded pool and streams the results. The
// channel is closed once every submitted fetch has finished.
func (o *Orchestrator) fanOut(ctx context.Context, channels []string, tab string, spec FilterSpec, workers int) <-chan ChannelResult {
	out := make(chan ChannelResult, workers)

	go func() {
		defer close(out)

		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup

		for _, ch := range channels {
			if o.stopped(ctx) {
				break
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}

			wg.Add(1)
			go func(channel string) {
				defer wg.Done()
				defer func() { <-sem }()
				out <- o.fetcher.Fetch(ctx, channel, tab, spec)
			}(ch)
		}

		wg.Wait()
	}()

	return out
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	return o.cancelled.Load() || ctx.Err() != nil
}

// flush writes one batch and reports whether it succeeded. A failed batch
// is recorded and its videos are not counted as written.
func (o *Orchestrator) flush(ctx context.Context, log *zerolog.Logger, tab string, videos []youtube.Video, res *RunResult) bool {
	batch := make([]youtube.Video, len(videos))
	copy(batch, videos)

	err := o.dest.WriteBatch(ctx, tab, batch)
	o.rec.RecordBatchWrite(err == nil, len(batch))
	if err != nil {
		log.Error().Err(err).Int("items", len(batch)).Msg("batch write failed")
		res.Errors = append(res.Errors, fmt.Sprintf("write batch of %d: %v", len(batch), err))
		return false
	}
	res.VideosWritten += len(batch)
	res.BatchesWritten++
	log.Debug().Int("items", len(batch)).Int("written", res.VideosWritten).Msg("batch written")
	return true
}

// release unmarks videos that never reached the sheet so a later run picks
// them up again.
func (o *Orchestrator) release(log *zerolog.Logger, tab string, videos []youtube.Video, owner map[string]string) {
	byChannel := make(map[string][]string)
	for _, v := range videos {
		ch := owner[v.ID]
		byChannel[ch] = append(byChannel[ch], v.ID)
	}
	for ch, ids := range byChannel {
		o.dedup.Forget(ids, ch, tab)
	}
	log.Debug().Int("items", len(videos)).Msg("released unwritten videos")
}

func (o *Orchestrator) report(res *RunResult, channel string) {
	if o.progress == nil {
		return
	}
	o.progress(Progress{
		RunID:             res.RunID,
		Channel:           channel,
		ChannelsProcessed: res.ChannelsProcessed,
		ChannelsTotal:     res.ChannelsTotal,
		Percent:           float64(res.ChannelsProcessed) / float64(res.ChannelsTotal) * 100,
		VideosProcessed:   res.VideosProcessed,
		VideosWritten:     res.VideosWritten,
	})
}

func (o *Orchestrator) finalStatus(res *RunResult, cancelled bool) Status {
	if cancelled {
		return StatusCancelled
	}
	ok := float64(res.ChannelsProcessed-res.ChannelsFailed) / float64(res.ChannelsTotal)
	if ok >= o.cfg.SuccessThreshold {
		return StatusCompleted
	}
	return StatusFailed
}
