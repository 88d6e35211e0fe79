// Package quota tracks daily consumption of the YouTube Data API quota.
//
// A Tracker is shared by every concurrent channel fetch in a process. Each
// upstream call consumes its cost up front; a call that would push today's
// usage past the daily budget is refused with an *ExceededError and leaves
// the tracker untouched.
package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ytsheets/internal/logger"
	"ytsheets/internal/metrics"
	"ytsheets/internal/storage"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// Sentinel errors.
var (
	// ErrQuotaExceeded indicates a consumption would exceed the daily budget.
	ErrQuotaExceeded = errors.New("quota: daily quota exceeded")
	// ErrInvalidUnits indicates a negative consumption.
	ErrInvalidUnits = errors.New("quota: units must be non-negative")
)

// ExceededError describes a refused consumption.
type ExceededError struct {
	Resource  string
	Requested int
	Used      int
	Budget    int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: %s needs %d units but %d of %d are used", e.Resource, e.Requested, e.Used, e.Budget)
}

// Unwrap lets errors.Is(err, ErrQuotaExceeded) match.
func (e *ExceededError) Unwrap() error { return ErrQuotaExceeded }

// Config holds tracker settings.
type Config struct {
	// DailyBudget is the number of units available per day.
	DailyBudget int
	// WarningPercent, CriticalPercent and ExhaustedPercent are the usage
	// percentages at which Status escalates.
	WarningPercent   float64
	CriticalPercent  float64
	ExhaustedPercent float64
	// HistoryDays bounds how many archived days are kept.
	HistoryDays int
	// StatePath, if set, persists the tracker state across processes.
	StatePath string
}

// DefaultConfig returns the YouTube Data API defaults.
func DefaultConfig() Config {
	return Config{
		DailyBudget:      10000,
		WarningPercent:   70,
		CriticalPercent:  85,
		ExhaustedPercent: 95,
		HistoryDays:      30,
	}
}

// DayUsage is an archived day.
type DayUsage struct {
	Date        string         `json:"date"`
	Used        int            `json:"used"`
	Budget      int            `json:"budget"`
	PerResource map[string]int `json:"per_resource,omitempty"`
}

// Alert is emitted the first time a day's usage reaches a level.
type Alert struct {
	Level      Level
	Percentage float64
	Used       int
	Budget     int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithAlertHook registers a callback for threshold alerts. It is called
// outside the tracker lock.
func WithAlertHook(fn func(Alert)) Option {
	return func(t *Tracker) { t.onAlert = fn }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	log      *zerolog.Logger
	recorder metrics.Recorder
	onAlert  func(Alert)

	day         string
	used        int
	perResource map[string]int
	alerted     Level
	history     []DayUsage
}

// persisted is the on-disk form of the tracker.
type persisted struct {
	Date        string         `json:"date"`
	Used        int            `json:"used"`
	PerResource map[string]int `json:"per_resource"`
	Alerted     Level          `json:"alerted"`
	History     []DayUsage     `json:"history"`
}

// New creates a tracker. Zero thresholds fall back to the defaults. If
// cfg.StatePath names a readable state file it is loaded; a corrupt file is
// logged and ignored.
func New(cfg Config, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.WarningPercent <= 0 {
		cfg.WarningPercent = def.WarningPercent
	}
	if cfg.CriticalPercent <= 0 {
		cfg.CriticalPercent = def.CriticalPercent
	}
	if cfg.ExhaustedPercent <= 0 {
		cfg.ExhaustedPercent = def.ExhaustedPercent
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = def.HistoryDays
	}

	t := &Tracker{
		cfg:         cfg,
		now:         time.Now,
		recorder:    metrics.Nop{},
		perResource: make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Named("quota")
	}

	if cfg.StatePath != "" {
		t.load()
	}
	if t.day == "" {
		t.day = t.today()
	}
	return t
}

func (t *Tracker) today() string {
	return t.now().Format(dateLayout)
}

func (t *Tracker) load() {
	var st persisted
	ok, err := storage.ReadJSON(t.cfg.StatePath, &st)
	if err != nil {
		t.log.Warn().Err(err).Str("path", t.cfg.StatePath).Msg("ignoring unreadable quota state")
		return
	}
	if !ok {
		return
	}
	t.day = st.Date
	t.used = st.Used
	t.alerted = st.Alerted
	t.history = st.History
	if st.PerResource != nil {
		t.perResource = st.PerResource
	}
}

// saveLocked persists state; failures are logged, never returned.
func (t *Tracker) saveLocked() {
	if t.cfg.StatePath == "" {
		return
	}
	st := persisted{
		Date:        t.day,
		Used:        t.used,
		PerResource: t.perResource,
		Alerted:     t.alerted,
		History:     t.history,
	}
	if err := storage.WriteJSON(t.cfg.StatePath, st); err != nil {
		t.log.Warn().Err(err).Str("path", t.cfg.StatePath).Msg("failed to persist quota state")
	}
}

// rolloverLocked archives the previous day and resets usage when the date
// has changed. Reports whether a rollover happened.
func (t *Tracker) rolloverLocked() bool {
	today := t.today()
	if today == t.day {
		return false
	}

	if t.day != "" {
		t.history = append(t.history, DayUsage{
			Date:        t.day,
			Used:        t.used,
			Budget:      t.cfg.DailyBudget,
			PerResource: t.perResource,
		})
		if extra := len(t.history) - t.cfg.HistoryDays; extra > 0 {
			t.history = append([]DayUsage(nil), t.history[extra:]...)
		}
		t.log.Info().Str("previous_day", t.day).Int("used", t.used).Msg("quota reset for new day")
	}

	t.day = today
	t.used = 0
	t.perResource = make(map[string]int)
	t.alerted = LevelHealthy
	return true
}

// Consume records units against today's budget. If the budget would be
// exceeded nothing is recorded and an *ExceededError is returned.
func (t *Tracker) Consume(units int, resource string) error {
	if units < 0 {
		return ErrInvalidUnits
	}

	t.mu.Lock()
	rolled := t.rolloverLocked()

	if t.used+units > t.cfg.DailyBudget {
		err := &ExceededError{Resource: resource, Requested: units, Used: t.used, Budget: t.cfg.DailyBudget}
		if rolled {
			t.saveLocked()
		}
		t.mu.Unlock()
		t.log.Warn().Str("resource", resource).Int("requested", units).Msg("quota exceeded")
		return err
	}

	t.used += units
	t.perResource[resource] += units

	var alert *Alert
	pct := t.percentageLocked()
	if lvl := t.levelFor(pct); lvl > t.alerted {
		t.alerted = lvl
		alert = &Alert{Level: lvl, Percentage: pct, Used: t.used, Budget: t.cfg.DailyBudget}
	}
	t.saveLocked()
	t.mu.Unlock()

	t.recorder.RecordQuotaUnits(resource, units)
	if alert != nil {
		t.emit(*alert)
	}
	return nil
}

func (t *Tracker) emit(a Alert) {
	ev := t.log.Warn()
	if a.Level >= LevelCritical {
		ev = t.log.Error()
	}
	ev.Str("level", a.Level.String()).
		Float64("percentage", a.Percentage).
		Int("used", a.Used).
		Int("budget", a.Budget).
		Msg("quota threshold reached")

	if t.onAlert != nil {
		t.onAlert(a)
	}
}

// CanAfford reports whether units could be consumed right now.
func (t *Tracker) CanAfford(units int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.used+units <= t.cfg.DailyBudget
}

// Remaining returns the units left today, never negative.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	if r := t.cfg.DailyBudget - t.used; r > 0 {
		return r
	}
	return 0
}

// Usage returns the units used today.
func (t *Tracker) Usage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.used
}

// UsagePercentage returns usage/budget*100, or 0 when the budget is 0.
func (t *Tracker) UsagePercentage() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.percentageLocked()
}

func (t *Tracker) percentageLocked() float64 {
	if t.cfg.DailyBudget <= 0 {
		return 0
	}
	return float64(t.used) / float64(t.cfg.DailyBudget) * 100
}

// History returns a copy of the archived days, oldest first.
func (t *Tracker) History() []DayUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	out := make([]DayUsage, len(t.history))
	copy(out, t.history)
	return out
}

// ResourceBreakdown returns today's usage per resource.
func (t *Tracker) ResourceBreakdown() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	out := make(map[string]int, len(t.perResource))
	for k, v := range t.perResource {
		out[k] = v
	}
	return out
}

// Reset clears today's usage without archiving it.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.day = t.today()
	t.used = 0
	t.perResource = make(map[string]int)
	t.alerted = LevelHealthy
	t.saveLocked()
}
