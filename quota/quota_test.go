package quota

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ytsheets/internal/logger"
)

// fakeClock is a settable wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(budget int, opts ...Option) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local)}
	cfg := DefaultConfig()
	cfg.DailyBudget = budget
	opts = append([]Option{WithClock(clock.Now), WithLogger(logger.Nop())}, opts...)
	return New(cfg, opts...), clock
}

func TestConsumeWithinBudget(t *testing.T) {
	tr, _ := newTestTracker(100)

	total := 0
	for _, u := range []int{10, 25, 1, 64} {
		if err := tr.Consume(u, OpVideosList); err != nil {
			t.Fatalf("Consume(%d) error = %v", u, err)
		}
		total += u
		if got := tr.Remaining(); got != 100-total {
			t.Errorf("Remaining() = %d, want %d", got, 100-total)
		}
	}
	if tr.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0 after consuming exactly the budget", tr.Remaining())
	}
}

func TestConsumeOverrunLeavesUsageUnchanged(t *testing.T) {
	tr, _ := newTestTracker(100)

	if err := tr.Consume(90, OpVideosList); err != nil {
		t.Fatalf("Consume(90) error = %v", err)
	}

	err := tr.Consume(11, OpSearchList)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Consume(11) error = %v, want ErrQuotaExceeded", err)
	}
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("error %T is not *ExceededError", err)
	}
	if exceeded.Requested != 11 || exceeded.Used != 90 || exceeded.Budget != 100 {
		t.Errorf("ExceededError = %+v", exceeded)
	}

	if got := tr.Usage(); got != 90 {
		t.Errorf("Usage() = %d after refused consume, want 90", got)
	}
	if got := tr.ResourceBreakdown()[OpSearchList]; got != 0 {
		t.Errorf("refused resource recorded %d units", got)
	}

	if err := tr.Consume(10, OpVideosList); err != nil {
		t.Errorf("Consume(10) after refusal error = %v", err)
	}
}

func TestConsumeNegative(t *testing.T) {
	tr, _ := newTestTracker(100)
	if err := tr.Consume(-1, OpVideosList); !errors.Is(err, ErrInvalidUnits) {
		t.Errorf("Consume(-1) error = %v, want ErrInvalidUnits", err)
	}
}

func TestDayRollover(t *testing.T) {
	tr, clock := newTestTracker(100)

	tr.Consume(80, OpVideosList)
	clock.Advance(24 * time.Hour)

	if got := tr.Usage(); got != 0 {
		t.Errorf("Usage() after rollover = %d, want 0", got)
	}
	if got := tr.Remaining(); got != 100 {
		t.Errorf("Remaining() after rollover = %d, want 100", got)
	}

	hist := tr.History()
	if len(hist) != 1 {
		t.Fatalf("History() len = %d, want 1", len(hist))
	}
	if hist[0].Used != 80 || hist[0].Date != "2026-03-10" {
		t.Errorf("archived day = %+v", hist[0])
	}
}

func TestHistoryIsBounded(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.Local)}
	cfg := DefaultConfig()
	cfg.DailyBudget = 100
	cfg.HistoryDays = 3
	tr := New(cfg, WithClock(clock.Now), WithLogger(logger.Nop()))

	for i := 0; i < 6; i++ {
		tr.Consume(i+1, OpVideosList)
		clock.Advance(24 * time.Hour)
	}

	hist := tr.History()
	if len(hist) != 3 {
		t.Fatalf("History() len = %d, want 3", len(hist))
	}
	if hist[0].Used != 4 || hist[2].Used != 6 {
		t.Errorf("History() kept %+v, want the three most recent days", hist)
	}
}

func TestUsagePercentage(t *testing.T) {
	tr, _ := newTestTracker(200)
	tr.Consume(50, OpVideosList)
	if got := tr.UsagePercentage(); got != 25 {
		t.Errorf("UsagePercentage() = %v, want 25", got)
	}

	zero, _ := newTestTracker(0)
	if got := zero.UsagePercentage(); got != 0 {
		t.Errorf("UsagePercentage() with zero budget = %v, want 0", got)
	}
}

func TestStatusTiers(t *testing.T) {
	tests := []struct {
		used int
		want Level
	}{
		{0, LevelHealthy},
		{69, LevelHealthy},
		{70, LevelWarning},
		{84, LevelWarning},
		{85, LevelCritical},
		{94, LevelCritical},
		{95, LevelExhausted},
		{100, LevelExhausted},
	}

	for _, tt := range tests {
		tr, _ := newTestTracker(100)
		if tt.used > 0 {
			tr.Consume(tt.used, OpVideosList)
		}
		st := tr.Status()
		if st.Level != tt.want {
			t.Errorf("used %d: Status().Level = %v, want %v", tt.used, st.Level, tt.want)
		}
		if st.Recommendation == "" {
			t.Errorf("used %d: empty recommendation", tt.used)
		}
		if st.Remaining != 100-tt.used {
			t.Errorf("used %d: Remaining = %d", tt.used, st.Remaining)
		}
	}
}

func TestCustomThresholds(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := New(Config{DailyBudget: 100, WarningPercent: 50, CriticalPercent: 60, ExhaustedPercent: 90},
		WithClock(clock.Now), WithLogger(logger.Nop()))

	tr.Consume(55, OpVideosList)
	if got := tr.Status().Level; got != LevelWarning {
		t.Errorf("Status().Level = %v, want warning", got)
	}
}

func TestAlertsFireOncePerLevel(t *testing.T) {
	var alerts []Alert
	tr, clock := newTestTracker(100, WithAlertHook(func(a Alert) { alerts = append(alerts, a) }))

	for i := 0; i < 100; i++ {
		tr.Consume(1, OpVideosList)
	}

	want := []Level{LevelWarning, LevelCritical, LevelExhausted}
	if len(alerts) != len(want) {
		t.Fatalf("got %d alerts, want %d: %+v", len(alerts), len(want), alerts)
	}
	for i, lvl := range want {
		if alerts[i].Level != lvl {
			t.Errorf("alert[%d] = %v, want %v", i, alerts[i].Level, lvl)
		}
	}

	clock.Advance(24 * time.Hour)
	tr.Consume(75, OpVideosList)
	if len(alerts) != 4 || alerts[3].Level != LevelWarning {
		t.Errorf("expected a fresh warning alert after rollover, got %+v", alerts)
	}
}

func TestConcurrentConsume(t *testing.T) {
	tr, _ := newTestTracker(50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, refused := 0, 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tr.Consume(1, OpPlaylistItemsList)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else {
				refused++
			}
		}()
	}
	wg.Wait()

	if ok != 50 || refused != 150 {
		t.Errorf("ok = %d, refused = %d, want 50 and 150", ok, refused)
	}
	if tr.Usage() != 50 {
		t.Errorf("Usage() = %d, want 50", tr.Usage())
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.Local)}
	cfg := DefaultConfig()
	cfg.DailyBudget = 1000
	cfg.StatePath = path

	first := New(cfg, WithClock(clock.Now), WithLogger(logger.Nop()))
	first.Consume(100, OpSearchList)
	first.Consume(3, OpVideosList)

	second := New(cfg, WithClock(clock.Now), WithLogger(logger.Nop()))
	if got := second.Usage(); got != 103 {
		t.Errorf("reloaded Usage() = %d, want 103", got)
	}
	if got := second.ResourceBreakdown()[OpSearchList]; got != 100 {
		t.Errorf("reloaded search.list usage = %d, want 100", got)
	}

	clock.Advance(24 * time.Hour)
	third := New(cfg, WithClock(clock.Now), WithLogger(logger.Nop()))
	if got := third.Usage(); got != 0 {
		t.Errorf("Usage() on the next day = %d, want 0", got)
	}
	if hist := third.History(); len(hist) != 1 || hist[0].Used != 103 {
		t.Errorf("History() = %+v, want the persisted day archived", hist)
	}
}

func TestCorruptStateIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.StatePath = path
	tr := New(cfg, WithLogger(logger.Nop()))
	if tr.Usage() != 0 {
		t.Errorf("Usage() = %d, want 0 with corrupt state", tr.Usage())
	}
	if err := tr.Consume(1, OpVideosList); err != nil {
		t.Errorf("Consume() error = %v", err)
	}
}

func TestReset(t *testing.T) {
	tr, _ := newTestTracker(100)
	tr.Consume(99, OpVideosList)
	tr.Reset()
	if tr.Remaining() != 100 {
		t.Errorf("Remaining() after Reset = %d, want 100", tr.Remaining())
	}
	if !tr.CanAfford(100) || tr.CanAfford(101) {
		t.Error("CanAfford() disagrees with the budget")
	}
}

func TestCost(t *testing.T) {
	cases := map[string]int{
		OpSearchList:        100,
		OpChannelsList:      1,
		OpPlaylistItemsList: 1,
		OpVideosList:        1,
		"captions.download": 1,
	}
	for op, want := range cases {
		if got := Cost(op); got != want {
			t.Errorf("Cost(%q) = %d, want %d", op, got, want)
		}
	}
}
