package quota

import (
	"encoding/json"
	"fmt"
)

// Level is a quota health tier.
type Level int

const (
	LevelHealthy Level = iota
	LevelWarning
	LevelCritical
	LevelExhausted
)

func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the level by name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name; unknown names decode as healthy.
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "warning":
		*l = LevelWarning
	case "critical":
		*l = LevelCritical
	case "exhausted":
		*l = LevelExhausted
	default:
		*l = LevelHealthy
	}
	return nil
}

// StatusReport summarizes today's quota.
type StatusReport struct {
	Level          Level
	Percentage     float64
	Used           int
	Remaining      int
	Budget         int
	Recommendation string
}

func (t *Tracker) levelFor(pct float64) Level {
	switch {
	case pct >= t.cfg.ExhaustedPercent:
		return LevelExhausted
	case pct >= t.cfg.CriticalPercent:
		return LevelCritical
	case pct >= t.cfg.WarningPercent:
		return LevelWarning
	default:
		return LevelHealthy
	}
}

// Status returns the current tier and a recommendation.
func (t *Tracker) Status() StatusReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	pct := t.percentageLocked()
	remaining := t.cfg.DailyBudget - t.used
	if remaining < 0 {
		remaining = 0
	}
	lvl := t.levelFor(pct)

	return StatusReport{
		Level:          lvl,
		Percentage:     pct,
		Used:           t.used,
		Remaining:      remaining,
		Budget:         t.cfg.DailyBudget,
		Recommendation: recommendation(lvl, remaining),
	}
}

func recommendation(l Level, remaining int) string {
	switch l {
	case LevelWarning:
		return fmt.Sprintf("%d units left today; prefer cached channels and avoid handle lookups", remaining)
	case LevelCritical:
		return fmt.Sprintf("only %d units left; sync essential channels only until the daily reset", remaining)
	case LevelExhausted:
		return "quota is effectively exhausted; postpone syncs until the daily reset"
	default:
		return "quota usage is healthy"
	}
}
