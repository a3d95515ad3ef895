package scheduler

import (
	"time"

	"github.com/smallbiznis/tollgate/internal/config"
)

// Config controls the usage cycle trigger.
type Config struct {
	Enabled         bool
	RunInterval     time.Duration
	CycleTimeout    time.Duration
	PeriodAnchorDay int
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		RunInterval:     24 * time.Hour,
		CycleTimeout:    30 * time.Minute,
		PeriodAnchorDay: 1,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:         cfg.Scheduler.Enabled,
		RunInterval:     cfg.Scheduler.RunInterval,
		CycleTimeout:    cfg.Scheduler.CycleTimeout,
		PeriodAnchorDay: cfg.Scheduler.PeriodAnchorDay,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = defaults.CycleTimeout
	}
	if c.PeriodAnchorDay < 1 || c.PeriodAnchorDay > 28 {
		c.PeriodAnchorDay = defaults.PeriodAnchorDay
	}
	return c
}

// PeriodStart returns the first instant of the UTC billing period holding
// now. Periods begin at midnight on anchorDay of each month. When now is
// exactly a period boundary the period that just closed is returned so the
// window is never empty.
func PeriodStart(now time.Time, anchorDay int) time.Time {
	if anchorDay < 1 || anchorDay > 28 {
		anchorDay = 1
	}
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), anchorDay, 0, 0, 0, 0, time.UTC)
	if !start.Before(now) {
		start = start.AddDate(0, -1, 0)
	}
	return start
}
