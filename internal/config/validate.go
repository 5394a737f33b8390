package config

import (
	"errors"
	"fmt"
	"strings"

	"chronobot/internal/timeexpr"
)

// Validate rejects configs the app cannot run with. It is used both at
// startup and before a hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	_, err = ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	add(err)
	_, err = ParseDurationField("scheduler.action_timeout", cfg.Scheduler.ActionTimeout)
	add(err)
	_, err = ParseDurationField("scheduler.failure_log_every", cfg.Scheduler.FailureLogEvery)
	add(err)
	if off := strings.TrimSpace(cfg.Scheduler.DefaultOffset); off != "" {
		if _, err := timeexpr.ParseOffset(off); err != nil {
			add(fmt.Errorf("scheduler.default_offset: %w", err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required when storage.driver=%s", cfg.Storage.Driver))
		}
	default:
		add(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)
	if cfg.Storage.CompactEvery < 0 {
		add(errors.New("storage.compact_every must be >= 0"))
	}

	if cfg.Commands.RatePerMinute < 0 || cfg.Commands.Burst < 0 {
		add(errors.New("commands.rate_per_minute and commands.burst must be >= 0"))
	}
	_, err = ParseDurationField("commands.limiter_ttl", cfg.Commands.LimiterTTL)
	add(err)

	return errors.Join(errs...)
}
