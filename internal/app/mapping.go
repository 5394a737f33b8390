package app

import (
	"strconv"
	"strings"
	"time"

	"chronobot/internal/config"
	"chronobot/internal/storage"
	"chronobot/internal/task/scheduler"
	"chronobot/internal/timeexpr"
	"chronobot/internal/transport/telegram/router"
	logx "chronobot/pkg/logx"
)

const (
	defaultMuteRole   = "muted"
	defaultLimiterTTL = 30 * time.Minute
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "sqlite3" {
		driver = "sqlite"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(sc.Path),
		BusyTimeout:  busy,
		CompactEvery: sc.CompactEvery,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", sc.PollInterval, scheduler.DefaultPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.action_timeout", sc.ActionTimeout, scheduler.DefaultActionTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	every, err := config.ParseDurationOrDefault("scheduler.failure_log_every", sc.FailureLogEvery, scheduler.DefaultFailureLogEach)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{PollInterval: poll, ActionTimeout: timeout, FailureLogEach: every}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget returns the log chat, or 0 when none is configured.
func logTarget(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ParserFor builds the time expression parser. An invalid offset never
// gets past Validate, so it falls back to UTC here.
func ParserFor(cfg *config.Config) timeexpr.Parser {
	var p timeexpr.Parser
	if off := strings.TrimSpace(cfg.Scheduler.DefaultOffset); off != "" {
		if d, err := timeexpr.ParseOffset(off); err == nil {
			p.DefaultOffset = d
		}
	}
	return p
}

func muteRole(cfg *config.Config) string {
	if r := strings.TrimSpace(cfg.Commands.MuteRole); r != "" {
		return r
	}
	return defaultMuteRole
}

func newUserLimits(cfg *config.Config) (*router.UserLimits, error) {
	ttl, err := config.ParseDurationOrDefault("commands.limiter_ttl", cfg.Commands.LimiterTTL, defaultLimiterTTL)
	if err != nil {
		return nil, err
	}
	return router.NewUserLimits(cfg.Commands.RatePerMinute, cfg.Commands.Burst, ttl), nil
}

// OpenStore opens the configured backend and wraps it in a JobStore. The
// store is empty until Load.
func OpenStore(cfg *config.Config, log logx.Logger) (*storage.JobStore, error) {
	return openStore(cfg, log, false)
}

// OpenStoreReadOnly is OpenStore for inspection. Mutations fail with
// storage.ErrReadOnly and the file journal is not compacted.
func OpenStoreReadOnly(cfg *config.Config, log logx.Logger) (*storage.JobStore, error) {
	return openStore(cfg, log, true)
}

func openStore(cfg *config.Config, log logx.Logger, readOnly bool) (*storage.JobStore, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.ReadOnly = readOnly
	backend, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	return storage.NewJobStore(backend, log.With(logx.String("comp", "jobstore"))), nil
}
