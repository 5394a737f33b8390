package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Commands  CommandsConfig  `json:"commands"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the job poller.
//
// All durations are Go duration strings. Omitted values use the scheduler
// defaults (poll 5s, action timeout 30s, failure log every 1m).
type SchedulerConfig struct {
	Enabled         bool   `json:"enabled"`
	PollInterval    string `json:"poll_interval,omitempty"`
	ActionTimeout   string `json:"action_timeout,omitempty"`
	FailureLogEvery string `json:"failure_log_every,omitempty"`

	// DefaultOffset applies to time expressions written without a UTC
	// offset, e.g. "UTC+7". Empty means UTC.
	DefaultOffset string `json:"default_offset,omitempty"`

	// FailureNotices forwards job failures to the log chat.
	FailureNotices bool `json:"failure_notices,omitempty"`
}

// StorageConfig selects where jobs are persisted.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/chronobot" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
}

// CommandsConfig controls chat commands.
type CommandsConfig struct {
	// Per-user limit on job-creating commands.
	RatePerMinute int `json:"rate_per_minute,omitempty"`
	Burst         int `json:"burst,omitempty"`
	// How long an idle user's limiter is kept.
	LimiterTTL string `json:"limiter_ttl,omitempty"`

	// MuteRole is the role name /tempmute removes when the mute ends.
	MuteRole string `json:"mute_role,omitempty"`
	// BannerDirs lists directories /banner may rotate images from.
	BannerDirs []string `json:"banner_dirs,omitempty"`
}
