package config

type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify"`
}

// HTTPConfig controls the JSON API listener.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type HTTPConfig struct {
	Addr         string `json:"addr"` // default ":8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig locates the SQLite database holding users, messages and
// scheduled notification jobs.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls execution of scheduled notification jobs.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - task_timeout: "30s"
//   - retry_max: 3
//   - retry_base: "500ms", retry_max_delay: "15s"
//   - sweep_every: "30s"
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// TaskTimeout bounds a single execution attempt of a notification task.
	TaskTimeout string `json:"task_timeout,omitempty"`

	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	// SweepEvery is how often the scheduler scans persisted jobs for
	// overdue work a timer missed (process restart, claim failure).
	SweepEvery string `json:"sweep_every,omitempty"`
}

// NotifyConfig controls outbound notification dispatch.
type NotifyConfig struct {
	// CancelTimeout bounds the scheduler cancel attempt made while marking
	// a message read, so a slow backend can never stall the request.
	// Default "2s".
	CancelTimeout string `json:"cancel_timeout,omitempty"`

	// RatePerSec limits outbound notifications across all channels.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	SMTP     SMTPConfig            `json:"smtp"`
	Telegram TelegramChannelConfig `json:"telegram,omitempty"`
}

type SMTPConfig struct {
	Addr     string `json:"addr"` // host:port
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
}

// TelegramChannelConfig enables the optional Telegram DM channel for
// users with a linked chat id.
type TelegramChannelConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}
