package config

import (
	"swbf2sched/internal/jobs"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "10ms", "5s", "1m").
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Admin     AdminConfig     `json:"admin,omitempty"`

	Jobs []jobs.Definition `json:"jobs,omitempty"`
}

// SchedulerConfig controls the tick scheduler.
//
// Defaults (when fields are omitted/zero):
//   - tick_delay: "10ms"
//   - history_size: 200
//   - fault_log_rate: 1 (warn logs per second for failing actions)
type SchedulerConfig struct {
	Name         string  `json:"name,omitempty"`
	TickDelay    string  `json:"tick_delay,omitempty"`
	HistorySize  int     `json:"history_size,omitempty"`
	FaultLogRate float64 `json:"fault_log_rate,omitempty"`
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

// StorageConfig controls the run journal. Nil, or driver "none", means disabled.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./swbf2sched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retain      int    `json:"retain,omitempty"`       // sqlite only; runs kept
}

// AdminConfig controls the admin HTTP server (health, metrics, debug).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}
