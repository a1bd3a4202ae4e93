package scheduler

import "time"

const (
	DefaultTickDelay    = 10 * time.Millisecond
	defaultHistorySize  = 200
	defaultFaultLogRate = 1.0
	faultLogBurst       = 5

	// Successful actions slower than this are logged at info level.
	slowActionThreshold = 750 * time.Millisecond
)

// Config controls the scheduler.
//
// TickDelay trades responsiveness against idle polling: smaller values lower
// the worst-case trigger latency and wake the worker more often.
type Config struct {
	Name        string
	TickDelay   time.Duration
	HistorySize int

	// FaultLogRate bounds warn logs for failing actions (per second, burst 5).
	// Faults over the limit are still counted and recorded in history.
	FaultLogRate float64
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.TickDelay <= 0 {
		c.TickDelay = DefaultTickDelay
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.FaultLogRate <= 0 {
		c.FaultLogRate = defaultFaultLogRate
	}
	return c
}

type HistoryItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Fired    uint64        `json:"fired"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Panicked bool          `json:"panicked,omitempty"`
}

// TaskEvent is the payload of task.* events on the bus.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Interval int           `json:"interval"`
	Fired    uint64        `json:"fired,omitempty"`
	Started  time.Time     `json:"started,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	Panicked bool          `json:"panicked,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Name      string        `json:"name"`
	Running   bool          `json:"running"`
	TickDelay time.Duration `json:"tick_delay"`

	Iterations uint64 `json:"iterations"`
	QueueLen   int    `json:"queue_len"`
	LiveCount  int    `json:"live_count"`

	Submitted           uint64 `json:"submitted"`
	Executed            uint64 `json:"executed"`
	Failed              uint64 `json:"failed"`
	Panicked            uint64 `json:"panicked"`
	FaultLogsSuppressed uint64 `json:"fault_logs_suppressed"`
	LoopRestarts        uint64 `json:"loop_restarts"`

	History []HistoryItem `json:"history"`
}
