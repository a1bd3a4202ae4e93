package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

const defaultRetain = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, append-only
//   - "sqlite": SQLite database file (modernc.org/sqlite, WAL)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retain bounds the number of runs kept by the sqlite driver (0 = default).
	Retain int
}

// RunRecord is one finished action execution. Pending work is never stored.
type RunRecord struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Fired    uint64        `json:"fired"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Panicked bool          `json:"panicked,omitempty"`
}

// OK reports whether the run succeeded.
func (r RunRecord) OK() bool { return r.Error == "" }
