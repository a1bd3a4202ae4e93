package config

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"swbf2sched/internal/jobs"
)

const (
	DefaultAdminAddr = "127.0.0.1:6060"

	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Validate checks everything that can be checked without side effects.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if _, err := ParseDurationField("scheduler.tick_delay", cfg.Scheduler.TickDelay); err != nil {
		return err
	}
	if cfg.Scheduler.HistorySize < 0 {
		return errors.New("scheduler.history_size must be >= 0")
	}
	if cfg.Scheduler.FaultLogRate < 0 {
		return errors.New("scheduler.fault_log_rate must be >= 0")
	}

	if s := cfg.Storage; s != nil && !storageDisabled(s.Driver) {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case DriverFile, DriverSQLite:
		default:
			return errors.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if strings.TrimSpace(s.Path) == "" {
			return errors.New("storage.path required")
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
		if s.Retain < 0 {
			return errors.New("storage.retain must be >= 0")
		}
	}

	if a := cfg.Admin; a.Enabled {
		addr := strings.TrimSpace(a.Addr)
		if addr == "" {
			addr = DefaultAdminAddr
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return errors.Wrapf(err, "admin.addr %q", addr)
		}
		if !IsLoopbackAddr(addr) && strings.TrimSpace(a.Token) == "" && !a.AllowInsecure {
			return errors.Errorf("admin.addr %q is not loopback: set admin.token or admin.allow_insecure", addr)
		}
		for path, raw := range map[string]string{"admin.read_timeout": a.ReadTimeout, "admin.idle_timeout": a.IdleTimeout} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}

	if _, err := jobs.Compile(cfg.Jobs); err != nil {
		return errors.WithMessage(err, "jobs")
	}
	return nil
}

// TickDelayOr returns the configured tick delay, or def when unset or invalid.
func (c SchedulerConfig) TickDelayOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("scheduler.tick_delay", c.TickDelay, def)
	if err != nil {
		return def
	}
	return d
}

func storageDisabled(driver string) bool {
	d := strings.ToLower(strings.TrimSpace(driver))
	return d == "" || d == "none"
}

// IsLoopbackAddr reports whether addr binds to localhost only.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false // ":6060" listens on all interfaces
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
