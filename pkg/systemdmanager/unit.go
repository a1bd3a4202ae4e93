// Package systemdmanager controls systemd units over D-Bus (linux only).
package systemdmanager

import (
	"fmt"
	"strings"
)

// Op is a unit job type.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
	OpReload  Op = "reload"
)

// ParseOp accepts start, stop, restart and reload (case-insensitive).
func ParseOp(s string) (Op, error) {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case OpStart, OpStop, OpRestart, OpReload:
		return op, nil
	case "":
		return OpRestart, nil
	default:
		return "", fmt.Errorf("unknown unit op %q", s)
	}
}

// UnitName appends ".service" when name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "timer", "socket", "target", "mount", "path", "slice", "scope":
			return name
		}
	}
	return name + ".service"
}

// Result is the outcome of one unit job.
type Result struct {
	Unit   string
	Op     Op
	Status string // done, canceled, timeout, failed, dependency, skipped
}

func (r Result) Err() error {
	if r.Status == "done" {
		return nil
	}
	return fmt.Errorf("%s %s: job %s", r.Op, r.Unit, r.Status)
}
