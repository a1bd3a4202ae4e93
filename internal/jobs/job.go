package jobs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"swbf2sched/internal/task/scheduler"
	logx "swbf2sched/pkg/logx"
	"swbf2sched/pkg/systemdmanager"
)

const (
	ActionLog  = "log"
	ActionExec = "exec"
	// ActionUnit starts, stops, restarts or reloads a systemd unit.
	ActionUnit = "systemd"

	defaultExecTimeout = 30 * time.Second
	maxOutputLog       = 4 << 10
)

// Definition is a job as written in the config file.
type Definition struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Action   string   `json:"action"`
	Message  string   `json:"message,omitempty"`
	Command  []string `json:"command,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Op       string   `json:"op,omitempty"` // systemd only; default restart
	Timeout  string   `json:"timeout,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

// Job is a validated Definition.
type Job struct {
	Name     string
	Schedule Schedule
	Action   string
	Message  string
	Command  []string
	Unit     string
	Op       systemdmanager.Op
	Timeout  time.Duration
}

// Compile validates defs. Disabled entries are skipped; names must be unique.
func Compile(defs []Definition) ([]Job, error) {
	out := make([]Job, 0, len(defs))
	seen := map[string]struct{}{}
	for i, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("jobs[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("jobs[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if d.Disabled {
			continue
		}

		sch, err := ParseSchedule(d.Schedule)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		j := Job{Name: name, Schedule: sch, Message: d.Message, Timeout: defaultExecTimeout}

		switch act := strings.ToLower(strings.TrimSpace(d.Action)); act {
		case "", ActionLog:
			j.Action = ActionLog
			if strings.TrimSpace(j.Message) == "" {
				j.Message = name
			}
		case ActionExec:
			j.Action = ActionExec
			if len(d.Command) == 0 || strings.TrimSpace(d.Command[0]) == "" {
				return nil, fmt.Errorf("job %q: exec requires command", name)
			}
			j.Command = append([]string(nil), d.Command...)
		case ActionUnit:
			j.Action = ActionUnit
			if j.Unit = systemdmanager.UnitName(d.Unit); j.Unit == "" {
				return nil, fmt.Errorf("job %q: systemd requires unit", name)
			}
			if j.Op, err = systemdmanager.ParseOp(d.Op); err != nil {
				return nil, fmt.Errorf("job %q: %w", name, err)
			}
		default:
			return nil, fmt.Errorf("job %q: unknown action %q", name, d.Action)
		}

		if t := strings.TrimSpace(d.Timeout); t != "" {
			to, err := time.ParseDuration(t)
			if err != nil || to <= 0 {
				return nil, fmt.Errorf("job %q: invalid timeout %q", name, d.Timeout)
			}
			j.Timeout = to
		}
		out = append(out, j)
	}
	return out, nil
}

// Func builds the scheduler action for j.
func (j Job) Func(log logx.Logger) scheduler.Action {
	log = log.With(logx.String("job", j.Name))
	switch j.Action {
	case ActionExec:
		return func(ctx context.Context) error { return runCommand(ctx, log, j) }
	case ActionUnit:
		return func(ctx context.Context) error { return runUnitOp(ctx, log, j) }
	default:
		msg := j.Message
		return func(context.Context) error {
			log.Info(msg)
			return nil
		}
	}
}

func runCommand(ctx context.Context, log logx.Logger, j Job) error {
	cctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(cctx, j.Command[0], j.Command[1:]...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	dur := time.Since(start)

	out := clipOutput(strings.TrimSpace(buf.String()), maxOutputLog)
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s: timed out after %s", j.Command[0], j.Timeout)
		}
		return fmt.Errorf("%s: %w (output: %q)", j.Command[0], err, out)
	}
	log.Debug("job command finished", logx.String("cmd", j.Command[0]), logx.Duration("dur", dur), logx.String("output", out))
	return nil
}

// unitController is the part of systemdmanager.Manager a job needs.
type unitController interface {
	Do(ctx context.Context, op systemdmanager.Op, unit string) (systemdmanager.Result, error)
	Close() error
}

var dialSystemd = func(ctx context.Context) (unitController, error) {
	return systemdmanager.New(ctx)
}

func runUnitOp(ctx context.Context, log logx.Logger, j Job) error {
	cctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	m, err := dialSystemd(cctx)
	if err != nil {
		return err
	}
	defer m.Close()

	start := time.Now()
	res, err := m.Do(cctx, j.Op, j.Unit)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	log.Info("unit job finished", logx.String("unit", res.Unit), logx.String("op", string(res.Op)), logx.Duration("dur", time.Since(start)))
	return nil
}

// clipOutput caps s at n bytes without splitting a UTF-8 sequence.
func clipOutput(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
