package jobs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind is the normalized kind of a schedule string.
type ScheduleKind int

const (
	ScheduleOnce ScheduleKind = iota
	ScheduleAfter
	ScheduleEvery
	ScheduleCron
)

func (k ScheduleKind) String() string {
	switch k {
	case ScheduleOnce:
		return "once"
	case ScheduleAfter:
		return "after"
	case ScheduleEvery:
		return "every"
	case ScheduleCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Schedule is a parsed schedule string.
//
// Supported forms:
//   - "once": a one-shot, run at first load
//   - "after:<amount>": a delayed unit
//   - "every:<amount>" (or "interval:<amount>"): a repeating unit
//   - "cron:<expr>", or a bare cron expression / descriptor ("*/5 * * * *", "@hourly", "@every 5m")
//
// An amount is a tick count ("25"), a Go duration ("90s") or HH:MM ("01:30").
// A bare duration or HH:MM means "every:".
type Schedule struct {
	Kind   ScheduleKind
	Ticks  int
	Every  time.Duration
	Cron   string
	Source string // "once" | "ticks" | "duration" | "hhmm" | "cron"
}

// Resolve returns the tick count for After/Every schedules, converting
// durations with ticksFor.
func (s Schedule) Resolve(ticksFor func(time.Duration) int) int {
	if s.Ticks > 0 {
		return s.Ticks
	}
	if s.Every > 0 && ticksFor != nil {
		return ticksFor(s.Every)
	}
	return 1
}

var (
	reHHMM  = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reTicks = regexp.MustCompile(`^\d+$`)

	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case low == "once":
		return Schedule{Kind: ScheduleOnce, Source: "once"}, nil
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "after:"):
		return parseAmount(ScheduleAfter, s[len("after:"):])
	case strings.HasPrefix(low, "every:"):
		return parseAmount(ScheduleEvery, s[len("every:"):])
	case strings.HasPrefix(low, "interval:"):
		return parseAmount(ScheduleEvery, s[len("interval:"):])
	}

	// Any whitespace or leading '@' => cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if reHHMM.MatchString(s) {
		return parseAmount(ScheduleEvery, s)
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be > 0")
		}
		return Schedule{Kind: ScheduleEvery, Every: d, Source: "duration"}, nil
	}

	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use once, after:<n>, every:<n>, a duration like '55m' or cron like '*/5 * * * *')",
		raw,
	)
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron schedule required after 'cron:'")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Kind: ScheduleCron, Cron: expr, Source: "cron"}, nil
}

func parseAmount(kind ScheduleKind, v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Schedule{}, fmt.Errorf("%s: amount required", kind)
	}
	if reTicks.MatchString(v) {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Schedule{}, fmt.Errorf("%s: tick count must be > 0", kind)
		}
		return Schedule{Kind: kind, Ticks: n, Source: "ticks"}, nil
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Kind: kind, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid amount %q (use ticks like '25', HH:MM or a Go duration like '55m')", v)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("%s: amount must be > 0", kind)
	}
	return Schedule{Kind: kind, Every: d, Source: "duration"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
