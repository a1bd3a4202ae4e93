package jobs

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     ScheduleKind
		source   string
		ticks    int
		duration time.Duration
	}{
		{name: "once", raw: " ONCE ", kind: ScheduleOnce, source: "once"},
		{name: "cron", raw: "*/5 * * * *", kind: ScheduleCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: ScheduleCron, source: "cron"},
		{name: "descriptor", raw: "@every 5m", kind: ScheduleCron, source: "cron"},
		{name: "bare duration", raw: "10m", kind: ScheduleEvery, source: "duration", duration: 10 * time.Minute},
		{name: "every ticks", raw: "every:25", kind: ScheduleEvery, source: "ticks", ticks: 25},
		{name: "interval alias", raw: "interval:45s", kind: ScheduleEvery, source: "duration", duration: 45 * time.Second},
		{name: "after ticks", raw: "after:3", kind: ScheduleAfter, source: "ticks", ticks: 3},
		{name: "after duration", raw: "after: 2s", kind: ScheduleAfter, source: "duration", duration: 2 * time.Second},
		{name: "hhmm", raw: "01:30", kind: ScheduleEvery, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if got.Ticks != tt.ticks {
				t.Fatalf("Ticks = %d, want %d", got.Ticks, tt.ticks)
			}
			if got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "every:0", "after:", "after:-5s", "cron:", "cron:61 * * * *", "00:00", "01:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestScheduleResolve(t *testing.T) {
	t.Parallel()
	perTen := func(d time.Duration) int { return int(d / (10 * time.Millisecond)) }

	if got := (Schedule{Ticks: 7}).Resolve(perTen); got != 7 {
		t.Fatalf("ticks: got %d", got)
	}
	if got := (Schedule{Every: time.Second}).Resolve(perTen); got != 100 {
		t.Fatalf("duration: got %d", got)
	}
	if got := (Schedule{}).Resolve(nil); got != 1 {
		t.Fatalf("empty: got %d", got)
	}
}
