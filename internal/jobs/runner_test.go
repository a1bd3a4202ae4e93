package jobs

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"swbf2sched/internal/task/scheduler"
	logx "swbf2sched/pkg/logx"
	"swbf2sched/pkg/systemdmanager"
)

type submission struct {
	kind     scheduler.Kind
	interval int
	unit     *scheduler.Unit
}

type fakeScheduler struct {
	mu      sync.Mutex
	subs    []submission
	cleared int
}

func (f *fakeScheduler) Submit(u *scheduler.Unit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, submission{kind: u.Kind(), interval: u.Interval(), unit: u})
	return nil
}

func (f *fakeScheduler) SubmitOneShot(a scheduler.Action, opts ...scheduler.UnitOption) error {
	u, err := scheduler.NewOneShot(a, opts...)
	if err != nil {
		return err
	}
	return f.Submit(u)
}

func (f *fakeScheduler) ClearRepeating() {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeScheduler) TicksFor(d time.Duration) int {
	return int((d + 10*time.Millisecond - 1) / (10 * time.Millisecond))
}

func (f *fakeScheduler) take() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.subs
	f.subs = nil
	return out
}

func TestRunnerApplyAndReload(t *testing.T) {
	fs := &fakeScheduler{}
	r := NewRunner(fs, logx.Nop())
	defer r.Stop(context.Background())

	defs := []Definition{
		{Name: "boot", Schedule: "once", Message: "hello"},
		{Name: "warmup", Schedule: "after:1s"},
		{Name: "beat", Schedule: "every:5"},
		{Name: "nightly", Schedule: "0 3 * * *"},
		{Name: "off", Schedule: "every:1", Disabled: true},
	}
	require.NoError(t, r.Apply(context.Background(), defs))

	subs := fs.take()
	require.Len(t, subs, 3)
	require.Equal(t, scheduler.KindOneShot, subs[0].kind)
	require.Equal(t, scheduler.KindDelayed, subs[1].kind)
	require.Equal(t, 100, subs[1].interval)
	require.Equal(t, scheduler.KindRepeating, subs[2].kind)
	require.Equal(t, 5, subs[2].interval)
	require.Len(t, r.Jobs(), 4)
	require.Equal(t, 0, fs.cleared)

	prev := subs

	require.NoError(t, r.Apply(context.Background(), defs))
	subs = fs.take()
	require.Equal(t, 1, fs.cleared)
	require.Len(t, subs, 2, "once jobs run only at first load")
	require.Equal(t, scheduler.KindDelayed, subs[0].kind)
	require.Equal(t, scheduler.KindRepeating, subs[1].kind)

	// The previous generation's units are retired; the once job is left alone.
	require.False(t, prev[0].unit.Removed())
	require.True(t, prev[1].unit.Removed())
	require.True(t, prev[2].unit.Removed())
	require.False(t, subs[1].unit.Removed())
}

// Reloading before the scheduler promotes anything must not leave the old
// generation's units in the live set.
func TestRunnerReloadBeforePromotion(t *testing.T) {
	s := scheduler.New(scheduler.Config{TickDelay: time.Millisecond}, logx.Nop(), nil)
	r := NewRunner(s, logx.Nop())
	defer r.Stop(context.Background())

	defs := []Definition{{Name: "beat", Schedule: "every:5"}}
	require.NoError(t, r.Apply(context.Background(), defs))
	require.NoError(t, r.Apply(context.Background(), defs))
	require.Equal(t, 2, s.Snapshot().QueueLen)

	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.QueueLen == 0 && snap.Iterations > 10
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 1, s.Snapshot().LiveCount)
	require.Len(t, r.Jobs(), 1)
}

func TestRunnerTickBound(t *testing.T) {
	tests := []struct {
		schedule string
		want     bool
	}{
		{"every:5", false},
		{"after:10", false},
		{"every:1m", true},
		{"after:90s", true},
		{"01:30", true},
		{"@every 5m", false},
		{"once", false},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			fs := &fakeScheduler{}
			r := NewRunner(fs, logx.Nop())
			defer r.Stop(context.Background())
			require.NoError(t, r.Apply(context.Background(), []Definition{{Name: "j", Schedule: tt.schedule}}))
			require.Equal(t, tt.want, r.TickBound())
		})
	}
}

func TestRunnerRejectsBadConfigAndKeepsPrevious(t *testing.T) {
	fs := &fakeScheduler{}
	r := NewRunner(fs, logx.Nop())
	defer r.Stop(context.Background())

	require.NoError(t, r.Apply(context.Background(), []Definition{{Name: "a", Schedule: "every:2"}}))
	fs.take()

	err := r.Apply(context.Background(), []Definition{{Name: "a", Schedule: "every:2"}, {Name: "a", Schedule: "once"}})
	require.ErrorContains(t, err, "duplicate")
	require.Equal(t, 0, fs.cleared)
	require.Empty(t, fs.take())
	require.Len(t, r.Jobs(), 1)
}

func TestCompileValidation(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"no name", Definition{Schedule: "once"}, "name required"},
		{"bad schedule", Definition{Name: "x", Schedule: "sometimes"}, "invalid schedule"},
		{"bad action", Definition{Name: "x", Schedule: "once", Action: "email"}, "unknown action"},
		{"exec without command", Definition{Name: "x", Schedule: "once", Action: "exec"}, "requires command"},
		{"bad timeout", Definition{Name: "x", Schedule: "once", Timeout: "soon"}, "invalid timeout"},
		{"systemd without unit", Definition{Name: "x", Schedule: "once", Action: "systemd"}, "requires unit"},
		{"systemd bad op", Definition{Name: "x", Schedule: "once", Action: "systemd", Unit: "swbf2", Op: "mask"}, "unknown unit op"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]Definition{tt.def})
			require.ErrorContains(t, err, tt.want)
		})
	}

	jobs, err := Compile([]Definition{{Name: "x", Schedule: "once", Action: "EXEC", Command: []string{"true"}, Timeout: "2s"}})
	require.NoError(t, err)
	require.Equal(t, ActionExec, jobs[0].Action)
	require.Equal(t, 2*time.Second, jobs[0].Timeout)
}

func TestLogActionWritesMessage(t *testing.T) {
	var buf strings.Builder
	jobs, err := Compile([]Definition{{Name: "greet", Schedule: "once", Message: "hi there"}})
	require.NoError(t, err)

	require.NoError(t, jobs[0].Func(logx.NewWriter(&buf, "debug"))(context.Background()))
	require.Contains(t, buf.String(), `"message":"hi there"`)
	require.Contains(t, buf.String(), `"job":"greet"`)
}

func TestExecAction(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	jobs, err := Compile([]Definition{
		{Name: "ok", Schedule: "once", Action: "exec", Command: []string{"sh", "-c", "echo fine"}},
		{Name: "fail", Schedule: "once", Action: "exec", Command: []string{"sh", "-c", "echo broken; exit 3"}},
		{Name: "slow", Schedule: "once", Action: "exec", Command: []string{"sleep", "5"}, Timeout: "50ms"},
	})
	require.NoError(t, err)

	require.NoError(t, jobs[0].Func(logx.Nop())(context.Background()))

	err = jobs[1].Func(logx.Nop())(context.Background())
	require.ErrorContains(t, err, "broken")

	err = jobs[2].Func(logx.Nop())(context.Background())
	require.ErrorContains(t, err, "timed out")
}

func TestClipOutputKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"éééééé", 5, "éé…"},
		{"aé", 2, "a…"},
		{"日本語", 1, "…"},
	}
	for _, tt := range tests {
		got := clipOutput(tt.in, tt.n)
		require.Equal(t, tt.want, got, "clipOutput(%q, %d)", tt.in, tt.n)
		require.True(t, utf8.ValidString(got))
	}
}

func TestExecActionClipsMultibyteOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	// The odd prefix puts a continuation byte at the cut.
	payload := "a" + strings.Repeat("é", maxOutputLog)
	jobs, err := Compile([]Definition{
		{Name: "loud", Schedule: "once", Action: "exec", Command: []string{"sh", "-c", `printf '%s' "$0"; exit 1`, payload}},
	})
	require.NoError(t, err)

	err = jobs[0].Func(logx.Nop())(context.Background())
	require.Error(t, err)
	require.True(t, utf8.ValidString(err.Error()))
	require.NotContains(t, err.Error(), `\x`)
	require.Contains(t, err.Error(), "…")
}

type fakeUnits struct {
	status string
	calls  []string
	closed bool
}

func (f *fakeUnits) Do(_ context.Context, op systemdmanager.Op, unit string) (systemdmanager.Result, error) {
	f.calls = append(f.calls, string(op)+" "+unit)
	return systemdmanager.Result{Unit: unit, Op: op, Status: f.status}, nil
}

func (f *fakeUnits) Close() error { f.closed = true; return nil }

func TestSystemdAction(t *testing.T) {
	fake := &fakeUnits{status: "done"}
	orig := dialSystemd
	dialSystemd = func(context.Context) (unitController, error) { return fake, nil }
	defer func() { dialSystemd = orig }()

	jobs, err := Compile([]Definition{{Name: "nightly", Schedule: "cron:0 4 * * *", Action: "systemd", Unit: "swbf2"}})
	require.NoError(t, err)
	require.Equal(t, "swbf2.service", jobs[0].Unit)
	require.Equal(t, systemdmanager.OpRestart, jobs[0].Op)

	require.NoError(t, jobs[0].Func(logx.Nop())(context.Background()))
	require.Equal(t, []string{"restart swbf2.service"}, fake.calls)
	require.True(t, fake.closed)

	fake.status = "failed"
	err = jobs[0].Func(logx.Nop())(context.Background())
	require.EqualError(t, err, "restart swbf2.service: job failed")
}
