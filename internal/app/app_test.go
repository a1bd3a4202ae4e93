package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"swbf2sched/internal/eventbus"
	"swbf2sched/internal/task/scheduler"
)

const appConfig = `
scheduler:
  tick_delay: %s
logging:
  level: error
  console: true
storage:
  driver: file
  path: %s
jobs:
  - name: heartbeat
    schedule: "every:2"
    action: log
    message: beat
  - name: boot
    schedule: once
    action: log
    message: up
`

func writeConfig(t *testing.T, path, tick, store string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(fmt.Sprintf(appConfig, tick, store)), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestAppRunsJobsIntoJournal(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, cfgPath, "2ms", filepath.Join(dir, "journal"))

	a, err := New(cfgPath)
	require.NoError(t, err)
	require.NotNil(t, a.Store())
	require.NoError(t, a.Start(context.Background()))

	require.True(t, a.Scheduler().Running())
	require.Eventually(t, func() bool {
		runs, err := a.Store().RecentRuns(context.Background(), 10)
		if err != nil {
			return false
		}
		var boot, beat bool
		for _, r := range runs {
			boot = boot || r.Name == "boot"
			beat = beat || r.Name == "heartbeat"
		}
		return boot && beat
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopSignal))
	require.False(t, a.Scheduler().Running())
	require.NoError(t, a.Err())
}

func TestAppHotReloadsTickDelay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	store := filepath.Join(dir, "journal")
	writeConfig(t, cfgPath, "5ms", store)

	a, err := New(cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop(context.Background(), StopUnknown) }()

	require.Equal(t, 5*time.Millisecond, a.Scheduler().TickDelay())

	// give the watcher a moment to attach
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, cfgPath, "7ms", store)

	require.Eventually(t, func() bool {
		return a.Scheduler().TickDelay() == 7*time.Millisecond
	}, 5*time.Second, 20*time.Millisecond)
}

const pulseConfig = `
scheduler:
  tick_delay: %s
logging:
  level: error
  console: true
jobs:
  - name: pulse
    schedule: "every:1s"
    action: log
    message: pulse
`

func TestAppTickDelayReloadRescalesDurationJobs(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	write := func(tick string) {
		tmp := cfgPath + ".tmp"
		require.NoError(t, os.WriteFile(tmp, []byte(fmt.Sprintf(pulseConfig, tick)), 0o600))
		require.NoError(t, os.Rename(tmp, cfgPath))
	}
	write("10ms")

	a, err := New(cfgPath)
	require.NoError(t, err)
	events, unsub := a.bus.Subscribe(256, eventbus.TypeTaskSubmitted)
	defer unsub()
	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop(context.Background(), StopUnknown) }()

	waitSubmitted := func(interval int) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case e := <-events:
				if te, ok := e.Data.(scheduler.TaskEvent); ok && te.Name == "pulse" && te.Interval == interval {
					return
				}
			case <-deadline:
				t.Fatalf("no pulse submission with interval %d", interval)
			}
		}
	}
	waitSubmitted(100)

	time.Sleep(100 * time.Millisecond)
	write("20ms")
	waitSubmitted(50)

	require.Eventually(t, func() bool {
		snap := a.Scheduler().Snapshot()
		return snap.QueueLen == 0 && snap.LiveCount == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("scheduler:\n  tick_delay: nope\n"), 0o600))

	_, err := New(p)
	require.ErrorContains(t, err, "scheduler.tick_delay")
}
