package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"swbf2sched/internal/jobs"
)

const sampleYAML = `
scheduler:
  tick_delay: 20ms
  history_size: 50
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./runs.db
admin:
  enabled: true
  addr: 127.0.0.1:0
jobs:
  - name: heartbeat
    schedule: every:5s
    message: alive
  - name: cleanup
    schedule: "0 3 * * *"
    action: exec
    command: ["true"]
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())

	require.Equal(t, 20*time.Millisecond, cfg.Scheduler.TickDelayOr(time.Second))
	require.Equal(t, 50, cfg.Scheduler.HistorySize)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
	require.Len(t, cfg.Jobs, 2)
	require.Equal(t, []string{"true"}, cfg.Jobs[1].Command)
}

func TestParseStrict(t *testing.T) {
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown field", "c.json", `{"scheduler":{"workers":2}}`, "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"bad yaml", "c.yml", "scheduler: [", "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes(tt.file, []byte(tt.body))
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"ok", Config{}, ""},
		{"bad tick", Config{Scheduler: SchedulerConfig{TickDelay: "soon"}}, "scheduler.tick_delay"},
		{"negative rate", Config{Scheduler: SchedulerConfig{FaultLogRate: -1}}, "fault_log_rate"},
		{"bad driver", Config{Storage: &StorageConfig{Driver: "redis", Path: "x"}}, "unknown driver"},
		{"no path", Config{Storage: &StorageConfig{Driver: "file"}}, "storage.path"},
		{"public admin", Config{Admin: AdminConfig{Enabled: true, Addr: "0.0.0.0:6060"}}, "not loopback"},
		{"public admin token", Config{Admin: AdminConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "t"}}, ""},
		{"bad job", Config{Jobs: []jobs.Definition{{Name: "x", Schedule: "never"}}}, "jobs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:80":   true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	} {
		require.Equal(t, want, IsLoopbackAddr(addr), addr)
	}
}

func TestSummarizeChange(t *testing.T) {
	old := &Config{Scheduler: SchedulerConfig{TickDelay: "10ms"}, Admin: AdminConfig{Token: "a"}}
	cur := &Config{
		Scheduler: SchedulerConfig{TickDelay: "20ms"},
		Admin:     AdminConfig{Token: "b"},
		Jobs:      []jobs.Definition{{Name: "x", Schedule: "once"}},
	}
	changed, attrs, restart := SummarizeChange(old, cur)
	require.Equal(t, []string{"admin", "jobs", "scheduler"}, changed)
	require.Equal(t, []string{"admin"}, restart)
	require.NotEmpty(t, attrs)

	changed, _, restart = SummarizeChange(cur, cur)
	require.Empty(t, changed)
	require.Empty(t, restart)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	p := writeFile(t, "config.json", `{"scheduler":{"tick_delay":"10ms"}}`)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	require.NoError(t, os.WriteFile(p, []byte(`{"scheduler":{"tick_delay":"nope"}}`), 0o600))
	select {
	case cfg := <-ch:
		t.Fatalf("unexpected publish: %+v", cfg.Scheduler)
	case <-time.After(600 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(p, []byte(`{"scheduler":{"tick_delay":"30ms"}}`), 0o600))
	select {
	case cfg := <-ch:
		require.Equal(t, "30ms", cfg.Scheduler.TickDelay)
		require.Same(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}

	cancel()
	<-done
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	require.Same(t, b, <-ch)
	m.Unsubscribe(ch)
	_, ok := <-ch
	require.False(t, ok)
}
