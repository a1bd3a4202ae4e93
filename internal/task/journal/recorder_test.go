package journal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"swbf2sched/internal/eventbus"
	"swbf2sched/internal/storage"
	"swbf2sched/internal/task/scheduler"
	logx "swbf2sched/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	runs []storage.RunRecord
	err  error
}

func (m *memStore) AppendRun(_ context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) RecentRuns(context.Context, int) ([]storage.RunRecord, error) { return nil, nil }
func (m *memStore) Close() error                                                  { return nil }

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func TestRecordIgnoresForeignPayloads(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st, logx.Nop())

	r.Record(context.Background(), eventbus.Event{Type: eventbus.TypeTaskFinished, Data: "nope"})
	r.Record(context.Background(), eventbus.Event{Type: eventbus.TypeTaskFailed, Data: scheduler.TaskEvent{Name: "x", Error: "boom"}})

	require.Equal(t, 1, st.len())
	require.Equal(t, "boom", st.runs[0].Error)
	rec, failed := r.Stats()
	require.Equal(t, uint64(1), rec)
	require.Zero(t, failed)

	st.err = errors.New("disk full")
	r.Record(context.Background(), eventbus.Event{Data: scheduler.TaskEvent{Name: "y"}})
	_, failed = r.Stats()
	require.Equal(t, uint64(1), failed)
}

// End to end: scheduler -> bus -> recorder -> sqlite.
func TestRecorderWithScheduler(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "runs.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	bus := eventbus.New()
	rec := NewRecorder(st, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	run := rec.Attach(bus)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()

	err = scheduler.Run(ctx, scheduler.Config{TickDelay: time.Millisecond}, logx.Nop(), bus, func(ctx context.Context, s *scheduler.Service) error {
		if err := s.SubmitOneShot(func(context.Context) error { return nil }, scheduler.WithName("ok")); err != nil {
			return err
		}
		if err := s.SubmitOneShot(func(context.Context) error { return errors.New("bad") }, scheduler.WithName("bad")); err != nil {
			return err
		}
		require.Eventually(t, func() bool {
			n, _ := rec.Stats()
			return n == 2
		}, 5*time.Second, 5*time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	cancel()
	<-done

	runs, err := st.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "bad", runs[0].Name)
	require.Equal(t, "bad", runs[0].Error)
	require.Equal(t, "ok", runs[1].Name)
	require.True(t, runs[1].OK())
}
