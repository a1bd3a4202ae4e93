package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "swbf2sched/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(Config{Driver: "file"}, logx.Nop())
	require.ErrorContains(t, err, "path is required")

	_, err = Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.ErrorContains(t, err, "unknown storage driver")
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "runs.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)

			ctx := context.Background()
			base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				r := RunRecord{
					ID:       "id",
					Name:     "job",
					Kind:     "repeating",
					Fired:    uint64(i + 1),
					Started:  base.Add(time.Duration(i) * time.Second),
					Duration: time.Duration(i) * time.Millisecond,
				}
				if i == 3 {
					r.Error, r.Panicked = "panic: boom", true
				}
				require.NoError(t, st.AppendRun(ctx, r))
			}

			got, err := st.RecentRuns(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, uint64(5), got[0].Fired)
			require.Equal(t, uint64(4), got[1].Fired)
			require.Equal(t, uint64(3), got[2].Fired)
			require.True(t, got[0].OK())
			require.False(t, got[1].OK())
			require.True(t, got[1].Panicked)
			require.Equal(t, 3*time.Millisecond, got[1].Duration)
			require.True(t, base.Add(3*time.Second).Equal(got[1].Started))

			all, err := st.RecentRuns(ctx, 100)
			require.NoError(t, err)
			require.Len(t, all, 5)

			require.NoError(t, st.Close())
			require.ErrorIs(t, st.AppendRun(ctx, RunRecord{}), ErrClosed)

			// Reopen: runs survive.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			all, err = st.RecentRuns(ctx, 100)
			require.NoError(t, err)
			require.Len(t, all, 5)
		})
	}
}

func TestFileStoreSkipsTornLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.AppendRun(ctx, RunRecord{Name: "a"}))

	f, err := os.OpenFile(filepath.Join(filepath.Dir(path), "j.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{\"name\":\"bro\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, st.AppendRun(ctx, RunRecord{Name: "b"}))
	got, err := st.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].Name)
	require.Equal(t, "a", got[1].Name)
}

func TestSQLitePrune(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "p.db"), Retain: 10}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ss := st.(*sqliteStore)
	ss.pruneEvery = 5
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, st.AppendRun(ctx, RunRecord{Name: "x", Fired: uint64(i)}))
	}
	got, err := st.RecentRuns(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, 10)
	require.Equal(t, uint64(24), got[0].Fired)
}
