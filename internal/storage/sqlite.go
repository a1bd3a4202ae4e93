package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "swbf2sched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	retain     int
	closed     atomic.Bool
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	retain := cfg.Retain
	if retain <= 0 {
		retain = defaultRetain
	}
	st := &sqliteStore{db: db, log: log, retain: retain, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil || s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil || s.closed.Load() {
		return ErrClosed
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	panicked := 0
	if r.Panicked {
		panicked = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, name, kind, fired, started, dur_ns, err, panicked) VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Name, r.Kind, int64(r.Fired), r.Started.UTC().Format(time.RFC3339Nano), int64(r.Duration), nullStr(r.Error), panicked,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("run journal prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil || s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, fired, started, dur_ns, err, panicked FROM runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			r        RunRecord
			fired    int64
			started  string
			durNS    int64
			errStr   sql.NullString
			panicked int
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &fired, &started, &durNS, &errStr, &panicked); err != nil {
			return nil, err
		}
		r.Fired = uint64(fired)
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		r.Duration = time.Duration(durNS)
		r.Error = errStr.String
		r.Panicked = panicked != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune keeps the newest retain runs.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE seq <= (SELECT COALESCE(MAX(seq), 0) - ? FROM runs)`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
