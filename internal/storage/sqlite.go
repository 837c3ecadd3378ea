package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "threader/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const prunePeriod = 500

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	inserts atomic.Uint64
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer: SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("run history opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, retain: cfg.retain()}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, task, task_id, kind, started, finished, slices, iterations, elapsed_ns)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Task, r.TaskID, nullStr(r.Kind),
		r.Started.UTC().Format(time.RFC3339Nano), r.Finished.UTC().Format(time.RFC3339Nano),
		r.Slices, r.Iterations, int64(r.Elapsed),
	)
	if err != nil {
		return err
	}
	if s.inserts.Add(1)%prunePeriod == 0 {
		if err := s.prune(ctx); err != nil {
			s.log.Warn("run history prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, task_id, kind, started, finished, slices, iterations, elapsed_ns
		 FROM runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			kind              sql.NullString
			started, finished string
			elapsed           int64
		)
		if err := rows.Scan(&r.ID, &r.Task, &r.TaskID, &kind, &started, &finished, &r.Slices, &r.Iterations, &elapsed); err != nil {
			return nil, err
		}
		r.Kind = kind.String
		r.Elapsed = time.Duration(elapsed)
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: started: %w", r.ID, err)
		}
		if r.Finished, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("run %s: finished: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune drops everything but the newest retain runs.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE seq <= (SELECT seq FROM runs ORDER BY seq DESC LIMIT 1 OFFSET ?)`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
