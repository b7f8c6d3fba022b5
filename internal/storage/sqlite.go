package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "taskman/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
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

	st := &sqliteStore{db: db, log: log}

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
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendExecution(ctx context.Context, e Execution) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, task, recurrence, outcome, err, started_at, finished_at, next_run_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, e.Task, e.Recurrence, e.Outcome, nullStr(e.Error),
		e.StartedAt.UnixNano(), e.FinishedAt.UnixNano(), nullTime(e.NextRunAt),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Execution, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, recurrence, outcome, err, started_at, finished_at, next_run_at
		 FROM executions ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e                 Execution
			errStr            sql.NullString
			started, finished int64
			next              sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Task, &e.Recurrence, &e.Outcome, &errStr, &started, &finished, &next); err != nil {
			return nil, err
		}
		e.Error = errStr.String
		e.StartedAt = time.Unix(0, started)
		e.FinishedAt = time.Unix(0, finished)
		if next.Valid {
			e.NextRunAt = time.Unix(0, next.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}
