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

	"chronobot/internal/jobs"
	logx "chronobot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps one row per job. The full job is stored as its JSON
// record; the other columns exist for ordering and ad-hoc inspection.
type sqliteStore struct {
	db       *sql.DB
	log      logx.Logger
	readOnly bool
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
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

	st := &sqliteStore{db: db, log: log, readOnly: cfg.ReadOnly}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// FULL: a mutation reported as saved must survive power loss.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

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

func (s *sqliteStore) Load(ctx context.Context) ([]jobs.Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM jobs ORDER BY execute_at, created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, err
		}
		j, err := jobs.UnmarshalJob([]byte(record))
		if err != nil {
			s.log.Warn("skipping unreadable job row", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Put(ctx context.Context, j jobs.Job) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	record, err := jobs.MarshalJob(j)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, kind, execute_at, created_at, record, updated_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   kind=excluded.kind, execute_at=excluded.execute_at,
		   record=excluded.record, updated_at=excluded.updated_at`,
		j.ID, string(j.Action.Kind()), j.ExecuteAt.UnixNano(), j.CreatedAt.UnixNano(), string(record), time.Now().UnixNano(),
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}
