package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS unit_status (
	unit       TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	pass       INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	updated_at TEXT NOT NULL
);`

// sqliteManager stores records in a single-file database beside the
// scratch folder.
type sqliteManager struct {
	db *sql.DB
}

func newSQLiteManager(path string) (*sqliteManager, error) {
	if path == "" {
		return nil, fmt.Errorf("status database path required")
	}
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open status database: %w", err)
	}
	// workers save concurrently; serialize on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize status schema: %w", err)
	}
	return &sqliteManager{db: db}, nil
}

func (m *sqliteManager) Load(ctx context.Context) (map[string]Record, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT unit, state, attempts, pass, COALESCE(last_error, ''), updated_at FROM unit_status`)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[r.Unit] = r
	}
	return out, rows.Err()
}

func (m *sqliteManager) Get(ctx context.Context, unit string) (Record, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT unit, state, attempts, pass, COALESCE(last_error, ''), updated_at FROM unit_status WHERE unit = ?`, unit)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoStatus
	}
	return r, err
}

func (m *sqliteManager) Save(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO unit_status (unit, state, attempts, pass, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (unit) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			pass = excluded.pass,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		rec.Unit, string(rec.State), rec.Attempts, rec.Pass, rec.LastError, rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save status for %s: %w", rec.Unit, err)
	}
	return nil
}

func (m *sqliteManager) Close() error {
	return m.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		r       Record
		state   string
		updated string
	)
	if err := s.Scan(&r.Unit, &state, &r.Attempts, &r.Pass, &r.LastError, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan status: %w", err)
	}
	r.State = State(state)
	t, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return Record{}, fmt.Errorf("parse status time for %s: %w", r.Unit, err)
	}
	r.UpdatedAt = t
	return r, nil
}
