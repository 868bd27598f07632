// Package installdb records installed artifacts in a SQLite database.
package installdb

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/goplus/lpm/internal/build"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned by Get for an unknown node ID.
var ErrNotFound = errors.New("installdb: not found")

// Record is one installed node.
type Record struct {
	ID          string
	Name        string
	Version     string
	Variants    map[string]string
	Root        string
	Exports     map[string]string
	Libs        []string
	RunID       string
	InstalledAt time.Time
}

// DB is an install database.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("installdb: init %s: %w", path, err)
		}
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Put records a as installed by run runID, replacing an earlier record of
// the same node.
func (d *DB) Put(ctx context.Context, runID string, a *build.Artifact) error {
	variants, err := json.Marshal(nonNil(a.Variants))
	if err != nil {
		return err
	}
	exports, err := json.Marshal(nonNil(a.Exports))
	if err != nil {
		return err
	}
	libs := a.Libs
	if libs == nil {
		libs = []string{}
	}
	libsJSON, err := json.Marshal(libs)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO installs (id, name, version, variants, root, exports, libs, run_id, installed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			variants = excluded.variants,
			root = excluded.root,
			exports = excluded.exports,
			libs = excluded.libs,
			run_id = excluded.run_id,
			installed_at = excluded.installed_at`,
		a.ID, a.Name, a.Version, string(variants), a.Root, string(exports), string(libsJSON),
		runID, a.InstalledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("installdb: put %s: %w", a.ID, err)
	}
	return nil
}

const selectRecord = `SELECT id, name, version, variants, root, exports, libs, run_id, installed_at FROM installs`

// Get returns the record of node id.
func (d *DB) Get(ctx context.Context, id string) (*Record, error) {
	row := d.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// List returns the records of package name, or every record if name is
// empty, ordered by ID.
func (d *DB) List(ctx context.Context, name string) ([]*Record, error) {
	query, args := selectRecord+` ORDER BY id`, []any{}
	if name != "" {
		query, args = selectRecord+` WHERE name = ? ORDER BY id`, []any{name}
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Remove deletes the record of node id. Removing an unknown node is not
// an error.
func (d *DB) Remove(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM installs WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*Record, error) {
	var (
		r                       Record
		variants, exports, libs string
		installedAt             string
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Version, &variants, &r.Root, &exports, &libs, &r.RunID, &installedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variants), &r.Variants); err != nil {
		return nil, fmt.Errorf("installdb: %s: variants: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(exports), &r.Exports); err != nil {
		return nil, fmt.Errorf("installdb: %s: exports: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(libs), &r.Libs); err != nil {
		return nil, fmt.Errorf("installdb: %s: libs: %w", r.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, installedAt)
	if err != nil {
		return nil, fmt.Errorf("installdb: %s: installed_at: %w", r.ID, err)
	}
	r.InstalledAt = t
	return &r, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
