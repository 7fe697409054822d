package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS recipes (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	target          TEXT    NOT NULL,
	recipe_key      TEXT    NOT NULL,
	test_id         TEXT    NOT NULL DEFAULT '',
	role            TEXT    NOT NULL DEFAULT '',
	text            TEXT    NOT NULL DEFAULT '',
	semantics_label TEXT    NOT NULL DEFAULT '',
	success_count   INTEGER NOT NULL DEFAULT 0,
	failure_count   INTEGER NOT NULL DEFAULT 0,
	last_used       INTEGER NOT NULL,
	UNIQUE (target, recipe_key)
);
CREATE TABLE IF NOT EXISTS visual_hints (
	target       TEXT    NOT NULL,
	screen_label TEXT    NOT NULL,
	x            REAL    NOT NULL,
	y            REAL    NOT NULL,
	w            REAL    NOT NULL,
	h            REAL    NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (target, screen_label)
);`

// SQLiteStore is a durable Store. Counter updates are single UPSERT
// statements, so concurrent writers never lose increments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) a store at path. Use ":memory:" in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("memory: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SetClock overrides time.Now for LastUsed stamps.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// VariantsFor returns the ranked recipes for name. Query errors are logged
// and yield an empty list.
func (s *SQLiteStore) VariantsFor(ctx context.Context, name string) []Variant {
	variants, err := s.variants(ctx, name)
	if err != nil {
		logger.Warn("memory: variants for %s: %v", name, err)
		return []Variant{}
	}
	return Rank(variants)
}

func (s *SQLiteStore) variants(ctx context.Context, name string) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, test_id, role, text, semantics_label, success_count, failure_count, last_used
		FROM recipes WHERE target = ? ORDER BY seq`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := []Variant{}
	for rows.Next() {
		var v Variant
		var lastUsed int64
		if err := rows.Scan(&v.seq, &v.Recipe.TestID, &v.Recipe.Role, &v.Recipe.Text,
			&v.Recipe.SemanticsLabel, &v.SuccessCount, &v.FailureCount, &lastUsed); err != nil {
			return nil, err
		}
		v.LastUsed = time.Unix(0, lastUsed).UTC()
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// Record upserts recipe and bumps one counter atomically.
func (s *SQLiteStore) Record(ctx context.Context, name string, recipe core.Recipe, outcome Outcome) error {
	if err := validate(name, recipe); err != nil {
		return err
	}

	succ, fail := 1, 0
	if outcome == Failure {
		succ, fail = 0, 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipes (target, recipe_key, test_id, role, text, semantics_label,
		                     success_count, failure_count, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target, recipe_key) DO UPDATE SET
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			last_used     = excluded.last_used`,
		name, recipe.Key(), recipe.TestID, recipe.Role, recipe.Text, recipe.SemanticsLabel,
		succ, fail, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("memory: record %s: %w", name, err)
	}
	return nil
}

// VisualHintFor returns the hint for (name, screenLabel).
func (s *SQLiteStore) VisualHintFor(ctx context.Context, name, screenLabel string) (VisualHint, bool) {
	var h VisualHint
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT x, y, w, h, updated_at FROM visual_hints
		WHERE target = ? AND screen_label = ?`, name, screenLabel).
		Scan(&h.Box.X, &h.Box.Y, &h.Box.W, &h.Box.H, &updated)
	if err == sql.ErrNoRows {
		return VisualHint{}, false
	}
	if err != nil {
		logger.Warn("memory: visual hint for %s@%s: %v", name, screenLabel, err)
		return VisualHint{}, false
	}
	h.ScreenLabel = screenLabel
	h.UpdatedAt = time.Unix(0, updated).UTC()
	return h, true
}

// RecordVisualHint overwrites the hint for (name, screenLabel).
func (s *SQLiteStore) RecordVisualHint(ctx context.Context, name, screenLabel string, box core.Box) error {
	if name == "" {
		return core.ErrInvalidTarget
	}
	box = box.Clamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visual_hints (target, screen_label, x, y, w, h, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target, screen_label) DO UPDATE SET
			x = excluded.x, y = excluded.y, w = excluded.w, h = excluded.h,
			updated_at = excluded.updated_at`,
		name, screenLabel, box.X, box.Y, box.W, box.H, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("memory: record hint %s: %w", name, err)
	}
	return nil
}

// Names lists every remembered target, sorted.
func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target FROM recipes UNION SELECT target FROM visual_hints ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Entry returns everything stored for name.
func (s *SQLiteStore) Entry(ctx context.Context, name string) (Entry, bool, error) {
	variants, err := s.variants(ctx, name)
	if err != nil {
		return Entry{}, false, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT screen_label, x, y, w, h, updated_at FROM visual_hints WHERE target = ?`, name)
	if err != nil {
		return Entry{}, false, err
	}
	defer rows.Close()

	hints := make(map[string]VisualHint)
	for rows.Next() {
		var h VisualHint
		var updated int64
		if err := rows.Scan(&h.ScreenLabel, &h.Box.X, &h.Box.Y, &h.Box.W, &h.Box.H, &updated); err != nil {
			return Entry{}, false, err
		}
		h.UpdatedAt = time.Unix(0, updated).UTC()
		hints[h.ScreenLabel] = h
	}
	if err := rows.Err(); err != nil {
		return Entry{}, false, err
	}

	if len(variants) == 0 && len(hints) == 0 {
		return Entry{}, false, nil
	}
	return Entry{Name: name, Variants: Rank(variants), Hints: hints}, true, nil
}

// PutEntry replaces everything stored for e.Name in one transaction.
// Repeated recipes are merged.
func (s *SQLiteStore) PutEntry(ctx context.Context, e Entry) error {
	if e.Name == "" {
		return core.ErrInvalidTarget
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipes WHERE target = ?`, e.Name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM visual_hints WHERE target = ?`, e.Name); err != nil {
		return err
	}
	for _, v := range mergeVariants(e.Variants) {
		r := v.Recipe
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recipes (target, recipe_key, test_id, role, text, semantics_label,
			                     success_count, failure_count, last_used)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Name, r.Key(), r.TestID, r.Role, r.Text, r.SemanticsLabel,
			v.SuccessCount, v.FailureCount, v.LastUsed.UTC().UnixNano()); err != nil {
			return err
		}
	}
	for label, h := range e.Hints {
		b := h.Box
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO visual_hints (target, screen_label, x, y, w, h, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Name, label, b.X, b.Y, b.W, b.H, h.UpdatedAt.UTC().UnixNano()); err != nil {
			return err
		}
	}
	return tx.Commit()
}
