package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS verses (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	reference TEXT NOT NULL,
	text      TEXT NOT NULL,
	version   TEXT NOT NULL,
	UNIQUE (reference, version)
);
CREATE INDEX IF NOT EXISTS verses_version_idx ON verses (version);
`

// SQLiteVerses serves verse lookups from a bundled SQLite file. It is used
// when VERSES_SQLITE_PATH is set so the hot path does not need Postgres,
// and in tests with an in-memory database.
type SQLiteVerses struct {
	db *sql.DB
}

// OpenSQLiteVerses opens (or creates) the verse database at path. Use
// ":memory:" for an ephemeral database.
func OpenSQLiteVerses(path string) (*SQLiteVerses, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database lives as long as its single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteVerses{db: db}, nil
}

func (s *SQLiteVerses) Close() error {
	return s.db.Close()
}

// InsertVerses loads verses in order, ignoring rows that already exist.
func (s *SQLiteVerses) InsertVerses(ctx context.Context, verses []Verse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO verses (reference, text, version) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range verses {
		if _, err := stmt.ExecContext(ctx, v.Reference, v.Text, v.Version); err != nil {
			return fmt.Errorf("insert %s (%s): %w", v.Reference, v.Version, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteVerses) GetVerse(ctx context.Context, reference, version string) (*Verse, error) {
	var v Verse
	err := s.db.QueryRowContext(ctx, `
		SELECT reference, text, version FROM verses
		WHERE reference = ? AND version = ?
	`, reference, version).Scan(&v.Reference, &v.Text, &v.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SearchVerses matches case-insensitively. SQLite's LIKE folds ASCII case
// only, which covers the English versions the service ships with.
func (s *SQLiteVerses) SearchVerses(ctx context.Context, query, version string, limit int) ([]Verse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference, text, version FROM verses
		WHERE version = ? AND text LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY id
		LIMIT ?
	`, version, escapeLike(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Verse
	for rows.Next() {
		var v Verse
		if err := rows.Scan(&v.Reference, &v.Text, &v.Version); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
