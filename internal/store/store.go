// Package store persists learned user history in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/verte-zerg/glide/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for learned words and bigrams.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// WordUsage is a learned word with its last update time.
type WordUsage struct {
	Word      string
	Frequency uint32
	UpdatedAt time.Time
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps in-memory databases shared.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_words (
			locale TEXT NOT NULL,
			word TEXT NOT NULL,
			frequency INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (locale, word)
		);`,
		`CREATE TABLE IF NOT EXISTS user_bigrams (
			locale TEXT NOT NULL,
			prev TEXT NOT NULL,
			next TEXT NOT NULL,
			frequency INTEGER NOT NULL,
			PRIMARY KEY (locale, prev, next)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_words_frequency ON user_words(locale, frequency DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SetWordFrequency stores the current frequency of a learned word.
func (s *Store) SetWordFrequency(ctx context.Context, locale, word string, frequency uint32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_words (locale, word, frequency, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(locale, word) DO UPDATE SET frequency = excluded.frequency, updated_at = excluded.updated_at`,
		locale, word, int64(frequency), s.now().UTC().Format(time.RFC3339Nano))
	return err
}

// SetBigramFrequency stores the count of next following prev.
func (s *Store) SetBigramFrequency(ctx context.Context, locale, prev, next string, frequency uint32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_bigrams (locale, prev, next, frequency) VALUES (?, ?, ?, ?)
		 ON CONFLICT(locale, prev, next) DO UPDATE SET frequency = excluded.frequency`,
		locale, prev, next, int64(frequency))
	return err
}

// LoadWords returns every learned word for locale.
func (s *Store) LoadWords(ctx context.Context, locale string) ([]model.LexiconEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT word, frequency FROM user_words WHERE locale = ? ORDER BY rowid ASC`, locale)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.LexiconEntry
	for rows.Next() {
		var e model.LexiconEntry
		var freq int64
		if err := rows.Scan(&e.Word, &freq); err != nil {
			return nil, err
		}
		e.Frequency = uint32(freq)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// LoadBigrams returns every learned bigram for locale.
func (s *Store) LoadBigrams(ctx context.Context, locale string) (map[[2]string]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prev, next, frequency FROM user_bigrams WHERE locale = ?`, locale)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	result := map[[2]string]uint32{}
	for rows.Next() {
		var prev, next string
		var freq int64
		if err := rows.Scan(&prev, &next, &freq); err != nil {
			return nil, err
		}
		result[[2]string{prev, next}] = uint32(freq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// TopWords returns the n most frequent learned words for locale.
func (s *Store) TopWords(ctx context.Context, locale string, n int) ([]WordUsage, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT word, frequency, updated_at FROM user_words
		 WHERE locale = ?
		 ORDER BY frequency DESC, word ASC
		 LIMIT ?`, locale, n)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []WordUsage
	for rows.Next() {
		var u WordUsage
		var freq int64
		var updatedAt string
		if err := rows.Scan(&u.Word, &freq, &updatedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, err
		}
		u.Frequency = uint32(freq)
		u.UpdatedAt = parsed
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Locales lists locales with learned words.
func (s *Store) Locales(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT locale FROM user_words ORDER BY locale`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []string
	for rows.Next() {
		var locale string
		if err := rows.Scan(&locale); err != nil {
			return nil, err
		}
		result = append(result, locale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
