// Package database provides the durable SQLite store backing the
// persistence worker (C5): one row per document, holding only the text
// and language a session was last snapshotted with. The operation log
// is never persisted here — it is an in-memory convergence structure,
// rebuilt as a single synthetic insert on hydration.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// PersistedDocument is the durable snapshot of one document.
type PersistedDocument struct {
	ID       string
	Text     string
	Language *string
}

// Database wraps the SQLite connection pool.
type Database struct {
	db *sql.DB
}

// New opens uri (a sqlite3 DSN, e.g. "file:cowrite.db?cache=shared")
// and brings the schema up to date.
func New(uri string) (*Database, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}
	return &Database{db: db}, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Load fetches a document snapshot. It returns (nil, nil) if no row
// exists for id, which callers treat as "create fresh".
func (d *Database) Load(id string) (*PersistedDocument, error) {
	var doc PersistedDocument
	var language sql.NullString

	err := d.db.QueryRow(
		"SELECT id, text, language FROM document WHERE id = ?", id,
	).Scan(&doc.ID, &doc.Text, &language)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: load %s: %w", id, err)
	}
	if language.Valid {
		doc.Language = &language.String
	}
	return &doc, nil
}

// Exists reports whether id already has a row, without fetching its
// body — used by the registry (C4) when allocating a fresh id to
// avoid colliding with a document that only exists on disk.
func (d *Database) Exists(id string) (bool, error) {
	var one int
	err := d.db.QueryRow("SELECT 1 FROM document WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("database: exists %s: %w", id, err)
	}
	return true, nil
}

// Store upserts a document snapshot.
func (d *Database) Store(doc *PersistedDocument) error {
	_, err := d.db.Exec(`
		INSERT INTO document (id, text, language) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, language = excluded.language
	`, doc.ID, doc.Text, doc.Language)
	if err != nil {
		return fmt.Errorf("database: store %s: %w", doc.ID, err)
	}
	return nil
}

// Count returns the total number of persisted documents, for the
// /api/stats surface.
func (d *Database) Count() (int, error) {
	var count int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM document").Scan(&count); err != nil {
		return 0, fmt.Errorf("database: count: %w", err)
	}
	return count, nil
}

// Delete removes a document's snapshot. The registry's eviction pass
// does not call it: evicted documents keep their durable copy.
func (d *Database) Delete(id string) error {
	if _, err := d.db.Exec("DELETE FROM document WHERE id = ?", id); err != nil {
		return fmt.Errorf("database: delete %s: %w", id, err)
	}
	return nil
}
