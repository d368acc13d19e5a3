// Package sqlite is a docstore backend persisting documents in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements docstore.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB

	// mu serialises writes with feed publication and watch registration.
	mu     sync.Mutex
	seq    uint64
	clock  *docstore.Clock
	feed   *docstore.Feed
	closed bool
}

var _ docstore.Store = (*SQLiteStore)(nil)

// Option configures the store.
type Option func(*SQLiteStore)

// WithClock overrides the server timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.clock = docstore.NewClock(now) }
}

// New opens the database at dbPath, applies migrations and returns the store.
// maxPending bounds the snapshots buffered per watcher (0 selects the default).
func New(dbPath string, maxPending int, opts ...Option) (*SQLiteStore, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:    db,
		clock: docstore.NewClock(nil),
		feed:  docstore.NewFeed(maxPending),
	}
	for _, opt := range opts {
		opt(s)
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(seq) FROM documents`).Scan(&maxSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("load sequence: %w", err)
	}
	if maxSeq.Valid {
		s.seq = uint64(maxSeq.Int64)
	}

	latest, err := latestTimestamp(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	// Server timestamps keep increasing even if the wall clock went back since the last run.
	s.clock.Advance(latest)

	return s, nil
}

func latestTimestamp(db *sql.DB) (time.Time, error) {
	rows, err := db.Query(`SELECT fields FROM documents`)
	if err != nil {
		return time.Time{}, fmt.Errorf("scan timestamps: %w", err)
	}
	defer rows.Close()

	var latest time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return time.Time{}, fmt.Errorf("scan timestamps: %w", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("scan timestamps: %w", err)
		}
		for _, v := range fields {
			if t, ok := v.(time.Time); ok && t.After(latest) {
				latest = t
			}
		}
	}
	return latest, rows.Err()
}

// Open opens and pings the database with the pool limits SQLite needs.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	// m.Close would close db as well, so the migrator is simply dropped.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close ends all watches and closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.feed.Close()
	return s.db.Close()
}

// Create adds a document with a generated id.
func (s *SQLiteStore) Create(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if err := docstore.CheckCollection(collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.Set(ctx, docstore.Doc(collection, id), fields); err != nil {
		return "", err
	}
	return id, nil
}

// Set writes a document, merging when requested.
func (s *SQLiteStore) Set(ctx context.Context, docPath string, fields docstore.Fields, opts ...docstore.SetOption) error {
	collection, id, err := docstore.SplitDoc(docPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}

	prepared, err := s.clock.Prepare(fields)
	if err != nil {
		return err
	}

	existing, found, err := s.getLocked(ctx, collection, id)
	if err != nil {
		return err
	}

	kind := docstore.Added
	entry := docstore.Entry{}
	if found {
		kind = docstore.Modified
		entry.Seq = existing.Seq
		if docstore.ApplySetOptions(opts) {
			prepared = docstore.MergeFields(existing.Fields, prepared)
		}
	} else {
		entry.Seq = s.seq + 1
	}

	encoded, err := encodeFields(prepared)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, fields, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET fields = excluded.fields
	`
	if _, err := s.db.ExecContext(ctx, query, collection, id, encoded, entry.Seq); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	if !found {
		s.seq = entry.Seq
	}

	entry.Document = docstore.Document{ID: id, Path: docPath, Fields: prepared}
	s.feed.Publish(collection, kind, entry)
	return nil
}

// Get reads one document.
func (s *SQLiteStore) Get(ctx context.Context, docPath string) (docstore.Document, error) {
	collection, id, err := docstore.SplitDoc(docPath)
	if err != nil {
		return docstore.Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.Document{}, docstore.ErrClosed
	}

	entry, found, err := s.getLocked(ctx, collection, id)
	if err != nil {
		return docstore.Document{}, err
	}
	if !found {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return entry.Document, nil
}

// Delete removes a document if present.
func (s *SQLiteStore) Delete(ctx context.Context, docPath string) error {
	collection, id, err := docstore.SplitDoc(docPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}

	entry, found, err := s.getLocked(ctx, collection, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	s.feed.Publish(collection, docstore.Removed, entry)
	return nil
}

// Query returns matching documents of a collection.
func (s *SQLiteStore) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := docstore.CheckCollection(collection); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}

	entries, err := s.listLocked(ctx, collection)
	if err != nil {
		return nil, err
	}
	return docstore.Select(entries, q), nil
}

// Watch streams snapshots of a query.
func (s *SQLiteStore) Watch(ctx context.Context, collection string, q docstore.Query) (<-chan docstore.Snapshot, error) {
	if err := docstore.CheckCollection(collection); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}

	entries, err := s.listLocked(ctx, collection)
	if err != nil {
		return nil, err
	}
	return s.feed.Watch(ctx, collection, q, entries), nil
}

func (s *SQLiteStore) getLocked(ctx context.Context, collection, id string) (docstore.Entry, bool, error) {
	query := `
		SELECT fields, seq
		FROM documents
		WHERE collection = ? AND id = ?
	`
	var raw string
	var seq int64
	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&raw, &seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.Entry{}, false, nil
		}
		return docstore.Entry{}, false, fmt.Errorf("query document: %w", err)
	}

	fields, err := decodeFields(raw)
	if err != nil {
		return docstore.Entry{}, false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return docstore.Entry{
		Document: docstore.Document{ID: id, Path: docstore.Doc(collection, id), Fields: fields},
		Seq:      uint64(seq),
	}, true, nil
}

func (s *SQLiteStore) listLocked(ctx context.Context, collection string) ([]docstore.Entry, error) {
	query := `
		SELECT id, fields, seq
		FROM documents
		WHERE collection = ?
		ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var entries []docstore.Entry
	for rows.Next() {
		var id, raw string
		var seq int64
		if err := rows.Scan(&id, &raw, &seq); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		entries = append(entries, docstore.Entry{
			Document: docstore.Document{ID: id, Path: docstore.Doc(collection, id), Fields: fields},
			Seq:      uint64(seq),
		})
	}

	return entries, rows.Err()
}
