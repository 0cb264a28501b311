// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache memoizes OpenAlex metadata and computed embeddings by work id.
//
// The Store holds five independent mappings in memory: titles, abstracts,
// reference lists, paper embeddings and reference embeddings. Entries are
// never evicted or invalidated. When backed by a file, Load reads every
// mapping once and Save writes the entries added since the last Save inside
// one transaction. Two processes saving to the same file may overwrite each
// other's entries; run one writer at a time.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Kind identifies one of the five mappings.
type Kind int

const (
	Titles Kind = iota
	Abstracts
	References
	PaperEmbeddings
	ReferenceEmbeddings
)

var kindNames = [...]string{"titles", "abstracts", "references", "paper_embeddings", "reference_embeddings"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Kinds lists every mapping in a fixed order.
func Kinds() []Kind {
	return []Kind{Titles, Abstracts, References, PaperEmbeddings, ReferenceEmbeddings}
}

// Store is the in-memory view of the five caches plus the optional SQLite file.
type Store struct {
	mu     sync.RWMutex
	path   string
	db     *sql.DB
	logger *slog.Logger

	titles     map[string]string
	abstracts  map[string]*string
	references map[string][]string
	paperEmb   map[string][]float32
	refEmb     map[string][][]float32

	dirty map[Kind]map[string]struct{}
}

// NewMemory returns a Store that is never persisted.
func NewMemory() *Store {
	return newStore("", nil)
}

// Open returns a Store backed by the SQLite file at path and loads it. A
// missing file is an empty cache; it is created on the first Save.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	s := newStore(path, logger)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.titles = map[string]string{}
	s.abstracts = map[string]*string{}
	s.references = map[string][]string{}
	s.paperEmb = map[string][]float32{}
	s.refEmb = map[string][][]float32{}
	s.dirty = map[Kind]map[string]struct{}{}
	for _, k := range Kinds() {
		s.dirty[k] = map[string]struct{}{}
	}
}

// Persistent reports whether Save writes to disk.
func (s *Store) Persistent() bool {
	return s.path != ""
}

// Close releases the database handle, if one was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Len returns the number of entries in one mapping.
func (s *Store) Len(k Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenLocked(k)
}

// Title returns the cached title for id.
func (s *Store) Title(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.titles[id]
	return v, ok
}

// PutTitle records the title for id.
func (s *Store) PutTitle(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[id] = title
	s.dirty[Titles][id] = struct{}{}
}

// Abstract returns the cached abstract for id. ok reports whether id is cached
// at all; a cached nil abstract records that the work has none.
func (s *Store) Abstract(id string) (abstract *string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.abstracts[id]
	if v != nil {
		cp := *v
		v = &cp
	}
	return v, ok
}

// PutAbstract records the abstract for id; nil records a known absence.
func (s *Store) PutAbstract(id string, abstract *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if abstract != nil {
		cp := *abstract
		abstract = &cp
	}
	s.abstracts[id] = abstract
	s.dirty[Abstracts][id] = struct{}{}
}

// References returns the cached referenced-work ids for id.
func (s *Store) References(id string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.references[id]
	return append([]string(nil), v...), ok
}

// PutReferences records the referenced-work ids for id.
func (s *Store) PutReferences(id string, refs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.references[id] = append([]string{}, refs...)
	s.dirty[References][id] = struct{}{}
}

// PaperEmbedding returns the cached embedding of the paper id.
func (s *Store) PaperEmbedding(id string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.paperEmb[id]
	return v, ok
}

// PutPaperEmbedding records the embedding of the paper id.
func (s *Store) PutPaperEmbedding(id string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paperEmb[id] = vec
	s.dirty[PaperEmbeddings][id] = struct{}{}
}

// ReferenceEmbeddings returns the cached reference matrix of the paper id.
func (s *Store) ReferenceEmbeddings(id string) ([][]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.refEmb[id]
	return v, ok
}

// PutReferenceEmbeddings records the reference matrix of the paper id.
func (s *Store) PutReferenceEmbeddings(id string, m [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refEmb[id] = m
	s.dirty[ReferenceEmbeddings][id] = struct{}{}
}

// Load replaces the in-memory mappings with the file contents. A missing
// file leaves the store empty.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	if s.path == "" {
		return nil
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no cache file, starting empty", slog.String("path", s.path))
		return nil
	}

	if err := s.openDB(); err != nil {
		return err
	}
	if err := s.loadAll(ctx); err != nil {
		return fmt.Errorf("loading cache %s: %w", s.path, err)
	}
	for _, k := range Kinds() {
		s.logger.Info("cache loaded", slog.String("kind", k.String()), slog.Int("entries", s.lenLocked(k)))
	}
	return nil
}

// Save writes the entries added since the last Save in a single transaction.
// It is a no-op for memory-only stores.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := s.openDB(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	written := 0
	for _, k := range Kinds() {
		n, err := s.saveKind(ctx, tx, k)
		if err != nil {
			return fmt.Errorf("saving %s: %w", k, err)
		}
		written += n
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache: %w", err)
	}

	for _, k := range Kinds() {
		s.dirty[k] = map[string]struct{}{}
	}
	s.logger.Debug("cache saved", slog.String("path", s.path), slog.Int("entries", written))
	return nil
}

func (s *Store) lenLocked(k Kind) int {
	switch k {
	case Titles:
		return len(s.titles)
	case Abstracts:
		return len(s.abstracts)
	case References:
		return len(s.references)
	case PaperEmbeddings:
		return len(s.paperEmb)
	case ReferenceEmbeddings:
		return len(s.refEmb)
	}
	return 0
}

func (s *Store) openDB() error {
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("opening cache database: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return fmt.Errorf("creating cache schema: %w", err)
	}
	s.db = db
	return nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS titles (id TEXT PRIMARY KEY, title TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS abstracts (id TEXT PRIMARY KEY, abstract TEXT)`,
		`CREATE TABLE IF NOT EXISTS ref_lists (id TEXT PRIMARY KEY, refs TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS paper_embeddings (id TEXT PRIMARY KEY, vec BLOB NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS reference_embeddings (id TEXT PRIMARY KEY, mat BLOB NOT NULL)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) loadAll(ctx context.Context) error {
	if err := s.scan(ctx, `SELECT id, title FROM titles`, func(rows *sql.Rows) error {
		var id string
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			return err
		}
		s.titles[id] = title
		return nil
	}); err != nil {
		return err
	}

	if err := s.scan(ctx, `SELECT id, abstract FROM abstracts`, func(rows *sql.Rows) error {
		var id string
		var abstract sql.NullString
		if err := rows.Scan(&id, &abstract); err != nil {
			return err
		}
		if abstract.Valid {
			v := abstract.String
			s.abstracts[id] = &v
		} else {
			s.abstracts[id] = nil
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.scan(ctx, `SELECT id, refs FROM ref_lists`, func(rows *sql.Rows) error {
		var id string
		var refsJSON string
		if err := rows.Scan(&id, &refsJSON); err != nil {
			return err
		}
		var refs []string
		if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
			return fmt.Errorf("references of %s: %w", id, err)
		}
		if refs == nil {
			refs = []string{}
		}
		s.references[id] = refs
		return nil
	}); err != nil {
		return err
	}

	if err := s.scan(ctx, `SELECT id, vec FROM paper_embeddings`, func(rows *sql.Rows) error {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("paper embedding of %s: %w", id, err)
		}
		s.paperEmb[id] = vec
		return nil
	}); err != nil {
		return err
	}

	return s.scan(ctx, `SELECT id, mat FROM reference_embeddings`, func(rows *sql.Rows) error {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		m, err := decodeMatrix(blob)
		if err != nil {
			return fmt.Errorf("reference embeddings of %s: %w", id, err)
		}
		s.refEmb[id] = m
		return nil
	})
}

// scan runs query and hands each row to fn.
func (s *Store) scan(ctx context.Context, query string, fn func(rows *sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) saveKind(ctx context.Context, tx *sql.Tx, k Kind) (int, error) {
	ids := s.dirty[k]
	if len(ids) == 0 {
		return 0, nil
	}

	var query string
	switch k {
	case Titles:
		query = `INSERT INTO titles (id, title) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET title=excluded.title`
	case Abstracts:
		query = `INSERT INTO abstracts (id, abstract) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET abstract=excluded.abstract`
	case References:
		query = `INSERT INTO ref_lists (id, refs) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET refs=excluded.refs`
	case PaperEmbeddings:
		query = `INSERT INTO paper_embeddings (id, vec) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET vec=excluded.vec`
	case ReferenceEmbeddings:
		query = `INSERT INTO reference_embeddings (id, mat) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET mat=excluded.mat`
	default:
		return 0, fmt.Errorf("unknown cache kind %d", int(k))
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for id := range ids {
		value, err := s.value(k, id)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, id, value); err != nil {
			return 0, fmt.Errorf("writing %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// value returns the column value stored for id in mapping k.
func (s *Store) value(k Kind, id string) (any, error) {
	switch k {
	case Titles:
		return s.titles[id], nil
	case Abstracts:
		if a := s.abstracts[id]; a != nil {
			return *a, nil
		}
		return nil, nil
	case References:
		data, err := json.Marshal(s.references[id])
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case PaperEmbeddings:
		return encodeVector(s.paperEmb[id]), nil
	case ReferenceEmbeddings:
		return encodeMatrix(s.refEmb[id]), nil
	}
	return nil, fmt.Errorf("unknown cache kind %d", int(k))
}
