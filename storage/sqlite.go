// Package storage provides SQLite frequency table storage.
//
// Information Hiding:
// - SQLite connection management hidden behind FrequencyStore
// - Schema and upsert statements encapsulated
// - Writers serialized by a mutex plus IMMEDIATE transactions; readers run freely

package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/markov/internal/errs"
)

const metaContextLength = "context_length"

// SqliteStore implements FrequencyStore using SQLite.
// Thread-safe: writes are serialized, reads use sql.DB's connection pool.
type SqliteStore struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// OpenSqlite opens or creates a SQLite database at the given path.
// The parent directory must already exist. Call InitializeSchema before use.
func OpenSqlite(path string) (*SqliteStore, error) {
	if path == "" {
		return nil, errs.InvalidArgument("database path must not be empty")
	}

	if strings.Contains(path, "?") {
		return nil, errs.InvalidArgument("database path must not contain '?': %q", path)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.StorageUnavailable(err, "failed to open SQLite database", errs.Field("path", path))
	}

	// sql.Open is lazy; force a connection and a read so missing directories,
	// permission problems and non-database files surface here.
	var tables int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master").Scan(&tables); err != nil {
		db.Close()
		return nil, errs.StorageUnavailable(err, "failed to access SQLite database", errs.Field("path", path))
	}

	return &SqliteStore{db: db, path: path}, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
// The schema is initialized.
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:?_txlock=immediate")
	if err != nil {
		return nil, errs.StorageUnavailable(err, "failed to create in-memory SQLite")
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	store := &SqliteStore{db: db, path: ":memory:"}
	if err := store.InitializeSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database location.
func (s *SqliteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// InitializeSchema creates the tables if they do not exist.
func (s *SqliteStore) InitializeSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS frequencies (
			context TEXT NOT NULL,
			symbol TEXT NOT NULL,
			frequency INTEGER NOT NULL CHECK (frequency > 0),
			UNIQUE(context, symbol)
		);

		CREATE INDEX IF NOT EXISTS idx_frequencies_frequency
		ON frequencies(frequency DESC);

		CREATE TABLE IF NOT EXISTS fingerprints (
			digest TEXT PRIMARY KEY,
			recorded_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ingestions (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL REFERENCES fingerprints(digest),
			source TEXT NOT NULL,
			context_length INTEGER NOT NULL,
			records INTEGER NOT NULL,
			observations INTEGER NOT NULL,
			lines INTEGER NOT NULL,
			rejected_lines INTEGER NOT NULL,
			ingested_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ingestions_time
		ON ingestions(ingested_at DESC);
	`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errs.StorageUnavailable(err, "failed to create schema")
	}
	return nil
}

// HasFingerprint checks if a corpus digest has been recorded.
func (s *SqliteStore) HasFingerprint(ctx context.Context, fp Fingerprint) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fingerprints WHERE digest = ?",
		string(fp)).Scan(&count)
	if err != nil {
		return false, errs.StorageUnavailable(err, "failed to check fingerprint")
	}
	return count > 0, nil
}

// RecordFingerprint inserts a digest. Recording an existing digest is a no-op.
func (s *SqliteStore) RecordFingerprint(ctx context.Context, fp Fingerprint) error {
	if fp == "" {
		return errs.InvalidArgument("fingerprint must not be empty")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO fingerprints (digest, recorded_at) VALUES (?, ?)",
		string(fp), time.Now().Unix())
	if err != nil {
		return errs.StorageUnavailable(err, "failed to record fingerprint")
	}
	return nil
}

// MergeFrequencies adds each observation's delta in one transaction.
func (s *SqliteStore) MergeFrequencies(ctx context.Context, obs []Observation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.StorageUnavailable(err, "failed to begin transaction")
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	length, _, err := readContextLength(ctx, tx)
	if err != nil {
		return err
	}

	if _, err := mergeTx(ctx, tx, obs, length); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.StorageUnavailable(err, "failed to commit transaction")
	}
	return nil
}

// SetContextLength fixes the context length. Setting the same length again
// is a no-op; a different length, or records of another length, is rejected.
func (s *SqliteStore) SetContextLength(ctx context.Context, length int) error {
	if length <= 0 {
		return errs.InvalidArgument("context length must be positive, got %d", length)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.StorageUnavailable(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stored, fixed, err := readContextLength(ctx, tx)
	if err != nil {
		return err
	}
	if err := checkContextLength(stored, fixed, length); err != nil {
		return err
	}
	if fixed {
		return nil
	}

	if err := fixContextLength(ctx, tx, length); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.StorageUnavailable(err, "failed to commit transaction")
	}
	return nil
}

// fixContextLength records length once no stored context disagrees with it.
func fixContextLength(ctx context.Context, tx *sql.Tx, length int) error {
	var mismatched int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM frequencies WHERE length(context) != ?",
		length).Scan(&mismatched)
	if err != nil {
		return errs.StorageUnavailable(err, "failed to check existing contexts")
	}
	if mismatched > 0 {
		return errs.InvalidArgument("store already holds %d records with a context length other than %d", mismatched, length)
	}
	return writeContextLength(ctx, tx, length)
}

// Commit records a corpus atomically: fingerprint, frequencies, context
// length and ingestion log either all become visible or none do.
func (s *SqliteStore) Commit(ctx context.Context, batch Batch) (Ingestion, error) {
	if batch.Fingerprint == "" {
		return Ingestion{}, errs.InvalidArgument("batch fingerprint must not be empty")
	}
	if batch.ContextLength <= 0 {
		return Ingestion{}, errs.InvalidArgument("context length must be positive, got %d", batch.ContextLength)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Ingestion{}, errs.StorageUnavailable(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO fingerprints (digest, recorded_at) VALUES (?, ?)",
		string(batch.Fingerprint), now)
	if err != nil {
		return Ingestion{}, errs.StorageUnavailable(err, "failed to record fingerprint")
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Ingestion{}, errs.StorageUnavailable(err, "failed to record fingerprint")
	}
	if inserted == 0 {
		return Ingestion{}, ErrAlreadyIngested
	}

	stored, fixed, err := readContextLength(ctx, tx)
	if err != nil {
		return Ingestion{}, err
	}
	if err := checkContextLength(stored, fixed, batch.ContextLength); err != nil {
		return Ingestion{}, err
	}
	if !fixed {
		if err := fixContextLength(ctx, tx, batch.ContextLength); err != nil {
			return Ingestion{}, err
		}
	}

	total, err := mergeTx(ctx, tx, batch.Observations, batch.ContextLength)
	if err != nil {
		return Ingestion{}, err
	}

	ing := Ingestion{
		ID:            uuid.New().String(),
		Fingerprint:   batch.Fingerprint,
		Source:        batch.Source,
		ContextLength: batch.ContextLength,
		Records:       len(batch.Observations),
		Observations:  total,
		Lines:         batch.Lines,
		RejectedLines: batch.RejectedLines,
		IngestedAt:    now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ingestions
		(id, fingerprint, source, context_length, records, observations, lines, rejected_lines, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ing.ID,
		string(ing.Fingerprint),
		ing.Source,
		ing.ContextLength,
		ing.Records,
		ing.Observations,
		ing.Lines,
		ing.RejectedLines,
		ing.IngestedAt,
	)
	if err != nil {
		return Ingestion{}, errs.StorageUnavailable(err, "failed to append ingestion log")
	}

	if err := tx.Commit(); err != nil {
		return Ingestion{}, errs.StorageUnavailable(err, "failed to commit transaction")
	}

	return ing, nil
}

// mergeTx upserts observations inside tx and returns the sum of deltas.
func mergeTx(ctx context.Context, tx *sql.Tx, obs []Observation, length int) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frequencies (context, symbol, frequency) VALUES (?, ?, ?)
		ON CONFLICT(context, symbol) DO UPDATE SET frequency = frequency + excluded.frequency`)
	if err != nil {
		return 0, errs.StorageUnavailable(err, "failed to prepare upsert statement")
	}
	defer stmt.Close()

	var total int64
	for _, o := range obs {
		if err := validateObservation(o, length); err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, o.Context, string(o.Symbol), o.Delta); err != nil {
			return 0, errs.StorageUnavailable(err, "failed to merge frequency",
				errs.Field("context", o.Context), errs.Field("symbol", string(o.Symbol)))
		}
		total += o.Delta
	}
	return total, nil
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readContextLength(ctx context.Context, q queryRower) (int, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaContextLength).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.StorageUnavailable(err, "failed to read context length")
	}

	length, err := strconv.Atoi(raw)
	if err != nil {
		// A non-numeric value means the meta table was written by something else.
		return 0, false, errs.StorageUnavailable(err, "invalid context length in database", errs.Field("value", raw))
	}
	return length, true, nil
}

func writeContextLength(ctx context.Context, tx *sql.Tx, length int) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?)",
		metaContextLength, strconv.Itoa(length))
	if err != nil {
		return errs.StorageUnavailable(err, "failed to persist context length")
	}
	return nil
}

// ContextLength returns the persisted context length.
func (s *SqliteStore) ContextLength(ctx context.Context) (int, bool, error) {
	return readContextLength(ctx, s.db)
}

// LookupNext returns all continuations of an exact context.
func (s *SqliteStore) LookupNext(ctx context.Context, key string) ([]Continuation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT symbol, frequency FROM frequencies WHERE context = ? ORDER BY symbol ASC",
		key)
	if err != nil {
		return nil, errs.StorageUnavailable(err, "failed to query continuations")
	}
	defer rows.Close()

	options := []Continuation{} // Start with empty slice, not nil
	for rows.Next() {
		var symbol string
		var c Continuation
		if err := rows.Scan(&symbol, &c.Frequency); err != nil {
			return nil, errs.StorageUnavailable(err, "failed to scan continuation")
		}
		c.Symbol, _ = utf8.DecodeRuneInString(symbol)
		options = append(options, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.StorageUnavailable(err, "error iterating continuations")
	}

	return options, nil
}

// Top returns the limit highest-frequency records.
func (s *SqliteStore) Top(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, errs.InvalidArgument("limit must be positive, got %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT context, symbol, frequency
		FROM frequencies
		ORDER BY frequency DESC, context ASC, symbol ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errs.StorageUnavailable(err, "failed to query top records")
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Context, &r.Symbol, &r.Frequency); err != nil {
			return nil, errs.StorageUnavailable(err, "failed to scan record")
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.StorageUnavailable(err, "error iterating records")
	}

	return records, nil
}

// Stats returns table-wide counts.
func (s *SqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT context), COALESCE(SUM(frequency), 0) FROM frequencies",
	).Scan(&st.Records, &st.Contexts, &st.TotalFrequency)
	if err != nil {
		return Stats{}, errs.StorageUnavailable(err, "failed to count records")
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fingerprints").Scan(&st.Fingerprints)
	if err != nil {
		return Stats{}, errs.StorageUnavailable(err, "failed to count fingerprints")
	}

	length, _, err := s.ContextLength(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.ContextLength = length

	return st, nil
}

// Ingestions returns the ingestion log, newest first.
func (s *SqliteStore) Ingestions(ctx context.Context) ([]Ingestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint, source, context_length, records, observations, lines, rejected_lines, ingested_at
		FROM ingestions
		ORDER BY ingested_at DESC, rowid DESC`)
	if err != nil {
		return nil, errs.StorageUnavailable(err, "failed to query ingestions")
	}
	defer rows.Close()

	log := []Ingestion{}
	for rows.Next() {
		var ing Ingestion
		var fp string
		err := rows.Scan(
			&ing.ID,
			&fp,
			&ing.Source,
			&ing.ContextLength,
			&ing.Records,
			&ing.Observations,
			&ing.Lines,
			&ing.RejectedLines,
			&ing.IngestedAt,
		)
		if err != nil {
			return nil, errs.StorageUnavailable(err, "failed to scan ingestion")
		}
		ing.Fingerprint = Fingerprint(fp)
		log = append(log, ing)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.StorageUnavailable(err, "error iterating ingestions")
	}

	return log, nil
}

// ContextsWithPrefix returns distinct contexts starting with prefix.
// A non-positive limit returns all matches.
func (s *SqliteStore) ContextsWithPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT context FROM frequencies
		WHERE substr(context, 1, ?) = ?
		ORDER BY context ASC
		LIMIT ?`,
		utf8.RuneCountInString(prefix), prefix, limit)
	if err != nil {
		return nil, errs.StorageUnavailable(err, "failed to query contexts")
	}
	defer rows.Close()

	contexts := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, errs.StorageUnavailable(err, "failed to scan context")
		}
		contexts = append(contexts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.StorageUnavailable(err, "error iterating contexts")
	}

	return contexts, nil
}

// Verify SqliteStore implements FrequencyStore
var _ FrequencyStore = (*SqliteStore)(nil)
