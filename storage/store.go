// Package storage provides the persistent n-gram frequency table.
//
// Information Hiding:
// - Backend details (SQLite file, in-memory radix index) hidden behind FrequencyStore
// - Fingerprint insertion and frequency merge committed as one unit
// - Context length persisted once and enforced on every later write

package storage

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/richinex/markov/internal/errs"
)

// ErrAlreadyIngested is returned by Commit when the batch fingerprint is
// already recorded. Nothing is written in that case.
var ErrAlreadyIngested = errors.New("corpus already ingested")

// Fingerprint is the hex digest of a corpus's raw bytes.
type Fingerprint string

// Short returns an abbreviated form for logs.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Observation is one (context, symbol) pair with the number of times it was seen.
type Observation struct {
	Context string
	Symbol  rune
	Delta   int64
}

// Continuation is a recorded next symbol for some context.
type Continuation struct {
	Symbol    rune  `json:"symbol"`
	Frequency int64 `json:"frequency"`
}

// Record is a full frequency table row.
type Record struct {
	Context   string `json:"context" yaml:"context"`
	Symbol    string `json:"symbol" yaml:"symbol"`
	Frequency int64  `json:"frequency" yaml:"frequency"`
}

// Batch is everything one corpus contributes to the store.
type Batch struct {
	Fingerprint   Fingerprint
	ContextLength int
	Observations  []Observation
	Source        string // Label for the ingestion log (file path, page title)
	Lines         int    // Lines in the corpus
	RejectedLines int    // Lines skipped by the line filter
}

// Ingestion is one row of the ingestion log.
type Ingestion struct {
	ID            string      `json:"id" yaml:"id"`
	Fingerprint   Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Source        string      `json:"source" yaml:"source"`
	ContextLength int         `json:"context_length" yaml:"context_length"`
	Records       int         `json:"records" yaml:"records"`
	Observations  int64       `json:"observations" yaml:"observations"`
	Lines         int         `json:"lines" yaml:"lines"`
	RejectedLines int         `json:"rejected_lines" yaml:"rejected_lines"`
	IngestedAt    int64       `json:"ingested_at" yaml:"ingested_at"` // Unix seconds
}

// Stats summarizes the table.
type Stats struct {
	Records        int   `json:"records" yaml:"records"`
	Contexts       int   `json:"contexts" yaml:"contexts"`
	Fingerprints   int   `json:"fingerprints" yaml:"fingerprints"`
	TotalFrequency int64 `json:"total_frequency" yaml:"total_frequency"`
	ContextLength  int   `json:"context_length" yaml:"context_length"` // 0 if not yet fixed
}

// Reader is the read-only view the generator needs.
type Reader interface {
	// LookupNext returns every recorded continuation of the exact context key,
	// ordered by symbol. Returns an empty slice (not nil) if none.
	LookupNext(ctx context.Context, key string) ([]Continuation, error)

	// ContextLength returns the persisted context length, if one is fixed.
	ContextLength(ctx context.Context) (int, bool, error)
}

// Inspector exposes summary queries over the table.
type Inspector interface {
	// Top returns the highest-frequency records.
	Top(ctx context.Context, limit int) ([]Record, error)

	// Stats returns table-wide counts.
	Stats(ctx context.Context) (Stats, error)

	// Ingestions returns the ingestion log, newest first.
	Ingestions(ctx context.Context) ([]Ingestion, error)

	// ContextsWithPrefix returns distinct contexts starting with prefix, sorted.
	ContextsWithPrefix(ctx context.Context, prefix string, limit int) ([]string, error)
}

// FrequencyStore owns the frequency records and the fingerprint set.
// It is the sole writer of both.
type FrequencyStore interface {
	Reader
	Inspector

	// InitializeSchema idempotently creates the tables. Never clears data.
	InitializeSchema(ctx context.Context) error

	// HasFingerprint checks whether a corpus digest was recorded.
	HasFingerprint(ctx context.Context, fp Fingerprint) (bool, error)

	// RecordFingerprint inserts a digest on its own.
	RecordFingerprint(ctx context.Context, fp Fingerprint) error

	// MergeFrequencies adds every observation's delta to its record,
	// creating missing records, as one durable batch.
	MergeFrequencies(ctx context.Context, obs []Observation) error

	// SetContextLength fixes the context length of an empty store.
	SetContextLength(ctx context.Context, length int) error

	// Commit records the fingerprint, merges the observations, fixes the
	// context length if unset and appends the ingestion log row, all or
	// nothing. Returns ErrAlreadyIngested if the fingerprint exists.
	Commit(ctx context.Context, batch Batch) (Ingestion, error)

	// Close releases resources.
	Close() error
}

// validateObservation checks one observation against the context length.
// length <= 0 means no length is fixed yet.
func validateObservation(o Observation, length int) error {
	if o.Delta <= 0 {
		return errs.InvalidArgument("frequency delta must be positive, got %d for (%q, %q)", o.Delta, o.Context, o.Symbol)
	}
	if o.Context == "" {
		return errs.InvalidArgument("observation context must not be empty")
	}
	if !utf8.ValidRune(o.Symbol) {
		return errs.InvalidArgument("observation symbol %U is not a valid character", o.Symbol)
	}
	if length > 0 && utf8.RuneCountInString(o.Context) != length {
		return errs.InvalidArgument("context %q has length %d, store context length is %d",
			o.Context, utf8.RuneCountInString(o.Context), length)
	}
	return nil
}

// CheckContextLength fails with InvalidArgument unless length is positive
// and matches the length persisted in r, if any.
func CheckContextLength(ctx context.Context, r Reader, length int) error {
	if length <= 0 {
		return errs.InvalidArgument("context length must be positive, got %d", length)
	}
	stored, fixed, err := r.ContextLength(ctx)
	if err != nil {
		return err
	}
	return checkContextLength(stored, fixed, length)
}

// checkContextLength compares a requested length with the persisted one.
func checkContextLength(stored int, fixed bool, requested int) error {
	if requested <= 0 {
		return errs.InvalidArgument("context length must be positive, got %d", requested)
	}
	if fixed && stored != requested {
		return errs.InvalidArgument("store was built with context length %d, got %d", stored, requested)
	}
	return nil
}
