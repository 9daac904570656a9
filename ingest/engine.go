// Package ingest trains a frequency store on text corpora.
//
// Information Hiding:
// - Fingerprinting, per-line windowing and accumulation hidden behind Ingest
// - One consolidated batch per corpus, committed atomically with its fingerprint
// - Ingestions through one Engine are serialized

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/richinex/markov/internal/errs"
	"github.com/richinex/markov/storage"
)

// Status is the kind of ingestion outcome.
type Status int

const (
	// StatusIngested means the corpus was merged into the store.
	StatusIngested Status = iota
	// StatusAlreadyIngested means the corpus fingerprint was already recorded.
	StatusAlreadyIngested
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIngested:
		return "ingested"
	case StatusAlreadyIngested:
		return "already_ingested"
	default:
		return "unknown"
	}
}

// Outcome reports what one Ingest call did.
type Outcome struct {
	Status        Status
	Fingerprint   storage.Fingerprint
	IngestionID   string // Empty unless Status is StatusIngested
	Records       int    // Distinct (context, symbol) pairs merged
	Observations  int64  // Total windows observed
	Lines         int
	RejectedLines int
}

// Engine ingests corpora into a FrequencyStore at a fixed context length.
type Engine struct {
	store         storage.FrequencyStore
	contextLength int
	filter        LineFilter
	logger        *slog.Logger

	// mu serializes the fingerprint check and the commit.
	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLineFilter replaces the default Printable filter.
func WithLineFilter(f LineFilter) Option {
	return func(e *Engine) {
		if f != nil {
			e.filter = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine. contextLength must be positive.
func NewEngine(store storage.FrequencyStore, contextLength int, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errs.InvalidArgument("store must not be nil")
	}
	if contextLength <= 0 {
		return nil, errs.InvalidArgument("context length must be positive, got %d", contextLength)
	}

	e := &Engine{
		store:         store,
		contextLength: contextLength,
		filter:        Printable,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ContextLength returns the engine's context length.
func (e *Engine) ContextLength() int {
	return e.contextLength
}

// Ingest merges corpus into the store unless its fingerprint is already
// recorded. Re-ingesting the same bytes is a no-op reported as
// StatusAlreadyIngested, not an error.
func (e *Engine) Ingest(ctx context.Context, corpus Corpus) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fp := corpus.Fingerprint()
	logger := e.logger.With("source", corpus.Source, "fingerprint", fp.Short())

	seen, err := e.store.HasFingerprint(ctx, fp)
	if err != nil {
		return Outcome{}, err
	}
	if seen {
		logger.Info("corpus already ingested, skipping")
		return Outcome{Status: StatusAlreadyIngested, Fingerprint: fp}, nil
	}

	if err := storage.CheckContextLength(ctx, e.store, e.contextLength); err != nil {
		return Outcome{}, err
	}

	lines := corpus.Lines()
	acc := NewAccumulator(e.contextLength)
	rejected := 0
	for _, line := range lines {
		if !e.filter(line) {
			rejected++
			continue
		}
		acc.AddLine(line)
	}
	if rejected > 0 {
		logger.Debug("lines rejected by filter", "rejected", rejected, "lines", len(lines))
	}

	ing, err := e.store.Commit(ctx, storage.Batch{
		Fingerprint:   fp,
		ContextLength: e.contextLength,
		Observations:  acc.Observations(),
		Source:        corpus.Source,
		Lines:         len(lines),
		RejectedLines: rejected,
	})
	if errors.Is(err, storage.ErrAlreadyIngested) {
		// Another writer committed the same corpus between check and commit.
		logger.Info("corpus already ingested, skipping")
		return Outcome{Status: StatusAlreadyIngested, Fingerprint: fp}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	logger.Info("corpus ingested",
		"id", ing.ID,
		"records", ing.Records,
		"observations", ing.Observations,
		"lines", len(lines),
		"rejected", rejected,
	)

	return Outcome{
		Status:        StatusIngested,
		Fingerprint:   fp,
		IngestionID:   ing.ID,
		Records:       ing.Records,
		Observations:  ing.Observations,
		Lines:         len(lines),
		RejectedLines: rejected,
	}, nil
}

// IngestAll ingests corpora in order, stopping at the first error.
func (e *Engine) IngestAll(ctx context.Context, corpora []Corpus) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(corpora))
	for _, c := range corpora {
		out, err := e.Ingest(ctx, c)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
