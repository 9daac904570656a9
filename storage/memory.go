// Package storage provides in-memory frequency table storage.
//
// Information Hiding:
// - Radix context index hidden behind FrequencyStore
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral runs

package storage

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/richinex/markov/internal/dsa"
	"github.com/richinex/markov/internal/errs"
)

// InMemoryStore implements FrequencyStore in process memory.
// Data is lost when process terminates.
type InMemoryStore struct {
	mu            sync.RWMutex
	index         *dsa.ContextIndex
	fingerprints  map[Fingerprint]struct{}
	contextLength int
	ingestions    []Ingestion
	closed        bool
}

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		index:        dsa.NewContextIndex(),
		fingerprints: make(map[Fingerprint]struct{}),
	}
}

// InitializeSchema is a no-op; the structures exist from construction.
func (s *InMemoryStore) InitializeSchema(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usable()
}

// HasFingerprint checks if a corpus digest has been recorded.
func (s *InMemoryStore) HasFingerprint(ctx context.Context, fp Fingerprint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return false, err
	}
	_, ok := s.fingerprints[fp]
	return ok, nil
}

// RecordFingerprint inserts a digest.
func (s *InMemoryStore) RecordFingerprint(ctx context.Context, fp Fingerprint) error {
	if fp == "" {
		return errs.InvalidArgument("fingerprint must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	s.fingerprints[fp] = struct{}{}
	return nil
}

// MergeFrequencies validates the whole batch before applying any of it.
func (s *InMemoryStore) MergeFrequencies(ctx context.Context, obs []Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	for _, o := range obs {
		if err := validateObservation(o, s.contextLength); err != nil {
			return err
		}
	}
	s.apply(obs)
	return nil
}

// SetContextLength fixes the context length.
func (s *InMemoryStore) SetContextLength(ctx context.Context, length int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if err := checkContextLength(s.contextLength, s.contextLength > 0, length); err != nil {
		return err
	}

	return s.fixContextLength(length)
}

// fixContextLength records length once no stored context disagrees with it.
// Caller holds the write lock.
func (s *InMemoryStore) fixContextLength(length int) error {
	mismatched := 0
	s.index.Walk(func(key string, counts dsa.Counts) bool {
		if utf8.RuneCountInString(key) != length {
			mismatched += len(counts)
		}
		return false
	})
	if mismatched > 0 {
		return errs.InvalidArgument("store already holds %d records with a context length other than %d", mismatched, length)
	}

	s.contextLength = length
	return nil
}

// Commit validates the batch, then applies fingerprint, length, frequencies
// and log entry under one lock.
func (s *InMemoryStore) Commit(ctx context.Context, batch Batch) (Ingestion, error) {
	if batch.Fingerprint == "" {
		return Ingestion{}, errs.InvalidArgument("batch fingerprint must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return Ingestion{}, err
	}
	if _, ok := s.fingerprints[batch.Fingerprint]; ok {
		return Ingestion{}, ErrAlreadyIngested
	}
	if err := checkContextLength(s.contextLength, s.contextLength > 0, batch.ContextLength); err != nil {
		return Ingestion{}, err
	}

	var total int64
	for _, o := range batch.Observations {
		if err := validateObservation(o, batch.ContextLength); err != nil {
			return Ingestion{}, err
		}
		total += o.Delta
	}

	if s.contextLength == 0 {
		if err := s.fixContextLength(batch.ContextLength); err != nil {
			return Ingestion{}, err
		}
	}
	s.fingerprints[batch.Fingerprint] = struct{}{}
	s.apply(batch.Observations)

	ing := Ingestion{
		ID:            uuid.New().String(),
		Fingerprint:   batch.Fingerprint,
		Source:        batch.Source,
		ContextLength: batch.ContextLength,
		Records:       len(batch.Observations),
		Observations:  total,
		Lines:         batch.Lines,
		RejectedLines: batch.RejectedLines,
		IngestedAt:    time.Now().Unix(),
	}
	s.ingestions = append(s.ingestions, ing)

	return ing, nil
}

func (s *InMemoryStore) apply(obs []Observation) {
	for _, o := range obs {
		s.index.Add(o.Context, o.Symbol, o.Delta)
	}
}

// ContextLength returns the fixed context length.
func (s *InMemoryStore) ContextLength(ctx context.Context) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return 0, false, err
	}
	return s.contextLength, s.contextLength > 0, nil
}

// LookupNext returns all continuations of an exact context, ordered by symbol.
func (s *InMemoryStore) LookupNext(ctx context.Context, key string) ([]Continuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	options := []Continuation{}
	counts, ok := s.index.Get(key)
	if !ok {
		return options, nil
	}
	for symbol, freq := range counts {
		options = append(options, Continuation{Symbol: symbol, Frequency: freq})
	}
	sort.Slice(options, func(i, j int) bool {
		return options[i].Symbol < options[j].Symbol
	})
	return options, nil
}

// Top returns the limit highest-frequency records.
func (s *InMemoryStore) Top(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, errs.InvalidArgument("limit must be positive, got %d", limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	records := make([]Record, 0, s.index.Records())
	s.index.Walk(func(key string, counts dsa.Counts) bool {
		for symbol, freq := range counts {
			records = append(records, Record{Context: key, Symbol: string(symbol), Frequency: freq})
		}
		return false
	})
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.Context != b.Context {
			return a.Context < b.Context
		}
		return a.Symbol < b.Symbol
	})

	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Stats returns table-wide counts.
func (s *InMemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return Stats{}, err
	}

	st := Stats{
		Records:       s.index.Records(),
		Contexts:      s.index.Contexts(),
		Fingerprints:  len(s.fingerprints),
		ContextLength: s.contextLength,
	}
	s.index.Walk(func(_ string, counts dsa.Counts) bool {
		for _, freq := range counts {
			st.TotalFrequency += freq
		}
		return false
	})
	return st, nil
}

// Ingestions returns the ingestion log, newest first.
func (s *InMemoryStore) Ingestions(ctx context.Context) ([]Ingestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	log := make([]Ingestion, 0, len(s.ingestions))
	for i := len(s.ingestions) - 1; i >= 0; i-- {
		log = append(log, s.ingestions[i])
	}
	return log, nil
}

// ContextsWithPrefix returns distinct contexts starting with prefix.
func (s *InMemoryStore) ContextsWithPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	contexts := []string{}
	s.index.WalkPrefix(prefix, func(key string, _ dsa.Counts) bool {
		contexts = append(contexts, key)
		return limit > 0 && len(contexts) >= limit
	})
	return contexts, nil
}

// Close marks the store unusable.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *InMemoryStore) usable() error {
	if s.closed {
		return errs.New(errs.CodeStorageUnavailable, "in-memory store is closed")
	}
	return nil
}

// Verify InMemoryStore implements FrequencyStore
var _ FrequencyStore = (*InMemoryStore)(nil)
