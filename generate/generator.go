// Package generate produces text by weighted random walk over a frequency store.
//
// Information Hiding:
// - Sampling walks the continuations in store order with a running sum
// - Random source injected so walks are reproducible in tests
// - Store is only read, so generators may share it freely

package generate

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"unicode/utf8"

	"github.com/richinex/markov/internal/errs"
	"github.com/richinex/markov/storage"
)

// Terminal is the symbol that ends a sentence.
const Terminal = '.'

// Source draws uniform integers in [0, n). *rand.Rand satisfies it.
type Source interface {
	Int64N(n int64) int64
}

// NewSource returns a deterministic PCG source for seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Generator walks the model at a fixed context length.
type Generator struct {
	store         storage.Reader
	contextLength int
	logger        *slog.Logger

	rngMu sync.Mutex // guards rng, which is not safe for concurrent use
	rng   Source
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a generator. A nil rng is replaced by a randomly seeded one.
func New(store storage.Reader, contextLength int, rng Source, opts ...Option) (*Generator, error) {
	if store == nil {
		return nil, errs.InvalidArgument("store must not be nil")
	}
	if contextLength <= 0 {
		return nil, errs.InvalidArgument("context length must be positive, got %d", contextLength)
	}
	if rng == nil {
		rng = NewSource(rand.Uint64())
	}

	g := &Generator{
		store:         store,
		contextLength: contextLength,
		rng:           rng,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate extends seed one character at a time until it ends with '.',
// reaches maxLength characters, or its trailing context was never observed.
// The seed must be valid UTF-8 and at least one context long. Once
// preconditions hold only a storage failure produces an error, returned
// together with the text generated so far.
func (g *Generator) Generate(ctx context.Context, seed string, maxLength int) (string, error) {
	if maxLength <= 0 {
		return "", errs.InvalidArgument("max length must be positive, got %d", maxLength)
	}
	if !utf8.ValidString(seed) {
		return "", errs.InvalidArgument("seed must be valid UTF-8: %q", seed)
	}
	sentence := []rune(seed)
	if len(sentence) < g.contextLength {
		return "", errs.InvalidArgument("seed must cover at least one full context window: %q has %d characters, need %d",
			seed, len(sentence), g.contextLength)
	}

	if err := storage.CheckContextLength(ctx, g.store, g.contextLength); err != nil {
		return "", err
	}

	for !endsWithTerminal(sentence) && len(sentence) < maxLength {
		key := string(sentence[len(sentence)-g.contextLength:])

		options, err := g.store.LookupNext(ctx, key)
		if err != nil {
			return string(sentence), err
		}
		if len(options) == 0 {
			g.logger.Debug("no continuation for context", "context", key)
			break
		}

		next, ok := g.choose(options)
		if !ok {
			break
		}
		sentence = append(sentence, next)
	}

	return string(sentence), nil
}

// GenerateMany runs Generate for each seed, stopping at the first error.
// The text generated before a storage failure is kept as the last element.
func (g *Generator) GenerateMany(ctx context.Context, seeds []string, maxLength int) ([]string, error) {
	out := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		s, err := g.Generate(ctx, seed, maxLength)
		if err != nil {
			if s != "" {
				out = append(out, s)
			}
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// choose picks an option with probability proportional to its frequency.
// Returns false if the options carry no weight.
func (g *Generator) choose(options []storage.Continuation) (rune, bool) {
	var total int64
	for _, o := range options {
		if o.Frequency > 0 {
			total += o.Frequency
		}
	}
	if total <= 0 {
		return 0, false
	}

	g.rngMu.Lock()
	winner := g.rng.Int64N(total)
	g.rngMu.Unlock()

	return pick(options, winner)
}

// pick returns the first option whose cumulative frequency exceeds winner.
func pick(options []storage.Continuation, winner int64) (rune, bool) {
	var cumulative int64
	for _, o := range options {
		if o.Frequency <= 0 {
			continue
		}
		cumulative += o.Frequency
		if winner < cumulative {
			return o.Symbol, true
		}
	}
	return 0, false
}

func endsWithTerminal(s []rune) bool {
	return len(s) > 0 && s[len(s)-1] == Terminal
}
