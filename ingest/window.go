package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/richinex/markov/storage"
)

// LineFilter decides whether a line is admitted for training.
type LineFilter func(line string) bool

// Printable admits lines made only of ASCII printable characters and ASCII
// whitespace (space, \t, \n, \r, \v, \f).
func Printable(line string) bool {
	for _, r := range line {
		switch {
		case r >= 0x20 && r <= 0x7e:
		case r == '\t', r == '\n', r == '\r', r == '\v', r == '\f':
		default:
			return false
		}
	}
	return true
}

// AcceptAll admits every line.
func AcceptAll(string) bool { return true }

// FilterByName resolves a configured filter name.
func FilterByName(name string) (LineFilter, error) {
	switch strings.ToLower(name) {
	case "", "printable":
		return Printable, nil
	case "none", "all":
		return AcceptAll, nil
	default:
		return nil, fmt.Errorf("unknown line filter: %q", name)
	}
}

type pair struct {
	context string
	symbol  rune
}

// Accumulator counts (context, symbol) observations in memory before they
// are merged as one batch.
type Accumulator struct {
	contextLength int
	counts        map[pair]int64
	total         int64
}

// NewAccumulator creates an accumulator for contexts of the given length.
func NewAccumulator(contextLength int) *Accumulator {
	return &Accumulator{
		contextLength: contextLength,
		counts:        make(map[pair]int64),
	}
}

// AddLine slides a window of contextLength characters over line. Positions
// before contextLength have no full context and are skipped, so windows
// never span two lines.
func (a *Accumulator) AddLine(line string) {
	runes := []rune(line)
	for i := a.contextLength; i < len(runes); i++ {
		p := pair{context: string(runes[i-a.contextLength : i]), symbol: runes[i]}
		a.counts[p]++
		a.total++
	}
}

// Len returns the number of distinct (context, symbol) pairs.
func (a *Accumulator) Len() int {
	return len(a.counts)
}

// Total returns the number of observations added.
func (a *Accumulator) Total() int64 {
	return a.total
}

// Observations returns the consolidated deltas sorted by context, then symbol.
func (a *Accumulator) Observations() []storage.Observation {
	obs := make([]storage.Observation, 0, len(a.counts))
	for p, n := range a.counts {
		obs = append(obs, storage.Observation{Context: p.context, Symbol: p.symbol, Delta: n})
	}
	sort.Slice(obs, func(i, j int) bool {
		if obs[i].Context != obs[j].Context {
			return obs[i].Context < obs[j].Context
		}
		return obs[i].Symbol < obs[j].Symbol
	})
	return obs
}
