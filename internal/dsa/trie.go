// Package dsa provides the in-memory context index used by storage.
// Uses go-radix for a compressed prefix tree (radix tree).
package dsa

import (
	"github.com/armon/go-radix"
)

// Counts maps a next symbol to its accumulated frequency.
type Counts map[rune]int64

// ContextIndex maps every context string to the counts of the symbols that
// followed it. Contexts sharing a prefix share radix nodes, so an order-8
// model over prose stores far fewer nodes than one map entry per context.
//
// Time Complexity: O(k) per lookup where k is context length.
// Not safe for concurrent use; callers hold their own lock.
type ContextIndex struct {
	tree    *radix.Tree
	records int
}

// NewContextIndex creates an empty index.
func NewContextIndex() *ContextIndex {
	return &ContextIndex{
		tree: radix.New(),
	}
}

// Add increments the frequency of symbol after context by delta.
// Returns true if the (context, symbol) pair was not present before.
func (x *ContextIndex) Add(context string, symbol rune, delta int64) bool {
	var counts Counts
	if v, ok := x.tree.Get(context); ok {
		counts = v.(Counts)
	} else {
		counts = make(Counts)
		x.tree.Insert(context, counts)
	}

	_, existed := counts[symbol]
	counts[symbol] += delta
	if !existed {
		x.records++
	}
	return !existed
}

// Get returns a copy of the counts recorded for context.
func (x *ContextIndex) Get(context string) (Counts, bool) {
	v, ok := x.tree.Get(context)
	if !ok {
		return nil, false
	}
	return v.(Counts).clone(), true
}

// WalkPrefix calls fn for every context starting with prefix, in
// lexicographic order. Returning true from fn stops the walk.
// Time Complexity: O(k + m) where k is prefix length, m is number of matches.
func (x *ContextIndex) WalkPrefix(prefix string, fn func(context string, counts Counts) bool) {
	x.tree.WalkPrefix(prefix, func(k string, v interface{}) bool {
		return fn(k, v.(Counts).clone())
	})
}

// Walk calls fn for every context in lexicographic order.
func (x *ContextIndex) Walk(fn func(context string, counts Counts) bool) {
	x.WalkPrefix("", fn)
}

// Contexts returns the number of distinct contexts.
func (x *ContextIndex) Contexts() int {
	return x.tree.Len()
}

// Records returns the number of distinct (context, symbol) pairs.
func (x *ContextIndex) Records() int {
	return x.records
}

func (c Counts) clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
