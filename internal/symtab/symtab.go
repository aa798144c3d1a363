// Package symtab interns (file, function, line) source locations into a
// stable counter-block pointer, so the simulator's hot path never builds
// map keys out of reference-time strings. Lookup is accelerated by a
// murmur3 hash of the triple; a Bloom filter gates a purely cosmetic
// "first time we've seen this location" debug log line.
package symtab

import (
	"fmt"

	"github.com/spaolacci/murmur3"
	"github.com/willf/bloom"
)

// Loc is the (file, function, line) triple a Block is interned under.
type Loc struct {
	File     string
	Function string
	Line     int
}

func (l Loc) key() string {
	return l.File + "|" + l.Function + "|" + itoa(l.Line)
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

// entry pairs the original triple with its block, so a hash collision
// between two distinct triples can be detected and resolved by equality.
type entry[T any] struct {
	loc   Loc
	block *T
}

// Table interns Loc values into a caller-supplied block type T. The zero
// value is not ready to use; call New.
type Table[T any] struct {
	buckets map[uint64][]entry[T]
	seen    *bloom.BloomFilter
	newFn   func(Loc) *T
	// onFirstSeen, if set, is called (at most once per distinct Loc) the
	// first time that Loc is interned. It exists purely for optional
	// debug logging and has no effect on counters.
	onFirstSeen func(Loc)
}

// New creates a Table whose blocks are produced by newFn on first sight of
// a Loc, sized for an expected number of distinct locations.
func New[T any](expectedLocations uint, newFn func(Loc) *T) *Table[T] {
	return &Table[T]{
		buckets: make(map[uint64][]entry[T]),
		seen:    bloom.NewWithEstimates(uint(maxInt(int(expectedLocations), 1)), 0.01),
		newFn:   newFn,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// OnFirstSeen registers a callback invoked the first time a given Loc is
// interned. It is gated by a Bloom-filter pre-check: a false positive only
// suppresses this callback, never the interning itself, so it cannot
// affect simulation correctness.
func (t *Table[T]) OnFirstSeen(fn func(Loc)) {
	t.onFirstSeen = fn
}

// Intern returns the stable block for loc, allocating one on first sight.
// Repeated calls with an equal Loc always return the same pointer.
func (t *Table[T]) Intern(loc Loc) *T {
	h := murmur3.Sum64([]byte(loc.key()))

	for _, e := range t.buckets[h] {
		if e.loc == loc {
			return e.block
		}
	}

	maybeNew := !t.seen.TestString(loc.key())
	if maybeNew && t.onFirstSeen != nil {
		t.onFirstSeen(loc)
	}
	t.seen.AddString(loc.key())

	block := t.newFn(loc)
	t.buckets[h] = append(t.buckets[h], entry[T]{loc: loc, block: block})
	return block
}

// Len reports the number of distinct locations interned so far.
func (t *Table[T]) Len() int {
	n := 0
	for _, bucket := range t.buckets {
		n += len(bucket)
	}
	return n
}

// Each calls fn once per interned (Loc, block) pair. Iteration order is
// unspecified.
func (t *Table[T]) Each(fn func(Loc, *T)) {
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			fn(e.loc, e.block)
		}
	}
}
