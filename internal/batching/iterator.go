// Package batching walks a dataset in fixed-size batches.
//
// The visiting order is a permutation fixed when the iterator is built
// (identity, or a seeded shuffle). Every pass replays the same order, and
// Indices reports which original positions were emitted, so results computed
// on a batch can be mapped back to the entries they came from:
//
//	it, _ := batching.NewSimpleIterator(seqs, lengths, 64, batching.WithShuffle(7))
//	for b, err := range it.All() {
//		z = append(z, encode(b)...)
//	}
//	for row, orig := range it.Indices() {
//		out[keys[orig]] = z[row]
//	}
package batching

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrBatchSize is returned for a batch size below one.
var ErrBatchSize = errors.New("batching: batch size must be positive")

type options struct {
	shuffle       bool
	seed          uint64
	keepRemainder bool
}

// Option configures an iterator.
type Option func(*options)

// WithShuffle visits items in an order shuffled once, with the given seed.
func WithShuffle(seed uint64) Option {
	return func(o *options) {
		o.shuffle = true
		o.seed = seed
	}
}

// WithKeepRemainder emits a final batch smaller than the batch size. By
// default the leftover items of a pass are dropped.
func WithKeepRemainder() Option {
	return func(o *options) {
		o.keepRemainder = true
	}
}

// order is the visiting order shared by the iterators.
type order struct {
	batchSize     int
	keepRemainder bool
	perm          []int
	pos           int // items emitted in the current pass
	visited       int // longest prefix of perm emitted so far
}

func newOrder(n, batchSize int, opts []Option) (*order, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBatchSize, batchSize)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if o.shuffle {
		rng := rand.New(rand.NewPCG(o.seed, 0))
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	}
	return &order{batchSize: batchSize, keepRemainder: o.keepRemainder, perm: perm}, nil
}

// next returns the original indices of the next batch, or false at the end
// of the pass.
func (o *order) next() ([]int, bool) {
	remaining := len(o.perm) - o.pos
	if remaining <= 0 || (remaining < o.batchSize && !o.keepRemainder) {
		return nil, false
	}
	n := min(o.batchSize, remaining)
	idx := o.perm[o.pos : o.pos+n]
	o.pos += n
	o.visited = max(o.visited, o.pos)
	return idx, true
}

// Reset starts a new pass over the same order.
func (o *order) Reset() {
	o.pos = 0
}

// Indices returns the original indices emitted so far, in emission order.
// The returned slice is a copy.
func (o *order) Indices() []int {
	return append([]int(nil), o.perm[:o.visited]...)
}

// NumBatches is the number of batches in one pass.
func (o *order) NumBatches() int {
	n := len(o.perm) / o.batchSize
	if o.keepRemainder && len(o.perm)%o.batchSize != 0 {
		n++
	}
	return n
}
