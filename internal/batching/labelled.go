package batching

import (
	"fmt"
	"io"
	"iter"
)

// LabelledBatch is a batch of raw rows with their labels, if any.
type LabelledBatch[L any] struct {
	Indices []int
	X       [][]float32
	Labels  []L
}

// LabelledIterator yields unpadded batches of fixed-size rows, e.g.
// flattened sequences for non-recurrent models.
type LabelledIterator[L any] struct {
	*order
	x      [][]float32
	labels []L
}

// NewLabelledIterator iterates over the rows of x. labels may be nil.
func NewLabelledIterator[L any](x [][]float32, labels []L, batchSize int, opts ...Option) (*LabelledIterator[L], error) {
	if labels != nil && len(labels) != len(x) {
		return nil, fmt.Errorf("batching: %d labels for %d rows", len(labels), len(x))
	}
	o, err := newOrder(len(x), batchSize, opts)
	if err != nil {
		return nil, err
	}
	return &LabelledIterator[L]{order: o, x: x, labels: labels}, nil
}

// Next returns the next batch, or io.EOF when the pass is complete.
func (it *LabelledIterator[L]) Next() (LabelledBatch[L], error) {
	idx, ok := it.next()
	if !ok {
		return LabelledBatch[L]{}, io.EOF
	}
	b := LabelledBatch[L]{
		Indices: append([]int(nil), idx...),
		X:       make([][]float32, len(idx)),
	}
	if it.labels != nil {
		b.Labels = make([]L, len(idx))
	}
	for i, j := range idx {
		b.X[i] = it.x[j]
		if it.labels != nil {
			b.Labels[i] = it.labels[j]
		}
	}
	return b, nil
}

// All resets the iterator and ranges over one full pass.
func (it *LabelledIterator[L]) All() iter.Seq2[LabelledBatch[L], error] {
	return func(yield func(LabelledBatch[L], error) bool) {
		it.Reset()
		for {
			b, err := it.Next()
			if err == io.EOF {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}
