package batching

import (
	"fmt"
	"io"
	"iter"

	"github.com/hankgalt/acoustic-embeddings/internal/dataio"
	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// SimpleBatch is a batch of sequences padded to the longest one in it.
type SimpleBatch struct {
	// Indices are the original positions of the rows.
	Indices []int
	Padded  dataio.PaddedBatch
}

// SimpleIterator yields left-aligned, zero-padded batches of variable
// length sequences. Each batch is padded to its own maximum length.
type SimpleIterator struct {
	*order
	seqs    []domain.Matrix
	lengths []int
}

// NewSimpleIterator iterates over seqs, using lengths[i] frames of seqs[i].
func NewSimpleIterator(seqs []domain.Matrix, lengths []int, batchSize int, opts ...Option) (*SimpleIterator, error) {
	if len(lengths) != len(seqs) {
		return nil, fmt.Errorf("batching: %d lengths for %d sequences", len(lengths), len(seqs))
	}
	o, err := newOrder(len(seqs), batchSize, opts)
	if err != nil {
		return nil, err
	}
	return &SimpleIterator{order: o, seqs: seqs, lengths: lengths}, nil
}

// NewDatasetIterator iterates over the sequences of ds.
func NewDatasetIterator(ds dataio.Dataset, batchSize int, opts ...Option) (*SimpleIterator, error) {
	return NewSimpleIterator(ds.Sequences(), ds.Lengths(), batchSize, opts...)
}

// Next returns the next batch, or io.EOF when the pass is complete.
func (it *SimpleIterator) Next() (SimpleBatch, error) {
	idx, ok := it.next()
	if !ok {
		return SimpleBatch{}, io.EOF
	}

	seqs := make([]domain.Matrix, len(idx))
	longest := 0
	for i, j := range idx {
		n := min(it.lengths[j], it.seqs[j].Rows)
		seqs[i] = it.seqs[j].Slice(0, n)
		longest = max(longest, n)
	}
	padded, err := dataio.Pad(seqs, longest, false, true)
	if err != nil {
		return SimpleBatch{}, err
	}
	return SimpleBatch{Indices: append([]int(nil), idx...), Padded: padded}, nil
}

// All resets the iterator and ranges over one full pass.
func (it *SimpleIterator) All() iter.Seq2[SimpleBatch, error] {
	return func(yield func(SimpleBatch, error) bool) {
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
