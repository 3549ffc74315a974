package dataio

import (
	"fmt"
	"math"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// PaddedBatch is a dense [N, T, D] tensor of sequences padded (or cropped)
// to a common length T, in row-major order.
type PaddedBatch struct {
	N, T, D int
	Data    []float32
	// Lengths holds the number of real frames in each item.
	Lengths []int
	// Mask is [N, T] with 1 where a frame holds real data. Nil unless
	// requested.
	Mask []float32
}

// Item returns the [T, D] block of item i.
func (b PaddedBatch) Item(i int) []float32 {
	stride := b.T * b.D
	return b.Data[i*stride : (i+1)*stride]
}

// MaskRow returns the mask of item i, or nil if the batch has no mask.
func (b PaddedBatch) MaskRow(i int) []float32 {
	if b.Mask == nil {
		return nil
	}
	return b.Mask[i*b.T : (i+1)*b.T]
}

// Truncate clips every sequence in place to at most maxLength frames and
// maxFeatureDim features, and caps each Length at maxLength.
//
// This is the one transform that mutates a dataset; it avoids copying the
// frame data of large archives.
func Truncate(ds Dataset, maxFeatureDim, maxLength int) {
	for i := range ds {
		e := &ds[i]
		rows := min(e.Seq.Rows, maxLength)
		cols := min(e.Seq.Cols, maxFeatureDim)
		if cols == e.Seq.Cols {
			e.Seq = e.Seq.Slice(0, rows)
		} else {
			data := make([]float32, rows*cols)
			for r := 0; r < rows; r++ {
				copy(data[r*cols:(r+1)*cols], e.Seq.Row(r)[:cols])
			}
			e.Seq = domain.Matrix{Rows: rows, Cols: cols, Data: data}
		}
		e.Length = min(e.Length, maxLength)
	}
}

// centerOffset is where a sequence of length n starts inside a frame of
// length target. The midpoint is rounded half to even, so
// centerOffset(1, 4) == 2 and centerOffset(5, 4) == 0.
func centerOffset(n, target int) int {
	return int(math.RoundToEven(float64(target-n) / 2))
}

// Pad packs seqs into a zero-filled [len(seqs), targetLength, D] tensor,
// where D is the feature dimension of the first sequence.
//
// With center unset, sequences are left-aligned and cut at targetLength.
// With center set, shorter sequences are placed in the middle of the frame
// and longer ones are cropped to a centered window of targetLength frames.
func Pad(seqs []domain.Matrix, targetLength int, center, withMask bool) (PaddedBatch, error) {
	if targetLength < 0 {
		return PaddedBatch{}, fmt.Errorf("pad: negative target length %d", targetLength)
	}
	if len(seqs) == 0 {
		return PaddedBatch{T: targetLength}, nil
	}

	n, d := len(seqs), seqs[0].Cols
	b := PaddedBatch{
		N:       n,
		T:       targetLength,
		D:       d,
		Data:    make([]float32, n*targetLength*d),
		Lengths: make([]int, n),
	}
	if withMask {
		b.Mask = make([]float32, n*targetLength)
	}

	for i, seq := range seqs {
		if seq.Cols != d {
			return PaddedBatch{}, fmt.Errorf("%w: sequence %d has %d features, want %d", domain.ErrShapeMismatch, i, seq.Cols, d)
		}
		item := b.Item(i)

		// dst is the first frame written, src the first frame read.
		var dst, src, count int
		switch {
		case !center:
			count = min(seq.Rows, targetLength)
		case seq.Rows <= targetLength:
			dst = centerOffset(seq.Rows, targetLength)
			count = seq.Rows
		default:
			src = -centerOffset(seq.Rows, targetLength)
			count = targetLength
		}

		copy(item[dst*d:(dst+count)*d], seq.Data[src*d:(src+count)*d])
		if withMask {
			row := b.MaskRow(i)
			for t := dst; t < dst+count; t++ {
				row[t] = 1
			}
		}
		b.Lengths[i] = count
	}
	return b, nil
}

// PadDataset pads the sequences of ds. See Pad.
func PadDataset(ds Dataset, targetLength int, center, withMask bool) (PaddedBatch, error) {
	return Pad(ds.Sequences(), targetLength, center, withMask)
}

// Flatten turns every [T, D] item into one row of D*T values laid out
// feature-major, i.e. the item transposed to [D, T] and then flattened.
// Non-recurrent models consume this layout.
func Flatten(b PaddedBatch) [][]float32 {
	rows := make([][]float32, b.N)
	for i := 0; i < b.N; i++ {
		item := b.Item(i)
		row := make([]float32, b.D*b.T)
		for t := 0; t < b.T; t++ {
			for f := 0; f < b.D; f++ {
				row[f*b.T+t] = item[t*b.D+f]
			}
		}
		rows[i] = row
	}
	return rows
}
