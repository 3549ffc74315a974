// Package dataio loads utterance archives into datasets and shapes them for
// a forward pass: truncation, padding with masks, and multi-stage filtering.
package dataio

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/comfforts/logger"

	"github.com/hankgalt/acoustic-embeddings/internal/archive"
	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// KeySeparator splits an utterance key into label and speaker.
const KeySeparator = "_"

// Entry is one utterance: a variable-length sequence of feature frames.
type Entry struct {
	Key     string
	Seq     domain.Matrix
	Label   string
	Speaker string
	// Length is the logical number of frames. It equals Seq.Rows at load
	// time and is kept in step by Truncate.
	Length int
}

// Dataset is an ordered collection of entries. The position of an entry is
// its original index as seen by the batch iterators.
type Dataset []Entry

func (ds Dataset) Keys() []string {
	out := make([]string, len(ds))
	for i, e := range ds {
		out[i] = e.Key
	}
	return out
}

func (ds Dataset) Labels() []string {
	out := make([]string, len(ds))
	for i, e := range ds {
		out[i] = e.Label
	}
	return out
}

func (ds Dataset) Speakers() []string {
	out := make([]string, len(ds))
	for i, e := range ds {
		out[i] = e.Speaker
	}
	return out
}

func (ds Dataset) Lengths() []int {
	out := make([]int, len(ds))
	for i, e := range ds {
		out[i] = e.Length
	}
	return out
}

func (ds Dataset) Sequences() []domain.Matrix {
	out := make([]domain.Matrix, len(ds))
	for i, e := range ds {
		out[i] = e.Seq
	}
	return out
}

// ParseKey splits a key of the form <label>_<speaker>[_...] into its label
// and speaker segments.
func ParseKey(key string) (label, speaker string, err error) {
	parts := strings.Split(key, KeySeparator)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", domain.ErrMalformedKey, key)
	}
	return parts[0], parts[1], nil
}

type loadOptions struct {
	minLength    int
	hasMinLength bool
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithMinLength drops sequences with n or fewer frames.
func WithMinLength(n int) LoadOption {
	return func(o *loadOptions) {
		o.minLength = n
		o.hasMinLength = true
	}
}

// Load reads every array of the archive at path into a dataset.
func Load(ctx context.Context, path string, opts ...LoadOption) (Dataset, error) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}
	l.Info("reading archive", "path", path)

	r, err := archive.Open(path)
	if err != nil {
		l.Error("Load - error opening archive", "path", path, "error", err.Error())
		return nil, err
	}
	defer r.Close()

	return LoadFrom(ctx, r, opts...)
}

// LoadFrom builds a dataset from an open archive. Keys are visited in sorted
// order so the result is deterministic.
func LoadFrom(ctx context.Context, r archive.Reader, opts ...LoadOption) (Dataset, error) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	keys := r.Keys()
	sort.Strings(keys)
	ds := make(Dataset, 0, len(keys))
	for _, key := range keys {
		seq, err := r.Matrix(key)
		if err != nil {
			return nil, err
		}
		if o.hasMinLength && seq.Rows <= o.minLength {
			continue
		}
		label, speaker, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		ds = append(ds, Entry{
			Key:     key,
			Seq:     seq,
			Label:   label,
			Speaker: speaker,
			Length:  seq.Rows,
		})
	}
	if len(ds) == 0 {
		return nil, fmt.Errorf("%w: no sequences loaded", domain.ErrEmptyDataset)
	}

	l.Info("loaded dataset", "items", len(ds), "example-shape", ds[0].Seq.String())
	return ds, nil
}
