package domain

import "errors"

var (
	// ErrMalformedKey is returned when an utterance key does not follow
	// the <label>_<speaker>[_...] convention.
	ErrMalformedKey = errors.New("malformed utterance key")

	// ErrShapeMismatch is returned when arrays do not have the expected
	// rank or when sequences in one batch disagree on feature dimension.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrMissingConfig is returned when a required model hyperparameter
	// is absent from the options file.
	ErrMissingConfig = errors.New("missing model option")

	// ErrEmptyDataset is returned when loading or filtering leaves no entries.
	ErrEmptyDataset = errors.New("empty dataset")

	// ErrRowCount is returned when the model produces a different number
	// of embeddings than rows it was given.
	ErrRowCount = errors.New("embedding row count mismatch")
)
