// Package archive reads and writes persisted mappings from string keys to
// numeric arrays.
//
// Two formats are supported, chosen by file extension:
//
//	.npz   NumPy zip archive of .npy arrays (np.savez / np.savez_compressed)
//	.msgz  zstd-compressed msgpack map of {shape, data} records
package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

const (
	ExtNPZ  = ".npz"
	ExtMsgz = ".msgz"
)

// Reader gives random access to the arrays of an archive.
type Reader interface {
	// Keys returns the array keys in lexicographic order.
	Keys() []string
	// Matrix reads a 2D array. Arrays of any other rank fail with
	// domain.ErrShapeMismatch.
	Matrix(key string) (domain.Matrix, error)
	// Vector reads a 1D array, or a 2D array holding a single row.
	Vector(key string) ([]float32, error)
	Close() error
}

// Writer appends arrays to a new archive. Nothing is guaranteed to be on
// disk before Close returns without error.
type Writer interface {
	WriteMatrix(key string, m domain.Matrix) error
	WriteVector(key string, v []float32) error
	Close() error
}

// Open opens the archive at path for reading.
func Open(path string) (Reader, error) {
	switch ext := format(path); ext {
	case ExtNPZ:
		return OpenNPZ(path)
	case ExtMsgz:
		return OpenMsgz(path)
	default:
		return nil, fmt.Errorf("archive: unsupported format %q (%s)", ext, path)
	}
}

// Create creates (or truncates) the archive at path for writing.
func Create(path string) (Writer, error) {
	switch ext := format(path); ext {
	case ExtNPZ:
		return CreateNPZ(path)
	case ExtMsgz:
		return CreateMsgz(path)
	default:
		return nil, fmt.Errorf("archive: unsupported format %q (%s)", ext, path)
	}
}

// Supported reports whether path has a known archive extension.
func Supported(path string) bool {
	ext := format(path)
	return ext == ExtNPZ || ext == ExtMsgz
}

func format(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
