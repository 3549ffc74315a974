package archive

import (
	"fmt"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// msgzArray is the on-disk record of one array.
type msgzArray struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// MsgzReader holds a fully decoded .msgz archive in memory.
type MsgzReader struct {
	arrays map[string]msgzArray
	keys   []string
}

func OpenMsgz(path string) (*MsgzReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("archive: zstd %s: %w", path, err)
	}
	defer dec.Close()

	arrays := map[string]msgzArray{}
	if err := msgpack.NewDecoder(dec).Decode(&arrays); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", path, err)
	}
	keys := make([]string, 0, len(arrays))
	for k := range arrays {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &MsgzReader{arrays: arrays, keys: keys}, nil
}

func (a *MsgzReader) Keys() []string {
	return append([]string(nil), a.keys...)
}

func (a *MsgzReader) Matrix(key string) (domain.Matrix, error) {
	arr, ok := a.arrays[key]
	if !ok {
		return domain.Matrix{}, fmt.Errorf("archive: no array %q", key)
	}
	if len(arr.Shape) != 2 {
		return domain.Matrix{}, fmt.Errorf("%w: %q has shape %v, want 2D", domain.ErrShapeMismatch, key, arr.Shape)
	}
	return domain.NewMatrix(arr.Shape[0], arr.Shape[1], arr.Data)
}

func (a *MsgzReader) Vector(key string) ([]float32, error) {
	arr, ok := a.arrays[key]
	if !ok {
		return nil, fmt.Errorf("archive: no array %q", key)
	}
	if len(arr.Shape) == 1 || (len(arr.Shape) == 2 && arr.Shape[0] == 1) {
		return arr.Data, nil
	}
	return nil, fmt.Errorf("%w: %q has shape %v, want 1D", domain.ErrShapeMismatch, key, arr.Shape)
}

func (a *MsgzReader) Close() error { return nil }

// MsgzWriter buffers arrays and encodes the archive on Close.
type MsgzWriter struct {
	path   string
	arrays map[string]msgzArray
}

func CreateMsgz(path string) (*MsgzWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", path, err)
	}
	f.Close()
	return &MsgzWriter{path: path, arrays: map[string]msgzArray{}}, nil
}

func (a *MsgzWriter) WriteMatrix(key string, m domain.Matrix) error {
	a.arrays[key] = msgzArray{Shape: []int{m.Rows, m.Cols}, Data: m.Data}
	return nil
}

func (a *MsgzWriter) WriteVector(key string, v []float32) error {
	a.arrays[key] = msgzArray{Shape: []int{len(v)}, Data: v}
	return nil
}

func (a *MsgzWriter) Close() error {
	f, err := os.Create(a.path)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", a.path, err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("archive: zstd %s: %w", a.path, err)
	}
	if err := msgpack.NewEncoder(enc).Encode(a.arrays); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("archive: encode %s: %w", a.path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
