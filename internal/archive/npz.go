package archive

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

const npyExt = ".npy"

// NPZReader reads NumPy .npz archives.
type NPZReader struct {
	r     *npz.Reader
	keys  []string
	names map[string]string // key -> member name inside the zip
}

func OpenNPZ(path string) (*NPZReader, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	names := make(map[string]string, len(r.Keys()))
	keys := make([]string, 0, len(r.Keys()))
	for _, name := range r.Keys() {
		key := strings.TrimSuffix(name, npyExt)
		names[key] = name
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return &NPZReader{r: r, keys: keys, names: names}, nil
}

func (a *NPZReader) Keys() []string {
	return append([]string(nil), a.keys...)
}

func (a *NPZReader) Matrix(key string) (domain.Matrix, error) {
	data, shape, fortran, err := a.read(key)
	if err != nil {
		return domain.Matrix{}, err
	}
	if len(shape) != 2 {
		return domain.Matrix{}, fmt.Errorf("%w: %q has shape %v, want 2D", domain.ErrShapeMismatch, key, shape)
	}
	rows, cols := shape[0], shape[1]
	if fortran {
		data = fromColumnMajor(data, rows, cols)
	}
	return domain.NewMatrix(rows, cols, data)
}

func (a *NPZReader) Vector(key string) ([]float32, error) {
	data, shape, _, err := a.read(key)
	if err != nil {
		return nil, err
	}
	if len(shape) == 1 || (len(shape) == 2 && shape[0] == 1) {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %q has shape %v, want 1D", domain.ErrShapeMismatch, key, shape)
}

// read returns the raw values of an array as float32 along with its shape
// and storage order.
func (a *NPZReader) read(key string) ([]float32, []int, bool, error) {
	name, ok := a.names[key]
	if !ok {
		return nil, nil, false, fmt.Errorf("archive: no array %q", key)
	}
	hdr := a.r.Header(name)
	if hdr == nil {
		return nil, nil, false, fmt.Errorf("archive: no header for %q", key)
	}

	var data []float32
	switch strings.TrimLeft(hdr.Descr.Type, "<|=") {
	case "f4":
		if err := a.r.Read(name, &data); err != nil {
			return nil, nil, false, fmt.Errorf("archive: read %q: %w", key, err)
		}
	case "f8":
		var wide []float64
		if err := a.r.Read(name, &wide); err != nil {
			return nil, nil, false, fmt.Errorf("archive: read %q: %w", key, err)
		}
		data = make([]float32, len(wide))
		for i, v := range wide {
			data[i] = float32(v)
		}
	default:
		return nil, nil, false, fmt.Errorf("archive: %q has unsupported dtype %s", key, hdr.Descr.Type)
	}
	return data, hdr.Descr.Shape, hdr.Descr.Fortran, nil
}

func (a *NPZReader) Close() error {
	return a.r.Close()
}

func fromColumnMajor(data []float32, rows, cols int) []float32 {
	out := make([]float32, len(data))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r*cols+c] = data[c*rows+r]
		}
	}
	return out
}

// NPZWriter writes NumPy .npz archives readable with np.load.
type NPZWriter struct {
	f *os.File
	w *npz.Writer
}

func CreateNPZ(path string) (*NPZWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", path, err)
	}
	return &NPZWriter{f: f, w: npz.NewWriter(f)}, nil
}

// WriteMatrix stores m as a 2D array. Values are widened to float64 on the
// way through gonum.
func (a *NPZWriter) WriteMatrix(key string, m domain.Matrix) error {
	wide := make([]float64, len(m.Data))
	for i, v := range m.Data {
		wide[i] = float64(v)
	}
	if err := a.w.Write(key+npyExt, mat.NewDense(m.Rows, m.Cols, wide)); err != nil {
		return fmt.Errorf("archive: write %q: %w", key, err)
	}
	return nil
}

func (a *NPZWriter) WriteVector(key string, v []float32) error {
	if err := a.w.Write(key+npyExt, v); err != nil {
		return fmt.Errorf("archive: write %q: %w", key, err)
	}
	return nil
}

func (a *NPZWriter) Close() error {
	err := a.w.Close()
	if cErr := a.f.Close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}
