package archive

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

func TestArchiveFormats(t *testing.T) {
	for _, ext := range []string{ExtNPZ, ExtMsgz} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "feats"+ext)

			w, err := Create(path)
			require.NoError(t, err)
			m, err := domain.MatrixFromRows([][]float32{{1, 2, 3}, {4, 5, 6}})
			require.NoError(t, err)
			require.NoError(t, w.WriteMatrix("yes_s01_0001", m))
			require.NoError(t, w.WriteMatrix("no_s02_0001", domain.Matrix{Rows: 1, Cols: 3, Data: []float32{7, 8, 9}}))
			require.NoError(t, w.WriteVector("emb", []float32{0.5, -0.25}))
			require.NoError(t, w.Close())

			r, err := Open(path)
			require.NoError(t, err)
			defer r.Close()

			require.Equal(t, []string{"emb", "no_s02_0001", "yes_s01_0001"}, r.Keys())

			got, err := r.Matrix("yes_s01_0001")
			require.NoError(t, err)
			require.Equal(t, 2, got.Rows)
			require.Equal(t, 3, got.Cols)
			require.Equal(t, []float32{4, 5, 6}, got.Row(1))

			v, err := r.Vector("emb")
			require.NoError(t, err)
			require.Equal(t, []float32{0.5, -0.25}, v)

			_, err = r.Matrix("emb")
			require.True(t, errors.Is(err, domain.ErrShapeMismatch))

			_, err = r.Matrix("missing")
			require.Error(t, err)
		})
	}
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "feats.h5"))
	require.Error(t, err)
	_, err = Create(filepath.Join(t.TempDir(), "feats.txt"))
	require.Error(t, err)
	require.True(t, Supported("a/b/VAL.NPZ"))
	require.False(t, Supported("a/b/val"))
}

func TestFromColumnMajor(t *testing.T) {
	// 2x3 stored column-major: columns (1,4) (2,5) (3,6)
	got := fromColumnMajor([]float32{1, 4, 2, 5, 3, 6}, 2, 3)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, got)
}
