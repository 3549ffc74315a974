package embeddings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/comfforts/logger"
	"github.com/stretchr/testify/require"

	"github.com/hankgalt/acoustic-embeddings/internal/archive"
	"github.com/hankgalt/acoustic-embeddings/internal/dataio"
	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// sumEncoder embeds each row as {sum of its values, its length}.
type sumEncoder struct {
	calls  int
	inputs []domain.EncoderInput
}

func (e *sumEncoder) Encode(_ context.Context, in domain.EncoderInput) ([][]float32, error) {
	e.calls++
	e.inputs = append(e.inputs, in)
	B := in.BatchSize()
	stride := len(in.Data) / B
	out := make([][]float32, B)
	for b := 0; b < B; b++ {
		var sum float32
		for _, v := range in.Data[b*stride : (b+1)*stride] {
			sum += v
		}
		var length float32
		if in.Lengths != nil {
			length = float32(in.Lengths[b])
		}
		out[b] = []float32{sum, length}
	}
	return out, nil
}

func (e *sumEncoder) Close(context.Context) error { return nil }

// shortEncoder drops the last embedding of every batch.
type shortEncoder struct{ sumEncoder }

func (e *shortEncoder) Encode(ctx context.Context, in domain.EncoderInput) ([][]float32, error) {
	out, err := e.sumEncoder.Encode(ctx, in)
	return out[:len(out)-1], err
}

func testContext() context.Context {
	return logger.WithLogger(context.Background(), logger.GetSlogLogger())
}

// utterances maps keys to their frame counts; every frame is [1, 1, 1].
var utterances = map[string]int{
	"yes_s01_0001":  2,
	"yes_s02_0001":  5,
	"no_s01_0001":   3,
	"no_s03_0002":   6,
	"stop_s02_0001": 1,
}

func writeArchive(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	w, err := archive.Create(path)
	require.NoError(t, err)
	for key, n := range utterances {
		data := make([]float32, n*3)
		for i := range data {
			data[i] = 1
		}
		require.NoError(t, w.WriteMatrix(key, domain.Matrix{Rows: n, Cols: 3, Data: data}))
	}
	require.NoError(t, w.Close())
	return path
}

func TestApplyRecurrent(t *testing.T) {
	for _, name := range []string{"val.npz", "val.msgz"} {
		t.Run(name, func(t *testing.T) {
			enc := &sumEncoder{}
			got, err := Apply(testContext(), ApplyConfig{
				ArchivePath: writeArchive(t, name),
				Options:     domain.ModelOptions{Script: "train_cae_rnn", NInput: 2, MaxLength: 4},
			}, enc)
			require.NoError(t, err)
			require.Equal(t, 1, enc.calls)
			require.Equal(t, []int64{5, 4, 2}, enc.inputs[0].Shape)

			require.Len(t, got, len(utterances))
			for key, n := range utterances {
				length := min(n, 4)
				// truncated to 4 frames of 2 features
				require.Equal(t, []float32{float32(length * 2), float32(length)}, got[key], key)
			}
		})
	}
}

func TestApplyRecurrentBatched(t *testing.T) {
	enc := &sumEncoder{}
	got, err := Apply(testContext(), ApplyConfig{
		ArchivePath: writeArchive(t, "val.npz"),
		Options:     domain.ModelOptions{Script: "train_cae_rnn", NInput: 3, MaxLength: 10},
		BatchSize:   2,
	}, enc)
	require.NoError(t, err)
	require.Equal(t, 3, enc.calls)
	require.Equal(t, int64(1), enc.inputs[2].Shape[0])
	for key, n := range utterances {
		require.Equal(t, []float32{float32(n * 3), float32(n)}, got[key], key)
	}
}

func TestApplyFlattened(t *testing.T) {
	enc := &sumEncoder{}
	got, err := Apply(testContext(), ApplyConfig{
		ArchivePath: writeArchive(t, "val.npz"),
		Options:     domain.ModelOptions{Script: "train_siamese_cnn", MaxLength: 4, DIn: 12},
	}, enc)
	require.NoError(t, err)
	require.Equal(t, 1, enc.calls)
	require.Equal(t, []int64{5, 12}, enc.inputs[0].Shape)
	require.Nil(t, enc.inputs[0].Lengths)
	for key, n := range utterances {
		// centered and cropped to 4 frames of 3 features
		require.Equal(t, []float32{float32(min(n, 4) * 3), 0}, got[key], key)
	}
}

func TestApplyFilteredAndMinLength(t *testing.T) {
	enc := &sumEncoder{}
	got, err := Apply(testContext(), ApplyConfig{
		ArchivePath: writeArchive(t, "val.npz"),
		Options:     domain.ModelOptions{Script: "rnn", NInput: 3, MaxLength: 10},
		MinLength:   2,
		Filter:      dataio.FilterOptions{MaxTokensPerType: 1},
	}, enc)
	require.NoError(t, err)
	// stop (1 frame) and yes_s01 (2 frames) are too short; one "no" is kept
	require.Len(t, got, 2)
	require.Contains(t, got, "yes_s02_0001")
	require.NotContains(t, got, "stop_s02_0001")
	for key, v := range got {
		n := utterances[key]
		require.Equal(t, []float32{float32(n * 3), float32(n)}, v, key)
	}
}

func TestApplyErrors(t *testing.T) {
	path := writeArchive(t, "val.npz")

	_, err := Apply(testContext(), ApplyConfig{
		ArchivePath: path,
		Options:     domain.ModelOptions{Script: "rnn", MaxLength: 10},
	}, &sumEncoder{})
	require.True(t, errors.Is(err, domain.ErrMissingConfig))

	_, err = Apply(testContext(), ApplyConfig{
		ArchivePath: path,
		Options:     domain.ModelOptions{Script: "rnn", NInput: 3, MaxLength: 10},
	}, &shortEncoder{})
	require.True(t, errors.Is(err, domain.ErrRowCount))

	_, err = Apply(testContext(), ApplyConfig{
		ArchivePath: path,
		Options:     domain.ModelOptions{Script: "rnn", NInput: 8, MaxLength: 10},
	}, &sumEncoder{})
	require.True(t, errors.Is(err, domain.ErrShapeMismatch))

	_, err = Apply(testContext(), ApplyConfig{
		ArchivePath: path,
		Options:     domain.ModelOptions{Script: "cnn", MaxLength: 4, DIn: 13},
	}, &sumEncoder{})
	require.True(t, errors.Is(err, domain.ErrShapeMismatch))

	_, err = Apply(testContext(), ApplyConfig{
		ArchivePath: path,
		Options:     domain.ModelOptions{Script: "rnn", NInput: 3, MaxLength: 10},
		Filter:      dataio.FilterOptions{MinTokensPerType: 10},
	}, &sumEncoder{})
	require.True(t, errors.Is(err, domain.ErrEmptyDataset))
}

func TestOutputPath(t *testing.T) {
	require.Equal(t,
		filepath.Join("models", "cae", "ae.best_val.val.npz"),
		OutputPath(filepath.Join("models", "cae", "ae.best_val.ckpt"), filepath.Join("data", "val.npz")))
	require.Equal(t,
		filepath.Join("models", "model.test.msgz"),
		OutputPath(filepath.Join("models", "model.onnx"), "test.msgz"))
}

func TestSaveEmbeddings(t *testing.T) {
	embeds := map[string][]float32{
		"yes_s01_0001": {0.1, 0.2},
		"no_s02_0001":  {0.3, 0.4},
	}
	for _, name := range []string{"out.npz", "out.msgz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, SaveEmbeddings(testContext(), path, embeds))

			r, err := archive.Open(path)
			require.NoError(t, err)
			defer r.Close()
			require.Equal(t, []string{"no_s02_0001", "yes_s01_0001"}, r.Keys())
			for key, want := range embeds {
				v, err := r.Vector(key)
				require.NoError(t, err)
				require.Equal(t, want, v)
			}
		})
	}

	bad := filepath.Join(t.TempDir(), "out.csv")
	require.Error(t, SaveEmbeddings(testContext(), bad, embeds))
	require.NoFileExists(t, bad)
}

func TestEncoderConfig(t *testing.T) {
	cfg := EncoderConfig("m/model.onnx", domain.ModelOptions{Script: "train_cae_rnn", OutputName: "z"}, true)
	require.Equal(t, "x", cfg.InputNameX)
	require.Equal(t, "x_lengths", cfg.InputNameLengths)
	require.Equal(t, "z", cfg.OutputName)
	require.True(t, cfg.Normalize)

	cfg = EncoderConfig("m/model.onnx", domain.ModelOptions{Script: "train_siamese_cnn"}, false)
	require.Empty(t, cfg.InputNameLengths)
	require.Equal(t, "encoding", cfg.OutputName)

	require.Equal(t, filepath.Join("m", "model.onnx"), ResolveModelFile(filepath.Join("m", "ae.best_val")))
	require.Equal(t, "m/other.ONNX", ResolveModelFile("m/other.ONNX"))
}
