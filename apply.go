package embeddings

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/comfforts/logger"

	"github.com/hankgalt/acoustic-embeddings/internal/archive"
	"github.com/hankgalt/acoustic-embeddings/internal/batching"
	"github.com/hankgalt/acoustic-embeddings/internal/dataio"
	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// ApplyConfig describes one embedding pass over an archive.
type ApplyConfig struct {
	// ArchivePath is the .npz or .msgz archive of feature sequences.
	ArchivePath string
	// Options are the hyperparameters of the model.
	Options domain.ModelOptions
	// MinLength drops sequences with this many frames or fewer. Zero or
	// less keeps everything.
	MinLength int
	// Filter resamples the dataset before embedding.
	Filter dataio.FilterOptions
	// BatchSize is the number of rows per forward pass. Zero or less embeds
	// the whole dataset in a single batch.
	BatchSize int
}

// Apply embeds every utterance of the archive and returns the embeddings
// keyed by utterance key.
func Apply(ctx context.Context, cfg ApplyConfig, enc AcousticEncoder) (map[string][]float32, error) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}

	var loadOpts []dataio.LoadOption
	if cfg.MinLength > 0 {
		loadOpts = append(loadOpts, dataio.WithMinLength(cfg.MinLength))
	}
	ds, err := dataio.Load(ctx, cfg.ArchivePath, loadOpts...)
	if err != nil {
		return nil, err
	}
	if len(dataio.Stages(cfg.Filter)) > 0 {
		if ds, _, err = dataio.Filter(ctx, ds, cfg.Filter); err != nil {
			return nil, err
		}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(ds)
	}

	var z [][]float32
	var indices []int
	if cfg.Options.Recurrent() {
		z, indices, err = embedSequences(ctx, ds, cfg.Options, batchSize, enc)
	} else {
		z, indices, err = embedFlattened(ctx, ds, cfg.Options, batchSize, enc)
	}
	if err != nil {
		l.Error("Apply - error embedding dataset", "archive", cfg.ArchivePath, "error", err.Error())
		return nil, err
	}
	if len(z) != len(indices) {
		return nil, fmt.Errorf("%w: %d embeddings for %d rows", domain.ErrRowCount, len(z), len(indices))
	}

	keys := ds.Keys()
	out := make(map[string][]float32, len(z))
	for row, orig := range indices {
		out[keys[orig]] = z[row]
	}
	l.Info("embedded dataset", "archive", cfg.ArchivePath, "embeddings", len(out))
	return out, nil
}

// embedSequences feeds truncated, batch-padded sequences with their lengths
// to a recurrent model.
func embedSequences(ctx context.Context, ds dataio.Dataset, opts domain.ModelOptions, batchSize int, enc AcousticEncoder) ([][]float32, []int, error) {
	dataio.Truncate(ds, opts.NInput, opts.MaxLength)

	it, err := batching.NewDatasetIterator(ds, batchSize, batching.WithKeepRemainder())
	if err != nil {
		return nil, nil, err
	}

	var z [][]float32
	for b, err := range it.All() {
		if err != nil {
			return nil, nil, err
		}
		p := b.Padded
		if p.D != opts.NInput {
			return nil, nil, fmt.Errorf("%w: %d features, model takes %d", domain.ErrShapeMismatch, p.D, opts.NInput)
		}
		lengths := make([]int32, p.N)
		for i, n := range p.Lengths {
			lengths[i] = int32(n)
		}
		rows, err := encode(ctx, enc, domain.EncoderInput{
			Data:    p.Data,
			Shape:   []int64{int64(p.N), int64(p.T), int64(p.D)},
			Lengths: lengths,
		})
		if err != nil {
			return nil, nil, err
		}
		z = append(z, rows...)
	}
	return z, it.Indices(), nil
}

// embedFlattened center-pads every sequence to the model length and feeds
// the flattened rows to a non-recurrent model.
func embedFlattened(ctx context.Context, ds dataio.Dataset, opts domain.ModelOptions, batchSize int, enc AcousticEncoder) ([][]float32, []int, error) {
	padded, err := dataio.PadDataset(ds, opts.MaxLength, true, false)
	if err != nil {
		return nil, nil, err
	}
	x := dataio.Flatten(padded)
	if d := padded.D * padded.T; d != opts.DIn {
		return nil, nil, fmt.Errorf("%w: %d flattened features, model takes %d", domain.ErrShapeMismatch, d, opts.DIn)
	}

	it, err := batching.NewLabelledIterator(x, ds.Labels(), batchSize, batching.WithKeepRemainder())
	if err != nil {
		return nil, nil, err
	}

	var z [][]float32
	for {
		b, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		data := make([]float32, 0, len(b.X)*opts.DIn)
		for _, row := range b.X {
			data = append(data, row...)
		}
		rows, err := encode(ctx, enc, domain.EncoderInput{
			Data:  data,
			Shape: []int64{int64(len(b.X)), int64(opts.DIn)},
		})
		if err != nil {
			return nil, nil, err
		}
		z = append(z, rows...)
	}
	return z, it.Indices(), nil
}

func encode(ctx context.Context, enc AcousticEncoder, in domain.EncoderInput) ([][]float32, error) {
	rows, err := enc.Encode(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(rows) != in.BatchSize() {
		return nil, fmt.Errorf("%w: %d embeddings for batch of %d", domain.ErrRowCount, len(rows), in.BatchSize())
	}
	return rows, nil
}

// OutputPath is where the embeddings of archivePath computed with the model
// at modelPath are written: next to the model, named
// <model stem>.<archive file name>.
func OutputPath(modelPath, archivePath string) string {
	dir, base := filepath.Split(modelPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"."+filepath.Base(archivePath))
}

// SaveEmbeddings writes embeds to the archive at path. The archive is built
// under a temporary name and renamed into place, so a failed write leaves
// no output behind.
func SaveEmbeddings(ctx context.Context, path string, embeds map[string][]float32) error {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	dir, base := filepath.Split(path)
	tmp := filepath.Join(dir, ".tmp-"+base)
	if err := writeEmbeddings(tmp, embeds); err != nil {
		os.Remove(tmp)
		l.Error("SaveEmbeddings - error writing archive", "path", path, "error", err.Error())
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	l.Info("wrote embeddings", "path", path, "embeddings", len(embeds))
	return nil
}

func writeEmbeddings(path string, embeds map[string][]float32) error {
	w, err := archive.Create(path)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(embeds))
	for k := range embeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteVector(k, embeds[k]); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
