// Command apply_model encodes the utterances of a feature archive with a
// trained acoustic embedding model.
//
//	apply_model models/cae/model.onnx data/val.npz
//
// The embeddings are written next to the model as <model stem>.<archive>,
// e.g. models/cae/model.val.npz. Hyperparameters are read from
// options_dict.yaml in the model directory.
package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/comfforts/logger"
	"github.com/spf13/cobra"

	emb "github.com/hankgalt/acoustic-embeddings"
	"github.com/hankgalt/acoustic-embeddings/internal/config"
	"github.com/hankgalt/acoustic-embeddings/internal/dataio"
	"github.com/hankgalt/acoustic-embeddings/internal/store"
)

type flags struct {
	minLength        int
	maxTypes         int
	maxTokens        int
	minTokensPerType int
	maxTokensPerType int
	batchSize        int
	normalize        bool
	output           string
	storeDir         string
}

func main() {
	l := logger.GetSlogLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithLogger(ctx, l)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		l.Error("apply_model failed", "error", err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "apply_model <model_fn> <npz_fn>",
		Short:         "Encode the given feature archive using the specified model",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1], f)
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&f.minLength, "min-length", 0, "drop sequences with this many frames or fewer")
	fs.IntVar(&f.maxTypes, "max-types", 0, "keep only the most frequent labels")
	fs.IntVar(&f.maxTokens, "max-tokens", 0, "keep a fixed random sample of utterances")
	fs.IntVar(&f.minTokensPerType, "min-tokens-per-type", 0, "drop labels with fewer utterances")
	fs.IntVar(&f.maxTokensPerType, "max-tokens-per-type", 0, "cap the utterances per label")
	fs.IntVar(&f.batchSize, "batch-size", 0, "rows per forward pass (0: all in one batch)")
	fs.BoolVar(&f.normalize, "normalize", false, "L2 normalize the embeddings")
	fs.StringVarP(&f.output, "output", "o", "", "output archive (.npz or .msgz); default next to the model")
	fs.StringVar(&f.storeDir, "store", "", "also store the embeddings in this badger directory")
	return cmd
}

func run(ctx context.Context, modelPath, archivePath string, f flags) error {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	opts, err := config.LoadModelOptions(modelPath)
	if err != nil {
		return err
	}
	l.Info("read model options", "script", opts.Script, "max-length", opts.MaxLength)

	encoder, err := emb.NewONNXAcousticEncoder(ctx, emb.EncoderConfig(modelPath, opts, f.normalize))
	if err != nil {
		return err
	}
	defer encoder.Close(ctx)

	embeds, err := emb.Apply(ctx, emb.ApplyConfig{
		ArchivePath: archivePath,
		Options:     opts,
		MinLength:   f.minLength,
		Filter: dataio.FilterOptions{
			MaxTypes:         f.maxTypes,
			MaxTokens:        f.maxTokens,
			MinTokensPerType: f.minTokensPerType,
			MaxTokensPerType: f.maxTokensPerType,
		},
		BatchSize: f.batchSize,
	}, encoder)
	if err != nil {
		return err
	}

	out := f.output
	if out == "" {
		out = emb.OutputPath(modelPath, archivePath)
	}
	if err := emb.SaveEmbeddings(ctx, out, embeds); err != nil {
		return err
	}

	if f.storeDir != "" {
		s, err := store.Open(store.Options{Dir: f.storeDir})
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Put(ctx, modelName(modelPath), embeds); err != nil {
			return err
		}
	}
	return nil
}

// modelName identifies a model in the store by its file stem.
func modelName(modelPath string) string {
	base := filepath.Base(modelPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
