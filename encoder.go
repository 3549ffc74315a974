package embeddings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/comfforts/logger"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/hankgalt/acoustic-embeddings/internal/config"
	"github.com/hankgalt/acoustic-embeddings/internal/transformer/onnx"
	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// Default tensor names of exported acoustic embedding models.
const (
	DefaultInputName   = "x"
	DefaultLengthsName = "x_lengths"
	DefaultOutputName  = "encoding"

	modelFile = "model.onnx"
)

// AcousticEncoder maps one prepared batch to one embedding per row.
type AcousticEncoder interface {
	Encode(ctx context.Context, in domain.EncoderInput) ([][]float32, error)
	Close(ctx context.Context) error
}

type onnxAcousticEncoder struct {
	encoder *onnx.Encoder
}

func NewONNXAcousticEncoder(ctx context.Context, cfg domain.ONNXEncoderConfig) (*onnxAcousticEncoder, error) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
	} else {
		l.Error("NewONNXAcousticEncoder - missing path to onnxruntime")
		return nil, errors.New("missing path to onnxruntime")
	}

	cfg.ModelPath = ResolveModelFile(cfg.ModelPath)
	enc, err := onnx.NewEncoder(ctx, cfg)
	if err != nil {
		l.Error("NewONNXAcousticEncoder - error loading encoder", "error", err.Error())
		return nil, err
	}

	return &onnxAcousticEncoder{
		encoder: enc,
	}, nil
}

func (o *onnxAcousticEncoder) Encode(ctx context.Context, in domain.EncoderInput) ([][]float32, error) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	if o.encoder == nil {
		l.Error("onnxAcousticEncoder:Encode - nil encoder")
		return nil, errors.New("nil encoder")
	}

	return o.encoder.Encode(ctx, in)
}

func (o *onnxAcousticEncoder) Close(ctx context.Context) error {
	if o.encoder != nil {
		return o.encoder.Close()
	}
	return nil
}

// ResolveModelFile returns the .onnx file for a model path: the path itself
// when it names an .onnx file, otherwise model.onnx in the model directory.
func ResolveModelFile(modelPath string) string {
	if strings.EqualFold(filepath.Ext(modelPath), ".onnx") {
		return modelPath
	}
	return filepath.Join(config.ModelDir(modelPath), modelFile)
}

// EncoderConfig derives the ONNX tensor names for a model from its options.
// Non-recurrent models take no lengths input.
func EncoderConfig(modelPath string, opts domain.ModelOptions, normalize bool) domain.ONNXEncoderConfig {
	cfg := domain.ONNXEncoderConfig{
		ModelPath:  modelPath,
		InputNameX: firstNonEmpty(opts.InputName, DefaultInputName),
		OutputName: firstNonEmpty(opts.OutputName, DefaultOutputName),
		Normalize:  normalize,
	}
	if opts.Recurrent() {
		cfg.InputNameLengths = firstNonEmpty(opts.LengthsName, DefaultLengthsName)
	}
	return cfg
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
