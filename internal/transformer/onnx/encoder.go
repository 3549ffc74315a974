package onnx

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/comfforts/logger"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

type Encoder struct {
	cfg        domain.ONNXEncoderConfig
	sess       *ort.DynamicAdvancedSession
	inputNames []string
	pooledOut  bool // true if output rank == 2
	hiddenSize int  // H dimension
}

func NewEncoder(ctx context.Context, cfg domain.ONNXEncoderConfig) (*Encoder, error) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("missing ModelPath")
	}
	if cfg.InputNameX == "" || cfg.OutputName == "" {
		return nil, fmt.Errorf("missing input or output name")
	}

	// Initialize global ORT env once per process.
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init ORT env: %w", err)
		}
	}

	// Discover output shape to pre-size output tensors later.
	infosIn, infosOut, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("GetInputOutputInfo: %w", err)
	}
	for _, i := range infosIn {
		l.Debug("model input", "name", i.Name, "type", i.DataType, "dims", i.Dimensions)
	}

	var outInfo *ort.InputOutputInfo
	for i := range infosOut {
		l.Debug("model output", "name", infosOut[i].Name, "type", infosOut[i].DataType, "dims", infosOut[i].Dimensions)
		if infosOut[i].Name == cfg.OutputName {
			outInfo = &infosOut[i]
			break
		}
	}
	if outInfo == nil {
		return nil, fmt.Errorf("output %q not found in model", cfg.OutputName)
	}

	H, pooled, err := hiddenDim(outInfo.Dimensions)
	if err != nil {
		return nil, err
	}

	inputNames := []string{cfg.InputNameX}
	if cfg.InputNameLengths != "" {
		inputNames = append(inputNames, cfg.InputNameLengths)
	}

	sess, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		inputNames,
		[]string{cfg.OutputName},
		nil, // no special SessionOptions
	)
	if err != nil {
		return nil, fmt.Errorf("NewDynamicAdvancedSession: %w", err)
	}

	l.Info("loaded model", "path", cfg.ModelPath, "inputs", inputNames, "output", cfg.OutputName, "dim", H)
	return &Encoder{
		cfg:        cfg,
		sess:       sess,
		inputNames: inputNames,
		pooledOut:  pooled,
		hiddenSize: H,
	}, nil
}

// hiddenDim resolves the embedding size from the output dims, [B, H] or
// [B, T, H]. pooled is true for rank 2.
func hiddenDim(outDims ort.Shape) (int, bool, error) {
	switch len(outDims) {
	case 2: // [B, H]
		if outDims[1] <= 0 {
			return 0, false, fmt.Errorf("can't resolve H from dims %v", outDims)
		}
		return int(outDims[1]), true, nil
	case 3: // [B, T, H]
		if outDims[2] <= 0 {
			return 0, false, fmt.Errorf("can't resolve H from dims %v", outDims)
		}
		return int(outDims[2]), false, nil
	default:
		return 0, false, fmt.Errorf("unexpected output rank %d (dims=%v), want 2 or 3", len(outDims), outDims)
	}
}

// Dimension is the size of the produced embeddings.
func (e *Encoder) Dimension() int {
	return e.hiddenSize
}

func (e *Encoder) Encode(ctx context.Context, in domain.EncoderInput) ([][]float32, error) {
	if e.sess == nil {
		return nil, fmt.Errorf("encoder not initialized")
	}
	B, H := in.BatchSize(), e.hiddenSize
	if B == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1) Inputs: x [B,T,D] or [B,D*T] float32, lengths [B] int32
	xTensor, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return nil, fmt.Errorf("%s tensor: %w", e.cfg.InputNameX, err)
	}
	defer xTensor.Destroy()
	inputs := []ort.Value{xTensor}

	if e.cfg.InputNameLengths != "" {
		if len(in.Lengths) != B {
			return nil, fmt.Errorf("%w: %d lengths for batch of %d", domain.ErrShapeMismatch, len(in.Lengths), B)
		}
		lenTensor, err := ort.NewTensor(ort.NewShape(int64(B)), in.Lengths)
		if err != nil {
			return nil, fmt.Errorf("%s tensor: %w", e.cfg.InputNameLengths, err)
		}
		defer lenTensor.Destroy()
		inputs = append(inputs, lenTensor)
	}

	// 2) Output tensor float32
	var T int
	var outTensor *ort.Tensor[float32]
	if e.pooledOut {
		outTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(B), int64(H))) // [B,H]
	} else {
		if len(in.Shape) != 3 {
			return nil, fmt.Errorf("%w: sequence output needs [B,T,D] input, got %v", domain.ErrShapeMismatch, in.Shape)
		}
		T = int(in.Shape[1])
		outTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(B), int64(T), int64(H))) // [B,T,H]
	}
	if err != nil {
		return nil, fmt.Errorf("alloc out tensor: %w", err)
	}
	defer outTensor.Destroy()

	// 3) Run
	if err := e.sess.Run(inputs, []ort.Value{outTensor}); err != nil {
		return nil, fmt.Errorf("ORT Run: %w", err)
	}

	// 4) Collect (+ masked pooling over time)
	data := outTensor.GetData() // []float32

	embs := make([][]float32, B)
	if e.pooledOut {
		for b := 0; b < B; b++ {
			row := make([]float32, H)
			copy(row, data[b*H:(b+1)*H])
			embs[b] = row
		}
	} else {
		strideBT := T * H
		for b := 0; b < B; b++ {
			length := T
			if in.Lengths != nil {
				length = int(in.Lengths[b])
			}
			start := b * strideBT
			embs[b] = MeanPool(data[start:start+strideBT], LengthMask(length, T), H)
		}
	}
	if e.cfg.Normalize {
		for _, row := range embs {
			L2Normalize(row)
		}
	}
	return embs, nil
}

func (e *Encoder) Close() error {
	var err error
	if e.sess != nil {
		err = e.sess.Destroy()
		e.sess = nil
	}
	if e.cfg.GlobalRuntime {
		return err
	}
	if eErr := ort.DestroyEnvironment(); eErr != nil {
		if err != nil {
			return errors.Join(err, eErr)
		}
		return eErr
	}
	return err
}

func L2Normalize(v []float32) {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	if s == 0 {
		return
	}
	n := float32(1.0 / math.Sqrt(s))
	for i := range v {
		v[i] *= n
	}
}
