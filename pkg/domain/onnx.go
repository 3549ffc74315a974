package domain

type ONNXEncoderConfig struct {
	// path to model.onnx, or the directory containing it
	ModelPath string
	// e.g. "x"
	InputNameX string
	// e.g. "x_lengths"; empty for models without a lengths input (cnn)
	InputNameLengths string
	// e.g. "encoding"
	OutputName string
	// if true, L2 normalize each embedding
	Normalize bool
	// if true, this instance will skip shutting down the ONNX runtime on close
	// This is useful if multiple encoders are used in the same process.
	GlobalRuntime bool
}

// EncoderInput is one fully prepared batch handed to the model.
//
// Shape is [B, T, D] for recurrent models and [B, D*T] for flattened input.
// Lengths holds the real (unpadded) length of every row; nil when the model
// takes no lengths input.
type EncoderInput struct {
	Data    []float32
	Shape   []int64
	Lengths []int32
}

// BatchSize returns the leading dimension of the input.
func (in EncoderInput) BatchSize() int {
	if len(in.Shape) == 0 {
		return 0
	}
	return int(in.Shape[0])
}
