package domain

import (
	"fmt"
	"strings"
)

// ModelOptions are the hyperparameters persisted next to a model checkpoint.
type ModelOptions struct {
	// architecture tag, e.g. "train_cae_rnn.py" or "train_siamese_cnn.py"
	Script string `yaml:"script"`
	// feature dimension fed to recurrent models
	NInput int `yaml:"n_input"`
	// maximum sequence length in frames
	MaxLength int `yaml:"max_length"`
	// flattened input dimension of non-recurrent models (features * frames)
	DIn int `yaml:"d_in"`

	InputName   string `yaml:"input_name,omitempty"`
	LengthsName string `yaml:"lengths_name,omitempty"`
	OutputName  string `yaml:"output_name,omitempty"`
}

// Recurrent reports whether the model consumes variable-length sequences.
// Any script tag naming a cnn is treated as a flattened, fixed-size model.
func (o ModelOptions) Recurrent() bool {
	return !strings.Contains(o.Script, "cnn")
}

// Validate checks that the options the embedding pass needs are present.
func (o ModelOptions) Validate() error {
	if o.Script == "" {
		return fmt.Errorf("%w: script", ErrMissingConfig)
	}
	if o.MaxLength <= 0 {
		return fmt.Errorf("%w: max_length", ErrMissingConfig)
	}
	if o.Recurrent() {
		if o.NInput <= 0 {
			return fmt.Errorf("%w: n_input", ErrMissingConfig)
		}
		return nil
	}
	if o.DIn <= 0 {
		return fmt.Errorf("%w: d_in", ErrMissingConfig)
	}
	return nil
}
