// Package config reads the model hyperparameters stored alongside a
// checkpoint.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// OptionsFile is the name of the hyperparameter file in a model directory.
const OptionsFile = "options_dict.yaml"

// ModelDir returns the directory holding the model at modelPath, which may
// be the model file itself or its directory.
func ModelDir(modelPath string) string {
	if fi, err := os.Stat(modelPath); err == nil && fi.IsDir() {
		return modelPath
	}
	return filepath.Dir(modelPath)
}

// LoadModelOptions reads and validates the options of the model at
// modelPath.
func LoadModelOptions(modelPath string) (domain.ModelOptions, error) {
	path := filepath.Join(ModelDir(modelPath), OptionsFile)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ModelOptions{}, fmt.Errorf("%w: %s not found", domain.ErrMissingConfig, path)
		}
		return domain.ModelOptions{}, err
	}
	defer f.Close()

	var opts domain.ModelOptions
	if err := yaml.NewDecoder(f).Decode(&opts); err != nil {
		return domain.ModelOptions{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return domain.ModelOptions{}, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// SaveModelOptions writes opts into dir.
func SaveModelOptions(dir string, opts domain.ModelOptions) error {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, OptionsFile), data, 0o644)
}
