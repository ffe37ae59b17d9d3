package melnet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/go-melnet-tts/internal/text"
)

// HParamsFile is the sidecar name written next to a checkpoint.
const HParamsFile = "hparams.yaml"

// HParams are the model hyperparameters.
type HParams struct {
	Hidden       int `yaml:"hidden"`
	GMM          int `yaml:"gmm"`           // output mixture components K
	AttentionGMM int `yaml:"attention_gmm"` // attention mixture components M
	Layers       int `yaml:"layers"`
	NMels        int `yaml:"n_mels"`
	NSymbols     int `yaml:"n_symbols"`
}

func DefaultHParams() HParams {
	return HParams{
		Hidden:       256,
		GMM:          10,
		AttentionGMM: 10,
		Layers:       4,
		NMels:        80,
		NSymbols:     text.NumSymbols(),
	}
}

func (hp HParams) Validate() error {
	var errs []error

	if hp.Hidden <= 0 || hp.Hidden%2 != 0 {
		errs = append(errs, fmt.Errorf("hidden must be a positive even number, got %d", hp.Hidden))
	}

	if hp.GMM <= 0 {
		errs = append(errs, fmt.Errorf("gmm must be > 0, got %d", hp.GMM))
	}

	if hp.AttentionGMM <= 0 {
		errs = append(errs, fmt.Errorf("attention_gmm must be > 0, got %d", hp.AttentionGMM))
	}

	if hp.Layers <= 0 {
		errs = append(errs, fmt.Errorf("layers must be > 0, got %d", hp.Layers))
	}

	if hp.NMels <= 0 {
		errs = append(errs, fmt.Errorf("n_mels must be > 0, got %d", hp.NMels))
	}

	if hp.NSymbols <= 0 {
		errs = append(errs, fmt.Errorf("n_symbols must be > 0, got %d", hp.NSymbols))
	}

	if len(errs) > 0 {
		return fmt.Errorf("melnet: invalid hparams: %w", errors.Join(errs...))
	}

	return nil
}

// AttentionLayer is the index of the layer conditioned on attention.
func (hp HParams) AttentionLayer() int { return hp.Layers / 2 }

// LoadHParams reads a YAML file. Missing keys keep their defaults.
func LoadHParams(path string) (HParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return HParams{}, fmt.Errorf("melnet: read hparams: %w", err)
	}

	hp, err := ParseHParams(raw)
	if err != nil {
		return HParams{}, fmt.Errorf("%s: %w", path, err)
	}

	return hp, nil
}

// ParseHParams decodes YAML hyperparameters over the defaults.
func ParseHParams(raw []byte) (HParams, error) {
	hp := DefaultHParams()

	if err := yaml.Unmarshal(raw, &hp); err != nil {
		return HParams{}, fmt.Errorf("melnet: parse hparams: %w", err)
	}

	if err := hp.Validate(); err != nil {
		return HParams{}, err
	}

	return hp, nil
}

func (hp HParams) Save(path string) error {
	raw, err := yaml.Marshal(hp)
	if err != nil {
		return fmt.Errorf("melnet: encode hparams: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("melnet: write hparams: %w", err)
	}

	return nil
}

// HParamsPath returns the sidecar path for a checkpoint.
func HParamsPath(checkpoint string) string {
	return filepath.Join(filepath.Dir(checkpoint), HParamsFile)
}

// metadata renders hyperparameters as checkpoint metadata. Invalid
// hyperparameters are rejected so a checkpoint never embeds values it cannot
// be loaded with.
func (hp HParams) metadata() (map[string]string, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}

	raw, err := yaml.Marshal(hp)
	if err != nil {
		return nil, fmt.Errorf("melnet: encode hparams: %w", err)
	}

	return map[string]string{"format": "melnet", "hparams": strings.TrimSpace(string(raw))}, nil
}
