package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/go-melnet-tts/internal/config"
	"github.com/example/go-melnet-tts/internal/doctor"
	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/safetensors"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configured checkpoint, hyperparameters and output paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			result := doctor.Run(doctorChecks(cfg), cmd.OutOrStdout())
			if result.Failed() {
				return fmt.Errorf("doctor: %d check(s) failed", len(result.Failures()))
			}

			return nil
		},
	}
}

// doctorChecks builds the preflight checks; later checks reuse what earlier
// ones resolved.
func doctorChecks(cfg config.Config) []doctor.Check {
	var hp melnet.HParams

	checks := []doctor.Check{
		{
			Name: "checkpoint",
			Run: func() (string, error) {
				store, err := safetensors.OpenStore(cfg.Paths.CheckpointPath, safetensors.StoreOptions{})
				if err != nil {
					return "", err
				}
				defer store.Close()

				return fmt.Sprintf("%s (%d tensors)", cfg.Paths.CheckpointPath, len(store.Names())), nil
			},
		},
		{
			Name:     "hparams",
			Requires: "checkpoint",
			Run: func() (string, error) {
				path := hparamsPath(cfg)
				source := path

				var err error

				hp, err = melnet.LoadHParams(path)
				if errors.Is(err, fs.ErrNotExist) {
					source = "checkpoint metadata"
					hp, err = embeddedHParams(cfg.Paths.CheckpointPath)
				}

				if err != nil {
					return "", err
				}

				return fmt.Sprintf("%s (hidden=%d layers=%d n_mels=%d)", source, hp.Hidden, hp.Layers, hp.NMels), nil
			},
		},
		{
			Name:     "model",
			Requires: "hparams",
			Run: func() (string, error) {
				if _, err := melnet.LoadCheckpoint(cfg.Paths.CheckpointPath, hp); err != nil {
					return "", err
				}

				return fmt.Sprintf("attention layer %d of %d", hp.AttentionLayer(), hp.Layers), nil
			},
		},
	}

	textfile := doctor.Check{Name: "metrics textfile"}
	if cfg.Metrics.Textfile != "" {
		textfile.Run = func() (string, error) {
			dir := filepath.Dir(cfg.Metrics.Textfile)

			info, err := os.Stat(dir)
			if err != nil {
				return "", err
			}

			if !info.IsDir() {
				return "", fmt.Errorf("%s is not a directory", dir)
			}

			return cfg.Metrics.Textfile, nil
		}
	}

	return append(checks, textfile)
}
