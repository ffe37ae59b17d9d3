package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/safetensors"
)

func newInitCmd() *cobra.Command {
	var (
		out   string
		seed  int64
		dtype string
		hp    = melnet.DefaultHParams()
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a randomly initialised checkpoint and its hparams.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if out == "" {
				out = cfg.Paths.CheckpointPath
			}

			dtype = strings.ToUpper(strings.TrimSpace(dtype))
			switch dtype {
			case safetensors.DTypeF32, safetensors.DTypeF16, safetensors.DTypeBF16:
			default:
				return fmt.Errorf("unsupported --dtype %q (want F32|F16|BF16)", dtype)
			}

			_, vars, err := melnet.New(hp, seed)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			if err := melnet.SaveCheckpoint(out, vars, hp, dtype); err != nil {
				return err
			}

			hpOut := melnet.HParamsPath(out)
			if err := hp.Save(hpOut); err != nil {
				return err
			}

			slog.Info("checkpoint initialised", "path", out, "hparams", hpOut, "tensors", len(vars.Names()), "seed", seed, "dtype", dtype)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d tensors) and %s\n", out, len(vars.Names()), hpOut)

			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Checkpoint path (default: paths.checkpoint_path)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed for parameter initialisation")
	cmd.Flags().StringVar(&dtype, "dtype", safetensors.DTypeF32, "Stored dtype (F32|F16|BF16)")
	cmd.Flags().IntVar(&hp.Hidden, "hidden", hp.Hidden, "Hidden size (even)")
	cmd.Flags().IntVar(&hp.Layers, "layers", hp.Layers, "Number of delayed RNN layers")
	cmd.Flags().IntVar(&hp.GMM, "gmm", hp.GMM, "Output mixture components")
	cmd.Flags().IntVar(&hp.AttentionGMM, "attention-gmm", hp.AttentionGMM, "Attention mixture components")
	cmd.Flags().IntVar(&hp.NMels, "n-mels", hp.NMels, "Mel bins")

	return cmd
}
