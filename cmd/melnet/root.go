package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/go-melnet-tts/internal/config"
	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/runtime/tensor"
	"github.com/example/go-melnet-tts/internal/safetensors"
)

var (
	cfgFile   string
	activeCfg config.Config
	runID     string
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "melnet",
		Short:         "Text-conditioned mel spectrogram generation with GMM attention",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}

			activeCfg = loaded
			runID = uuid.NewString()

			setupLogger(loaded.LogLevel, cmd.ErrOrStderr())
			tensor.SetWorkers(loaded.Runtime.Workers)

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newAlignCmd())
	cmd.AddCommand(newSampleCmd())
	cmd.AddCommand(newSymbolsCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger. Every record
// carries the run id.
func setupLogger(levelStr string, w io.Writer) {
	lvl, err := config.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}

	if w == nil {
		w = os.Stderr
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})

	logger := slog.New(h)
	if runID != "" {
		logger = logger.With("run_id", runID)
	}

	slog.SetDefault(logger)
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.CheckpointPath == "" {
		return config.Config{}, errors.New("configuration not loaded")
	}

	return activeCfg, nil
}

// hparamsPath resolves the hyperparameter file for the configured checkpoint.
func hparamsPath(cfg config.Config) string {
	if cfg.Paths.HParamsPath != "" {
		return cfg.Paths.HParamsPath
	}

	return melnet.HParamsPath(cfg.Paths.CheckpointPath)
}

// loadModel loads the configured checkpoint. Without an hparams file the
// hyperparameters embedded in the checkpoint metadata are used.
func loadModel(cfg config.Config) (*melnet.Model, error) {
	hp, err := melnet.LoadHParams(hparamsPath(cfg))
	if errors.Is(err, fs.ErrNotExist) {
		hp, err = embeddedHParams(cfg.Paths.CheckpointPath)
	}

	if err != nil {
		return nil, err
	}

	m, err := melnet.LoadCheckpoint(cfg.Paths.CheckpointPath, hp)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", cfg.Paths.CheckpointPath, err)
	}

	slog.Debug("model loaded", "checkpoint", cfg.Paths.CheckpointPath, "hidden", hp.Hidden, "layers", hp.Layers, "n_mels", hp.NMels)

	return m, nil
}

func embeddedHParams(path string) (melnet.HParams, error) {
	store, err := safetensors.OpenStore(path, safetensors.StoreOptions{})
	if err != nil {
		return melnet.HParams{}, err
	}
	defer store.Close()

	hp, err := hparamsFromMetadata(store)
	if err != nil {
		return melnet.HParams{}, fmt.Errorf("%s: %w", path, err)
	}

	return hp, nil
}

// readText returns text, or stdin when text is blank.
func readText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", errors.New("either provide --text or pipe text on stdin")
	}

	return input, nil
}
