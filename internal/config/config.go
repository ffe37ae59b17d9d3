package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Sample   SampleConfig  `mapstructure:"sample"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	LogLevel string        `mapstructure:"log_level"`
}

type PathsConfig struct {
	CheckpointPath string `mapstructure:"checkpoint_path"`
	// HParamsPath defaults to hparams.yaml next to the checkpoint when empty.
	HParamsPath string `mapstructure:"hparams_path"`
}

type RuntimeConfig struct {
	Workers int `mapstructure:"workers"`
}

type SampleConfig struct {
	MaxSteps        int     `mapstructure:"max_steps"`
	MinSteps        int     `mapstructure:"min_steps"`
	StopThreshold   float64 `mapstructure:"stop_threshold"`
	FramesAfterStop int     `mapstructure:"frames_after_stop"`
	MaxChunkChars   int     `mapstructure:"max_chunk_chars"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			CheckpointPath: "models/melnet.safetensors",
		},
		Runtime: RuntimeConfig{
			Workers: 4,
		},
		Sample: SampleConfig{
			MaxSteps:        400,
			MinSteps:        10,
			StopThreshold:   0.5,
			FramesAfterStop: 2,
			MaxChunkChars:   200,
		},
		LogLevel: "info",
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"paths-checkpoint-path":    "paths.checkpoint_path",
	"paths-hparams-path":       "paths.hparams_path",
	"runtime-workers":          "runtime.workers",
	"sample-max-steps":         "sample.max_steps",
	"sample-min-steps":         "sample.min_steps",
	"sample-stop-threshold":    "sample.stop_threshold",
	"sample-frames-after-stop": "sample.frames_after_stop",
	"sample-max-chunk-chars":   "sample.max_chunk_chars",
	"metrics-textfile":         "metrics.textfile",
	"log-level":                "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-checkpoint-path", defaults.Paths.CheckpointPath, "Path to the model checkpoint (.safetensors)")
	fs.String("paths-hparams-path", defaults.Paths.HParamsPath, "Path to hparams.yaml (default: next to the checkpoint)")
	fs.Int("runtime-workers", defaults.Runtime.Workers, "Worker goroutines for tensor kernels")
	fs.Int("sample-max-steps", defaults.Sample.MaxSteps, "Maximum frames generated per utterance")
	fs.Int("sample-min-steps", defaults.Sample.MinSteps, "Frames generated before termination may stop sampling")
	fs.Float64("sample-stop-threshold", defaults.Sample.StopThreshold, "Termination signal that ends sampling (<= 0 disables)")
	fs.Int("sample-frames-after-stop", defaults.Sample.FramesAfterStop, "Extra frames generated after termination")
	fs.Int("sample-max-chunk-chars", defaults.Sample.MaxChunkChars, "Split long text into sentence chunks of at most this many characters (0 disables)")
	fs.String("metrics-textfile", defaults.Metrics.Textfile, "Write Prometheus metrics to this textfile after a run")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("MELNET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("melnet")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindFlags binds each known flag to its nested config key so that only flags
// set on the command line override file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.checkpoint_path", c.Paths.CheckpointPath)
	v.SetDefault("paths.hparams_path", c.Paths.HParamsPath)
	v.SetDefault("runtime.workers", c.Runtime.Workers)
	v.SetDefault("sample.max_steps", c.Sample.MaxSteps)
	v.SetDefault("sample.min_steps", c.Sample.MinSteps)
	v.SetDefault("sample.stop_threshold", c.Sample.StopThreshold)
	v.SetDefault("sample.frames_after_stop", c.Sample.FramesAfterStop)
	v.SetDefault("sample.max_chunk_chars", c.Sample.MaxChunkChars)
	v.SetDefault("metrics.textfile", c.Metrics.Textfile)
	v.SetDefault("log_level", c.LogLevel)
}

func (c Config) Validate() error {
	if c.Runtime.Workers < 1 {
		return fmt.Errorf("runtime.workers must be >= 1, got %d", c.Runtime.Workers)
	}

	if c.Sample.MaxSteps < 1 {
		return fmt.Errorf("sample.max_steps must be >= 1, got %d", c.Sample.MaxSteps)
	}

	if c.Sample.MinSteps < 0 || c.Sample.FramesAfterStop < 0 || c.Sample.MaxChunkChars < 0 {
		return errors.New("sample.min_steps, sample.frames_after_stop and sample.max_chunk_chars must be >= 0")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}
