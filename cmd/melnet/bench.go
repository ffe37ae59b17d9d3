package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-melnet-tts/internal/bench"
	"github.com/example/go-melnet-tts/internal/metrics"
)

func newBenchCmd() *cobra.Command {
	var (
		input     string
		runs      int
		format    string
		threshold time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark mel generation latency per frame",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return errors.New("--runs must be at least 1")
			}

			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
			}

			line, err := readText(input, cmd.InOrStdin())
			if err != nil {
				return err
			}

			m, err := loadModel(cfg)
			if err != nil {
				return err
			}

			gen := metrics.NewGeneration()
			results := make([]bench.RunResult, 0, runs)
			durations := make([]time.Duration, 0, runs)

			for i := range runs {
				start := time.Now()

				mel, err := sampleText(cmd.Context(), m, cfg, line, gen)
				if err != nil {
					return fmt.Errorf("run %d: %w", i+1, err)
				}

				d := time.Since(start)
				results = append(results, bench.RunResult{
					Index:    i,
					Cold:     i == 0,
					Duration: d,
					Frames:   int(mel.Dim(2)),
				})
				durations = append(durations, d)
			}

			stats := bench.ComputeStats(durations)

			if format == "json" {
				if err := bench.FormatJSON(results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			} else {
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			if err := gen.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				return err
			}

			return bench.CheckFrameThreshold(bench.MeanPerFrame(results), threshold)
		},
	}

	cmd.Flags().StringVar(&input, "text", "", "Text to synthesize for each run (if empty, read from stdin)")
	cmd.Flags().IntVar(&runs, "runs", 3, "Number of generation runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().DurationVar(&threshold, "max-frame-time", 0, "Fail if the mean time per frame exceeds this (0 = disabled)")

	return cmd
}
