package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-melnet-tts/internal/config"
	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/metrics"
	"github.com/example/go-melnet-tts/internal/runtime/tensor"
	"github.com/example/go-melnet-tts/internal/safetensors"
	"github.com/example/go-melnet-tts/internal/synth"
	"github.com/example/go-melnet-tts/internal/text"
)

func newSampleCmd() *cobra.Command {
	var (
		input string
		out   string
		dtype string
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate a mel spectrogram from text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
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

			mel, err := sampleText(cmd.Context(), m, cfg, line, gen)
			if err != nil {
				return err
			}

			if err := safetensors.WriteMel(out, mel.Data(), mel.Shape(), safetensors.EncodeOptions{
				DType:    dtype,
				Metadata: map[string]string{"text": line, "run_id": runID},
			}); err != nil {
				return err
			}

			if err := gen.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s %v\n", out, mel.Shape())

			return nil
		},
	}

	cmd.Flags().StringVar(&input, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.mel.safetensors", "Output mel safetensors path")
	cmd.Flags().StringVar(&dtype, "dtype", safetensors.DTypeF32, "Stored dtype (F32|F16|BF16)")

	return cmd
}

// sampleText generates each sentence chunk in turn and joins the frames
// along time into [1, n_mels, T].
func sampleText(ctx context.Context, m *melnet.Model, cfg config.Config, line string, gen *metrics.Generation) (*tensor.Tensor, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	chunks := text.SplitSentences(line, cfg.Sample.MaxChunkChars)
	parts := make([]*tensor.Tensor, 0, len(chunks))
	start := time.Now()
	total := 0

	for i, chunk := range chunks {
		ids, err := text.Encode(chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}

		batch, lengths := text.PadBatch([][]int{ids})

		s, err := m.NewSampler(batch, lengths, cfg.Sample.MaxSteps)
		if err != nil {
			return nil, err
		}

		res, err := synth.Generate(ctx, s, synth.Policy{
			MinSteps:        cfg.Sample.MinSteps,
			StopThreshold:   cfg.Sample.StopThreshold,
			FramesAfterStop: cfg.Sample.FramesAfterStop,
			Metrics:         gen,
		})
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}

		slog.Debug("chunk generated", "chunk", i, "symbols", len(ids), "frames", res.Steps, "reason", res.Reason)

		parts = append(parts, res.Frames)
		total += res.Steps
	}

	mel, err := tensor.Concat(parts, 2)
	if err != nil {
		return nil, err
	}

	slog.Info("sampling complete", "chunks", len(chunks), "frames", total, "ms", time.Since(start).Milliseconds())

	return mel, nil
}
