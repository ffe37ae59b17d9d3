package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/runtime/tensor"
	"github.com/example/go-melnet-tts/internal/safetensors"
	"github.com/example/go-melnet-tts/internal/text"
)

func newAlignCmd() *cobra.Command {
	var (
		input   string
		melPath string
		out     string
	)

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Compute the teacher-forced text alignment of a mel spectrogram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if melPath == "" {
				return fmt.Errorf("--mel is required")
			}

			line, err := readText(input, cmd.InOrStdin())
			if err != nil {
				return err
			}

			m, err := loadModel(cfg)
			if err != nil {
				return err
			}

			mel, err := safetensors.LoadMel(melPath)
			if err != nil {
				return err
			}

			res, err := alignMel(m, mel, line)
			if err != nil {
				return err
			}

			slog.Info("alignment computed", "frames", res.frames, "text_len", res.textLen, "mixtures", res.mixtures, "termination", res.termination)

			if out != "" {
				if err := safetensors.WriteFileWith(out, []safetensors.Tensor{
					{Name: "alignment", Shape: res.alignment.Shape(), Data: res.alignment.Data()},
				}, safetensors.EncodeOptions{Metadata: map[string]string{"text": line, "run_id": runID}}); err != nil {
					return err
				}
			}

			return printAlignment(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&input, "text", "", "Transcript (if empty, read from stdin)")
	cmd.Flags().StringVar(&melPath, "mel", "", "Mel spectrogram safetensors file ([n_mels, T] or [1, n_mels, T])")
	cmd.Flags().StringVar(&out, "out", "", "Optional safetensors file for the [1, T, T_text] alignment")

	return cmd
}

type alignment struct {
	alignment   *tensor.Tensor
	path        []int // most attended text position per frame
	frames      int
	textLen     int
	termination float32
	symbols     []int
	mixtures    int
}

func alignMel(m *melnet.Model, mel *safetensors.Tensor, line string) (*alignment, error) {
	if len(mel.Shape) != 3 || mel.Shape[0] != 1 {
		return nil, fmt.Errorf("align expects a single spectrogram, got shape %v", mel.Shape)
	}

	if bins := m.HParams().NMels; mel.Shape[1] != int64(bins) {
		return nil, fmt.Errorf("align: spectrogram has %d mel bins, model expects %d", mel.Shape[1], bins)
	}

	x, err := tensor.FromOwned(mel.Data, mel.Shape)
	if err != nil {
		return nil, err
	}

	ids, err := text.Encode(line)
	if err != nil {
		return nil, err
	}

	batch, lengths := text.PadBatch([][]int{ids})

	outp, err := m.Forward(x, batch, lengths)
	if err != nil {
		return nil, err
	}

	frames, textLen := int(outp.Alignment.Dim(1)), int(outp.Alignment.Dim(2))
	data := outp.Alignment.RawData()
	path := make([]int, frames)

	for t := range frames {
		row := data[t*textLen : (t+1)*textLen]
		best := 0

		for p, w := range row {
			if w > row[best] {
				best = p
			}
		}

		path[t] = best
	}

	return &alignment{
		alignment:   outp.Alignment,
		path:        path,
		frames:      frames,
		textLen:     textLen,
		termination: outp.Termination[0],
		symbols:     ids,
		mixtures:    m.Attention().Mixtures(),
	}, nil
}

func printAlignment(w io.Writer, a *alignment) error {
	syms := text.Symbols()

	_, _ = fmt.Fprintf(w, "frames: %d  text positions: %d  mixtures: %d  termination: %.4f\n",
		a.frames, a.textLen, a.mixtures, a.termination)

	for t, p := range a.path {
		_, _ = fmt.Fprintf(w, "%4d  %3d  %q\n", t, p, syms[a.symbols[p]])
	}

	return nil
}
