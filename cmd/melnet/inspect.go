package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/safetensors"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [checkpoint]",
		Short: "List the tensors and metadata of a checkpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path := cfg.Paths.CheckpointPath
			if len(args) == 1 {
				path = args[0]
			}

			store, err := safetensors.OpenStore(path, safetensors.StoreOptions{})
			if err != nil {
				return err
			}
			defer store.Close()

			return inspectStore(cmd.OutOrStdout(), store)
		},
	}
}

func inspectStore(w io.Writer, store *safetensors.Store) error {
	meta := store.Metadata()
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		if k == "hparams" {
			continue
		}

		_, _ = fmt.Fprintf(w, "%s: %s\n", k, meta[k])
	}

	if raw, ok := meta["hparams"]; ok {
		_, _ = fmt.Fprintf(w, "hparams:\n  %s\n", strings.ReplaceAll(raw, "\n", "\n  "))
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "DTYPE", "SHAPE", "PARAMS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	var total int64

	for _, name := range store.Names() {
		info, ok := store.Info(name)
		if !ok {
			continue
		}

		n := elemCount(info.Shape)
		total += n

		table.Append([]string{name, info.DType, fmt.Sprint(info.Shape), strconv.FormatInt(n, 10)})
	}

	table.Render()

	_, _ = fmt.Fprintf(w, "%d tensors, %d parameters\n", len(store.Names()), total)

	return nil
}

func elemCount(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	return n
}

// hparamsFromMetadata recovers hyperparameters embedded in a checkpoint.
func hparamsFromMetadata(store *safetensors.Store) (melnet.HParams, error) {
	raw, ok := store.Metadata()["hparams"]
	if !ok {
		return melnet.HParams{}, errors.New("checkpoint has no embedded hparams")
	}

	return melnet.ParseHParams([]byte(raw))
}
