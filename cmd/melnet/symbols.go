package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-melnet-tts/internal/text"
)

func newSymbolsCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Print the symbol table, or the encoding of --text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()

			if input == "" {
				for id, s := range text.Symbols() {
					_, _ = fmt.Fprintf(w, "%d\t%q\n", id, s)
				}

				return nil
			}

			ids, err := text.Encode(input)
			if err != nil {
				return err
			}

			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = fmt.Sprint(id)
			}

			_, _ = fmt.Fprintf(w, "ids: %s\n", strings.Join(parts, " "))
			_, _ = fmt.Fprintf(w, "decoded: %q\n", text.Decode(ids))

			return nil
		},
	}

	cmd.Flags().StringVar(&input, "text", "", "Encode this text instead of listing symbols")

	return cmd
}
