package text

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Pad fills text positions past a sequence's length.
	Pad = '_'
	// EOS terminates every encoded sequence.
	EOS = '~'

	punctuation = "!'(),-.:;? "
	letters     = "abcdefghijklmnopqrstuvwxyz"
)

// ErrUnknownSymbol is returned when text contains a character outside the
// symbol table.
var ErrUnknownSymbol = errors.New("unknown symbol")

var (
	symbolTable = []rune(string(Pad) + string(EOS) + punctuation + letters)
	symbolIDs   = func() map[rune]int {
		m := make(map[rune]int, len(symbolTable))
		for i, r := range symbolTable {
			m[r] = i
		}

		return m
	}()
)

// Symbols returns the symbol table in id order.
func Symbols() []string {
	out := make([]string, len(symbolTable))
	for i, r := range symbolTable {
		out[i] = string(r)
	}

	return out
}

// NumSymbols is the embedding table size.
func NumSymbols() int { return len(symbolTable) }

// Encode normalizes s and maps it to symbol ids followed by EOS.
func Encode(s string) ([]int, error) {
	norm, err := Normalize(s)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(norm)+1)

	for pos, r := range []rune(norm) {
		id, ok := symbolIDs[r]
		if !ok || r == Pad || r == EOS {
			return nil, fmt.Errorf("text: %w %q at position %d", ErrUnknownSymbol, r, pos)
		}

		ids = append(ids, id)
	}

	return append(ids, symbolIDs[EOS]), nil
}

// Decode maps ids back to text, stopping at EOS and skipping padding.
func Decode(ids []int) string {
	var b strings.Builder

	for _, id := range ids {
		if id < 0 || id >= len(symbolTable) {
			b.WriteRune('?')
			continue
		}

		r := symbolTable[id]
		if r == EOS {
			break
		}

		if r != Pad {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// PadBatch right-pads sequences with the Pad id to a common length and
// returns each sequence's true length.
func PadBatch(seqs [][]int) ([][]int, []int) {
	longest := 0
	for _, s := range seqs {
		longest = max(longest, len(s))
	}

	pad := symbolIDs[Pad]
	ids := make([][]int, len(seqs))
	lengths := make([]int, len(seqs))

	for i, s := range seqs {
		row := make([]int, longest)
		n := copy(row, s)

		for j := n; j < longest; j++ {
			row[j] = pad
		}

		ids[i] = row
		lengths[i] = len(s)
	}

	return ids, lengths
}
