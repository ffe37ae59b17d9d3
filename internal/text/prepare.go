package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

// replacements folds typographic punctuation onto the symbol table.
var replacements = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", "", "”", "", "\"", "",
	"–", "-", "—", "-",
	"…", "...",
)

// Normalize prepares raw input text for symbol lookup: line breaks and runs of
// whitespace collapse to one space, typographic quotes and dashes are folded,
// and everything is lower-cased. Empty or whitespace-only input is rejected.
func Normalize(s string) (string, error) {
	s = replacements.Replace(s)

	var b strings.Builder

	b.Grow(len(s))

	space := false

	for _, r := range s {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}

		if space {
			b.WriteByte(' ')

			space = false
		}

		b.WriteRune(unicode.ToLower(r))
	}

	if b.Len() == 0 {
		return "", ErrEmptyText
	}

	return b.String(), nil
}

// SplitSentences groups sentences (ended by '.', '!' or '?') into chunks of at
// most maxRunes runes. A sentence longer than maxRunes becomes its own chunk.
// maxRunes <= 0 disables splitting.
func SplitSentences(s string, maxRunes int) []string {
	s = strings.TrimSpace(s)
	if maxRunes <= 0 || s == "" {
		return []string{s}
	}

	var (
		chunks  []string
		current []string
		size    int
	)

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current, size = current[:0], 0
		}
	}

	for _, sentence := range sentences(s) {
		n := len([]rune(sentence))

		if len(current) > 0 && size+1+n > maxRunes {
			flush()
		}

		if len(current) > 0 {
			size++
		}

		current = append(current, sentence)
		size += n
	}

	flush()

	return chunks
}

func sentences(s string) []string {
	var out []string

	start := 0

	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// Keep runs like "?!" and "..." attached to the same sentence.
		if next := i + 1; next < len(s) && strings.ContainsRune(".!?", rune(s[next])) {
			continue
		}

		if part := strings.TrimSpace(s[start : i+1]); part != "" {
			out = append(out, part)
		}

		start = i + 1
	}

	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}

	return out
}
