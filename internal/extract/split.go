package extract

import (
	"fmt"
	"strings"
)

// SplitMode selects how extracted text becomes embedding inputs.
type SplitMode string

const (
	// SplitNone embeds the whole document as one text.
	SplitNone SplitMode = "none"
	// SplitLines embeds every non-blank line.
	SplitLines SplitMode = "lines"
	// SplitParagraphs embeds blocks separated by blank lines.
	SplitParagraphs SplitMode = "paragraphs"
)

// ParseSplitMode accepts "none", "lines" or "paragraphs".
func ParseSplitMode(s string) (SplitMode, error) {
	switch m := SplitMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SplitNone, SplitLines, SplitParagraphs:
		return m, nil
	case "":
		return SplitNone, nil
	default:
		return "", fmt.Errorf("unknown split mode %q", s)
	}
}

// Split cuts text into trimmed, non-empty pieces.
func Split(text string, mode SplitMode) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var pieces []string
	switch mode {
	case SplitLines:
		pieces = strings.Split(text, "\n")
	case SplitParagraphs:
		var cur []string
		for _, line := range strings.Split(text, "\n") {
			if strings.TrimSpace(line) == "" {
				pieces = append(pieces, strings.Join(cur, "\n"))
				cur = cur[:0]
				continue
			}
			cur = append(cur, line)
		}
		pieces = append(pieces, strings.Join(cur, "\n"))
	default:
		pieces = []string{text}
	}
	out := pieces[:0]
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
