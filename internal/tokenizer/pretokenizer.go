package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

// preTokenizer splits normalized text into words. first is true for the first
// segment of the input (segments are separated by added tokens).
type preTokenizer interface {
	split(s string, first bool) []string
}

type preTokenizerSeq []preTokenizer

func (seq preTokenizerSeq) split(s string, first bool) []string {
	words := []string{s}
	for _, p := range seq {
		var next []string
		for i, w := range words {
			next = append(next, p.split(w, first && i == 0)...)
		}
		words = next
	}
	return words
}

type whitespaceSplit struct{}

func (whitespaceSplit) split(s string, _ bool) []string { return strings.Fields(s) }

var wordOrSymbols = regexp.MustCompile(`[\p{L}\p{N}_\p{M}]+|[^\p{L}\p{N}_\p{M}\s]+`)

type whitespace struct{}

func (whitespace) split(s string, _ bool) []string { return wordOrSymbols.FindAllString(s, -1) }

// bertPreTokenizer splits on whitespace and isolates every punctuation character.
type bertPreTokenizer struct{}

func (bertPreTokenizer) split(s string, _ bool) []string {
	var words []string
	for _, field := range strings.FieldsFunc(s, isWhitespace) {
		words = append(words, splitPunctuation(field)...)
	}
	return words
}

type punctuation struct{}

func (punctuation) split(s string, _ bool) []string { return splitPunctuation(s) }

func splitPunctuation(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if !isPunctuation(r) {
			continue
		}
		if start < i {
			out = append(out, s[start:i])
		}
		size := len(string(r))
		out = append(out, s[i:i+size])
		start = i + size
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// metaspace replaces spaces with the replacement rune and splits so that each
// word keeps its leading marker, as sentencepiece does.
type metaspace struct {
	replacement string
	prepend     string // "always", "first" or "never"
	splitWords  bool
}

func (m metaspace) split(s string, first bool) []string {
	s = strings.ReplaceAll(s, " ", m.replacement)
	if m.prepend == "always" || (m.prepend == "first" && first) {
		if !strings.HasPrefix(s, m.replacement) {
			s = m.replacement + s
		}
	}
	if !m.splitWords {
		return []string{s}
	}
	parts := strings.Split(s, m.replacement)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, m.replacement+p)
	}
	return out
}

// parsePreTokenizer builds a pre-tokenizer from the "pre_tokenizer" node of tokenizer.json.
// A null node splits on whitespace.
func parsePreTokenizer(node gjson.Result) (preTokenizer, error) {
	if !node.Exists() || node.Type == gjson.Null {
		return whitespaceSplit{}, nil
	}
	switch typ := node.Get("type").String(); typ {
	case "BertPreTokenizer":
		return bertPreTokenizer{}, nil
	case "Whitespace":
		return whitespace{}, nil
	case "WhitespaceSplit":
		return whitespaceSplit{}, nil
	case "Punctuation":
		return punctuation{}, nil
	case "Metaspace":
		m := metaspace{
			replacement: node.Get("replacement").String(),
			prepend:     "always",
			splitWords:  boolOr(node.Get("split"), true),
		}
		if m.replacement == "" {
			m.replacement = "▁"
		}
		if scheme := node.Get("prepend_scheme"); scheme.Exists() {
			m.prepend = scheme.String()
		} else if !boolOr(node.Get("add_prefix_space"), true) {
			m.prepend = "never"
		}
		return m, nil
	case "Sequence":
		var seq preTokenizerSeq
		for _, child := range node.Get("pretokenizers").Array() {
			p, err := parsePreTokenizer(child)
			if err != nil {
				return nil, err
			}
			seq = append(seq, p)
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unsupported pre-tokenizer %q", typ)
	}
}
