package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// normalizer rewrites raw text before pre-tokenization.
type normalizer interface {
	normalize(s string) string
}

type normalizerSeq []normalizer

func (seq normalizerSeq) normalize(s string) string {
	for _, n := range seq {
		s = n.normalize(s)
	}
	return s
}

type unicodeForm struct{ form norm.Form }

func (u unicodeForm) normalize(s string) string { return u.form.String(s) }

type lowercase struct{}

func (lowercase) normalize(s string) string { return strings.ToLower(s) }

type stripAccents struct{}

func (stripAccents) normalize(s string) string { return removeAccents(s) }

type strip struct{ left, right bool }

func (st strip) normalize(s string) string {
	if st.left {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
	}
	if st.right {
		s = strings.TrimRightFunc(s, unicode.IsSpace)
	}
	return s
}

type prepend struct{ prefix string }

func (p prepend) normalize(s string) string {
	if s == "" {
		return s
	}
	return p.prefix + s
}

type replace struct {
	re      *regexp.Regexp
	literal string
	content string
}

func (r replace) normalize(s string) string {
	if r.re != nil {
		return r.re.ReplaceAllLiteralString(s, r.content)
	}
	return strings.ReplaceAll(s, r.literal, r.content)
}

// bertNormalizer mirrors the BERT uncased/cased preprocessing.
type bertNormalizer struct {
	cleanText    bool
	chineseChars bool
	stripAccents bool
	lowercase    bool
}

func (n bertNormalizer) normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if n.cleanText {
			if r == 0 || r == unicode.ReplacementChar || isControl(r) {
				continue
			}
			if isWhitespace(r) {
				b.WriteByte(' ')
				continue
			}
		}
		if n.chineseChars && isChineseChar(r) {
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if n.stripAccents {
		out = removeAccents(out)
	}
	if n.lowercase {
		out = strings.ToLower(out)
	}
	return out
}

func removeAccents(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf)
}

func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

// parseNormalizer builds a normalizer from the "normalizer" node of tokenizer.json.
// A null node yields a nil normalizer.
func parseNormalizer(node gjson.Result) (normalizer, error) {
	if !node.Exists() || node.Type == gjson.Null {
		return nil, nil
	}
	switch typ := node.Get("type").String(); typ {
	case "BertNormalizer":
		lower := boolOr(node.Get("lowercase"), true)
		return bertNormalizer{
			cleanText:    boolOr(node.Get("clean_text"), true),
			chineseChars: boolOr(node.Get("handle_chinese_chars"), true),
			stripAccents: boolOr(node.Get("strip_accents"), lower),
			lowercase:    lower,
		}, nil
	case "Sequence":
		var seq normalizerSeq
		for _, child := range node.Get("normalizers").Array() {
			n, err := parseNormalizer(child)
			if err != nil {
				return nil, err
			}
			if n != nil {
				seq = append(seq, n)
			}
		}
		return seq, nil
	case "NFC":
		return unicodeForm{norm.NFC}, nil
	case "NFD":
		return unicodeForm{norm.NFD}, nil
	case "NFKC", "Precompiled":
		// Precompiled sentencepiece charsmaps are NFKC-derived.
		return unicodeForm{norm.NFKC}, nil
	case "NFKD":
		return unicodeForm{norm.NFKD}, nil
	case "Lowercase":
		return lowercase{}, nil
	case "StripAccents":
		return stripAccents{}, nil
	case "Strip":
		return strip{left: boolOr(node.Get("strip_left"), true), right: boolOr(node.Get("strip_right"), true)}, nil
	case "Prepend":
		return prepend{prefix: node.Get("prepend").String()}, nil
	case "Replace":
		r := replace{content: node.Get("content").String()}
		if pat := node.Get("pattern.Regex"); pat.Exists() {
			re, err := regexp.Compile(pat.String())
			if err != nil {
				return nil, fmt.Errorf("replace normalizer pattern: %w", err)
			}
			r.re = re
		} else {
			r.literal = node.Get("pattern.String").String()
			if r.literal == "" {
				return nil, fmt.Errorf("replace normalizer without pattern")
			}
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported normalizer %q", typ)
	}
}

// boolOr returns the node's boolean value, or def when it is missing or null.
func boolOr(node gjson.Result, def bool) bool {
	if !node.Exists() || node.Type == gjson.Null {
		return def
	}
	return node.Bool()
}
