// Package tokenizer turns text into fixed-length token id rows for transformer
// encoders, reading the Hugging Face tokenizer.json family of files.
package tokenizer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// modelMaxLengthCeiling filters the "infinite" sentinel some tokenizer configs use.
const modelMaxLengthCeiling = 1 << 20

// Files holds the raw tokenizer artifacts of one model.
type Files struct {
	Tokenizer        []byte // tokenizer.json
	Config           []byte // config.json
	TokenizerConfig  []byte // tokenizer_config.json
	SpecialTokensMap []byte // special_tokens_map.json
}

// Encoding is one tokenized, padded row.
type Encoding struct {
	IDs           []int64
	TypeIDs       []int64
	AttentionMask []int64
}

// realLen returns the number of real (non-padding) tokens.
func (e Encoding) realLen() int {
	n := 0
	for _, m := range e.AttentionMask {
		if m != 0 {
			n++
		}
	}
	return n
}

type addedToken struct {
	content string
	id      int64
}

// Tokenizer is immutable after construction and safe for concurrent use.
type Tokenizer struct {
	normalizer normalizer
	pre        preTokenizer
	model      model
	added      []addedToken // longest first
	prefix     []int64      // start markers
	suffix     []int64      // end markers
	padID      int64
	maxLength  int
}

// Load reads the tokenizer files from dir. The effective maximum length is the
// smaller of maxLength and the tokenizer's model_max_length.
func Load(dir string, maxLength int) (*Tokenizer, error) {
	var files Files
	for name, dst := range map[string]*[]byte{
		models.TokenizerFile:        &files.Tokenizer,
		models.ConfigFile:           &files.Config,
		models.TokenizerConfigFile:  &files.TokenizerConfig,
		models.SpecialTokensMapFile: &files.SpecialTokensMap,
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fserrors.ModelLoad("tokenizer.load", fmt.Errorf("%s not found in %s", name, dir))
			}
			return nil, fserrors.Storage("tokenizer.load", fmt.Errorf("read %s: %w", name, err))
		}
		*dst = data
	}
	return New(files, maxLength)
}

// New builds a tokenizer from raw artifacts.
func New(files Files, maxLength int) (*Tokenizer, error) {
	if maxLength <= 0 {
		return nil, fserrors.Configuration("tokenizer.new", fmt.Errorf("max length must be positive, got %d", maxLength))
	}
	t, err := parse(files, maxLength)
	if err != nil {
		return nil, fserrors.ModelLoad("tokenizer.new", err)
	}
	return t, nil
}

func parse(files Files, maxLength int) (*Tokenizer, error) {
	for name, data := range map[string][]byte{
		models.TokenizerFile:        files.Tokenizer,
		models.ConfigFile:           files.Config,
		models.TokenizerConfigFile:  files.TokenizerConfig,
		models.SpecialTokensMapFile: files.SpecialTokensMap,
	} {
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("%s is not valid JSON", name)
		}
	}
	root := gjson.ParseBytes(files.Tokenizer)
	config := gjson.ParseBytes(files.Config)
	tokConfig := gjson.ParseBytes(files.TokenizerConfig)
	specialMap := gjson.ParseBytes(files.SpecialTokensMap)

	m, err := parseModel(root.Get("model"))
	if err != nil {
		return nil, err
	}
	n, err := parseNormalizer(root.Get("normalizer"))
	if err != nil {
		return nil, err
	}
	p, err := parsePreTokenizer(root.Get("pre_tokenizer"))
	if err != nil {
		return nil, err
	}
	t := &Tokenizer{normalizer: n, pre: p, model: m, maxLength: maxLength}

	if limit := tokConfig.Get("model_max_length"); limit.Exists() {
		if v := limit.Float(); v > 0 && v < modelMaxLengthCeiling && int(v) < t.maxLength {
			t.maxLength = int(v)
		}
	}

	addedIDs := make(map[string]int64)
	root.Get("added_tokens").ForEach(func(_, tok gjson.Result) bool {
		addedIDs[tok.Get("content").String()] = tok.Get("id").Int()
		return true
	})
	matchable := make(map[string]int64)
	for content, id := range addedIDs {
		matchable[content] = id
	}
	specialMap.ForEach(func(_, v gjson.Result) bool {
		for _, content := range tokenContents(v) {
			if id, ok := t.lookup(content, addedIDs); ok {
				matchable[content] = id
			}
		}
		return true
	})
	for content, id := range matchable {
		if content != "" {
			t.added = append(t.added, addedToken{content: content, id: id})
		}
	}
	sort.Slice(t.added, func(i, j int) bool {
		if len(t.added[i].content) != len(t.added[j].content) {
			return len(t.added[i].content) > len(t.added[j].content)
		}
		return t.added[i].content < t.added[j].content
	})

	if err := t.parsePostProcessor(root.Get("post_processor"), addedIDs); err != nil {
		return nil, err
	}
	t.padID = t.resolvePadID(root, config, tokConfig, specialMap, addedIDs)
	return t, nil
}

// tokenContents extracts token strings from a special_tokens_map value, which is
// a string, an {"content": ...} object, or an array of either.
func tokenContents(v gjson.Result) []string {
	switch {
	case v.IsArray():
		var out []string
		for _, item := range v.Array() {
			out = append(out, tokenContents(item)...)
		}
		return out
	case v.IsObject():
		return []string{v.Get("content").String()}
	case v.Type == gjson.String:
		return []string{v.String()}
	}
	return nil
}

func (t *Tokenizer) lookup(token string, added map[string]int64) (int64, bool) {
	if id, ok := added[token]; ok {
		return id, true
	}
	return t.model.tokenID(token)
}

func (t *Tokenizer) parsePostProcessor(node gjson.Result, added map[string]int64) error {
	if !node.Exists() || node.Type == gjson.Null {
		return nil
	}
	switch typ := node.Get("type").String(); typ {
	case "TemplateProcessing":
		special := node.Get("special_tokens")
		seenSequence := false
		for _, item := range node.Get("single").Array() {
			if item.Get("Sequence").Exists() {
				seenSequence = true
				continue
			}
			name := item.Get("SpecialToken.id").String()
			var ids []int64
			special.ForEach(func(key, entry gjson.Result) bool {
				if key.String() != name {
					return true
				}
				for _, id := range entry.Get("ids").Array() {
					ids = append(ids, id.Int())
				}
				return false
			})
			if len(ids) == 0 {
				id, ok := t.lookup(name, added)
				if !ok {
					return fmt.Errorf("template special token %q not found", name)
				}
				ids = []int64{id}
			}
			if seenSequence {
				t.suffix = append(t.suffix, ids...)
			} else {
				t.prefix = append(t.prefix, ids...)
			}
		}
		return nil
	case "BertProcessing", "RobertaProcessing":
		cls := node.Get("cls").Array()
		sep := node.Get("sep").Array()
		if len(cls) != 2 || len(sep) != 2 {
			return fmt.Errorf("%s without cls/sep pairs", typ)
		}
		t.prefix = []int64{cls[1].Int()}
		t.suffix = []int64{sep[1].Int()}
		return nil
	case "Sequence":
		for _, child := range node.Get("processors").Array() {
			if err := t.parsePostProcessor(child, added); err != nil {
				return err
			}
		}
		return nil
	case "ByteLevel":
		return nil
	default:
		return fmt.Errorf("unsupported post-processor %q", typ)
	}
}

// resolvePadID prefers config.json's pad_token_id, then the tokenizer's padding
// block, then a vocabulary lookup of the configured pad token.
func (t *Tokenizer) resolvePadID(root, config, tokConfig, specialMap gjson.Result, added map[string]int64) int64 {
	if v := config.Get("pad_token_id"); v.Exists() && v.Type == gjson.Number {
		return v.Int()
	}
	if v := root.Get("padding.pad_id"); v.Exists() && v.Type == gjson.Number {
		return v.Int()
	}
	for _, src := range []gjson.Result{tokConfig.Get("pad_token"), specialMap.Get("pad_token")} {
		for _, content := range tokenContents(src) {
			if id, ok := t.lookup(content, added); ok {
				return id
			}
		}
	}
	return 0
}

// MaxLength returns the fixed row length produced by Encode.
func (t *Tokenizer) MaxLength() int { return t.maxLength }

// VocabSize returns the size of the subword vocabulary.
func (t *Tokenizer) VocabSize() int { return t.model.vocabSize() }

// tokenID returns the id of a vocabulary or added token.
func (t *Tokenizer) tokenID(token string) (int64, bool) {
	for _, a := range t.added {
		if a.content == token {
			return a.id, true
		}
	}
	return t.model.tokenID(token)
}

// tokens returns the content token ids of text, without markers or padding.
// Scanning stops once limit ids are collected; a negative limit means no limit.
func (t *Tokenizer) tokens(text string, limit int) []int64 {
	var ids []int64
	full := func() bool { return limit >= 0 && len(ids) >= limit }
	first := true
	t.eachSegment(text, func(seg segment) bool {
		if seg.added {
			ids = append(ids, seg.id)
			first = false
			return !full()
		}
		s := seg.text
		if t.normalizer != nil {
			s = t.normalizer.normalize(s)
		}
		if s == "" {
			return true
		}
		for _, word := range t.pre.split(s, first) {
			if word == "" {
				continue
			}
			ids = append(ids, t.model.tokenize(word)...)
			if full() {
				return false
			}
		}
		first = false
		return true
	})
	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

type segment struct {
	text  string
	added bool
	id    int64
}

// eachSegment cuts text around verbatim occurrences of added tokens in one
// left-to-right pass and hands each piece to fn until fn returns false. The
// next occurrence of every added token is remembered and searched again only
// once the cursor has moved past it.
func (t *Tokenizer) eachSegment(text string, fn func(segment) bool) {
	if len(t.added) == 0 || text == "" {
		fn(segment{text: text})
		return
	}
	const unseen, absent = -1, -2
	next := make([]int, len(t.added))
	for i := range next {
		next[i] = unseen
	}
	cursor := 0
	for cursor < len(text) {
		pos, match := -1, -1
		for i, a := range t.added {
			if next[i] == absent {
				continue
			}
			if next[i] < cursor {
				idx := strings.Index(text[cursor:], a.content)
				if idx < 0 {
					next[i] = absent
					continue
				}
				next[i] = cursor + idx
			}
			// added is longest first, so ties keep the longer token.
			if pos < 0 || next[i] < pos {
				pos, match = next[i], i
			}
		}
		if pos < 0 {
			fn(segment{text: text[cursor:]})
			return
		}
		if pos > cursor && !fn(segment{text: text[cursor:pos]}) {
			return
		}
		if !fn(segment{added: true, id: t.added[match].id}) {
			return
		}
		cursor = pos + len(t.added[match].content)
	}
}

// Encode tokenizes text into a row of exactly MaxLength ids. Content is truncated
// to leave room for the start and end markers; the remainder is padding with an
// attention mask of 0. Empty text yields the markers followed by padding.
func (t *Tokenizer) Encode(text string) Encoding {
	room := t.maxLength - len(t.prefix) - len(t.suffix)
	if room < 0 {
		room = 0
	}
	content := t.tokens(text, room)
	ids := make([]int64, 0, t.maxLength)
	ids = append(ids, t.prefix...)
	ids = append(ids, content...)
	ids = append(ids, t.suffix...)
	if len(ids) > t.maxLength {
		ids = ids[:t.maxLength]
	}
	enc := Encoding{
		IDs:           make([]int64, t.maxLength),
		TypeIDs:       make([]int64, t.maxLength),
		AttentionMask: make([]int64, t.maxLength),
	}
	copy(enc.IDs, ids)
	for i := range enc.IDs {
		if i < len(ids) {
			enc.AttentionMask[i] = 1
		} else {
			enc.IDs[i] = t.padID
		}
	}
	return enc
}

// EncodeBatch tokenizes texts into one row-major batch.
func (t *Tokenizer) EncodeBatch(texts []string) *Batch {
	b := &Batch{
		Size:          len(texts),
		SeqLen:        t.maxLength,
		IDs:           make([]int64, 0, len(texts)*t.maxLength),
		TypeIDs:       make([]int64, 0, len(texts)*t.maxLength),
		AttentionMask: make([]int64, 0, len(texts)*t.maxLength),
	}
	for _, text := range texts {
		enc := t.Encode(text)
		b.IDs = append(b.IDs, enc.IDs...)
		b.TypeIDs = append(b.TypeIDs, enc.TypeIDs...)
		b.AttentionMask = append(b.AttentionMask, enc.AttentionMask...)
	}
	return b
}
