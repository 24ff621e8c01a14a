package tokenizer

import (
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// model maps one pre-tokenized word to vocabulary ids.
type model interface {
	tokenize(word string) []int64
	tokenID(token string) (int64, bool)
	vocabSize() int
}

// wordPiece is the greedy longest-match-first subword model used by BERT.
type wordPiece struct {
	vocab        map[string]int64
	unkID        int64
	prefix       string
	maxWordChars int
}

func (w *wordPiece) tokenize(word string) []int64 {
	runes := []rune(word)
	if len(runes) > w.maxWordChars {
		return []int64{w.unkID}
	}
	var ids []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := int64(-1)
		for start < end {
			sub := string(runes[start:end])
			if start > 0 {
				sub = w.prefix + sub
			}
			if id, ok := w.vocab[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int64{w.unkID}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

func (w *wordPiece) tokenID(token string) (int64, bool) {
	id, ok := w.vocab[token]
	return id, ok
}

func (w *wordPiece) vocabSize() int { return len(w.vocab) }

type piece struct {
	id    int64
	score float64
}

// unigram is the sentencepiece unigram language model; segmentation picks the
// highest-scoring path with Viterbi.
type unigram struct {
	pieces    map[string]piece
	unkID     int64
	unkScore  float64
	maxPieces int // longest piece, in runes
	fuseUnk   bool
}

// unkPenalty matches sentencepiece: unknown characters score below every piece.
const unkPenalty = 10.0

func (u *unigram) tokenize(word string) []int64 {
	runes := []rune(word)
	n := len(runes)
	if n == 0 {
		return nil
	}
	best := make([]float64, n+1)
	from := make([]int, n+1)
	ids := make([]int64, n+1)
	for i := 1; i <= n; i++ {
		best[i] = math.Inf(-1)
	}
	for i := 0; i < n; i++ {
		if math.IsInf(best[i], -1) {
			continue
		}
		single := false
		for l := 1; l <= u.maxPieces && i+l <= n; l++ {
			p, ok := u.pieces[string(runes[i:i+l])]
			if !ok {
				continue
			}
			if l == 1 {
				single = true
			}
			if score := best[i] + p.score; score > best[i+l] {
				best[i+l] = score
				from[i+l] = i
				ids[i+l] = p.id
			}
		}
		if !single {
			if score := best[i] + u.unkScore; score > best[i+1] {
				best[i+1] = score
				from[i+1] = i
				ids[i+1] = u.unkID
			}
		}
	}
	var rev []int64
	for pos := n; pos > 0; pos = from[pos] {
		rev = append(rev, ids[pos])
	}
	out := make([]int64, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		id := rev[i]
		if u.fuseUnk && id == u.unkID && len(out) > 0 && out[len(out)-1] == u.unkID {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (u *unigram) tokenID(token string) (int64, bool) {
	p, ok := u.pieces[token]
	return p.id, ok
}

func (u *unigram) vocabSize() int { return len(u.pieces) }

// parseModel builds the subword model from the "model" node of tokenizer.json.
func parseModel(node gjson.Result) (model, error) {
	switch typ := node.Get("type").String(); typ {
	case "WordPiece":
		w := &wordPiece{
			vocab:        make(map[string]int64),
			prefix:       node.Get("continuing_subword_prefix").String(),
			maxWordChars: int(node.Get("max_input_chars_per_word").Int()),
		}
		if w.prefix == "" {
			w.prefix = "##"
		}
		if w.maxWordChars <= 0 {
			w.maxWordChars = 100
		}
		node.Get("vocab").ForEach(func(key, value gjson.Result) bool {
			w.vocab[key.String()] = value.Int()
			return true
		})
		if len(w.vocab) == 0 {
			return nil, fmt.Errorf("wordpiece model has an empty vocabulary")
		}
		unk := node.Get("unk_token").String()
		if unk == "" {
			unk = "[UNK]"
		}
		id, ok := w.vocab[unk]
		if !ok {
			return nil, fmt.Errorf("wordpiece unk token %q not in vocabulary", unk)
		}
		w.unkID = id
		return w, nil
	case "Unigram":
		u := &unigram{
			pieces:  make(map[string]piece),
			fuseUnk: true,
		}
		minScore := math.Inf(1)
		for i, entry := range node.Get("vocab").Array() {
			pair := entry.Array()
			if len(pair) != 2 {
				return nil, fmt.Errorf("unigram vocab entry %d is malformed", i)
			}
			p := piece{id: int64(i), score: pair[1].Float()}
			u.pieces[pair[0].String()] = p
			if p.score < minScore {
				minScore = p.score
			}
			if l := len([]rune(pair[0].String())); l > u.maxPieces {
				u.maxPieces = l
			}
		}
		if len(u.pieces) == 0 {
			return nil, fmt.Errorf("unigram model has an empty vocabulary")
		}
		unk := node.Get("unk_id")
		if !unk.Exists() || unk.Type == gjson.Null {
			return nil, fmt.Errorf("unigram model without unk_id")
		}
		u.unkID = unk.Int()
		u.unkScore = minScore - unkPenalty
		return u, nil
	default:
		return nil, fmt.Errorf("unsupported tokenizer model %q", typ)
	}
}
