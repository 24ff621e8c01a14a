package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/fastembed/internal/testutil"
	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

func loadFixture(t *testing.T, flavour string, maxLength int) *Tokenizer {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteTokenizer(t, dir, flavour)
	tok, err := Load(dir, maxLength)
	if err != nil {
		t.Fatalf("Load(%s): %v", flavour, err)
	}
	return tok
}

func TestEncode_bert(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 16)
	tests := []struct {
		name string
		text string
		want []int64
	}{
		{"simple", "hello world", []int64{2, 5, 6, 3}},
		{"subwords", "goodbye", []int64{2, 7, 8, 3}},
		{"multiple subwords", "unaffable", []int64{2, 16, 17, 18, 3}},
		{"case and accents", "Café", []int64{2, 19, 3}},
		{"punctuation", "Hello, world!", []int64{2, 5, 10, 6, 11, 3}},
		{"chinese characters", "你好", []int64{2, 20, 21, 3}},
		{"unknown word", "zebra", []int64{2, 1, 3}},
		{"added token passthrough", "hello [MASK] world", []int64{2, 5, 4, 6, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := tok.Encode(tt.text)
			if len(enc.IDs) != 16 || len(enc.AttentionMask) != 16 || len(enc.TypeIDs) != 16 {
				t.Fatalf("row lengths = %d/%d/%d, want 16", len(enc.IDs), len(enc.AttentionMask), len(enc.TypeIDs))
			}
			if got := enc.IDs[:enc.realLen()]; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
			for i := enc.realLen(); i < len(enc.IDs); i++ {
				if enc.IDs[i] != 0 || enc.AttentionMask[i] != 0 {
					t.Fatalf("position %d: id=%d mask=%d, want padding", i, enc.IDs[i], enc.AttentionMask[i])
				}
			}
		})
	}
}

func TestEncode_emptyText(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 8)
	enc := tok.Encode("")
	if len(enc.IDs) != 8 {
		t.Fatalf("len = %d, want 8", len(enc.IDs))
	}
	want := []int64{2, 3, 0, 0, 0, 0, 0, 0}
	if !reflect.DeepEqual(enc.IDs, want) {
		t.Errorf("ids = %v, want %v", enc.IDs, want)
	}
	if !reflect.DeepEqual(enc.AttentionMask, []int64{1, 1, 0, 0, 0, 0, 0, 0}) {
		t.Errorf("mask = %v", enc.AttentionMask)
	}
}

func TestEncode_truncationKeepsMarkers(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 8)
	enc := tok.Encode("the quick brown fox the quick brown fox")
	want := []int64{2, 12, 13, 14, 15, 12, 13, 3}
	if !reflect.DeepEqual(enc.IDs, want) {
		t.Errorf("ids = %v, want %v", enc.IDs, want)
	}
	if enc.realLen() != 8 {
		t.Errorf("Len = %d, want 8", enc.realLen())
	}
}

func TestEncode_unigram(t *testing.T) {
	tok := loadFixture(t, testutil.Unigram, 8)
	if tok.padID != 1 {
		t.Fatalf("pad id = %d, want 1", tok.padID)
	}
	tests := []struct {
		text string
		want []int64
	}{
		{"hello world", []int64{0, 4, 5, 2}},
		{"hello  world", []int64{0, 4, 5, 2}},
		{"xyz", []int64{0, 6, 3, 2}},
		{"", []int64{0, 2}},
	}
	for _, tt := range tests {
		enc := tok.Encode(tt.text)
		if got := enc.IDs[:enc.realLen()]; !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Encode(%q) = %v, want %v", tt.text, got, tt.want)
		}
		for i := enc.realLen(); i < len(enc.IDs); i++ {
			if enc.IDs[i] != 1 {
				t.Fatalf("Encode(%q) pad at %d = %d, want 1", tt.text, i, enc.IDs[i])
			}
		}
	}
}

func TestMaxLength_cappedByModel(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 4096)
	if tok.MaxLength() != 512 {
		t.Errorf("MaxLength = %d, want 512", tok.MaxLength())
	}
	tok = loadFixture(t, testutil.BERT, 32)
	if tok.MaxLength() != 32 {
		t.Errorf("MaxLength = %d, want 32", tok.MaxLength())
	}
}

func TestEncodeBatch(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 6)
	texts := []string{"hello world", "", "this is a test"}
	b := tok.EncodeBatch(texts)
	if b.Size != 3 || b.SeqLen != 6 {
		t.Fatalf("shape = %v", []int{b.Size, b.SeqLen})
	}
	if len(b.IDs) != 18 || len(b.AttentionMask) != 18 || len(b.TypeIDs) != 18 {
		t.Fatalf("flat lengths = %d/%d/%d", len(b.IDs), len(b.AttentionMask), len(b.TypeIDs))
	}
	for i, text := range texts {
		ids, mask := b.Row(i)
		enc := tok.Encode(text)
		if !reflect.DeepEqual(ids, enc.IDs) || !reflect.DeepEqual(mask, enc.AttentionMask) {
			t.Errorf("row %d differs from Encode(%q)", i, text)
		}
	}
}

func TestTokenID(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 8)
	if id, ok := tok.tokenID("[CLS]"); !ok || id != 2 {
		t.Errorf("TokenID([CLS]) = %d, %v", id, ok)
	}
	if id, ok := tok.tokenID("fox"); !ok || id != 15 {
		t.Errorf("TokenID(fox) = %d, %v", id, ok)
	}
	if _, ok := tok.tokenID("zebra"); ok {
		t.Error("TokenID(zebra) should be missing")
	}
	if tok.VocabSize() != 27 {
		t.Errorf("VocabSize = %d", tok.VocabSize())
	}
}

func TestLoad_errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteTokenizer(t, dir, testutil.BERT)
		if err := os.Remove(filepath.Join(dir, models.TokenizerFile)); err != nil {
			t.Fatal(err)
		}
		_, err := Load(dir, 8)
		if !errors.Is(err, fserrors.ErrModelLoad) {
			t.Errorf("err = %v, want model load error", err)
		}
	})
	t.Run("malformed json", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteTokenizer(t, dir, testutil.BERT)
		if err := os.WriteFile(filepath.Join(dir, models.ConfigFile), []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(dir, 8)
		if !errors.Is(err, fserrors.ErrModelLoad) {
			t.Errorf("err = %v, want model load error", err)
		}
	})
	t.Run("non-positive max length", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteTokenizer(t, dir, testutil.BERT)
		_, err := Load(dir, 0)
		if !errors.Is(err, fserrors.ErrConfiguration) {
			t.Errorf("err = %v, want configuration error", err)
		}
	})
}

func TestConcurrentEncode(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 8)
	want := tok.Encode("hello world")
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				if got := tok.Encode("hello world"); !reflect.DeepEqual(got, want) {
					t.Error("concurrent Encode differs")
					return
				}
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func TestTokens_addedTokens(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 64)
	tests := []struct {
		name string
		text string
		want []int64
	}{
		{"adjacent", "[SEP][CLS]", []int64{3, 2}},
		{"between words", "hello [SEP] world [SEP]", []int64{5, 3, 6, 3}},
		{"interleaved kinds", "[MASK] hello [SEP] [MASK] world [CLS]", []int64{4, 5, 3, 4, 6, 2}},
		{"token seen once then absent", "[CLS] the quick brown fox", []int64{2, 12, 13, 14, 15}},
		{"partial marker is text", "[SEP hello", []int64{1, 1, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tok.tokens(tt.text, -1); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tokens(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestTokens_limit(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 64)
	tests := []struct {
		limit int
		want  []int64
	}{
		{0, nil},
		{1, []int64{5}},
		{2, []int64{5, 3}},
		{3, []int64{5, 3, 7}},
		{4, []int64{5, 3, 7, 8}},
		{10, []int64{5, 3, 7, 8, 6}},
	}
	for _, tt := range tests {
		got := tok.tokens("hello [SEP] goodbye world", tt.limit)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tokens(limit %d) = %v, want %v", tt.limit, got, tt.want)
		}
	}
}

func TestEncode_longInputWithAddedTokens(t *testing.T) {
	tok := loadFixture(t, testutil.BERT, 32)
	text := strings.Repeat("[SEP] hello ", 40000)

	start := time.Now()
	enc := tok.Encode(text)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Encode of %d bytes took %v", len(text), elapsed)
	}
	if enc.IDs[0] != 2 || enc.IDs[1] != 3 || enc.IDs[2] != 5 || enc.IDs[31] != 3 {
		t.Errorf("ids = %v", enc.IDs)
	}
	if enc.realLen() != 32 {
		t.Errorf("real tokens = %d, want 32", enc.realLen())
	}

	start = time.Now()
	ids := tok.tokens(text, -1)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("tokens of %d bytes took %v", len(text), elapsed)
	}
	if len(ids) != 80000 {
		t.Errorf("got %d ids, want 80000", len(ids))
	}
}
