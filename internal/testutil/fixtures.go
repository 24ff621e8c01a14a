// Package testutil provides tokenizer fixtures and a fake artifact host for tests.
package testutil

import (
	"embed"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/hyperjump/fastembed/pkg/models"
)

//go:embed testdata/bert/*.json testdata/unigram/*.json
var fixtures embed.FS

// Tokenizer fixture flavours.
const (
	// BERT is a lowercasing WordPiece tokenizer with [CLS]/[SEP] markers and pad id 0.
	BERT = "bert"
	// Unigram is a sentencepiece tokenizer with <s>/</s> markers and pad id 1.
	Unigram = "unigram"
)

// TokenizerFileNames lists the tokenizer artifacts shipped next to every model.
var TokenizerFileNames = []string{
	models.TokenizerFile,
	models.ConfigFile,
	models.SpecialTokensMapFile,
	models.TokenizerConfigFile,
}

// TokenizerFile returns one fixture file of the given flavour.
func TokenizerFile(t testing.TB, flavour, name string) []byte {
	t.Helper()
	data, err := fixtures.ReadFile(path.Join("testdata", flavour, name))
	if err != nil {
		t.Fatalf("fixture %s/%s: %v", flavour, name, err)
	}
	return data
}

// WriteTokenizer writes the fixture tokenizer files of flavour into dir.
func WriteTokenizer(t testing.TB, dir, flavour string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range TokenizerFileNames {
		if err := os.WriteFile(filepath.Join(dir, name), TokenizerFile(t, flavour, name), 0644); err != nil {
			t.Fatal(err)
		}
	}
}
