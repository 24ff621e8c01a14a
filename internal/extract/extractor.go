// Package extract turns document files into plain text for embedding.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxBytes bounds the size of a file Extract will read.
const DefaultMaxBytes = 64 << 20

type extractFunc func(content []byte) (string, error)

var binaryFormats = map[string]extractFunc{
	".pdf":  extractPDF,
	".xlsx": extractExcel,
	".docx": extractDOCX,
	".pptx": extractPPTX,
	".odp":  extractODP,
	".ods":  extractODS,
	".odt":  extractCat,
	".rtf":  extractCat,
}

var plainFormats = []string{".txt", ".md", ".rst", ".csv", ".json", ".html"}

// Extractor extracts plain text from document files.
type Extractor struct {
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes rejects files larger than n bytes.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file at path and returns its text content. The format is
// chosen by extension; unknown extensions are read as UTF-8 text.
func (e *Extractor) Extract(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("read file: %s is a directory", path)
	}
	if e.maxBytes > 0 && info.Size() > e.maxBytes {
		return "", fmt.Errorf("read file: %s is %d bytes, limit is %d", path, info.Size(), e.maxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	text, err := e.ExtractBytes(content, filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return text, nil
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := binaryFormats[strings.ToLower(ext)]; ok {
		return fn(content)
	}
	return extractPlain(content)
}

// SupportedExtensions lists the extensions with a dedicated extractor, sorted.
func SupportedExtensions() []string {
	out := append([]string(nil), plainFormats...)
	for ext := range binaryFormats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
