package cli

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/fastembed/internal/artifact"
	"github.com/hyperjump/fastembed/pkg/models"
)

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "JSON": OutputJSON} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func sampleResult() *EmbeddingResult {
	return &EmbeddingResult{
		Model:      "BAAI/bge-small-en-v1.5",
		Dimensions: 8,
		TookMs:     12,
		Items: []EmbeddedText{
			{Index: 0, Text: "hello world", Vector: []float32{0.6, 0.8, 0, 0, 0, 0, 0, 0}},
			{Index: 1, Source: "notes.md", Text: "second\n  text", Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0}},
		},
	}
}

func TestWriteEmbeddings_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEmbeddings(&buf, sampleResult(), OutputJSON); err != nil {
		t.Fatalf("WriteEmbeddings(json): %v", err)
	}
	var decoded EmbeddingResult
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Model != "BAAI/bge-small-en-v1.5" || len(decoded.Items) != 2 {
		t.Errorf("decoded: %+v", decoded)
	}
	if decoded.Items[1].Source != "notes.md" || len(decoded.Items[0].Vector) != 8 {
		t.Errorf("decoded items: %+v", decoded.Items)
	}
}

func TestWriteEmbeddings_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEmbeddings(&buf, sampleResult(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Embedded 2 texts with BAAI/bge-small-en-v1.5 (8 dimensions) in 12ms",
		`[0] "hello world"`,
		`[1] notes.md "second text"`,
		"norm=1.0000 [0.6000, 0.8000, 0.0000, 0.0000, 0.0000, 0.0000, ... (2 more)]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimilarity(t *testing.T) {
	r := NewSimilarityResult("m", []string{"a", "b", "c"}, [][]float32{{1, 0}, {0, 1}, {1, 1}})
	if r.Matrix[0][0] < 0.9999 || math.Abs(r.Matrix[0][1]) > 1e-9 {
		t.Errorf("matrix row 0: %v", r.Matrix[0])
	}
	if math.Abs(r.Matrix[0][2]-math.Sqrt2/2) > 1e-6 || r.Matrix[2][0] != r.Matrix[0][2] {
		t.Errorf("matrix not symmetric or wrong: %v", r.Matrix)
	}
	var buf bytes.Buffer
	if err := WriteSimilarity(&buf, r, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "0.7071") {
		t.Errorf("text output missing similarity:\n%s", buf.String())
	}
	buf.Reset()
	if err := WriteSimilarity(&buf, r, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded SimilarityResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded.Matrix) != 3 {
		t.Errorf("json output: %v %+v", err, decoded)
	}
}

func TestWriteModels(t *testing.T) {
	specs := []models.ModelSpec{models.BGESmallENV15.MustSpec(), models.AllMiniLML6V2.MustSpec()}
	cached := map[string]bool{"BAAI/bge-small-en-v1.5": true}

	var buf bytes.Buffer
	if err := WriteModels(&buf, specs, cached, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "NAME") {
		t.Fatalf("text output:\n%s", buf.String())
	}
	if !strings.Contains(lines[1], "yes") || strings.Contains(lines[2], "yes") {
		t.Errorf("cached column wrong:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteModels(&buf, specs, cached, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var rows []modelRow
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || !rows[0].Cached || rows[1].Pooling != "mean" || rows[0].Dimensions != 384 {
		t.Errorf("json rows: %+v", rows)
	}
}

func TestWriteCacheEntries(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCacheEntries(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No cached models") {
		t.Errorf("empty output: %q", buf.String())
	}

	buf.Reset()
	if err := WriteCacheEntries(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty json: %q", buf.String())
	}

	entries := []artifact.Entry{{ModelID: "BAAI/bge-small-en-v1.5", Dir: "/cache/BAAI--bge-small-en-v1.5", Bytes: 3 << 20, CompletedAt: time.Now()}}
	buf.Reset()
	if err := WriteCacheEntries(&buf, entries, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "3.0 MiB") || !strings.Contains(buf.String(), "1 models") {
		t.Errorf("text output:\n%s", buf.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
