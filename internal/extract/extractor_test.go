package extract

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/fastembed/internal/testutil"
)

func TestExtractBytes_plain(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		ext     string
		want    string
	}{
		{"txt", []byte("Hello world\nLine 2"), ".txt", "Hello world\nLine 2"},
		{"utf8", []byte("caf\xc3\xa9"), ".md", "café"},
		{"invalid utf8", []byte("hello\x80world"), ".rst", "hello�world"},
		{"bom", []byte("\xEF\xBB\xBFhello"), ".txt", "hello"},
		{"unknown extension", []byte("just text"), ".xyz", "just text"},
		{"no extension", []byte("just text"), "", "just text"},
	}
	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes(tt.content, tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_everyMinimalDocument(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor()
	for _, ext := range testutil.DocumentExtensions {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "doc"+ext)
			if err := os.WriteFile(path, testutil.MinimalDocument(ext, "Embeddable content"), 0600); err != nil {
				t.Fatal(err)
			}
			got, err := e.Extract(path)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != "Embeddable content" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_upperCaseExtension(t *testing.T) {
	got, err := NewExtractor().ExtractBytes(testutil.MinimalDocument(".docx", "Shouting"), ".DOCX")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Shouting" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxMainPartFromContentTypes(t *testing.T) {
	doc := func(text string) string {
		return `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`
	}
	tests := []struct {
		name     string
		override string
		part     string
	}{
		{"part name first", `<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`, "word/document2.xml"},
		{"content type first", `<Override ContentType="` + docxMainContentType + `" PartName="/word/document3.xml"/>`, "word/document3.xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := testutil.ZipOf(map[string]string{
				contentTypesPath: `<?xml version="1.0" encoding="UTF-8"?><Types>` + tt.override + `</Types>`,
				tt.part:          doc("Content from " + tt.part),
			})
			got, err := NewExtractor().ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != "Content from "+tt.part {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_pptxSlideOrder(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	content := testutil.ZipOf(map[string]string{
		"ppt/slides/slide10.xml": slide("Tenth"),
		"ppt/slides/slide2.xml":  slide("Second"),
		"ppt/slides/slide1.xml":  slide("First"),
	})
	got, err := NewExtractor().ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "First Second Tenth" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_pptxEmpty(t *testing.T) {
	got, err := NewExtractor().ExtractBytes(testutil.ZipOf(map[string]string{"ppt/presentation.xml": "<p/>"}), ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestExtractBytes_odpHeadingsAndSpans(t *testing.T) {
	content := testutil.ZipOf(map[string]string{
		"content.xml": `<office:document><text:h text:outline-level="1">Title</text:h><text:p>Body</text:p><text:span>Span</text:span></office:document>`,
	})
	got, err := NewExtractor().ExtractBytes(content, ".odp")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Body Span Title" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_odsMultipleCells(t *testing.T) {
	content := testutil.ZipOf(map[string]string{
		"content.xml": `<office:document><table:table-cell><text:p>A1</text:p></table:table-cell><table:table-cell><text:p>B1</text:p></table:table-cell></office:document>`,
	})
	got, err := NewExtractor().ExtractBytes(content, ".ods")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "A1 B1" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_errors(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		ext     string
		want    string
	}{
		{"pptx not zip", []byte("not a zip"), ".pptx", "not a zip"},
		{"docx not zip", []byte("not a zip"), ".docx", "not a zip"},
		{"odp without content", testutil.ZipOf(map[string]string{"meta.xml": "<m/>"}), ".odp", "content.xml not found"},
		{"ods without content", testutil.ZipOf(map[string]string{"meta.xml": "<m/>"}), ".ods", "content.xml not found"},
		{"docx without body", testutil.ZipOf(map[string]string{"other.xml": "<m/>"}), ".docx", "word/document.xml not found"},
		{"bad pdf", []byte("%PDF-garbage"), ".pdf", "PDF"},
		{"bad xlsx", []byte("garbage"), ".xlsx", "Excel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor().ExtractBytes(tt.content, tt.ext)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestExtract_fileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewExtractor().Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := NewExtractor().Extract(dir); err == nil {
		t.Error("expected error for directory")
	}
	big := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(big, []byte(strings.Repeat("x", 100)), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewExtractor(WithMaxBytes(10)).Extract(big); err == nil || !strings.Contains(err.Error(), "limit") {
		t.Errorf("err = %v, want size limit error", err)
	}
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	for _, want := range []string{".pdf", ".docx", ".odt", ".rtf", ".txt"} {
		found := false
		for _, e := range exts {
			found = found || e == want
		}
		if !found {
			t.Errorf("missing %s in %v", want, exts)
		}
	}
}

func TestSplit(t *testing.T) {
	text := "first line\r\nsecond line\n\n  \nthird paragraph\nstill third\n"
	tests := []struct {
		mode SplitMode
		want []string
	}{
		{SplitNone, []string{"first line\nsecond line\n\n  \nthird paragraph\nstill third"}},
		{SplitLines, []string{"first line", "second line", "third paragraph", "still third"}},
		{SplitParagraphs, []string{"first line\nsecond line", "third paragraph\nstill third"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := Split(text, tt.mode); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
	if got := Split("   \n\n", SplitLines); len(got) != 0 {
		t.Errorf("blank text: got %q", got)
	}
}

func TestParseSplitMode(t *testing.T) {
	for in, want := range map[string]SplitMode{"": SplitNone, "Lines": SplitLines, "paragraphs": SplitParagraphs, "none": SplitNone} {
		got, err := ParseSplitMode(in)
		if err != nil || got != want {
			t.Errorf("ParseSplitMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSplitMode("words"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
