package testutil

import (
	"archive/zip"
	"bytes"

	"github.com/xuri/excelize/v2"
)

// DocumentExtensions lists the formats MinimalDocument can build.
var DocumentExtensions = []string{".txt", ".md", ".rst", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}

// MinimalDocument returns the smallest file of type ext whose extracted text is text.
// Unknown extensions get the raw text.
func MinimalDocument(ext, text string) []byte {
	switch ext {
	case ".docx":
		return ZipOf(map[string]string{
			"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`,
		})
	case ".pptx":
		return ZipOf(map[string]string{
			"ppt/slides/slide1.xml": `<p:sld xmlns:p="a" xmlns:a="b"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`,
		})
	case ".odp":
		return ZipOf(map[string]string{
			"content.xml": `<office:document><office:body><draw:page><draw:text-box><text:p>` + text + `</text:p></draw:text-box></draw:page></office:body></office:document>`,
		})
	case ".ods":
		return ZipOf(map[string]string{
			"content.xml": `<office:document><office:body><table:table><table:table-row><table:table-cell><text:p>` + text + `</text:p></table:table-cell></table:table-row></table:table></office:body></office:document>`,
		})
	case ".xlsx":
		f := excelize.NewFile()
		defer f.Close()
		_ = f.SetCellValue("Sheet1", "A1", text)
		var buf bytes.Buffer
		_, _ = f.WriteTo(&buf)
		return buf.Bytes()
	default:
		return []byte(text)
	}
}

// ZipOf builds a zip archive holding the given name to content entries.
func ZipOf(entries map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(content))
	}
	_ = w.Close()
	return buf.Bytes()
}
