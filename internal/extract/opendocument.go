package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const odfContentPath = "content.xml"

// OpenDocument text elements. Separate patterns keep opening and closing tags paired.
var (
	odfTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func extractODP(content []byte) (string, error) {
	return extractOpenDocument(content, "ODP", odfTextP, odfTextSpan, odfTextH)
}

func extractODS(content []byte) (string, error) {
	return extractOpenDocument(content, "ODS", odfTextP, odfTextSpan)
}

// extractOpenDocument reads content.xml and appends the matches of each pattern in turn.
func extractOpenDocument(content []byte, format string, patterns ...*regexp.Regexp) (string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return "", err
	}
	xml, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: read %s: %w", format, odfContentPath, err)
	}
	if xml == nil {
		return "", fmt.Errorf("extract %s: %s not found", format, odfContentPath)
	}
	var b strings.Builder
	for _, re := range patterns {
		appendMatches(&b, string(xml), re)
	}
	return strings.TrimSpace(b.String()), nil
}
