// Package extract turns uploaded documents into plain text for prompt
// injection.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/sirupsen/logrus"
)

// Text-like MIME types handled by the plain-text extractor.
var textMimeTypes = map[string]bool{
	"text/plain":               true,
	"text/csv":                 true,
	"text/markdown":            true,
	"text/md":                  true,
	"application/json":         true,
	"text/xml":                 true,
	"text/rtf":                 true,
	"text/css":                 true,
	"application/x-javascript": true,
	"text/javascript":          true,
	"application/x-python":     true,
	"text/x-python":            true,
}

// Supported reports whether text extraction is available for the MIME type.
func Supported(mimeType string) bool {
	mimeType = normalizeMime(mimeType)
	return mimeType == "text/html" || textMimeTypes[mimeType] || strings.HasPrefix(mimeType, "text/")
}

// Text extracts plain text from an uploaded document. maxChars bounds the
// returned text; truncation appends an explicit marker so the model knows
// the document was cut.
func Text(data []byte, mimeType, filename string, maxChars int) (string, error) {
	mimeType = normalizeMime(mimeType)
	if mimeType == "" {
		return "", fmt.Errorf("no MIME type for %q, cannot determine extraction method", filename)
	}

	var (
		text string
		err  error
	)
	switch {
	case mimeType == "text/html":
		text, err = htmlText(data)
	case textMimeTypes[mimeType] || strings.HasPrefix(mimeType, "text/"):
		text, err = plainText(data)
	default:
		return "", fmt.Errorf("unsupported MIME type %q for %q", mimeType, filename)
	}
	if err != nil {
		return "", fmt.Errorf("extract text from %q: %w", filename, err)
	}

	text = strings.TrimSpace(text)
	if maxChars > 0 && len(text) > maxChars {
		logrus.Infof("extracted text from %q truncated from %d to %d characters", filename, len(text), maxChars)
		text = text[:maxChars] + fmt.Sprintf("\n[content truncated, original length exceeded %d characters]", maxChars)
	}
	return text, nil
}

// plainText decodes bytes as UTF-8, falling back to Latin-1 for legacy
// uploads.
func plainText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(rune(c))
	}
	return b.String(), nil
}

// htmlText extracts the readable article text from an HTML document.
func htmlText(data []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(data), nil)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}
	return article.TextContent, nil
}

// WrapDocument frames extracted text so the model can tell documents apart.
func WrapDocument(filename, text string) string {
	return fmt.Sprintf("\n\n--- START OF DOCUMENT: %s ---\n\n%s\n\n--- END OF DOCUMENT: %s ---\n", filename, text, filename)
}

func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
