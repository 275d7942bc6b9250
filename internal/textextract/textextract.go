// Package textextract implements the TextExtractor external collaborator
// (spec §4.3) for plain-text attachments. Structured formats (PDF, DOCX)
// need a dedicated parser library; none of the retrieved example repos
// import one, so extraction here is scoped to what net/http's content
// sniffing can already tell is text, and anything else is rejected rather
// than guessed at.
package textextract

import (
	"context"
	"net/http"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// PlainText extracts text from attachments whose bytes are already text:
// UTF-8 validated, and confirmed non-binary via http.DetectContentType.
type PlainText struct{}

// New builds a PlainText extractor.
func New() *PlainText { return &PlainText{} }

// ExtractText implements fileresolver.TextExtractor.
func (PlainText) ExtractText(_ context.Context, filename string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.Errorf("%s: not valid UTF-8 text", filename)
	}
	contentType := http.DetectContentType(data)
	if len(contentType) < 5 || contentType[:5] != "text/" {
		return "", errors.Errorf("%s: detected content type %q is not extractable plain text", filename, contentType)
	}
	return string(data), nil
}
