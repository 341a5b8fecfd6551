package documents

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptDocument   = errors.New("corrupt document")
)

// PageError reports a failure to extract text from one page. Extraction is
// fail-fast: a page error aborts the whole document, there are no
// partial-document results.
type PageError struct {
	Page  int
	cause error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("failed to extract text from page %d: %v", e.Page, e.cause)
}

func (e *PageError) Unwrap() error {
	return e.cause
}

// Extraction is the plain-text projection of one document, pages concatenated
// in page order with a newline after each page.
type Extraction struct {
	Name  string
	Text  string
	Pages int
}

// Extractor converts a binary document payload into plain text.
type Extractor interface {
	Extract(ctx context.Context, payload []byte, name string, mimeType string) (*Extraction, error)
}

// PDFExtractor extracts text from PDF payloads.
type PDFExtractor struct{}

var _ Extractor = (*PDFExtractor)(nil)

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) Extract(ctx context.Context, payload []byte, name string, mimeType string) (*Extraction, error) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "application/pdf", "application/x-pdf":
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "mime type %q", mimeType)
	}

	reader, err := pdf.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptDocument, "structural parse failed: %v", err)
	}

	totalPages := reader.NumPage()
	sb := strings.Builder{}

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := extractPage(reader, pageNum)
		if err != nil {
			return nil, &PageError{Page: pageNum, cause: err}
		}

		sb.WriteString(text)
		sb.WriteString("\n")
	}

	log.Debug().
		Str("name", name).
		Int("pages", totalPages).
		Int("text_len", sb.Len()).
		Msg("Extracted document text")

	return &Extraction{
		Name:  name,
		Text:  sb.String(),
		Pages: totalPages,
	}, nil
}

func extractPage(reader *pdf.Reader, pageNum int) (text string, err error) {
	// The pdf library panics on malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("content stream parse failed: %v", r)
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return "", errors.New("page is missing")
	}

	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(text, "\n"), nil
}
