package documents

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a minimal one-object-per-page PDF with a correct xref
// table, one text line per page.
func buildPDF(t *testing.T, pages []string) []byte {
	t.Helper()

	type object struct {
		num  int
		body string
	}

	objects := []object{
		{1, "<< /Type /Catalog /Pages 2 0 R >>"},
		{3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"},
	}

	kids := make([]string, 0, len(pages))
	for i, text := range pages {
		pageNum := 4 + 2*i
		contentNum := pageNum + 1
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))

		objects = append(objects, object{
			num: pageNum,
			body: fmt.Sprintf(
				"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
				contentNum),
		})

		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects, object{
			num:  contentNum,
			body: fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		})
	}

	objects = append(objects, object{
		num:  2,
		body: fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
	})

	size := 4 + 2*len(pages)
	offsets := make(map[int]int, size)

	sb := &strings.Builder{}
	sb.WriteString("%PDF-1.4\n")

	for _, obj := range objects {
		offsets[obj.num] = sb.Len()
		fmt.Fprintf(sb, "%d 0 obj\n%s\nendobj\n", obj.num, obj.body)
	}

	xrefOffset := sb.Len()
	fmt.Fprintf(sb, "xref\n0 %d\n", size)
	sb.WriteString("0000000000 65535 f \n")
	for num := 1; num < size; num++ {
		fmt.Fprintf(sb, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(sb, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, xrefOffset)

	return []byte(sb.String())
}

func TestExtractSinglePage(t *testing.T) {
	payload := buildPDF(t, []string{"Hello world"})

	extractor := NewPDFExtractor()
	extraction, err := extractor.Extract(context.Background(), payload, "hello.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "hello.pdf", extraction.Name)
	assert.Equal(t, 1, extraction.Pages)
	assert.Contains(t, extraction.Text, "Hello world")
	assert.True(t, strings.HasSuffix(extraction.Text, "\n"), "each page's text ends with a newline")
}

func TestExtractKeepsPageOrder(t *testing.T) {
	payload := buildPDF(t, []string{"first page", "second page", "third page"})

	extractor := NewPDFExtractor()
	extraction, err := extractor.Extract(context.Background(), payload, "ordered.pdf", "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, 3, extraction.Pages)

	first := strings.Index(extraction.Text, "first page")
	second := strings.Index(extraction.Text, "second page")
	third := strings.Index(extraction.Text, "third page")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	require.NotEqual(t, -1, third)
	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestExtractRejectsUnsupportedMimeType(t *testing.T) {
	extractor := NewPDFExtractor()

	tests := []string{"text/plain", "image/png", "", "application/msword"}
	for _, mimeType := range tests {
		t.Run("mime type "+mimeType, func(t *testing.T) {
			_, err := extractor.Extract(context.Background(), []byte("irrelevant"), "doc", mimeType)
			assert.ErrorIs(t, err, ErrUnsupportedFormat)
		})
	}
}

func TestExtractRejectsCorruptPayload(t *testing.T) {
	extractor := NewPDFExtractor()

	_, err := extractor.Extract(context.Background(), []byte("this is not a pdf"), "bad.pdf", "application/pdf")
	assert.ErrorIs(t, err, ErrCorruptDocument)
}

func TestExtractHonorsCancellation(t *testing.T) {
	payload := buildPDF(t, []string{"page"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	extractor := NewPDFExtractor()
	_, err := extractor.Extract(ctx, payload, "doc.pdf", "application/pdf")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPageErrorCarriesPageNumber(t *testing.T) {
	err := &PageError{Page: 3, cause: fmt.Errorf("bad content stream")}
	assert.Contains(t, err.Error(), "page 3")
	assert.Contains(t, err.Error(), "bad content stream")
}
