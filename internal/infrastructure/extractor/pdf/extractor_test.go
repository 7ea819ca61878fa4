package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/chunking"
)

type memStorage struct {
	files map[string][]byte
}

func (s *memStorage) Save(context.Context, string, io.Reader) error { return nil }

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.files[key]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *memStorage) List(context.Context, string) ([]string, error) { return nil, nil }

func (s *memStorage) Delete(context.Context, string) error { return nil }

// buildPDF writes a minimal PDF with one Helvetica text line per page.
// An empty string produces a page with an empty content stream.
func buildPDF(pages []string) []byte {
	var buf bytes.Buffer
	var offsets []int
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, 0, len(pages))
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pages {
		writeObj(fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			5+2*i,
		))
		content := ""
		if text != "" {
			content = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func newTestExtractor(files map[string][]byte) *Extractor {
	return NewExtractor(&memStorage{files: files})
}

func TestExtractPagesReturnsOneUnitPerPage(t *testing.T) {
	raw := buildPDF([]string{"Governance page one", "Risk page two", "Security page three"})
	ex := newTestExtractor(map[string][]byte{"guidelines/policy.pdf": raw})

	units, err := ex.ExtractPages(context.Background(), domain.SourceDocument{
		ID:         "policy.pdf",
		Filename:   "policy.pdf",
		StorageKey: "guidelines/policy.pdf",
	})
	if err != nil {
		t.Fatalf("ExtractPages() error = %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(units))
	}
	for i, want := range []string{"Governance page one", "Risk page two", "Security page three"} {
		if units[i].Page != i+1 {
			t.Fatalf("unit %d has page %d", i, units[i].Page)
		}
		if units[i].SourceID != "policy.pdf" {
			t.Fatalf("unexpected source id %q", units[i].SourceID)
		}
		if !strings.Contains(units[i].Text, want) {
			t.Fatalf("page %d text %q does not contain %q", i+1, units[i].Text, want)
		}
	}
}

func TestExtractPagesKeepsEmptyPages(t *testing.T) {
	raw := buildPDF([]string{"first", "", "third"})
	ex := newTestExtractor(map[string][]byte{"a.pdf": raw})

	units, err := ex.ExtractPages(context.Background(), domain.SourceDocument{ID: "a.pdf", StorageKey: "a.pdf"})
	if err != nil {
		t.Fatalf("ExtractPages() error = %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(units))
	}
	if strings.TrimSpace(units[1].Text) != "" {
		t.Fatalf("expected empty text for page 2, got %q", units[1].Text)
	}
}

func TestExtractTextConcatenatesPages(t *testing.T) {
	raw := buildPDF([]string{"alpha", "beta"})
	ex := newTestExtractor(map[string][]byte{"a.pdf": raw})

	text, err := ex.ExtractText(context.Background(), domain.SourceDocument{ID: "a.pdf", StorageKey: "a.pdf"})
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	if strings.Index(text, "alpha") < 0 || strings.Index(text, "beta") < strings.Index(text, "alpha") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractPagesRejectsGarbage(t *testing.T) {
	ex := newTestExtractor(map[string][]byte{"bad.pdf": []byte("this is not a pdf at all, just some bytes that are long enough to be read")})

	_, err := ex.ExtractPages(context.Background(), domain.SourceDocument{ID: "bad.pdf", StorageKey: "bad.pdf"})
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractPagesMissingSource(t *testing.T) {
	ex := newTestExtractor(map[string][]byte{})

	_, err := ex.ExtractPages(context.Background(), domain.SourceDocument{ID: "gone.pdf", StorageKey: "gone.pdf"})
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestThreePagePDFChunksAtPageBreaks(t *testing.T) {
	raw := buildPDF([]string{"Introduction and scope", "Risk management framework", "Business continuity"})
	ex := newTestExtractor(map[string][]byte{"p.pdf": raw})

	units, err := ex.ExtractPages(context.Background(), domain.SourceDocument{ID: "p.pdf", StorageKey: "p.pdf"})
	if err != nil {
		t.Fatalf("ExtractPages() error = %v", err)
	}
	chunks := chunking.NewSplitter(1000, 100).SplitUnits(units)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	if chunks[0].PageStart != 1 || chunks[0].PageEnd != 1 {
		t.Fatalf("first chunk should cover page 1, got %d-%d", chunks[0].PageStart, chunks[0].PageEnd)
	}
	last := chunks[len(chunks)-1]
	if last.PageStart != 3 || last.PageEnd != 3 {
		t.Fatalf("last chunk should cover page 3, got %d-%d", last.PageStart, last.PageEnd)
	}
}
