package office

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/lu4p/cat"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/extractor"
)

// Extensions handled by this extractor.
var Extensions = []string{".docx", ".odt", ".rtf"}

var contentTypes = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".rtf":  "text/rtf",
}

// Extractor reads word-processor documents. These formats carry no reliable
// page breaks, so the whole file becomes a single unit.
type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) ExtractPages(ctx context.Context, doc domain.SourceDocument) ([]domain.TextUnit, error) {
	raw, err := extractor.ReadSource(ctx, e.storage, doc)
	if err != nil {
		return nil, err
	}
	op := "extract " + doc.ID

	// cat returns unrecognised content verbatim; the detected type must match the extension.
	ext := doc.Extension()
	want, ok := contentTypes[ext]
	if !ok {
		return nil, domain.WrapError(domain.ErrExtraction, op, fmt.Errorf("unsupported extension %q", ext))
	}
	if detected := mimetype.Detect(raw); !detected.Is(want) {
		return nil, domain.WrapError(domain.ErrExtraction, op, fmt.Errorf("content is %s, not %s", detected.String(), ext))
	}

	text, err := cat.FromBytes(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, op, fmt.Errorf("read %s: %w", ext, err))
	}
	if !utf8.ValidString(text) {
		return nil, domain.WrapError(domain.ErrExtraction, op, fmt.Errorf("%s text is not valid utf-8", ext))
	}
	return []domain.TextUnit{{SourceID: doc.ID, Page: 0, Text: strings.TrimSpace(text)}}, nil
}

func (e *Extractor) ExtractText(ctx context.Context, doc domain.SourceDocument) (string, error) {
	units, err := e.ExtractPages(ctx, doc)
	if err != nil {
		return "", err
	}
	return extractor.JoinPages(units), nil
}
