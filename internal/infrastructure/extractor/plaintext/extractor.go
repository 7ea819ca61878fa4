package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/extractor"
)

// Extractor reads UTF-8 text files. Form feeds split pages.
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
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrExtraction, "decode text", fmt.Errorf("%s is not valid utf-8", doc.ID))
	}

	pages := strings.Split(string(raw), "\f")
	if len(pages) == 1 {
		return []domain.TextUnit{{SourceID: doc.ID, Page: 0, Text: strings.TrimSpace(pages[0])}}, nil
	}
	units := make([]domain.TextUnit, 0, len(pages))
	for i, page := range pages {
		units = append(units, domain.TextUnit{SourceID: doc.ID, Page: i + 1, Text: strings.TrimSpace(page)})
	}
	return units, nil
}

func (e *Extractor) ExtractText(ctx context.Context, doc domain.SourceDocument) (string, error) {
	units, err := e.ExtractPages(ctx, doc)
	if err != nil {
		return "", err
	}
	return extractor.JoinPages(units), nil
}
