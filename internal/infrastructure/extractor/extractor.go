package extractor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

// Router dispatches extraction by file extension.
type Router struct {
	byExt map[string]ports.TextExtractor
}

func NewRouter(routes map[string]ports.TextExtractor) *Router {
	byExt := make(map[string]ports.TextExtractor, len(routes))
	for ext, extractor := range routes {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		byExt[ext] = extractor
	}
	return &Router{byExt: byExt}
}

func (r *Router) Supports(doc domain.SourceDocument) bool {
	_, ok := r.byExt[doc.Extension()]
	return ok
}

func (r *Router) ExtractPages(ctx context.Context, doc domain.SourceDocument) ([]domain.TextUnit, error) {
	extractor, err := r.route(doc)
	if err != nil {
		return nil, err
	}
	return extractor.ExtractPages(ctx, doc)
}

func (r *Router) ExtractText(ctx context.Context, doc domain.SourceDocument) (string, error) {
	extractor, err := r.route(doc)
	if err != nil {
		return "", err
	}
	return extractor.ExtractText(ctx, doc)
}

func (r *Router) route(doc domain.SourceDocument) (ports.TextExtractor, error) {
	extractor, ok := r.byExt[doc.Extension()]
	if !ok {
		return nil, domain.WrapError(domain.ErrExtraction, "route extractor", fmt.Errorf("unsupported format %q for %s", doc.Extension(), doc.ID))
	}
	return extractor, nil
}

// ReadSource loads the raw bytes of a stored source document.
func ReadSource(ctx context.Context, storage ports.ObjectStorage, doc domain.SourceDocument) ([]byte, error) {
	reader, err := storage.Open(ctx, doc.StorageKey)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "open source document", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "read source document", err)
	}
	return raw, nil
}

// JoinPages concatenates page texts in order, separated by a blank line. Empty pages are skipped.
func JoinPages(units []domain.TextUnit) string {
	parts := make([]string, 0, len(units))
	for _, unit := range units {
		if strings.TrimSpace(unit.Text) == "" {
			continue
		}
		parts = append(parts, unit.Text)
	}
	return strings.Join(parts, "\n\n")
}
