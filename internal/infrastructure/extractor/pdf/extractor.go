package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
	"github.com/kirillkom/compliance-rag/internal/infrastructure/extractor"
)

const defaultPageTimeout = 10 * time.Second

type Extractor struct {
	storage     ports.ObjectStorage
	pageTimeout time.Duration
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{
		storage:     storage,
		pageTimeout: defaultPageTimeout,
	}
}

// ExtractPages returns one unit per page in page order. Pages without
// extractable text come back as empty strings.
func (e *Extractor) ExtractPages(ctx context.Context, doc domain.SourceDocument) ([]domain.TextUnit, error) {
	raw, err := extractor.ReadSource(ctx, e.storage, doc)
	if err != nil {
		return nil, err
	}

	reader, err := openReader(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtraction, "parse pdf "+doc.ID, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, domain.WrapError(domain.ErrExtraction, "parse pdf "+doc.ID, errors.New("document has no pages"))
	}

	units := make([]domain.TextUnit, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		units = append(units, domain.TextUnit{
			SourceID: doc.ID,
			Page:     i,
			Text:     e.pageText(ctx, reader, doc.ID, i),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
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

func (e *Extractor) pageText(ctx context.Context, reader *pdflib.Reader, sourceID string, number int) string {
	page := reader.Page(number)
	if page.V.IsNull() {
		return ""
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic while reading page: %v", r)}
			}
		}()
		text, err := page.GetPlainText(nil)
		done <- result{text: text, err: err}
	}()

	timer := time.NewTimer(e.pageTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			slog.WarnContext(ctx, "pdf_page_unreadable", "source_id", sourceID, "page", number, "error", r.err)
			return ""
		}
		return r.text
	case <-timer.C:
		slog.WarnContext(ctx, "pdf_page_timeout", "source_id", sourceID, "page", number)
		return ""
	case <-ctx.Done():
		return ""
	}
}

func openReader(raw []byte) (reader *pdflib.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			reader = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	return pdflib.NewReader(bytes.NewReader(raw), int64(len(raw)))
}
