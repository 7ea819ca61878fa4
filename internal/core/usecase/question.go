package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

// questionPrefix cannot collide with a namespace: namespaces start with [a-z0-9].
const questionPrefix = "_questions"

// QuestionDocumentUseCase extracts the full text of an uploaded document so it
// can be asked as a question, e.g. a policy checked against a namespace.
type QuestionDocumentUseCase struct {
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
}

func NewQuestionDocumentUseCase(storage ports.ObjectStorage, extractor ports.TextExtractor) *QuestionDocumentUseCase {
	return &QuestionDocumentUseCase{storage: storage, extractor: extractor}
}

func (uc *QuestionDocumentUseCase) ReadQuestion(ctx context.Context, filename string, body io.Reader) (string, error) {
	name := sanitizeFilename(filename)
	doc := domain.SourceDocument{
		ID:         name,
		Filename:   name,
		StorageKey: questionPrefix + "/" + uuid.NewString() + "/" + name,
	}
	if err := uc.storage.Save(ctx, doc.StorageKey, body); err != nil {
		return "", fmt.Errorf("save question document: %w", err)
	}
	defer func() {
		if err := uc.storage.Delete(context.WithoutCancel(ctx), doc.StorageKey); err != nil {
			slog.WarnContext(ctx, "question_document_cleanup_failed", "key", doc.StorageKey, "error", err)
		}
	}()

	text, err := uc.extractor.ExtractText(ctx, doc)
	if err != nil {
		return "", domain.WrapKinds("read question document", err, domain.ErrInvalidInput, domain.ErrExtraction)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapKinds("read question document", errors.New("document has no extractable text"), domain.ErrInvalidInput, domain.ErrExtraction)
	}
	return text, nil
}
