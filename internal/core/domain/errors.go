package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrTemporary       = errors.New("temporary failure")
	ErrBuildNotFound   = errors.New("build not found")
	ErrBuildInProgress = errors.New("build already in progress")

	// ErrExtraction marks a source document that could not be read or parsed.
	// It is reported per document and never aborts a whole batch on its own.
	ErrExtraction = errors.New("extraction failed")

	ErrEmbeddingService  = errors.New("embedding service failure")
	ErrGenerationService = errors.New("generation service failure")

	// Backend signals carried next to ErrEmbeddingService / ErrGenerationService.
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrRateLimited        = errors.New("rate limited")
	ErrMalformedRequest   = errors.New("malformed request")

	ErrIndexNotFound = errors.New("index not found")
	ErrIndexCorrupt  = errors.New("index corrupt")
	ErrIndexBuild    = errors.New("index build failed")

	ErrUnknownTemplate = errors.New("unknown template")
	ErrMissingBinding  = errors.New("missing template binding")

	// ErrRetrievalQA wraps every failure surfaced by an answer request.
	ErrRetrievalQA = errors.New("retrieval qa failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// WrapKinds attaches several kinds at once, e.g. a service kind plus the backend signal.
func WrapKinds(operation string, err error, kinds ...error) error {
	if err == nil {
		return nil
	}
	for i := len(kinds) - 1; i >= 0; i-- {
		if kinds[i] == nil || errors.Is(err, kinds[i]) {
			continue
		}
		err = fmt.Errorf("%w: %w", kinds[i], err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
