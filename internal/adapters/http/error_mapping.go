package httpadapter

import (
	"net/http"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrUnknownTemplate):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrBuildNotFound), domain.IsKind(err, domain.ErrIndexNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrBuildInProgress):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrEmbeddingService), domain.IsKind(err, domain.ErrGenerationService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
