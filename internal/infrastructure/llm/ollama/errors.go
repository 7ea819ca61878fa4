package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// classifyError tags err with the service kind and, where the cause is known,
// the backend signal. Unavailability and rate limits are also ErrTemporary.
func classifyError(service error, operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return domain.WrapKinds(operation, err, service)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return domain.WrapKinds(operation, err, service, domain.ErrRateLimited, domain.ErrTemporary)
		case statusErr.StatusCode == http.StatusRequestTimeout || statusErr.StatusCode >= 500:
			return domain.WrapKinds(operation, err, service, domain.ErrBackendUnavailable, domain.ErrTemporary)
		default:
			return domain.WrapKinds(operation, err, service, domain.ErrMalformedRequest)
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return domain.WrapKinds(operation, err, service, domain.ErrBackendUnavailable, domain.ErrTemporary)
	}
	return domain.WrapKinds(operation, err, service)
}
