package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/docqa/internal/document"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
)

// statusFor maps a pipeline error to an HTTP status code.
func statusFor(err error) int {
	var ie *document.IngestionError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, orchestrator.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.As(err, &ie) && ie.IsClientError():
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, retrieval.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// Client went away; nginx's convention.
		return 499
	default:
		return http.StatusInternalServerError
	}
}
