// Package handler implements the HTTP handlers for analysis and document
// endpoints. Handlers decode the request, call one domain operation and map
// its error onto a stable status and code.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/internal/api/response"
	"github.com/kiranshivaraju/clinidoc/internal/lifecycle"
	"github.com/kiranshivaraju/clinidoc/internal/orchestrator"
	"github.com/kiranshivaraju/clinidoc/internal/processing"
	"github.com/kiranshivaraju/clinidoc/internal/store"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeSecurityContext = "INVALID_SECURITY_CONTEXT"
	CodeNotFound        = "NOT_FOUND"
	CodeTransition      = "INVALID_TRANSITION"
	CodeValidation      = "VALIDATION_FAILED"
	CodeAnalyzer        = "ANALYZER_ERROR"
	CodeTimeout         = "ANALYSIS_TIMEOUT"
	CodeStorage         = "STORAGE_UNAVAILABLE"
	CodeForbidden       = "INSUFFICIENT_SCOPE"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

type apiError struct {
	status  int
	code    string
	message string
	details any
}

// classify maps a domain error to its HTTP form. Messages never echo
// document text; analyzer and storage causes are only logged.
func classify(err error) apiError {
	var te *lifecycle.TransitionError
	var ve *lifecycle.ValidationError

	switch {
	case errors.Is(err, models.ErrInvalidSecurityContext):
		return apiError{http.StatusForbidden, CodeSecurityContext, err.Error(), nil}
	case errors.Is(err, models.ErrInvalidInput):
		return apiError{http.StatusBadRequest, CodeInvalidRequest, err.Error(), nil}
	case errors.Is(err, lifecycle.ErrNotFound):
		return apiError{http.StatusNotFound, CodeNotFound, "Document not found", nil}
	case errors.As(err, &te):
		return apiError{http.StatusConflict, CodeTransition, te.Error(), map[string]string{
			"from": string(te.From),
			"to":   string(te.To),
		}}
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, store.ErrStatusConflict):
		return apiError{http.StatusConflict, CodeTransition, "Document status changed concurrently", nil}
	case errors.As(err, &ve):
		return apiError{http.StatusUnprocessableEntity, CodeValidation, ve.Error(), map[string]string{
			"field":  ve.Field,
			"reason": ve.Reason,
		}}
	case errors.Is(err, orchestrator.ErrAnalysisTimeout),
		errors.Is(err, analyzer.ErrAnalyzerTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, CodeTimeout, "Analysis took too long and was cancelled", nil}
	case errors.Is(err, analyzer.ErrAnalyzer):
		return apiError{http.StatusBadGateway, CodeAnalyzer, "An analyzer failed", map[string]string{
			"kind": string(analyzer.KindOf(err)),
		}}
	case errors.Is(err, processing.ErrShuttingDown):
		return apiError{http.StatusServiceUnavailable, CodeUnavailable, "Server is shutting down; retry later", nil}
	case errors.Is(err, lifecycle.ErrStorage):
		return apiError{http.StatusServiceUnavailable, CodeStorage, "Storage is unavailable", nil}
	}
	return apiError{http.StatusInternalServerError, CodeInternal, "An unexpected error occurred", nil}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", e.code, "error", err)
	}
	response.Error(w, e.status, e.code, e.message, e.details)
}

func badRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, CodeInvalidRequest, message, nil)
}
