// Package response writes the JSON envelopes shared by every handler.
// Success bodies are {"data": ...}, optionally with "meta" for paged
// collections; failures are {"error": {"code", "message", "details"}}.
// Bodies can carry PHI, so every response is marked uncacheable.
package response

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
)

type body struct {
	Data  any             `json:"data,omitempty"`
	Meta  *PaginationMeta `json:"meta,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the payload of an error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// Paginate builds the meta block for one page of a collection.
func Paginate(page, limit, total int) PaginationMeta {
	return PaginationMeta{Page: page, Limit: limit, Total: total, HasNext: page*limit < total}
}

func JSON(w http.ResponseWriter, data any)     { write(w, http.StatusOK, body{Data: data}) }
func Created(w http.ResponseWriter, data any)  { write(w, http.StatusCreated, body{Data: data}) }
func Accepted(w http.ResponseWriter, data any) { write(w, http.StatusAccepted, body{Data: data}) }

// Collection writes one page of items. A nil slice is sent as [].
func Collection[T any](w http.ResponseWriter, items []T, meta PaginationMeta) {
	if items == nil {
		items = []T{}
	}
	write(w, http.StatusOK, body{Data: items, Meta: &meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, body{Error: &ErrorBody{Code: code, Message: message, Details: details}})
}

// write encodes before touching the ResponseWriter so a value that cannot
// be marshalled still produces a well-formed 500.
func write(w http.ResponseWriter, status int, v body) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("failed to encode response", "status", status, "error", err)
		status = http.StatusInternalServerError
		buf.Reset()
		buf.WriteString(`{"error":{"code":"INTERNAL_ERROR","message":"Failed to encode response"}}` + "\n")
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("failed to write response body", "status", status, "error", err)
	}
}
