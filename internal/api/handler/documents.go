package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/clinidoc/internal/api/middleware"
	"github.com/kiranshivaraju/clinidoc/internal/api/response"
	"github.com/kiranshivaraju/clinidoc/internal/lifecycle"
	"github.com/kiranshivaraju/clinidoc/internal/store"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// multipartOverhead is allowed on top of the file size for form fields and boundaries.
const multipartOverhead = 1 << 20

// Processor starts the analysis pipeline for a stored document.
type Processor interface {
	Trigger(id uuid.UUID, sc models.SecurityContext) error
}

// Documents serves the /api/v1/documents endpoints.
type Documents struct {
	docs      *lifecycle.Manager
	proc      Processor
	maxUpload int64
}

// NewDocuments creates the document handlers. maxUpload <= 0 uses the
// lifecycle default.
func NewDocuments(docs *lifecycle.Manager, proc Processor, maxUpload int64) *Documents {
	if maxUpload <= 0 {
		maxUpload = lifecycle.DefaultMaxFileSize
	}
	return &Documents{docs: docs, proc: proc, maxUpload: maxUpload}
}

// Upload handles POST /api/v1/documents as multipart/form-data with the
// fields file, authorization_id, document_type and optional security_metadata
// (a JSON object of strings).
func (h *Documents) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest,
				fmt.Sprintf("Document exceeds %d bytes", h.maxUpload), nil)
			return
		}
		badRequest(w, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	authID, err := uuid.Parse(r.FormValue("authorization_id"))
	if err != nil {
		badRequest(w, "authorization_id must be a UUID")
		return
	}
	docType, ok := models.ParseDocumentType(r.FormValue("document_type"))
	if !ok {
		badRequest(w, "document_type is invalid")
		return
	}
	var secMeta map[string]string
	if raw := r.FormValue("security_metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &secMeta); err != nil {
			badRequest(w, "security_metadata must be a JSON object of strings")
			return
		}
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		badRequest(w, "Could not read file")
		return
	}

	doc, err := h.docs.Create(r.Context(), lifecycle.Upload{
		AuthorizationID:  authID,
		DocumentType:     docType,
		Filename:         header.Filename,
		Content:          content,
		SecurityMetadata: secMeta,
	}, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, doc.Representation(false))
}

// List handles GET /api/v1/documents.
func (h *Documents) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	docs, total, err := h.docs.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]models.DocumentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, d.Representation(false))
	}
	page, limit := filter.Pagination()
	response.Collection(w, views, response.Paginate(page, limit, total))
}

// Get handles GET /api/v1/documents/{documentID}. include_sensitive=true
// needs the phi:read scope.
func (h *Documents) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	sensitive, _ := strconv.ParseBool(r.URL.Query().Get("include_sensitive"))
	if sensitive {
		c, ok := mw.GetClient(r)
		if !ok || !c.HasScope(models.ScopePHIRead) {
			response.Error(w, http.StatusForbidden, CodeForbidden,
				"include_sensitive requires the "+models.ScopePHIRead+" scope", nil)
			return
		}
	}

	doc, err := h.docs.Get(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, doc.Representation(sensitive))
}

// UpdateStatus handles PUT /api/v1/documents/{documentID}/status.
func (h *Documents) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	next, ok := models.ParseStatus(req.Status)
	if !ok {
		badRequest(w, "status must be one of PENDING, PROCESSING, PROCESSED, FAILED")
		return
	}

	doc, err := h.docs.UpdateStatus(r.Context(), id, next, actorFrom(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, doc.Representation(false))
}

// UpdateAnalysis handles PUT /api/v1/documents/{documentID}/analysis.
func (h *Documents) UpdateAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req lifecycle.AnalysisUpdate
	if !decode(w, r, &req) {
		return
	}

	doc, err := h.docs.UpdateAIAnalysis(r.Context(), id, req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, doc.Representation(false))
}

// Process handles POST /api/v1/documents/{documentID}/process. The pipeline
// runs in the background; the caller polls the document for the outcome.
func (h *Documents) Process(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var req struct {
		SecurityContext models.SecurityContext `json:"security_context"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := req.SecurityContext.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := h.docs.Get(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !lifecycle.CanTransition(doc.Status, models.StatusProcessing) {
		writeError(w, r, &lifecycle.TransitionError{From: doc.Status, To: models.StatusProcessing})
		return
	}

	if err := h.proc.Trigger(id, req.SecurityContext); err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, map[string]string{
		"document_id": id.String(),
		"status":      "accepted",
	})
}

func documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		badRequest(w, "Invalid document ID format")
		return uuid.Nil, false
	}
	return id, true
}

// actorFrom names the authenticated client as the actor. The session is the
// X-Session-ID header when present, the request ID otherwise.
func actorFrom(r *http.Request) lifecycle.Actor {
	a := lifecycle.Actor{ID: "anonymous", SessionID: chimw.GetReqID(r.Context())}
	if c, ok := mw.GetClient(r); ok {
		a.ID = c.Name
	}
	if s := r.Header.Get("X-Session-ID"); s != "" {
		a.SessionID = s
	}
	return a
}

func parseFilter(r *http.Request) (store.DocumentFilter, error) {
	q := r.URL.Query()
	var f store.DocumentFilter

	if v := q.Get("authorization_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("authorization_id must be a UUID")
		}
		f.AuthorizationID = id
	}
	if v := q.Get("status"); v != "" {
		s, ok := models.ParseStatus(v)
		if !ok {
			return f, errors.New("status is invalid")
		}
		f.Status = s
	}
	if v := q.Get("document_type"); v != "" {
		t, ok := models.ParseDocumentType(v)
		if !ok {
			return f, errors.New("document_type is invalid")
		}
		f.DocumentType = t
	}
	f.UploadedBy = q.Get("uploaded_by")

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{
		{"created_after", &f.CreatedAfter},
		{"created_before", &f.CreatedBefore},
	} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%s must be a valid RFC3339 timestamp", p.name)
			}
			*p.dst = t
		}
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"page", &f.Page},
		{"limit", &f.Limit},
	} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return f, fmt.Errorf("%s must be a positive integer", p.name)
			}
			if p.name == "page" && n > store.MaxPage {
				return f, fmt.Errorf("page must be at most %d", store.MaxPage)
			}
			*p.dst = n
		}
	}
	return f, nil
}
