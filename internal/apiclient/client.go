// Package apiclient is a Go client for the clinidoc HTTP API.
package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

const defaultTimeout = 2 * time.Minute

// maxStreamLine bounds a single NDJSON event; chunk results carry entity lists.
const maxStreamLine = 4 << 20

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusServiceUnavailable
}

// Options configures a Client. Zero values take defaults.
type Options struct {
	Timeout    time.Duration
	MaxRetries uint64
	HTTPClient *http.Client
}

// Client calls the API with a bearer key.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	maxRetries uint64
}

// New creates a Client for baseURL, e.g. http://localhost:8080.
func New(baseURL, apiKey string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		http:       hc,
		maxRetries: opts.MaxRetries,
	}
}

// Analyze calls POST /api/v1/analysis/analyze.
func (c *Client) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	var out models.AnalysisResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/analysis/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Match calls POST /api/v1/analysis/match.
func (c *Client) Match(ctx context.Context, req models.MatchRequest) (*models.MatchResult, error) {
	var out models.MatchResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/analysis/match", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamRequest is the body of POST /api/v1/analysis/stream.
type StreamRequest struct {
	DocumentText    string                 `json:"document_text"`
	ChunkSize       int                    `json:"chunk_size,omitempty"`
	Parameters      map[string]string      `json:"parameters,omitempty"`
	SecurityContext models.SecurityContext `json:"security_context"`
}

// Stream calls POST /api/v1/analysis/stream and yields events as they
// arrive. A request or decode failure is yielded once as an error and ends
// the sequence. Streams are never retried.
func (c *Client) Stream(ctx context.Context, req StreamRequest) iter.Seq2[models.StreamEvent, error] {
	return func(yield func(models.StreamEvent, error) bool) {
		resp, err := c.send(ctx, http.MethodPost, "/api/v1/analysis/stream", "application/json", req)
		if err != nil {
			yield(models.StreamEvent{}, err)
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), maxStreamLine)
		for sc.Scan() {
			if len(bytes.TrimSpace(sc.Bytes())) == 0 {
				continue
			}
			var ev models.StreamEvent
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				yield(models.StreamEvent{}, fmt.Errorf("decoding stream event: %w", err))
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(models.StreamEvent{}, fmt.Errorf("reading stream: %w", err))
		}
	}
}

// Upload describes a document to send to POST /api/v1/documents.
type Upload struct {
	AuthorizationID  uuid.UUID
	DocumentType     models.DocumentType
	Filename         string
	Content          []byte
	SecurityMetadata map[string]string
}

// UploadDocument stores a new document.
func (c *Client) UploadDocument(ctx context.Context, u Upload) (*models.DocumentView, error) {
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"authorization_id", u.AuthorizationID.String()},
		{"document_type", string(u.DocumentType)},
	}
	if len(u.SecurityMetadata) > 0 {
		raw, err := json.Marshal(u.SecurityMetadata)
		if err != nil {
			return nil, fmt.Errorf("encoding security metadata: %w", err)
		}
		fields = append(fields, [2]string{"security_metadata", string(raw)})
	}
	for _, f := range fields {
		if err := mp.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("writing form: %w", err)
		}
	}
	fw, err := mp.CreateFormFile("file", u.Filename)
	if err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}
	if _, err := fw.Write(u.Content); err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}
	if err := mp.Close(); err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/api/v1/documents", mp.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.DocumentView
	if err := decodeData(resp.Body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocument fetches a document. includeSensitive needs the phi:read scope.
func (c *Client) GetDocument(ctx context.Context, id uuid.UUID, includeSensitive bool) (*models.DocumentView, error) {
	path := "/api/v1/documents/" + id.String()
	if includeSensitive {
		path += "?" + url.Values{"include_sensitive": {strconv.FormatBool(true)}}.Encode()
	}
	var out models.DocumentView
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessDocument starts background analysis of a stored document.
func (c *Client) ProcessDocument(ctx context.Context, id uuid.UUID, sc models.SecurityContext) error {
	body := map[string]any{"security_context": sc}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/documents/"+id.String()+"/process", body, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeData(resp.Body, out)
}

// send issues the request, retrying 429 and 503 responses with exponential
// backoff, and returns the first 2xx response.
func (c *Client) send(ctx context.Context, method, path, contentType string, body any) (*http.Response, error) {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		payload = raw
	}

	var resp *http.Response
	op := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}

		r, err := c.http.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("calling %s %s: %w", method, path, err))
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}
		apiErr := readError(r)
		if apiErr.Retryable() {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

func readError(r *http.Response) *APIError {
	defer r.Body.Close()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: r.StatusCode, Code: "HTTP_ERROR", Message: http.StatusText(r.StatusCode)}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func decodeData(r io.Reader, out any) error {
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
