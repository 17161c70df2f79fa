// Package clinical is the client for the clinical NLP model service.
package clinical

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// Name identifies this analyzer in results, metrics and errors.
const Name = "clinical"

// maxErrorBody bounds how much of a failed response is kept for the error message.
const maxErrorBody = 512

// HTTPClient implements models.Analyzer against the clinical model's HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a clinical model client. timeout bounds a single HTTP
// round trip; per-attempt deadlines come from the caller's context.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string { return Name }

type analyzeRequest struct {
	Text       string            `json:"text"`
	Segments   []string          `json:"segments"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type analyzeResponse struct {
	Entities           map[string][]models.Finding `json:"entities"`
	Confidence         *float64                    `json:"confidence"`
	CategoryConfidence map[string]float64          `json:"category_confidence"`
}

func (c *HTTPClient) Analyze(ctx context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error) {
	segments := in.Segments
	if segments == nil {
		segments = []string{}
	}

	var resp analyzeResponse
	raw, err := c.post(ctx, "/v1/analyze", analyzeRequest{
		Text:       in.Text,
		Segments:   segments,
		Parameters: in.Parameters,
	}, &resp)
	if err != nil {
		return models.AnalyzerOutput{}, err
	}

	out := models.AnalyzerOutput{
		Entities:           analyzer.UnionFindings(resp.Entities),
		CategoryConfidence: map[string]float64{},
		Raw:                raw,
	}
	if resp.Confidence != nil {
		out.Confidence = analyzer.ClampConfidence(*resp.Confidence)
	}
	for k, v := range resp.CategoryConfidence {
		out.CategoryConfidence[k] = analyzer.ClampConfidence(v)
	}
	return out, nil
}

type matchRequest struct {
	ClinicalData map[string][]models.Finding `json:"clinical_data"`
	CriteriaType string                      `json:"criteria_type"`
	Rules        []models.Criterion          `json:"rules"`
}

type matchResponse struct {
	Matches             []string           `json:"matches"`
	Explanations        map[string]string  `json:"explanations"`
	Confidence          *float64           `json:"confidence"`
	CriterionConfidence map[string]float64 `json:"criterion_confidence"`
	ValidationStatus    string             `json:"validation_status"`
}

func (c *HTTPClient) Match(ctx context.Context, in models.MatchInput) (models.MatchOutput, error) {
	var resp matchResponse
	if _, err := c.post(ctx, "/v1/match", matchRequest{
		ClinicalData: in.ClinicalData,
		CriteriaType: in.Rules.CriteriaType,
		Rules:        in.Rules.Rules,
	}, &resp); err != nil {
		return models.MatchOutput{}, err
	}

	out := models.MatchOutput{
		Matches:             resp.Matches,
		Explanations:        resp.Explanations,
		CriterionConfidence: resp.CriterionConfidence,
		ValidationStatus:    resp.ValidationStatus,
	}
	if resp.Confidence != nil {
		out.Confidence = analyzer.ClampConfidence(*resp.Confidence)
	}
	if out.Explanations == nil {
		out.Explanations = map[string]string{}
	}
	return out, nil
}

// Ready reports whether the model service answers its health endpoint.
func (c *HTTPClient) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return analyzer.NewError(Name, analyzer.KindUnavailable,
			fmt.Errorf("clinical model not ready (status %d)", resp.StatusCode))
	}
	return nil
}

// post sends body as JSON and decodes a 200 response into out. The raw
// response bytes are returned for AnalyzerOutput.Raw.
func (c *HTTPClient) post(ctx context.Context, path string, body, out any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, analyzer.NewError(Name, analyzer.KindInvalidInput, fmt.Errorf("encoding request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, analyzer.NewError(Name, analyzer.KindFromStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, analyzer.NewError(Name, analyzer.KindInvalidResponse, fmt.Errorf("decoding %s response: %w", path, err))
	}
	return raw, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyError maps transport-level errors to analyzer kinds. Cancellation
// is returned as is so callers can tell it apart from a timeout.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return analyzer.NewError(Name, analyzer.KindTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return analyzer.NewError(Name, analyzer.KindTimeout, err)
	}
	return analyzer.NewError(Name, analyzer.KindUnavailable, err)
}

// Compile-time check that HTTPClient implements models.Analyzer.
var _ models.Analyzer = (*HTTPClient)(nil)
