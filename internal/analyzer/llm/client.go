// Package llm is the large-language-model analyzer, backed by an
// OpenAI-compatible chat completions API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/sashabaranov/go-openai"
)

const (
	// Name identifies this analyzer in results, metrics and errors.
	Name = "llm"

	defaultModel     = "gpt-4"
	defaultMaxTokens = 2048
)

// Config configures the client. Provider selects the endpoint defaults;
// BaseURL overrides them.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
}

// Client implements models.Analyzer.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	oc, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (c *Client) Name() string { return Name }

type analyzeResponse struct {
	Entities           map[string][]models.Finding `json:"entities"`
	Confidence         *float64                    `json:"confidence"`
	CategoryConfidence map[string]float64          `json:"category_confidence"`
}

// Analyze sends every segment separately and unions the findings. The
// document confidence is the lowest segment confidence.
func (c *Client) Analyze(ctx context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error) {
	segments := in.Segments
	if len(segments) == 0 && in.Text != "" {
		segments = []string{in.Text}
	}
	if len(segments) == 0 {
		return models.AnalyzerOutput{}, analyzer.NewError(Name, analyzer.KindInvalidInput, errors.New("no text to analyze"))
	}

	sets := make([]map[string][]models.Finding, 0, len(segments))
	raw := make([]json.RawMessage, 0, len(segments))
	categories := map[string]float64{}
	confidence := 1.0

	for i, seg := range segments {
		content, err := c.complete(ctx, analyzeSystemPrompt, analyzeUserPrompt(seg, i+1, len(segments), in.Parameters))
		if err != nil {
			return models.AnalyzerOutput{}, err
		}

		var resp analyzeResponse
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return models.AnalyzerOutput{}, analyzer.NewError(Name, analyzer.KindInvalidResponse,
				fmt.Errorf("decoding segment %d: %w", i+1, err))
		}

		segConf := 0.0
		if resp.Confidence != nil {
			segConf = analyzer.ClampConfidence(*resp.Confidence)
		}
		confidence = min(confidence, segConf)

		for k, v := range resp.CategoryConfidence {
			v = analyzer.ClampConfidence(v)
			if prev, ok := categories[k]; !ok || v < prev {
				categories[k] = v
			}
		}
		sets = append(sets, resp.Entities)
		raw = append(raw, json.RawMessage(content))
	}

	rawAll, err := json.Marshal(raw)
	if err != nil {
		return models.AnalyzerOutput{}, analyzer.NewError(Name, analyzer.KindInvalidResponse, err)
	}

	return models.AnalyzerOutput{
		Entities:           analyzer.UnionFindings(sets...),
		Confidence:         confidence,
		CategoryConfidence: categories,
		Raw:                rawAll,
	}, nil
}

type matchResponse struct {
	Matches             []string           `json:"matches"`
	Explanations        map[string]string  `json:"explanations"`
	Confidence          *float64           `json:"confidence"`
	CriterionConfidence map[string]float64 `json:"criterion_confidence"`
	ValidationStatus    string             `json:"validation_status"`
}

// Match asks the model which criteria the clinical data satisfies.
func (c *Client) Match(ctx context.Context, in models.MatchInput) (models.MatchOutput, error) {
	user, err := matchUserPrompt(in)
	if err != nil {
		return models.MatchOutput{}, analyzer.NewError(Name, analyzer.KindInvalidInput, err)
	}

	content, err := c.complete(ctx, matchSystemPrompt, user)
	if err != nil {
		return models.MatchOutput{}, err
	}

	var resp matchResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return models.MatchOutput{}, analyzer.NewError(Name, analyzer.KindInvalidResponse,
			fmt.Errorf("decoding match response: %w", err))
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
	if out.ValidationStatus == "" {
		out.ValidationStatus = models.ValidationSuccess
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	// Reasoning models reject max_tokens.
	if isReasoningModel(c.model) {
		req.MaxCompletionTokens = c.maxTokens
	} else {
		req.MaxTokens = c.maxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", analyzer.NewError(Name, analyzer.KindInvalidResponse, errors.New("empty completion"))
	}
	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classifyError maps go-openai and transport errors onto analyzer kinds.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return analyzer.NewError(Name, analyzer.KindTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Type == "insufficient_quota" || fmt.Sprint(apiErr.Code) == "insufficient_quota" {
			return analyzer.NewError(Name, analyzer.KindQuota, err)
		}
		return analyzer.NewError(Name, analyzer.KindFromStatus(apiErr.HTTPStatusCode), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return analyzer.NewError(Name, analyzer.KindFromStatus(reqErr.HTTPStatusCode), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return analyzer.NewError(Name, analyzer.KindTimeout, err)
	}
	return analyzer.NewError(Name, analyzer.KindUnavailable, err)
}

var _ models.Analyzer = (*Client)(nil)
