package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func llmServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := New(Config{APIKey: "test-key", Model: "gpt-4", BaseURL: ts.URL + "/v1"})
	require.NoError(t, err)
	return c
}

// --- Analyze ---

func TestAnalyze_SegmentsUnionedAndMinConfidence(t *testing.T) {
	replies := []string{
		`{"entities":{"conditions":[{"text":"Hypertension","code":"I10"}]},"category_confidence":{"conditions":0.9},"confidence":0.92}`,
		`{"entities":{"conditions":[{"text":"hypertension"}],"medications":[{"text":"lisinopril"}]},"category_confidence":{"conditions":0.8},"confidence":0.87}`,
	}
	var calls atomic.Int32

	c := llmServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4", body["model"])

		i := calls.Add(1) - 1
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completion(replies[i]))
	})

	out, err := c.Analyze(context.Background(), models.AnalyzeInput{
		Text:     "segment one\nsegment two",
		Segments: []string{"segment one", "segment two"},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 0.87, out.Confidence, 1e-9)
	assert.InDelta(t, 0.8, out.CategoryConfidence["conditions"], 1e-9)
	require.Len(t, out.Entities["conditions"], 1)
	assert.Equal(t, "Hypertension", out.Entities["conditions"][0].Text)
	assert.Len(t, out.Entities["medications"], 1)
	assert.NotEmpty(t, out.Raw)
}

func TestAnalyze_MissingConfidenceIsZero(t *testing.T) {
	c := llmServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completion(`{"entities":{}}`))
	})

	out, err := c.Analyze(context.Background(), models.AnalyzeInput{Segments: []string{"text"}})
	require.NoError(t, err)
	assert.Zero(t, out.Confidence)
}

func TestAnalyze_NoText(t *testing.T) {
	c, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	_, err = c.Analyze(context.Background(), models.AnalyzeInput{})
	require.Error(t, err)
	assert.Equal(t, analyzer.KindInvalidInput, analyzer.KindOf(err))
}

func TestAnalyze_MalformedContent(t *testing.T) {
	c := llmServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completion(`not json`))
	})

	_, err := c.Analyze(context.Background(), models.AnalyzeInput{Segments: []string{"text"}})
	require.Error(t, err)
	assert.Equal(t, analyzer.KindInvalidResponse, analyzer.KindOf(err))
	assert.True(t, errors.Is(err, analyzer.ErrAnalyzer))
}

func TestAnalyze_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   analyzer.Kind
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit_error"}}`, analyzer.KindRateLimit},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, analyzer.KindAuth},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"quota","type":"insufficient_quota","code":"insufficient_quota"}}`, analyzer.KindQuota},
		{"server error", http.StatusBadGateway, `{"error":{"message":"upstream","type":"server_error"}}`, analyzer.KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := llmServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Analyze(context.Background(), models.AnalyzeInput{Segments: []string{"text"}})
			require.Error(t, err)
			assert.Equal(t, tt.want, analyzer.KindOf(err))
		})
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	c := llmServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Analyze(ctx, models.AnalyzeInput{Segments: []string{"text"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Match ---

func TestMatch_DecodesResponse(t *testing.T) {
	c := llmServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		assert.Contains(t, body.Messages[1].Content, "htn-dx")

		json.NewEncoder(w).Encode(completion(
			`{"matches":["htn-dx"],"explanations":{"htn-dx":"hypertension documented"},"criterion_confidence":{"htn-dx":0.9},"confidence":0.88,"validation_status":"success"}`))
	})

	out, err := c.Match(context.Background(), models.MatchInput{
		ClinicalData: map[string][]models.Finding{"conditions": {{Text: "hypertension"}}},
		Rules: models.CriteriaRules{
			CriteriaType: "prior_auth",
			Rules:        []models.Criterion{{ID: "htn-dx", Description: "hypertension diagnosis", Required: true}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"htn-dx"}, out.Matches)
	assert.Equal(t, "hypertension documented", out.Explanations["htn-dx"])
	assert.InDelta(t, 0.88, out.Confidence, 1e-9)
	assert.Equal(t, models.ValidationSuccess, out.ValidationStatus)
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o3-mini"))
	assert.True(t, isReasoningModel("gpt-5"))
	assert.False(t, isReasoningModel("gpt-4o"))
}

func TestName(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "llm", c.Name())
}
