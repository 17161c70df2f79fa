package metrics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func find(series []metrics.Series, name string) []metrics.Series {
	var out []metrics.Series
	for _, s := range series {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func TestRegistry_RecordsAnalyzerCalls(t *testing.T) {
	reg, err := metrics.NewRegistry()
	require.NoError(t, err)
	ctx := context.Background()

	reg.Recorder.AnalyzerCall(ctx, "llm", "analyze", 200*time.Millisecond, "")
	reg.Recorder.AnalyzerCall(ctx, "llm", "analyze", 100*time.Millisecond, "rate_limit")

	series, err := reg.Snapshot(ctx)
	require.NoError(t, err)

	reqs := find(series, metrics.AnalyzerRequests)
	require.Len(t, reqs, 1)
	assert.Equal(t, float64(2), reqs[0].Value)
	assert.Contains(t, reqs[0].Attributes, "analyzer=llm")

	errs := find(series, metrics.AnalyzerErrors)
	require.Len(t, errs, 1)
	assert.Equal(t, float64(1), errs[0].Value)
	assert.Contains(t, errs[0].Attributes, "kind=rate_limit")

	lat := find(series, metrics.AnalyzerLatency)
	require.Len(t, lat, 1)
	assert.Equal(t, uint64(2), lat[0].Count)
	assert.InDelta(t, 0.3, lat[0].Value, 1e-9)
}

func TestRegistry_CacheHitOnlyTouchesHitCounter(t *testing.T) {
	reg, err := metrics.NewRegistry()
	require.NoError(t, err)
	ctx := context.Background()

	reg.Recorder.CacheHit(ctx, "analyze")

	series, err := reg.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, find(series, metrics.AnalysisCacheHits), 1)
	assert.Empty(t, find(series, metrics.AnalysisRequests))
	assert.Empty(t, find(series, metrics.AnalysisDuration))
}

func TestRegistry_CompletedSetsConfidenceGauge(t *testing.T) {
	reg, err := metrics.NewRegistry()
	require.NoError(t, err)
	ctx := context.Background()

	reg.Recorder.Completed(ctx, "analyze", time.Second, 0.9)
	reg.Recorder.Completed(ctx, "analyze", time.Second, 0.7)

	series, err := reg.Snapshot(ctx)
	require.NoError(t, err)

	gauge := find(series, metrics.AnalysisConfidence)
	require.Len(t, gauge, 1)
	assert.Equal(t, 0.7, gauge[0].Value)

	reqs := find(series, metrics.AnalysisRequests)
	require.Len(t, reqs, 1)
	assert.Equal(t, float64(2), reqs[0].Value)
}

func TestRegistry_Handler(t *testing.T) {
	reg, err := metrics.NewRegistry()
	require.NoError(t, err)
	reg.Recorder.StreamStarted(context.Background())
	reg.Recorder.Failed(context.Background(), "match", "analyzer_error")

	w := httptest.NewRecorder()
	reg.Handler()(w, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Series []metrics.Series `json:"series"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, find(body.Data.Series, metrics.StreamSessions), 1)
	assert.Len(t, find(body.Data.Series, metrics.AnalysisErrors), 1)
}

func TestNoop_DoesNotPanic(t *testing.T) {
	r := metrics.Noop()
	ctx := context.Background()
	r.AnalyzerCall(ctx, "clinical", "match", time.Millisecond, "timeout")
	r.CacheHit(ctx, "analyze")
	r.Completed(ctx, "analyze", time.Millisecond, 1)
	r.Failed(ctx, "analyze", "timeout")
	r.StreamStarted(ctx)
}
