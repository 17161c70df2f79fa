package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer/mock"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzeCall(ctx context.Context, a models.Analyzer) (models.AnalyzerOutput, error) {
	return a.Analyze(ctx, models.AnalyzeInput{Text: "patient on metformin"})
}

func TestFanOut_SuccessfulSourcesNeverReportCancellation(t *testing.T) {
	sources := []models.Analyzer{mock.New("llm", 0.9), mock.New("clinical", 0.8)}

	for i := range 5000 {
		out, err := fanOut(context.Background(), time.Minute, sources, analyzeCall)
		require.NoError(t, err, "iteration %d", i)
		require.Len(t, out, 2)
		assert.Equal(t, 0.9, out[0].Confidence)
		assert.Equal(t, 0.8, out[1].Confidence)
	}
}

func TestFanOut_Timeout(t *testing.T) {
	sources := []models.Analyzer{mock.New("llm", 0.9), mock.NewTimeout("clinical")}

	_, err := fanOut(context.Background(), 50*time.Millisecond, sources, analyzeCall)
	assert.ErrorIs(t, err, ErrAnalysisTimeout)
}

func TestFanOut_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sources := []models.Analyzer{mock.NewTimeout("llm"), mock.NewTimeout("clinical")}

	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := fanOut(ctx, time.Minute, sources, analyzeCall)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrAnalysisTimeout))
}
