package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/internal/analyzer/mock"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/internal/cache"
	"github.com/kiranshivaraju/clinidoc/internal/metrics"
	"github.com/kiranshivaraju/clinidoc/internal/orchestrator"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noteText = "Pt has hx of HTN and diabetes. Taking metformin 500 mg bid."

// --- helpers ---

func validContext() models.SecurityContext {
	return models.SecurityContext{UserID: "user-1", AccessLevel: "clinician", SessionID: "sess-1"}
}

func analyzeRequest(text string) models.AnalysisRequest {
	return models.AnalysisRequest{
		DocumentText:    text,
		Parameters:      map[string]string{"document_type": "CLINICAL_NOTES"},
		SecurityContext: validContext(),
	}
}

func newOrchestrator(t *testing.T, llm, clinical models.Analyzer, opts orchestrator.Options) *orchestrator.Orchestrator {
	t.Helper()
	return orchestrator.New(llm, clinical, cache.NewTiered(100, time.Minute, nil), opts)
}

func find(series []metrics.Series, name string) []metrics.Series {
	var out []metrics.Series
	for _, s := range series {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (s *recordingSink) Record(_ context.Context, e models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// gatedAnalyzer blocks every Analyze until release is closed and signals
// entered on the first call.
func gatedAnalyzer(name string, confidence float64, entered chan<- struct{}, release <-chan struct{}) *mock.Analyzer {
	base := mock.New(name, confidence)
	var once sync.Once
	return &mock.Analyzer{
		Name_: name,
		AnalyzeFunc: func(ctx context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error) {
			once.Do(func() { close(entered) })
			select {
			case <-release:
			case <-ctx.Done():
				return models.AnalyzerOutput{}, ctx.Err()
			}
			return base.AnalyzeFunc(ctx, in)
		},
	}
}

// --- AnalyzeDocument ---

func TestAnalyzeDocument_OverallIsMinimum(t *testing.T) {
	o := newOrchestrator(t, mock.New("llm", 0.92), mock.New("clinical", 0.87), orchestrator.Options{})

	res, err := o.AnalyzeDocument(context.Background(), analyzeRequest(noteText))
	require.NoError(t, err)

	assert.InDelta(t, 0.87, res.Confidence.Overall, 1e-9)
	assert.Equal(t, map[string]float64{"llm": 0.92, "clinical": 0.87}, res.Confidence.Sources)
	assert.Equal(t, res.Confidence.Sources, res.Metrics.SourceConfidence)
	assert.InDelta(t, 0.87, res.Confidence.Categories["conditions"], 1e-9)
	assert.NotEqual(t, "", res.AnalysisID.String())
	assert.Equal(t, 1, res.Metrics.SegmentCount)
	assert.False(t, res.CreatedAt.IsZero())
}

func TestAnalyzeDocument_EntitiesUnionedWithoutDuplicates(t *testing.T) {
	llm := &mock.Analyzer{Name_: "llm", AnalyzeFunc: func(context.Context, models.AnalyzeInput) (models.AnalyzerOutput, error) {
		return models.AnalyzerOutput{
			Entities: map[string][]models.Finding{
				"conditions":  {{Text: "Hypertension"}, {Text: "diabetes"}},
				"medications": {{Text: "metformin"}},
			},
			Confidence: 0.9,
		}, nil
	}}
	clinical := &mock.Analyzer{Name_: "clinical", AnalyzeFunc: func(context.Context, models.AnalyzeInput) (models.AnalyzerOutput, error) {
		return models.AnalyzerOutput{
			Entities: map[string][]models.Finding{
				"conditions": {{Text: "hypertension", Code: "I10"}, {Text: "obesity"}},
				"procedures": {{Text: "ECG"}},
			},
			Confidence:         0.95,
			CategoryConfidence: map[string]float64{"conditions": 0.7},
		}, nil
	}}
	o := newOrchestrator(t, llm, clinical, orchestrator.Options{})

	res, err := o.AnalyzeDocument(context.Background(), analyzeRequest(noteText))
	require.NoError(t, err)

	var conditions []string
	for _, f := range res.Entities["conditions"] {
		conditions = append(conditions, f.Text)
	}
	assert.Equal(t, []string{"Hypertension", "diabetes", "obesity"}, conditions)
	assert.Len(t, res.Entities["medications"], 1)
	assert.Len(t, res.Entities["procedures"], 1)

	assert.InDelta(t, 0.7, res.Confidence.Categories["conditions"], 1e-9)
	assert.InDelta(t, 0.9, res.Confidence.Categories["medications"], 1e-9)
	assert.InDelta(t, 0.95, res.Confidence.Categories["procedures"], 1e-9)
}

func TestAnalyzeDocument_RedactsBeforeAnalyzers(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	capture := func(name string) *mock.Analyzer {
		return &mock.Analyzer{Name_: name, AnalyzeFunc: func(_ context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error) {
			mu.Lock()
			seen = append(seen, in.Text)
			mu.Unlock()
			return models.AnalyzerOutput{Confidence: 0.9}, nil
		}}
	}
	o := newOrchestrator(t, capture("llm"), capture("clinical"), orchestrator.Options{})

	res, err := o.AnalyzeDocument(context.Background(), analyzeRequest("SSN 123-45-6789 noted, pt stable"))
	require.NoError(t, err)

	require.Len(t, seen, 2)
	for _, text := range seen {
		assert.NotContains(t, text, "123-45-6789")
		assert.Contains(t, text, "[REDACTED]")
		assert.Contains(t, text, "patient stable")
	}
	require.Len(t, res.SensitiveSpans, 1)
	assert.Equal(t, models.SensitiveSpan{Start: 4, End: 15, Class: "ssn"}, res.SensitiveSpans[0])
}

func TestAnalyzeDocument_CacheHitSkipsAnalyzers(t *testing.T) {
	reg, err := metrics.NewRegistry()
	require.NoError(t, err)
	llm, clinical := mock.New("llm", 0.95), mock.New("clinical", 0.9)
	o := newOrchestrator(t, llm, clinical, orchestrator.Options{Metrics: reg.Recorder})
	ctx := context.Background()

	first, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
	require.NoError(t, err)
	second, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
	require.NoError(t, err)

	assert.Equal(t, int64(1), llm.AnalyzeCalls())
	assert.Equal(t, int64(1), clinical.AnalyzeCalls())
	assert.Equal(t, first, second)

	series, err := reg.Snapshot(ctx)
	require.NoError(t, err)
	hits := find(series, metrics.AnalysisCacheHits)
	require.Len(t, hits, 1)
	assert.Equal(t, float64(1), hits[0].Value)
	reqs := find(series, metrics.AnalysisRequests)
	require.Len(t, reqs, 1)
	assert.Equal(t, float64(1), reqs[0].Value)
}

func TestAnalyzeDocument_CachedResultIsNotShared(t *testing.T) {
	o := newOrchestrator(t, mock.New("llm", 0.95), mock.New("clinical", 0.9), orchestrator.Options{})
	ctx := context.Background()

	first, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
	require.NoError(t, err)
	first.Entities["conditions"] = nil
	first.Confidence.Sources["llm"] = 0

	second, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
	require.NoError(t, err)
	assert.NotEmpty(t, second.Entities["conditions"])
	assert.InDelta(t, 0.95, second.Confidence.Sources["llm"], 1e-9)
}

func TestAnalyzeDocument_CacheKeyIncludesContextAndParameters(t *testing.T) {
	llm, clinical := mock.New("llm", 0.95), mock.New("clinical", 0.95)
	o := newOrchestrator(t, llm, clinical, orchestrator.Options{})
	ctx := context.Background()

	req := analyzeRequest(noteText)
	_, err := o.AnalyzeDocument(ctx, req)
	require.NoError(t, err)

	other := req
	other.SecurityContext.UserID = "user-2"
	_, err = o.AnalyzeDocument(ctx, other)
	require.NoError(t, err)

	params := req
	params.Parameters = map[string]string{"document_type": "LAB_REPORT"}
	_, err = o.AnalyzeDocument(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, int64(3), llm.AnalyzeCalls())
}

func TestAnalyzeDocument_LowConfidenceNotCached(t *testing.T) {
	llm, clinical := mock.New("llm", 0.95), mock.New("clinical", 0.84)
	o := newOrchestrator(t, llm, clinical, orchestrator.Options{})
	ctx := context.Background()

	for range 2 {
		_, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), llm.AnalyzeCalls())
	assert.Equal(t, int64(2), clinical.AnalyzeCalls())
}

func TestAnalyzeDocument_ThresholdIsInclusive(t *testing.T) {
	llm, clinical := mock.New("llm", 0.95), mock.New("clinical", orchestrator.CacheThreshold)
	o := newOrchestrator(t, llm, clinical, orchestrator.Options{})
	ctx := context.Background()

	for range 2 {
		_, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), llm.AnalyzeCalls())
}

func TestAnalyzeDocument_CacheExpiresAfterTTL(t *testing.T) {
	llm, clinical := mock.New("llm", 0.95), mock.New("clinical", 0.95)
	o := orchestrator.New(llm, clinical, cache.NewTiered(10, 50*time.Millisecond, nil), orchestrator.Options{})
	ctx := context.Background()

	_, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, err = o.AnalyzeDocument(ctx, analyzeRequest(noteText))
	require.NoError(t, err)

	assert.Equal(t, int64(2), llm.AnalyzeCalls())
}

func TestAnalyzeDocument_CoalescesConcurrentIdenticalRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	llm := gatedAnalyzer("llm", 0.6, entered, release)
	clinical := mock.New("clinical", 0.6)
	o := newOrchestrator(t, llm, clinical, orchestrator.Options{})

	var wg sync.WaitGroup
	results := make([]*models.AnalysisResult, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = o.AnalyzeDocument(context.Background(), analyzeRequest(noteText))
		}()
		if i == 0 {
			<-entered
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int64(1), llm.AnalyzeCalls())
	assert.Equal(t, int64(1), clinical.AnalyzeCalls())
	assert.Equal(t, results[0].AnalysisID, results[1].AnalysisID)
}

func TestAnalyzeDocument_WaiterSurvivesLeaderCancellation(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	llm := gatedAnalyzer("llm", 0.9, entered, release)
	o := newOrchestrator(t, llm, mock.New("clinical", 0.9), orchestrator.Options{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := o.AnalyzeDocument(leaderCtx, analyzeRequest(noteText))
		leaderErr <- err
	}()
	<-entered

	waiterDone := make(chan error, 1)
	go func() {
		_, err := o.AnalyzeDocument(context.Background(), analyzeRequest(noteText))
		waiterDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	select {
	case err := <-waiterDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not finish")
	}
}

func TestAnalyzeDocument_InvalidSecurityContext(t *testing.T) {
	llm, clinical := mock.New("llm", 0.9), mock.New("clinical", 0.9)
	o := newOrchestrator(t, llm, clinical, orchestrator.Options{})

	for _, sc := range []models.SecurityContext{
		{},
		{UserID: "u", AccessLevel: "read"},
		{UserID: "u", SessionID: "s"},
		{AccessLevel: "read", SessionID: "s"},
	} {
		req := analyzeRequest(noteText)
		req.SecurityContext = sc
		_, err := o.AnalyzeDocument(context.Background(), req)
		assert.ErrorIs(t, err, models.ErrInvalidSecurityContext)
	}
	assert.Zero(t, llm.AnalyzeCalls())
	assert.Zero(t, clinical.AnalyzeCalls())
}

func TestAnalyzeDocument_InvalidInput(t *testing.T) {
	llm := mock.New("llm", 0.9)
	o := newOrchestrator(t, llm, mock.New("clinical", 0.9), orchestrator.Options{})

	_, err := o.AnalyzeDocument(context.Background(), analyzeRequest("   \n\t "))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Zero(t, llm.AnalyzeCalls())
}

func TestAnalyzeDocument_FailsFastOnAnalyzerError(t *testing.T) {
	authErr := analyzer.NewError("llm", analyzer.KindAuth, errors.New("bad key"))
	o := newOrchestrator(t, mock.NewFailing("llm", authErr), mock.NewTimeout("clinical"),
		orchestrator.Options{Timeout: 5 * time.Second})

	start := time.Now()
	_, err := o.AnalyzeDocument(context.Background(), analyzeRequest(noteText))
	require.Error(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, analyzer.ErrAnalyzer)
	assert.Equal(t, analyzer.KindAuth, analyzer.KindOf(err))
}

func TestAnalyzeDocument_CombinedTimeout(t *testing.T) {
	o := newOrchestrator(t, mock.NewTimeout("llm"), mock.NewTimeout("clinical"),
		orchestrator.Options{Timeout: 50 * time.Millisecond})

	_, err := o.AnalyzeDocument(context.Background(), analyzeRequest(noteText))
	assert.ErrorIs(t, err, orchestrator.ErrAnalysisTimeout)
}

func TestAnalyzeDocument_CallerDeadline(t *testing.T) {
	o := newOrchestrator(t, mock.NewTimeout("llm"), mock.New("clinical", 0.9),
		orchestrator.Options{Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
	assert.ErrorIs(t, err, orchestrator.ErrAnalysisTimeout)
}

func TestAnalyzeDocument_CallerCancellation(t *testing.T) {
	o := newOrchestrator(t, mock.NewTimeout("llm"), mock.NewTimeout("clinical"),
		orchestrator.Options{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeDocument_AnalyzerTimeoutWaitsForOtherSource(t *testing.T) {
	timeoutErr := analyzer.NewError("llm", analyzer.KindTimeout, context.DeadlineExceeded)
	clinical := mock.New("clinical", 0.9)
	o := newOrchestrator(t, mock.NewFailing("llm", timeoutErr), clinical, orchestrator.Options{})

	_, err := o.AnalyzeDocument(context.Background(), analyzeRequest(noteText))
	assert.ErrorIs(t, err, analyzer.ErrAnalyzerTimeout)
	assert.NotErrorIs(t, err, orchestrator.ErrAnalysisTimeout)
	assert.Equal(t, int64(1), clinical.AnalyzeCalls())
}

func TestAnalyzeDocument_FailureCountedAndNotCached(t *testing.T) {
	reg, err := metrics.NewRegistry()
	require.NoError(t, err)
	failing := mock.NewFailing("llm", analyzer.NewError("llm", analyzer.KindUnavailable, errors.New("503")))
	o := newOrchestrator(t, failing, mock.New("clinical", 0.99), orchestrator.Options{Metrics: reg.Recorder})
	ctx := context.Background()

	for range 2 {
		_, err := o.AnalyzeDocument(ctx, analyzeRequest(noteText))
		require.Error(t, err)
	}
	assert.Equal(t, int64(2), failing.AnalyzeCalls())

	series, err := reg.Snapshot(ctx)
	require.NoError(t, err)
	errs := find(series, metrics.AnalysisErrors)
	require.Len(t, errs, 1)
	assert.Equal(t, float64(2), errs[0].Value)
	assert.Contains(t, errs[0].Attributes, "kind=unavailable")
}

func TestAnalyzeDocument_EmitsAudit(t *testing.T) {
	sink := &recordingSink{}
	d := audit.NewDispatcher(sink, time.Second)
	o := newOrchestrator(t, mock.New("llm", 0.9), mock.New("clinical", 0.9), orchestrator.Options{Audit: d})

	res, err := o.AnalyzeDocument(context.Background(), analyzeRequest(noteText))
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.Equal(t, res.Audit.AuditID, e.ID)
	assert.Equal(t, audit.OpAnalyze, e.Operation)
	assert.Equal(t, "user-1", e.Actor)
	assert.Equal(t, "sess-1", e.SessionID)
	require.NotNil(t, e.Duration)
	assert.Equal(t, models.OutcomeSuccess, e.Outcome)
}

func TestAnalyzeDocument_SegmentsLongText(t *testing.T) {
	var segments int
	llm := &mock.Analyzer{Name_: "llm", AnalyzeFunc: func(_ context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error) {
		segments = len(in.Segments)
		return models.AnalyzerOutput{Confidence: 0.9}, nil
	}}
	o := newOrchestrator(t, llm, mock.New("clinical", 0.9), orchestrator.Options{SegmentLength: 100})

	text := strings.Repeat("patient reports mild chest pain on exertion\n", 10)
	res, err := o.AnalyzeDocument(context.Background(), analyzeRequest(text))
	require.NoError(t, err)
	assert.Greater(t, segments, 1)
	assert.Equal(t, segments, res.Metrics.SegmentCount)
}
