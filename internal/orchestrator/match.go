package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// MatchCriteria evaluates a prior analysis against a rule set on both
// analyzers. Match results are never cached.
func (o *Orchestrator) MatchCriteria(ctx context.Context, req models.MatchRequest) (*models.MatchResult, error) {
	sc := req.SecurityContext
	if err := sc.Validate(); err != nil {
		o.metrics.Failed(ctx, audit.OpMatch, "security_context")
		return nil, err
	}
	if err := validateRules(req.CriteriaRules); err != nil {
		o.metrics.Failed(ctx, audit.OpMatch, "invalid_input")
		return nil, err
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, o.failMatch(ctx, sc, ctxError(ctx))
	}
	defer o.sem.Release(1)

	start := time.Now()
	input := models.MatchInput{
		ClinicalData: req.DocumentAnalysis.Entities,
		Rules:        req.CriteriaRules,
	}
	if input.ClinicalData == nil {
		input.ClinicalData = map[string][]models.Finding{}
	}

	outs, err := fanOut(ctx, o.timeout, o.sources, func(ctx context.Context, a models.Analyzer) (models.MatchOutput, error) {
		return a.Match(ctx, input)
	})
	if err != nil {
		return nil, o.failMatch(ctx, sc, err)
	}
	elapsed := time.Since(start)

	res := o.mergeMatch(outs, req.CriteriaRules)
	res.MatchID = uuid.New()
	res.Metrics.ProcessingTimeMS = elapsed.Milliseconds()
	res.CreatedAt = time.Now().UTC()

	o.metrics.Completed(ctx, audit.OpMatch, elapsed, res.Confidence.Overall)
	o.audit.Emit(audit.Event(audit.OpMatch, sc.UserID, sc.SessionID, &elapsed, models.OutcomeSuccess))

	slog.InfoContext(ctx, "criteria matched",
		"match_id", res.MatchID,
		"analysis_id", req.DocumentAnalysis.AnalysisID,
		"session_id", sc.SessionID,
		"matched", len(res.MatchedCriteria),
		"validated", res.Validated,
		"duration_ms", res.Metrics.ProcessingTimeMS,
	)
	return res, nil
}

func (o *Orchestrator) failMatch(ctx context.Context, sc models.SecurityContext, err error) error {
	kind := errorKind(err)
	o.metrics.Failed(context.WithoutCancel(ctx), audit.OpMatch, kind)
	o.audit.Emit(audit.Event(audit.OpMatch, sc.UserID, sc.SessionID, nil, models.OutcomeFailure))
	slog.WarnContext(ctx, "criteria matching failed", "session_id", sc.SessionID, "kind", kind, "error", err)
	return err
}

func validateRules(rules models.CriteriaRules) error {
	if len(rules.Rules) == 0 {
		return fmt.Errorf("%w: criteria_rules.rules must not be empty", models.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(rules.Rules))
	for i, r := range rules.Rules {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return fmt.Errorf("%w: criteria_rules.rules[%d].id is required", models.ErrInvalidInput, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate rule id %q", models.ErrInvalidInput, id)
		}
		seen[id] = true
	}
	return nil
}
