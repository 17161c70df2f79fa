package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/clinidoc/internal/metrics"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// Policy bounds how an analyzer call is attempted.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

// DefaultPolicy is 3 attempts, 4s doubling to a 10s cap, 30s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		MaxDelay:    10 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	return p
}

// Retrying wraps an Analyzer with per-attempt timeouts, retry on transient
// failures, confidence clamping and call metrics.
type Retrying struct {
	next    models.Analyzer
	policy  Policy
	metrics *metrics.Recorder
}

// WithRetry wraps next. A nil recorder records nothing.
func WithRetry(next models.Analyzer, policy Policy, rec *metrics.Recorder) *Retrying {
	if rec == nil {
		rec = metrics.Noop()
	}
	return &Retrying{next: next, policy: policy.normalized(), metrics: rec}
}

func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) Analyze(ctx context.Context, in models.AnalyzeInput) (models.AnalyzerOutput, error) {
	var out models.AnalyzerOutput
	err := r.do(ctx, "analyze", func(ctx context.Context) error {
		o, err := r.next.Analyze(ctx, in)
		if err == nil {
			out = o
		}
		return err
	})
	if err != nil {
		return models.AnalyzerOutput{}, err
	}

	out.Confidence = ClampConfidence(out.Confidence)
	for k, v := range out.CategoryConfidence {
		out.CategoryConfidence[k] = ClampConfidence(v)
	}
	if out.Entities == nil {
		out.Entities = map[string][]models.Finding{}
	}
	return out, nil
}

func (r *Retrying) Match(ctx context.Context, in models.MatchInput) (models.MatchOutput, error) {
	var out models.MatchOutput
	err := r.do(ctx, "match", func(ctx context.Context) error {
		o, err := r.next.Match(ctx, in)
		if err == nil {
			out = o
		}
		return err
	})
	if err != nil {
		return models.MatchOutput{}, err
	}

	out.Confidence = ClampConfidence(out.Confidence)
	for k, v := range out.CriterionConfidence {
		out.CriterionConfidence[k] = ClampConfidence(v)
	}
	if out.ValidationStatus == "" {
		out.ValidationStatus = models.ValidationFailed
	}
	return out, nil
}

func (r *Retrying) do(ctx context.Context, op string, call func(context.Context) error) error {
	name := r.next.Name()

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.policy.CallTimeout)
		defer cancel()

		start := time.Now()
		err := r.classify(ctx, callCtx, call(callCtx))
		r.metrics.AnalyzerCall(ctx, name, op, time.Since(start), string(KindOf(err)))

		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil, !IsTransient(err):
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.policy.BaseDelay
	bo.MaxInterval = r.policy.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.policy.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		slog.Warn("analyzer call failed, retrying",
			"analyzer", name,
			"operation", op,
			"kind", KindOf(err),
			"wait", wait,
		)
	})
	if err == nil {
		return nil
	}

	var ae *Error
	if !errors.As(err, &ae) && errors.Is(err, context.DeadlineExceeded) {
		return NewError(name, KindTimeout, err)
	}
	return err
}

// classify turns raw errors into *Error. A deadline on the attempt context with
// a live parent is the per-call timeout.
func (r *Retrying) classify(parent, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if parent.Err() != nil {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(r.next.Name(), KindTimeout, err)
	}
	return NewError(r.next.Name(), KindInternal, err)
}

var _ models.Analyzer = (*Retrying)(nil)
