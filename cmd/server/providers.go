package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/kiranshivaraju/clinidoc/internal/analyzer/clinical"
	"github.com/kiranshivaraju/clinidoc/internal/analyzer/llm"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/internal/blob"
	"github.com/kiranshivaraju/clinidoc/internal/config"
	"github.com/kiranshivaraju/clinidoc/internal/metrics"
	"github.com/kiranshivaraju/clinidoc/pkg/models"
)

// newAnalyzers builds the LLM and clinical analyzers, each wrapped with the
// configured retry policy.
func newAnalyzers(cfg config.AIConfig, rec *metrics.Recorder) (llmA, clinicalA models.Analyzer, err error) {
	policy := retryPolicy(cfg.Retry)

	l, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("llm analyzer: %w", err)
	}
	c := clinical.NewHTTPClient(cfg.Clinical.BaseURL, cfg.Clinical.APIKey, cfg.Clinical.Timeout)

	return analyzer.WithRetry(l, policy, rec), analyzer.WithRetry(c, policy, rec), nil
}

func retryPolicy(cfg config.RetryConfig) analyzer.Policy {
	return analyzer.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		CallTimeout: cfg.CallTimeout,
	}
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (*blob.MinioStore, error) {
	return blob.NewMinioStore(ctx, blob.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
		Encrypt:   cfg.Encrypt,
	})
}

// newAuditSink logs every event and persists it when a durable sink is given.
func newAuditSink(logger *slog.Logger, durable audit.Sink) audit.Sink {
	sinks := audit.MultiSink{audit.NewLogSink(logger)}
	if durable != nil {
		sinks = append(sinks, durable)
	}
	return sinks
}
