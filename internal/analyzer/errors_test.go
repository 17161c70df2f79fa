package analyzer_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kiranshivaraju/clinidoc/internal/analyzer"
	"github.com/stretchr/testify/assert"
)

func TestError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := fmt.Errorf("calling llm: %w", analyzer.NewError("llm", analyzer.KindTimeout, cause))

	assert.True(t, errors.Is(err, analyzer.ErrAnalyzer))
	assert.True(t, errors.Is(err, analyzer.ErrAnalyzerTimeout))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "analyzer llm: timeout")

	other := analyzer.NewError("llm", analyzer.KindAuth, nil)
	assert.False(t, errors.Is(other, analyzer.ErrAnalyzerTimeout))
	assert.Equal(t, "analyzer llm: auth", other.Error())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, analyzer.IsTransient(analyzer.NewError("a", analyzer.KindRateLimit, nil)))
	assert.True(t, analyzer.IsTransient(analyzer.NewError("a", analyzer.KindUnavailable, nil)))
	assert.True(t, analyzer.IsTransient(analyzer.NewError("a", analyzer.KindTimeout, nil)))
	assert.False(t, analyzer.IsTransient(analyzer.NewError("a", analyzer.KindInvalidInput, nil)))
	assert.False(t, analyzer.IsTransient(errors.New("plain")))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, analyzer.Kind(""), analyzer.KindOf(nil))
	assert.Equal(t, analyzer.KindTimeout, analyzer.KindOf(context.DeadlineExceeded))
	assert.Equal(t, analyzer.KindInternal, analyzer.KindOf(errors.New("x")))
	assert.Equal(t, analyzer.KindAuth, analyzer.KindOf(analyzer.NewError("a", analyzer.KindAuth, nil)))
}

func TestKindFromStatus(t *testing.T) {
	tests := map[int]analyzer.Kind{
		http.StatusTooManyRequests:     analyzer.KindRateLimit,
		http.StatusUnauthorized:        analyzer.KindAuth,
		http.StatusForbidden:           analyzer.KindAuth,
		http.StatusPaymentRequired:     analyzer.KindQuota,
		http.StatusGatewayTimeout:      analyzer.KindTimeout,
		http.StatusServiceUnavailable:  analyzer.KindUnavailable,
		http.StatusInternalServerError: analyzer.KindUnavailable,
		http.StatusBadRequest:          analyzer.KindInvalidInput,
		http.StatusOK:                  analyzer.KindInvalidResponse,
	}
	for status, want := range tests {
		assert.Equal(t, want, analyzer.KindFromStatus(status), "status %d", status)
	}
}
