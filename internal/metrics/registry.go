package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/kiranshivaraju/clinidoc/internal/api/response"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Registry wires a Recorder to an in-process SDK provider whose state can be
// read back as JSON.
type Registry struct {
	Recorder *Recorder

	reader    *sdkmetric.ManualReader
	provider  *sdkmetric.MeterProvider
	startTime time.Time
}

// NewRegistry builds the SDK provider and instruments.
func NewRegistry() (*Registry, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := New(provider.Meter("github.com/kiranshivaraju/clinidoc"))
	if err != nil {
		return nil, err
	}
	return &Registry{Recorder: rec, reader: reader, provider: provider, startTime: time.Now()}, nil
}

// Series is one data point in a snapshot.
type Series struct {
	Name       string  `json:"name"`
	Attributes string  `json:"attributes,omitempty"`
	Value      float64 `json:"value"`
	Count      uint64  `json:"count,omitempty"`
}

// Snapshot collects current values sorted by name then attributes.
func (g *Registry) Snapshot(ctx context.Context) ([]Series, error) {
	var rm metricdata.ResourceMetrics
	if err := g.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}

	enc := attribute.DefaultEncoder()
	var out []Series
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Series{Name: m.Name, Attributes: dp.Attributes.Encoded(enc), Value: float64(dp.Value)})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Series{Name: m.Name, Attributes: dp.Attributes.Encoded(enc), Value: dp.Sum, Count: dp.Count})
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Series{Name: m.Name, Attributes: dp.Attributes.Encoded(enc), Value: dp.Value})
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Attributes < out[j].Attributes
	})
	return out, nil
}

// Handler serves the snapshot at GET /api/v1/metrics.
func (g *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		series, err := g.Snapshot(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to collect metrics", nil)
			return
		}
		response.JSON(w, map[string]any{
			"uptime_seconds": time.Since(g.startTime).Seconds(),
			"series":         series,
		})
	}
}

// Shutdown flushes and stops the provider.
func (g *Registry) Shutdown(ctx context.Context) error {
	return g.provider.Shutdown(ctx)
}
