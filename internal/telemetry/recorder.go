package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// SpanRecorder is an in-memory span exporter for tests.
type SpanRecorder struct {
	mu    sync.RWMutex
	spans []trace.ReadOnlySpan
}

func NewSpanRecorder() *SpanRecorder {
	return &SpanRecorder{}
}

func (r *SpanRecorder) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.spans = append(r.spans, spans...)
	return nil
}

func (r *SpanRecorder) Shutdown(ctx context.Context) error {
	return nil
}

func (r *SpanRecorder) Spans() []trace.ReadOnlySpan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]trace.ReadOnlySpan, len(r.spans))
	copy(result, r.spans)
	return result
}

func (r *SpanRecorder) SpansByName(name string) []trace.ReadOnlySpan {
	return r.filter(func(span trace.ReadOnlySpan) bool {
		return span.Name() == name
	})
}

func (r *SpanRecorder) SpansByOperation(operation string) []trace.ReadOnlySpan {
	return r.filter(func(span trace.ReadOnlySpan) bool {
		for _, attr := range span.Attributes() {
			if attr.Key == "operation" && attr.Value.AsString() == operation {
				return true
			}
		}
		return false
	})
}

func (r *SpanRecorder) filter(match func(trace.ReadOnlySpan) bool) []trace.ReadOnlySpan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []trace.ReadOnlySpan
	for _, span := range r.spans {
		if match(span) {
			result = append(result, span)
		}
	}
	return result
}

func (r *SpanRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.spans = nil
}

// NewRecordingProvider returns a provider that exports synchronously into
// the recorder, so spans are visible as soon as they end.
func NewRecordingProvider(recorder *SpanRecorder) *trace.TracerProvider {
	return trace.NewTracerProvider(
		trace.WithSyncer(recorder),
		trace.WithResource(resource.NewWithAttributes(resource.Default().SchemaURL())),
	)
}
