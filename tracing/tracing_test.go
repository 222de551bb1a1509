package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansAreExported(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("gpumux-test", "dev", exporter))

	ctx, parent := StartSpan(context.Background(), "tick")
	_, child := StartSpan(ctx, "spawn", attribute.Int("job", 3))
	child.End(errors.New("screen failed"))
	parent.End(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "spawn", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.Int("job", 3))
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())

	assert.Equal(t, "tick", spans[1].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
}

func TestNilSpanIsSafe(t *testing.T) {
	var span *Span
	assert.NotPanics(t, func() {
		span.SetAttributes(attribute.String("k", "v"))
		span.End(nil)
	})
}
