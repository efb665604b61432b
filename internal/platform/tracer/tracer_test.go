package tracer_test

import (
	"context"
	"errors"
	"testing"

	"regdesk/internal/platform/tracer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNoopTracer(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanVerify, tracer.String(tracer.AttrSessionID, "s-1"))

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.SetAttributes(tracer.Float64(tracer.AttrKeywordScore, 0.89))
	span.AddEvent("escalated", tracer.Bool(tracer.AttrEscalated, true))
	span.End(errors.New("ocr timeout"))
}

func TestOTelTracerWithNoopProvider(t *testing.T) {
	tr := tracer.NewOTelWith(noop.NewTracerProvider().Tracer("test"))

	_, span := tr.Start(context.Background(), tracer.SpanReconcile,
		tracer.Int(tracer.AttrMatchTier, 1),
		tracer.Duration("elapsed", 0),
	)
	span.SetAttributes(tracer.String(tracer.AttrStatus, "partial"))
	span.End(nil)
}

func TestHashPII(t *testing.T) {
	assert.Empty(t, tracer.HashPII("  "))
	assert.Len(t, tracer.HashPII("Jane Doe"), 16)
	assert.Equal(t, tracer.HashPII("Jane Doe"), tracer.HashPII(" jane doe "))
	assert.NotEqual(t, tracer.HashPII("Jane Doe"), tracer.HashPII("John Doe"))
}
