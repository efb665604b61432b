// Package tracer is a small tracing abstraction over OpenTelemetry.
//
// Engines take a Tracer so they can emit spans without importing OTel directly.
// NoopTracer is used in tests; OTelTracer in production.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Span represents an active trace span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
//
//	ctx, span := t.Start(ctx, tracer.SpanVerify, tracer.String(tracer.AttrSessionID, id))
//	defer func() { span.End(err) }()
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashPII returns a short, stable digest of a name or card number so spans can be
// correlated without carrying the raw value. Input is case and space insensitive.
func HashPII(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}

// Span names.
const (
	SpanTurn           = "conversation.turn"
	SpanVerify         = "verification.verify"
	SpanOCR            = "verification.ocr"
	SpanReconcile      = "payments.reconcile"
	SpanRecordsUpdate  = "records.update"
	SpanAssistantRound = "assistant.round"
)

// Attribute keys.
const (
	AttrSessionID    = "session.id"
	AttrStep         = "conversation.step"
	AttrHops         = "conversation.hops"
	AttrOCRSource    = "ocr.source"
	AttrKeywordScore = "score.keyword"
	AttrLayoutScore  = "score.layout"
	AttrLicenseScore = "score.license"
	AttrEscalated    = "ocr.escalated"
	AttrManualReview = "manual_review"
	AttrNameHash     = "registrant.name_hash"
	AttrStatus       = "result.status"
	AttrMatchTier    = "match.tier"
)
