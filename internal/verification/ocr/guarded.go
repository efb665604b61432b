package ocr

import (
	"context"
	"errors"
	"image"

	"regdesk/pkg/platform/circuit"
	dErrors "regdesk/pkg/domain-errors"
)

// Guarded wraps a provider in a circuit breaker. While the circuit is open calls
// fail fast with CodeUnavailable.
type Guarded struct {
	next    Provider
	breaker *circuit.Breaker
}

func NewGuarded(next Provider, breaker *circuit.Breaker) *Guarded {
	if next == nil || breaker == nil {
		panic("ocr.NewGuarded: provider and breaker are required")
	}
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) Name() string { return g.next.Name() }

func (g *Guarded) Recognize(ctx context.Context, img image.Image) ([]Token, error) {
	var tokens []Token
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		tokens, err = g.next.Recognize(ctx, img)
		return err
	})
	if errors.Is(err, circuit.ErrOpen) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, g.next.Name()+" ocr unavailable")
	}
	return tokens, err
}
