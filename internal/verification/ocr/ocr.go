// Package ocr turns an identity photo into positioned text tokens.
//
// Two providers exist: a local OCR sidecar reached over HTTP and AWS Textract.
// Both report token centres in pixel space of the image they were given, so
// geometry from either tier can be scored the same way.
package ocr

import (
	"context"
	"image"
)

//go:generate mockgen -source=ocr.go -destination=mocks/mocks.go -package=mocks Provider

// Token is one recognised line of text and the centre of its bounding box.
type Token struct {
	Text       string  `json:"text"`
	CenterX    float64 `json:"center_x"`
	CenterY    float64 `json:"center_y"`
	Confidence float64 `json:"confidence"`
}

// Provider recognises text in an image.
type Provider interface {
	Recognize(ctx context.Context, img image.Image) ([]Token, error)
	Name() string
}

// Texts returns the token texts in recognition order.
func Texts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}
