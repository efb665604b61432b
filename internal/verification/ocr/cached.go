package ocr

import (
	"context"
	"crypto/sha256"
	"image"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoises recognition results keyed by a digest of the encoded pixels.
type Cached struct {
	next  Provider
	cache *lru.Cache[[32]byte, []Token]
}

func NewCached(next Provider, size int) (*Cached, error) {
	cache, err := lru.New[[32]byte, []Token](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Name() string { return c.next.Name() }

func (c *Cached) Recognize(ctx context.Context, img image.Image) ([]Token, error) {
	key, ok := digest(img)
	if ok {
		if tokens, hit := c.cache.Get(key); hit {
			return tokens, nil
		}
	}
	tokens, err := c.next.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	if ok {
		c.cache.Add(key, tokens)
	}
	return tokens, nil
}

func digest(img image.Image) ([32]byte, bool) {
	body, err := EncodePNG(img)
	if err != nil {
		return [32]byte{}, false
	}
	return sha256.Sum256(body), true
}
