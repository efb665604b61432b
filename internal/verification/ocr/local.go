package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// LocalProvider calls an OCR sidecar that accepts a PNG body and answers with
// quadrilateral boxes:
//
//	POST {base}/ocr  ->  {"results":[{"text":"...","box":[[x,y],[x,y],[x,y],[x,y]],"confidence":0.97}]}
type LocalProvider struct {
	baseURL    string
	client     *http.Client
	maxSide    int
	maxRetries uint64
}

// LocalOption configures a LocalProvider.
type LocalOption func(*LocalProvider)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) LocalOption {
	return func(p *LocalProvider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithMaxSide bounds the longest image side sent to the sidecar.
func WithMaxSide(n int) LocalOption {
	return func(p *LocalProvider) {
		p.maxSide = n
	}
}

// WithRetries sets how many times a 5xx or transport failure is retried.
func WithRetries(n uint64) LocalOption {
	return func(p *LocalProvider) {
		p.maxRetries = n
	}
}

func NewLocalProvider(baseURL string, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		maxSide:    2000,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *LocalProvider) Name() string { return "local" }

type localResponse struct {
	Results []struct {
		Text       string       `json:"text"`
		Box        [][2]float64 `json:"box"`
		Confidence float64      `json:"confidence"`
	} `json:"results"`
}

func (p *LocalProvider) Recognize(ctx context.Context, img image.Image) ([]Token, error) {
	body, err := EncodePNG(Preprocess(img, p.maxSide))
	if err != nil {
		return nil, err
	}

	var out localResponse
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/ocr", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "image/png")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("local ocr: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("local ocr: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("local ocr: decode response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	if err := backoff.Retry(call, backoff.WithContext(backoff.WithMaxRetries(policy, p.maxRetries), ctx)); err != nil {
		return nil, err
	}

	tokens := make([]Token, 0, len(out.Results))
	for _, r := range out.Results {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		cx, cy := boxCenter(r.Box)
		tokens = append(tokens, Token{Text: r.Text, CenterX: cx, CenterY: cy, Confidence: r.Confidence})
	}
	return tokens, nil
}

func boxCenter(box [][2]float64) (float64, float64) {
	if len(box) == 0 {
		return 0, 0
	}
	var sx, sy float64
	for _, pt := range box {
		sx += pt[0]
		sy += pt[1]
	}
	n := float64(len(box))
	return sx / n, sy / n
}
