package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/circuit"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, h/2, color.Black)
	}
	return img
}

func TestPreprocessKeepsAspect(t *testing.T) {
	out := Preprocess(testImage(4000, 2500), 2000)
	assert.Equal(t, 2000, out.Bounds().Dx())
	assert.Equal(t, 1250, out.Bounds().Dy())

	small := Preprocess(testImage(300, 200), 2000)
	assert.Equal(t, 300, small.Bounds().Dx())
}

func TestLocalProvider(t *testing.T) {
	t.Run("maps boxes to centre points", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ocr", r.URL.Path)
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"text": "Government of Canada", "box": [][2]float64{{10, 10}, {110, 10}, {110, 30}, {10, 30}}, "confidence": 0.98},
					{"text": "   ", "box": [][2]float64{{0, 0}}},
				},
			})
		}))
		defer srv.Close()

		tokens, err := NewLocalProvider(srv.URL+"/").Recognize(context.Background(), testImage(200, 100))

		require.NoError(t, err)
		require.Len(t, tokens, 1)
		assert.Equal(t, "Government of Canada", tokens[0].Text)
		assert.InDelta(t, 60, tokens[0].CenterX, 0.001)
		assert.InDelta(t, 20, tokens[0].CenterY, 0.001)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"results":[]}`))
		}))
		defer srv.Close()

		tokens, err := NewLocalProvider(srv.URL).Recognize(context.Background(), testImage(50, 50))

		require.NoError(t, err)
		assert.Empty(t, tokens)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, "unsupported image", http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		_, err := NewLocalProvider(srv.URL).Recognize(context.Background(), testImage(50, 50))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported image")
		assert.EqualValues(t, 1, calls.Load())
	})
}

type fakeTextract struct {
	out *textract.DetectDocumentTextOutput
	err error
	got *textract.DetectDocumentTextInput
}

func (f *fakeTextract) DetectDocumentText(_ context.Context, in *textract.DetectDocumentTextInput, _ ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	f.got = in
	return f.out, f.err
}

func TestTextractProviderScalesGeometry(t *testing.T) {
	api := &fakeTextract{out: &textract.DetectDocumentTextOutput{
		Blocks: []types.Block{
			{BlockType: types.BlockTypePage},
			{
				BlockType:  types.BlockTypeLine,
				Text:       aws.String("CANADA"),
				Confidence: aws.Float32(99),
				Geometry: &types.Geometry{BoundingBox: &types.BoundingBox{
					Left: 0.5, Top: 0.8, Width: 0.2, Height: 0.1,
				}},
			},
		},
	}}

	tokens, err := NewTextractProvider(api, 2000).Recognize(context.Background(), testImage(400, 200))

	require.NoError(t, err)
	require.NotNil(t, api.got.Document)
	assert.NotEmpty(t, api.got.Document.Bytes)
	require.Len(t, tokens, 1)
	assert.InDelta(t, 240, tokens[0].CenterX, 0.01)
	assert.InDelta(t, 170, tokens[0].CenterY, 0.01)
	assert.InDelta(t, 0.99, tokens[0].Confidence, 0.001)
}

type countingProvider struct {
	calls  int
	err    error
	tokens []Token
}

func (p *countingProvider) Name() string { return "cloud" }

func (p *countingProvider) Recognize(context.Context, image.Image) ([]Token, error) {
	p.calls++
	return p.tokens, p.err
}

func TestGuardedFailsFastWhenOpen(t *testing.T) {
	inner := &countingProvider{err: errors.New("throttled")}
	g := NewGuarded(inner, circuit.New("textract", circuit.WithFailureThreshold(2)))

	for range 2 {
		_, err := g.Recognize(context.Background(), testImage(10, 10))
		require.Error(t, err)
	}
	_, err := g.Recognize(context.Background(), testImage(10, 10))

	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, 2, inner.calls)
}

func TestCachedReusesResults(t *testing.T) {
	inner := &countingProvider{tokens: []Token{{Text: "canada"}}}
	c, err := NewCached(inner, 8)
	require.NoError(t, err)

	img := testImage(20, 20)
	for range 3 {
		tokens, err := c.Recognize(context.Background(), img)
		require.NoError(t, err)
		assert.Equal(t, "canada", tokens[0].Text)
	}
	_, err = c.Recognize(context.Background(), testImage(30, 20))
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}
