package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractProvider is the high-fidelity tier. Textract geometry is normalised to
// [0,1]; it is scaled back to the pixel size of the submitted image.
type TextractProvider struct {
	api     TextractAPI
	maxSide int
}

func NewTextractProvider(api TextractAPI, maxSide int) *TextractProvider {
	if api == nil {
		panic("ocr.NewTextractProvider: textract client is required")
	}
	return &TextractProvider{api: api, maxSide: maxSide}
}

func (p *TextractProvider) Name() string { return "cloud" }

func (p *TextractProvider) Recognize(ctx context.Context, img image.Image) ([]Token, error) {
	prepared := Preprocess(img, p.maxSide)
	body, err := EncodeJPEG(prepared, 90)
	if err != nil {
		return nil, err
	}

	out, err := p.api.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: body},
	})
	if err != nil {
		return nil, fmt.Errorf("textract: %w", err)
	}

	w := float64(prepared.Bounds().Dx())
	h := float64(prepared.Bounds().Dy())
	tokens := make([]Token, 0, len(out.Blocks))
	for _, b := range out.Blocks {
		if b.BlockType != types.BlockTypeLine || b.Text == nil {
			continue
		}
		t := Token{Text: aws.ToString(b.Text), Confidence: float64(aws.ToFloat32(b.Confidence)) / 100}
		if b.Geometry != nil && b.Geometry.BoundingBox != nil {
			box := b.Geometry.BoundingBox
			t.CenterX = float64(box.Left+box.Width/2) * w
			t.CenterY = float64(box.Top+box.Height/2) * h
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}
