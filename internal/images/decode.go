// Package images stores uploaded identity photos and hands them back as pixels.
//
// Uploads are addressed by a signed reference rather than a raw storage key, so
// a chat message can only point at an image this service accepted.
package images

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	dErrors "regdesk/pkg/domain-errors"
)

// allowed maps accepted extensions to the MIME types their content must sniff as.
var allowed = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// Sniff checks the extension against the allow-list and that the bytes agree
// with it. It returns the canonical content type.
func Sniff(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	want, ok := allowed[ext]
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("file type %q is not allowed", ext))
	}
	got := mimetype.Detect(data)
	if !got.Is(want) {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("file content is %s, expected %s", got.String(), want))
	}
	return want, nil
}

// Decode reads any allowed format and applies EXIF orientation so phone photos
// come out upright.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode image")
	}
	return img, nil
}
