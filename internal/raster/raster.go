// Package raster turns encoded images into packed 1-bpp bitmaps for the
// ESC/POS raster command.
package raster

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/thereceipt/escpos-bridge/internal/escpos"
)

const (
	// DefaultMaxWidth is the dot width of a common 80mm thermal head
	DefaultMaxWidth = 384

	// DefaultThreshold separates black (below) from white luminance
	DefaultThreshold = 128
)

// ErrImageDecode is returned when the input is not a decodable image
var ErrImageDecode = errors.New("image decode error")

// Preprocessor converts images into bitmaps no wider than MaxWidth
type Preprocessor struct {
	MaxWidth  int
	Threshold uint8
}

// NewPreprocessor creates a preprocessor with the default threshold.
// A non-positive maxWidth selects DefaultMaxWidth.
func NewPreprocessor(maxWidth int) *Preprocessor {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	return &Preprocessor{
		MaxWidth:  maxWidth,
		Threshold: DefaultThreshold,
	}
}

// FromBase64 decodes, scales, thresholds and packs a base64 image
func (p *Preprocessor) FromBase64(encoded string) (escpos.Bitmap, error) {
	img, err := DecodeBase64(encoded)
	if err != nil {
		return escpos.Bitmap{}, err
	}
	return p.Convert(img)
}

// Convert scales img to fit MaxWidth and packs it
func (p *Preprocessor) Convert(img image.Image) (escpos.Bitmap, error) {
	threshold := p.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	bitmap := Pack(Scale(Flatten(img), p.MaxWidth), threshold)
	if err := bitmap.Validate(); err != nil {
		return escpos.Bitmap{}, err
	}
	return bitmap, nil
}

// DecodeBase64 decodes a base64 image. A data URL prefix and embedded
// whitespace are tolerated, as is missing padding.
func DecodeBase64(encoded string) (image.Image, error) {
	payload := encoded
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	payload = strings.Join(strings.Fields(payload), "")
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrImageDecode)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", ErrImageDecode, err)
		}
	}

	return Decode(data)
}

// Decode decodes PNG, JPEG, GIF, BMP, TIFF or WEBP bytes
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// Flatten composites a non-opaque image over white so transparent areas
// do not print as black.
func Flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	bounds := img.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

// Scale shrinks img to maxWidth preserving the aspect ratio. The new
// height is round(h*maxWidth/w). Images already within maxWidth are
// returned unchanged.
func Scale(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Linear)
}

// Luminance returns 0.299R + 0.587G + 0.114B on 8-bit channels
func Luminance(c color.Color) uint8 {
	r, g, b, _ := c.RGBA()
	y := (299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000
	return uint8(y)
}

// Pack thresholds img into a row-major bitmap: bit 7-(x%8) of byte
// y*rowBytes+x/8 is set when the pixel's luminance is below threshold.
// Padding bits in the last byte of each row stay clear.
func Pack(img image.Image, threshold uint8) escpos.Bitmap {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bitmap := escpos.Bitmap{Width: width, Height: height}
	rowBytes := bitmap.BytesPerRow()
	bitmap.Data = make([]byte, rowBytes*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if Luminance(img.At(bounds.Min.X+x, bounds.Min.Y+y)) < threshold {
				bitmap.Data[y*rowBytes+x/8] |= 1 << (7 - uint(x%8))
			}
		}
	}

	return bitmap
}
