// Package imaging decodes, downscales and crops uploaded images.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage is returned for payloads that are not a decodable image.
var ErrInvalidImage = errors.New("invalid image")

const jpegQuality = 85

// Decode decodes JPEG, PNG, GIF, BMP and WebP data.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return img, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Downscale resizes an image to fit within maxSize (width or height) while keeping aspect ratio.
// The result is always JPEG so the encoder sees one format.
func Downscale(data []byte, maxSize int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return encodeJPEG(img)
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return encodeJPEG(resized)
}

// centerCrop returns the largest centred rectangle of r with the aspect ratio w:h.
func centerCrop(r image.Rectangle, w, h int) image.Rectangle {
	srcW, srcH := r.Dx(), r.Dy()
	// Compare srcW/srcH with w/h without floats.
	if srcW*h > srcH*w {
		cropW := srcH * w / h
		x0 := r.Min.X + (srcW-cropW)/2
		return image.Rect(x0, r.Min.Y, x0+cropW, r.Max.Y)
	}
	cropH := srcW * h / w
	y0 := r.Min.Y + (srcH-cropH)/2
	return image.Rect(r.Min.X, y0, r.Max.X, y0+cropH)
}

// SmartResize scales img to exactly w x h, cropping the centre instead of distorting it.
func SmartResize(img image.Image, w, h int) *image.RGBA {
	src := centerCrop(img.Bounds(), w, h)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

// SmartResizeJPEG decodes data, smart-resizes it and re-encodes it as JPEG.
func SmartResizeJPEG(data []byte, w, h int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(SmartResize(img, w, h))
}

// DecodeDataURL decodes "data:image/jpeg;base64,<payload>" strings.
// A bare base64 payload without the data: prefix is accepted as well.
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if strings.HasPrefix(s, "data:") {
		meta, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("%w: data URL without payload", ErrInvalidImage)
		}
		if !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("%w: data URL is not base64 encoded", ErrInvalidImage)
		}
		s = payload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients strip padding.
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return data, nil
}

// DetectMIMEType detects the MIME type from image magic bytes.
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38:
		return "image/gif"
	case data[0] == 'B' && data[1] == 'M':
		return "image/bmp"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return "application/octet-stream"
}
