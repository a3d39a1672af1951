// Package encode 把浏览器截图转码为 WebP。
package encode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"

	"github.com/xiaocaoooo/mobile-screenshot/internal/capture"
)

const (
	MIMEType = "image/webp"

	// DefaultMethod libwebp 的速度/质量权衡（0 最快，6 最慢）
	DefaultMethod = 4
)

var errEmptyBitmap = errors.New("encode: empty bitmap")

var _ capture.Encoder = WebP{}

// WebP 有损 WebP 编码器。无状态，可以并发使用。
type WebP struct {
	Method int
}

func NewWebP() WebP {
	return WebP{Method: DefaultMethod}
}

// Encode always decodes b and re-encodes it, whatever format the capture
// produced. quality is clamped into [1, 100].
func (w WebP) Encode(b *capture.Bitmap, quality int) (*capture.Image, error) {
	if b == nil || len(b.Data) == 0 {
		return nil, errEmptyBitmap
	}

	src, err := imaging.Decode(bytes.NewReader(b.Data))
	if err != nil {
		return nil, fmt.Errorf("encode: decode bitmap: %w", err)
	}

	quality = min(max(quality, capture.MinQuality), capture.MaxQuality)
	method := min(max(w.Method, 0), 6)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, src, webp.Options{Quality: quality, Method: method}); err != nil {
		return nil, fmt.Errorf("encode: webp: %w", err)
	}

	return &capture.Image{Data: buf.Bytes(), MIMEType: MIMEType}, nil
}
