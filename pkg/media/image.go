// Package media normalises the avatar and moments-cover images a companion
// or user sets, so that stored settings stay small.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

var ErrNotImage = errors.New("not an image reference")

type Options struct {
	// AvatarSize is the edge of the square avatar thumbnail.
	AvatarSize int
	// CoverMaxWidth and CoverMaxHeight bound the moments cover.
	CoverMaxWidth  int
	CoverMaxHeight int
	Quality        int
}

var DefaultOptions = Options{
	AvatarSize:     256,
	CoverMaxWidth:  1080,
	CoverMaxHeight: 1080,
	Quality:        85,
}

type ImageProcessor struct {
	opts Options
}

func NewImageProcessor(opts Options) *ImageProcessor {
	if opts.Quality <= 0 {
		opts.Quality = DefaultOptions.Quality
	}
	return &ImageProcessor{opts: opts}
}

// IsImageRef reports whether s is an http(s) URL or a data: image.
func IsImageRef(s string) bool {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "data:image/")
}

// ParseDataURL splits a base64 data URL into its MIME type and bytes.
func ParseDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return "", nil, ErrNotImage
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return mime, data, nil
}

// NormalizeAvatar shrinks a data-URL avatar to a square thumbnail. Remote URLs
// are returned as is.
func (p *ImageProcessor) NormalizeAvatar(ref string) (string, error) {
	return p.normalize(ref, func(img image.Image) image.Image {
		size := p.opts.AvatarSize
		if size <= 0 {
			return img
		}
		return imaging.Thumbnail(img, size, size, imaging.Lanczos)
	})
}

// NormalizeCover fits a data-URL cover inside the configured bounds keeping
// its aspect ratio. Remote URLs are returned as is.
func (p *ImageProcessor) NormalizeCover(ref string) (string, error) {
	return p.normalize(ref, p.fitCover)
}

func (p *ImageProcessor) fitCover(img image.Image) image.Image {
	b := img.Bounds()
	maxW, maxH := p.opts.CoverMaxWidth, p.opts.CoverMaxHeight
	if maxW <= 0 {
		maxW = b.Dx()
	}
	if maxH <= 0 {
		maxH = b.Dy()
	}
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}

func (p *ImageProcessor) normalize(ref string, transform func(image.Image) image.Image) (string, error) {
	ref = strings.TrimSpace(ref)
	if !IsImageRef(ref) {
		return "", ErrNotImage
	}
	if !strings.HasPrefix(strings.ToLower(ref), "data:") {
		return ref, nil
	}

	_, data, err := ParseDataURL(ref)
	if err != nil {
		return "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	out, mime, err := p.encodeImage(transform(img), format)
	if err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(out), nil
}

// encodeImage keeps PNG for PNG input so transparency survives and uses JPEG
// for everything else.
func (p *ImageProcessor) encodeImage(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer

	if format == "png" {
		err := imaging.Encode(&buf, img, imaging.PNG)
		return buf.Bytes(), "image/png", err
	}
	err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.opts.Quality))
	return buf.Bytes(), "image/jpeg", err
}
