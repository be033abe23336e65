package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeDataURL(t *testing.T, ref string) (string, image.Image) {
	t.Helper()
	mime, data, err := ParseDataURL(ref)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return mime, img
}

func TestIsImageRef(t *testing.T) {
	assert.True(t, IsImageRef("https://example.com/a.png"))
	assert.True(t, IsImageRef(" HTTP://example.com/a.png"))
	assert.True(t, IsImageRef("data:image/jpeg;base64,AAAA"))
	assert.False(t, IsImageRef("一张海边的照片"))
	assert.False(t, IsImageRef("data:text/plain;base64,AAAA"))
}

func TestParseDataURL(t *testing.T) {
	mime, data, err := ParseDataURL("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte("abc"), data)

	_, _, err = ParseDataURL("https://example.com")
	assert.ErrorIs(t, err, ErrNotImage)

	_, _, err = ParseDataURL("data:image/png,raw")
	assert.Error(t, err)

	_, _, err = ParseDataURL("data:image/png;base64,!!!")
	assert.Error(t, err)
}

func TestNormalizeAvatar(t *testing.T) {
	p := NewImageProcessor(Options{AvatarSize: 64})

	out, err := p.NormalizeAvatar(pngDataURL(t, 300, 200))
	require.NoError(t, err)

	mime, img := decodeDataURL(t, out)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

func TestNormalizeCover(t *testing.T) {
	p := NewImageProcessor(Options{CoverMaxWidth: 100, CoverMaxHeight: 100})

	out, err := p.NormalizeCover(pngDataURL(t, 400, 200))
	require.NoError(t, err)
	_, img := decodeDataURL(t, out)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	small := pngDataURL(t, 40, 20)
	out, err = p.NormalizeCover(small)
	require.NoError(t, err)
	_, img = decodeDataURL(t, out)
	assert.Equal(t, 40, img.Bounds().Dx())
}

func TestNormalize_RemoteAndInvalid(t *testing.T) {
	p := NewImageProcessor(DefaultOptions)

	out, err := p.NormalizeAvatar(" https://example.com/me.jpg ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/me.jpg", out)

	_, err = p.NormalizeCover("换成海边的照片")
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = p.NormalizeAvatar("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not a png")))
	assert.Error(t, err)
}
