// Package testutil builds small in-memory images for tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// Gradient returns a w×h image whose pixels depend on seed, so different
// seeds yield different encoded bytes.
func Gradient(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*255/max(w-1, 1)) ^ seed,
				G: uint8(y*255/max(h-1, 1)),
				B: seed,
				A: 255,
			})
		}
	}
	return img
}

// JPEG encodes a gradient as JPEG.
func JPEG(t testing.TB, w, h int, seed uint8) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, Gradient(w, h, seed), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// TransparentPNG encodes a fully transparent w×h PNG.
func TransparentPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// PalettedPNG encodes a two-colour paletted PNG.
func PalettedPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	pal := color.Palette{color.Transparent, color.NRGBA{R: 200, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetColorIndex(x, y, 1)
		}
	}
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
