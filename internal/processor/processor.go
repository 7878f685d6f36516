package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp" // registers the webp decoder used by imaging.Decode

	"github.com/aliskhannn/image-store/internal/xerrors"
)

const (
	DefaultQuality      = 70
	DefaultMaxDimension = 8192
)

// Options configures derivative generation.
type Options struct {
	Quality      int    // JPEG quality, 1..100
	MaxDimension int    // upper bound for either target dimension
	Watermark    string // drawn bottom-right when non-empty
}

// Derivative is an encoded JPEG together with its pixel dimensions.
type Derivative struct {
	Data   []byte
	Width  int
	Height int
}

// Format describes a sniffed upload.
type Format struct {
	MIME      string
	Extension string
}

// Processor decodes images and produces normalized compressed derivatives.
type Processor struct {
	opts Options
}

// New creates a new Processor, filling unset options with defaults.
func New(opts Options) *Processor {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}

	return &Processor{opts: opts}
}

// Decode reads a full image, applying EXIF orientation.
func (p *Processor) Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindDecode, "decode", "", err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, xerrors.E(xerrors.KindDecode, "decode", "empty image")
	}

	return img, nil
}

// TargetSize validates the requested size against the source bounds.
// A zero height is derived from the width preserving the aspect ratio.
func (p *Processor) TargetSize(src image.Rectangle, width, height int) (int, int, error) {
	if width <= 0 {
		return 0, 0, xerrors.Wrap(xerrors.KindInvalidParameter, "target size", "",
			fmt.Errorf("width must be positive, got %d", width))
	}
	if height < 0 {
		return 0, 0, xerrors.Wrap(xerrors.KindInvalidParameter, "target size", "",
			fmt.Errorf("height must not be negative, got %d", height))
	}

	if height == 0 {
		ow, oh := src.Dx(), src.Dy()
		if ow <= 0 || oh <= 0 {
			return 0, 0, xerrors.E(xerrors.KindDecode, "target size", "empty source")
		}
		height = int(math.Round(float64(width) * float64(oh) / float64(ow)))
		if height < 1 {
			height = 1
		}
	}

	if width > p.opts.MaxDimension || height > p.opts.MaxDimension {
		return 0, 0, xerrors.Wrap(xerrors.KindInvalidParameter, "target size", "",
			fmt.Errorf("%dx%d exceeds the maximum dimension %d", width, height, p.opts.MaxDimension))
	}

	return width, height, nil
}

// FitSize picks the default rendition size for src: at most width wide,
// never larger than the source, with the aspect ratio kept and both sides
// within MaxDimension.
func (p *Processor) FitSize(src image.Rectangle, width int) (int, int) {
	ow, oh := src.Dx(), src.Dy()
	if ow <= 0 || oh <= 0 {
		return 0, 0
	}

	width = min(width, ow, p.opts.MaxDimension)
	if width < 1 {
		width = 1
	}
	height := max(1, int(math.Round(float64(width)*float64(oh)/float64(ow))))

	if height > p.opts.MaxDimension {
		height = p.opts.MaxDimension
		width = max(1, int(math.Round(float64(height)*float64(ow)/float64(oh))))
	}

	return width, height
}

// Generate resizes src and re-encodes it as an opaque JPEG.
func (p *Processor) Generate(src image.Image, width, height int) (Derivative, error) {
	width, height, err := p.TargetSize(src.Bounds(), width, height)
	if err != nil {
		return Derivative{}, err
	}

	resized := imaging.Resize(src, width, height, imaging.Lanczos)

	// JPEG has no alpha channel: composite translucent sources onto white.
	var out image.Image = resized
	if !resized.Opaque() {
		bg := imaging.New(width, height, color.White)
		out = imaging.Overlay(bg, resized, image.Pt(0, 0), 1.0)
	}

	if p.opts.Watermark != "" {
		out = watermark(out, p.opts.Watermark)
	}

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, out, imaging.JPEG, imaging.JPEGQuality(p.opts.Quality)); err != nil {
		return Derivative{}, xerrors.Wrap(xerrors.KindInternal, "encode", "", fmt.Errorf("failed to encode derivative: %w", err))
	}

	return Derivative{Data: buf.Bytes(), Width: width, Height: height}, nil
}

// Sniff detects the image format from the leading bytes of an upload.
func Sniff(head []byte) (Format, error) {
	if !filetype.IsImage(head) {
		return Format{}, xerrors.Wrap(xerrors.KindInvalidParameter, "sniff", "",
			fmt.Errorf("not an image file"))
	}

	kind, err := filetype.Match(head)
	if err != nil {
		return Format{}, xerrors.Wrap(xerrors.KindInvalidParameter, "sniff", "", err)
	}

	return Format{MIME: kind.MIME.Value, Extension: kind.Extension}, nil
}
