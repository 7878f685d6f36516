package processor

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

const watermarkMargin = 10.0

// watermark draws text in the bottom-right corner with a one pixel shadow.
func watermark(src image.Image, text string) image.Image {
	dc := gg.NewContextForImage(src)
	dc.SetFontFace(basicfont.Face7x13)

	x := float64(dc.Width()) - watermarkMargin
	y := float64(dc.Height()) - watermarkMargin

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(text, x+1, y+1, 1, 0)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x, y, 1, 0) // baseline anchored bottom-right

	return dc.Image()
}
