package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/element-locator/pkg/types"
)

// DefaultStroke returns a stroke width proportional to the image size.
func DefaultStroke(img image.Image) int {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	return int(math.Max(2, 0.004*float64(minInt(w, h))))
}

// CloneForDrawing returns a mutable NRGBA copy of the image.
func CloneForDrawing(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// DrawRegion draws the outline of a pixel-space region.
func DrawRegion(img *image.NRGBA, region types.Region, c color.NRGBA, stroke int) {
	r := region.ToPixel(img.Bounds().Dx(), img.Bounds().Dy())
	x0, y0 := int(r.X1+0.5), int(r.Y1+0.5)
	x1, y1 := int(r.X2+0.5), int(r.Y2+0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

// labelTagPad is the padding around label text inside its tag box.
const labelTagPad = 4

// DrawLabelTag draws a filled tag with the given text at the top-left
// corner of a pixel-space region, so a validation model can refer to the
// candidate by its label.
func DrawLabelTag(img *image.NRGBA, region types.Region, text string, bg color.NRGBA) {
	r := region.ToPixel(img.Bounds().Dx(), img.Bounds().Dy())
	face := basicfont.Face7x13

	textW := font.MeasureString(face, text).Ceil()
	tagW := textW + 2*labelTagPad
	tagH := face.Metrics().Height.Ceil() + 2*labelTagPad

	x0 := int(r.X1 + 0.5)
	y0 := int(r.Y1+0.5) - tagH
	if y0 < 0 {
		y0 = int(r.Y1 + 0.5) // tag below the corner when there is no room above
	}
	if x0+tagW > img.Bounds().Dx() {
		x0 = img.Bounds().Dx() - tagW
	}
	if x0 < 0 {
		x0 = 0
	}

	fillRect(img, x0, y0, x0+tagW, y0+tagH, bg)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.NRGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.P(x0+labelTagPad, y0+tagH-labelTagPad-face.Descent),
	}
	d.DrawString(text)
}

func fillRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	for y := y0; y < y1; y++ {
		drawHLine(img, y, x0, x1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
