package match

import "image"

// grayImage is a dense float64 luminance plane.
type grayImage struct {
	w, h int
	pix  []float64
}

func (g *grayImage) at(x, y int) float64 {
	return g.pix[y*g.w+x]
}

// luminance converts an image to a float64 luminance plane using the
// Rec. 601 weights.
func luminance(img image.Image) *grayImage {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	g := &grayImage{w: w, h: h, pix: make([]float64, w*h)}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, gc, b, _ := img.At(x, y).RGBA()
			g.pix[i] = (0.299*float64(r) + 0.587*float64(gc) + 0.114*float64(b)) / 65535.0
			i++
		}
	}
	return g
}
