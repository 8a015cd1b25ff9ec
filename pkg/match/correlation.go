package match

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/element-locator/pkg/types"
)

// sampleGrid bounds the number of sample points per window axis so the
// correlation scan stays cheap on large references.
const sampleGrid = 16

// correlationMatches scans the screen with reference-sized windows and
// scores each position by the Pearson correlation of sampled luminance.
// Equivalent to a strided normalized cross-correlation template match.
func (m *Matcher) correlationMatches(ref, scr *grayImage) []scoredRegion {
	gw := minInt(sampleGrid, ref.w)
	gh := minInt(sampleGrid, ref.h)

	refVec := make([]float64, gw*gh)
	sampleWindow(refVec, ref, 0, 0, ref.w, ref.h, gw, gh)

	stepX := maxInt(1, ref.w/8)
	stepY := maxInt(1, ref.h/8)

	win := make([]float64, gw*gh)
	var hits []scoredRegion

	for y := 0; y+ref.h <= scr.h; y += stepY {
		for x := 0; x+ref.w <= scr.w; x += stepX {
			sampleWindow(win, scr, x, y, ref.w, ref.h, gw, gh)
			r := stat.Correlation(refVec, win, nil)
			if math.IsNaN(r) || r < m.cfg.SimilarityThreshold {
				continue
			}
			hits = append(hits, scoredRegion{
				region: types.Region{
					X1: float64(x), Y1: float64(y),
					X2: float64(x + ref.w), Y2: float64(y + ref.h),
					Space: types.SpacePixel,
				},
				score: r,
			})
		}
	}

	return m.suppressOverlaps(hits)
}

// sampleWindow fills dst with a gw x gh grid of luminance samples from
// the window at (x0,y0) of size w x h.
func sampleWindow(dst []float64, g *grayImage, x0, y0, w, h, gw, gh int) {
	i := 0
	for gy := 0; gy < gh; gy++ {
		y := y0 + gy*h/gh
		for gx := 0; gx < gw; gx++ {
			x := x0 + gx*w/gw
			dst[i] = g.at(x, y)
			i++
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
