package match

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/menta2k/element-locator/pkg/types"
)

const (
	descCells = 4 // descriptor grid per axis
	descBins  = 8 // gradient orientation bins per cell
)

// featureScales are the window scales probed by the descriptor scan.
// Scales outside the dimension-deviation ratio are rejected later.
var featureScales = []float64{0.8, 1.0, 1.2}

// featureMatches scans the screen with a gradient-orientation descriptor
// at several scales and scores windows by cosine similarity against the
// reference descriptor. Complements the correlation scan: descriptors
// tolerate brightness shifts and mild rescaling that break raw
// correlation.
func (m *Matcher) featureMatches(ref, scr *grayImage) []scoredRegion {
	refDesc := computeDescriptor(ref, 0, 0, ref.w, ref.h)
	if refDesc == nil {
		return nil
	}

	var hits []scoredRegion
	for _, scale := range featureScales {
		winW := int(float64(ref.w)*scale + 0.5)
		winH := int(float64(ref.h)*scale + 0.5)
		if winW < 4 || winH < 4 || winW > scr.w || winH > scr.h {
			continue
		}

		stepX := maxInt(1, winW/8)
		stepY := maxInt(1, winH/8)

		for y := 0; y+winH <= scr.h; y += stepY {
			for x := 0; x+winW <= scr.w; x += stepX {
				desc := computeDescriptor(scr, x, y, winW, winH)
				if desc == nil {
					continue
				}
				// Both descriptors are unit vectors.
				score := floats.Dot(refDesc, desc)
				if score < m.cfg.SimilarityThreshold {
					continue
				}
				hits = append(hits, scoredRegion{
					region: types.Region{
						X1: float64(x), Y1: float64(y),
						X2: float64(x + winW), Y2: float64(y + winH),
						Space: types.SpacePixel,
					},
					score: score,
				})
			}
		}
	}

	return m.suppressOverlaps(hits)
}

// computeDescriptor builds an L2-normalized grid of gradient orientation
// histograms for the window at (x0,y0). Returns nil for windows with no
// gradient structure.
func computeDescriptor(g *grayImage, x0, y0, w, h int) []float64 {
	desc := make([]float64, descCells*descCells*descBins)

	for y := y0 + 1; y < y0+h-1; y++ {
		for x := x0 + 1; x < x0+w-1; x++ {
			gx := g.at(x+1, y) - g.at(x-1, y)
			gy := g.at(x, y+1) - g.at(x, y-1)
			mag := math.Hypot(gx, gy)
			if mag < 1e-6 {
				continue
			}

			ang := math.Atan2(gy, gx) // [-pi, pi]
			bin := int((ang + math.Pi) / (2 * math.Pi) * descBins)
			if bin >= descBins {
				bin = descBins - 1
			}

			cx := (x - x0) * descCells / w
			cy := (y - y0) * descCells / h
			if cx >= descCells {
				cx = descCells - 1
			}
			if cy >= descCells {
				cy = descCells - 1
			}

			desc[(cy*descCells+cx)*descBins+bin] += mag
		}
	}

	norm := floats.Norm(desc, 2)
	if norm < 1e-9 {
		return nil
	}
	floats.Scale(1/norm, desc)
	return desc
}
