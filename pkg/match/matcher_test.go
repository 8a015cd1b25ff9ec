package match

import (
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/element-locator/pkg/types"
)

// checkerboard draws a high-contrast pattern that correlates strongly
// only with itself.
func checkerboard(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	return img
}

// gradientScreen builds a smooth background with the patch pasted at (px,py).
func gradientScreen(w, h int, patch image.Image, px, py int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + y) % 256)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	pb := patch.Bounds()
	for y := 0; y < pb.Dy(); y++ {
		for x := 0; x < pb.Dx(); x++ {
			img.Set(px+x, py+y, patch.At(pb.Min.X+x, pb.Min.Y+y))
		}
	}
	return img
}

func TestMatchFindsPlantedPatch(t *testing.T) {
	ref := checkerboard(32, 32, 4)
	screen := gradientScreen(200, 160, ref, 64, 40)

	clusters, err := NewMatcher().Match(ref, screen)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(clusters) == 0 {
		t.Fatal("expected at least one match")
	}

	want := types.Region{X1: 64, Y1: 40, X2: 96, Y2: 72, Space: types.SpacePixel}
	best := clusters[0]
	if best.Region.IoU(want) < 0.5 {
		t.Errorf("best match %+v too far from planted patch %+v", best.Region, want)
	}
	if best.Sources != types.SourceAlgorithmic {
		t.Errorf("unexpected source tag: %s", best.Sources)
	}
	if best.Votes < 1 || best.Votes > 2 {
		t.Errorf("votes = %d, want 1 or 2 (number of agreeing techniques)", best.Votes)
	}
}

func TestMatchNoHitsOnUniformScreen(t *testing.T) {
	ref := checkerboard(32, 32, 4)
	screen := image.NewRGBA(image.Rect(0, 0, 200, 160))

	clusters, err := NewMatcher().Match(ref, screen)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("expected no matches on a featureless screen, got %d", len(clusters))
	}
}

func TestMatchRejectsOversizedReference(t *testing.T) {
	ref := checkerboard(300, 300, 4)
	screen := image.NewRGBA(image.Rect(0, 0, 200, 160))

	if _, err := NewMatcher().Match(ref, screen); err == nil {
		t.Error("expected error for reference larger than screen")
	}
}

func TestFilterByDimensions(t *testing.T) {
	m := NewMatcher() // deviation ratio 0.3
	mk := func(w, h float64) scoredRegion {
		return scoredRegion{region: types.Region{X1: 0, Y1: 0, X2: w, Y2: h, Space: types.SpacePixel}, score: 0.9}
	}

	tests := []struct {
		name string
		hit  scoredRegion
		keep bool
	}{
		{"exact size", mk(100, 50), true},
		{"width at upper bound", mk(130, 50), true},
		{"width just over", mk(131, 50), false},
		{"width at lower bound", mk(70, 50), true},
		{"width just under", mk(69, 50), false},
		{"height over", mk(100, 66), false},
		{"height within", mk(100, 60), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.filterByDimensions([]scoredRegion{tt.hit}, 100, 50)
			if kept := len(got) == 1; kept != tt.keep {
				t.Errorf("filterByDimensions kept=%v, want %v", kept, tt.keep)
			}
		})
	}
}

func TestCoalesceCountsAgreeingTechniques(t *testing.T) {
	m := NewMatcher()
	r1 := types.Region{X1: 100, Y1: 100, X2: 200, Y2: 200, Space: types.SpacePixel}
	r2 := types.Region{X1: 102, Y1: 102, X2: 202, Y2: 202, Space: types.SpacePixel}
	other := types.Region{X1: 500, Y1: 100, X2: 600, Y2: 200, Space: types.SpacePixel}

	clusters := m.coalesce([][]scoredRegion{
		{{region: r1, score: 0.95}, {region: other, score: 0.85}},
		{{region: r2, score: 0.9}},
	})

	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}

	var agreed, lone *types.CandidateCluster
	for i := range clusters {
		if clusters[i].Region.IoU(r1) > 0.5 {
			agreed = &clusters[i]
		} else {
			lone = &clusters[i]
		}
	}
	if agreed == nil || agreed.Votes != 2 {
		t.Errorf("expected 2 technique votes for the agreed region, got %+v", agreed)
	}
	if lone == nil || lone.Votes != 1 {
		t.Errorf("expected 1 technique vote for the lone region, got %+v", lone)
	}
}
