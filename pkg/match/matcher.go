// Package match implements algorithmic re-matching of a stored reference
// image against the current screen: a pixel-correlation scan and a
// gradient-descriptor scan, fused by IoU coalescing. It provides visual
// evidence that is independent of the grounding model.
package match

import (
	"fmt"
	"image"
	"sort"

	"github.com/menta2k/element-locator/pkg/types"
)

// Config holds configuration for the algorithmic matcher.
type Config struct {
	// SimilarityThreshold is the minimum per-technique match score.
	SimilarityThreshold float64
	// MaxMatches caps the regions returned per technique and overall.
	MaxMatches int
	// MaxDimensionDeviation is the maximum allowed relative deviation of
	// a match's width or height from the reference image's dimensions.
	MaxDimensionDeviation float64
	// MinIntersectionRatio is the IoU floor for coalescing near-duplicate
	// regions across techniques.
	MinIntersectionRatio float64
}

// DefaultConfig returns the matcher defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:   0.8,
		MaxMatches:            6,
		MaxDimensionDeviation: 0.3,
		MinIntersectionRatio:  0.7,
	}
}

// Matcher locates occurrences of a reference image on a screen image.
type Matcher struct {
	cfg Config
}

// NewMatcher creates a matcher with default configuration.
func NewMatcher() *Matcher {
	return &Matcher{cfg: DefaultConfig()}
}

// NewMatcherWithConfig creates a matcher with custom configuration.
func NewMatcherWithConfig(cfg Config) *Matcher {
	d := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = d.SimilarityThreshold
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = d.MaxMatches
	}
	if cfg.MaxDimensionDeviation <= 0 {
		cfg.MaxDimensionDeviation = d.MaxDimensionDeviation
	}
	if cfg.MinIntersectionRatio <= 0 {
		cfg.MinIntersectionRatio = d.MinIntersectionRatio
	}
	return &Matcher{cfg: cfg}
}

// scoredRegion is one technique hit before coalescing.
type scoredRegion struct {
	region types.Region
	score  float64
}

// Match runs both techniques and coalesces their hits. The returned
// clusters are tagged ALGORITHMIC; a cluster's vote count is the number
// of techniques agreeing on its region.
func (m *Matcher) Match(reference, screen image.Image) ([]types.CandidateCluster, error) {
	rb := reference.Bounds()
	sb := screen.Bounds()
	if rb.Dx() < 4 || rb.Dy() < 4 {
		return nil, fmt.Errorf("reference image too small: %dx%d", rb.Dx(), rb.Dy())
	}
	if rb.Dx() > sb.Dx() || rb.Dy() > sb.Dy() {
		return nil, fmt.Errorf("reference %dx%d larger than screen %dx%d", rb.Dx(), rb.Dy(), sb.Dx(), sb.Dy())
	}

	ref := luminance(reference)
	scr := luminance(screen)

	techniques := [][]scoredRegion{
		m.filterByDimensions(m.correlationMatches(ref, scr), rb.Dx(), rb.Dy()),
		m.filterByDimensions(m.featureMatches(ref, scr), rb.Dx(), rb.Dy()),
	}

	return m.coalesce(techniques), nil
}

// filterByDimensions drops matches whose width or height deviates from
// the reference dimensions by more than the configured ratio. Guards
// against partial and scaled false positives.
func (m *Matcher) filterByDimensions(hits []scoredRegion, refW, refH int) []scoredRegion {
	out := hits[:0]
	for _, h := range hits {
		if deviation(h.region.Width(), float64(refW)) > m.cfg.MaxDimensionDeviation {
			continue
		}
		if deviation(h.region.Height(), float64(refH)) > m.cfg.MaxDimensionDeviation {
			continue
		}
		out = append(out, h)
	}
	return out
}

func deviation(got, want float64) float64 {
	if want <= 0 {
		return 1
	}
	d := (got - want) / want
	if d < 0 {
		d = -d
	}
	return d
}

// coalesce merges near-duplicate hits across techniques. Vote count is
// the number of distinct techniques contributing to a cluster.
func (m *Matcher) coalesce(techniques [][]scoredRegion) []types.CandidateCluster {
	type hit struct {
		scoredRegion
		tech int
	}
	var all []hit
	for tech, hits := range techniques {
		for _, h := range hits {
			all = append(all, hit{scoredRegion: h, tech: tech})
		}
	}
	if len(all) == 0 {
		return nil
	}

	// Best hits seed clusters first.
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	used := make([]bool, len(all))
	var clusters []types.CandidateCluster

	for i := range all {
		if used[i] {
			continue
		}
		used[i] = true
		members := []types.Region{all[i].region}
		techs := map[int]struct{}{all[i].tech: {}}

		for j := i + 1; j < len(all); j++ {
			if used[j] {
				continue
			}
			if all[i].region.IoU(all[j].region) >= m.cfg.MinIntersectionRatio {
				used[j] = true
				members = append(members, all[j].region)
				techs[all[j].tech] = struct{}{}
			}
		}

		clusters = append(clusters, types.CandidateCluster{
			Region:  types.MeanRegion(members),
			Sources: types.SourceAlgorithmic,
			Votes:   len(techs),
		})
		if len(clusters) == m.cfg.MaxMatches {
			break
		}
	}

	return clusters
}

// suppressOverlaps keeps the best-scoring hits, discarding any hit that
// substantially overlaps an already kept one. Shared by both scans.
func (m *Matcher) suppressOverlaps(hits []scoredRegion) []scoredRegion {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	var kept []scoredRegion
	for _, h := range hits {
		overlapping := false
		for _, k := range kept {
			if h.region.IoU(k.region) > 0.3 {
				overlapping = true
				break
			}
		}
		if !overlapping {
			kept = append(kept, h)
			if len(kept) == m.cfg.MaxMatches {
				break
			}
		}
	}
	return kept
}
