// Package fusion implements geometric clustering and merging of candidate
// regions produced by visual grounding and algorithmic matching.
package fusion

import (
	"sort"

	"github.com/menta2k/element-locator/pkg/types"
)

// DefaultMinIntersectionRatio is the IoU floor at or above which two
// regions are considered repeated sightings of the same element.
const DefaultMinIntersectionRatio = 0.7

// ClusterRegions groups regions by IoU similarity. A seed region absorbs
// every other unclustered region whose IoU against it is at or above
// minIoU; the cluster representative is the coordinate-wise mean of its
// members and its vote count is the member count.
//
// Input order does not affect the result: regions are sorted into a
// canonical order before the greedy grouping runs.
func ClusterRegions(regions []types.Region, minIoU float64, source types.SourceSet) []types.CandidateCluster {
	valid := make([]types.Region, 0, len(regions))
	for _, r := range regions {
		if r.Valid() {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sortRegions(valid)

	used := make([]bool, len(valid))
	var clusters []types.CandidateCluster

	for i := range valid {
		if used[i] {
			continue
		}
		used[i] = true
		members := []types.Region{valid[i]}

		for j := i + 1; j < len(valid); j++ {
			if used[j] {
				continue
			}
			if valid[i].IoU(valid[j]) >= minIoU {
				used[j] = true
				members = append(members, valid[j])
			}
		}

		clusters = append(clusters, types.CandidateCluster{
			Region:  types.MeanRegion(members),
			Sources: source,
			Votes:   len(members),
		})
	}

	return clusters
}

// sortRegions orders regions into a canonical coordinate order so the
// greedy clustering is independent of input permutation.
func sortRegions(regions []types.Region) {
	sort.Slice(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.X1 != b.X1 {
			return a.X1 < b.X1
		}
		if a.Y1 != b.Y1 {
			return a.Y1 < b.Y1
		}
		if a.X2 != b.X2 {
			return a.X2 < b.X2
		}
		return a.Y2 < b.Y2
	})
}
