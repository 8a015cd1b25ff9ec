package fusion

import (
	"sort"

	"github.com/menta2k/element-locator/pkg/types"
)

// DefaultTrustFloor is the vote count below which a purely algorithmic
// cluster is demoted behind model-supported clusters.
const DefaultTrustFloor = 2

// Options controls cluster fusion behavior.
type Options struct {
	// MinIntersectionRatio is the IoU at or above which two clusters
	// are treated as sightings of the same element.
	MinIntersectionRatio float64
	// TrustFloor is the minimum vote count for a purely algorithmic
	// cluster to rank alongside model-supported ones. Below it the
	// cluster is demoted, not discarded.
	TrustFloor int
}

// DefaultOptions returns the fusion defaults.
func DefaultOptions() Options {
	return Options{
		MinIntersectionRatio: DefaultMinIntersectionRatio,
		TrustFloor:           DefaultTrustFloor,
	}
}

// Fuse merges candidate clusters from all evidence sources into a single
// deduplicated list. Clusters whose IoU meets the minimum intersection
// ratio are merged regardless of source tag; the merged cluster keeps the
// union of source tags and the sum of vote counts. The result is ordered
// best-first: demoted algorithmic-only clusters last, then by descending
// vote count, with ties broken by model support and then by larger area.
//
// All cluster regions must be in the same coordinate space; callers
// convert to pixel space before fusing.
func Fuse(clusters []types.CandidateCluster, opts Options) []types.CandidateCluster {
	work := make([]types.CandidateCluster, 0, len(clusters))
	for _, c := range clusters {
		if c.Region.Valid() && c.Votes > 0 {
			work = append(work, c)
		}
	}
	if len(work) == 0 {
		return nil
	}
	sortClusters(work)

	used := make([]bool, len(work))
	var fused []types.CandidateCluster

	for i := range work {
		if used[i] {
			continue
		}
		used[i] = true
		merged := work[i]

		for j := i + 1; j < len(work); j++ {
			if used[j] {
				continue
			}
			if merged.Region.IoU(work[j].Region) >= opts.MinIntersectionRatio {
				used[j] = true
				merged = mergeClusters(merged, work[j])
			}
		}

		fused = append(fused, merged)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return rankLess(fused[i], fused[j], opts.TrustFloor)
	})

	return fused
}

// mergeClusters combines two overlapping clusters: vote-weighted mean
// region, union of source tags, summed votes.
func mergeClusters(a, b types.CandidateCluster) types.CandidateCluster {
	wa := float64(a.Votes)
	wb := float64(b.Votes)
	total := wa + wb
	return types.CandidateCluster{
		Region: types.Region{
			X1:    (a.Region.X1*wa + b.Region.X1*wb) / total,
			Y1:    (a.Region.Y1*wa + b.Region.Y1*wb) / total,
			X2:    (a.Region.X2*wa + b.Region.X2*wb) / total,
			Y2:    (a.Region.Y2*wa + b.Region.Y2*wb) / total,
			Space: a.Region.Space,
		},
		Sources: a.Sources.Union(b.Sources),
		Votes:   a.Votes + b.Votes,
	}
}

// demoted reports whether a cluster ranks behind model-supported ones:
// algorithmic-only evidence with votes below the trust floor.
func demoted(c types.CandidateCluster, trustFloor int) bool {
	return !c.Sources.Has(types.SourceModelVote) && c.Votes < trustFloor
}

// rankLess orders clusters best-first.
func rankLess(a, b types.CandidateCluster, trustFloor int) bool {
	da, db := demoted(a, trustFloor), demoted(b, trustFloor)
	if da != db {
		return !da
	}
	if a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	ma, mb := a.Sources.Has(types.SourceModelVote), b.Sources.Has(types.SourceModelVote)
	if ma != mb {
		return ma
	}
	return a.Region.Area() > b.Region.Area()
}

// sortClusters orders clusters into a canonical order so greedy merging
// is independent of input permutation.
func sortClusters(clusters []types.CandidateCluster) {
	sort.Slice(clusters, func(i, j int) bool {
		a, b := clusters[i].Region, clusters[j].Region
		if a.X1 != b.X1 {
			return a.X1 < b.X1
		}
		if a.Y1 != b.Y1 {
			return a.Y1 < b.Y1
		}
		if a.X2 != b.X2 {
			return a.X2 < b.X2
		}
		if a.Y2 != b.Y2 {
			return a.Y2 < b.Y2
		}
		return clusters[i].Votes > clusters[j].Votes
	})
}
