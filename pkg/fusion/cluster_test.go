package fusion

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/menta2k/element-locator/pkg/types"
)

func px(x1, y1, x2, y2 float64) types.Region {
	return types.Region{X1: x1, Y1: y1, X2: x2, Y2: y2, Space: types.SpacePixel}
}

func TestClusterRegionsGroupsOverlapping(t *testing.T) {
	regions := []types.Region{
		px(100, 100, 200, 200),
		px(102, 101, 202, 201),
		px(98, 99, 198, 199),
		px(500, 500, 600, 600),
	}

	clusters := ClusterRegions(regions, DefaultMinIntersectionRatio, types.SourceModelVote)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Votes > clusters[j].Votes })

	if clusters[0].Votes != 3 {
		t.Errorf("expected 3 votes in the large cluster, got %d", clusters[0].Votes)
	}
	if clusters[1].Votes != 1 {
		t.Errorf("expected 1 vote in the isolated cluster, got %d", clusters[1].Votes)
	}
	if clusters[0].Sources != types.SourceModelVote {
		t.Errorf("unexpected source tag: %s", clusters[0].Sources)
	}

	// Representative is the mean of members.
	mean := clusters[0].Region
	if mean.X1 != 100 || mean.Y1 != 100 || mean.X2 != 200 || mean.Y2 != 200 {
		t.Errorf("unexpected representative region: %+v", mean)
	}
}

func TestClusterRegionsBoundaryMergesAtThreshold(t *testing.T) {
	// IoU of these two regions is exactly 0.7 (intersection 70, union 100).
	a := px(0, 0, 10, 10)
	b := px(0, 0, 10, 7)

	clusters := ClusterRegions([]types.Region{a, b}, 0.7, types.SourceModelVote)
	if len(clusters) != 1 {
		t.Fatalf("IoU exactly at threshold must merge, got %d clusters", len(clusters))
	}
	if clusters[0].Votes != 2 {
		t.Errorf("expected 2 votes, got %d", clusters[0].Votes)
	}
}

func TestClusterRegionsNeverMergesBelowThreshold(t *testing.T) {
	a := px(0, 0, 10, 10)
	b := px(0, 0, 10, 6.9) // IoU 0.69

	clusters := ClusterRegions([]types.Region{a, b}, 0.7, types.SourceModelVote)
	if len(clusters) != 2 {
		t.Fatalf("IoU below threshold must not merge, got %d clusters", len(clusters))
	}
}

func TestClusterRegionsPermutationInvariant(t *testing.T) {
	base := []types.Region{
		px(100, 100, 200, 200),
		px(105, 105, 205, 205),
		px(400, 100, 500, 200),
		px(402, 98, 502, 198),
		px(800, 800, 900, 900),
	}

	want := canonical(ClusterRegions(base, DefaultMinIntersectionRatio, types.SourceModelVote))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]types.Region, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := canonical(ClusterRegions(shuffled, DefaultMinIntersectionRatio, types.SourceModelVote))
		if len(got) != len(want) {
			t.Fatalf("permutation %d: cluster count %d, want %d", i, len(got), len(want))
		}
		for j := range got {
			if got[j] != want[j] {
				t.Fatalf("permutation %d: cluster %d = %+v, want %+v", i, j, got[j], want[j])
			}
		}
	}
}

func TestClusterRegionsSkipsInvalid(t *testing.T) {
	regions := []types.Region{
		px(10, 10, 5, 5), // inverted
		px(100, 100, 200, 200),
	}

	clusters := ClusterRegions(regions, 0.7, types.SourceModelVote)
	if len(clusters) != 1 {
		t.Fatalf("invalid regions must be skipped, got %d clusters", len(clusters))
	}
}

func canonical(clusters []types.CandidateCluster) []types.CandidateCluster {
	out := make([]types.CandidateCluster, len(clusters))
	copy(out, clusters)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Region, out[j].Region
		if a.X1 != b.X1 {
			return a.X1 < b.X1
		}
		return a.Y1 < b.Y1
	})
	return out
}
