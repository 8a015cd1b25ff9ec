package grounding

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"

	"github.com/menta2k/element-locator/pkg/types"
)

// scriptedClient replays canned responses across concurrent calls.
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (s *scriptedClient) SimpleQuery(context.Context, string, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++
	return resp, nil
}

func testScreen() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 200, 160))
}

func TestProposeRegionsClustersRepeatedVotes(t *testing.T) {
	// All five calls agree on the same normalized box.
	c := &scriptedClient{responses: []string{
		`{"regions":[{"x1":100,"y1":100,"x2":300,"y2":300}]}`,
	}}
	v := NewVoter(c, "test-model")

	clusters, err := v.ProposeRegions(context.Background(), "submit button", testScreen())
	if err != nil {
		t.Fatalf("ProposeRegions: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(clusters))
	}
	if clusters[0].Votes != 5 {
		t.Errorf("votes = %d, want 5", clusters[0].Votes)
	}
	if !clusters[0].Sources.Has(types.SourceModelVote) {
		t.Error("cluster not tagged MODEL_VOTE")
	}
	if c.calls != 5 {
		t.Errorf("model calls = %d, want 5", c.calls)
	}

	// Normalized (100,100)-(300,300) on a 200x160 screen.
	want := types.Region{X1: 20, Y1: 16, X2: 60, Y2: 48, Space: types.SpacePixel}
	if got := clusters[0].Region; got.IoU(want) < 0.99 {
		t.Errorf("region = %+v, want %+v", got, want)
	}
}

func TestProposeRegionsSplitsDisjointVotes(t *testing.T) {
	c := &scriptedClient{responses: []string{
		`{"regions":[{"x1":100,"y1":100,"x2":300,"y2":300}]}`,
		`{"regions":[{"x1":700,"y1":700,"x2":900,"y2":900}]}`,
	}}
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	cfg.Votes = 4
	v := NewVoterWithConfig(c, cfg)

	clusters, err := v.ProposeRegions(context.Background(), "submit button", testScreen())
	if err != nil {
		t.Fatalf("ProposeRegions: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("clusters = %d, want 2", len(clusters))
	}
	if clusters[0].Votes+clusters[1].Votes != 4 {
		t.Errorf("total votes = %d, want 4", clusters[0].Votes+clusters[1].Votes)
	}
}

func TestProposeRegionsGarbledResponsesAbstain(t *testing.T) {
	c := &scriptedClient{responses: []string{"I cannot find any such element, sorry."}}
	v := NewVoter(c, "test-model")

	clusters, err := v.ProposeRegions(context.Background(), "submit button", testScreen())
	if err != nil {
		t.Fatalf("ProposeRegions: %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("clusters = %d, want 0 (garbled votes abstain)", len(clusters))
	}
}

func TestProposeRegionsTransportErrorPropagates(t *testing.T) {
	c := &scriptedClient{err: fmt.Errorf("connection refused")}
	v := NewVoter(c, "test-model")

	if _, err := v.ProposeRegions(context.Background(), "submit button", testScreen()); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestParseProposals(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"envelope", `{"regions":[{"x1":10,"y1":10,"x2":50,"y2":50}]}`, 1},
		{"bare array", `[{"x1":10,"y1":10,"x2":50,"y2":50}]`, 1},
		{"fenced", "```json\n{\"regions\":[{\"x1\":10,\"y1\":10,\"x2\":50,\"y2\":50}]}\n```", 1},
		{"trailing comma", `{"regions":[{"x1":10,"y1":10,"x2":50,"y2":50},]}`, 1},
		{"prose around json", `Here you go: {"regions":[{"x1":10,"y1":10,"x2":50,"y2":50}]} hope that helps`, 1},
		{"swapped corners", `{"regions":[{"x1":50,"y1":50,"x2":10,"y2":10}]}`, 1},
		{"degenerate box", `{"regions":[{"x1":10,"y1":10,"x2":10,"y2":50}]}`, 0},
		{"garbled", "no boxes here", 0},
		{"empty", "", 0},
		{"clamped overflow", `{"regions":[{"x1":-50,"y1":0,"x2":1500,"y2":900}]}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseProposals(tt.raw)
			if len(got) != tt.want {
				t.Fatalf("proposals = %d, want %d", len(got), tt.want)
			}
			for _, r := range got {
				if !r.Valid() {
					t.Errorf("invalid proposal %+v", r)
				}
				if r.Space != types.SpaceNormalized {
					t.Errorf("space = %v, want normalized", r.Space)
				}
				if r.X1 < 0 || r.X2 > types.NormalizedMax || r.Y1 < 0 || r.Y2 > types.NormalizedMax {
					t.Errorf("proposal %+v outside the grid", r)
				}
			}
		})
	}
}

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"line comment", "{\n// note\n\"a\":1}", "{\n\n\"a\":1}"},
		{"trailing comma", `{"a":1,}`, `{"a":1}`},
		{"prose wrapped", `sure! {"a":1} done`, `{"a":1}`},
		{"array", `text [1,2,3] text`, `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeModelJSON(tt.raw); got != tt.want {
				t.Errorf("SanitizeModelJSON(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
