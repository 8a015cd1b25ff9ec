package types

import (
	"math"
	"strings"
)

// NormalizedMax is the upper bound of the normalized coordinate grid.
// Vision models report boxes on a [0,1000] grid regardless of image size.
const NormalizedMax = 1000.0

// CoordinateSpace identifies which coordinate system a Region uses.
// Conversions between spaces are explicit; mixing spaces in geometric
// operations is a programming error, not a runtime guess.
type CoordinateSpace int

const (
	// SpacePixel means absolute pixel coordinates on a concrete image.
	SpacePixel CoordinateSpace = iota
	// SpaceNormalized means coordinates on the [0,1000] model grid.
	SpaceNormalized
)

// String returns a human-readable name for the coordinate space.
func (s CoordinateSpace) String() string {
	switch s {
	case SpacePixel:
		return "pixel"
	case SpaceNormalized:
		return "normalized"
	default:
		return "unknown"
	}
}

// Region is an axis-aligned rectangle. Invariant: X2 > X1 and Y2 > Y1.
type Region struct {
	X1, Y1, X2, Y2 float64
	Space          CoordinateSpace
}

// Valid reports whether the region satisfies its coordinate invariant.
func (r Region) Valid() bool {
	return r.X2 > r.X1 && r.Y2 > r.Y1
}

// Width returns the horizontal extent of the region.
func (r Region) Width() float64 { return r.X2 - r.X1 }

// Height returns the vertical extent of the region.
func (r Region) Height() float64 { return r.Y2 - r.Y1 }

// Area returns the area of the region.
func (r Region) Area() float64 { return r.Width() * r.Height() }

// Center returns the center point of the region.
func (r Region) Center() (float64, float64) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// Intersect returns the overlapping rectangle of two regions and whether
// it is non-empty. Both regions must be in the same coordinate space.
func (r Region) Intersect(o Region) (Region, bool) {
	x1 := math.Max(r.X1, o.X1)
	y1 := math.Max(r.Y1, o.Y1)
	x2 := math.Min(r.X2, o.X2)
	y2 := math.Min(r.Y2, o.Y2)
	if x2 <= x1 || y2 <= y1 {
		return Region{Space: r.Space}, false
	}
	return Region{X1: x1, Y1: y1, X2: x2, Y2: y2, Space: r.Space}, true
}

// IoU returns the intersection-over-union ratio of two regions.
// Regions in different coordinate spaces never overlap (returns 0).
func (r Region) IoU(o Region) float64 {
	if r.Space != o.Space || !r.Valid() || !o.Valid() {
		return 0
	}
	inter, ok := r.Intersect(o)
	if !ok {
		return 0
	}
	union := r.Area() + o.Area() - inter.Area()
	if union <= 0 {
		return 0
	}
	return inter.Area() / union
}

// ToPixel converts a normalized region to absolute pixel coordinates for
// an image of the given dimensions. Pixel regions are returned unchanged.
func (r Region) ToPixel(imgW, imgH int) Region {
	if r.Space == SpacePixel {
		return r
	}
	return Region{
		X1:    r.X1 / NormalizedMax * float64(imgW),
		Y1:    r.Y1 / NormalizedMax * float64(imgH),
		X2:    r.X2 / NormalizedMax * float64(imgW),
		Y2:    r.Y2 / NormalizedMax * float64(imgH),
		Space: SpacePixel,
	}
}

// ToNormalized converts a pixel region to the [0,1000] grid for an image
// of the given dimensions. Normalized regions are returned unchanged.
func (r Region) ToNormalized(imgW, imgH int) Region {
	if r.Space == SpaceNormalized {
		return r
	}
	return Region{
		X1:    r.X1 / float64(imgW) * NormalizedMax,
		Y1:    r.Y1 / float64(imgH) * NormalizedMax,
		X2:    r.X2 / float64(imgW) * NormalizedMax,
		Y2:    r.Y2 / float64(imgH) * NormalizedMax,
		Space: SpaceNormalized,
	}
}

// MeanRegion returns the coordinate-wise mean of the given regions.
// All regions must share a coordinate space. Returns the zero Region
// for an empty slice.
func MeanRegion(regions []Region) Region {
	if len(regions) == 0 {
		return Region{}
	}
	var out Region
	out.Space = regions[0].Space
	for _, r := range regions {
		out.X1 += r.X1
		out.Y1 += r.Y1
		out.X2 += r.X2
		out.Y2 += r.Y2
	}
	n := float64(len(regions))
	out.X1 /= n
	out.Y1 /= n
	out.X2 /= n
	out.Y2 /= n
	return out
}

// SourceSet is a bit set of evidence sources backing a candidate cluster.
type SourceSet uint8

const (
	// SourceModelVote marks evidence from repeated visual-grounding calls.
	SourceModelVote SourceSet = 1 << iota
	// SourceAlgorithmic marks evidence from feature or correlation matching.
	SourceAlgorithmic
)

// Has reports whether the set contains all sources in s.
func (ss SourceSet) Has(s SourceSet) bool { return ss&s == s }

// Union returns a set containing the sources of both sets.
func (ss SourceSet) Union(o SourceSet) SourceSet { return ss | o }

// String returns a stable textual form of the source set.
func (ss SourceSet) String() string {
	switch {
	case ss.Has(SourceModelVote) && ss.Has(SourceAlgorithmic):
		return "MODEL_VOTE|ALGORITHMIC"
	case ss.Has(SourceModelVote):
		return "MODEL_VOTE"
	case ss.Has(SourceAlgorithmic):
		return "ALGORITHMIC"
	default:
		return "NONE"
	}
}

// CandidateCluster is a fused candidate region with its supporting
// evidence. Built and discarded within a single location attempt.
type CandidateCluster struct {
	Region  Region
	Sources SourceSet
	Votes   int
}

// StoredElement is an immutable record describing a previously seen
// screen element. Mutated only via explicit store update operations.
type StoredElement struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	AnchorDescription string   `json:"anchor_description"`
	ContextSummary    string   `json:"context_summary"`
	ReferenceImage    []byte   `json:"reference_image,omitempty"`
	RequiresZoom      bool     `json:"requires_zoom"`
	DataAttributes    []string `json:"data_attributes,omitempty"`
}

// FullDescription renders the element's complete textual description for
// model prompts: name, own description, anchor description, and any
// data-dependent attribute values supplied by the caller.
func (e StoredElement) FullDescription(attrs map[string]string) string {
	parts := []string{"Name: " + e.Name}
	if e.Description != "" {
		parts = append(parts, "Description: "+e.Description)
	}
	if e.AnchorDescription != "" {
		parts = append(parts, "Location: "+e.AnchorDescription)
	}
	for _, name := range e.DataAttributes {
		if v, ok := attrs[name]; ok {
			parts = append(parts, name+": "+v)
		}
	}
	return strings.Join(parts, "\n")
}

// RetrievedCandidate pairs a stored element with its similarity score for
// one retrieval call. ContextRelevance is set only when the retrieval was
// given a page/context description.
type RetrievedCandidate struct {
	Element          StoredElement
	Score            float64
	ContextRelevance *float64
}

// Ballot maps candidate labels to validation vote counts.
type Ballot map[string]int

// Cast records one vote for the given label. Empty labels count as "none".
func (b Ballot) Cast(label string) {
	if label == "" {
		label = "none"
	}
	b[label]++
}

// Winner returns the label holding a strict majority of the total votes
// cast (votes > total/2). "none" can never win; without a strict majority
// the second return is false.
func (b Ballot) Winner(total int) (string, bool) {
	for label, votes := range b {
		if label == "none" {
			continue
		}
		if votes*2 > total {
			return label, true
		}
	}
	return "", false
}

// OutcomeKind discriminates the terminal result of a location attempt.
type OutcomeKind int

const (
	// OutcomeFound means a single confident region was located.
	OutcomeFound OutcomeKind = iota
	// OutcomeNotFound means no confident region was located.
	OutcomeNotFound
	// OutcomeInterrupted means a user decision stopped the attempt.
	OutcomeInterrupted
)

// LocationOutcome is the terminal, immutable result of a location attempt.
type LocationOutcome struct {
	Kind   OutcomeKind
	Region Region // valid only when Kind == OutcomeFound
	Reason string
}

// Found builds a successful outcome for the given region.
func Found(r Region) LocationOutcome {
	return LocationOutcome{Kind: OutcomeFound, Region: r}
}

// NotFound builds a failed outcome with a diagnostic reason.
func NotFound(reason string) LocationOutcome {
	return LocationOutcome{Kind: OutcomeNotFound, Reason: reason}
}

// Interrupted builds an outcome for a user-interrupted attempt.
func Interrupted(reason string) LocationOutcome {
	return LocationOutcome{Kind: OutcomeInterrupted, Reason: reason}
}
