package grounding

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/element-locator/pkg/types"
)

type regionProposal struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type proposalEnvelope struct {
	Regions []regionProposal `json:"regions"`
}

// ParseProposals extracts region proposals from a raw model response.
// Responses that cannot be interpreted yield zero proposals rather than
// an error: a garbled vote is an abstention, not a transport failure.
func ParseProposals(raw string) []types.Region {
	raw = SanitizeModelJSON(raw)

	var envelope proposalEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		// Some models return a bare array instead of the envelope.
		var bare []regionProposal
		if err := json.Unmarshal([]byte(raw), &bare); err != nil {
			return nil
		}
		envelope.Regions = bare
	}

	out := make([]types.Region, 0, len(envelope.Regions))
	for _, p := range envelope.Regions {
		r := normalizeProposal(p)
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// normalizeProposal clamps a proposal to the [0,1000] grid and fixes
// swapped corners, which some models emit.
func normalizeProposal(p regionProposal) types.Region {
	x1 := clamp(p.X1, 0, types.NormalizedMax)
	y1 := clamp(p.Y1, 0, types.NormalizedMax)
	x2 := clamp(p.X2, 0, types.NormalizedMax)
	y2 := clamp(p.Y2, 0, types.NormalizedMax)
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return types.Region{X1: x1, Y1: y1, X2: x2, Y2: y2, Space: types.SpaceNormalized}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// SanitizeModelJSON removes code fences, comments, and trailing commas
// from a model response and slices to the outermost JSON value.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...} or [...]
	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if end := strings.LastIndex(raw, "}"); end > objStart {
			raw = raw[objStart : end+1]
		}
	} else if arrStart >= 0 {
		if end := strings.LastIndex(raw, "]"); end > arrStart {
			raw = raw[arrStart : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
