// Package disambig resolves multiple remaining candidate regions down to
// one by drawing labeled markers on the screen and asking a validation
// model repeatedly which label matches the element description.
package disambig

import (
	"context"
	"errors"
	"fmt"
	"image"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/element-locator/pkg/client"
	"github.com/menta2k/element-locator/pkg/processing"
	"github.com/menta2k/element-locator/pkg/types"
)

// ErrLabelBudgetExceeded means more candidates were passed than the
// palette has label slots. This is a configuration error and is never
// retried.
var ErrLabelBudgetExceeded = errors.New("disambig: more candidates than available labels")

// ValidationPrompt asks the validation model to pick one labeled marker.
const ValidationPrompt = `You are validating candidate locations of a UI element on a screenshot.

The screenshot contains %d candidate regions, each outlined and tagged with one of these labels: %s.

The element being located:
%s

Pick the single label whose region matches the element, or "none" if no region matches.

Return JSON only: {"label": "A"} or {"label": "none"}.
No markdown, no code fences, no explanations.`

// State is the disambiguation decision state.
type State int

const (
	// StatePending means no ballot has been evaluated yet.
	StatePending State = iota
	// StateResolved means a label won a strict majority.
	StateResolved
	// StateUnresolved means no label reached a strict majority.
	StateUnresolved
)

// Result is the outcome of one disambiguation round.
type Result struct {
	State   State
	Winner  int    // index into the candidate slice, valid when resolved
	Label   string // winning label, valid when resolved
	Ballot  types.Ballot
	Overlay image.Image // labeled screen used for validation
}

// Config holds configuration for the disambiguator.
type Config struct {
	Model       string
	Votes       int // validation calls per round
	SendFormat  string
	SendMaxSide int
	SendQuality int
}

// DefaultConfig returns the disambiguator defaults.
func DefaultConfig() Config {
	return Config{
		Votes:       3,
		SendFormat:  "jpg",
		SendMaxSide: 1536,
		SendQuality: 85,
	}
}

// Disambiguator runs majority-vote validation over labeled candidates.
type Disambiguator struct {
	client client.VisionClient
	cfg    Config
}

// New creates a disambiguator with default configuration for the given model.
func New(c client.VisionClient, model string) *Disambiguator {
	cfg := DefaultConfig()
	cfg.Model = model
	return &Disambiguator{client: c, cfg: cfg}
}

// NewWithConfig creates a disambiguator with custom configuration.
func NewWithConfig(c client.VisionClient, cfg Config) *Disambiguator {
	d := DefaultConfig()
	if cfg.Votes <= 0 {
		cfg.Votes = d.Votes
	}
	if cfg.SendFormat == "" {
		cfg.SendFormat = d.SendFormat
	}
	if cfg.SendQuality <= 0 {
		cfg.SendQuality = d.SendQuality
	}
	return &Disambiguator{client: c, cfg: cfg}
}

// Disambiguate labels every candidate on the screen, collects the
// configured number of validation votes concurrently, and applies the
// strict-majority rule. A split vote yields StateUnresolved, never an
// arbitrary pick.
func (d *Disambiguator) Disambiguate(ctx context.Context, candidates []types.CandidateCluster, screen image.Image, description string) (Result, error) {
	if len(candidates) < 2 {
		return Result{}, fmt.Errorf("disambig: need at least 2 candidates, got %d", len(candidates))
	}
	if len(candidates) > len(Palette) {
		return Result{}, fmt.Errorf("%w: %d candidates, %d labels", ErrLabelBudgetExceeded, len(candidates), len(Palette))
	}

	overlay := DrawCandidates(screen, candidates)

	imgB64, err := processing.EncodeForModel(overlay, d.cfg.SendFormat, d.cfg.SendMaxSide, d.cfg.SendQuality)
	if err != nil {
		return Result{}, fmt.Errorf("prepare overlay for model: %w", err)
	}

	labels := make([]string, len(candidates))
	for i := range candidates {
		labels[i] = Palette[i].Label
	}
	prompt := fmt.Sprintf(ValidationPrompt, len(candidates), strings.Join(labels, ", "), description)

	ballot := types.Ballot{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Votes; i++ {
		g.Go(func() error {
			raw, err := d.client.SimpleQuery(gctx, d.cfg.Model, prompt, imgB64)
			if err != nil {
				return fmt.Errorf("validation call failed: %w", err)
			}
			vote := parseVote(raw, labels)
			mu.Lock()
			ballot.Cast(vote)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result := Result{State: StateUnresolved, Winner: -1, Ballot: ballot, Overlay: overlay}
	if label, ok := ballot.Winner(d.cfg.Votes); ok {
		for i, l := range labels {
			if l == label {
				result.State = StateResolved
				result.Winner = i
				result.Label = label
				break
			}
		}
	}
	return result, nil
}

// DrawCandidates returns a copy of the screen with every candidate
// outlined in its palette color and tagged with its label.
func DrawCandidates(screen image.Image, candidates []types.CandidateCluster) *image.NRGBA {
	overlay := processing.CloneForDrawing(screen)
	stroke := processing.DefaultStroke(screen)
	for i, c := range candidates {
		slot := Palette[i%len(Palette)]
		processing.DrawRegion(overlay, c.Region, slot.Color, stroke)
		processing.DrawLabelTag(overlay, c.Region, slot.Label, slot.Color)
	}
	return overlay
}

var voteLabelRe = regexp.MustCompile(`"label"\s*:\s*"([A-Za-z]+)"`)

// parseVote extracts one vote from a raw model response. Anything that
// is not one of the offered labels counts as "none".
func parseVote(raw string, labels []string) string {
	candidate := ""
	if m := voteLabelRe.FindStringSubmatch(raw); m != nil {
		candidate = strings.ToUpper(strings.TrimSpace(m[1]))
	} else {
		// Fall back to a bare label or "none" in free text.
		trimmed := strings.ToUpper(strings.Trim(strings.TrimSpace(raw), "`\"'."))
		if trimmed == "NONE" {
			return "none"
		}
		if len(trimmed) == 1 {
			candidate = trimmed
		}
	}

	for _, l := range labels {
		if candidate == l {
			return l
		}
	}
	return "none"
}
