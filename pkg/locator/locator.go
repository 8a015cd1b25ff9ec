// Package locator orchestrates a full element location attempt: candidate
// retrieval from the similarity store, visual grounding votes, algorithmic
// matching, fusion, disambiguation and the deadline-bounded retry loop.
package locator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/menta2k/element-locator/internal/utils"
	"github.com/menta2k/element-locator/pkg/disambig"
	"github.com/menta2k/element-locator/pkg/fusion"
	"github.com/menta2k/element-locator/pkg/processing"
	"github.com/menta2k/element-locator/pkg/types"
)

// Retriever queries the element similarity store.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topN int, minScore float64) ([]types.RetrievedCandidate, error)
	RetrieveWithContext(ctx context.Context, query, contextText string, topN int, minScore float64) ([]types.RetrievedCandidate, error)
}

// VisualGrounder proposes candidate regions for a described element on a
// screen image.
type VisualGrounder interface {
	ProposeRegions(ctx context.Context, description string, screen image.Image) ([]types.CandidateCluster, error)
}

// AlgorithmicMatcher finds occurrences of a reference image on the screen.
type AlgorithmicMatcher interface {
	Match(reference, screen image.Image) ([]types.CandidateCluster, error)
}

// Validator resolves multiple candidates down to at most one.
type Validator interface {
	Disambiguate(ctx context.Context, candidates []types.CandidateCluster, screen image.Image, description string) (disambig.Result, error)
}

// ScreenSource captures the current screen. Each retry re-captures.
type ScreenSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Confirmation is the operator's answer to a located region.
type Confirmation int

const (
	ConfirmCorrect Confirmation = iota
	ConfirmIncorrect
	ConfirmInterrupted
)

// Decision is the operator's choice from the recovery menu.
type Decision int

const (
	DecisionRetry Decision = iota
	DecisionRefine
	DecisionCreateNew
	DecisionTerminate
)

// Interaction is the attended-mode human fallback. Unattended runs never
// call it.
type Interaction interface {
	ConfirmLocation(ctx context.Context, description string, region types.Region, screen image.Image) (Confirmation, error)
	PromptNextAction(ctx context.Context, reason string) (Decision, error)
}

// Config holds the orchestrator tunables.
type Config struct {
	// TopN is how many candidates to request from the store.
	TopN int

	// TargetScoreFloor is the similarity score at which a candidate is
	// trusted enough to drive visual grounding.
	TargetScoreFloor float64

	// GeneralScoreFloor is the lower bound below which candidates are
	// not surfaced at all.
	GeneralScoreFloor float64

	// PageRelevanceFloor filters candidates by page-context relevance,
	// independent of the similarity score. Only applied when the store
	// computed a relevance score.
	PageRelevanceFloor float64

	// Fusion controls cluster merging and the algorithmic trust floor.
	Fusion fusion.Options

	// Deadline bounds the whole retry loop; RetryInterval is the wait
	// between attempts.
	Deadline      time.Duration
	RetryInterval time.Duration

	// Attended enables the human fallback branches.
	Attended bool

	// DiagnosticDir, when set, receives a screenshot of the last
	// attempt on unattended terminal failure.
	DiagnosticDir string

	// Zoom refinement for elements flagged as requiring it.
	ZoomPadRatio float64
	ZoomFactor   float64
}

// DefaultConfig returns the stock orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		TopN:               5,
		TargetScoreFloor:   0.8,
		GeneralScoreFloor:  0.5,
		PageRelevanceFloor: 0.5,
		Fusion:             fusion.DefaultOptions(),
		Deadline:           2 * time.Minute,
		RetryInterval:      5 * time.Second,
		ZoomPadRatio:       0.35,
		ZoomFactor:         2.0,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.TargetScoreFloor < c.GeneralScoreFloor {
		return fmt.Errorf("target score floor %.2f below general floor %.2f", c.TargetScoreFloor, c.GeneralScoreFloor)
	}
	if c.Deadline <= 0 {
		return fmt.Errorf("deadline must be positive")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive")
	}
	return nil
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Store       Retriever
	Screens     ScreenSource
	Grounder    VisualGrounder
	Matcher     AlgorithmicMatcher
	Validator   Validator
	Interaction Interaction
	Logger      *slog.Logger
}

// Request describes one element to locate.
type Request struct {
	// Description is the natural-language element description used to
	// query the store.
	Description string

	// PageContext optionally describes the current page so retrieval
	// can score context relevance.
	PageContext string

	// Attributes are data-dependent attribute values rendered into the
	// grounding and validation prompts.
	Attributes map[string]string
}

// Locator runs the location state machine with retries.
type Locator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New creates a Locator with the default configuration.
func New(deps Deps) (*Locator, error) {
	return NewWithConfig(deps, DefaultConfig())
}

// NewWithConfig creates a Locator with a custom configuration.
func NewWithConfig(deps Deps, cfg Config) (*Locator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if deps.Store == nil || deps.Screens == nil || deps.Grounder == nil {
		return nil, fmt.Errorf("%w: store, screen source and grounder are required", ErrConfiguration)
	}
	if cfg.Attended && deps.Interaction == nil {
		return nil, fmt.Errorf("%w: attended mode requires an interaction service", ErrConfiguration)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{cfg: cfg, deps: deps, log: logger}, nil
}

// Locate finds the described element on the current screen, retrying
// transient failures until the deadline. The returned error is non-nil
// only for fatal configuration problems or context cancellation; all
// taxonomy failures are reported through the outcome.
func (l *Locator) Locate(ctx context.Context, req Request) (types.LocationOutcome, error) {
	if req.Description == "" {
		err := fmt.Errorf("%w: empty element description", ErrConfiguration)
		return types.NotFound(err.Error()), err
	}

	actx := newAttemptContext(time.Now(), l.cfg.Deadline, l.cfg.RetryInterval)
	var lastScreen image.Image

	for {
		if err := ctx.Err(); err != nil {
			return types.Interrupted("context canceled"), err
		}

		n := actx.Begin()
		l.log.Debug("location attempt", "attempt", n, "description", req.Description)

		outcome, screen, err := l.runAttempt(ctx, req)
		if screen != nil {
			lastScreen = screen
		}
		if err == nil {
			l.log.Info("element located",
				"attempt", n,
				"elapsed", actx.Elapsed(),
				"region", outcome.Region)
			return outcome, nil
		}
		l.log.Warn("location attempt failed", "attempt", n, "error", err)

		switch {
		case errors.Is(err, ErrUserTerminated):
			return types.Interrupted(ErrUserTerminated.Error()), nil
		case errors.Is(err, ErrUserInterrupted):
			return types.Interrupted(ErrUserInterrupted.Error()), nil
		case errors.Is(err, ErrConfiguration):
			return types.NotFound(err.Error()), err
		}

		if l.cfg.Attended {
			decision, derr := l.deps.Interaction.PromptNextAction(ctx, err.Error())
			if derr != nil {
				return types.NotFound(err.Error()), derr
			}
			switch decision {
			case DecisionTerminate:
				return types.Interrupted(ErrUserTerminated.Error()), nil
			case DecisionCreateNew:
				return types.NotFound("element creation requested"), nil
			}
			// Refine and retry both go around immediately; the operator
			// already spent the wait.
			if actx.Expired(time.Now()) {
				return l.fail("retries exhausted", lastScreen), nil
			}
			continue
		}

		// Retrieval output depends only on the query, so store-side
		// failures cannot improve on retry.
		if errors.Is(err, ErrNoCandidatesInStore) || errors.Is(err, ErrCandidatesBelowFloor) {
			return l.fail(taxonomyReason(err), lastScreen), nil
		}

		delay, ok := actx.NextDelay(time.Now())
		if !ok {
			return l.fail("retries exhausted", lastScreen), nil
		}
		select {
		case <-ctx.Done():
			return types.Interrupted("context canceled"), ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runAttempt executes one pass of the state machine. The returned screen
// is whatever capture the attempt worked on, for diagnostics.
func (l *Locator) runAttempt(ctx context.Context, req Request) (types.LocationOutcome, image.Image, error) {
	screen, err := l.deps.Screens.Capture(ctx)
	if err != nil {
		return types.LocationOutcome{}, nil, fmt.Errorf("capture screen: %w", err)
	}

	candidate, err := l.retrieveTarget(ctx, req)
	if err != nil {
		return types.LocationOutcome{}, screen, err
	}

	elem := candidate.Element
	description := elem.FullDescription(req.Attributes)

	clusters, err := l.deps.Grounder.ProposeRegions(ctx, description, screen)
	if err != nil {
		return types.LocationOutcome{}, screen, fmt.Errorf("visual grounding: %w", err)
	}

	clusters = append(clusters, l.algorithmicClusters(elem, screen)...)

	fused := fusion.Fuse(clusters, l.cfg.Fusion)
	if len(fused) == 0 {
		return types.LocationOutcome{}, screen, fmt.Errorf("%w: element %q", ErrNoVisualMatch, elem.ID)
	}

	winner := fused[0]
	if len(fused) > 1 {
		winner, err = l.disambiguate(ctx, fused, screen, description)
		if err != nil {
			return types.LocationOutcome{}, screen, err
		}
	}

	region := winner.Region
	if elem.RequiresZoom {
		region = l.refineWithZoom(ctx, description, screen, region)
	}

	if l.cfg.Attended {
		conf, cerr := l.deps.Interaction.ConfirmLocation(ctx, description, region, screen)
		if cerr != nil {
			return types.LocationOutcome{}, screen, fmt.Errorf("confirm location: %w", cerr)
		}
		switch conf {
		case ConfirmIncorrect:
			return types.LocationOutcome{}, screen, fmt.Errorf("%w: operator rejected region", ErrNoVisualMatch)
		case ConfirmInterrupted:
			return types.LocationOutcome{}, screen, ErrUserInterrupted
		}
	}

	return types.Found(region), screen, nil
}

// retrieveTarget queries the store and returns the best candidate above
// the target floor.
func (l *Locator) retrieveTarget(ctx context.Context, req Request) (types.RetrievedCandidate, error) {
	var (
		candidates []types.RetrievedCandidate
		err        error
	)
	if req.PageContext != "" {
		candidates, err = l.deps.Store.RetrieveWithContext(ctx, req.Description, req.PageContext, l.cfg.TopN, l.cfg.GeneralScoreFloor)
	} else {
		candidates, err = l.deps.Store.Retrieve(ctx, req.Description, l.cfg.TopN, l.cfg.GeneralScoreFloor)
	}
	if err != nil {
		return types.RetrievedCandidate{}, fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(candidates) == 0 {
		return types.RetrievedCandidate{}, fmt.Errorf("%w: %q", ErrNoCandidatesInStore, req.Description)
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if c.ContextRelevance != nil && *c.ContextRelevance < l.cfg.PageRelevanceFloor {
			l.log.Debug("candidate dropped by page relevance",
				"element", c.Element.ID, "relevance", *c.ContextRelevance)
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return types.RetrievedCandidate{}, fmt.Errorf("%w: all candidates below page relevance %.2f",
			ErrCandidatesBelowFloor, l.cfg.PageRelevanceFloor)
	}

	best := kept[0]
	if best.Score < l.cfg.TargetScoreFloor {
		return types.RetrievedCandidate{}, fmt.Errorf("%w: best score %.2f under target floor %.2f",
			ErrCandidatesBelowFloor, best.Score, l.cfg.TargetScoreFloor)
	}
	return best, nil
}

// algorithmicClusters runs reference-image matching when a matcher and a
// reference image are available. Matching failures degrade to
// grounding-only evidence instead of failing the attempt.
func (l *Locator) algorithmicClusters(elem types.StoredElement, screen image.Image) []types.CandidateCluster {
	if l.deps.Matcher == nil || len(elem.ReferenceImage) == 0 {
		return nil
	}
	ref, err := processing.DecodeImage(elem.ReferenceImage)
	if err != nil {
		l.log.Warn("reference image unreadable", "element", elem.ID, "error", err)
		return nil
	}
	clusters, err := l.deps.Matcher.Match(ref, screen)
	if err != nil {
		l.log.Warn("algorithmic matching failed", "element", elem.ID, "error", err)
		return nil
	}
	return clusters
}

// disambiguate resolves multiple fused candidates to a single winner.
func (l *Locator) disambiguate(ctx context.Context, fused []types.CandidateCluster, screen image.Image, description string) (types.CandidateCluster, error) {
	if l.deps.Validator == nil {
		return types.CandidateCluster{}, fmt.Errorf("%w: %d candidates but no validator configured",
			ErrConfiguration, len(fused))
	}
	res, err := l.deps.Validator.Disambiguate(ctx, fused, screen, description)
	if err != nil {
		if errors.Is(err, disambig.ErrLabelBudgetExceeded) {
			return types.CandidateCluster{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return types.CandidateCluster{}, fmt.Errorf("disambiguate: %w", err)
	}
	if res.State != disambig.StateResolved {
		return types.CandidateCluster{}, fmt.Errorf("%w: %d candidates, ballot %v",
			ErrDisambiguationInconsistent, len(fused), res.Ballot)
	}
	return fused[res.Winner], nil
}

// refineWithZoom re-grounds on a magnified crop around the region and
// maps the sharpest proposal back to screen coordinates. On any failure
// the original region stands.
func (l *Locator) refineWithZoom(ctx context.Context, description string, screen image.Image, region types.Region) types.Region {
	zoomed, window, err := processing.ZoomRegion(screen, region, l.cfg.ZoomPadRatio, l.cfg.ZoomFactor)
	if err != nil {
		l.log.Warn("zoom refinement skipped", "error", err)
		return region
	}

	clusters, err := l.deps.Grounder.ProposeRegions(ctx, description, zoomed)
	if err != nil || len(clusters) == 0 {
		return region
	}
	best := clusters[0]
	for _, c := range clusters[1:] {
		if c.Votes > best.Votes {
			best = c
		}
	}

	zb := zoomed.Bounds()
	sx := window.Width() / float64(zb.Dx())
	sy := window.Height() / float64(zb.Dy())
	mapped := types.Region{
		X1:    window.X1 + best.Region.X1*sx,
		Y1:    window.Y1 + best.Region.Y1*sy,
		X2:    window.X1 + best.Region.X2*sx,
		Y2:    window.Y1 + best.Region.Y2*sy,
		Space: types.SpacePixel,
	}
	if !mapped.Valid() {
		return region
	}
	return mapped
}

// fail builds the terminal NotFound outcome and, in unattended mode,
// drops a diagnostic screenshot of the last capture.
func (l *Locator) fail(reason string, screen image.Image) types.LocationOutcome {
	if !l.cfg.Attended && l.cfg.DiagnosticDir != "" && screen != nil {
		if err := utils.EnsureDir(l.cfg.DiagnosticDir); err != nil {
			l.log.Warn("diagnostic directory unavailable", "error", err)
		} else {
			name := fmt.Sprintf("locate-failure-%s.png", time.Now().Format("20060102-150405"))
			path := filepath.Join(l.cfg.DiagnosticDir, utils.SanitizeFilename(name))
			if err := processing.SaveImage(screen, path, "png", 0, true); err != nil {
				l.log.Warn("diagnostic screenshot failed", "error", err)
			} else {
				l.log.Info("diagnostic screenshot saved", "path", path)
			}
		}
	}
	return types.NotFound(reason)
}

// taxonomyReason strips wrapping detail down to the sentinel's message.
func taxonomyReason(err error) string {
	for _, sentinel := range []error{
		ErrNoCandidatesInStore,
		ErrCandidatesBelowFloor,
		ErrNoVisualMatch,
		ErrDisambiguationInconsistent,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
