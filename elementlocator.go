// Package elementlocator wires the element store, grounding voter,
// algorithmic matcher, disambiguator and orchestrator into one engine
// behind a single configuration surface.
package elementlocator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/menta2k/element-locator/internal/config"
	"github.com/menta2k/element-locator/internal/utils"
	"github.com/menta2k/element-locator/pkg/client"
	"github.com/menta2k/element-locator/pkg/disambig"
	"github.com/menta2k/element-locator/pkg/fusion"
	"github.com/menta2k/element-locator/pkg/grounding"
	"github.com/menta2k/element-locator/pkg/llamacpp"
	"github.com/menta2k/element-locator/pkg/locator"
	"github.com/menta2k/element-locator/pkg/match"
	"github.com/menta2k/element-locator/pkg/ollama"
	"github.com/menta2k/element-locator/pkg/store"
	"github.com/menta2k/element-locator/pkg/types"
)

// backendClient is what both model backends provide.
type backendClient interface {
	client.VisionClient
	client.EmbeddingClient
}

// Options carries the host-provided collaborators.
type Options struct {
	// Screens captures the current screen; required.
	Screens locator.ScreenSource

	// Interaction is the attended-mode human fallback; required only
	// when the configuration enables attended mode.
	Interaction locator.Interaction

	Logger *slog.Logger
}

// Engine is the assembled location pipeline.
type Engine struct {
	cfg      *config.Config
	elements *store.ElementStore
	loc      *locator.Locator
	logger   *slog.Logger
}

// New creates an engine with the default configuration.
func New(screens locator.ScreenSource) (*Engine, error) {
	return NewWithConfig(config.Default(), Options{Screens: screens})
}

// NewWithConfig creates an engine from an explicit configuration.
func NewWithConfig(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := newBackendClient(cfg.Backend)
	if err != nil {
		return nil, err
	}

	elements := store.New(store.ModelEmbedder{Client: backend, Model: cfg.Backend.EmbedModel})

	voter := grounding.NewVoterWithConfig(backend, grounding.Config{
		Model:                cfg.Backend.VisionModel,
		Votes:                cfg.Grounding.Votes,
		MinIntersectionRatio: cfg.Grounding.MinIntersectionRatio,
		SendFormat:           cfg.Grounding.SendFormat,
		SendMaxSide:          cfg.Grounding.SendMaxSide,
		SendQuality:          cfg.Grounding.SendQuality,
	})

	matcher := match.NewMatcherWithConfig(match.Config{
		SimilarityThreshold:   cfg.Matching.SimilarityThreshold,
		MaxMatches:            cfg.Matching.MaxMatches,
		MaxDimensionDeviation: cfg.Matching.MaxDimensionDeviation,
		MinIntersectionRatio:  cfg.Grounding.MinIntersectionRatio,
	})

	validator := disambig.NewWithConfig(backend, disambig.Config{
		Model:       cfg.Backend.VisionModel,
		Votes:       cfg.Matching.ValidationVotes,
		SendFormat:  cfg.Grounding.SendFormat,
		SendMaxSide: cfg.Grounding.SendMaxSide,
		SendQuality: cfg.Grounding.SendQuality,
	})

	locCfg := locator.DefaultConfig()
	locCfg.TopN = cfg.Store.TopN
	locCfg.TargetScoreFloor = cfg.Locator.TargetScoreFloor
	locCfg.GeneralScoreFloor = cfg.Locator.GeneralScoreFloor
	locCfg.PageRelevanceFloor = cfg.Locator.PageRelevanceFloor
	locCfg.Fusion = fusion.Options{
		MinIntersectionRatio: cfg.Grounding.MinIntersectionRatio,
		TrustFloor:           cfg.Locator.TrustFloor,
	}
	locCfg.Deadline = cfg.Locator.Deadline()
	locCfg.RetryInterval = cfg.Locator.RetryInterval()
	locCfg.Attended = cfg.Locator.Attended
	locCfg.DiagnosticDir = cfg.Locator.DiagnosticDir

	loc, err := locator.NewWithConfig(locator.Deps{
		Store:       elements,
		Screens:     opts.Screens,
		Grounder:    voter,
		Matcher:     matcher,
		Validator:   validator,
		Interaction: opts.Interaction,
		Logger:      logger,
	}, locCfg)
	if err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg, elements: elements, loc: loc, logger: logger}, nil
}

func newBackendClient(cfg config.BackendConfig) (backendClient, error) {
	burst := int(cfg.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	switch cfg.Kind {
	case "ollama":
		return ollama.NewClient(cfg.URL, ollama.WithRateLimit(cfg.RequestsPerSec, burst))
	case "llamacpp":
		return llamacpp.NewClient(cfg.URL, llamacpp.WithRateLimit(cfg.RequestsPerSec, burst))
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

// Locate finds the described element on the current screen.
func (e *Engine) Locate(ctx context.Context, req locator.Request) (types.LocationOutcome, error) {
	return e.loc.Locate(ctx, req)
}

// AddElement stores a new element record.
func (e *Engine) AddElement(ctx context.Context, elem types.StoredElement) error {
	return e.elements.Store(ctx, elem)
}

// UpdateElement replaces an existing element record.
func (e *Engine) UpdateElement(ctx context.Context, elem types.StoredElement) error {
	return e.elements.Update(ctx, elem)
}

// RemoveElement deletes an element record.
func (e *Engine) RemoveElement(ctx context.Context, id string) error {
	return e.elements.Remove(ctx, id)
}

// LoadElements restores the element store from the configured snapshot.
// Missing snapshots are not an error; the store starts empty.
func (e *Engine) LoadElements(ctx context.Context) error {
	path := e.cfg.Store.SnapshotPath
	if path == "" || !utils.FileExists(path) {
		return nil
	}
	if err := e.elements.Load(ctx, path); err != nil {
		return err
	}
	e.logger.Info("element store loaded", "path", path, "elements", e.elements.Len())
	return nil
}

// SaveElements persists the element store to the configured snapshot.
func (e *Engine) SaveElements() error {
	if e.cfg.Store.SnapshotPath == "" {
		return nil
	}
	return e.elements.Save(e.cfg.Store.SnapshotPath)
}
