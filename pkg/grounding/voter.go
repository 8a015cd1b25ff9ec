// Package grounding implements the visual grounding voter: repeated
// vision-model calls proposing candidate regions for a described element,
// reconciled by IoU clustering into a spatial consensus.
package grounding

import (
	"context"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/element-locator/pkg/client"
	"github.com/menta2k/element-locator/pkg/fusion"
	"github.com/menta2k/element-locator/pkg/processing"
	"github.com/menta2k/element-locator/pkg/types"
)

// Config holds configuration for the grounding voter.
type Config struct {
	Model                string
	Votes                int     // independent model calls per attempt
	MinIntersectionRatio float64 // IoU floor for clustering proposals
	SendFormat           string  // image format sent to the model: jpg|png
	SendMaxSide          int     // max long side in px, 0 = original
	SendQuality          int     // JPEG quality for the sent image
}

// DefaultConfig returns the voter defaults.
func DefaultConfig() Config {
	return Config{
		Votes:                5,
		MinIntersectionRatio: fusion.DefaultMinIntersectionRatio,
		SendFormat:           "jpg",
		SendMaxSide:          1536,
		SendQuality:          85,
	}
}

// Voter asks a vision model for candidate regions multiple times and
// clusters the repeated proposals. A single call is noisy; the cluster
// vote counts approximate a spatial mode.
type Voter struct {
	client client.VisionClient
	cfg    Config
}

// NewVoter creates a voter with default configuration for the given model.
func NewVoter(c client.VisionClient, model string) *Voter {
	cfg := DefaultConfig()
	cfg.Model = model
	return &Voter{client: c, cfg: cfg}
}

// NewVoterWithConfig creates a voter with custom configuration.
func NewVoterWithConfig(c client.VisionClient, cfg Config) *Voter {
	if cfg.Votes <= 0 {
		cfg.Votes = DefaultConfig().Votes
	}
	if cfg.MinIntersectionRatio <= 0 {
		cfg.MinIntersectionRatio = fusion.DefaultMinIntersectionRatio
	}
	if cfg.SendFormat == "" {
		cfg.SendFormat = "jpg"
	}
	if cfg.SendQuality <= 0 {
		cfg.SendQuality = 85
	}
	return &Voter{client: c, cfg: cfg}
}

// ProposeRegions runs the configured number of independent grounding
// calls concurrently, parses their region proposals, and clusters them.
// The returned clusters are tagged MODEL_VOTE and converted to the pixel
// space of the given screen image. A transport failure on any call
// propagates as a transient error.
func (v *Voter) ProposeRegions(ctx context.Context, description string, screen image.Image) ([]types.CandidateCluster, error) {
	imgB64, err := processing.EncodeForModel(screen, v.cfg.SendFormat, v.cfg.SendMaxSide, v.cfg.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("prepare screen for model: %w", err)
	}

	prompt := fmt.Sprintf(ProposalPrompt, description)

	var mu sync.Mutex
	var proposals []types.Region

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < v.cfg.Votes; i++ {
		g.Go(func() error {
			raw, err := v.client.SimpleQuery(gctx, v.cfg.Model, prompt, imgB64)
			if err != nil {
				return fmt.Errorf("grounding call failed: %w", err)
			}
			regions := ParseProposals(raw)
			mu.Lock()
			proposals = append(proposals, regions...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	clusters := fusion.ClusterRegions(proposals, v.cfg.MinIntersectionRatio, types.SourceModelVote)

	bounds := screen.Bounds()
	for i := range clusters {
		clusters[i].Region = clusters[i].Region.ToPixel(bounds.Dx(), bounds.Dy())
	}
	return clusters, nil
}
