package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	elementlocator "github.com/menta2k/element-locator"
	"github.com/menta2k/element-locator/internal/config"
	"github.com/menta2k/element-locator/internal/utils"
	"github.com/menta2k/element-locator/pkg/locator"
	"github.com/menta2k/element-locator/pkg/processing"
	"github.com/menta2k/element-locator/pkg/types"
)

// fileScreenSource serves a screenshot from disk or URL; every capture
// re-reads so retries see updated files.
type fileScreenSource struct {
	path string
}

func (f fileScreenSource) Capture(context.Context) (image.Image, error) {
	return processing.LoadImageSmart(f.path)
}

// terminalInteraction implements the attended-mode fallback on stdin.
type terminalInteraction struct {
	in *bufio.Reader
}

func (t *terminalInteraction) ConfirmLocation(_ context.Context, description string, region types.Region, _ image.Image) (locator.Confirmation, error) {
	fmt.Printf("Located %q at (%.0f,%.0f)-(%.0f,%.0f). Correct? [y/n/q]: ",
		description, region.X1, region.Y1, region.X2, region.Y2)
	line, err := t.in.ReadString('\n')
	if err != nil {
		return locator.ConfirmInterrupted, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return locator.ConfirmCorrect, nil
	case "n", "no":
		return locator.ConfirmIncorrect, nil
	default:
		return locator.ConfirmInterrupted, nil
	}
}

func (t *terminalInteraction) PromptNextAction(_ context.Context, reason string) (locator.Decision, error) {
	fmt.Printf("Attempt failed: %s. [r]etry, [c]reate element, [t]erminate: ", reason)
	line, err := t.in.ReadString('\n')
	if err != nil {
		return locator.DecisionTerminate, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "r", "retry":
		return locator.DecisionRetry, nil
	case "c", "create":
		return locator.DecisionCreateNew, nil
	default:
		return locator.DecisionTerminate, nil
	}
}

func main() {
	_ = godotenv.Load()

	var (
		cfgPath     string
		screenPath  string
		describe    string
		pageContext string
		attended    bool
		backend     string
		url         string
		model       string

		addID     string
		addName   string
		addDesc   string
		addAnchor string
		addCtx    string
		addRef    string
		addZoom   bool
	)

	flag.StringVar(&cfgPath, "config", "", "configuration file (defaults to "+config.GetConfigPath()+")")
	flag.StringVar(&screenPath, "screen", "", "screenshot path or URL (jpg/png/webp)")
	flag.StringVar(&describe, "describe", "", "natural-language description of the element to locate")
	flag.StringVar(&pageContext, "context", "", "optional description of the current page")
	flag.BoolVar(&attended, "attended", false, "enable interactive confirmation and recovery prompts")
	flag.StringVar(&backend, "backend", "", "override backend kind: ollama or llamacpp")
	flag.StringVar(&url, "url", "", "override backend server URL")
	flag.StringVar(&model, "model", "", "override vision model name")

	flag.StringVar(&addID, "add", "", "store a new element under this ID instead of locating")
	flag.StringVar(&addName, "name", "", "element name (with -add)")
	flag.StringVar(&addDesc, "desc", "", "element description (with -add)")
	flag.StringVar(&addAnchor, "anchor", "", "anchor/location description (with -add)")
	flag.StringVar(&addCtx, "page", "", "parent page summary (with -add)")
	flag.StringVar(&addRef, "ref", "", "reference image path (with -add)")
	flag.BoolVar(&addZoom, "zoom", false, "element requires zoom refinement (with -add)")

	flag.Parse()

	cfg := config.Default()
	if cfgPath == "" && utils.FileExists(config.GetConfigPath()) {
		cfgPath = config.GetConfigPath()
	}
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if backend != "" {
		cfg.Backend.Kind = backend
	}
	if url != "" {
		cfg.Backend.URL = url
	}
	if model != "" {
		cfg.Backend.VisionModel = model
	}
	if attended {
		cfg.Locator.Attended = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts := elementlocator.Options{Logger: logger}
	if screenPath != "" {
		opts.Screens = fileScreenSource{path: screenPath}
	}
	if cfg.Locator.Attended {
		opts.Interaction = &terminalInteraction{in: bufio.NewReader(os.Stdin)}
	}

	if addID == "" && (describe == "" || screenPath == "") {
		log.Fatalf("usage: %s -screen screenshot.png -describe \"the blue submit button\" [-context \"checkout page\"] [-attended]\n"+
			"       %s -add login-submit -name \"Submit button\" -ref button.png [-desc ...] [-anchor ...] [-page ...]",
			filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
	}
	if opts.Screens == nil {
		// Element authoring needs no screen capture.
		opts.Screens = fileScreenSource{path: addRef}
	}

	engine, err := elementlocator.NewWithConfig(cfg, opts)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := engine.LoadElements(ctx); err != nil {
		log.Fatal(err)
	}

	if addID != "" {
		if addName == "" || addRef == "" {
			log.Fatal("-add requires -name and -ref")
		}
		if !utils.IsImageFile(addRef) {
			log.Fatalf("unsupported reference image: %s", addRef)
		}
		ref, err := os.ReadFile(addRef)
		if err != nil {
			log.Fatal(err)
		}
		elem := types.StoredElement{
			ID:                addID,
			Name:              addName,
			Description:       addDesc,
			AnchorDescription: addAnchor,
			ContextSummary:    addCtx,
			ReferenceImage:    ref,
			RequiresZoom:      addZoom,
		}
		if err := engine.AddElement(ctx, elem); err != nil {
			log.Fatal(err)
		}
		if err := engine.SaveElements(); err != nil {
			log.Fatal(err)
		}
		log.Printf("stored element %q", addID)
		return
	}

	outcome, err := engine.Locate(ctx, locator.Request{
		Description: describe,
		PageContext: pageContext,
	})
	if err != nil {
		log.Fatal(err)
	}

	switch outcome.Kind {
	case types.OutcomeFound:
		r := outcome.Region
		fmt.Printf("found: (%.0f,%.0f)-(%.0f,%.0f) center=(%.0f,%.0f)\n",
			r.X1, r.Y1, r.X2, r.Y2, (r.X1+r.X2)/2, (r.Y1+r.Y2)/2)
	case types.OutcomeNotFound:
		log.Fatalf("not found: %s", outcome.Reason)
	case types.OutcomeInterrupted:
		log.Printf("interrupted: %s", outcome.Reason)
	}
}
