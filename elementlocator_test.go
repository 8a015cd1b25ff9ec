package elementlocator

import (
	"context"
	"image"
	"testing"

	"github.com/menta2k/element-locator/internal/config"
)

type stubScreens struct{}

func (stubScreens) Capture(context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 10, 10)), nil
}

func TestNewWithConfigWiresPipeline(t *testing.T) {
	engine, err := NewWithConfig(config.Default(), Options{Screens: stubScreens{}})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	if engine == nil {
		t.Fatal("engine is nil")
	}
}

func TestNewWithConfigRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Kind = "gpt4all"
	if _, err := NewWithConfig(cfg, Options{Screens: stubScreens{}}); err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}

func TestNewWithConfigRejectsAttendedWithoutInteraction(t *testing.T) {
	cfg := config.Default()
	cfg.Locator.Attended = true
	if _, err := NewWithConfig(cfg, Options{Screens: stubScreens{}}); err == nil {
		t.Fatal("expected error for attended mode without an interaction service")
	}
}

func TestLoadElementsMissingSnapshot(t *testing.T) {
	cfg := config.Default()
	cfg.Store.SnapshotPath = t.TempDir() + "/does-not-exist.json"
	engine, err := NewWithConfig(cfg, Options{Screens: stubScreens{}})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	if err := engine.LoadElements(context.Background()); err != nil {
		t.Fatalf("LoadElements on missing snapshot: %v", err)
	}
}
