package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend.Kind = "bedrock" }},
		{"empty url", func(c *Config) { c.Backend.URL = "" }},
		{"empty vision model", func(c *Config) { c.Backend.VisionModel = "" }},
		{"zero votes", func(c *Config) { c.Grounding.Votes = 0 }},
		{"ratio above one", func(c *Config) { c.Grounding.MinIntersectionRatio = 1.5 }},
		{"negative threshold", func(c *Config) { c.Matching.SimilarityThreshold = -0.1 }},
		{"zero validation votes", func(c *Config) { c.Matching.ValidationVotes = 0 }},
		{"floors inverted", func(c *Config) { c.Locator.GeneralScoreFloor = 0.9 }},
		{"zero deadline", func(c *Config) { c.Locator.DeadlineSeconds = 0 }},
		{"zero interval", func(c *Config) { c.Locator.RetryIntervalSecs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backend.Kind = "llamacpp"
	cfg.Backend.URL = "http://localhost:8080"
	cfg.Grounding.Votes = 7
	cfg.Locator.Attended = true

	path := filepath.Join(t.TempDir(), "config.json")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Backend.Kind != "llamacpp" || loaded.Grounding.Votes != 7 || !loaded.Locator.Attended {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}
