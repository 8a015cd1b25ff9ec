package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the application configuration
type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Store     StoreConfig     `json:"store"`
	Grounding GroundingConfig `json:"grounding"`
	Matching  MatchingConfig  `json:"matching"`
	Locator   LocatorConfig   `json:"locator"`
}

// BackendConfig selects and addresses the model backend
type BackendConfig struct {
	// Kind is "ollama" or "llamacpp"
	Kind          string  `json:"kind"`
	URL           string  `json:"url"`
	VisionModel   string  `json:"vision_model"`
	EmbedModel    string  `json:"embed_model"`
	RequestsPerSec float64 `json:"requests_per_sec"`
}

// StoreConfig holds configuration for the element similarity store
type StoreConfig struct {
	SnapshotPath string `json:"snapshot_path"`
	TopN         int    `json:"top_n"`
}

// GroundingConfig holds configuration for visual grounding votes
type GroundingConfig struct {
	Votes                int     `json:"votes"`
	MinIntersectionRatio float64 `json:"min_intersection_ratio"`
	SendFormat           string  `json:"send_format"`
	SendMaxSide          int     `json:"send_max_side"`
	SendQuality          int     `json:"send_quality"`
}

// MatchingConfig holds configuration for algorithmic matching and
// disambiguation
type MatchingConfig struct {
	SimilarityThreshold   float64 `json:"similarity_threshold"`
	MaxMatches            int     `json:"max_matches"`
	MaxDimensionDeviation float64 `json:"max_dimension_deviation"`
	ValidationVotes       int     `json:"validation_votes"`
}

// LocatorConfig holds configuration for the location orchestrator
type LocatorConfig struct {
	TargetScoreFloor   float64 `json:"target_score_floor"`
	GeneralScoreFloor  float64 `json:"general_score_floor"`
	PageRelevanceFloor float64 `json:"page_relevance_floor"`
	TrustFloor         int     `json:"trust_floor"`
	DeadlineSeconds    int     `json:"deadline_seconds"`
	RetryIntervalSecs  int     `json:"retry_interval_seconds"`
	Attended           bool    `json:"attended"`
	DiagnosticDir      string  `json:"diagnostic_dir"`
}

// Deadline returns the retry deadline as a duration
func (l LocatorConfig) Deadline() time.Duration {
	return time.Duration(l.DeadlineSeconds) * time.Second
}

// RetryInterval returns the wait between attempts as a duration
func (l LocatorConfig) RetryInterval() time.Duration {
	return time.Duration(l.RetryIntervalSecs) * time.Second
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:           "ollama",
			URL:            "http://localhost:11434",
			VisionModel:    "qwen2.5vl:7b",
			EmbedModel:     "nomic-embed-text",
			RequestsPerSec: 4,
		},
		Store: StoreConfig{
			SnapshotPath: "./elements.json",
			TopN:         5,
		},
		Grounding: GroundingConfig{
			Votes:                5,
			MinIntersectionRatio: 0.7,
			SendFormat:           "jpg",
			SendMaxSide:          1536,
			SendQuality:          85,
		},
		Matching: MatchingConfig{
			SimilarityThreshold:   0.8,
			MaxMatches:            6,
			MaxDimensionDeviation: 0.3,
			ValidationVotes:       3,
		},
		Locator: LocatorConfig{
			TargetScoreFloor:   0.8,
			GeneralScoreFloor:  0.5,
			PageRelevanceFloor: 0.5,
			TrustFloor:         2,
			DeadlineSeconds:    120,
			RetryIntervalSecs:  5,
			Attended:           false,
			DiagnosticDir:      "./diagnostics",
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("backend.kind must be \"ollama\" or \"llamacpp\"")
	}

	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url cannot be empty")
	}

	if c.Backend.VisionModel == "" {
		return fmt.Errorf("backend.vision_model cannot be empty")
	}

	if c.Grounding.Votes < 1 {
		return fmt.Errorf("grounding.votes must be positive")
	}

	if c.Grounding.MinIntersectionRatio <= 0 || c.Grounding.MinIntersectionRatio > 1 {
		return fmt.Errorf("grounding.min_intersection_ratio must be in (0, 1]")
	}

	if c.Matching.SimilarityThreshold < 0 || c.Matching.SimilarityThreshold > 1 {
		return fmt.Errorf("matching.similarity_threshold must be between 0 and 1")
	}

	if c.Matching.MaxDimensionDeviation < 0 || c.Matching.MaxDimensionDeviation > 1 {
		return fmt.Errorf("matching.max_dimension_deviation must be between 0 and 1")
	}

	if c.Matching.ValidationVotes < 1 {
		return fmt.Errorf("matching.validation_votes must be positive")
	}

	if c.Locator.GeneralScoreFloor > c.Locator.TargetScoreFloor {
		return fmt.Errorf("locator.general_score_floor cannot exceed locator.target_score_floor")
	}

	if c.Locator.DeadlineSeconds < 1 {
		return fmt.Errorf("locator.deadline_seconds must be positive")
	}

	if c.Locator.RetryIntervalSecs < 1 {
		return fmt.Errorf("locator.retry_interval_seconds must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "element-locator", "config.json")
}
