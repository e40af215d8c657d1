package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models questdeck.yml.
type Config struct {
	Scoring struct {
		Primary     int `yaml:"primary"`
		Secondary   int `yaml:"secondary"`
		Frustration int `yaml:"frustration"`
		LoadPenalty int `yaml:"load_penalty"`
	} `yaml:"scoring"`
	Deck struct {
		MinSize         int `yaml:"min_size"`
		MaxSize         int `yaml:"max_size"`
		InProgressBonus int `yaml:"in_progress_bonus"`
		AgeBonusCap     int `yaml:"age_bonus_cap"`
		QuickWinMinutes int `yaml:"quick_win_minutes"`
	} `yaml:"deck"`
	Orchestration struct {
		// ReadinessPercent marks locked quests as ready-soon once this share
		// of their conditions is met. Annotation only; exact product
		// semantics are still unconfirmed, hence configurable.
		ReadinessPercent int `yaml:"readiness_percent"`
	} `yaml:"orchestration"`
	Classifier struct {
		Keywords map[string][]string `yaml:"keywords"`
	} `yaml:"classifier"`
	Facts struct {
		Sinks []SinkConfig `yaml:"sinks"`
	} `yaml:"facts"`
}

// SinkConfig is one HTTP target for exported audit facts.
type SinkConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scoring.Primary < 0 || c.Scoring.Secondary < 0 || c.Scoring.Frustration < 0 || c.Scoring.LoadPenalty < 0 {
		return fmt.Errorf("config.scoring weights must be non-negative")
	}
	if c.Scoring.Secondary > c.Scoring.Primary {
		return fmt.Errorf("config.scoring.secondary must not exceed primary")
	}
	if c.Deck.MinSize < 1 {
		return fmt.Errorf("config.deck.min_size must be at least 1")
	}
	if c.Deck.MaxSize < c.Deck.MinSize {
		return fmt.Errorf("config.deck.max_size must be >= min_size")
	}
	if c.Orchestration.ReadinessPercent < 0 || c.Orchestration.ReadinessPercent > 100 {
		return fmt.Errorf("config.orchestration.readiness_percent must be 0-100")
	}
	for i, sink := range c.Facts.Sinks {
		if sink.URL == "" {
			return fmt.Errorf("config.facts.sinks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "questdeck.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `scoring:
  primary: 30
  secondary: 15
  frustration: 25
  load_penalty: 20

deck:
  min_size: 3
  max_size: 7
  in_progress_bonus: 25
  age_bonus_cap: 10
  quick_win_minutes: 30

orchestration:
  readiness_percent: 50

classifier:
  keywords: {}

facts:
  sinks: []
`
