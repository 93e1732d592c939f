package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models actionline.yml.
type Config struct {
	Reconcile struct {
		OverlapThreshold float64 `yaml:"overlap_threshold"`
		MatchThreshold   float64 `yaml:"match_threshold"`
		AutoApprove      bool    `yaml:"auto_approve"`
		DetailLevel      string  `yaml:"detail_level"`
	} `yaml:"reconcile"`
	Board struct {
		RankStep   float64 `yaml:"rank_step"`
		MinRankGap float64 `yaml:"min_rank_gap"`
	} `yaml:"board"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with al config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Reconcile.OverlapThreshold <= 0 || c.Reconcile.OverlapThreshold > 1 {
		return fmt.Errorf("config.reconcile.overlap_threshold must be in (0,1]")
	}
	if c.Reconcile.MatchThreshold <= 0 || c.Reconcile.MatchThreshold > 1 {
		return fmt.Errorf("config.reconcile.match_threshold must be in (0,1]")
	}
	switch c.Reconcile.DetailLevel {
	case "light", "medium", "detailed":
	default:
		return fmt.Errorf("config.reconcile.detail_level must be light, medium or detailed")
	}
	if c.Board.RankStep <= 0 {
		return fmt.Errorf("config.board.rank_step must be positive")
	}
	if c.Board.MinRankGap <= 0 || c.Board.MinRankGap >= c.Board.RankStep {
		return fmt.Errorf("config.board.min_rank_gap must be positive and smaller than rank_step")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event filter", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "actionline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `reconcile:
  # Near-duplicate cutoff for merging newly extracted tasks. Two tasks whose
  # token overlap (containment ratio) reaches this value are treated as the
  # same item phrased differently.
  overlap_threshold: 0.65

  # Completion suggestions at or above this confidence may be auto-approved
  # when auto_approve is on; below it they are always flagged for review.
  match_threshold: 0.6

  # When false every detected completion is flagged for human confirmation.
  auto_approve: false

  # Which analyzer extraction level feeds the merger: light, medium, detailed.
  detail_level: medium

board:
  # Distance between ranks when appending to a column.
  rank_step: 1000

  # Midpoint insertions closer than this fall back to before + min_rank_gap.
  min_rank_gap: 0.0001
`
