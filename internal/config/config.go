// Package config loads the memory layer's configuration from an optional YAML
// file with environment-variable overrides. Precedence: environment > file >
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Policy holds the tunable constants of the consolidation and extraction
// pipeline. The defaults preserve behavioral parity with the reference
// deployment; none of them is load-bearing beyond tuning.
type Policy struct {
	// MeaningfulTurnTarget is the number of meaningful turns that triggers
	// consolidation.
	MeaningfulTurnTarget int `yaml:"meaningful_turn_target"`
	// LookbackCap bounds how many events a consolidation window may scan.
	// Hitting the cap forces consolidation even below the turn target.
	LookbackCap int `yaml:"lookback_cap"`
	// TopicShiftMinCosine is the similarity floor below which a candidate
	// summary starts a new episode instead of extending the current one.
	TopicShiftMinCosine float64 `yaml:"topic_shift_min_cosine"`
	// SummaryDebounce is the minimum wait between summary writes per thread.
	SummaryDebounce Duration `yaml:"summary_debounce"`
	// ExtractionWindow is how many recent events the extractor sees.
	ExtractionWindow int `yaml:"extraction_window"`
	// ExtractionConfidenceFloor drops low-confidence extracted claims.
	ExtractionConfidenceFloor float64 `yaml:"extraction_confidence_floor"`
	// EmbedConfidenceMin is the confidence at which extracted items get an
	// embedding of their own.
	EmbedConfidenceMin float64 `yaml:"embed_confidence_min"`
	// DedupeMinCosine is the similarity at which a new claim reinforces an
	// existing item instead of inserting a duplicate.
	DedupeMinCosine float64 `yaml:"dedupe_min_cosine"`
	// CueConfidence is the confidence assigned to fast-path cue claims.
	CueConfidence float64 `yaml:"cue_confidence"`
	// RecentEvents is the default recent-N window for retrieval.
	RecentEvents int `yaml:"recent_events"`
}

// Provider configures one OpenAI-compatible or Ollama endpoint.
type Provider struct {
	Kind        string        `yaml:"kind"` // "openai", "ollama", "none"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Dims        int           `yaml:"dims"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     Duration      `yaml:"timeout"`
}

// Config is the full application configuration.
type Config struct {
	DBPath     string   `yaml:"db_path"`
	Embedding  Provider `yaml:"embedding"`
	Generation Provider `yaml:"generation"`
	Policy     Policy   `yaml:"policy"`
	// RetryAttempts caps provider retries (including the first try).
	RetryAttempts int `yaml:"retry_attempts"`
}

// DefaultPolicy returns the reference knobs.
func DefaultPolicy() Policy {
	return Policy{
		MeaningfulTurnTarget:      12,
		LookbackCap:               120,
		TopicShiftMinCosine:       0.75,
		SummaryDebounce:           Duration(180 * time.Second),
		ExtractionWindow:          8,
		ExtractionConfidenceFloor: 0.80,
		EmbedConfidenceMin:        0.90,
		DedupeMinCosine:           0.85,
		CueConfidence:             0.60,
		RecentEvents:              30,
	}
}

// Default returns the configuration used when no file exists.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath: filepath.Join(home, ".ltm", "memory.db"),
		Embedding: Provider{
			Kind:    "openai",
			Model:   "text-embedding-3-small",
			Dims:    1536,
			Timeout: Duration(30 * time.Second),
		},
		Generation: Provider{
			Kind:        "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   400,
			Timeout:     Duration(30 * time.Second),
		},
		Policy:        DefaultPolicy(),
		RetryAttempts: 3,
	}
}

// Load reads the config file at path (when it exists), then applies
// environment overrides. An empty path checks $LTM_CONFIG and then
// ~/.ltm/config.yaml.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("LTM_CONFIG")
	}
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".ltm", "config.yaml")
	}

	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DBPath = envOr("LTM_DB", cfg.DBPath)

	cfg.Embedding.Kind = envOr("LTM_EMBED_PROVIDER", cfg.Embedding.Kind)
	cfg.Embedding.Model = envOr("LTM_EMBED_MODEL", cfg.Embedding.Model)
	cfg.Embedding.BaseURL = envOr("LTM_EMBED_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.Dims = envIntOr("LTM_EMBED_DIMS", cfg.Embedding.Dims)

	cfg.Generation.Model = envOr("LTM_GEN_MODEL", cfg.Generation.Model)
	cfg.Generation.BaseURL = envOr("LTM_GEN_URL", cfg.Generation.BaseURL)

	// The shared OpenAI variables win over file values but lose to the
	// provider-specific ones above.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
		if cfg.Generation.APIKey == "" {
			cfg.Generation.APIKey = key
		}
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		if cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = base
		}
		if cfg.Generation.BaseURL == "" {
			cfg.Generation.BaseURL = base
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" && cfg.Embedding.Kind == "ollama" {
		cfg.Embedding.BaseURL = host
	}
}

func (c Config) validate() error {
	p := c.Policy
	if p.MeaningfulTurnTarget < 1 {
		return fmt.Errorf("meaningful_turn_target must be >= 1")
	}
	if p.LookbackCap < p.MeaningfulTurnTarget {
		return fmt.Errorf("lookback_cap must be >= meaningful_turn_target")
	}
	if p.TopicShiftMinCosine < -1 || p.TopicShiftMinCosine > 1 {
		return fmt.Errorf("topic_shift_min_cosine must be in [-1,1]")
	}
	if p.ExtractionConfidenceFloor < 0 || p.ExtractionConfidenceFloor > 1 {
		return fmt.Errorf("extraction_confidence_floor must be in [0,1]")
	}
	if p.DedupeMinCosine < 0 || p.DedupeMinCosine > 1 {
		return fmt.Errorf("dedupe_min_cosine must be in [0,1]")
	}
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envIntOr(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
