package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/diegofornalha/specedit/internal/logger"
)

const (
	envConfig    = "SPECEDIT_CONFIG"
	envConfigDir = "SPECEDIT_CONFIG_DIR"
)

// Config represents the specedit configuration file. Pointer fields
// distinguish "not set" from zero values.
type Config struct {
	// Sampling defaults
	Temperature   *float64 `yaml:"temperature" json:"temperature" toml:"temperature"`
	TopK          *int64   `yaml:"top_k" json:"top_k" toml:"top_k"`
	TopP          *float64 `yaml:"top_p" json:"top_p" toml:"top_p"`
	MinP          *float64 `yaml:"min_p" json:"min_p" toml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty" json:"repeat_penalty" toml:"repeat_penalty"`
	RepeatLastN   *int64   `yaml:"repeat_last_n" json:"repeat_last_n" toml:"repeat_last_n"`
	Seed          *int64   `yaml:"seed" json:"seed" toml:"seed"`

	// Decoding
	MaxTokens   *int64 `yaml:"max_tokens" json:"max_tokens" toml:"max_tokens"`
	DraftLength *int64 `yaml:"draft_length" json:"draft_length" toml:"draft_length"`
	Draft       string `yaml:"draft" json:"draft" toml:"draft"`
	DraftModel  string `yaml:"draft_model" json:"draft_model" toml:"draft_model"`
	Model       string `yaml:"model" json:"model" toml:"model"`
	Vocab       string `yaml:"vocab" json:"vocab" toml:"vocab"`

	// Output
	LogLevel    string `yaml:"log_level" json:"log_level" toml:"log_level"`
	LogFormat   string `yaml:"log_format" json:"log_format" toml:"log_format"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file" toml:"metrics_file"`
}

// configDir resolves the configuration directory.
// Resolution order: $SPECEDIT_CONFIG_DIR > $XDG_CONFIG_HOME/specedit > ~/.config/specedit
func configDir() string {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "specedit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "specedit")
}

// LoadConfig reads the config file at path, or the default config.yaml
// when path is empty. A missing default file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		dir := configDir()
		if dir == "" {
			return Config{}, nil
		}
		path = filepath.Join(dir, "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("unsupported config extension: %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLogConfig applies config file defaults to the logging flags.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyDecodeConfig applies config file defaults to the generation flags
// when the corresponding CLI flag was not explicitly set.
func applyDecodeConfig(c *cli.Command, cfg Config, o *decodeOptions) {
	if cfg.Temperature != nil && !c.IsSet("temp") {
		o.temp = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		o.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		o.topP = *cfg.TopP
	}
	if cfg.MinP != nil && !c.IsSet("min-p") {
		o.minP = *cfg.MinP
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		o.repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.RepeatLastN != nil && !c.IsSet("repeat-last-n") {
		o.repeatLastN = *cfg.RepeatLastN
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		o.seed = *cfg.Seed
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		o.maxTokens = *cfg.MaxTokens
	}
	if cfg.DraftLength != nil && !c.IsSet("draft-length") {
		o.draftLength = *cfg.DraftLength
	}
	if cfg.Draft != "" && !c.IsSet("draft") {
		o.draft = cfg.Draft
	}
	if cfg.DraftModel != "" && !c.IsSet("draft-model") {
		o.draftModel = cfg.DraftModel
	}
	if cfg.Model != "" && !c.IsSet("model") {
		o.model = cfg.Model
	}
	if cfg.Vocab != "" && !c.IsSet("vocab") {
		o.vocab = cfg.Vocab
	}
	if cfg.MetricsFile != "" && !c.IsSet("metrics-file") {
		o.metricsFile = cfg.MetricsFile
	}
}

// setup loads the config file, applies it and builds the logger.
func setup(c *cli.Command, o *decodeOptions) (logger.Logger, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	applyLogConfig(c, cfg)
	if o != nil {
		applyDecodeConfig(c, cfg, o)
	}
	return newLogger()
}
