// Package config loads mirror's settings.
//
// Sources, lowest precedence first: built-in defaults, a TOML file
// (mirror.toml in ~/.mirror or the working directory, or an explicit
// path), then MIRROR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/HendryAvila/mirror/internal/assembler"
	"github.com/HendryAvila/mirror/internal/discovery"
	"github.com/HendryAvila/mirror/internal/extraction"
	"github.com/HendryAvila/mirror/internal/logging"
)

const (
	configName = "mirror"
	configType = "toml"
	envPrefix  = "MIRROR"
	dirName    = ".mirror"
	fileMode   = 0o600
	dirMode    = 0o700
)

// Classifier backends.
const (
	ClassifierKeyword = "keyword"
	ClassifierGemini  = "gemini"
)

// HTTPConfig configures the HTTP front door.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// ExtractionConfig configures the worker pool and the classifier.
type ExtractionConfig struct {
	Workers           int    `mapstructure:"workers" toml:"workers"`
	QueueSize         int    `mapstructure:"queue_size" toml:"queue_size"`
	JobTimeoutSeconds int    `mapstructure:"job_timeout_seconds" toml:"job_timeout_seconds"`
	FailedPolicy      string `mapstructure:"failed_policy" toml:"failed_policy"`
	Classifier        string `mapstructure:"classifier" toml:"classifier"`
	Model             string `mapstructure:"model" toml:"model"`
	APIKey            string `mapstructure:"api_key" toml:"api_key"`
}

// JobTimeout returns the per-job classification timeout.
func (e ExtractionConfig) JobTimeout() time.Duration {
	return time.Duration(e.JobTimeoutSeconds) * time.Second
}

// Scheduler converts the pool settings for extraction.NewScheduler.
func (e ExtractionConfig) Scheduler() extraction.SchedulerConfig {
	return extraction.SchedulerConfig{
		Workers:    e.Workers,
		QueueSize:  e.QueueSize,
		JobTimeout: e.JobTimeout(),
	}
}

// Config is the full configuration.
type Config struct {
	DataDir    string                  `mapstructure:"data_dir" toml:"data_dir"`
	Log        logging.Config          `mapstructure:"log" toml:"log"`
	HTTP       HTTPConfig              `mapstructure:"http" toml:"http"`
	Extraction ExtractionConfig        `mapstructure:"extraction" toml:"extraction"`
	Thresholds discovery.Thresholds    `mapstructure:"thresholds" toml:"thresholds"`
	Density    discovery.DensityConfig `mapstructure:"density" toml:"density"`
	Context    assembler.Config        `mapstructure:"context" toml:"context"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, dirName),
		Log:     logging.DefaultConfig(),
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8765"},
		Extraction: ExtractionConfig{
			Workers:           4,
			QueueSize:         256,
			JobTimeoutSeconds: 60,
			FailedPolicy:      string(extraction.FailedResolved),
			Classifier:        ClassifierKeyword,
			Model:             "gemini-2.5-flash",
		},
		Thresholds: discovery.DefaultThresholds(),
		Density:    discovery.DefaultDensityConfig(),
		Context:    assembler.DefaultConfig(),
	}
}

// DefaultPath is where `mirror config init` writes.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dirName, configName+"."+configType)
}

// Load reads the configuration. An explicit path must exist; otherwise a
// missing file just means defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, dirName))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("extraction.api_key", envPrefix+"_EXTRACTION_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every leaf of def as a viper default, which also
// makes each key visible to AutomaticEnv.
func setDefaults(v *viper.Viper, def Config) error {
	raw, err := toml.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := toml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	for key, val := range flatten("", tree) {
		v.SetDefault(key, val)
	}
	return nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// Validate checks ranges and enum values.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.DataDir != "", "data_dir is required")
	check(c.Extraction.Workers >= 1, "extraction.workers must be >= 1")
	check(c.Extraction.QueueSize >= 1, "extraction.queue_size must be >= 1")
	check(c.Extraction.JobTimeoutSeconds >= 0, "extraction.job_timeout_seconds must be >= 0")
	if err := extraction.ValidateFailedPolicy(extraction.FailedPolicy(c.Extraction.FailedPolicy)); err != nil {
		problems = append(problems, "extraction.failed_policy: "+err.Error())
	}
	switch c.Extraction.Classifier {
	case ClassifierKeyword:
	case ClassifierGemini:
		check(c.Extraction.APIKey != "", "extraction.api_key (or GEMINI_API_KEY) is required for the gemini classifier")
		check(c.Extraction.Model != "", "extraction.model is required for the gemini classifier")
	default:
		problems = append(problems, fmt.Sprintf("extraction.classifier %q: must be one of: keyword, gemini", c.Extraction.Classifier))
	}

	th := c.Thresholds
	check(th.MinScenarios >= 0, "thresholds.min_scenarios must be >= 0")
	check(th.MinHighConfidence >= 0, "thresholds.min_high_confidence must be >= 0")
	check(th.MinSignalsForContract >= 0, "thresholds.min_signals_for_contract must be >= 0")
	check(th.ForceSynthesisAbove > 0, "thresholds.force_synthesis_above must be > 0")

	d := c.Density
	check(d.Window >= 1, "density.window must be >= 1")
	check(d.MinSignalsPerWindow >= 0, "density.min_signals_per_window must be >= 0")
	check(d.CriticalAfterTurns >= 0, "density.critical_after_turns must be >= 0")
	check(d.CriticalRate >= 0 && d.CriticalRate <= 1, "density.critical_rate must be within [0, 1]")
	check(d.MinSignalsForSynthesis >= 0, "density.min_signals_for_synthesis must be >= 0")
	check(d.HighConfidenceDivisor >= 1, "density.high_confidence_divisor must be >= 1")

	check(c.Context.WindowSize >= 2, "context.window_size must be >= 2")
	check(c.Context.TokenBudget >= 1, "context.token_budget must be >= 1")

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Encode renders the configuration as TOML with the API key redacted.
func (c Config) Encode() (string, error) {
	if c.Extraction.APIKey != "" {
		c.Extraction.APIKey = "********"
	}
	raw, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(raw), nil
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	raw, err := toml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, raw, fileMode); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
