// Package config builds the run configuration from a file, the environment
// and built-in defaults.
package config

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/naka-gawa/contrib-counter/internal/apperr"
	"github.com/naka-gawa/contrib-counter/internal/domain"
	"github.com/naka-gawa/contrib-counter/internal/marker"
)

const (
	APIRest    = "rest"
	APIGraphQL = "graphql"
)

type Config struct {
	Username    string        `yaml:"username" toml:"username" env:"COUNTER_USERNAME"`
	Document    string        `yaml:"document" toml:"document" env:"COUNTER_DOCUMENT" env-default:"README.md"`
	MarkerStyle string        `yaml:"marker_style" toml:"marker_style" env:"COUNTER_MARKER_STYLE" env-default:"bracketed"`
	API         string        `yaml:"api" toml:"api" env:"COUNTER_API" env-default:"rest"`
	BaseURL     string        `yaml:"base_url" toml:"base_url,omitempty" env:"GITHUB_API_URL"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout" env:"COUNTER_TIMEOUT" env-default:"30s"`
	Retry       Retry         `yaml:"retry" toml:"retry"`
	Targets     []Target      `yaml:"targets" toml:"targets"`

	// Token is only read from the environment, see tokenFromEnv.
	Token string `yaml:"-" toml:"-"`
}

type Retry struct {
	Attempts    int           `yaml:"attempts" toml:"attempts" env:"COUNTER_RETRY_ATTEMPTS" env-default:"3"`
	Backoff     time.Duration `yaml:"backoff" toml:"backoff" env:"COUNTER_RETRY_BACKOFF" env-default:"2s"`
	ResetMargin time.Duration `yaml:"reset_margin" toml:"reset_margin" env:"COUNTER_RETRY_RESET_MARGIN" env-default:"1s"`
	MaxWait     time.Duration `yaml:"max_wait" toml:"max_wait" env:"COUNTER_RETRY_MAX_WAIT" env-default:"1h"`
}

// Target maps one marker key to a repository and a count mode.
type Target struct {
	Key           string `yaml:"key" toml:"key"`
	Owner         string `yaml:"owner" toml:"owner"`
	Repo          string `yaml:"repo" toml:"repo"`
	Mode          string `yaml:"mode" toml:"mode"`
	ExcludeDrafts bool   `yaml:"exclude_drafts" toml:"exclude_drafts"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Username:    "hyongtao-code",
		Document:    "README.md",
		MarkerStyle: string(marker.StyleBracketed),
		API:         APIRest,
		Timeout:     30 * time.Second,
		Retry: Retry{
			Attempts:    3,
			Backoff:     2 * time.Second,
			ResetMargin: time.Second,
			MaxWait:     time.Hour,
		},
		Targets: []Target{
			{Key: "VLLM_COMMITS", Owner: "vllm-project", Repo: "vllm", Mode: string(domain.ModeCommits)},
			{Key: "DIFY_COMMITS", Owner: "langgenius", Repo: "dify", Mode: string(domain.ModeCommits)},
			{Key: "CPYTHON_COMMITS", Owner: "python", Repo: "cpython", Mode: string(domain.ModeCommits)},
			{Key: "CLOUDBERRY_COMMITS", Owner: "apache", Repo: "cloudberry", Mode: string(domain.ModeCommits)},
		},
	}
}

// Load reads the configuration file at path (YAML or TOML, chosen by
// extension) and overlays the environment. An empty path starts from Default.
// Durations are written as strings such as "30s".
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidConfig, err, "failed to read environment")
		}
		cfg.Token = tokenFromEnv()
		return cfg, nil
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".toml":
	default:
		return nil, apperr.New(apperr.CodeInvalidConfig, "unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidConfig, err, "config file %s does not exist", path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidConfig, err, "failed to read config %s", path)
	}
	cfg.Token = tokenFromEnv()
	return &cfg, nil
}

// tokenFromEnv returns GITHUB_TOKEN, or GH_TOKEN when the former is unset or empty.
func tokenFromEnv() string {
	return cmp.Or(os.Getenv("GITHUB_TOKEN"), os.Getenv("GH_TOKEN"))
}

// Validate checks the configuration and returns the typed targets.
func (c *Config) Validate() ([]domain.Target, error) {
	if c.Username == "" {
		return nil, apperr.New(apperr.CodeInvalidConfig, "username is required")
	}
	if c.Document == "" {
		return nil, apperr.New(apperr.CodeInvalidConfig, "document path is required")
	}
	if _, err := marker.ParseStyle(c.MarkerStyle); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidConfig, err, "invalid marker_style")
	}
	if c.API != APIRest && c.API != APIGraphQL {
		return nil, apperr.New(apperr.CodeInvalidConfig, "unknown api %q (want %s or %s)", c.API, APIRest, APIGraphQL)
	}
	if c.Retry.Attempts < 1 {
		return nil, apperr.New(apperr.CodeInvalidConfig, "retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if len(c.Targets) == 0 {
		return nil, apperr.New(apperr.CodeInvalidConfig, "no targets configured")
	}

	seen := make(map[string]bool, len(c.Targets))
	targets := make([]domain.Target, 0, len(c.Targets))
	for i, t := range c.Targets {
		if t.Key == "" || t.Owner == "" || t.Repo == "" {
			return nil, apperr.New(apperr.CodeInvalidConfig, "targets[%d]: key, owner and repo are required", i)
		}
		if seen[t.Key] {
			return nil, apperr.New(apperr.CodeInvalidConfig, "targets[%d]: duplicate key %s", i, t.Key)
		}
		seen[t.Key] = true

		mode, err := domain.ParseMode(t.Mode)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidConfig, err, "targets[%d] (%s)", i, t.Key)
		}
		targets = append(targets, domain.Target{
			Key:           t.Key,
			Repo:          domain.Repository{Owner: t.Owner, Name: t.Repo},
			Mode:          mode,
			ExcludeDrafts: t.ExcludeDrafts,
		})
	}
	return targets, nil
}

// Style returns the parsed marker style. Call Validate first.
func (c *Config) Style() marker.Style {
	style, _ := marker.ParseStyle(c.MarkerStyle)
	return style
}

// WriteTOML renders the configuration. The token is never written.
func (c *Config) WriteTOML(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
