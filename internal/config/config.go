// Package config loads and validates the optional .travelinfo YAML file
// and the TRAVELINFO_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/deixis/travelinfo/internal/verdict"
)

// Default values for the agent run.
const (
	DefaultBinary    = "claude"
	DefaultModel     = "sonnet"
	DefaultTimeout   = 3 * time.Minute
	DefaultKillGrace = 5 * time.Second
	DefaultMaxOutput = 4 << 20 // 4 MB
)

// Environment variables that override the file.
const (
	EnvBinary  = "TRAVELINFO_AGENT"
	EnvModel   = "TRAVELINFO_MODEL"
	EnvTimeout = "TRAVELINFO_TIMEOUT"
)

// FileName is the per-directory config file.
const FileName = ".travelinfo"

// WebTools are the only tools the agent may be granted.
var WebTools = []string{"WebSearch", "WebFetch"}

// ErrForbiddenTool is returned when the allow-list names a tool outside WebTools.
var ErrForbiddenTool = errors.New("tool not permitted")

// Config holds the parsed .travelinfo configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int         `yaml:"version"`
	RawTimeout   string      `yaml:"timeout"`    // e.g. "3m", "90s"
	RawKillGrace string      `yaml:"kill_grace"` // delay between SIGTERM and SIGKILL
	RawMaxOutput int         `yaml:"max_output"` // bytes of agent stdout kept for validation
	Agent        AgentConfig `yaml:"agent"`
}

// AgentConfig controls how the external agent is invoked and judged.
type AgentConfig struct {
	Binary        string   `yaml:"binary"`
	Model         string   `yaml:"model"`
	AllowedTools  []string `yaml:"allowed_tools"`
	SentinelMatch string   `yaml:"sentinel_match"` // "substring" or "line"
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	if d, err := parsePositive(c.RawTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultTimeout
}

// KillGrace returns the configured grace period or the default.
func (c *Config) KillGrace() time.Duration {
	if d, err := parsePositive(c.RawKillGrace); err == nil && d > 0 {
		return d
	}
	return DefaultKillGrace
}

// MaxOutputBytes returns the configured output cap or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// Binary returns the agent executable name or path.
func (c *Config) Binary() string {
	if c.Agent.Binary != "" {
		return c.Agent.Binary
	}
	return DefaultBinary
}

// Model returns the model identifier passed to the agent.
func (c *Config) Model() string {
	if c.Agent.Model != "" {
		return c.Agent.Model
	}
	return DefaultModel
}

// SentinelMatch returns the configured sentinel match rule.
func (c *Config) SentinelMatch() string {
	if c.Agent.SentinelMatch != "" {
		return c.Agent.SentinelMatch
	}
	return verdict.MatchSubstring
}

// AllowedTools returns the tool allow-list as a set.
func (c *Config) AllowedTools() mapset.Set[string] {
	if len(c.Agent.AllowedTools) > 0 {
		return mapset.NewSet(c.Agent.AllowedTools...)
	}
	return mapset.NewSet(WebTools...)
}

// Validate reports configuration that would weaken the agent sandbox or
// cannot be parsed.
func (c *Config) Validate() error {
	if _, err := parsePositive(c.RawTimeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	if _, err := parsePositive(c.RawKillGrace); err != nil {
		return fmt.Errorf("kill_grace: %w", err)
	}
	for _, tool := range c.Agent.AllowedTools {
		if !slices.Contains(WebTools, tool) {
			return fmt.Errorf("allowed_tools: %q: %w", tool, ErrForbiddenTool)
		}
	}
	switch c.SentinelMatch() {
	case verdict.MatchSubstring, verdict.MatchLine:
	default:
		return fmt.Errorf("sentinel_match: unknown rule %q", c.Agent.SentinelMatch)
	}
	return nil
}

// Options is the single run configuration resolved at startup.
type Options struct {
	Verbose      bool
	Timeout      time.Duration
	AllowedTools mapset.Set[string]
}

// Options resolves the run options. A positive timeoutOverride (from the
// command line) wins over the configured timeout.
func (c *Config) Options(verbose bool, timeoutOverride time.Duration) Options {
	timeout := c.Timeout()
	if timeoutOverride > 0 {
		timeout = timeoutOverride
	}
	return Options{
		Verbose:      verbose,
		Timeout:      timeout,
		AllowedTools: c.AllowedTools(),
	}
}

// LoadResult holds the parsed config and the file it came from.
type LoadResult struct {
	Config *Config
	Path   string // empty when no file was found
}

// Load reads .travelinfo from dir, falling back to the user config
// directory ($XDG_CONFIG_HOME/travelinfo/config.yaml). A .env file in dir
// is loaded into the environment when present, then TRAVELINFO_*
// variables override the file. If no file exists, a default Config is
// returned.
func Load(dir string) (*LoadResult, error) {
	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	path, err := findFile(dir)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

// findFile returns the first existing config file, or "" if there is none.
func findFile(dir string) (string, error) {
	candidates := []string{filepath.Join(dir, FileName)}
	if userDir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(userDir, "travelinfo", "config.yaml"))
	}
	for _, path := range candidates {
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return "", nil
}

// loadDotEnv loads path into the process environment. Variables that are
// already set keep their value.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBinary); v != "" {
		cfg.Agent.Binary = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		cfg.RawTimeout = v
	}
}

// parsePositive parses a duration string. The empty string yields zero.
func parsePositive(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", raw)
	}
	return d, nil
}
