package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const Version = "0.1.0"

// Config is the full reviewherd configuration, loaded from TOML.
type Config struct {
	DBPath    string `toml:"db_path"`
	WorkRoot  string `toml:"work_root"` // base dir for per-run worktrees
	StateRoot string `toml:"state_root"`
	LogLevel  string `toml:"log_level"`

	Discovery DiscoveryConfig `toml:"discovery"`
	Review    ReviewConfig    `toml:"review"`
	Session   SessionConfig   `toml:"session"`

	// Resolved at runtime (not in TOML).
	BaseDir string `toml:"-"`
}

type DiscoveryConfig struct {
	Owner      string   `toml:"owner"`
	APIBaseURL string   `toml:"api_base_url"`
	Repos      []string `toml:"repos"` // explicit repo filter; empty = all of owner
	ReposRoot  string   `toml:"repos_root"`
	Threshold  string   `toml:"threshold"` // all|low|normal|high|critical
}

type ReviewConfig struct {
	Mode           string `toml:"mode"` // plan|apply
	Parallel       int    `toml:"parallel"`
	MaxRepos       int    `toml:"max_repos"`      // 0 = unlimited
	MaxRuntimeMin  int    `toml:"max_runtime"`    // minutes, 0 = unlimited
	MaxQuestions   int    `toml:"max_questions"`  // 0 = unlimited
	KeepWorktrees  bool   `toml:"keep_worktrees"` // preserve worktrees after completion
	PrefetchWindow int    `toml:"prefetch_window"`
	DryRun         bool   `toml:"-"` // flag only, never persisted
}

type SessionConfig struct {
	Agent           string   `toml:"agent"` // agent CLI binary, e.g. "claude"
	AgentArgs       []string `toml:"agent_args"`
	PollInterval    string   `toml:"poll_interval"`    // e.g. "2s"
	StallTimeout    string   `toml:"stall_timeout"`    // e.g. "30s"
	ErrorSignatures []string `toml:"error_signatures"` // merged with builtin set
}

// Credentials holds tokens loaded from credentials.toml.
type Credentials struct {
	GitHubToken string `toml:"github_token"`
}

// Load reads and validates a config file, applying defaults and merging
// credentials from credentials.toml and the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(path)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with all defaults applied and no file loaded.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		if d, err := DataDir(); err == nil {
			cfg.DBPath = filepath.Join(d, "reviewherd.db")
		} else {
			cfg.DBPath = "reviewherd.db"
		}
	}
	if cfg.WorkRoot == "" {
		if d, err := DataDir(); err == nil {
			cfg.WorkRoot = filepath.Join(d, "runs")
		} else {
			cfg.WorkRoot = ".runs"
		}
	}
	if cfg.StateRoot == "" {
		if d, err := StateDir(); err == nil {
			cfg.StateRoot = d
		} else {
			cfg.StateRoot = ".state"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Discovery.APIBaseURL == "" {
		cfg.Discovery.APIBaseURL = "https://api.github.com"
	}
	if cfg.Discovery.Threshold == "" {
		cfg.Discovery.Threshold = "all"
	}
	if cfg.Review.Mode == "" {
		cfg.Review.Mode = "plan"
	}
	if cfg.Review.Parallel == 0 {
		cfg.Review.Parallel = 3
	}
	if cfg.Review.PrefetchWindow == 0 {
		cfg.Review.PrefetchWindow = 2
	}
	if cfg.Session.Agent == "" {
		cfg.Session.Agent = "claude"
	}
	if cfg.Session.PollInterval == "" {
		cfg.Session.PollInterval = "2s"
	}
	if cfg.Session.StallTimeout == "" {
		cfg.Session.StallTimeout = "30s"
	}
}

func validate(cfg *Config) error {
	switch cfg.Review.Mode {
	case "plan", "apply":
	default:
		return fmt.Errorf("invalid review mode %q (want plan or apply)", cfg.Review.Mode)
	}
	switch cfg.Discovery.Threshold {
	case "all", "low", "normal", "high", "critical":
	default:
		return fmt.Errorf("invalid discovery threshold %q", cfg.Discovery.Threshold)
	}
	if cfg.Review.Parallel < 1 {
		return fmt.Errorf("review.parallel must be >= 1, got %d", cfg.Review.Parallel)
	}
	if cfg.Review.MaxRepos < 0 || cfg.Review.MaxRuntimeMin < 0 || cfg.Review.MaxQuestions < 0 {
		return fmt.Errorf("budget ceilings must be >= 0")
	}
	return nil
}

// Hash returns a stable digest of the knobs that affect run scheduling.
// A checkpoint written under one hash must not be resumed under another.
func (c *Config) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "owner=%s|repos=%v|threshold=%s|mode=%s|parallel=%d|max_repos=%d|max_runtime=%d|max_questions=%d",
		c.Discovery.Owner, c.Discovery.Repos, c.Discovery.Threshold,
		c.Review.Mode, c.Review.Parallel,
		c.Review.MaxRepos, c.Review.MaxRuntimeMin, c.Review.MaxQuestions)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// GitHubToken resolves the API token: environment first, then
// credentials.toml. Empty means unauthenticated.
func GitHubToken() string {
	if tok := os.Getenv("REVIEWHERD_GITHUB_TOKEN"); tok != "" {
		return tok
	}
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		return tok
	}
	path, err := CredentialsPath()
	if err != nil {
		return ""
	}
	creds := &Credentials{}
	if _, err := toml.DecodeFile(path, creds); err != nil {
		return ""
	}
	return creds.GitHubToken
}
