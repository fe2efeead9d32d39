// internal/config/config.go
//
// This package handles configuration and the .nuscr directory structure.
// Every project opened with nuscr-editor gets a .nuscr/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectDirName is the name of the directory we create in each project
	ProjectDirName = ".nuscr"

	// DefaultToolPath is the bare command looked up on PATH when no override is set.
	DefaultToolPath = "nuscr"
	// DefaultLiveURL is the hosted nuScr playground.
	DefaultLiveURL = "https://nuscr.dev/nuscr/"
	// DefaultReleaseVersion pins the nuscr release fetched by the resolver.
	DefaultReleaseVersion = "2.1.1"
	// DefaultReleaseBaseURL hosts the nuscr release assets.
	DefaultReleaseBaseURL = "https://github.com/nuscr/nuscr"
)

// Environment overrides. They beat .nuscr/config.yaml and are themselves
// seeded from .nuscr/.env when that file exists.
const (
	EnvToolPath    = "NUSCR_PATH"
	EnvCheckOnSave = "NUSCR_CHECK_ON_SAVE"
	EnvCacheDir    = "NUSCR_CACHE_DIR"
)

const defaultProjectConfigYAML = `# nuscr-editor project configuration
version: 1

# Path to the nuscr binary. A bare name is looked up on PATH; when nothing is
# found the pinned release below is downloaded into the cache directory.
nuscr_path: nuscr

# Run validation whenever a .nuscr document is saved.
check_on_save: true

# Where "open in live" points the browser.
live_url: https://nuscr.dev/nuscr/

release:
  version: "2.1.1"
  base_url: https://github.com/nuscr/nuscr
  # asset_pattern: nuscr-{platform}.tar.gz

# HTTP endpoint editors post document hooks to.
event_bridge:
  enabled: false
  host: 127.0.0.1
  port: 8766
`

// ReleaseConfig pins the downloadable nuscr release.
type ReleaseConfig struct {
	Version      string `yaml:"version"`
	Tag          string `yaml:"tag,omitempty"`
	BaseURL      string `yaml:"base_url"`
	AssetPattern string `yaml:"asset_pattern,omitempty"`
}

// EventBridgeConfig captures optional HTTP bridge overrides.
type EventBridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .nuscr/config.yaml.
type ProjectConfig struct {
	Version     int               `yaml:"version"`
	ToolPath    string            `yaml:"nuscr_path"`
	CheckOnSave *bool             `yaml:"check_on_save,omitempty"`
	LiveURL     string            `yaml:"live_url"`
	CacheDir    string            `yaml:"cache_dir,omitempty"`
	Release     ReleaseConfig     `yaml:"release"`
	EventBridge EventBridgeConfig `yaml:"event_bridge"`
}

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the directory nuscr-editor was started in
	ProjectDir string

	// StateDir is ProjectDir/.nuscr
	StateDir string

	// Project is the parsed config.yaml. Read it directly only before the
	// Config is shared; afterwards use the accessors or Snapshot.
	Project ProjectConfig

	// mu guards Project and the env overrides once hooks and the UI share c.
	mu sync.RWMutex

	// env-sourced overrides; never written back to config.yaml
	envToolPath    string
	envCheckOnSave *bool
	envCacheDir    string
}

// InitProjectDir creates the .nuscr directory structure in the given project directory.
//
// Structure created:
// .nuscr/
// ├── config.yaml
// └── logs/        <- nuscr.log and the output channel
func InitProjectDir(projectDir string) error {
	stateDir := filepath.Join(projectDir, ProjectDirName)
	if err := os.MkdirAll(filepath.Join(stateDir, "logs"), 0o755); err != nil {
		return err
	}
	return ensureProjectConfig(filepath.Join(stateDir, "config.yaml"))
}

// NewConfig loads .nuscr/config.yaml (if any) and applies environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{
		ProjectDir: abs,
		StateDir:   filepath.Join(abs, ProjectDirName),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateDir, "config.yaml")
}

// EnvFilePath returns the optional dotenv file consulted at startup.
func (c *Config) EnvFilePath() string {
	return filepath.Join(c.StateDir, ".env")
}

// ToolPath returns the configured nuscr override.
func (c *Config) ToolPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.envToolPath != "" {
		return c.envToolPath
	}
	if p := strings.TrimSpace(c.Project.ToolPath); p != "" {
		return p
	}
	return DefaultToolPath
}

// CheckOnSave reports whether saves trigger validation.
func (c *Config) CheckOnSave() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.envCheckOnSave != nil {
		return *c.envCheckOnSave
	}
	if c.Project.CheckOnSave == nil {
		return true
	}
	return *c.Project.CheckOnSave
}

// CacheDir returns the binary cache root, or "" for the user cache default.
func (c *Config) CacheDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.envCacheDir != "" {
		return c.envCacheDir
	}
	return c.Project.CacheDir
}

// LiveURL returns the nuScr Live address.
func (c *Config) LiveURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Project.LiveURL
}

// Snapshot returns a copy of the project config safe to read without holding c.
func (c *Config) Snapshot() ProjectConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.Project
	if c.Project.CheckOnSave != nil {
		v := *c.Project.CheckOnSave
		snap.CheckOnSave = &v
	}
	if c.Project.EventBridge.Enabled != nil {
		v := *c.Project.EventBridge.Enabled
		snap.EventBridge.Enabled = &v
	}
	return snap
}

// SetToolPath updates nuscr_path and persists it to .nuscr/config.yaml.
func (c *Config) SetToolPath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config: nuscr path is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Project.ToolPath = path
	c.envToolPath = ""
	return c.saveProjectConfig()
}

// SetCheckOnSave toggles validation on save and persists the value.
func (c *Config) SetCheckOnSave(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Project.CheckOnSave = &enabled
	c.envCheckOnSave = nil
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

// loadEnv reads .nuscr/.env without clobbering variables already set in the
// process environment, then captures the NUSCR_* overrides.
func (c *Config) loadEnv() error {
	envPath := c.EnvFilePath()
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvToolPath)); v != "" {
		c.envToolPath = resolveToolPath(c.ProjectDir, v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvCheckOnSave)); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.envCheckOnSave = &enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvCacheDir)); v != "" {
		c.envCacheDir = resolvePath(c.ProjectDir, v)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{Version: 1}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.ToolPath) == "" {
		pc.ToolPath = DefaultToolPath
	}
	if strings.TrimSpace(pc.LiveURL) == "" {
		pc.LiveURL = DefaultLiveURL
	}
	if strings.TrimSpace(pc.Release.Version) == "" {
		pc.Release.Version = DefaultReleaseVersion
	}
	if strings.TrimSpace(pc.Release.BaseURL) == "" {
		pc.Release.BaseURL = DefaultReleaseBaseURL
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.ToolPath = resolveToolPath(base, pc.ToolPath)
	pc.LiveURL = strings.TrimSpace(pc.LiveURL)
	pc.CacheDir = resolvePath(base, pc.CacheDir)
	pc.Release.Version = strings.TrimSpace(pc.Release.Version)
	pc.Release.Tag = strings.TrimSpace(pc.Release.Tag)
	pc.Release.BaseURL = strings.TrimRight(strings.TrimSpace(pc.Release.BaseURL), "/")
	pc.Release.AssetPattern = strings.TrimSpace(pc.Release.AssetPattern)
	pc.EventBridge.Host = strings.TrimSpace(pc.EventBridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if !strings.HasPrefix(pc.LiveURL, "http://") && !strings.HasPrefix(pc.LiveURL, "https://") {
		return fmt.Errorf("live_url must be an http(s) URL")
	}
	if !strings.HasPrefix(pc.Release.BaseURL, "http://") && !strings.HasPrefix(pc.Release.BaseURL, "https://") {
		return fmt.Errorf("release.base_url must be an http(s) URL")
	}
	if pc.Release.AssetPattern != "" && !strings.Contains(pc.Release.AssetPattern, "{platform}") {
		return fmt.Errorf("release.asset_pattern must contain {platform}")
	}
	if pc.EventBridge.Port != 0 && (pc.EventBridge.Port < 0 || pc.EventBridge.Port > 65535) {
		return fmt.Errorf("event_bridge.port must be between 1 and 65535")
	}
	return nil
}

// resolveToolPath keeps bare command names (looked up on PATH) untouched and
// anchors relative paths at the project root.
func resolveToolPath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if !strings.ContainsAny(trimmed, `/\`) {
		return trimmed
	}
	return resolvePath(base, trimmed)
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, trimmed[2:])
		}
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

// saveProjectConfig expects c.mu to be held for writing.
func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize(c.ProjectDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure state dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
