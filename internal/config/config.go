// Package config handles Dealsense configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/dealsense/config.yaml, /etc/dealsense/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dealsense", "config.yaml"))
	}

	paths = append(paths, "/etc/dealsense/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Dealsense configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Atlas     AtlasConfig     `yaml:"atlas"`
	Hub       HubConfig       `yaml:"hub"`
	Search    SearchConfig    `yaml:"search"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Queue     QueueConfig     `yaml:"queue"`
	Profiles  ProfilesConfig  `yaml:"profiles"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AtlasConfig defines the knowledge-base backend.
type AtlasConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// HubConfig defines the CRM tool-hosting service connection.
type HubConfig struct {
	URL string `yaml:"url"`
	// ExcludeTools lists discovered tool names (wire format, hyphenated)
	// that must never be exposed to the model.
	ExcludeTools []string `yaml:"exclude_tools"`
}

// SearchConfig defines the optional web search provider.
type SearchConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// FetchConfig defines the optional web-scrape tool.
type FetchConfig struct {
	Enabled bool `yaml:"enabled"`
	// ProbeURL, when set, is checked with a short deadline before the
	// tool is offered to the model. Unreachable means the tool is
	// removed from the registry for that run.
	ProbeURL string `yaml:"probe_url"`
}

// QueueConfig defines the Redis job queue.
type QueueConfig struct {
	RedisURL string `yaml:"redis_url"`
	// Key is the Redis list the worker consumes. Default "dealsense:jobs".
	Key string `yaml:"key"`
}

// ProfilesConfig defines where analysis profiles are loaded from.
type ProfilesConfig struct {
	// Path points at the profiles YAML file. Optional; built-in
	// defaults are used when empty or unreadable.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Queue: QueueConfig{
			RedisURL: "redis://localhost:6379/0",
			Key:      "dealsense:jobs",
		},
		DataDir: "data",
	}
}
