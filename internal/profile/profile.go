// Package profile supplies per-entity-type analysis settings (system
// prompt, iteration cap) to the job runner.
//
// Settings live in an external YAML file so operators can tune prompts
// without a redeploy. The provider caches reads with a short TTL and
// falls back to compiled-in defaults when the file is missing or
// malformed — a run must never fail to start merely because
// configuration is temporarily unavailable.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dealsense/dealsense/internal/prompts"
)

// DefaultMaxIterations caps the agent loop when no profile overrides it.
const DefaultMaxIterations = 10

// DefaultTTL is how long a loaded profile set is served before the
// source is consulted again.
const DefaultTTL = 60 * time.Second

// Profile holds the tunable settings for one entity type.
type Profile struct {
	SystemPrompt  string `yaml:"system_prompt"`
	MaxIterations int    `yaml:"max_iterations"`
}

// Provider resolves the profile for an entity type. The job runner
// receives a Provider at construction; there is no package-level cache.
type Provider interface {
	Profile(entityType string) Profile
}

// Static is a Provider that always returns the compiled-in defaults.
// Used in tests and when no profile file is configured.
type Static struct{}

func (Static) Profile(entityType string) Profile {
	return fallbackProfile(entityType)
}

// FileProvider loads profiles from a YAML file keyed by entity type:
//
//	deal:
//	  system_prompt: |
//	    ...
//	  max_iterations: 12
//
// Reads are cached for TTL; entity types absent from the file get the
// compiled-in defaults.
type FileProvider struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger

	// now is the clock; tests substitute it to exercise cache expiry
	// without sleeping.
	now func() time.Time

	mu       sync.Mutex
	cached   map[string]Profile
	loadedAt time.Time
}

// NewFileProvider creates a provider reading from path with the given
// TTL (0 means DefaultTTL).
func NewFileProvider(path string, ttl time.Duration, logger *slog.Logger) *FileProvider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProvider{
		path:   path,
		ttl:    ttl,
		logger: logger.With("component", "profile"),
		now:    time.Now,
	}
}

// Profile returns the profile for entityType, merging file settings
// over the compiled-in defaults.
func (p *FileProvider) Profile(entityType string) Profile {
	base := fallbackProfile(entityType)

	loaded := p.load()
	override, ok := loaded[entityType]
	if !ok {
		return base
	}

	if override.SystemPrompt != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	if override.MaxIterations > 0 {
		base.MaxIterations = override.MaxIterations
	}
	return base
}

// load returns the cached profile map, refreshing it when the TTL has
// elapsed. A failed refresh keeps serving the previous snapshot (or
// the empty map, which means pure defaults).
func (p *FileProvider) load() map[string]Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Sub(p.loadedAt) < p.ttl {
		return p.cached
	}

	fresh, err := readProfiles(p.path)
	if err != nil {
		p.logger.Warn("profile load failed, using previous/defaults", "path", p.path, "error", err)
		if p.cached == nil {
			p.cached = map[string]Profile{}
		}
	} else {
		p.cached = fresh
	}
	p.loadedAt = p.now()
	return p.cached
}

func readProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]Profile
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if out == nil {
		out = map[string]Profile{}
	}
	return out, nil
}

func fallbackProfile(entityType string) Profile {
	return Profile{
		SystemPrompt:  prompts.SystemPrompt(entityType),
		MaxIterations: DefaultMaxIterations,
	}
}
