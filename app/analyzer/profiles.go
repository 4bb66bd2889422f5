package analyzer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Profile is one analysis policy: which model identifier to record per
// detected language and the quality floor below which entries are rejected.
type Profile struct {
	Name         string            `yaml:"-"`
	Enabled      bool              `yaml:"enabled"`
	DefaultModel string            `yaml:"default_model"`
	MinValue     float64           `yaml:"min_value"`
	Models       map[string]string `yaml:"models"`
}

// ModelFor returns the model identifier for a detected language, falling
// back to the profile default.
func (p *Profile) ModelFor(lang string) string {
	if model, ok := p.Models[lang]; ok {
		return model
	}
	return p.DefaultModel
}

// DefaultProfileName is the profile the queue uses unless told otherwise.
const DefaultProfileName = "default"

// ProfileCache loads analysis profiles from YAML files and serves them to
// the queue workers. Missing profiles directory is not an error: a built-in
// default applies.
type ProfileCache struct {
	profilesDir string
	cache       map[string]*Profile
	mu          sync.RWMutex
}

func NewProfileCache(profilesDir string) *ProfileCache {
	return &ProfileCache{
		profilesDir: profilesDir,
		cache:       make(map[string]*Profile),
	}
}

func (pc *ProfileCache) Run() error {
	if _, err := os.Stat(pc.profilesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(pc.profilesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		fileName := filepath.Base(file)
		profileName := fileName[:len(fileName)-4] // Remove .yml extension

		profile, err := pc.LoadProfile(profileName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Analysis profile loaded", "profile", profileName, "enabled", profile.Enabled, "default_model", profile.DefaultModel)
	}

	return nil
}

func (pc *ProfileCache) LoadProfile(profileName string) (*Profile, error) {
	profileFile := filepath.Join(pc.profilesDir, profileName+".yml")

	data, err := os.ReadFile(profileFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	profile := &Profile{Enabled: true}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	profile.Name = profileName

	if err := validateProfile(profile); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", profileFile, err)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cache[profile.Name] = profile

	return profile, nil
}

func (pc *ProfileCache) GetProfile(profileName string) (*Profile, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	profile, ok := pc.cache[profileName]
	if !ok {
		return nil, fmt.Errorf("analysis profile '%s' not found", profileName)
	}
	return profile, nil
}

// GetDefault returns the "default" profile when configured, otherwise a
// built-in fallback.
func (pc *ProfileCache) GetDefault() *Profile {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	if profile, ok := pc.cache[DefaultProfileName]; ok {
		return profile
	}
	return &Profile{
		Name:         DefaultProfileName,
		Enabled:      true,
		DefaultModel: "sieve-heuristic-v1",
		MinValue:     0,
	}
}

func (pc *ProfileCache) GetProfileCount() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.cache)
}

func validateProfile(profile *Profile) error {
	if profile.DefaultModel == "" {
		return fmt.Errorf("default model is required")
	}
	if profile.MinValue < 0 {
		return fmt.Errorf("min value must be non-negative")
	}
	for lang, model := range profile.Models {
		if model == "" {
			return fmt.Errorf("model for language %q must not be empty", lang)
		}
	}
	return nil
}
