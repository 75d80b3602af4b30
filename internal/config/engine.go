package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultEnginePath is used when ENGINE_CONFIG is unset.
const DefaultEnginePath = "config/engine.yaml"

// EngineFile is the declarative provider chain and profile configuration.
type EngineFile struct {
	Providers []ProviderEntry `yaml:"providers"`
	Profiles  []ProfileEntry  `yaml:"profiles"`
}

// ProviderEntry is one provider line of the engine file. Money values stay
// strings until parsed so no float ever touches a price.
type ProviderEntry struct {
	ID                 string            `yaml:"id"`
	Kind               string            `yaml:"kind"`
	Enabled            *bool             `yaml:"enabled"`
	Priority           int               `yaml:"priority"`
	CostPerUnit        string            `yaml:"cost_per_unit"`
	CostUnit           string            `yaml:"cost_unit"`
	RequestsPerMinute  int               `yaml:"requests_per_minute"`
	LatencyHint        string            `yaml:"latency_hint"`
	Timeout            string            `yaml:"timeout"`
	MaxDurationSeconds int               `yaml:"max_duration_seconds"`
	Styles             []string          `yaml:"styles"`
	BaseURL            string            `yaml:"base_url"`
	Credentials        string            `yaml:"credentials"`
	Options            map[string]string `yaml:"options"`
	// ImageToVideo overrides the kind's image-to-video support.
	ImageToVideo *bool `yaml:"image_to_video"`
}

// ProfileEntry overrides or adds a platform profile.
type ProfileEntry struct {
	Name               string   `yaml:"name"`
	Aliases            []string `yaml:"aliases"`
	AspectRatio        string   `yaml:"aspect_ratio"`
	Width              int      `yaml:"width"`
	Height             int      `yaml:"height"`
	MinDurationSeconds int      `yaml:"min_duration_seconds"`
	MaxDurationSeconds int      `yaml:"max_duration_seconds"`
	MaxFileSizeMB      int      `yaml:"max_file_size_mb"`
}

// IsEnabled treats a missing flag as enabled.
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// LoadEngine reads and validates the engine file at path.
func LoadEngine(path string) (*EngineFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	return ParseEngine(raw)
}

// ParseEngine decodes an engine file body.
func ParseEngine(raw []byte) (*EngineFile, error) {
	var f EngineFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode engine config: %w", err)
	}
	f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Normalize trims identifiers and fills defaults.
func (f *EngineFile) Normalize() {
	if f == nil {
		return
	}
	for i := range f.Providers {
		p := &f.Providers[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Kind == "" {
			p.Kind = p.ID
		}
		if p.CostUnit == "" {
			p.CostUnit = "video"
		}
		if p.CostPerUnit == "" {
			p.CostPerUnit = "0"
		}
	}
	for i := range f.Profiles {
		f.Profiles[i].Name = strings.ToLower(strings.TrimSpace(f.Profiles[i].Name))
	}
}

// Validate checks the structural rules; semantic parsing happens in the consumers.
func (f EngineFile) Validate() error {
	if len(f.Providers) == 0 {
		return errors.New("engine config: at least one provider is required")
	}
	seen := make(map[string]struct{}, len(f.Providers))
	for i, p := range f.Providers {
		if p.ID == "" {
			return fmt.Errorf("engine config: providers[%d].id is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("engine config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.RequestsPerMinute < 0 {
			return fmt.Errorf("engine config: provider %q requests_per_minute must not be negative", p.ID)
		}
		if p.MaxDurationSeconds < 0 {
			return fmt.Errorf("engine config: provider %q max_duration_seconds must not be negative", p.ID)
		}
		if ref := p.Credentials; ref != "" && !strings.HasPrefix(ref, "env:") && !strings.HasPrefix(ref, "db:") {
			return fmt.Errorf("engine config: provider %q credentials must be env:NAME or db:NAME", p.ID)
		}
	}
	for i, pr := range f.Profiles {
		if pr.Name == "" {
			return fmt.Errorf("engine config: profiles[%d].name is required", i)
		}
		if pr.Width <= 0 || pr.Height <= 0 {
			return fmt.Errorf("engine config: profile %q needs width and height", pr.Name)
		}
		if pr.MaxDurationSeconds > 0 && pr.MinDurationSeconds > pr.MaxDurationSeconds {
			return fmt.Errorf("engine config: profile %q min duration exceeds max", pr.Name)
		}
	}
	return nil
}
