package chain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"vidgen/internal/config"
	"vidgen/internal/domain"
	"vidgen/internal/providers/video"
)

// DefaultPollTimeout bounds a provider's poll sequence when the engine file gives none.
const DefaultPollTimeout = 5 * time.Minute

// Descriptor is the configuration of one provider in the chain.
type Descriptor struct {
	ID                 string            `json:"id"`
	Kind               video.Kind        `json:"kind"`
	Enabled            bool              `json:"enabled"`
	Priority           int               `json:"priority"`
	Cost               video.CostModel   `json:"-"`
	RequestsPerMinute  int               `json:"requests_per_minute"`
	LatencyHint        time.Duration     `json:"latency_hint"`
	Timeout            time.Duration     `json:"timeout"`
	MaxDurationSeconds int               `json:"max_duration_seconds"`
	Styles             []string          `json:"styles,omitempty"`
	ImageToVideo       bool              `json:"image_to_video"`
	BaseURL            string            `json:"base_url,omitempty"`
	Credentials        string            `json:"-"`
	Options            map[string]string `json:"-"`
}

// PollTimeout returns the configured timeout or the default.
func (d Descriptor) PollTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultPollTimeout
}

// Settings converts the descriptor into provider construction settings.
// The API key is resolved separately from Credentials.
func (d Descriptor) Settings(apiKey string) video.Settings {
	return video.Settings{
		ID:                 d.ID,
		Kind:               d.Kind,
		Cost:               d.Cost,
		RequestsPerMinute:  d.RequestsPerMinute,
		MaxDurationSeconds: d.MaxDurationSeconds,
		Styles:             slices.Clone(d.Styles),
		BaseURL:            d.BaseURL,
		APIKey:             apiKey,
		ImageToVideo:       d.ImageToVideo,
	}
}

// sameInstance reports whether a provider built for a can serve b unchanged.
// Priority, enablement and timeouts are chain concerns and do not force a rebuild.
func sameInstance(a, b Descriptor) bool {
	return a.ID == b.ID &&
		a.Kind == b.Kind &&
		a.Cost == b.Cost &&
		a.RequestsPerMinute == b.RequestsPerMinute &&
		a.MaxDurationSeconds == b.MaxDurationSeconds &&
		slices.Equal(a.Styles, b.Styles) &&
		a.ImageToVideo == b.ImageToVideo &&
		a.BaseURL == b.BaseURL &&
		a.Credentials == b.Credentials &&
		maps.Equal(a.Options, b.Options)
}

// FromEngine converts the engine file's provider entries.
func FromEngine(f *config.EngineFile) ([]Descriptor, error) {
	if f == nil {
		return nil, fmt.Errorf("chain: nil engine config")
	}
	out := make([]Descriptor, 0, len(f.Providers))
	for _, p := range f.Providers {
		d, err := fromEntry(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func fromEntry(p config.ProviderEntry) (Descriptor, error) {
	kind, err := video.ParseKind(p.Kind)
	if err != nil {
		return Descriptor{}, fmt.Errorf("chain: provider %q: %w", p.ID, err)
	}
	perUnit, err := domain.ParseMoney(p.CostPerUnit)
	if err != nil {
		return Descriptor{}, fmt.Errorf("chain: provider %q cost_per_unit: %w", p.ID, err)
	}
	if perUnit < 0 {
		return Descriptor{}, fmt.Errorf("chain: provider %q cost_per_unit must not be negative", p.ID)
	}
	unit, err := video.ParseCostUnit(p.CostUnit)
	if err != nil {
		return Descriptor{}, fmt.Errorf("chain: provider %q: %w", p.ID, err)
	}
	latency, err := parseDuration(p.LatencyHint)
	if err != nil {
		return Descriptor{}, fmt.Errorf("chain: provider %q latency_hint: %w", p.ID, err)
	}
	timeout, err := parseDuration(p.Timeout)
	if err != nil {
		return Descriptor{}, fmt.Errorf("chain: provider %q timeout: %w", p.ID, err)
	}
	animates := kind.AnimatesImages()
	if p.ImageToVideo != nil {
		animates = *p.ImageToVideo
	}
	styles := make([]string, 0, len(p.Styles))
	for _, s := range p.Styles {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			styles = append(styles, s)
		}
	}
	return Descriptor{
		ID:                 p.ID,
		Kind:               kind,
		Enabled:            p.IsEnabled(),
		Priority:           p.Priority,
		Cost:               video.CostModel{PerUnit: perUnit, Unit: unit},
		RequestsPerMinute:  p.RequestsPerMinute,
		LatencyHint:        latency,
		Timeout:            timeout,
		MaxDurationSeconds: p.MaxDurationSeconds,
		Styles:             styles,
		ImageToVideo:       animates,
		BaseURL:            strings.TrimSpace(p.BaseURL),
		Credentials:        strings.TrimSpace(p.Credentials),
		Options:            maps.Clone(p.Options),
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
