package normalize

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"vidgen/internal/config"
	"vidgen/internal/domain"
)

const megabyte = 1024 * 1024

// Profile is the set of output constraints a platform enforces.
type Profile struct {
	Name        string        `json:"name"`
	Aliases     []string      `json:"aliases,omitempty"`
	AspectRatio string        `json:"aspect_ratio"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
	MaxFileSize int64         `json:"max_file_size"`
	Formats     []string      `json:"formats"`
	BitrateMbps float64       `json:"bitrate_mbps"`
}

// Resolution names the profile's short side the way providers expect it.
func (p Profile) Resolution() string {
	return strconv.Itoa(min(p.Width, p.Height)) + "p"
}

// DefaultProfiles are the built-in platform specs.
func DefaultProfiles() []Profile {
	mp4 := []string{"mp4", "mov"}
	return []Profile{
		{Name: "instagram_reels", Aliases: []string{"instagram", "reels"}, AspectRatio: "9:16", Width: 1080, Height: 1920,
			MinDuration: 3 * time.Second, MaxDuration: 90 * time.Second, MaxFileSize: 100 * megabyte, Formats: mp4, BitrateMbps: 8},
		{Name: "instagram_stories", Aliases: []string{"stories"}, AspectRatio: "9:16", Width: 1080, Height: 1920,
			MinDuration: time.Second, MaxDuration: 60 * time.Second, MaxFileSize: 100 * megabyte, Formats: mp4, BitrateMbps: 8},
		{Name: "instagram_feed", Aliases: []string{"feed"}, AspectRatio: "1:1", Width: 1080, Height: 1080,
			MinDuration: 3 * time.Second, MaxDuration: 60 * time.Second, MaxFileSize: 100 * megabyte, Formats: mp4, BitrateMbps: 8},
		{Name: "tiktok", AspectRatio: "9:16", Width: 1080, Height: 1920,
			MinDuration: 3 * time.Second, MaxDuration: 60 * time.Second, MaxFileSize: 287 * megabyte, Formats: mp4, BitrateMbps: 8},
		{Name: "youtube_shorts", Aliases: []string{"shorts", "youtube"}, AspectRatio: "9:16", Width: 1080, Height: 1920,
			MinDuration: time.Second, MaxDuration: 60 * time.Second, MaxFileSize: 256 * megabyte, Formats: []string{"mp4", "mov", "webm"}, BitrateMbps: 10},
	}
}

// Registry resolves platform names and aliases to profiles.
type Registry struct {
	profiles map[string]Profile
	aliases  map[string]string
}

// NewRegistry indexes profiles. Later entries replace earlier ones of the same name.
func NewRegistry(profiles []Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile), aliases: make(map[string]string)}
	for _, p := range profiles {
		name := key(p.Name)
		p.Name = name
		r.profiles[name] = p
		for _, a := range p.Aliases {
			r.aliases[key(a)] = name
		}
	}
	return r
}

// Lookup accepts a profile name or alias, case-insensitively.
func (r *Registry) Lookup(name string) (Profile, bool) {
	k := key(name)
	if p, ok := r.profiles[k]; ok {
		return p, true
	}
	if target, ok := r.aliases[k]; ok {
		p, ok := r.profiles[target]
		return p, ok
	}
	return Profile{}, false
}

// Profiles lists every profile sorted by name.
func (r *Registry) Profiles() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WithOverrides merges engine-file profile entries over base.
func WithOverrides(base []Profile, entries []config.ProfileEntry) ([]Profile, error) {
	out := slices.Clone(base)
	for _, e := range entries {
		p := Profile{
			Name:        e.Name,
			Aliases:     e.Aliases,
			AspectRatio: e.AspectRatio,
			Width:       e.Width,
			Height:      e.Height,
			MinDuration: time.Duration(e.MinDurationSeconds) * time.Second,
			MaxDuration: time.Duration(e.MaxDurationSeconds) * time.Second,
			MaxFileSize: int64(e.MaxFileSizeMB) * megabyte,
			Formats:     []string{"mp4", "mov"},
			BitrateMbps: domain.DefaultBitrateMbps,
		}
		if p.AspectRatio == "" {
			p.AspectRatio = ratioString(p.Width, p.Height)
		}
		if p.Width <= 0 || p.Height <= 0 {
			return nil, fmt.Errorf("normalize: profile %q needs width and height", p.Name)
		}
		idx := slices.IndexFunc(out, func(b Profile) bool { return key(b.Name) == key(p.Name) })
		if idx >= 0 {
			out[idx] = p
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func key(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

func ratioString(w, h int) string {
	g := gcd(w, h)
	if g == 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", w/g, h/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
