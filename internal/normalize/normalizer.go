package normalize

import (
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// DefaultAspectTolerance is the relative aspect deviation that can still be
// corrected by rescaling.
const DefaultAspectTolerance = 0.20

// Options configures a Normalizer.
type Options struct {
	Registry        *Registry
	Transcoder      Transcoder
	AspectTolerance float64
	Logger          *infra.Logger
}

// Normalizer validates artifacts against platform profiles and applies one
// round of deterministic correction.
type Normalizer struct {
	registry   *Registry
	transcoder Transcoder
	tolerance  float64
	logger     *infra.Logger
}

// New constructs a Normalizer with the built-in profiles unless a registry is given.
func New(opts Options) *Normalizer {
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry(DefaultProfiles())
	}
	tc := opts.Transcoder
	if tc == nil {
		tc = MetadataTranscoder{}
	}
	tol := opts.AspectTolerance
	if tol <= 0 {
		tol = DefaultAspectTolerance
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Normalizer{registry: reg, transcoder: tc, tolerance: tol, logger: logger}
}

// Registry exposes the profile registry.
func (n *Normalizer) Registry() *Registry {
	return n.registry
}

// Profile resolves a platform name.
func (n *Normalizer) Profile(platform string) (Profile, error) {
	p, ok := n.registry.Lookup(platform)
	if !ok {
		return Profile{}, fmt.Errorf("%w: unknown platform %q", domain.ErrInvalidBrief, platform)
	}
	return p, nil
}

type violation struct {
	field       string
	detail      string
	correctable bool
}

// Normalize validates a against the named profile, corrects it once when every
// violation is correctable and re-validates. The result is rejected with
// domain.ErrProfileViolation, attributed to the artifact's provider, otherwise.
func (n *Normalizer) Normalize(ctx context.Context, a domain.MediaArtifact, platform string) (domain.MediaArtifact, error) {
	p, err := n.Profile(platform)
	if err != nil {
		return a, err
	}
	a.Profile = p.Name

	found := n.check(a, p)
	if len(found) == 0 {
		return a, nil
	}
	for _, v := range found {
		if !v.correctable {
			return a, n.reject(a, v)
		}
	}

	fixed, err := n.transcoder.Transcode(ctx, a, Target{
		Width:       p.Width,
		Height:      p.Height,
		MaxDuration: p.MaxDuration,
		MaxFileSize: p.MaxFileSize,
		Format:      preferredFormat(p),
		BitrateMbps: p.BitrateMbps,
	})
	if err != nil {
		if ctx.Err() != nil {
			return a, ctx.Err()
		}
		return a, domain.NewProviderError(a.Provider, domain.ErrProfileViolation, "correction failed: %v", err)
	}
	fixed.Corrections = append(fixed.Corrections, describe(a, fixed)...)

	if again := n.check(fixed, p); len(again) > 0 {
		return a, n.reject(fixed, again[0])
	}
	n.logger.Debug().
		Str("provider", a.Provider).
		Str("profile", p.Name).
		Strs("corrections", fixed.Corrections).
		Msg("normalize: artifact corrected")
	return fixed, nil
}

func (n *Normalizer) reject(a domain.MediaArtifact, v violation) error {
	return domain.NewProviderError(a.Provider, domain.ErrProfileViolation, "%s: %s", v.field, v.detail)
}

func (n *Normalizer) check(a domain.MediaArtifact, p Profile) []violation {
	var out []violation
	if a.Width <= 0 || a.Height <= 0 {
		return append(out, violation{field: "resolution", detail: "missing dimensions"})
	}
	want := float64(p.Width) / float64(p.Height)
	got := float64(a.Width) / float64(a.Height)
	if dev := math.Abs(got-want) / want; dev > n.tolerance {
		out = append(out, violation{
			field:  "aspect_ratio",
			detail: fmt.Sprintf("%dx%d deviates %.0f%% from %s", a.Width, a.Height, dev*100, p.AspectRatio),
		})
	} else if a.Width != p.Width || a.Height != p.Height {
		out = append(out, violation{
			field:       "resolution",
			detail:      fmt.Sprintf("%dx%d, want %dx%d", a.Width, a.Height, p.Width, p.Height),
			correctable: true,
		})
	}
	if p.MinDuration > 0 && a.Duration < p.MinDuration {
		out = append(out, violation{field: "duration", detail: fmt.Sprintf("%s shorter than %s", a.Duration, p.MinDuration)})
	}
	if p.MaxDuration > 0 && a.Duration > p.MaxDuration {
		out = append(out, violation{field: "duration", detail: fmt.Sprintf("%s longer than %s", a.Duration, p.MaxDuration), correctable: true})
	}
	if p.MaxFileSize > 0 && a.FileSize > p.MaxFileSize {
		out = append(out, violation{field: "file_size", detail: fmt.Sprintf("%d bytes over %d", a.FileSize, p.MaxFileSize), correctable: true})
	}
	if len(p.Formats) > 0 && !slices.Contains(p.Formats, formatName(a.Format)) {
		out = append(out, violation{field: "format", detail: fmt.Sprintf("%q not accepted", a.Format), correctable: true})
	}
	return out
}

func describe(before, after domain.MediaArtifact) []string {
	var out []string
	if before.Width != after.Width || before.Height != after.Height {
		out = append(out, fmt.Sprintf("scaled %dx%d to %dx%d", before.Width, before.Height, after.Width, after.Height))
	}
	if before.Duration != after.Duration {
		out = append(out, fmt.Sprintf("trimmed %s to %s", before.Duration, after.Duration))
	}
	if before.FileSize != after.FileSize && before.Duration == after.Duration {
		out = append(out, fmt.Sprintf("re-encoded %d to %d bytes", before.FileSize, after.FileSize))
	}
	if before.Format != after.Format {
		out = append(out, fmt.Sprintf("converted %s to %s", before.Format, after.Format))
	}
	return out
}

func preferredFormat(p Profile) string {
	if len(p.Formats) == 0 {
		return ""
	}
	return p.Formats[0]
}

// formatName reduces a mime type or extension to the short container name.
func formatName(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	f = strings.TrimPrefix(f, "video/")
	f = strings.TrimPrefix(f, ".")
	switch f {
	case "quicktime":
		return "mov"
	case "", "mpeg4":
		return "mp4"
	default:
		return f
	}
}
