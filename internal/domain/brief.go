package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Priority orders queued jobs; higher values are dispatched first. The zero
// value is PriorityNormal, matching ParsePriority("").
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// ParsePriority accepts the lower-case level names; empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidBrief, s)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Brief is the immutable content request handed over by the planning collaborator.
type Brief struct {
	Prompt          string   `json:"prompt"`
	Platform        string   `json:"platform"`
	DurationSeconds int      `json:"duration_seconds"`
	Style           string   `json:"style,omitempty"`
	Priority        Priority `json:"priority"`
	// MaxCost overrides the per-job budget ceiling when non-zero.
	MaxCost     Money  `json:"max_cost,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	// SourceImageURL turns the request into image-to-video: the prompt then
	// describes how the image should move.
	SourceImageURL string `json:"source_image_url,omitempty"`
}

// AnimatesImage reports whether the brief asks for an image to be animated.
func (b Brief) AnimatesImage() bool {
	return strings.TrimSpace(b.SourceImageURL) != ""
}

// Duration returns the requested length.
func (b Brief) Duration() time.Duration {
	return time.Duration(b.DurationSeconds) * time.Second
}

// Validate checks the fields every provider needs.
func (b Brief) Validate() error {
	if strings.TrimSpace(b.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidBrief)
	}
	if strings.TrimSpace(b.Platform) == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidBrief)
	}
	if b.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration_seconds must be positive", ErrInvalidBrief)
	}
	if b.MaxCost < 0 {
		return fmt.Errorf("%w: max_cost must not be negative", ErrInvalidBrief)
	}
	if b.Priority < PriorityLow || b.Priority > PriorityUrgent {
		return fmt.Errorf("%w: priority out of range", ErrInvalidBrief)
	}
	if b.AnimatesImage() {
		u, err := url.Parse(strings.TrimSpace(b.SourceImageURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: source_image_url must be an absolute http(s) URL", ErrInvalidBrief)
		}
	}
	return nil
}
