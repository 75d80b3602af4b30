package video

import (
	"fmt"
	"strconv"
	"strings"
)

// New builds the provider implementation selected by s.Kind. options carries
// the free-form per-provider settings from the engine file.
func New(s Settings, options map[string]string) (Provider, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("video: provider id is required")
	}
	switch s.Kind {
	case KindKling:
		return NewKling(s)
	case KindPika:
		return NewPika(s)
	case KindRunway:
		return NewRunway(s)
	case KindHeyGen:
		return NewHeyGen(s, HeyGenOptions{
			AvatarID: options["avatar_id"],
			VoiceID:  options["voice_id"],
		})
	case KindSynthetic:
		return NewSynthetic(s, SyntheticOptions{
			PendingPolls:    atoi(options["pending_polls"]),
			Fail:            options["fail"],
			CostPercent:     int64(atoi(options["cost_percent"])),
			Width:           atoi(options["width"]),
			Height:          atoi(options["height"]),
			DurationSeconds: atoi(options["duration_seconds"]),
		}), nil
	default:
		return nil, fmt.Errorf("video: unknown provider kind %q", s.Kind)
	}
}

// ParseKind validates a kind name from configuration.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindKling, KindPika, KindRunway, KindHeyGen, KindSynthetic:
		return k, nil
	default:
		return "", fmt.Errorf("video: unknown provider kind %q", s)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}
