package video

import (
	"fmt"
	"strings"

	"vidgen/internal/domain"
)

// CostUnit is what CostPerUnit is charged against.
type CostUnit string

const (
	PerVideo  CostUnit = "video"
	PerSecond CostUnit = "second"
	PerMinute CostUnit = "minute"
)

// ParseCostUnit accepts the unit names used in the engine file.
func ParseCostUnit(s string) (CostUnit, error) {
	switch CostUnit(strings.ToLower(strings.TrimSpace(s))) {
	case "", PerVideo:
		return PerVideo, nil
	case PerSecond:
		return PerSecond, nil
	case PerMinute:
		return PerMinute, nil
	default:
		return "", fmt.Errorf("unknown cost unit %q", s)
	}
}

// CostModel prices a brief without side effects.
type CostModel struct {
	PerUnit domain.Money
	Unit    CostUnit
}

// Estimate prices the brief's requested duration and resolution.
func (m CostModel) Estimate(brief domain.Brief) domain.Money {
	return m.forDuration(brief.DurationSeconds, brief.Resolution)
}

func (m CostModel) forDuration(seconds int, resolution string) domain.Money {
	if seconds < 0 {
		seconds = 0
	}
	var base domain.Money
	switch m.Unit {
	case PerSecond:
		base = m.PerUnit * domain.Money(seconds)
	case PerMinute:
		base = m.PerUnit.MulDiv(int64(seconds), 60)
	default:
		base = m.PerUnit
	}
	return base.MulDiv(resolutionPercent(resolution), 100)
}

// resolutionPercent scales prices relative to 1080p.
func resolutionPercent(resolution string) int64 {
	switch strings.ToLower(strings.TrimSpace(resolution)) {
	case "480p", "720p":
		return 75
	case "1440p", "2k":
		return 150
	case "2160p", "4k":
		return 200
	default:
		return 100
	}
}
