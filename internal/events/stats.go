package events

import (
	"context"
	"sort"
	"time"

	"vidgen/internal/domain"
)

// ProviderStats summarizes one provider's attempts.
type ProviderStats struct {
	Provider    string       `json:"provider"`
	Attempts    int64        `json:"attempts"`
	Succeeded   int64        `json:"succeeded"`
	Failed      int64        `json:"failed"`
	TimedOut    int64        `json:"timed_out"`
	Skipped     int64        `json:"skipped"`
	TotalCost   domain.Money `json:"total_cost"`
	SuccessRate float64      `json:"success_rate"`
}

// History is implemented by durable sinks that can answer questions about
// everything ever recorded, not just what the bus still holds.
type History interface {
	ProviderStats(ctx context.Context) ([]ProviderStats, error)
	SpendSince(ctx context.Context, since time.Time) (domain.Money, error)
}

// Summarize aggregates attempt events per provider. Skipped entries are
// counted separately and never as attempts.
func Summarize(evts []Event) []ProviderStats {
	byProvider := make(map[string]*ProviderStats)
	for _, e := range evts {
		if e.Kind != KindAttempt || e.Provider == "" {
			continue
		}
		st, ok := byProvider[e.Provider]
		if !ok {
			st = &ProviderStats{Provider: e.Provider}
			byProvider[e.Provider] = st
		}
		st.TotalCost += e.Cost
		switch domain.AttemptStatus(e.Status) {
		case domain.AttemptSkipped:
			st.Skipped++
			continue
		case domain.AttemptSucceeded:
			st.Succeeded++
		case domain.AttemptFailed:
			st.Failed++
		case domain.AttemptTimedOut:
			st.TimedOut++
		}
		st.Attempts++
	}
	out := make([]ProviderStats, 0, len(byProvider))
	for _, st := range byProvider {
		out = append(out, finalize(*st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func finalize(st ProviderStats) ProviderStats {
	if st.Attempts > 0 {
		st.SuccessRate = float64(st.Succeeded) / float64(st.Attempts)
	}
	return st
}
