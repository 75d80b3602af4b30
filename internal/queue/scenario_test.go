package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"vidgen/internal/backoff"
	"vidgen/internal/budget"
	"vidgen/internal/chain"
	"vidgen/internal/domain"
	"vidgen/internal/orchestrator"
	"vidgen/internal/providers/video"
	"vidgen/internal/ratelimit"
)

// flakyProvider never finishes its first remote job and completes every later one.
type flakyProvider struct {
	mu      sync.Mutex
	submits int
}

func (p *flakyProvider) ID() string                             { return "only" }
func (p *flakyProvider) EstimateCost(domain.Brief) domain.Money { return domain.MustMoney("0.40") }
func (p *flakyProvider) RateLimitState() ratelimit.State        { return ratelimit.State{Remaining: -1} }

func (p *flakyProvider) Submit(context.Context, domain.Brief) (video.JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	return video.JobHandle{Provider: "only", RemoteID: string(rune('0' + p.submits)), Width: 1080, Height: 1920, Duration: 5}, nil
}

func (p *flakyProvider) Poll(_ context.Context, h video.JobHandle) (video.PollResult, error) {
	if h.RemoteID == "1" {
		return video.PollResult{Status: video.PollPending}, nil
	}
	return video.PollResult{
		Status:   video.PollSucceeded,
		Artifact: &video.ArtifactRef{URL: "https://remote/video.mp4", Format: "mp4", Width: 1080, Height: 1920, Duration: 5 * time.Second},
		Cost:     domain.MustMoney("0.40"),
	}, nil
}

func TestRetriedTimeoutChargesOnce(t *testing.T) {
	provider := &flakyProvider{}
	descs := []chain.Descriptor{{ID: "only", Enabled: true, Priority: 1, Timeout: 30 * time.Millisecond}}
	c, err := chain.New(context.Background(), descs, func(context.Context, chain.Descriptor) (video.Provider, error) {
		return provider, nil
	}, chain.Options{})
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	ledger := budget.NewLedger(budget.Options{Limits: budget.Limits{
		PerJob:  domain.MustMoney("2.00"),
		Daily:   domain.MustMoney("10.00"),
		Monthly: domain.MustMoney("100.00"),
	}})
	orch, err := orchestrator.New(orchestrator.Options{
		Chain:      c,
		Budget:     ledger,
		PollPolicy: backoff.Policy{Base: time.Millisecond, Multiplier: 1, Max: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	q := New(orch, Options{Workers: 1, Backoff: backoff.Policy{Base: 20 * time.Millisecond, Multiplier: 2}})

	job, err := q.Submit(domain.Brief{Prompt: "sunrise", Platform: "tiktok", DurationSeconds: 5, Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	start(t, q)
	got := wait(t, q, job.ID)

	if got.Status != domain.JobStatusSucceeded || got.Attempts != 2 {
		t.Fatalf("job = %+v", got)
	}
	if got.History[0].Status != domain.AttemptTimedOut || got.History[0].Charged != 0 {
		t.Fatalf("first attempt = %+v", got.History[0])
	}
	if got.TotalCost != domain.MustMoney("0.40") {
		t.Fatalf("TotalCost = %s, want 0.40", got.TotalCost)
	}
	w, _ := ledger.Window(domain.ScopeDaily, "")
	if w.Spent != domain.MustMoney("0.40") || w.Reserved != 0 {
		t.Fatalf("daily = %+v, want a single 0.40 charge", w)
	}
	if _, open := ledger.Window(domain.ScopePerJob, job.ID); open {
		t.Fatalf("job window should be closed after resolution")
	}
}
