package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vidgen/internal/backoff"
	"vidgen/internal/budget"
	"vidgen/internal/chain"
	"vidgen/internal/domain"
	"vidgen/internal/providers/video"
	"vidgen/internal/ratelimit"
	"vidgen/internal/storage"
)

type stubProvider struct {
	id        string
	estimate  domain.Money
	actual    domain.Money
	submitErr error
	pollErrs  []error
	pending   int
	forever   bool
	fail      string
	ref       video.ArtifactRef
	exhausted bool

	mu      sync.Mutex
	submits int
	polls   int
}

func (s *stubProvider) ID() string                             { return s.id }
func (s *stubProvider) EstimateCost(domain.Brief) domain.Money { return s.estimate }

func (s *stubProvider) RateLimitState() ratelimit.State {
	if s.exhausted {
		return ratelimit.State{Limit: 1, Remaining: 0, ResetAt: time.Now().Add(time.Minute)}
	}
	return ratelimit.State{Limit: 0, Remaining: -1}
}

func (s *stubProvider) Submit(context.Context, domain.Brief) (video.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.submitErr != nil {
		return video.JobHandle{}, s.submitErr
	}
	return video.JobHandle{Provider: s.id, RemoteID: s.id + "-remote", Estimate: s.estimate, Width: 1080, Height: 1920, Duration: 5}, nil
}

func (s *stubProvider) Poll(context.Context, video.JobHandle) (video.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if len(s.pollErrs) > 0 {
		err := s.pollErrs[0]
		s.pollErrs = s.pollErrs[1:]
		return video.PollResult{}, err
	}
	if s.forever || s.polls <= s.pending {
		return video.PollResult{Status: video.PollPending}, nil
	}
	if s.fail != "" {
		return video.PollResult{Status: video.PollFailed, Reason: s.fail}, nil
	}
	ref := s.ref
	return video.PollResult{Status: video.PollSucceeded, Artifact: &ref, Cost: s.actual}, nil
}

func (s *stubProvider) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

type recorded struct {
	mu        sync.Mutex
	attempts  []domain.GenerationAttempt
	overages  []budget.Overage
	snapshots int
}

func (r *recorded) Attempt(a domain.GenerationAttempt) {
	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()
}

func (r *recorded) Overage(o budget.Overage, _ string) {
	r.mu.Lock()
	r.overages = append(r.overages, o)
	r.mu.Unlock()
}

func (r *recorded) BudgetSnapshot(string, []domain.BudgetWindow) {
	r.mu.Lock()
	r.snapshots++
	r.mu.Unlock()
}

func goodRef() video.ArtifactRef {
	return video.ArtifactRef{Data: []byte("mp4-bytes"), Format: "mp4", Width: 1080, Height: 1920, Duration: 5 * time.Second}
}

type harness struct {
	orch   *Orchestrator
	ledger *budget.Ledger
	events *recorded
}

func newHarness(t *testing.T, spentToday domain.Money, providers ...*stubProvider) harness {
	t.Helper()
	byID := make(map[string]*stubProvider, len(providers))
	descs := make([]chain.Descriptor, 0, len(providers))
	for i, p := range providers {
		byID[p.id] = p
		descs = append(descs, chain.Descriptor{ID: p.id, Enabled: true, Priority: i + 1, Timeout: 200 * time.Millisecond})
	}
	build := func(_ context.Context, d chain.Descriptor) (video.Provider, error) {
		return byID[d.ID], nil
	}
	c, err := chain.New(context.Background(), descs, build, chain.Options{})
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	ledger := budget.NewLedger(budget.Options{Limits: budget.Limits{
		PerJob:    domain.MustMoney("2.00"),
		Daily:     domain.MustMoney("10.00"),
		Monthly:   domain.MustMoney("200.00"),
		Tolerance: domain.MustMoney("0.10"),
	}})
	ledger.Restore(spentToday, spentToday)
	store, err := storage.NewFileStore(t.TempDir(), "http://cdn.test/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	events := &recorded{}
	orch, err := New(Options{
		Chain:      c,
		Budget:     ledger,
		Store:      store,
		Events:     events,
		PollPolicy: backoff.Policy{Base: time.Millisecond, Multiplier: 1, Max: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return harness{orch: orch, ledger: ledger, events: events}
}

func brief() domain.Brief {
	return domain.Brief{Prompt: "a cat surfing", Platform: "instagram", DurationSeconds: 5}
}

func daily(t *testing.T, l *budget.Ledger) domain.BudgetWindow {
	t.Helper()
	w, ok := l.Window(domain.ScopeDaily, "")
	if !ok {
		t.Fatalf("daily window missing")
	}
	return w
}

func TestGenerateAllSkippedWhenBudgetExhausted(t *testing.T) {
	m := domain.MustMoney
	p1 := &stubProvider{id: "p1", submitErr: domain.NewProviderError("p1", domain.ErrRateLimited, "429")}
	p2 := &stubProvider{id: "p2", estimate: m("0.50"), actual: m("0.50"), ref: goodRef()}
	p3 := &stubProvider{id: "p3", estimate: m("1.50"), actual: m("1.50"), ref: goodRef()}
	h := newHarness(t, m("9.70"), p1, p2, p3)

	_, err := h.orch.Generate(context.Background(), "job-1", brief())
	var tf *domain.TerminalFailure
	if !errors.As(err, &tf) || !errors.Is(err, domain.ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want TerminalFailure", err)
	}
	if len(tf.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(tf.Attempts))
	}
	wantKinds := []string{"rate_limited", "budget_denied", "budget_denied"}
	wantStatus := []domain.AttemptStatus{domain.AttemptFailed, domain.AttemptSkipped, domain.AttemptSkipped}
	for i, a := range tf.Attempts {
		if a.ErrorKind != wantKinds[i] || a.Status != wantStatus[i] || a.Charged != 0 {
			t.Fatalf("attempt %d = %+v", i, a)
		}
	}
	if p2.submitCount() != 0 || p3.submitCount() != 0 {
		t.Fatalf("budget-denied providers must not be called")
	}
	w := daily(t, h.ledger)
	if w.Spent != m("9.70") || w.Reserved != 0 {
		t.Fatalf("daily = %+v, want spent 9.70 and nothing reserved", w)
	}
	if !tf.Transient() {
		t.Fatalf("rate limited failure should be transient")
	}
}

func TestGenerateFailsOverAndRecordsOverage(t *testing.T) {
	m := domain.MustMoney
	p1 := &stubProvider{id: "p1", submitErr: domain.NewProviderError("p1", domain.ErrRequestRejected, "duration unsupported")}
	p2 := &stubProvider{id: "p2", estimate: m("0.50"), actual: m("0.55"), pending: 2, ref: goodRef()}
	p3 := &stubProvider{id: "p3", estimate: m("1.50"), actual: m("1.50"), ref: goodRef()}
	h := newHarness(t, m("5.00"), p1, p2, p3)

	art, err := h.orch.Generate(context.Background(), "job-2", brief())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if art.Provider != "p2" || art.TotalCost != m("0.55") {
		t.Fatalf("artifact = %+v", art)
	}
	if art.URL != "http://cdn.test/static/videos/job-2/p2.mp4" || art.StorageKey == "" {
		t.Fatalf("artifact url = %q key = %q", art.URL, art.StorageKey)
	}
	if art.Profile != "instagram_reels" {
		t.Fatalf("profile = %q", art.Profile)
	}
	if w := daily(t, h.ledger); w.Spent != m("5.55") || w.Reserved != 0 {
		t.Fatalf("daily = %+v, want spent 5.55", w)
	}
	if len(h.events.overages) != 1 || h.events.overages[0].Overage != m("0.05") {
		t.Fatalf("overages = %+v", h.events.overages)
	}
	if len(h.events.attempts) != 2 || h.events.attempts[1].Status != domain.AttemptSucceeded {
		t.Fatalf("attempts = %+v", h.events.attempts)
	}
	if p3.submitCount() != 0 {
		t.Fatalf("p3 should not be tried after p2 succeeded")
	}
}

func TestGenerateTriesEachProviderOnce(t *testing.T) {
	providers := []*stubProvider{
		{id: "a", fail: "boom"},
		{id: "b", pollErrs: []error{errors.New("reset"), errors.New("reset")}, fail: "still boom"},
		{id: "c", submitErr: domain.NewProviderError("c", domain.ErrGenerationFailed, "502")},
	}
	h := newHarness(t, 0, providers...)

	_, err := h.orch.Generate(context.Background(), "job-3", brief())
	var tf *domain.TerminalFailure
	if !errors.As(err, &tf) {
		t.Fatalf("err = %v", err)
	}
	if len(tf.Attempts) != len(providers) {
		t.Fatalf("attempts = %d, want %d", len(tf.Attempts), len(providers))
	}
	for _, p := range providers {
		if n := p.submitCount(); n != 1 {
			t.Fatalf("%s submitted %d times", p.id, n)
		}
	}
	if tf.Transient() {
		t.Fatalf("generation failures are not transient")
	}
}

func TestGenerateSkipsExhaustedRateWindow(t *testing.T) {
	p := &stubProvider{id: "busy", exhausted: true}
	h := newHarness(t, 0, p)
	_, err := h.orch.Generate(context.Background(), "job-4", brief())
	var tf *domain.TerminalFailure
	if !errors.As(err, &tf) || tf.Attempts[0].Status != domain.AttemptSkipped || tf.Attempts[0].ErrorKind != "rate_limited" {
		t.Fatalf("err = %v", err)
	}
	if p.submitCount() != 0 {
		t.Fatalf("exhausted provider should not be called")
	}
}

func TestGenerateTimesOut(t *testing.T) {
	p := &stubProvider{id: "slow", estimate: domain.MustMoney("0.30"), forever: true}
	h := newHarness(t, 0, p)
	_, err := h.orch.Generate(context.Background(), "job-5", brief())
	var tf *domain.TerminalFailure
	if !errors.As(err, &tf) {
		t.Fatalf("err = %v", err)
	}
	a := tf.Attempts[0]
	if a.Status != domain.AttemptTimedOut || a.ErrorKind != "generation_timeout" {
		t.Fatalf("attempt = %+v", a)
	}
	if !tf.Transient() {
		t.Fatalf("timeout should be transient")
	}
	if w := daily(t, h.ledger); w.Reserved != 0 || w.Spent != 0 {
		t.Fatalf("reservation leaked: %+v", w)
	}
}

func TestGenerateProfileViolationKeepsCharge(t *testing.T) {
	m := domain.MustMoney
	bad := goodRef()
	bad.Width, bad.Height = 4000, 200
	p1 := &stubProvider{id: "wide", estimate: m("0.20"), actual: m("0.20"), ref: bad}
	p2 := &stubProvider{id: "ok", estimate: m("0.30"), actual: m("0.30"), ref: goodRef()}
	h := newHarness(t, 0, p1, p2)

	art, err := h.orch.Generate(context.Background(), "job-6", brief())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if art.Provider != "ok" || art.TotalCost != m("0.50") {
		t.Fatalf("artifact = %+v", art)
	}
	first := h.events.attempts[0]
	if first.Status != domain.AttemptFailed || first.ErrorKind != "profile_violation" || first.Charged != m("0.20") {
		t.Fatalf("first attempt = %+v", first)
	}
}

func TestGenerateCancelledReleasesReservation(t *testing.T) {
	p := &stubProvider{id: "slow", estimate: domain.MustMoney("0.40"), forever: true}
	h := newHarness(t, 0, p)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := h.orch.Generate(ctx, "job-7", brief())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if w := daily(t, h.ledger); w.Reserved != 0 {
		t.Fatalf("reservation leaked: %+v", w)
	}
}

func TestGenerateRejectsUnknownPlatform(t *testing.T) {
	h := newHarness(t, 0, &stubProvider{id: "p"})
	b := brief()
	b.Platform = "myspace"
	if _, err := h.orch.Generate(context.Background(), "job-8", b); !errors.Is(err, domain.ErrInvalidBrief) {
		t.Fatalf("err = %v, want ErrInvalidBrief", err)
	}
}

func TestFinalizeClosesJobWindow(t *testing.T) {
	p := &stubProvider{id: "p", estimate: domain.MustMoney("0.10"), actual: domain.MustMoney("0.10"), ref: goodRef()}
	h := newHarness(t, 0, p)
	if _, err := h.orch.Generate(context.Background(), "job-9", brief()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, ok := h.ledger.Window(domain.ScopePerJob, "job-9"); !ok {
		t.Fatalf("job window should be open")
	}
	h.orch.Finalize("job-9")
	if _, ok := h.ledger.Window(domain.ScopePerJob, "job-9"); ok {
		t.Fatalf("job window should be closed")
	}
}

func TestEstimateIsIdempotent(t *testing.T) {
	model := video.CostModel{PerUnit: domain.MustMoney("0.10"), Unit: video.PerSecond}
	p, err := video.New(video.Settings{ID: "syn", Kind: video.KindSynthetic, Cost: model}, nil)
	if err != nil {
		t.Fatalf("video.New: %v", err)
	}
	b := brief()
	if a, c := p.EstimateCost(b), p.EstimateCost(b); a != c {
		t.Fatalf("estimates differ: %s vs %s", a, c)
	}
}

func TestImageBriefSkipsProvidersWithoutImageSupport(t *testing.T) {
	descs := []chain.Descriptor{
		{ID: "avatar", Kind: video.KindSynthetic, Enabled: true, Priority: 1, Timeout: time.Second},
		{ID: "animator", Kind: video.KindSynthetic, Enabled: true, Priority: 2, Timeout: time.Second, ImageToVideo: true},
	}
	build := func(_ context.Context, d chain.Descriptor) (video.Provider, error) {
		return video.New(d.Settings(""), d.Options)
	}
	c, err := chain.New(context.Background(), descs, build, chain.Options{})
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	ledger := budget.NewLedger(budget.Options{Limits: budget.Limits{
		PerJob: domain.MustMoney("2.00"), Daily: domain.MustMoney("10.00"), Monthly: domain.MustMoney("100.00"),
	}})
	store, err := storage.NewFileStore(t.TempDir(), "http://cdn.test/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	events := &recorded{}
	orch, err := New(Options{
		Chain:      c,
		Budget:     ledger,
		Store:      store,
		Events:     events,
		PollPolicy: backoff.Policy{Base: time.Millisecond, Multiplier: 1, Max: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b := brief()
	b.SourceImageURL = "https://img.test/product.png"
	art, err := orch.Generate(context.Background(), "job-img", b)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if art.Provider != "animator" {
		t.Fatalf("provider = %q, want animator", art.Provider)
	}
	if len(events.attempts) != 2 || events.attempts[0].ErrorKind != "request_rejected" || events.attempts[0].Charged != 0 {
		t.Fatalf("attempts = %+v", events.attempts)
	}
}
