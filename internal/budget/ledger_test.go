package budget

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"vidgen/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func money(s string) domain.Money { return domain.MustMoney(s) }

func newTestLedger(clock *fakeClock, overages *[]Overage) *Ledger {
	var mu sync.Mutex
	return NewLedger(Options{
		Limits: Limits{
			PerJob:    money("2.00"),
			Daily:     money("10.00"),
			Monthly:   money("200.00"),
			Tolerance: money("0.10"),
		},
		Now: clock.Now,
		OnOverage: func(o Overage) {
			if overages == nil {
				return
			}
			mu.Lock()
			*overages = append(*overages, o)
			mu.Unlock()
		},
	})
}

func spent(t *testing.T, l *Ledger, scope domain.BudgetScope, job string) domain.Money {
	t.Helper()
	w, ok := l.Window(scope, job)
	if !ok {
		t.Fatalf("window %s/%s missing", scope, job)
	}
	return w.Spent
}

func TestPreauthorizeIsAllOrNothing(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock, nil)
	l.Restore(money("9.70"), money("9.70"))

	_, err := l.Preauthorize(Request{JobID: "job-1", Amount: money("0.50")})
	var denied *DeniedError
	if !errors.As(err, &denied) || !errors.Is(err, domain.ErrBudgetDenied) {
		t.Fatalf("err = %v, want budget denied", err)
	}
	if denied.Scope != domain.ScopeDaily || denied.Headroom != money("0.30") {
		t.Fatalf("denied = %+v", denied)
	}
	job, _ := l.Window(domain.ScopePerJob, "job-1")
	if job.Reserved != 0 {
		t.Fatalf("per-job window reserved %s after denial", job.Reserved)
	}
	monthly, _ := l.Window(domain.ScopeMonthly, "")
	if monthly.Reserved != 0 {
		t.Fatalf("monthly reserved %s after denial", monthly.Reserved)
	}

	res, err := l.Preauthorize(Request{JobID: "job-1", Amount: money("0.30")})
	if err != nil {
		t.Fatalf("exact headroom should pass: %v", err)
	}
	daily, _ := l.Window(domain.ScopeDaily, "")
	if daily.Headroom() != 0 || daily.Reserved != money("0.30") {
		t.Fatalf("daily = %+v", daily)
	}
	if err := l.Release(res.Token); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(res.Token); !errors.Is(err, ErrUnknownReservation) {
		t.Fatalf("second release err = %v", err)
	}
	if _, err := l.Commit(res.Token, money("0.30")); !errors.Is(err, ErrUnknownReservation) {
		t.Fatalf("commit after release err = %v", err)
	}
	if got := spent(t, l, domain.ScopeDaily, ""); got != money("9.70") {
		t.Fatalf("daily spent = %s, want 9.70", got)
	}
}

func TestCommitRecordsOverageWithinTolerance(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	var overages []Overage
	l := newTestLedger(clock, &overages)
	l.Restore(money("5.00"), money("5.00"))

	res, err := l.Preauthorize(Request{JobID: "job-2", Amount: money("0.50")})
	if err != nil {
		t.Fatalf("Preauthorize: %v", err)
	}
	got, err := l.Commit(res.Token, money("0.55"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got.Charged != money("0.55") || got.Overage != money("0.05") || got.Uncharged != 0 {
		t.Fatalf("result = %+v", got)
	}
	if s := spent(t, l, domain.ScopeDaily, ""); s != money("5.55") {
		t.Fatalf("daily spent = %s, want 5.55", s)
	}
	if s := spent(t, l, domain.ScopePerJob, "job-2"); s != money("0.55") {
		t.Fatalf("job spent = %s, want 0.55", s)
	}
	if len(overages) != 1 || overages[0].Overage != money("0.05") || overages[0].JobID != "job-2" {
		t.Fatalf("overages = %+v", overages)
	}
}

func TestCommitCapsAtReservationPlusTolerance(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock, nil)
	res, err := l.Preauthorize(Request{JobID: "job-3", Amount: money("0.50")})
	if err != nil {
		t.Fatalf("Preauthorize: %v", err)
	}
	got, err := l.Commit(res.Token, money("2.00"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got.Charged != money("0.60") || got.Overage != money("1.50") || got.Uncharged != money("1.40") {
		t.Fatalf("result = %+v", got)
	}
}

func TestCommitNeverPushesWindowPastLimitPlusTolerance(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock, nil)
	l.Restore(money("9.95"), 0)

	res, err := l.Preauthorize(Request{JobID: "job-4", Scopes: []domain.BudgetScope{domain.ScopeDaily}, Amount: money("0.05")})
	if err != nil {
		t.Fatalf("Preauthorize: %v", err)
	}
	got, err := l.Commit(res.Token, money("0.40"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got.Charged != money("0.15") {
		t.Fatalf("Charged = %s, want 0.15", got.Charged)
	}
	if s := spent(t, l, domain.ScopeDaily, ""); s != money("10.10") {
		t.Fatalf("daily spent = %s, want 10.10", s)
	}
}

func TestJobLimitOverrideAndClose(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock, nil)

	if _, err := l.Preauthorize(Request{JobID: "big", Amount: money("3.00")}); !errors.Is(err, domain.ErrBudgetDenied) {
		t.Fatalf("default per-job limit should deny 3.00, got %v", err)
	}
	l.CloseJob("big")
	res, err := l.Preauthorize(Request{JobID: "big", Amount: money("3.00"), JobLimit: money("5.00")})
	if err != nil {
		t.Fatalf("override should allow 3.00: %v", err)
	}
	l.CloseJob("big")
	if _, ok := l.Window(domain.ScopePerJob, "big"); !ok {
		t.Fatalf("window with outstanding reservation must survive CloseJob")
	}
	if _, err := l.Commit(res.Token, money("3.00")); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	l.CloseJob("big")
	if _, ok := l.Window(domain.ScopePerJob, "big"); ok {
		t.Fatalf("window should be gone after CloseJob")
	}
}

func TestLazyRollover(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock, nil)
	res, err := l.Preauthorize(Request{JobID: "j", Amount: money("1.00")})
	if err != nil {
		t.Fatalf("Preauthorize: %v", err)
	}
	if _, err := l.Commit(res.Token, money("1.00")); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	clock.Advance(2 * time.Hour) // 2026-11-01 01:00
	daily, _ := l.Window(domain.ScopeDaily, "")
	if daily.Spent != 0 || daily.Key != "2026-11-01" {
		t.Fatalf("daily after rollover = %+v", daily)
	}
	monthly, _ := l.Window(domain.ScopeMonthly, "")
	if monthly.Spent != 0 || monthly.Key != "2026-11" {
		t.Fatalf("monthly after rollover = %+v", monthly)
	}
	if !monthly.PeriodEnd.Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("monthly end = %v", monthly.PeriodEnd)
	}

	clock.Advance(time.Hour)
	daily, _ = l.Window(domain.ScopeDaily, "")
	if daily.Key != "2026-11-01" {
		t.Fatalf("unexpected second rollover: %+v", daily)
	}
}

func TestRolloverHonorsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	clock := &fakeClock{t: time.Date(2026, 10, 18, 16, 30, 0, 0, time.UTC)} // 23:30 local
	l := NewLedger(Options{Limits: Limits{Daily: money("10"), Monthly: money("100"), Location: loc}, Now: clock.Now})
	daily, _ := l.Window(domain.ScopeDaily, "")
	if daily.Key != "2026-10-18" {
		t.Fatalf("key = %s", daily.Key)
	}
	clock.Advance(time.Hour)
	daily, _ = l.Window(domain.ScopeDaily, "")
	if daily.Key != "2026-10-19" {
		t.Fatalf("key after local midnight = %s", daily.Key)
	}
}

func TestConcurrentCommitsStayWithinLimitPlusTolerance(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock, nil)
	limit := money("10.00")
	tol := l.Tolerance()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(i), 7))
			for j := 0; j < 20; j++ {
				amount := domain.Money(r.Int64N(int64(money("0.50"))))
				res, err := l.Preauthorize(Request{JobID: "shared", Scopes: []domain.BudgetScope{domain.ScopeDaily, domain.ScopeMonthly}, Amount: amount})
				if err != nil {
					continue
				}
				if r.IntN(3) == 0 {
					_ = l.Release(res.Token)
					continue
				}
				actual := amount + domain.Money(r.Int64N(int64(money("0.30"))))
				if _, err := l.Commit(res.Token, actual); err != nil {
					t.Errorf("Commit: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	for _, w := range l.Snapshot() {
		if w.Scope == domain.ScopeDaily && w.Spent > limit+tol {
			t.Fatalf("daily spent %s exceeds %s", w.Spent, limit+tol)
		}
		if w.Reserved != 0 {
			t.Fatalf("%s still has %s reserved", w.Scope, w.Reserved)
		}
	}
}
