package budget

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// ErrUnknownReservation is returned when a token was never issued or is already settled.
var ErrUnknownReservation = errors.New("budget: unknown reservation")

// Limits are the ceilings of the three scopes.
type Limits struct {
	PerJob    domain.Money
	Daily     domain.Money
	Monthly   domain.Money
	Tolerance domain.Money
	Location  *time.Location
}

// Options configures a Ledger.
type Options struct {
	Limits
	Now    func() time.Time
	Logger *infra.Logger
	// OnOverage is called, outside the ledger lock, for every commit above its reservation.
	OnOverage func(Overage)
}

// Request asks for a reservation.
type Request struct {
	JobID string
	// Scopes defaults to all three.
	Scopes []domain.BudgetScope
	Amount domain.Money
	// JobLimit replaces the default per-job ceiling when the job window is first opened.
	JobLimit domain.Money
}

// Reservation is the token returned by Preauthorize.
type Reservation struct {
	Token  string               `json:"token"`
	JobID  string               `json:"job_id"`
	Amount domain.Money         `json:"amount"`
	Scopes []domain.BudgetScope `json:"scopes"`
}

// CommitResult reports how an actual cost was settled.
type CommitResult struct {
	Charged   domain.Money `json:"charged"`
	Overage   domain.Money `json:"overage"`
	Uncharged domain.Money `json:"uncharged"`
}

// Overage describes a commit whose actual cost exceeded the reservation.
type Overage struct {
	JobID     string       `json:"job_id"`
	Reserved  domain.Money `json:"reserved"`
	Actual    domain.Money `json:"actual"`
	Charged   domain.Money `json:"charged"`
	Overage   domain.Money `json:"overage"`
	Uncharged domain.Money `json:"uncharged"`
}

// DeniedError names the first scope without headroom.
type DeniedError struct {
	Scope    domain.BudgetScope
	Headroom domain.Money
	Amount   domain.Money
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%v: %s headroom %s < %s", domain.ErrBudgetDenied, e.Scope, e.Headroom, e.Amount)
}

func (e *DeniedError) Unwrap() error { return domain.ErrBudgetDenied }

type window struct {
	scope    domain.BudgetScope
	key      string
	start    time.Time
	end      time.Time
	limit    domain.Money
	spent    domain.Money
	reserved domain.Money
}

func (w *window) headroom() domain.Money {
	return w.limit - w.spent - w.reserved
}

func (w *window) view() domain.BudgetWindow {
	return domain.BudgetWindow{
		Scope:       w.scope,
		Key:         w.key,
		PeriodStart: w.start,
		PeriodEnd:   w.end,
		Limit:       w.limit,
		Spent:       w.spent,
		Reserved:    w.reserved,
	}
}

// Ledger gates spend across per-job, daily and monthly windows. Every check
// and mutation happens under one mutex.
type Ledger struct {
	mu           sync.Mutex
	limits       Limits
	daily        *window
	monthly      *window
	jobs         map[string]*window
	reservations map[string]Reservation
	now          func() time.Time
	logger       *infra.Logger
	onOverage    func(Overage)
}

// NewLedger constructs a Ledger with fresh windows for the current period.
func NewLedger(opts Options) *Ledger {
	limits := opts.Limits
	if limits.Location == nil {
		limits.Location = time.UTC
	}
	if limits.Tolerance < 0 {
		limits.Tolerance = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	l := &Ledger{
		limits:       limits,
		jobs:         make(map[string]*window),
		reservations: make(map[string]Reservation),
		now:          now,
		logger:       logger,
		onOverage:    opts.OnOverage,
	}
	t := now()
	l.daily = l.newPeriod(domain.ScopeDaily, t)
	l.monthly = l.newPeriod(domain.ScopeMonthly, t)
	return l
}

// Tolerance returns the configured overage tolerance.
func (l *Ledger) Tolerance() domain.Money {
	return l.limits.Tolerance
}

// Preauthorize reserves req.Amount in every requested scope, or in none.
func (l *Ledger) Preauthorize(req Request) (Reservation, error) {
	if req.Amount < 0 {
		return Reservation{}, fmt.Errorf("budget: negative amount %s", req.Amount)
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = domain.AllScopes
	}
	if slices.Contains(scopes, domain.ScopePerJob) && req.JobID == "" {
		return Reservation{}, fmt.Errorf("budget: per-job scope requires a job id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	windows := make([]*window, 0, len(scopes))
	for _, scope := range scopes {
		w := l.windowLocked(scope, req.JobID, req.JobLimit, true)
		if w == nil {
			return Reservation{}, fmt.Errorf("budget: unknown scope %q", scope)
		}
		if h := w.headroom(); req.Amount > h {
			return Reservation{}, &DeniedError{Scope: scope, Headroom: max(h, 0), Amount: req.Amount}
		}
		windows = append(windows, w)
	}
	for _, w := range windows {
		w.reserved += req.Amount
	}
	res := Reservation{
		Token:  uuid.NewString(),
		JobID:  req.JobID,
		Amount: req.Amount,
		Scopes: slices.Clone(scopes),
	}
	l.reservations[res.Token] = res
	return res, nil
}

// Commit converts a reservation into spend. The charge is the actual cost,
// capped at the reservation plus tolerance and at every window's limit plus
// tolerance. Anything above the reservation is reported as overage; the
// commit itself is never refused.
func (l *Ledger) Commit(token string, actual domain.Money) (CommitResult, error) {
	if actual < 0 {
		actual = 0
	}
	l.mu.Lock()
	res, ok := l.reservations[token]
	if !ok {
		l.mu.Unlock()
		return CommitResult{}, ErrUnknownReservation
	}
	delete(l.reservations, token)
	l.rollLocked()

	windows := l.reservedWindowsLocked(res)
	charged := min(actual, res.Amount+l.limits.Tolerance)
	for _, w := range windows {
		w.reserved -= res.Amount
		if w.reserved < 0 {
			w.reserved = 0
		}
		allowed := w.limit + l.limits.Tolerance - w.spent
		charged = min(charged, max(allowed, 0))
	}
	for _, w := range windows {
		w.spent += charged
	}
	result := CommitResult{Charged: charged, Uncharged: actual - charged}
	if actual > res.Amount {
		result.Overage = actual - res.Amount
	}
	l.mu.Unlock()

	if result.Overage > 0 || result.Uncharged > 0 {
		ov := Overage{
			JobID:     res.JobID,
			Reserved:  res.Amount,
			Actual:    actual,
			Charged:   charged,
			Overage:   result.Overage,
			Uncharged: result.Uncharged,
		}
		l.logger.Warn().
			Str("job_id", res.JobID).
			Str("reserved", res.Amount.String()).
			Str("actual", actual.String()).
			Str("charged", charged.String()).
			Msg("ledger: commit above reservation")
		if l.onOverage != nil {
			l.onOverage(ov)
		}
	}
	return result, nil
}

// Release returns a reservation without charging anything.
func (l *Ledger) Release(token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[token]
	if !ok {
		return ErrUnknownReservation
	}
	delete(l.reservations, token)
	l.rollLocked()
	for _, w := range l.reservedWindowsLocked(res) {
		w.reserved -= res.Amount
		if w.reserved < 0 {
			w.reserved = 0
		}
	}
	return nil
}

// CloseJob drops the per-job window once the job is resolved. A job with
// outstanding reservations keeps its window.
func (l *Ledger) CloseJob(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.jobs[jobID]
	if !ok || w.reserved > 0 {
		return
	}
	delete(l.jobs, jobID)
}

// Restore seeds the calendar windows with spend recorded before a restart.
func (l *Ledger) Restore(daily, monthly domain.Money) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.daily.spent = max(daily, 0)
	l.monthly.spent = max(monthly, 0)
}

// Snapshot returns copies of the daily, monthly and open per-job windows.
func (l *Ledger) Snapshot() []domain.BudgetWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	out := []domain.BudgetWindow{l.daily.view(), l.monthly.view()}
	jobs := make([]domain.BudgetWindow, 0, len(l.jobs))
	for _, w := range l.jobs {
		jobs = append(jobs, w.view())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Key < jobs[j].Key })
	return append(out, jobs...)
}

// Window returns one window; ok is false for an unopened job window.
func (l *Ledger) Window(scope domain.BudgetScope, jobID string) (domain.BudgetWindow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	w := l.windowLocked(scope, jobID, 0, false)
	if w == nil {
		return domain.BudgetWindow{}, false
	}
	return w.view(), true
}

func (l *Ledger) windowLocked(scope domain.BudgetScope, jobID string, jobLimit domain.Money, create bool) *window {
	switch scope {
	case domain.ScopeDaily:
		return l.daily
	case domain.ScopeMonthly:
		return l.monthly
	case domain.ScopePerJob:
		if w, ok := l.jobs[jobID]; ok {
			return w
		}
		if !create {
			return nil
		}
		limit := l.limits.PerJob
		if jobLimit > 0 {
			limit = jobLimit
		}
		w := &window{scope: domain.ScopePerJob, key: jobID, start: l.now(), limit: limit}
		l.jobs[jobID] = w
		return w
	default:
		return nil
	}
}

func (l *Ledger) reservedWindowsLocked(res Reservation) []*window {
	out := make([]*window, 0, len(res.Scopes))
	for _, scope := range res.Scopes {
		if w := l.windowLocked(scope, res.JobID, 0, false); w != nil {
			out = append(out, w)
		}
	}
	return out
}

// rollLocked starts a new period for any calendar window whose end has passed.
// Outstanding reservations carry over into the new period.
func (l *Ledger) rollLocked() {
	t := l.now()
	for _, w := range []*window{l.daily, l.monthly} {
		if t.Before(w.end) {
			continue
		}
		fresh := l.newPeriod(w.scope, t)
		fresh.reserved = w.reserved
		l.logger.Info().
			Str("scope", string(w.scope)).
			Str("period", w.key).
			Str("spent", w.spent.String()).
			Msg("ledger: window rolled over")
		*w = *fresh
	}
}

func (l *Ledger) newPeriod(scope domain.BudgetScope, t time.Time) *window {
	local := t.In(l.limits.Location)
	y, m, d := local.Date()
	switch scope {
	case domain.ScopeMonthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, l.limits.Location)
		return &window{scope: scope, key: start.Format("2006-01"), start: start, end: start.AddDate(0, 1, 0), limit: l.limits.Monthly}
	default:
		start := time.Date(y, m, d, 0, 0, 0, 0, l.limits.Location)
		return &window{scope: scope, key: start.Format("2006-01-02"), start: start, end: start.AddDate(0, 0, 1), limit: l.limits.Daily}
	}
}
