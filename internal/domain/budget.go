package domain

import "time"

// BudgetScope names a spending ceiling.
type BudgetScope string

const (
	ScopePerJob  BudgetScope = "per_job"
	ScopeDaily   BudgetScope = "daily"
	ScopeMonthly BudgetScope = "monthly"
)

// AllScopes is the set every generation attempt is checked against.
var AllScopes = []BudgetScope{ScopePerJob, ScopeDaily, ScopeMonthly}

// BudgetWindow is a point-in-time copy of one ledger window.
type BudgetWindow struct {
	Scope       BudgetScope `json:"scope"`
	Key         string      `json:"key,omitempty"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end,omitempty"`
	Limit       Money       `json:"limit"`
	Spent       Money       `json:"spent"`
	Reserved    Money       `json:"reserved"`
}

// Headroom is what can still be reserved.
func (w BudgetWindow) Headroom() Money {
	h := w.Limit - w.Spent - w.Reserved
	if h < 0 {
		return 0
	}
	return h
}
