package events

import (
	"context"
	"encoding/json"
	"time"

	"vidgen/internal/domain"
)

// Kind classifies entries of the outbound event stream.
type Kind string

const (
	KindAttempt        Kind = "attempt"
	KindBudgetSnapshot Kind = "budget_snapshot"
	KindBudgetOverage  Kind = "budget_overage"
	KindJobResolved    Kind = "job_resolved"
	KindWastedCharge   Kind = "wasted_charge"
	KindChainUpdated   Kind = "chain_updated"
)

// Event is one append-only record. Cost is the amount actually charged, if any.
type Event struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	JobID     string          `json:"job_id,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Status    string          `json:"status,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Estimated domain.Money    `json:"estimated"`
	Cost      domain.Money    `json:"cost"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Sink receives every recorded event after it has been sequenced.
type Sink interface {
	Write(ctx context.Context, e Event) error
}
