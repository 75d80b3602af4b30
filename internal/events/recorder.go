package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidgen/internal/budget"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Bus    *Bus
	Sinks  []Sink
	Logger *infra.Logger
	// Buffer bounds the queue in front of the sinks. When it is full, events
	// without spend are dropped from the sinks (never from the bus) with a
	// warning; spend events wait up to SpendWait for room.
	Buffer    int
	SpendWait time.Duration
	Now       func() time.Time
}

// Recorder sequences events on the bus and forwards them to the durable sinks
// from a background goroutine, so a slow or failing sink never stalls generation.
type Recorder struct {
	bus       *Bus
	sinks     []Sink
	logger    *infra.Logger
	spendWait time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewRecorder starts the sink dispatcher. Close stops it after draining.
func NewRecorder(opts RecorderOptions) *Recorder {
	bus := opts.Bus
	if bus == nil {
		bus = NewBus(0)
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	spendWait := opts.SpendWait
	if spendWait <= 0 {
		spendWait = 30 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Recorder{
		bus:       bus,
		sinks:     opts.Sinks,
		logger:    logger,
		spendWait: spendWait,
		now:       now,
		queue:     make(chan Event, buffer),
		done:      make(chan struct{}),
	}
	go r.dispatch()
	return r
}

// Bus returns the in-memory stream.
func (r *Recorder) Bus() *Bus { return r.bus }

// Record sequences e and hands it to the sinks.
func (r *Recorder) Record(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	e = r.bus.Publish(e)
	if len(r.sinks) == 0 {
		return e
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return e
	}
	select {
	case r.queue <- e:
		return e
	default:
	}
	if !carriesSpend(e) {
		r.logger.Warn().Int64("seq", e.Seq).Str("kind", string(e.Kind)).Msg("events: sink queue full, event not persisted")
		return e
	}
	// Spend history is rebuilt from the sinks on restart, so charged events
	// block the caller until the dispatcher catches up.
	timer := time.NewTimer(r.spendWait)
	defer timer.Stop()
	select {
	case r.queue <- e:
	case <-timer.C:
		r.logger.Error().Int64("seq", e.Seq).Str("kind", string(e.Kind)).Str("cost", e.Cost.String()).
			Dur("waited", r.spendWait).Msg("events: sink queue stalled, spend event not persisted")
	}
	return e
}

func carriesSpend(e Event) bool {
	return e.Cost > 0 || e.Kind == KindBudgetOverage || e.Kind == KindBudgetSnapshot
}

// Close drains pending events into the sinks and stops the dispatcher.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) dispatch() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Write(ctx, e); err != nil {
				r.logger.Error().Err(err).Int64("seq", e.Seq).Str("kind", string(e.Kind)).Msg("events: sink write failed")
			}
			cancel()
		}
	}
}

// Attempt records a terminal GenerationAttempt.
func (r *Recorder) Attempt(a domain.GenerationAttempt) {
	r.Record(Event{
		Kind:      KindAttempt,
		JobID:     a.JobID,
		Provider:  a.Provider,
		Status:    string(a.Status),
		ErrorKind: a.ErrorKind,
		Estimated: a.Estimated,
		Cost:      a.Charged,
		Payload:   marshal(a),
	})
}

// Overage records a commit above its reservation.
func (r *Recorder) Overage(o budget.Overage, provider string) {
	r.Record(Event{
		Kind:      KindBudgetOverage,
		JobID:     o.JobID,
		Provider:  provider,
		Estimated: o.Reserved,
		Payload:   marshal(o),
	})
}

// BudgetSnapshot records the current windows.
func (r *Recorder) BudgetSnapshot(jobID string, windows []domain.BudgetWindow) {
	r.Record(Event{Kind: KindBudgetSnapshot, JobID: jobID, Payload: marshal(windows)})
}

// JobResolved records the final outcome of a queued job.
func (r *Recorder) JobResolved(jobID, status string, provider string, cost domain.Money, err error) {
	r.Record(Event{
		Kind:      KindJobResolved,
		JobID:     jobID,
		Provider:  provider,
		Status:    status,
		ErrorKind: domain.ErrorKind(err),
		Payload:   marshal(map[string]any{"total_cost": cost, "error": errString(err)}),
	})
}

// WastedCharge records a paid success that was discarded after cancellation.
// The amount was already charged by the attempt event; Cost stays zero so
// spend totals are not counted twice.
func (r *Recorder) WastedCharge(jobID, provider string, amount domain.Money) {
	r.Record(Event{
		Kind:     KindWastedCharge,
		JobID:    jobID,
		Provider: provider,
		Status:   "cancelled",
		Payload:  marshal(map[string]any{"amount": amount}),
	})
}

// ChainUpdated records a chain swap.
func (r *Recorder) ChainUpdated(version uint64, enabled []string) {
	r.Record(Event{
		Kind:    KindChainUpdated,
		Payload: marshal(map[string]any{"version": version, "enabled": enabled}),
	})
}

func marshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
