// Package orchestrator walks the provider chain for one brief: reserve budget,
// submit, poll, reconcile the charge and normalize the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/backoff"
	"vidgen/internal/budget"
	"vidgen/internal/chain"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/normalize"
	"vidgen/internal/providers/video"
	"vidgen/internal/storage"
)

// Budget is the subset of the ledger used per attempt.
type Budget interface {
	Preauthorize(req budget.Request) (budget.Reservation, error)
	Commit(token string, actual domain.Money) (budget.CommitResult, error)
	Release(token string) error
	CloseJob(jobID string)
	Snapshot() []domain.BudgetWindow
}

// Chain yields the provider snapshot for a call.
type Chain interface {
	Snapshot() *chain.Snapshot
}

// Normalizer checks artifacts against platform profiles.
type Normalizer interface {
	Profile(platform string) (normalize.Profile, error)
	Normalize(ctx context.Context, a domain.MediaArtifact, platform string) (domain.MediaArtifact, error)
}

// ArtifactStore persists bytes returned inline by a provider.
type ArtifactStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	URL(key string) string
}

// Events receives the audit trail of every attempt.
type Events interface {
	Attempt(a domain.GenerationAttempt)
	Overage(o budget.Overage, provider string)
	BudgetSnapshot(jobID string, windows []domain.BudgetWindow)
}

// DefaultPollPolicy spaces status checks from 2s up to 30s.
func DefaultPollPolicy() backoff.Policy {
	return backoff.Policy{Base: 2 * time.Second, Multiplier: 1.5, Max: 30 * time.Second}
}

// Options wires an Orchestrator.
type Options struct {
	Chain      Chain
	Budget     Budget
	Normalizer Normalizer
	Store      ArtifactStore
	Events     Events
	// PollPolicy spaces poll calls; the zero value uses DefaultPollPolicy.
	PollPolicy backoff.Policy
	Logger     *infra.Logger
	Now        func() time.Time
}

// Orchestrator runs generate calls. It is safe for concurrent use; all shared
// state lives in the ledger and the providers.
type Orchestrator struct {
	chain      Chain
	budget     Budget
	normalizer Normalizer
	store      ArtifactStore
	events     Events
	poll       backoff.Policy
	logger     *infra.Logger
	now        func() time.Time
}

// New validates opts and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Chain == nil {
		return nil, errors.New("orchestrator: chain is required")
	}
	if opts.Budget == nil {
		return nil, errors.New("orchestrator: budget is required")
	}
	norm := opts.Normalizer
	if norm == nil {
		norm = normalize.New(normalize.Options{Logger: opts.Logger})
	}
	poll := opts.PollPolicy
	if poll.Base <= 0 {
		poll = DefaultPollPolicy()
	}
	poll.Jitter = 0
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		chain:      opts.Chain,
		budget:     opts.Budget,
		normalizer: norm,
		store:      opts.Store,
		events:     opts.Events,
		poll:       poll,
		logger:     logger,
		now:        now,
	}, nil
}

// Generate tries each enabled provider of one chain snapshot at most once and
// returns the first artifact that passes its platform profile. When none does
// the error is a *domain.TerminalFailure listing every attempt. Cancelling ctx
// stops the walk and returns ctx.Err().
func (o *Orchestrator) Generate(ctx context.Context, jobID string, brief domain.Brief) (domain.MediaArtifact, error) {
	if err := brief.Validate(); err != nil {
		return domain.MediaArtifact{}, err
	}
	profile, err := o.normalizer.Profile(brief.Platform)
	if err != nil {
		return domain.MediaArtifact{}, err
	}
	if brief.AspectRatio == "" {
		brief.AspectRatio = profile.AspectRatio
	}
	if brief.Resolution == "" {
		brief.Resolution = profile.Resolution()
	}

	snap := o.chain.Snapshot()
	entries := snap.Enabled()
	log := o.logger.With().Str("job_id", jobID).Str("platform", profile.Name).Logger()
	if snap != nil {
		log = log.With().Uint64("chain_version", snap.Version).Logger()
	}

	var (
		attempts []domain.GenerationAttempt
		spent    domain.Money
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return domain.MediaArtifact{}, err
		}
		artifact, attempt, err := o.try(ctx, jobID, brief, e, &log)
		attempts = append(attempts, attempt)
		spent += attempt.Charged
		o.record(attempt)
		if err != nil {
			return domain.MediaArtifact{}, err
		}
		if attempt.Status == domain.AttemptSucceeded {
			artifact.TotalCost = spent
			log.Info().
				Str("provider", e.ID).
				Str("charged", attempt.Charged.String()).
				Str("total_cost", spent.String()).
				Int("attempts", len(attempts)).
				Msg("orchestrator: artifact ready")
			return artifact, nil
		}
	}

	log.Warn().Int("attempts", len(attempts)).Str("total_cost", spent.String()).Msg("orchestrator: all providers exhausted")
	return domain.MediaArtifact{}, &domain.TerminalFailure{Attempts: attempts}
}

// Finalize drops the job's budget window once no further generate call will run.
func (o *Orchestrator) Finalize(jobID string) {
	o.budget.CloseJob(jobID)
}

// try runs a single provider. A non-nil error is returned only when ctx was
// cancelled; every other outcome is reported through the attempt.
func (o *Orchestrator) try(ctx context.Context, jobID string, brief domain.Brief, e chain.Entry, log *zerolog.Logger) (domain.MediaArtifact, domain.GenerationAttempt, error) {
	p := e.Provider
	attempt := domain.GenerationAttempt{JobID: jobID, Provider: e.ID, Status: domain.AttemptPending}

	if st := p.RateLimitState(); st.Exhausted() {
		err := domain.NewProviderError(e.ID, domain.ErrRateLimited, "local window exhausted until %s", st.ResetAt.Format(time.RFC3339))
		log.Debug().Str("provider", e.ID).Msg("orchestrator: skip rate limited provider")
		return domain.MediaArtifact{}, attempt.Fail(domain.AttemptSkipped, err, o.now()), nil
	}

	attempt.Estimated = p.EstimateCost(brief)
	res, err := o.budget.Preauthorize(budget.Request{JobID: jobID, Amount: attempt.Estimated, JobLimit: brief.MaxCost})
	if err != nil {
		status := domain.AttemptFailed
		if errors.Is(err, domain.ErrBudgetDenied) {
			status = domain.AttemptSkipped
		}
		log.Info().Err(err).Str("provider", e.ID).Str("estimate", attempt.Estimated.String()).Msg("orchestrator: budget denied")
		return domain.MediaArtifact{}, attempt.Fail(status, err, o.now()), nil
	}
	release := func() {
		if err := o.budget.Release(res.Token); err != nil {
			log.Error().Err(err).Str("provider", e.ID).Msg("orchestrator: release reservation")
		}
	}

	attempt.SubmittedAt = o.now()
	handle, err := p.Submit(ctx, brief)
	if err != nil {
		release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, ctxErr, o.now()), ctxErr
		}
		log.Info().Err(err).Str("provider", e.ID).Msg("orchestrator: submit failed")
		return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, err, o.now()), nil
	}
	attempt.ProviderJobID = handle.RemoteID

	result, err := o.await(ctx, e, handle)
	if err != nil {
		release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, ctxErr, o.now()), ctxErr
		}
		status := domain.AttemptFailed
		if errors.Is(err, domain.ErrGenerationTimeout) {
			status = domain.AttemptTimedOut
		}
		log.Warn().Err(err).Str("provider", e.ID).Str("remote_id", handle.RemoteID).Msg("orchestrator: poll ended without result")
		return domain.MediaArtifact{}, attempt.Fail(status, err, o.now()), nil
	}
	if result.Status == video.PollFailed {
		release()
		err := domain.NewProviderError(e.ID, domain.ErrGenerationFailed, "%s", result.Reason)
		log.Warn().Str("provider", e.ID).Str("reason", result.Reason).Msg("orchestrator: provider reported failure")
		return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, err, o.now()), nil
	}

	// The provider has billed us from here on, whatever happens to the output.
	commit, err := o.budget.Commit(res.Token, result.Cost)
	if err != nil {
		log.Error().Err(err).Str("provider", e.ID).Msg("orchestrator: commit failed")
		return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, err, o.now()), nil
	}
	attempt.Charged = commit.Charged
	if commit.Overage > 0 || commit.Uncharged > 0 {
		o.overage(budget.Overage{
			JobID:     jobID,
			Reserved:  res.Amount,
			Actual:    result.Cost,
			Charged:   commit.Charged,
			Overage:   commit.Overage,
			Uncharged: commit.Uncharged,
		}, e.ID)
	}
	if o.events != nil {
		o.events.BudgetSnapshot(jobID, o.budget.Snapshot())
	}

	if result.Artifact == nil {
		err := domain.NewProviderError(e.ID, domain.ErrGenerationFailed, "succeeded without an artifact")
		return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, err, o.now()), nil
	}
	candidate := toArtifact(e.ID, handle, *result.Artifact)
	normalized, err := o.normalizer.Normalize(ctx, candidate, brief.Platform)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, ctxErr, o.now()), ctxErr
		}
		log.Warn().Err(err).Str("provider", e.ID).Msg("orchestrator: artifact rejected by profile")
		return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, err, o.now()), nil
	}
	if err := o.persist(ctx, jobID, &normalized); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, ctxErr, o.now()), ctxErr
		}
		log.Error().Err(err).Str("provider", e.ID).Msg("orchestrator: persist artifact")
		return domain.MediaArtifact{}, attempt.Fail(domain.AttemptFailed, err, o.now()), nil
	}

	attempt.Status = domain.AttemptSucceeded
	attempt.FinishedAt = o.now()
	return normalized, attempt, nil
}

// await polls until the remote job is terminal or the provider's timeout
// elapses. Transient poll errors are retried; a rejected poll ends the attempt.
func (o *Orchestrator) await(ctx context.Context, e chain.Entry, h video.JobHandle) (video.PollResult, error) {
	timeout := e.PollTimeout()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for n := 1; ; n++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			err := domain.NewProviderError(e.ID, domain.ErrGenerationTimeout, "no result after %s", timeout)
			if lastErr != nil {
				err.Detail += ": last error: " + lastErr.Error()
			}
			return video.PollResult{}, err
		}
		if err := sleep(ctx, min(o.poll.Delay(n), remaining)); err != nil {
			return video.PollResult{}, err
		}

		result, err := e.Provider.Poll(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return video.PollResult{}, ctx.Err()
			}
			if errors.Is(err, domain.ErrRequestRejected) {
				return video.PollResult{}, err
			}
			lastErr = err
			o.logger.Debug().Err(err).Str("provider", e.ID).Int("poll", n).Msg("orchestrator: poll error, retrying")
			continue
		}
		if result.Status != video.PollPending {
			return result, nil
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, jobID string, a *domain.MediaArtifact) error {
	if len(a.Data) == 0 {
		if a.URL == "" {
			return domain.NewProviderError(a.Provider, domain.ErrGenerationFailed, "artifact has neither data nor url")
		}
		return nil
	}
	if o.store == nil {
		if a.URL != "" {
			return nil
		}
		return fmt.Errorf("orchestrator: inline artifact from %s but no store configured", a.Provider)
	}
	key, err := o.store.Write(ctx, storage.ArtifactKey(jobID, a.Provider, a.Format), a.Data)
	if err != nil {
		return err
	}
	a.StorageKey = key
	a.URL = o.store.URL(key)
	return nil
}

func (o *Orchestrator) record(a domain.GenerationAttempt) {
	if o.events != nil {
		o.events.Attempt(a)
	}
}

func (o *Orchestrator) overage(ov budget.Overage, provider string) {
	if o.events != nil {
		o.events.Overage(ov, provider)
	}
}

func toArtifact(provider string, h video.JobHandle, ref video.ArtifactRef) domain.MediaArtifact {
	a := domain.MediaArtifact{
		URL:           ref.URL,
		Data:          ref.Data,
		Format:        ref.Format,
		Width:         ref.Width,
		Height:        ref.Height,
		Duration:      ref.Duration,
		FileSize:      ref.FileSize,
		Provider:      provider,
		ProviderJobID: h.RemoteID,
	}
	if a.Format == "" {
		a.Format = "mp4"
	}
	if a.Width <= 0 || a.Height <= 0 {
		a.Width, a.Height = h.Width, h.Height
	}
	if a.Duration <= 0 {
		a.Duration = time.Duration(h.Duration) * time.Second
	}
	if a.FileSize <= 0 {
		if len(a.Data) > 0 {
			a.FileSize = int64(len(a.Data))
		} else {
			a.FileSize = domain.EstimateFileSize(a.Duration, domain.DefaultBitrateMbps)
		}
	}
	return a
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
