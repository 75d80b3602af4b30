package video

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"vidgen/internal/domain"
)

// SyntheticOptions shape the behaviour of the offline provider.
type SyntheticOptions struct {
	// PendingPolls is how many polls report pending before the job completes.
	PendingPolls int
	// Fail makes every job end with the named outcome: "failed", "rejected",
	// "rate_limited" or "stuck" (never completes).
	Fail string
	// CostPercent scales the actual charge relative to the estimate; 0 means 100.
	CostPercent int64
	// Width and Height override the rendered size.
	Width  int
	Height int
	// DurationSeconds overrides the rendered length.
	DurationSeconds int
}

// Synthetic renders placeholder bytes locally. It is used for development and
// as a last-resort entry in the chain when no remote credentials are present.
type Synthetic struct {
	base
	opts SyntheticOptions

	mu      sync.Mutex
	seq     int
	pending map[string]int
}

// NewSynthetic constructs the offline provider.
func NewSynthetic(s Settings, opts SyntheticOptions) *Synthetic {
	if opts.CostPercent <= 0 {
		opts.CostPercent = 100
	}
	return &Synthetic{base: newBase(s), opts: opts, pending: make(map[string]int)}
}

func (p *Synthetic) Submit(ctx context.Context, brief domain.Brief) (JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return JobHandle{}, err
	}
	switch strings.ToLower(p.opts.Fail) {
	case "rejected":
		return JobHandle{}, domain.NewProviderError(p.id, domain.ErrRequestRejected, "synthetic rejection")
	case "rate_limited":
		p.window.Block(p.now().Add(time.Minute))
		return JobHandle{}, domain.NewProviderError(p.id, domain.ErrRateLimited, "synthetic rate limit")
	}
	if err := p.admit(brief); err != nil {
		return JobHandle{}, err
	}
	p.mu.Lock()
	p.seq++
	remoteID := "syn-" + deterministicSeed(p.id, brief.Prompt, brief.Platform, p.seq)
	p.pending[remoteID] = p.opts.PendingPolls
	p.mu.Unlock()
	return p.handle(remoteID, brief), nil
}

func (p *Synthetic) Poll(ctx context.Context, h JobHandle) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}
	p.mu.Lock()
	left, ok := p.pending[h.RemoteID]
	if ok && left > 0 {
		p.pending[h.RemoteID] = left - 1
	}
	if ok && left <= 0 && p.opts.Fail != "stuck" {
		delete(p.pending, h.RemoteID)
	}
	p.mu.Unlock()
	if !ok {
		return PollResult{}, domain.NewProviderError(p.id, domain.ErrRequestRejected, "unknown job %s", h.RemoteID)
	}
	if left > 0 || p.opts.Fail == "stuck" {
		return PollResult{Status: PollPending}, nil
	}
	if p.opts.Fail == "failed" {
		return p.finish(h, PollFailed, ArtifactRef{}, "synthetic failure", 0), nil
	}

	w, hgt := h.Width, h.Height
	if p.opts.Width > 0 && p.opts.Height > 0 {
		w, hgt = p.opts.Width, p.opts.Height
	}
	dur := time.Duration(h.Duration) * time.Second
	if p.opts.DurationSeconds > 0 {
		dur = time.Duration(p.opts.DurationSeconds) * time.Second
	}
	data := renderSyntheticVideo(h.RemoteID, w, hgt, dur)
	ref := ArtifactRef{
		Data:     data,
		Format:   "video/mp4",
		Width:    w,
		Height:   hgt,
		Duration: dur,
		FileSize: domain.EstimateFileSize(dur, domain.DefaultBitrateMbps),
	}
	return p.finish(h, PollSucceeded, ref, "", h.Estimate.MulDiv(p.opts.CostPercent, 100)), nil
}

func renderSyntheticVideo(seed string, width, height int, d time.Duration) []byte {
	lines := []string{
		"Synthetic video placeholder",
		fmt.Sprintf("Seed: %s", seed),
		fmt.Sprintf("Size: %dx%d", width, height),
		fmt.Sprintf("Duration: %s", d),
	}
	return []byte(strings.Join(lines, "\n"))
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

var _ Provider = (*Synthetic)(nil)
