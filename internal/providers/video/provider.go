package video

import (
	"context"
	"strconv"
	"strings"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/ratelimit"
)

// JobHandle identifies a generation job on the remote provider.
type JobHandle struct {
	Provider    string       `json:"provider"`
	RemoteID    string       `json:"remote_id"`
	SubmittedAt time.Time    `json:"submitted_at"`
	Estimate    domain.Money `json:"estimate"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Duration    int          `json:"duration_seconds"`
	Resolution  string       `json:"resolution,omitempty"`
}

// PollStatus is the coarse state reported by Poll.
type PollStatus string

const (
	PollPending   PollStatus = "pending"
	PollSucceeded PollStatus = "succeeded"
	PollFailed    PollStatus = "failed"
)

// ArtifactRef points at the raw output of a finished remote job.
type ArtifactRef struct {
	URL          string
	ThumbnailURL string
	Data         []byte
	Format       string
	Width        int
	Height       int
	Duration     time.Duration
	FileSize     int64
}

// PollResult is a single non-blocking status check.
type PollResult struct {
	Status   PollStatus
	Artifact *ArtifactRef
	Reason   string
	// Cost is the provider's actual charge once known, otherwise the submit estimate.
	Cost domain.Money
}

// Provider is the uniform contract every external generation service is wrapped in.
type Provider interface {
	ID() string
	// EstimateCost is a pure function of the brief; it never calls the network.
	EstimateCost(brief domain.Brief) domain.Money
	// Submit starts generation. It fails with domain.ErrRateLimited when the local
	// window is exhausted and domain.ErrRequestRejected when the brief is unsupported.
	Submit(ctx context.Context, brief domain.Brief) (JobHandle, error)
	Poll(ctx context.Context, handle JobHandle) (PollResult, error)
	RateLimitState() ratelimit.State
}

// mapStatus folds the providers' status vocabularies into PollStatus.
func mapStatus(raw string) PollStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "succeeded", "success", "done":
		return PollSucceeded
	case "failed", "error", "cancelled", "canceled":
		return PollFailed
	default:
		return PollPending
	}
}

// TargetDimensions derives the render size requested from providers.
func TargetDimensions(aspect, resolution string) (int, int) {
	short := 1080
	switch strings.ToLower(strings.TrimSpace(resolution)) {
	case "480p":
		short = 480
	case "720p":
		short = 720
	case "1440p", "2k":
		short = 1440
	case "2160p", "4k":
		short = 2160
	}
	a, b := parseAspect(aspect)
	if a >= b {
		return short * a / b, short
	}
	return short, short * b / a
}

func parseAspect(aspect string) (int, int) {
	parts := strings.Split(strings.TrimSpace(aspect), ":")
	if len(parts) == 2 {
		a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
		b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errA == nil && errB == nil && a > 0 && b > 0 {
			return a, b
		}
	}
	return 9, 16
}

func aspectOrDefault(aspect string) string {
	a, b := parseAspect(aspect)
	return strconv.Itoa(a) + ":" + strconv.Itoa(b)
}
