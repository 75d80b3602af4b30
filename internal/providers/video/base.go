package video

import (
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/ratelimit"
)

// Kind selects the wire protocol used for a provider.
type Kind string

// AnimatesImages reports whether the kind's API has an image-to-video endpoint.
func (k Kind) AnimatesImages() bool {
	return k != KindHeyGen
}

const (
	KindKling     Kind = "kling"
	KindPika      Kind = "pika"
	KindRunway    Kind = "runway"
	KindHeyGen    Kind = "heygen"
	KindSynthetic Kind = "synthetic"
)

// DefaultStyles applies when a provider lists no styles of its own.
var DefaultStyles = []string{"default", "cinematic", "trendy", "professional", "casual"}

// Settings is the per-provider configuration shared by every implementation.
type Settings struct {
	ID                 string
	Kind               Kind
	Cost               CostModel
	RequestsPerMinute  int
	MaxDurationSeconds int
	Styles             []string
	BaseURL            string
	APIKey             string
	HTTPClient         *http.Client
	RequestTimeout     time.Duration
	// ImageToVideo enables briefs carrying a source image.
	ImageToVideo bool
	Logger       *infra.Logger
	Now          func() time.Time
}

// base carries what all providers share: pricing, limits and the local rate window.
type base struct {
	id          string
	cost        CostModel
	maxDuration int
	styles      []string
	animates    bool
	window      *ratelimit.Window
	logger      *infra.Logger
	now         func() time.Time
}

func newBase(s Settings) base {
	logger := s.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	maxDuration := s.MaxDurationSeconds
	if maxDuration <= 0 {
		maxDuration = 60
	}
	configured := s.Styles
	if len(configured) == 0 {
		configured = DefaultStyles
	}
	styles := make([]string, 0, len(configured))
	for _, st := range configured {
		if st = strings.ToLower(strings.TrimSpace(st)); st != "" {
			styles = append(styles, st)
		}
	}
	return base{
		id:          s.ID,
		cost:        s.Cost,
		maxDuration: maxDuration,
		styles:      styles,
		animates:    s.ImageToVideo,
		window:      ratelimit.NewWindow(s.RequestsPerMinute, time.Minute).WithClock(now),
		logger:      logger,
		now:         now,
	}
}

func (b *base) ID() string { return b.id }

func (b *base) EstimateCost(brief domain.Brief) domain.Money {
	return b.cost.Estimate(brief)
}

func (b *base) RateLimitState() ratelimit.State {
	return b.window.State()
}

// admit checks the brief against provider capabilities, then takes a slot from
// the rate window. Unsupported briefs never consume a slot.
func (b *base) admit(brief domain.Brief) error {
	if brief.DurationSeconds > b.maxDuration {
		return domain.NewProviderError(b.id, domain.ErrRequestRejected,
			"duration %ds exceeds maximum %ds", brief.DurationSeconds, b.maxDuration)
	}
	if style := strings.ToLower(strings.TrimSpace(brief.Style)); style != "" && len(b.styles) > 0 {
		if !slices.Contains(b.styles, style) {
			return domain.NewProviderError(b.id, domain.ErrRequestRejected, "style %q not supported", brief.Style)
		}
	}
	if brief.AnimatesImage() && !b.animates {
		return domain.NewProviderError(b.id, domain.ErrRequestRejected, "image-to-video not supported")
	}
	if !b.window.Allow() {
		return domain.NewProviderError(b.id, domain.ErrRateLimited, "local window exhausted")
	}
	return nil
}

func (b *base) handle(remoteID string, brief domain.Brief) JobHandle {
	w, h := TargetDimensions(brief.AspectRatio, brief.Resolution)
	return JobHandle{
		Provider:    b.id,
		RemoteID:    remoteID,
		SubmittedAt: b.now(),
		Estimate:    b.EstimateCost(brief),
		Width:       w,
		Height:      h,
		Duration:    brief.DurationSeconds,
		Resolution:  brief.Resolution,
	}
}

// finish turns a remote status payload into a PollResult with the handle's
// values filling anything the provider left out. On success a reported cost wins;
// otherwise the charge is priced from the delivered duration, then the estimate.
func (b *base) finish(h JobHandle, status PollStatus, ref ArtifactRef, reason string, reported domain.Money) PollResult {
	res := PollResult{Status: status, Reason: reason, Cost: reported}
	if status != PollSucceeded {
		return res
	}
	if res.Cost <= 0 && ref.Duration > 0 {
		res.Cost = b.cost.forDuration(int((ref.Duration+time.Second-1)/time.Second), h.Resolution)
	}
	if res.Cost <= 0 {
		res.Cost = h.Estimate
	}
	if ref.Width == 0 || ref.Height == 0 {
		ref.Width, ref.Height = h.Width, h.Height
	}
	if ref.Duration <= 0 {
		ref.Duration = time.Duration(h.Duration) * time.Second
	}
	if ref.Format == "" {
		ref.Format = "video/mp4"
	}
	if ref.FileSize <= 0 {
		ref.FileSize = domain.EstimateFileSize(ref.Duration, domain.DefaultBitrateMbps)
	}
	res.Artifact = &ref
	return res
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
