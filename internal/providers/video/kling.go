package video

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"vidgen/internal/domain"
)

// Kling wraps the Kling AI text-to-video and image-to-video API.
type Kling struct {
	base
	api *apiClient
}

type klingRequest struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	Style       string `json:"style,omitempty"`
}

type klingImageRequest struct {
	ImageURL        string `json:"image_url"`
	AnimationPrompt string `json:"animation_prompt"`
	Duration        int    `json:"duration"`
	AspectRatio     string `json:"aspect_ratio"`
}

type klingSubmitResponse struct {
	JobID string `json:"job_id"`
}

type klingStatusResponse struct {
	Status       string       `json:"status"`
	VideoURL     string       `json:"video_url"`
	ThumbnailURL string       `json:"thumbnail_url"`
	Duration     float64      `json:"duration"`
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	CostUSD      domain.Money `json:"cost_usd"`
	Error        string       `json:"error"`
}

// NewKling constructs the Kling provider.
func NewKling(s Settings) (*Kling, error) {
	b := newBase(s)
	api, err := newAPIClient(s, "https://api.klingai.com/v1", &b, map[string]string{
		"Authorization": "Bearer " + strings.TrimSpace(s.APIKey),
	})
	if err != nil {
		return nil, err
	}
	return &Kling{base: b, api: api}, nil
}

func (k *Kling) Submit(ctx context.Context, brief domain.Brief) (JobHandle, error) {
	if err := k.admit(brief); err != nil {
		return JobHandle{}, err
	}
	path, body := "/videos/generate", any(klingRequest{
		Prompt:      brief.Prompt,
		Duration:    brief.DurationSeconds,
		AspectRatio: aspectOrDefault(brief.AspectRatio),
		Style:       brief.Style,
	})
	if brief.AnimatesImage() {
		path, body = "/videos/image-to-video", klingImageRequest{
			ImageURL:        brief.SourceImageURL,
			AnimationPrompt: brief.Prompt,
			Duration:        brief.DurationSeconds,
			AspectRatio:     aspectOrDefault(brief.AspectRatio),
		}
	}
	var out klingSubmitResponse
	if err := k.api.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return JobHandle{}, err
	}
	if out.JobID == "" {
		return JobHandle{}, domain.NewProviderError(k.id, domain.ErrGenerationFailed, "empty job id")
	}
	k.logger.Debug().Str("provider", k.id).Str("remote_id", out.JobID).Msg("kling job created")
	return k.handle(out.JobID, brief), nil
}

func (k *Kling) Poll(ctx context.Context, h JobHandle) (PollResult, error) {
	var out klingStatusResponse
	if err := k.api.do(ctx, http.MethodGet, "/videos/"+url.PathEscape(h.RemoteID), nil, &out); err != nil {
		return PollResult{}, err
	}
	ref := ArtifactRef{
		URL:          out.VideoURL,
		ThumbnailURL: out.ThumbnailURL,
		Width:        out.Width,
		Height:       out.Height,
		Duration:     seconds(out.Duration),
	}
	return k.finish(h, mapStatus(out.Status), ref, out.Error, out.CostUSD), nil
}

var _ Provider = (*Kling)(nil)
