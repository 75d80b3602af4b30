package video

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"vidgen/internal/domain"
)

const runwayAPIVersion = "2024-01-01"

// Runway wraps the Runway Gen-4.5 task API.
type Runway struct {
	base
	api   *apiClient
	model string
}

type runwayRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	Resolution  string `json:"resolution"`
	StylePreset string `json:"style_preset,omitempty"`
}

type runwayImageRequest struct {
	Model           string `json:"model"`
	Image           string `json:"image"`
	Prompt          string `json:"prompt"`
	Duration        int    `json:"duration"`
	AspectRatio     string `json:"aspect_ratio"`
	MotionIntensity int    `json:"motion_intensity"`
}

type runwaySubmitResponse struct {
	ID string `json:"id"`
}

type runwayTaskResponse struct {
	Status string `json:"status"`
	Output struct {
		Artifacts []string `json:"artifacts"`
		Thumbnail string   `json:"thumbnail"`
	} `json:"output"`
	Metadata struct {
		Duration float64 `json:"duration"`
		Width    int     `json:"width"`
		Height   int     `json:"height"`
	} `json:"metadata"`
	Failure string `json:"failure"`
}

// NewRunway constructs the Runway provider.
func NewRunway(s Settings) (*Runway, error) {
	b := newBase(s)
	api, err := newAPIClient(s, "https://api.runwayml.com/v1", &b, map[string]string{
		"Authorization":    "Bearer " + strings.TrimSpace(s.APIKey),
		"X-Runway-Version": runwayAPIVersion,
	})
	if err != nil {
		return nil, err
	}
	return &Runway{base: b, api: api, model: "gen4_5"}, nil
}

func (r *Runway) Submit(ctx context.Context, brief domain.Brief) (JobHandle, error) {
	if err := r.admit(brief); err != nil {
		return JobHandle{}, err
	}
	resolution := brief.Resolution
	if resolution == "" {
		resolution = "1080p"
	}
	path, body := "/generate", any(runwayRequest{
		Model:       r.model,
		Prompt:      brief.Prompt,
		Duration:    brief.DurationSeconds,
		AspectRatio: aspectOrDefault(brief.AspectRatio),
		Resolution:  resolution,
		StylePreset: brief.Style,
	})
	if brief.AnimatesImage() {
		path, body = "/image-to-video", runwayImageRequest{
			Model:           r.model,
			Image:           brief.SourceImageURL,
			Prompt:          brief.Prompt,
			Duration:        brief.DurationSeconds,
			AspectRatio:     aspectOrDefault(brief.AspectRatio),
			MotionIntensity: 5,
		}
	}
	var out runwaySubmitResponse
	if err := r.api.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return JobHandle{}, err
	}
	if out.ID == "" {
		return JobHandle{}, domain.NewProviderError(r.id, domain.ErrGenerationFailed, "empty task id")
	}
	return r.handle(out.ID, brief), nil
}

func (r *Runway) Poll(ctx context.Context, h JobHandle) (PollResult, error) {
	var out runwayTaskResponse
	if err := r.api.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(h.RemoteID), nil, &out); err != nil {
		return PollResult{}, err
	}
	ref := ArtifactRef{
		ThumbnailURL: out.Output.Thumbnail,
		Width:        out.Metadata.Width,
		Height:       out.Metadata.Height,
		Duration:     seconds(out.Metadata.Duration),
	}
	if len(out.Output.Artifacts) > 0 {
		ref.URL = out.Output.Artifacts[0]
	}
	return r.finish(h, mapStatus(out.Status), ref, out.Failure, 0), nil
}

var _ Provider = (*Runway)(nil)
