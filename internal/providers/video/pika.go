package video

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"vidgen/internal/domain"
)

// Pika wraps the Pika Labs generation API.
type Pika struct {
	base
	api *apiClient
	fps int
}

type pikaRequest struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	Style       string `json:"style,omitempty"`
	FPS         int    `json:"fps"`
}

type pikaAnimateRequest struct {
	Image       string `json:"image"`
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	Motion      int    `json:"motion"`
}

type pikaSubmitResponse struct {
	ID string `json:"id"`
}

type pikaStatusResponse struct {
	Status string `json:"status"`
	Video  struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Size   int64  `json:"size"`
	} `json:"video"`
	Thumbnail string       `json:"thumbnail"`
	Duration  float64      `json:"duration"`
	Cost      domain.Money `json:"cost"`
	Error     string       `json:"error"`
}

// NewPika constructs the Pika provider.
func NewPika(s Settings) (*Pika, error) {
	b := newBase(s)
	api, err := newAPIClient(s, "https://api.pika.art/v1", &b, map[string]string{
		"Authorization": "Bearer " + strings.TrimSpace(s.APIKey),
	})
	if err != nil {
		return nil, err
	}
	return &Pika{base: b, api: api, fps: 24}, nil
}

func (p *Pika) Submit(ctx context.Context, brief domain.Brief) (JobHandle, error) {
	if err := p.admit(brief); err != nil {
		return JobHandle{}, err
	}
	path, body := "/generate", any(pikaRequest{
		Prompt:      brief.Prompt,
		Duration:    brief.DurationSeconds,
		AspectRatio: aspectOrDefault(brief.AspectRatio),
		Style:       brief.Style,
		FPS:         p.fps,
	})
	if brief.AnimatesImage() {
		path, body = "/animate", pikaAnimateRequest{
			Image:       brief.SourceImageURL,
			Prompt:      brief.Prompt,
			Duration:    brief.DurationSeconds,
			AspectRatio: aspectOrDefault(brief.AspectRatio),
			Motion:      2,
		}
	}
	var out pikaSubmitResponse
	if err := p.api.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return JobHandle{}, err
	}
	if out.ID == "" {
		return JobHandle{}, domain.NewProviderError(p.id, domain.ErrGenerationFailed, "empty job id")
	}
	return p.handle(out.ID, brief), nil
}

func (p *Pika) Poll(ctx context.Context, h JobHandle) (PollResult, error) {
	var out pikaStatusResponse
	if err := p.api.do(ctx, http.MethodGet, "/videos/"+url.PathEscape(h.RemoteID), nil, &out); err != nil {
		return PollResult{}, err
	}
	ref := ArtifactRef{
		URL:          out.Video.URL,
		ThumbnailURL: out.Thumbnail,
		Width:        out.Video.Width,
		Height:       out.Video.Height,
		FileSize:     out.Video.Size,
		Duration:     seconds(out.Duration),
	}
	return p.finish(h, mapStatus(out.Status), ref, out.Error, out.Cost), nil
}

var _ Provider = (*Pika)(nil)
