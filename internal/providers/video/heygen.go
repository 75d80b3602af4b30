package video

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"vidgen/internal/domain"
)

// HeyGen wraps the HeyGen avatar video API. The prompt is spoken by the avatar.
type HeyGen struct {
	base
	api      *apiClient
	avatarID string
	voiceID  string
}

type heygenRequest struct {
	VideoInputs []heygenInput   `json:"video_inputs"`
	Dimension   heygenDimension `json:"dimension"`
	AspectRatio string          `json:"aspect_ratio"`
}

type heygenInput struct {
	Character struct {
		Type        string `json:"type"`
		AvatarID    string `json:"avatar_id"`
		AvatarStyle string `json:"avatar_style,omitempty"`
	} `json:"character"`
	Voice struct {
		Type      string `json:"type"`
		InputText string `json:"input_text"`
		VoiceID   string `json:"voice_id"`
	} `json:"voice"`
	Background string `json:"background"`
}

type heygenDimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type heygenSubmitResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type heygenStatusResponse struct {
	Data struct {
		Status       string  `json:"status"`
		VideoURL     string  `json:"video_url"`
		ThumbnailURL string  `json:"thumbnail_url"`
		Duration     float64 `json:"duration"`
		Error        any     `json:"error"`
	} `json:"data"`
}

// HeyGenOptions are the avatar defaults read from the provider's options block.
type HeyGenOptions struct {
	AvatarID string
	VoiceID  string
}

// NewHeyGen constructs the HeyGen provider.
func NewHeyGen(s Settings, opts HeyGenOptions) (*HeyGen, error) {
	b := newBase(s)
	api, err := newAPIClient(s, "https://api.heygen.com/v2", &b, map[string]string{
		"X-Api-Key": strings.TrimSpace(s.APIKey),
	})
	if err != nil {
		return nil, err
	}
	avatar := strings.TrimSpace(opts.AvatarID)
	if avatar == "" {
		avatar = "default"
	}
	voice := strings.TrimSpace(opts.VoiceID)
	if voice == "" {
		voice = "en-US-JennyNeural"
	}
	return &HeyGen{base: b, api: api, avatarID: avatar, voiceID: voice}, nil
}

func (g *HeyGen) Submit(ctx context.Context, brief domain.Brief) (JobHandle, error) {
	if err := g.admit(brief); err != nil {
		return JobHandle{}, err
	}
	w, h := TargetDimensions(brief.AspectRatio, brief.Resolution)
	var input heygenInput
	input.Character.Type = "avatar"
	input.Character.AvatarID = g.avatarID
	input.Character.AvatarStyle = brief.Style
	input.Voice.Type = "text"
	input.Voice.InputText = brief.Prompt
	input.Voice.VoiceID = g.voiceID
	input.Background = "#000000"

	var out heygenSubmitResponse
	err := g.api.do(ctx, http.MethodPost, "/video/generate", heygenRequest{
		VideoInputs: []heygenInput{input},
		Dimension:   heygenDimension{Width: w, Height: h},
		AspectRatio: aspectOrDefault(brief.AspectRatio),
	}, &out)
	if err != nil {
		return JobHandle{}, err
	}
	if out.Data.VideoID == "" {
		return JobHandle{}, domain.NewProviderError(g.id, domain.ErrGenerationFailed, "empty video id")
	}
	return g.handle(out.Data.VideoID, brief), nil
}

func (g *HeyGen) Poll(ctx context.Context, h JobHandle) (PollResult, error) {
	var out heygenStatusResponse
	path := "/video_status.get?video_id=" + url.QueryEscape(h.RemoteID)
	if err := g.api.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return PollResult{}, err
	}
	ref := ArtifactRef{
		URL:          out.Data.VideoURL,
		ThumbnailURL: out.Data.ThumbnailURL,
		Duration:     seconds(out.Data.Duration),
	}
	reason := ""
	if out.Data.Error != nil {
		reason = strings.TrimSpace(toString(out.Data.Error))
	}
	return g.finish(h, mapStatus(out.Data.Status), ref, reason, 0), nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if msg, ok := t["message"].(string); ok {
			return msg
		}
	}
	return ""
}

var _ Provider = (*HeyGen)(nil)
