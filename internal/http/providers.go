package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"vidgen/internal/chain"
	"vidgen/internal/ratelimit"
)

type providerView struct {
	ID                 string          `json:"id"`
	Kind               string          `json:"kind"`
	Enabled            bool            `json:"enabled"`
	Priority           int             `json:"priority"`
	CostPerUnit        string          `json:"cost_per_unit" example:"0.033"`
	CostUnit           string          `json:"cost_unit" example:"second"`
	RequestsPerMinute  int             `json:"requests_per_minute"`
	MaxDurationSeconds int             `json:"max_duration_seconds"`
	TimeoutSeconds     int             `json:"timeout_seconds"`
	Styles             []string        `json:"styles,omitempty"`
	ImageToVideo       bool            `json:"image_to_video"`
	RateLimit          ratelimit.State `json:"rate_limit"`
}

type chainView struct {
	Version   uint64         `json:"version"`
	LoadedAt  time.Time      `json:"loaded_at"`
	Providers []providerView `json:"providers"`
}

func viewChain(s *chain.Snapshot) chainView {
	if s == nil {
		return chainView{Providers: []providerView{}}
	}
	out := chainView{Version: s.Version, LoadedAt: s.LoadedAt, Providers: make([]providerView, 0, len(s.Entries))}
	for _, e := range s.Entries {
		v := providerView{
			ID:                 e.ID,
			Kind:               string(e.Kind),
			Enabled:            e.Enabled,
			Priority:           e.Priority,
			CostPerUnit:        e.Cost.PerUnit.String(),
			CostUnit:           string(e.Cost.Unit),
			RequestsPerMinute:  e.RequestsPerMinute,
			MaxDurationSeconds: e.MaxDurationSeconds,
			TimeoutSeconds:     int(e.PollTimeout() / time.Second),
			Styles:             e.Styles,
			ImageToVideo:       e.ImageToVideo,
		}
		if e.Provider != nil {
			v.RateLimit = e.Provider.RateLimitState()
		}
		out.Providers = append(out.Providers, v)
	}
	return out
}

type chainOutput struct {
	Body chainView `json:"body"`
}

func registerProviders(api huma.API, c Chain, reload func(context.Context) (*chain.Snapshot, error)) {
	huma.Register(api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/providers",
		Summary:     "Active provider chain",
	}, func(ctx context.Context, _ *struct{}) (*chainOutput, error) {
		return &chainOutput{Body: viewChain(c.Snapshot())}, nil
	})

	toggle := func(enabled bool) func(context.Context, *struct {
		ProviderID string `path:"provider_id"`
	}) (*chainOutput, error) {
		return func(ctx context.Context, input *struct {
			ProviderID string `path:"provider_id"`
		}) (*chainOutput, error) {
			snap, err := c.SetEnabled(input.ProviderID, enabled)
			if err != nil {
				return nil, handleError(err)
			}
			return &chainOutput{Body: viewChain(snap)}, nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "enable-provider",
		Method:      http.MethodPost,
		Path:        "/providers/{provider_id}/enable",
		Summary:     "Enable a provider",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, toggle(true))
	huma.Register(api, huma.Operation{
		OperationID: "disable-provider",
		Method:      http.MethodPost,
		Path:        "/providers/{provider_id}/disable",
		Summary:     "Disable a provider",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, toggle(false))

	huma.Register(api, huma.Operation{
		OperationID: "reload-providers",
		Method:      http.MethodPost,
		Path:        "/providers/reload",
		Summary:     "Reload the engine file and swap the chain",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotImplemented},
	}, func(ctx context.Context, _ *struct{}) (*chainOutput, error) {
		if reload == nil {
			return nil, newAPIError(http.StatusNotImplemented, "reload_unavailable", "reload is not configured", nil)
		}
		snap, err := reload(ctx)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "reload_failed", err.Error(), nil)
		}
		return &chainOutput{Body: viewChain(snap)}, nil
	})
}
