package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"vidgen/internal/domain"
	"vidgen/internal/events"
)

type budgetView struct {
	Tolerance domain.Money          `json:"tolerance"`
	Windows   []domain.BudgetWindow `json:"windows"`
}

func registerBudget(api huma.API, b Budget) {
	huma.Register(api, huma.Operation{
		OperationID: "get-budget",
		Method:      http.MethodGet,
		Path:        "/budget",
		Summary:     "Budget windows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body budgetView `json:"body"`
	}, error) {
		return &struct {
			Body budgetView `json:"body"`
		}{Body: budgetView{Tolerance: b.Tolerance(), Windows: b.Snapshot()}}, nil
	})
}

type eventsPage struct {
	Items   []events.Event `json:"items"`
	LastSeq int64          `json:"last_seq"`
}

func registerEvents(api huma.API, bus *events.Bus) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Events after a sequence number",
	}, func(ctx context.Context, input *struct {
		Since int64 `query:"since" minimum:"0" doc:"Return events with seq greater than this"`
		Limit int   `query:"limit" minimum:"0" maximum:"1000" default:"100"`
	}) (*struct {
		Body eventsPage `json:"body"`
	}, error) {
		items := bus.Since(input.Since, input.Limit)
		if items == nil {
			items = []events.Event{}
		}
		return &struct {
			Body eventsPage `json:"body"`
		}{Body: eventsPage{Items: items, LastSeq: bus.LastSeq()}}, nil
	})
}

func registerStats(api huma.API, bus *events.Bus, history events.History) {
	huma.Register(api, huma.Operation{
		OperationID: "provider-stats",
		Method:      http.MethodGet,
		Path:        "/stats/providers",
		Summary:     "Per-provider attempt summary",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []events.ProviderStats `json:"body"`
	}, error) {
		var (
			stats []events.ProviderStats
			err   error
		)
		if history != nil {
			stats, err = history.ProviderStats(ctx)
			if err != nil {
				return nil, handleError(err)
			}
		} else {
			stats = events.Summarize(bus.Since(0, 0))
		}
		if stats == nil {
			stats = []events.ProviderStats{}
		}
		return &struct {
			Body []events.ProviderStats `json:"body"`
		}{Body: stats}, nil
	})
}
