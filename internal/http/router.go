// Package httpapi exposes the engine over HTTP: job submission for the
// planning service, chain administration and reporting for operators.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vidgen/internal/chain"
	"vidgen/internal/domain"
	"vidgen/internal/events"
	"vidgen/internal/middleware"
)

// BasePath prefixes every API route.
const BasePath = "/v1"

// Jobs is the retry queue as seen by the API.
type Jobs interface {
	Submit(brief domain.Brief) (domain.QueuedJob, error)
	Status(id string) (domain.QueuedJob, error)
	Cancel(id string) (domain.QueuedJob, error)
	List() []domain.QueuedJob
}

// Chain is the provider chain as seen by the API.
type Chain interface {
	Snapshot() *chain.Snapshot
	SetEnabled(id string, enabled bool) (*chain.Snapshot, error)
}

// Budget reports ledger windows.
type Budget interface {
	Snapshot() []domain.BudgetWindow
	Tolerance() domain.Money
}

// Config wires the API handler.
type Config struct {
	Jobs   Jobs
	Chain  Chain
	Budget Budget
	// Reload re-reads the engine file and swaps the chain; nil disables the route.
	Reload func(ctx context.Context) (*chain.Snapshot, error)
	Bus    *events.Bus
	// History answers stats from a durable sink; nil summarizes the bus.
	History events.History
	Logger  zerolog.Logger
	// RateLimitPerMin caps requests per client IP; 0 disables it.
	RateLimitPerMin int
	AdminToken      string
	CORSOrigins     []string
	// StaticDir is served under /static when set.
	StaticDir string
	Version   string
}

// New returns the API handler.
func New(cfg Config) (http.Handler, error) {
	if cfg.Jobs == nil || cfg.Chain == nil || cfg.Budget == nil || cfg.Bus == nil {
		return nil, errors.New("httpapi: jobs, chain, budget and bus are required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(chimw.RealIP, middleware.RequestID, chimw.Recoverer, middleware.Logger(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(middleware.CORS(cfg.CORSOrigins))
	}
	router.Use(middleware.RateLimit(cfg.RateLimitPerMin, timeMinute))
	router.Use(adminOnly(cfg.AdminToken))

	if cfg.StaticDir != "" {
		router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))
	}

	hcfg := huma.DefaultConfig("Video Generation Engine", version)
	hcfg.OpenAPIPath = BasePath + "/openapi"
	hcfg.DocsPath = ""
	hcfg.SchemasPath = BasePath + "/schemas"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, BasePath)

	registerHealth(group)
	registerJobs(group, cfg.Jobs)
	registerProviders(group, cfg.Chain, cfg.Reload)
	registerBudget(group, cfg.Budget)
	registerEvents(group, cfg.Bus)
	registerStats(group, cfg.Bus, cfg.History)

	return router, nil
}

// adminOnly guards the chain mutation routes.
func adminOnly(token string) func(http.Handler) http.Handler {
	guard := middleware.RequireToken(token)
	return func(next http.Handler) http.Handler {
		guarded := guard(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, BasePath+"/providers") {
				guarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}
