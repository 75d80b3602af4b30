package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vidgen/internal/backoff"
	"vidgen/internal/budget"
	"vidgen/internal/chain"
	"vidgen/internal/config"
	"vidgen/internal/domain"
	"vidgen/internal/events"
	httpapi "vidgen/internal/http"
	"vidgen/internal/infra"
	"vidgen/internal/infra/credentials"
	"vidgen/internal/normalize"
	"vidgen/internal/orchestrator"
	"vidgen/internal/queue"
	"vidgen/internal/storage"
)

var version = "dev"

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		sinks   []events.Sink
		history events.History
		creds   = credentials.NewResolver(nil)
	)

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("engine: db connection failed")
		}
		defer pool.Close()

		runner := infra.NewSQLRunner(pool, logger)
		creds = credentials.NewResolver(runner)
		if err := creds.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("engine: token table migration failed")
		}

		pg := events.NewPostgresSink(runner)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("engine: events migration failed")
		}
		sinks = append(sinks, pg)
		history = pg
	}

	if cfg.EventsSQLitePath != "" {
		if dir := filepath.Dir(cfg.EventsSQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Fatal().Err(err).Msg("engine: create events dir failed")
			}
		}
		lite, err := events.OpenSQLite(cfg.EventsSQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("engine: open sqlite events failed")
		}
		defer lite.Close()
		sinks = append(sinks, lite)
		if history == nil {
			history = lite
		}
	}

	recorder := events.NewRecorder(events.RecorderOptions{
		Bus:    events.NewBus(cfg.EventBufferSize),
		Sinks:  sinks,
		Logger: &logger,
		Buffer: cfg.EventBufferSize,
	})

	ledger := budget.NewLedger(budget.Options{
		Limits: budget.Limits{
			PerJob:    cfg.Budget.PerJobLimit,
			Daily:     cfg.Budget.DailyLimit,
			Monthly:   cfg.Budget.MonthlyLimit,
			Tolerance: cfg.Budget.OverageTolerance,
			Location:  cfg.Budget.Location,
		},
		Logger: &logger,
	})
	if history != nil {
		restoreSpend(ctx, ledger, history, cfg.Budget.Location, logger)
	}

	engine, err := config.LoadEngine(cfg.EngineConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.EngineConfigPath).Msg("engine: load engine config failed")
	}
	descs, err := chain.FromEngine(engine)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: invalid provider entries")
	}

	build := chain.NewBuilder(creds, chain.BuilderOptions{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     &logger,
	})
	providers, err := chain.New(ctx, descs, build, chain.Options{
		Logger: &logger,
		OnChange: func(s *chain.Snapshot) {
			ids := make([]string, 0, len(s.Entries))
			for _, e := range s.Enabled() {
				ids = append(ids, e.ID)
			}
			recorder.ChainUpdated(s.Version, ids)
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: build provider chain failed")
	}

	profiles, err := normalize.WithOverrides(normalize.DefaultProfiles(), engine.Profiles)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: invalid platform profiles")
	}
	transcoder, err := normalize.SelectTranscoder(cfg.Transcoder, cfg.FFmpegPath, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: transcoder unavailable")
	}
	_, ffmpeg := transcoder.(*normalize.FFmpegTranscoder)
	logger.Info().Bool("ffmpeg", ffmpeg).Msg("engine: transcoder selected")
	normalizer := normalize.New(normalize.Options{
		Registry:   normalize.NewRegistry(profiles),
		Transcoder: transcoder,
		Logger:     &logger,
	})

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	store, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: storage init failed")
	}

	poll := orchestrator.DefaultPollPolicy()
	poll.Base = cfg.PollInterval
	orch, err := orchestrator.New(orchestrator.Options{
		Chain:      providers,
		Budget:     ledger,
		Normalizer: normalizer,
		Store:      store,
		Events:     recorder,
		PollPolicy: poll,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: orchestrator init failed")
	}

	retry := backoff.Default()
	retry.Base = cfg.QueueBackoffBase
	retry.Max = cfg.QueueBackoffMax
	jobs := queue.New(orch, queue.Options{
		Workers:     cfg.QueueWorkers,
		MaxAttempts: cfg.QueueMaxAttempts,
		Backoff:     retry,
		Retention:   cfg.JobRetention,
		Validate: func(b domain.Brief) error {
			_, err := normalizer.Profile(b.Platform)
			return err
		},
		Events: recorder,
		Logger: &logger,
	})

	router, err := httpapi.New(httpapi.Config{
		Jobs:   jobs,
		Chain:  providers,
		Budget: ledger,
		Reload: func(ctx context.Context) (*chain.Snapshot, error) {
			f, err := config.LoadEngine(cfg.EngineConfigPath)
			if err != nil {
				return nil, err
			}
			descs, err := chain.FromEngine(f)
			if err != nil {
				return nil, err
			}
			return providers.Reload(ctx, descs)
		},
		Bus:             recorder.Bus(),
		History:         history,
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AdminToken:      cfg.AdminToken,
		CORSOrigins:     cfg.CORSOrigins,
		StaticDir:       store.BasePath(),
		Version:         version,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: router init failed")
	}
	server := infra.NewHTTPServer(cfg, router)

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := jobs.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("engine: queue stopped")
		}
	}()

	go func() {
		logger.Info().Str("addr", server.Addr()).Int("providers", len(descs)).Msg("engine listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("engine: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("engine: workers did not stop in time")
	}
	recorder.Close()
	logger.Info().Msg("engine stopped")
}

// restoreSpend seeds the daily and monthly windows from durable history so a
// restart does not reset the ceilings.
func restoreSpend(ctx context.Context, ledger *budget.Ledger, history events.History, loc *time.Location, logger infra.Logger) {
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)

	daily, err := history.SpendSince(ctx, dayStart)
	if err != nil {
		logger.Warn().Err(err).Msg("engine: restore daily spend failed")
		return
	}
	monthly, err := history.SpendSince(ctx, monthStart)
	if err != nil {
		logger.Warn().Err(err).Msg("engine: restore monthly spend failed")
		return
	}
	ledger.Restore(daily, monthly)
	logger.Info().Str("daily", daily.String()).Str("monthly", monthly.String()).Msg("engine: budget restored")
}
