package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PratikDhanave/usage-insights-engine/internal/aggregation"
	"github.com/PratikDhanave/usage-insights-engine/internal/config"
	"github.com/PratikDhanave/usage-insights-engine/internal/engine"
	"github.com/PratikDhanave/usage-insights-engine/internal/httpserver"
	"github.com/PratikDhanave/usage-insights-engine/internal/insights"
	"github.com/PratikDhanave/usage-insights-engine/internal/logging"
	"github.com/PratikDhanave/usage-insights-engine/internal/store"
	"github.com/PratikDhanave/usage-insights-engine/internal/textgen"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily aggregation schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

// serve boots the service: config → logger → DB → schema → engine → HTTP server.
func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	eng, cleanup, err := openEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Aggregation.Enabled {
		sched, err := aggregation.NewScheduler(eng, cfg.Aggregation.Schedule, cfg.Aggregation.Timeout, log)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	router := httpserver.NewRouter(cfg, eng, log)
	return httpserver.Serve(ctx, cfg.HTTPAddr, router, cfg.ShutdownTimeout, log)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

// openEngine connects to storage, ensures the schema and assembles the engine.
// The returned cleanup closes the store.
func openEngine(ctx context.Context, cfg config.Config, log *zap.Logger) (*engine.Engine, func(), error) {
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBURL)
	if err != nil {
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}

	gen, err := textgen.New(textgen.Config{
		Provider:   cfg.TextGen.Provider,
		APIKey:     cfg.TextGen.APIKey,
		Model:      cfg.TextGen.Model,
		BaseURL:    cfg.TextGen.BaseURL,
		MaxRetries: cfg.TextGen.MaxRetries,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	collab := insights.Unconfigured()
	if gen != nil {
		collab = insights.Configured(gen)
		log.Info("narrative insights enabled", zap.String("provider", gen.Name()))
	}

	eng := engine.New(st, engine.Options{
		Caches: engine.NewCaches(engine.CacheTTLs{
			Anomalies: cfg.Cache.Anomalies,
			Insights:  cfg.Cache.Insights,
			ChartData: cfg.Cache.ChartData,
		}),
		Collaborator:   collab,
		NarrateTimeout: cfg.TextGen.Timeout,
	}, log)

	log.Info("storage ready", zap.String("driver", cfg.DBDriver))
	return eng, st.Close, nil
}
