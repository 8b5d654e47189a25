package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/turtacn/Opposition-Intelligence/internal/config"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/Opposition-Intelligence/internal/interfaces/http"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/http/middleware"
)

// NewServeCmd runs the HTTP API.
func NewServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if port > 0 {
				cc.Config.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, cc.Config, cc.Logger, appOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			watchLogLevel(cc)
			return runServer(ctx, app, apiRouterConfig(app))
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// apiRouterConfig wires the scoring, prediction and precedent handlers.
func apiRouterConfig(app *App) httpserver.RouterConfig {
	rc := probeRouterConfig(app)
	rc.Similarity = handlers.NewSimilarityHandler(app.Marks, app.Gs, app.Config.Scoring.Thresholds(), app.Logger)
	rc.Prediction = handlers.NewPredictionHandler(app.Outcomes, app.FullCase, app.Logger)
	rc.Precedent = handlers.NewPrecedentHandler(app.Retriever, app.Logger)
	rc.MaxBodySize = app.Config.Server.MaxBodySize
	rc.CORS = app.Config.Server.CORS
	if app.Config.Server.RateLimit.RequestsPerSecond > 0 {
		rc.RateLimiter = middleware.NewRateLimiter(app.Config.Server.RateLimit)
	}
	return rc
}

// probeRouterConfig exposes only health and metrics.
func probeRouterConfig(app *App) httpserver.RouterConfig {
	rc := httpserver.RouterConfig{
		Health:  handlers.NewHealthHandler(Version, app.Metrics, app.Checks...),
		Metrics: app.Metrics,
		Logger:  app.Logger,
	}
	if app.Config.Metrics.Enabled {
		rc.MetricsHandler = app.Collector.Handler()
		rc.MetricsPath = app.Config.Metrics.Path
	}
	return rc
}

// runServer serves rc until ctx is done, then drains.
func runServer(ctx context.Context, app *App, rc httpserver.RouterConfig) error {
	sc := app.Config.Server
	gin.SetMode(sc.Mode)

	srv := httpserver.NewServer(httpserver.ServerOptions{
		Port:            sc.Port,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, httpserver.NewRouter(rc), app.Logger)

	if rc.RateLimiter != nil {
		go rc.RateLimiter.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return srv.Stop(context.Background())
}

// watchLogLevel applies log.level edits of the config file at runtime.
func watchLogLevel(cc *CLIContext) {
	if cc.ConfigPath == "" {
		return
	}
	config.Watch(cc.ConfigPath, func(cfg *config.Config) {
		if logging.SetLevel(cc.Logger, cfg.Log.Level) {
			cc.Logger.Info("Log level changed", logging.String("level", cfg.Log.Level))
		}
	}, func(err error) {
		cc.Logger.Warn("Ignoring invalid config change", logging.Err(err))
	})
}
