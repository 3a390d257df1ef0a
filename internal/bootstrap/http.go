package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ibb-transit/crowdcast/config"
	httpx "github.com/ibb-transit/crowdcast/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	services := httpx.RouterServices{
		ForecastRead:   cfg.Services.ForecastRead,
		Forecast:       cfg.Services.Forecast,
		Lines:          cfg.Services.Lines,
		Bus:            cfg.Services.Bus,
		Metro:          cfg.Services.Metro,
		MetroLive:      cfg.Services.MetroLive,
		Status:         cfg.Services.Status,
		Scheduler:      cfg.Services.Scheduler,
		Registrar:      cfg.Services.Registrar,
		Reports:        cfg.Services.Reports,
		Auth:           cfg.Services.Auth,
		Topology:       cfg.Services.Topology,
		Shapes:         cfg.Services.Shapes,
		AllowedOrigins: appCfg.HTTP.AllowOrigins,
	}

	handler := buildHTTPHandler(logger, services)
	return startServer(logger, handler, appCfg.HTTP.Addr)
}

// buildHTTPHandler wraps the router: Recover -> RequestID -> Logging -> Router.
func buildHTTPHandler(logger *slog.Logger, services httpx.RouterServices) http.Handler {
	h := httpx.NewRouter(services)
	h = httpx.Logging(logger)(h)
	h = httpx.RequestID()(h)
	h = httpx.Recover(logger)(h)
	return h
}

func startServer(logger *slog.Logger, handler http.Handler, addr string) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(cfg.Context, 10*time.Second)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
