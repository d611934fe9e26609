package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"clubadmin/internal/platform/config"
	"clubadmin/internal/platform/logger"
	"clubadmin/internal/platform/metrics"
	httptransport "clubadmin/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	configPath := pflag.StringP("config", "c", "", "path to an optional YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{Level: cfg.Server.LogLevel, File: cfg.Server.LogFile})
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("initializing club admin",
		"addr", cfg.Server.Addr,
		"dev_mode", cfg.Admin.DevMode,
		"token_mode", cfg.Token.Mode,
		"allow_list_size", len(cfg.Admin.AllowList),
	)
	if cfg.Token.Mode == config.TokenModeStatic {
		log.Warn("static token mode shares one code between all admins; use only for legacy deployments")
	}
	if len(cfg.Admin.AllowList) == 0 {
		log.Warn("admin allow list is empty; every confirmed identity is treated as an admin")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close(log)

	app, err := buildApp(cfg, stores, m, log)
	if err != nil {
		return err
	}
	defer app.registry.Close()

	router := httptransport.NewRouter(httptransport.RouterConfig{
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Timeout:        30 * time.Second,
		Latency:        m,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, log, app.health, app.handler)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return app.registry.Run(gctx) })
	g.Go(func() error { return app.cleanup.Start(gctx) })
	g.Go(func() error { return app.connectivity.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
