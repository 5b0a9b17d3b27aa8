package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ogero/jutsu-dl/internal"
	"github.com/ogero/jutsu-dl/internal/cache"
	"github.com/ogero/jutsu-dl/internal/catalog"
	"github.com/ogero/jutsu-dl/internal/common"
	"github.com/ogero/jutsu-dl/internal/config"
	"github.com/ogero/jutsu-dl/internal/download"
	"github.com/ogero/jutsu-dl/internal/settings"
	"github.com/ogero/jutsu-dl/pkg/jutsu"
	slogchi "github.com/samber/slog-chi"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	serviceName    = "jutsu-dl"
	serviceVersion = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		common.Log.Error("Failed to run", "err", err)
		os.Exit(1)
	}
}

func run() error {

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to config.Load: %w", err)
	}

	shutdownLogger, err := common.InitLogger(serviceName, serviceVersion, cfg.ServiceEnvironment, cfg.LogLevel, cfg.OTELExporterEndpoint)
	if err != nil {
		return fmt.Errorf("failed to common.InitLogger: %w", err)
	}
	defer func() {
		if err := shutdownLogger(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to shutdown logger:", err)
		}
	}()

	shutdownInstrumentation, err := common.InitInstrumentation(serviceName, serviceVersion, cfg.ServiceEnvironment, cfg.OTELExporterEndpoint)
	if err != nil {
		return fmt.Errorf("failed to common.InitInstrumentation: %w", err)
	}
	defer shutdownInstrumentation(context.Background())

	pages, err := cache.Open(cfg.PagesCacheDir)
	if err != nil {
		return fmt.Errorf("failed to cache.Open: %w", err)
	}
	defer func() {
		if err := pages.Close(); err != nil {
			common.Log.Error("Failed to cache.Cache.Close", "err", err)
		}
	}()

	site := jutsu.NewJutsu(
		jutsu.WithBaseURL(cfg.SiteBaseURL),
		jutsu.WithPageThrottle(cfg.PageThrottle),
		jutsu.WithUserAgent(cfg.UserAgent),
	)
	extractor, err := jutsu.NewExtractor(site.BaseURL())
	if err != nil {
		return fmt.Errorf("failed to jutsu.NewExtractor: %w", err)
	}

	c, err := catalog.LoadOrDefault(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("failed to catalog.LoadOrDefault: %w", err)
	}
	common.Log.Info("Loaded catalog", "path", c.Path, "shows", len(c.Shows), "pages", c.Pages)

	store := catalog.NewStore(c, site, extractor, pages, cfg.PagesCacheTTL)
	scheduler := download.NewScheduler(site, extractor, cfg.DownloadDir)

	jutsuService, err := internal.NewJutsuService(cfg.ProgressChannel, store, scheduler)
	if err != nil {
		return fmt.Errorf("failed to internal.NewJutsuService: %w", err)
	}

	if c.Settings.Enabled(settings.UpdateSite) {
		go func() {
			if _, err := jutsuService.Refresh(context.Background()); err != nil {
				common.Log.Error("Failed to refresh catalog at startup", "err", err)
			}
		}()
	}

	app, err := internal.NewApp(jutsuService)
	if err != nil {
		return fmt.Errorf("failed to internal.NewApp: %w", err)
	}

	r := chi.NewRouter()
	r.Use(slogchi.New(common.Log.WithGroup("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Requested-With",
			"Accept",
			"Accept-Language",
			"Accept-Encoding",
			"Content-Language",
			"Origin",
		},
		MaxAge: 300,
	}))
	app.Routes(r)

	// Listen
	srv := &http.Server{
		Addr:    cfg.ServerListenAddr,
		Handler: otelhttp.NewHandler(r, "jutsu"),
	}
	go func() {
		common.Log.Info("Listening", "addr", cfg.ServerListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Log.Error("Failed to http.Server.ListenAndServe", "err", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		common.Log.Error("Failed to http server shutdown", "err", err)
	}

	common.Log.Info("Bye!")

	return nil
}
