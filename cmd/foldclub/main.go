package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/foldclub/internal/catalog"
	"github.com/dukerupert/foldclub/internal/config"
	"github.com/dukerupert/foldclub/internal/database"
	"github.com/dukerupert/foldclub/internal/logging"
	"github.com/dukerupert/foldclub/internal/server"
	"github.com/dukerupert/foldclub/internal/store"
	"github.com/dukerupert/foldclub/internal/tracking"
	"github.com/dukerupert/foldclub/internal/tracking/meta"
	"github.com/dukerupert/foldclub/internal/tracking/tiktok"
)

type options struct {
	configPath string
	seedPath   string
}

// loadOptions reads .env into the environment and then parses args, so flag
// defaults can come from .env.
func loadOptions(args []string) (options, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	var opts options
	fs := flag.NewFlagSet("foldclub", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", os.Getenv("FOLDCLUB_CONFIG"), "path to YAML config file")
	fs.StringVar(&opts.seedPath, "seed", "", "upsert the product catalog from a YAML file before serving")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func main() {
	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database ready", "dialect", string(db.Dialect))

	if opts.seedPath != "" {
		if err := seedCatalog(db, opts.seedPath, cfg.Currency, logger); err != nil {
			logger.Error("failed to seed catalog", "error", err)
			os.Exit(1)
		}
	}

	srv := server.New(db, cfg, logger, platforms(cfg)...)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					logger.Debug("cleaned up rate limit windows", "count", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("foldclub starting", "addr", ":"+cfg.Port, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := srv.Tracker().Wait(ctx); err != nil {
		logger.Warn("in-flight dispatches abandoned", "error", err)
	}
}

func platforms(cfg *config.Config) []tracking.Platform {
	var ps []tracking.Platform
	if cfg.Meta.Configured() {
		ps = append(ps, meta.NewClient(meta.Config{
			PixelID:       cfg.Meta.PixelID,
			AccessToken:   cfg.Meta.AccessToken,
			APIVersion:    cfg.Meta.APIVersion,
			TestEventCode: cfg.Meta.TestEventCode,
			Timeout:       cfg.Meta.Timeout,
		}))
	}
	if cfg.TikTok.Configured() {
		ps = append(ps, tiktok.NewClient(tiktok.Config{
			PixelCode:   cfg.TikTok.PixelCode,
			AccessToken: cfg.TikTok.AccessToken,
			Timeout:     cfg.TikTok.Timeout,
		}))
	}
	return ps
}

func seedCatalog(db *database.DB, path, currency string, logger *slog.Logger) error {
	c, err := catalog.Load(path)
	if err != nil {
		return err
	}
	if c.Currency == "" {
		c.Currency = currency
	}
	n, err := catalog.Seed(context.Background(), store.NewProductStore(db), c)
	if err != nil {
		return err
	}
	logger.Info("catalog seeded", "products", n, "path", path)
	return nil
}
