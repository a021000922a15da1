package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"

	"fleetroute/internal/api"
	"fleetroute/internal/auth"
	"fleetroute/internal/config"
	"fleetroute/internal/distmatrix"
	"fleetroute/internal/integrations"
	"fleetroute/internal/integrations/greatcircle"
	"fleetroute/internal/integrations/ors"
	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
	"fleetroute/internal/planner"
	"fleetroute/internal/store"
	"fleetroute/internal/webhooks"
)

func main() {
	_ = godotenv.Load()
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	log := logging.New(cfg.LogLevel)
	if err != nil {
		log.Error(err, "invalid configuration")
		os.Exit(1)
	}
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Error(err, "server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logr.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := openProvider(cfg, log)
	if err != nil {
		return err
	}

	svc := planner.New(st, provider, planner.Defaults{
		Capacities:      cfg.Optimizer.Capacities,
		TimeLimit:       cfg.Optimizer.TimeLimit,
		DistanceBound:   cfg.Optimizer.DistanceBound,
		SpanCoefficient: cfg.Optimizer.SpanCoefficient,
		Strategy:        cfg.Optimizer.Strategy,
		BatchSize:       cfg.Matrix.BatchSize,
		Concurrency:     cfg.Matrix.Concurrency,
	}, log)
	svc.CacheNamespace = cacheNamespace(cfg)

	var broker api.EventBroker = api.NewBroker()
	if cfg.RedisURL != "" {
		cache, err := distmatrix.NewRedisCacheFromURL(cfg.RedisURL, cfg.Matrix.CacheTTL)
		if err != nil {
			return err
		}
		defer cache.Close()
		svc.Cache = cache
		rb, err := api.NewRedisBroker(cfg.RedisURL, log)
		if err != nil {
			return err
		}
		defer rb.Close()
		broker = rb
		log.Info("using redis for matrix cache and events")
	} else {
		svc.Cache = distmatrix.NewMemoryCache(cfg.Matrix.CacheTTL)
	}

	if len(cfg.Webhooks.Targets) > 0 {
		targets := make([]webhooks.Target, len(cfg.Webhooks.Targets))
		for i, t := range cfg.Webhooks.Targets {
			targets[i] = webhooks.Target{URL: t.URL, Secret: t.Secret}
		}
		svc.Notifiers = append(svc.Notifiers, webhooks.NewPublisher(st, targets, log))
		worker := webhooks.NewWorker(st, cfg.Webhooks.MaxAttempts, log)
		go worker.Run(ctx)
	}

	srv := api.NewServer(svc, broker, auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret), log)
	srv.AllowOrigin = cfg.AllowOrigin
	srv.Settings = settings(cfg)
	httpSrv := srv.HTTPServer(":" + cfg.Port)

	errc := make(chan error, 1)
	go func() {
		log.Info("API listening", "addr", httpSrv.Addr, "provider", provider.Name(), "auth", cfg.Auth.Mode)
		errc <- httpSrv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, log logr.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL not set; using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pg.Migrate(mctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func openProvider(cfg config.Config, log logr.Logger) (integrations.Provider, error) {
	if cfg.ORS.APIKey == "" {
		log.Info("ORS_API_KEY not set; using great-circle distances", "knownAddresses", len(cfg.Offline.Addresses))
		return greatcircle.NewProvider(cfg.Offline.DetourFactor, cfg.Offline.Addresses), nil
	}
	return ors.New(orsConfig(cfg.ORS), log)
}

// cacheNamespace names the oracle and its pricing settings so a shared redis
// never serves a matrix built under another provider or profile.
func cacheNamespace(cfg config.Config) string {
	if cfg.ORS.APIKey != "" {
		return "ors:" + cfg.ORS.Profile
	}
	return "greatcircle:" + strconv.FormatFloat(cfg.Offline.DetourFactor, 'g', -1, 64)
}

func orsConfig(c config.ORS) ors.Config {
	return ors.Config{
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Profile:     c.Profile,
		Country:     c.Country,
		RatePerSec:  c.RatePerSec,
		Burst:       c.Burst,
		MaxAttempts: c.MaxAttempts,
		Timeout:     c.Timeout,
	}
}

// settings is the configuration exposed on /debug/vars, without secrets.
func settings(cfg config.Config) map[string]any {
	return map[string]any{
		"port":        cfg.Port,
		"database":    cfg.DatabaseURL != "",
		"redis":       cfg.RedisURL != "",
		"matrix":      cfg.Matrix,
		"optimizer":   cfg.Optimizer,
		"orsEnabled":  cfg.ORS.APIKey != "",
		"orsProfile":  cfg.ORS.Profile,
		"authMode":    cfg.Auth.Mode,
		"webhooks":    len(cfg.Webhooks.Targets),
		"allowOrigin": cfg.AllowOrigin,
	}
}
