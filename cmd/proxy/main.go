package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"moltpfp/internal/generation"
	"moltpfp/internal/http/handlers"
	httpapi "moltpfp/internal/http/httpapi"
	"moltpfp/internal/infra"
	"moltpfp/internal/infra/credentials"
	"moltpfp/internal/infra/geoip"
	"moltpfp/internal/middleware"
	"moltpfp/internal/moltbook"
	"moltpfp/internal/providers/image"
)

// proxyInferenceSteps matches the quality the frontend was tuned against.
const proxyInferenceSteps = 35

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tokens kept in Postgres back up missing environment variables.
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		store := credentials.NewStore(infra.NewSQLRunner(dbpool, logger))
		filled, err := store.Fill(ctx, cfg)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load stored credentials")
		}
		if len(filled) > 0 {
			logger.Info().Strs("providers", filled).Msg("credentials loaded from database")
		}
		dbpool.Close()
	}

	providers, err := image.FromConfig(cfg, image.BuildOptions{
		ImageSize:      cfg.ProxyImageSize,
		InferenceSteps: proxyInferenceSteps,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid provider configuration")
	}
	jobs := generation.New(providers, generation.PolicyFromConfig(cfg), generation.WithLogger(&logger))
	if active := jobs.Active(); active != nil {
		logger.Info().Str("provider", active.Name()).Msg("image provider active")
	} else {
		logger.Warn().Msg("no image provider configured; /generate will answer 500")
	}

	directory := moltbook.NewClient(moltbook.Options{
		APIKey:     cfg.MoltbookAPIKey,
		BaseURL:    cfg.MoltbookBaseURL,
		ProfileURL: cfg.MoltbookProfileURL,
		Logger:     &logger,
	})

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	var geo geoip.CountryResolver
	if resolver != nil {
		geo = resolver
		defer resolver.Close()
	}

	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid PROXY_TRUSTED_PROXIES")
	}

	app := handlers.NewApp(cfg, logger, jobs, directory)
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		TrustedProxies:  trusted,
		GeoIP:           geo,
	})

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Msgf("proxy listening on :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
