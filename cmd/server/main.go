package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/innovfix/onlycare-calls/internal/auth"
	"github.com/innovfix/onlycare-calls/internal/config"
	"github.com/innovfix/onlycare-calls/internal/database"
	"github.com/innovfix/onlycare-calls/internal/handler"
	"github.com/innovfix/onlycare-calls/internal/jobs"
	"github.com/innovfix/onlycare-calls/internal/matching"
	"github.com/innovfix/onlycare-calls/internal/media"
	"github.com/innovfix/onlycare-calls/internal/middleware"
	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/push"
	"github.com/innovfix/onlycare-calls/internal/redis"
	"github.com/innovfix/onlycare-calls/internal/relay"
	"github.com/innovfix/onlycare-calls/internal/repository"
	"github.com/innovfix/onlycare-calls/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    config.DBMaxOpenConns,
		MaxIdleConns:    config.DBMaxIdleConns,
		ConnMaxLifetime: config.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.MigrateOnStart {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	store := repository.NewStore(db)

	var gateway push.Gateway = push.LogGateway{}
	if cfg.FCMCredentialsFile != "" {
		fcm, err := push.NewFCMGateway(context.Background(), cfg.FCMProjectID, cfg.FCMCredentialsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init push gateway")
		}
		gateway = fcm
	}
	emitter := relay.NewClient(cfg.RelayURL, cfg.RelaySharedSecret, config.RelayClientTimeout)

	dispatcher := jobs.NewOutboxDispatcher(
		store, gateway, emitter, cfg.OutboxMaxAttempts, cfg.OutboxMaxAge(), config.OutboxDispatchInterval,
	)

	matcher := service.NewMatchingService(
		store,
		matching.Thresholds{Medium: cfg.TierMediumThreshold, High: cfg.TierHighThreshold},
		redis.NewLocker(redisClient.Client),
	)
	callService := service.NewCallService(
		store,
		service.NewBillingService(cfg.CoinValue),
		service.NewNotifier(dispatcher),
		media.NewTokenIssuer(cfg.MediaAppID, cfg.MediaAppCertificate, config.MediaCredentialTTL),
		matcher,
		service.DefaultRates{
			model.CallKindAudio: cfg.AudioRatePerMinute,
			model.CallKindVideo: cfg.VideoRatePerMinute,
		},
	)
	presenceService := service.NewPresenceService(store)

	authMiddleware := middleware.NewAuthMiddleware(auth.NewTokenVerifier(cfg.AuthTokenSecret))
	initiateLimit := middleware.NewRateLimitMiddleware(
		middleware.NewRedisRateLimiter(redisClient.Client), "initiate", cfg.CallRateLimitPerMin,
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	callHandler := handler.NewCallHandler(callService, initiateLimit.Handler)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/calls", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", callHandler.Routes())
	})

	dispatcher.Start()
	defer dispatcher.Stop()

	presenceJob := jobs.NewPresenceJob(
		presenceService, callService, store.Outbox(), cfg.RingTimeout(), config.PresenceJobInterval,
	)
	presenceJob.Start()
	defer presenceJob.Stop()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		IdleTimeout: config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
