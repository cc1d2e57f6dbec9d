package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paymux/paymux/feed"
	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/handler"
	"github.com/paymux/paymux/infra/config"
	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/infra/opensearch"
	"github.com/paymux/paymux/infra/response"
	"github.com/paymux/paymux/payment"
	"github.com/paymux/paymux/router"
	v1 "github.com/paymux/paymux/router/v1"
	"github.com/paymux/paymux/routing"
)

var (
	PORT             string
	openSearchLogger *opensearch.Logger
)

func init() {
	// Load Env
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, reading configuration from the environment")
	}
	// init conf
	_ = config.App()

	PORT = config.GetEnv("APP_PORT", "9999")

	// Initialize OpenSearch client and logger
	cfg := config.GetAppConfig()
	if cfg.EnableLogging {
		osClient, err := opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without attempt audit logging...")
		} else {
			openSearchLogger = opensearch.NewLogger(osClient)
			log.Println("OpenSearch attempt audit logging initialized")
		}
	} else {
		log.Println("OpenSearch logging is disabled")
	}
}

func main() {
	cfg := config.GetAppConfig()

	if openSearchLogger != nil {
		logger.InitGlobalLogger(openSearchLogger)
	} else {
		logger.InitGlobalLogger(nil)
	}

	// Credential store over SQLite; refuses to start without a master key.
	masterKey := config.App().EncryptKey
	if masterKey == "" {
		log.Fatal("MASTER_ENCRYPTION_KEY is required")
	}
	storage, err := config.NewSQLiteStorage(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open credential storage: %v", err)
	}
	store, err := config.NewCredentialStore(storage, gateway.DefaultRegistry, masterKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential store: %v", err)
	}
	defer store.Close()

	instanceCache := gateway.NewInstanceCache(256, 30*time.Minute)
	resolver := gateway.NewResolver(store, gateway.DefaultRegistry, instanceCache, cfg.ProbeTimeout)

	// Volume tracking prefers Redis so the rolling monthly totals survive
	// restarts; without Redis it degrades to process-local memory.
	var volumes feed.VolumeTracker
	if redisVolumes, err := feed.NewRedisVolumeTracker(cfg.RedisURL); err != nil {
		log.Printf("Redis unavailable, volume tracking is in-memory only: %v", err)
		volumes = feed.NewMemoryVolumeTracker()
	} else {
		volumes = redisVolumes
	}

	// The performance feed only exists when the attempt audit index does.
	var feedSvc *feed.Service
	var snapshots routing.SnapshotSource
	if openSearchLogger != nil {
		feedSvc = feed.NewService(openSearchLogger, cfg.FeedWindowDays, cfg.FeedRefreshInterval)
		snapshots = feedSvc
	}

	defaultStrategy, err := routing.ParseStrategy(cfg.DefaultStrategy, routing.StrategyBalanced)
	if err != nil {
		log.Printf("Unknown DEFAULT_STRATEGY %q, using balanced", cfg.DefaultStrategy)
		defaultStrategy = routing.StrategyBalanced
	}

	engine := routing.NewEngine(resolver, snapshots, volumes, cfg.DefaultRegion, defaultStrategy)
	orchestrator := payment.NewOrchestrator(resolver, engine, feedSvc, volumes, openSearchLogger, cfg.AttemptTimeout)

	validate := validator.New()
	tenantLimiter := middle.NewTenantRateLimiter()
	handlers := &v1.Handlers{
		Payment:   handler.NewPaymentHandler(orchestrator, validate),
		Routing:   handler.NewRoutingHandler(engine),
		Config:    handler.NewConfigHandler(store, gateway.DefaultRegistry, resolver, validate),
		Analytics: handler.NewAnalyticsHandler(openSearchLogger, feedSvc),
		RateLimit: handler.NewTenantRateLimitHandler(tenantLimiter),
	}
	webhookHandler := handler.NewWebhookHandler(resolver, openSearchLogger)
	healthHandler := handler.NewHealthHandler(store, gateway.DefaultRegistry, feedSvc, openSearchLogger)

	// Chi Define Routes
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RealIP)
	r.Use(middle.RequestIDMiddleware())
	r.Use(middle.TenantMiddleware())
	r.Use(middle.RequestLoggingMiddleware())
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middleware.Timeout(120 * time.Second))

	// Security Middleware
	rateLimiter := middle.NewRateLimiter()
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.IPWhitelistMiddleware())
	r.Use(middle.RateLimitMiddleware(rateLimiter))
	r.Use(middle.RequestValidationMiddleware())

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Tenant-ID", "X-Request-ID", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300, // Preflight cache time (second)
	}))

	// Health check endpoint (no auth required)
	r.Get("/health", healthHandler.CheckHealth)

	// Prometheus metrics (no auth required)
	r.Handle("/metrics", promhttp.Handler())

	// Webhook routes for gateway notifications (no auth required; payloads
	// authenticate through their signatures)
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/{gateway}", webhookHandler.HandleWebhook)
	})

	// API routes with authentication
	r.Group(func(r chi.Router) {
		router.Routes(r, handlers, tenantLimiter)
	})

	// Not Found
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.WriteJSON(w, http.StatusNotFound, response.Response{Code: http.StatusNotFound, Success: false, Message: "Not Found"})
	})

	// Create a context that listens for interrupt and terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if feedSvc != nil {
		feedSvc.Start(ctx)
		defer feedSvc.Stop()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", PORT),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run the HTTP server in a goroutine
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(err.Error())
		}
	}()

	log.Println("API is running on", PORT)

	// Block until a signal is received
	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
