package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/4mln/B2B/internal/auth"
	"github.com/4mln/B2B/internal/config"
	"github.com/4mln/B2B/internal/db"
	httphandler "github.com/4mln/B2B/internal/http"
	"github.com/4mln/B2B/internal/http/handlers"
	"github.com/4mln/B2B/internal/ledger"
	"github.com/4mln/B2B/internal/ratelimit"
	"github.com/4mln/B2B/internal/repo"
	"github.com/4mln/B2B/internal/sms"
)

func main() {
	// Load .env from CWD so it works from a bare checkout (env vars override)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis backs the revocation ledger and rate limits. Whether an
	// outage at boot is fatal depends on REQUIRE_REFRESH_REDIS.
	redisClient, err := db.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		if redisClient == nil || cfg.RequireRefreshRedis {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		log.Printf("Redis unavailable at startup, continuing degraded: %v", err)
	}
	defer redisClient.Close()

	// Initialize repositories
	userRepo := repo.NewUserRepo(database)
	deviceRepo := repo.NewDeviceRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	sessionRepo := repo.NewSessionRepo(database)

	// Initialize auth services
	smsProvider := sms.FromConfig(cfg.SMSProvider)
	otpManager := auth.NewOTPManager(
		otpRepo,
		smsProvider,
		time.Duration(cfg.OTPExpireMinutes)*time.Minute,
		cfg.MaxOTPAttempts,
	)
	jwtService := auth.NewJWTService(
		cfg.SecretKey,
		cfg.Algorithm,
		time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute,
		time.Duration(cfg.RefreshTokenExpireDays)*24*time.Hour,
	)
	revocationLedger := ledger.New(redisClient)
	limiter := ratelimit.New(redisClient)

	authService := auth.NewService(
		auth.ServiceConfig{
			BypassOTP:             cfg.BypassOTP,
			RequireRefreshRedis:   cfg.RequireRefreshRedis,
			MaxOTPRequestsPerHour: cfg.MaxOTPRequestsPerHour,
		},
		otpManager,
		jwtService,
		revocationLedger,
		limiter,
		userRepo,
		deviceRepo,
		sessionRepo,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	healthHandler := handlers.NewHealthHandler(database, revocationLedger)

	// Create router
	router := httphandler.NewRouter(authHandler, healthHandler, jwtService, userRepo)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s (env=%s)", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repo root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
