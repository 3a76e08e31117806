package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coderelay/core/internal/api"
	"github.com/coderelay/core/internal/api/middleware"
	"github.com/coderelay/core/internal/app"
	"github.com/coderelay/core/internal/channel"
	"github.com/coderelay/core/internal/cli"
	"github.com/coderelay/core/internal/config"
	"github.com/coderelay/core/internal/database"
	"github.com/coderelay/core/internal/services"
)

const logRetention = 30 * 24 * time.Hour

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Check if running CLI command
	if len(os.Args) > 1 {
		cli.Execute(db, cfg)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := app.BuildCodeStack(ctx, cfg, db)
	if err != nil {
		log.Fatalf("Failed to set up code resolution: %v", err)
	}
	if n, err := stack.LogService.PurgeOlderThan(time.Now().Add(-logRetention)); err == nil && n > 0 {
		log.Printf("Purged %d old log entries", n)
	}

	tokens := channel.NewTokenIssuer(cfg.JWTSecret, cfg.Channel.PairingTTL.Std(), cfg.Channel.DeviceTokenTTL.Std())
	gateway := channel.NewGateway(channel.NewMachine(), tokens, cfg.PublicURL, stack.LogService)
	defer gateway.Close()

	delivery := services.NewDeliveryService(gateway, db, stack.LogService, services.DeliveryOptions{
		Recipients:  cfg.Channel.Recipients,
		Template:    cfg.Channel.MessageTemplate,
		SendTimeout: cfg.Channel.SendTimeout.Std(),
	})
	if len(delivery.Recipients()) == 0 {
		log.Println("Warning: no channel recipients configured, codes can be fetched but not relayed")
	}

	var dedup services.Deduper = services.NewMemoryDeduper(services.DefaultDedupTTL)
	if cfg.RedisURL != "" {
		redisDedup, err := services.NewRedisDeduperFromURL(ctx, cfg.RedisURL, services.DefaultDedupTTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisDedup.Close()
		dedup = redisDedup
	}

	poller := services.NewPollScheduler(stack.Codes, delivery, dedup, stack.LogService, cfg.Poll.Interval.Std())
	poller.Start()
	defer poller.Stop()

	apiKeys, err := middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to initialize API key manager: %v", err)
	}

	router := api.SetupRouter(api.Dependencies{
		Config:     cfg,
		APIKeys:    apiKeys,
		LogService: stack.LogService,
		Codes:      stack.Codes,
		Delivery:   delivery,
		Gateway:    gateway,
		Sessions:   stack.Sessions,
		Started:    time.Now(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Starting Code Relay server on port %s", cfg.APIPort)
	log.Printf("Database path: %s", cfg.DatabasePath)
	log.Printf("API Key: %s", apiKeys.GetCurrentKey())

	// Offer a pairing code right away so a device can be linked from the console
	if payload, expiresAt, err := gateway.BeginPairing(); err != nil {
		log.Printf("Failed to start pairing: %v", err)
	} else {
		log.Printf("Scan to pair a device (expires %s):", expiresAt.Local().Format(time.Kitchen))
		channel.PrintQR(os.Stdout, payload)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		log.Fatalf("Failed to start server: %v", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
