package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wash-queue-backend/config"
	"wash-queue-backend/internal/api"
	"wash-queue-backend/internal/db"
	"wash-queue-backend/internal/hub"
	"wash-queue-backend/internal/notification"
	"wash-queue-backend/internal/relay"
	"wash-queue-backend/internal/sched"
	"wash-queue-backend/internal/store"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "wash-queue-backend ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.Fatalf("failed to load timezone %q: %v", cfg.Scheduler.Timezone, err)
	}

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build the scheduling engine over the configured machine pool.
	clock := sched.RealClock()
	completed := relay.NewCompletedSet(clock, loc)

	names := cfg.Scheduler.Names()
	machines := make([]sched.MachineConfig, len(names))
	for i, name := range names {
		machines[i] = sched.MachineConfig{ID: int64(i + 1), Name: name}
	}
	engine := sched.NewEngine(machines, completed, clock, cfg.Scheduler.LeadWindow)
	logger.Printf("scheduling engine initialized with %d machines (lead window %s)", len(machines), cfg.Scheduler.LeadWindow)

	broadcastHub := hub.New()

	// Web push is optional; without VAPID keys only the websocket
	// channel carries notifications.
	var webpushOptions *webpush.Options
	var workerPool *notification.WorkerPool
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		workerPool.Start(ctx)
	} else {
		logger.Println("VAPID keys are not configured; web push delivery is disabled")
	}

	eventRelay := relay.New(engine, appStore, broadcastHub, workerPool, completed, cfg.Scheduler.TickInterval)
	engine.SetSink(eventRelay)

	if err := eventRelay.Bootstrap(ctx); err != nil {
		logger.Fatalf("failed to bootstrap completed-wash set: %v", err)
	}

	// Drive lazy expiry and the notification scheduler.
	go eventRelay.Run(ctx)

	// Initialize router
	router := api.NewRouter(engine, appStore, eventRelay, broadcastHub, webpushOptions, &cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
