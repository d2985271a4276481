// codegate-server is the HTTP gateway for untrusted code execution.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/ronai/codegate/internal/api"
	"github.com/ronai/codegate/internal/audit"
	"github.com/ronai/codegate/internal/config"
	"github.com/ronai/codegate/internal/events"
	"github.com/ronai/codegate/internal/export"
	"github.com/ronai/codegate/internal/generate"
	"github.com/ronai/codegate/internal/sandbox"
)

func main() {
	// In process mode the pool re-executes this binary as a worker.
	if len(os.Args) > 1 && os.Args[1] == sandbox.WorkerFlag {
		sandbox.RunWorker()
		return
	}

	configPath := flag.String("config", "", "Path to configuration file")
	devMode := flag.Bool("dev", false, "Enable development mode (no service token, in-memory audit, no Redis)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	// Load configuration (uses defaults if no config file found)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Override with flags
	if *port != 0 {
		cfg.Server.Port = *port
	}

	if *devMode {
		log.Println("Running in development mode")
		cfg.Auth.ServiceToken = ""
		cfg.Audit.Driver = "memory"
		cfg.Redis.Enabled = false
	}

	runner, err := sandbox.NewRunner(cfg.Sandbox)
	if err != nil {
		log.Fatalf("Failed to create sandbox runner: %v", err)
	}
	defer runner.Close()
	log.Printf("Sandbox mode: %s", cfg.Sandbox.Mode)

	deps := api.Deps{
		Runner:   runner,
		Exporter: export.NewExporter(afero.NewOsFs(), cfg.Export),
	}

	store, err := audit.Open(context.Background(), cfg.Audit)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}
	if store != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			store.Close(ctx)
		}()
		deps.Store = store
		log.Printf("Audit store: %s", cfg.Audit.Driver)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = events.ConnectRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		deps.Publisher = events.NewPublisher(redisClient)
		log.Printf("Publishing execution events on %s", events.ExecutionChannel)
	}

	if cfg.Generator.Enabled || cfg.Generator.APIKey != "" {
		deps.Generator = generate.NewOpenAIGenerator(cfg.Generator)
	} else {
		log.Println("Generative backend not configured; /api/test-gemini will report it missing")
	}

	server := api.NewServer(cfg, deps)

	// Configure HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting codegate server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
