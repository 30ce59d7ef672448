package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/beloyal-club/BudAlert-sub003/config"
	httpDelivery "github.com/beloyal-club/BudAlert-sub003/internal/delivery/http"
	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
	"github.com/beloyal-club/BudAlert-sub003/internal/infrastructure/storage"
	"github.com/beloyal-club/BudAlert-sub003/internal/usecase"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting BudAlert Backend v1.0.0")
	log.Printf("Environment: %s", cfg.Server.Environment)
	log.Printf("Port: %s", cfg.Server.Port)
	log.Printf("Storage Type: %s", cfg.Storage.Type)

	// Initialize the storage backend
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	// Initialize usecase layer
	identityService := usecase.NewIdentityService(store.Brands(), store.Products(), store.Inventory())
	materializer := usecase.NewMaterializer(store.Inventory(), store.Snapshots())
	deadLetterService := usecase.NewDeadLetterService(store.DeadLetters(), usecase.DeadLetterConfig{
		PreviewBytes: cfg.DeadLetter.PreviewBytes,
	})
	ingestionService := usecase.NewIngestionService(
		store.Retailers(),
		identityService,
		store.Snapshots(),
		materializer,
		deadLetterService,
	)
	analyticsService := usecase.NewAnalyticsService(
		store.Brands(),
		store.Retailers(),
		store.Inventory(),
		store.Analytics(),
	)
	queryService := usecase.NewQueryService(
		store.Brands(),
		store.Products(),
		store.Inventory(),
		store.Snapshots(),
		store.Analytics(),
	)

	log.Printf("Rate limit: %.1f req/s per client (burst %d)", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	log.Printf("Dead letter preview: %d bytes", cfg.DeadLetter.PreviewBytes)

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(
		ingestionService,
		identityService,
		queryService,
		deadLetterService,
		analyticsService,
		store.Retailers(),
		cfg.Analytics.DefaultPeriod,
	)

	// Setup router
	router := httpDelivery.SetupRouter(cfg, handler)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	log.Printf("Server listening on %s", addr)

	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// openStore picks the persistence backend from configuration
func openStore(cfg *config.Config) (domain.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		log.Printf("SQLite database: %s", cfg.Storage.Path)
		return storage.OpenSQLite(cfg.Storage.Path)
	case "postgres":
		return storage.OpenPostgres(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}

func init() {
	// Set log flags for better debugging
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.SetOutput(os.Stdout)
}
