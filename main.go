package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gatherly-backend/cache"
	"gatherly-backend/config"
	"gatherly-backend/handlers"
	"gatherly-backend/logger"
	"gatherly-backend/messaging"
	"gatherly-backend/store"
	"gatherly-backend/verify"
)

func connectToDatabase(cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	log.Info("Connected to database")
	return pool, nil
}

func runMigrations(db *pgxpool.Pool, log *zap.Logger) error {
	log.Info("Running database migrations")

	migrationsDir := "migrations"
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(context.Background(), string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		log.Info("Migration completed", zap.String("file", filename))
	}

	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting gatherly backend")

	pool, err := connectToDatabase(cfg, log)
	if err != nil {
		log.Fatal("Unable to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := runMigrations(pool, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.QR.ImageDir, 0o755); err != nil {
		log.Fatal("Failed to create QR image directory", zap.Error(err))
	}

	pg := store.NewPostgresStore(pool, log)

	var cacheStore cache.Store
	if cfg.Redis.Enabled {
		cacheStore = cache.NewRedisStore(&redis.Options{Addr: cfg.Redis.Addr})
		log.Info("Using redis event cache", zap.String("addr", cfg.Redis.Addr))
	} else {
		cacheStore = cache.NewMemoryStore()
	}
	events := cache.NewEvents(pg, cacheStore, log)

	var notifier verify.Notifier
	if cfg.NATS.Enabled {
		natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
		notifier = natsClient
		log.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	verifier := verify.NewVerifier(pg, notifier, log)

	// Create handlers
	eventHandler := handlers.NewEventHandler(events, log)
	trackingHandler := handlers.NewTrackingHandler(events, pg, verifier, cfg.QR.ImageDir, cfg.QR.ImageSize, log)

	// Setup Gin
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Staff-Id"}
	router.Use(cors.New(corsConfig))

	// API routes
	api := router.Group("/api/v1")
	{
		// Event routes
		api.GET("/events/:id", eventHandler.GetEvent)
		api.GET("/events/:id/teams", eventHandler.ListTeams)

		// Tracking routes
		api.POST("/events/:id/tracking", trackingHandler.CreateTrackingConfig)
		api.GET("/events/:id/teams/:teamId/qrcodes", trackingHandler.ListTeamQRCodes)
		api.POST("/events/:id/verify-qr", trackingHandler.VerifyQR)
		api.GET("/events/:id/scans", trackingHandler.ListScans)
		api.GET("/qrcodes/:id/image", trackingHandler.GetQRImage)

		// Health check route
		api.GET("/test-db", func(c *gin.Context) {
			if err := pool.Ping(context.Background()); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Database connection failed: " + err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "Database connection OK"})
		})
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})

	addr := cfg.ServerAddr()
	log.Info("Server starting", zap.String("address", addr))
	if err := router.Run(addr); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
