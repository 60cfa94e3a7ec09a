package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"factduel/config"
	"factduel/handlers"
	"factduel/middleware"
	"factduel/models"
	"factduel/routes"
	"factduel/services"
	"factduel/telemetry"
	"factduel/workers"

	"github.com/gin-gonic/gin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, "factduel", cfg.OTelEndpoint)
	if err != nil {
		log.Printf("Tracing disabled: %v", err)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.DuelSession{},
		&models.ScoreLedgerEntry{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Redis is not reachable yet: %v", err)
	}

	var store services.SessionStore
	switch cfg.SessionBackend {
	case config.BackendRedis:
		store = services.NewRedisSessionStore(redisClient, cfg.RedisSessionTTL)
	default:
		store = services.NewGormSessionStore(db)
	}
	log.Printf("Using %s session store", cfg.SessionBackend)

	// Initialize services
	ledger := services.NewGormScoreLedger(db)
	directory := services.NewCachedDirectory(services.NewUserDirectory(db), redisClient, cfg.NameCacheTTL)
	verifier := services.NewJWTVerifier(cfg.JWTSecret)
	duelService := services.NewDuelService(store, ledger, directory, cfg.QuestionTotal)

	// Initialize WebSocket hub
	hub := services.NewHub(services.NewPairingQueue(), duelService, directory)
	go hub.Run(ctx)

	sweeper := workers.NewIdleDuelSweeper(duelService, hub, cfg.IdleTimeout, cfg.SweepInterval)
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start idle duel sweeper:", err)
	}

	duelHandler := handlers.NewDuelHandler(duelService, ledger, hub)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	routes.SetupRoutes(router, duelHandler, hub, verifier, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := sweeper.Stop(); err != nil {
		log.Printf("Sweeper shutdown error: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}
	log.Println("Server stopped")
}
