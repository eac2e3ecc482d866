package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/omer3110/livecart-service/internal/auth"
	c "github.com/omer3110/livecart-service/internal/cache"
	"github.com/omer3110/livecart-service/internal/events"
	"github.com/omer3110/livecart-service/internal/identity"
	"github.com/omer3110/livecart-service/internal/poller"
	"github.com/omer3110/livecart-service/internal/repository"
	"github.com/omer3110/livecart-service/internal/session"
	"github.com/omer3110/livecart-service/internal/ws"
)

type Config struct {
	HTTPPort        string
	Mongo           repository.MongoConfig
	RedisAddr       string
	RedisPassword   string
	KafkaBrokers    []string
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		HTTPPort: getEnv("HTTP_PORT", "8090"),
		Mongo: repository.MongoConfig{
			URI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:    getEnv("MONGO_DB_NAME", "livecartdb"),
			MaxPoolSize: getEnvUint("MONGO_MAX_POOL_SIZE", 50),
			MinPoolSize: getEnvUint("MONGO_MIN_POOL_SIZE", 5),
		},
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:    strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		IdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT_SECONDS", 120),
		RequestTimeout:  10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseUint(value, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultSeconds int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}

func main() {
	cfg := loadConfig()

	// Set up MongoDB connection
	ctx := context.Background()
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.Mongo)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	log.Printf("Connected to MongoDB at %s", cfg.Mongo.URI)

	cartRepo := repository.NewMongoCartRepository(mongoDB)
	grantRepo := repository.NewMongoGrantRepository(mongoDB)
	resolver := identity.NewMongoResolver(mongoDB)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Redis connection failed:", err)
	}
	log.Printf("Redis ping succeeded")

	snapshotCache := c.NewRedisCache(redisClient)
	gate := auth.NewGate(grantRepo)
	publisher := events.NewPublisher(cfg.KafkaBrokers...)
	defer publisher.Close()

	registry := session.NewRegistry(cartRepo, grantRepo, resolver, snapshotCache, gate, publisher, session.Config{
		IdleTimeout: cfg.IdleTimeout,
	})

	liveHandler := ws.NewLiveCartHandler(registry, cfg.RequestTimeout)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(ws.GatewayAuthMiddleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes. The websocket route stays outside the timeout
	// middleware: live connections outlive any request deadline.
	r.Route("/api/v1/carts/{cart_id}", func(r chi.Router) {
		r.Get("/live", liveHandler.ServeLive)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Use(middleware.Compress(5))
			r.Get("/live/participants", liveHandler.ListParticipants)
			r.Get("/collaborators", liveHandler.ListCollaborators)
			r.Post("/collaborators", liveHandler.AddCollaborator)
			r.Delete("/collaborators/{username}", liveHandler.RemoveCollaborator)
		})
	})

	// Consume checkout completions to end sessions for bought carts
	pollerCtx, cancelPoller := context.WithCancel(ctx)
	checkoutPoller := poller.NewPoller(registry, cfg.KafkaBrokers...)
	go checkoutPoller.Run(pollerCtx)

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     otelhttp.NewHandler(r, "livecart-service"),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("livecart-service listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down livecart-service...")
	cancelPoller()
	checkoutPoller.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}

	// Flush every live session before letting go of the process.
	registry.Shutdown(shutdownCtx)

	if err := mongoDB.Client().Disconnect(ctx); err != nil {
		log.Printf("mongo disconnect error: %v", err)
	}
	log.Println("livecart-service stopped")
}
