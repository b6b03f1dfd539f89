package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lojacraft/backend/docs"
	"github.com/lojacraft/backend/internal/database"
	"github.com/lojacraft/backend/internal/gameserver"
	"github.com/lojacraft/backend/internal/handlers"
	mW "github.com/lojacraft/backend/internal/middleware"
	"github.com/lojacraft/backend/internal/payments"
	"github.com/lojacraft/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title LojaCraft Store API
// @version 1.0
// @description API for the LojaCraft game store order pipeline
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("pix.base_url", "PIX_BASE_URL")
	viper.BindEnv("pix.api_key", "PIX_API_KEY")
	viper.BindEnv("pix.webhook_secret", "PIX_WEBHOOK_SECRET")

	viper.BindEnv("gameserver.base_url", "GAMESERVER_BASE_URL")
	viper.BindEnv("gameserver.token", "GAMESERVER_TOKEN")

	viper.BindEnv("delivery.attempts", "DELIVERY_ATTEMPTS")
	viper.BindEnv("delivery.retry_delay", "DELIVERY_RETRY_DELAY")
	viper.BindEnv("delivery.queue_interval", "DELIVERY_QUEUE_INTERVAL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "LojaCraft Store API"
	docs.SwaggerInfo.Description = "API for the LojaCraft game store order pipeline"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	pixClient := payments.NewPixClient()
	serverClient := gameserver.NewHTTPClient()

	ledgerService := services.NewLedgerService(db)
	deliveryService := services.NewDeliveryService(db, ledgerService, serverClient)
	fulfillmentService := services.NewFulfillmentService(db, ledgerService, deliveryService, redisClient)
	webhookService := services.NewWebhookService(ledgerService, fulfillmentService)
	checkoutService := services.NewCheckoutService(db, redisClient, ledgerService, pixClient, webhookService)
	settlementService := services.NewSettlementService(ledgerService)
	catalogService := services.NewCatalogService(db)
	authService := services.NewAuthService(db, redisClient)
	adminHandler := handlers.NewAdminHandler(ledgerService, fulfillmentService, deliveryService, serverClient)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/products", catalogService.ListProducts)

		// Provider callbacks are authenticated by signature, not JWT
		r.Post("/webhooks/pix", webhookService.HandleProviderWebhook)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetAccount)
			r.Post("/auth/link-game", authService.LinkGameIdentity)

			r.Post("/payments", checkoutService.CreatePayment)
			r.Get("/payments/{paymentId}", checkoutService.GetPayment)
			r.Get("/payments/{paymentId}/status", checkoutService.GetPaymentStatus)
			r.Post("/payments/{paymentId}/cancel", checkoutService.CancelPayment)

			// Operator endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.AdminOnly)

				r.Post("/admin/grants", adminHandler.CreateGrant)
				r.Post("/admin/grants/{grantId}/deliver", adminHandler.DeliverGrant)
				r.Get("/admin/queue", adminHandler.GetQueue)
				r.Post("/admin/queue/process", adminHandler.ProcessQueue)
				r.Get("/admin/server/status", adminHandler.ServerStatus)
				r.Get("/admin/settlement/export", settlementService.ExportSettlement)
			})
		})
	})

	// Background workers
	rootCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				checkoutService.ExpireStale()
			}
		}
	}()

	viper.SetDefault("delivery.queue_interval", 2*time.Minute)
	go func() {
		ticker := time.NewTicker(viper.GetDuration("delivery.queue_interval"))
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if _, err := deliveryService.ProcessPendingQueue(rootCtx); err != nil {
					log.Printf("Delivery queue pass failed: %v", err)
				}
			}
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	cancelWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
