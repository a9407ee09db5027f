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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/essater/payme/docs"
	"github.com/essater/payme/internal/database"
	"github.com/essater/payme/internal/handlers"
	mW "github.com/essater/payme/internal/middleware"
	"github.com/essater/payme/internal/services"
)

// @title PayMe API
// @version 1.0
// @description Peer to peer money movement backend
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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

	viper.BindEnv("transfer.max_amount", "TRANSFER_MAX_AMOUNT")
	viper.BindEnv("dispatcher.interval", "DISPATCHER_INTERVAL")

	// 1,000,000.00 TRY in kurus
	viper.SetDefault("transfer.max_amount", int64(100_000_000))
	viper.SetDefault("dispatcher.interval", 2*time.Second)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "PayMe API"
	docs.SwaggerInfo.Description = "Peer to peer money movement backend"
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

	ledgerService := services.NewLedgerService(db, viper.GetInt64("transfer.max_amount"))
	transferService := services.NewTransferService(db, ledgerService)
	requestService := services.NewRequestService(db, ledgerService)
	notificationService := services.NewNotificationService(db, redisClient, ledgerService, viper.GetDuration("dispatcher.interval"))
	iso20022Service := services.NewISO20022Service(db)
	authService := services.NewAuthService(db, redisClient)
	qrService := services.NewQRService(db, redisClient)
	qrHandler := handlers.NewQRHandler(qrService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Notification dispatcher runs for the lifetime of the process
	dispatchCtx, stopDispatcher := context.WithCancel(context.Background())
	go notificationService.Run(dispatchCtx)

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

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

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

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Transfers
			r.Post("/transfers", transferService.SendMoney)
			r.Get("/transfers/lookup", transferService.LookupRecipient)

			// Account enquiry
			r.Get("/accounts/me/balance", transferService.GetBalance)
			r.Get("/accounts/me/transactions", transferService.ListTransactions)

			// Friends
			r.Get("/friends", requestService.ListFriends)
			r.Delete("/friends/{friendId}", requestService.RemoveFriend)
			r.Get("/friends/requests", requestService.ListFriendRequests)
			r.Post("/friends/requests", requestService.SendFriendRequest)
			r.Post("/friends/requests/{requesterId}/accept", requestService.AcceptFriendRequest)
			r.Post("/friends/requests/{requesterId}/reject", requestService.RejectFriendRequest)

			// Money requests
			r.Get("/money-requests", requestService.ListMoneyRequests)
			r.Post("/money-requests", requestService.RequestMoney)
			r.Post("/money-requests/{requestId}/accept", requestService.AcceptMoneyRequest)
			r.Post("/money-requests/{requestId}/reject", requestService.RejectMoneyRequest)

			// Notifications
			r.Get("/notifications", notificationService.ListNotifications)
			r.Get("/notifications/unread-count", notificationService.UnreadCount)
			r.Post("/notifications/read-all", notificationService.MarkAllRead)
			r.Post("/notifications/{id}/read", notificationService.MarkRead)
			r.Delete("/notifications/{id}", notificationService.DeleteNotification)

			// ISO 20022 endpoints
			r.Post("/iso20022/convert", iso20022Service.ConvertToISO20022)
			r.Post("/iso20022/settlement", iso20022Service.ProcessSettlement)

			// QR endpoints
			r.Post("/qr/generate", qrHandler.GenerateQR)
			r.Post("/qr/process", qrHandler.ProcessQR)
		})
	})

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
	stopDispatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
