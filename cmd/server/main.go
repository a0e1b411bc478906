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

	"github.com/gardenpay/backend/docs"
	"github.com/gardenpay/backend/internal/config"
	"github.com/gardenpay/backend/internal/database"
	"github.com/gardenpay/backend/internal/gateway"
	"github.com/gardenpay/backend/internal/handlers"
	mW "github.com/gardenpay/backend/internal/middleware"
	"github.com/gardenpay/backend/internal/models"
	"github.com/gardenpay/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title GardenPay Backend API
// @version 1.0
// @description Payment brokering and revenue-share settlement service
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
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

	viper.BindEnv("gateway.flitt.base_url", "GATEWAY_FLITT_BASE_URL")
	viper.BindEnv("gateway.flitt.api_key", "GATEWAY_FLITT_API_KEY")
	viper.BindEnv("gateway.flitt.payment_page_url", "GATEWAY_FLITT_PAYMENT_PAGE_URL")
	viper.BindEnv("gateway.ecomm.endpoint", "GATEWAY_ECOMM_ENDPOINT")
	viper.BindEnv("gateway.ecomm.cert_file", "GATEWAY_ECOMM_CERT_FILE")
	viper.BindEnv("gateway.ecomm.key_file", "GATEWAY_ECOMM_KEY_FILE")
	viper.BindEnv("gateway.ecomm.ca_file", "GATEWAY_ECOMM_CA_FILE")
	viper.BindEnv("gateway.ecomm.payment_page_url", "GATEWAY_ECOMM_PAYMENT_PAGE_URL")
	viper.BindEnv("platform.settlement_account", "PLATFORM_SETTLEMENT_ACCOUNT")
	viper.BindEnv("reconcile.schedule", "RECONCILE_SCHEDULE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "GardenPay Backend API"
	docs.SwaggerInfo.Description = "Payment brokering and revenue-share settlement service"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	gatewayConfig := config.GetGatewayConfig()
	gateways := map[models.GatewayKind]gateway.Client{
		models.GatewayFlitt: gateway.NewFlittClient(gateway.FlittConfig{
			BaseURL: gatewayConfig.Flitt.BaseURL,
			APIKey:  gatewayConfig.Flitt.APIKey,
			Timeout: gatewayConfig.Flitt.Timeout,
		}),
		models.GatewayEcomm: gateway.NewEcommClient(gateway.EcommConfig{
			Endpoint: gatewayConfig.Ecomm.Endpoint,
			CertFile: gatewayConfig.Ecomm.CertFile,
			KeyFile:  gatewayConfig.Ecomm.KeyFile,
			CAFile:   gatewayConfig.Ecomm.CAFile,
			Timeout:  gatewayConfig.Ecomm.Timeout,
		}),
	}

	settlementService := services.NewSettlementService(db, gatewayConfig.SettlementAccount)
	statusService := services.NewStatusService(db, redisClient, gateways, settlementService)
	orderService := services.NewOrderService(db, gateways, gatewayConfig)
	reconcileService := services.NewReconcileService(db, statusService)

	if err := reconcileService.Start(viper.GetString("reconcile.schedule")); err != nil {
		log.Fatalf("Failed to start reconciliation sweep: %v", err)
	}
	defer reconcileService.Stop()

	paymentHandler := handlers.NewPaymentHandler(orderService, statusService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
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
		// Gateway callbacks arrive unauthenticated, on both verbs
		r.Get("/payments/callback", paymentHandler.GatewayCallback)
		r.Post("/payments/callback", paymentHandler.GatewayCallback)

		// Payer-facing status polling from the redirect page
		r.Get("/payments/{orderId}/status", paymentHandler.GetPaymentStatus)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/payments", paymentHandler.CreatePayment)
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
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
