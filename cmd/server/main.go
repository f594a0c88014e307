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
	"github.com/spf13/viper"
	"github.com/stablebook/backend/docs"
	"github.com/stablebook/backend/internal/config"
	"github.com/stablebook/backend/internal/database"
	"github.com/stablebook/backend/internal/handlers"
	mW "github.com/stablebook/backend/internal/middleware"
	"github.com/stablebook/backend/internal/services"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Stablebook Billing API
// @version 1.0
// @description Ledger, invoicing and billing API for livery yard management
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

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

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Stablebook Billing API"
	docs.SwaggerInfo.Description = "Ledger, invoicing and billing API for livery yard management"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	billingCfg := config.LoadBillingConfig()

	// Collaborators
	packageRegistry := services.NewSQLPackageRegistry(db)
	horseRegistry := services.NewSQLHorseRegistry(db)
	identity := services.NewSQLIdentityDirectory(db)
	renderer := &services.FileDocumentRenderer{Dir: billingCfg.DocumentDir}
	notifier := services.NewRedisNotifier(redisClient)

	// Core services
	ledgerService := services.NewLedgerService(db, notifier)
	invoiceService := services.NewInvoiceService(db, billingCfg, renderer, notifier)
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService, billingCfg.DefaultDueDays)
	billingService := services.NewBillingService(db, ledgerService, packageRegistry, horseRegistry)
	reportService := services.NewReportService(db, redisClient, ledgerService, identity)
	packageService := services.NewPackageService(db)

	// Monthly billing scheduler
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go billingService.StartScheduler(schedulerCtx, billingCfg.SchedulerInterval)

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
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

	// Rendered invoice documents
	r.Handle("/static/invoices/*", http.StripPrefix("/static/invoices/",
		mW.StaticFileServer(billingCfg.DocumentDir)))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware)

		// Ledger
		r.Post("/ledger/payments", ledgerService.RecordPayment)
		r.Post("/ledger/entries", ledgerService.RecordEntry)
		r.Get("/ledger/entries", ledgerService.ListEntries)
		r.Post("/ledger/entries/{entryId}/void", ledgerService.VoidEntry)
		r.Get("/ledger/balance", ledgerService.GetBalance)
		r.Get("/ledger/receipts/{receiptNo}/qr", ledgerService.GetReceiptQR)

		// Invoices
		r.Post("/invoices", invoiceHandler.GenerateInvoice)
		r.Get("/invoices", invoiceHandler.ListInvoices)
		r.Get("/invoices/{invoiceId}", invoiceHandler.GetInvoice)
		r.Post("/invoices/{invoiceId}/issue", invoiceHandler.IssueInvoice)
		r.Post("/invoices/{invoiceId}/cancel", invoiceHandler.CancelInvoice)
		r.Post("/invoices/{invoiceId}/pay", invoiceHandler.PayInvoice)

		// Billing job
		r.Post("/billing/run", billingService.RunBilling)

		// Reports
		r.Get("/reports/account-summary", reportService.GetAccountSummary)
		r.Get("/reports/aged-debt", reportService.GetAgedDebt)
		r.Get("/reports/income", reportService.GetIncomeSummary)

		// Packages
		r.Get("/packages", packageService.ListPackages)
		r.Post("/packages", packageService.CreatePackage)
		r.Put("/packages/{id}", packageService.UpdatePackage)
		r.Delete("/packages/{id}", packageService.DeactivatePackage)
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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
