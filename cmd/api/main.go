package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "pharmstock/api/swagger" // swagger docs
	"pharmstock/internal/database"
	"pharmstock/internal/handler"
	"pharmstock/internal/middleware"
	"pharmstock/internal/repository"
	"pharmstock/internal/scheduler"
	"pharmstock/internal/service"
	"pharmstock/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Pharmacy Procurement Engine API
// @version         1.0
// @description     Budget reservation and lot-based inventory allocation for hospital pharmaceutical procurement.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	dbHost := envOr("DB_HOST", "localhost")
	dbPort := envOr("DB_PORT", "5432")
	dbUser := envOr("DB_USER", "postgres")
	dbPassword := envOr("DB_PASSWORD", "postgres")
	dbName := envOr("DB_NAME", "pharmstock")
	dbSslMode := envOr("DB_SSLMODE", "disable")

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Connected to PostgreSQL successfully.")

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	lockTimeout := time.Duration(envIntOr("LOCK_TIMEOUT_MS", 3000)) * time.Millisecond
	sweepInterval := time.Duration(envIntOr("SWEEP_INTERVAL_MINUTES", 5)) * time.Minute

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db, lockTimeout)
	allocationRepo := repository.NewAllocationRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	lotRepo := repository.NewLotRepository(db)
	invTxRepo := repository.NewInventoryTxRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	budgetService := service.NewBudgetService(allocationRepo, reservationRepo, auditRepo, txManager, wsHub)
	reservationService := service.NewReservationService(allocationRepo, reservationRepo, auditRepo, txManager, budgetService, wsHub)
	lotService := service.NewLotService(lotRepo, invTxRepo, auditRepo, txManager, wsHub)
	sweeperService := service.NewSweeperService(reservationRepo, lotRepo, invTxRepo, auditRepo, txManager, wsHub)
	auditService := service.NewAuditService(auditRepo)

	// Initialize Handlers
	budgetHandler := handler.NewBudgetHandler(budgetService)
	reservationHandler := handler.NewReservationHandler(reservationService)
	lotHandler := handler.NewLotHandler(lotService)
	sweepHandler := handler.NewSweepHandler(sweeperService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Background expiry sweeper
	sweeper := scheduler.NewSweeper(sweeperService, sweepInterval)
	sweeper.Start()

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	budgetHandler.RegisterRoutes(router.Group(""))
	reservationHandler.RegisterRoutes(router.Group(""))
	lotHandler.RegisterRoutes(router.Group(""))
	sweepHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	port := envOr("PORT", "8080")

	// Stop the sweeper cleanly on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		sweeper.Stop()
		os.Exit(0)
	}()

	log.Printf("Server listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
