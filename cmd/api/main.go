package main

import (
	"log"
	"os"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/auth"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/database"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/handler"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/notification"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/repository"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/service"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/storage"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/websocket"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// @title           Gestion des Opérations API
// @version         1.0
// @description     Purchase and internal request approval workflows.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	logger, err := zap.NewProduction()
	if os.Getenv("GIN_MODE") != "release" {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Logger initialization failed: %v", err)
	}
	defer logger.Sync()

	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "postgres")
	dbPassword := getEnv("DB_PASSWORD", "postgres")
	dbName := getEnv("DB_NAME", "postgres")
	dbSslMode := getEnv("DB_SSLMODE", "disable")

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Connected to PostgreSQL successfully.")

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Uploaded documents live on local disk and are served back as static files
	uploadDir := getEnv("UPLOAD_DIR", "uploads")
	uploadBaseURL := getEnv("UPLOAD_BASE_URL", "http://localhost:8080/uploads")
	docStore, err := storage.NewLocalDocumentStore(uploadDir, uploadBaseURL)
	if err != nil {
		log.Fatalf("Upload storage initialization failed: %v", err)
	}

	// Mail notifications are best-effort; without SMTP config they are dropped
	var notifier service.Notifier
	if smtpHost := os.Getenv("SMTP_HOST"); smtpHost != "" {
		smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
		if err != nil {
			log.Fatalf("Invalid SMTP_PORT: %v", err)
		}
		notifier = notification.NewSMTPNotifier(
			smtpHost,
			smtpPort,
			os.Getenv("SMTP_USERNAME"),
			os.Getenv("SMTP_PASSWORD"),
			getEnv("SMTP_FROM", "noreply@waouh.local"),
			logger,
		)
	} else {
		logger.Warn("SMTP_HOST not set, email notifications disabled")
		notifier = notification.NoopNotifier{}
	}

	// Set up dependencies (Repository -> Service -> Handler)
	userRepo := repository.NewUserRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	internalRepo := repository.NewInternalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	refService := service.NewReferenceService(purchaseRepo, internalRepo)
	userService := service.NewUserService(userRepo, departmentRepo, auditRepo)
	purchaseService := service.NewPurchaseService(purchaseRepo, userRepo, auditRepo, txManager, refService, notifier, wsHub, logger)
	internalService := service.NewInternalService(internalRepo, userRepo, auditRepo, txManager, refService, notifier, wsHub, logger)
	auditService := service.NewAuditService(auditRepo)

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService)
	purchaseHandler := handler.NewPurchaseHandler(purchaseService)
	internalHandler := handler.NewInternalHandler(internalService)
	auditHandler := handler.NewAuditHandler(auditService)
	uploadHandler := handler.NewUploadHandler(docStore)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:5174"} // Frontend URL
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
		websocket.ServeWs(wsHub, c, auth.JWTSecret())
	})

	// Serve uploaded documents
	router.Static("/uploads", uploadDir)

	// Register API Routes
	userHandler.RegisterRoutes(router.Group(""))
	purchaseHandler.RegisterRoutes(router.Group(""))
	internalHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))
	uploadHandler.RegisterRoutes(router.Group(""))

	port := getEnv("PORT", "8080")

	log.Printf("Server listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
