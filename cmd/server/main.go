package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/expertlane/consult-backend/internal/config"
	"github.com/expertlane/consult-backend/internal/database"
	"github.com/expertlane/consult-backend/internal/handlers"
	"github.com/expertlane/consult-backend/internal/middleware"
	"github.com/expertlane/consult-backend/internal/services"
	"github.com/expertlane/consult-backend/pkg/gateway"
	"github.com/expertlane/consult-backend/pkg/jwt"
	"github.com/expertlane/consult-backend/pkg/notify"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting ExpertLane Consult Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Repositories needing transactions take *sqlx.DB directly
	sqlxDB, ok := db.(*database.PostgresDB)
	if !ok {
		logger.Fatal("Failed to cast database connection to PostgresDB")
	}
	bookingRepo := database.NewBookingRepository(sqlxDB.DB)
	payoutRepo := database.NewPayoutRepository(sqlxDB.DB)
	couponRepo := database.NewCouponRepository(db)
	txnRepo := database.NewTransactionRepository(db)
	consultantRepo := database.NewConsultantRepository(db)
	operatorRepo := database.NewOperatorRepository(db)
	operatorTokenRepo := database.NewOperatorTokenRepository(db)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(
		cfg.JWT.Secret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenExpiry,
		cfg.JWT.RefreshTokenExpiry,
	)

	paymentGateway := gateway.NewHTTPGateway(gateway.Config{
		Environment:   cfg.Payment.Environment,
		MerchantKey:   cfg.Payment.MerchantKey,
		MerchantToken: cfg.Payment.MerchantToken,
		Timeout:       cfg.Payment.Timeout,
		MaxRetries:    cfg.Payment.MaxRetries,
	}, logger)

	notifier := notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger)

	operatorAuthService := services.NewOperatorAuthService(
		operatorRepo, operatorTokenRepo, jwtService,
		cfg.JWT.AccessTokenExpiry, cfg.JWT.RefreshTokenExpiry, logger)
	loginRateLimitService := services.NewLoginRateLimitService(db)

	pricingEngine := services.NewPricingEngine(cfg.Booking.PlatformFeeRate)
	couponService := services.NewCouponService(couponRepo, pricingEngine, logger)
	availabilityService := services.NewAvailabilityService(bookingRepo, logger)
	paymentService := services.NewPaymentService(txnRepo, bookingRepo, paymentGateway, logger)
	bookingService := services.NewBookingService(
		bookingRepo, couponService, paymentService, pricingEngine, notifier, cfg.Booking, logger)
	payoutService := services.NewPayoutService(
		payoutRepo, paymentGateway, consultantRepo, notifier, cfg.Payout, logger)

	// Initialize and start cron jobs
	cronService := services.NewCronService(
		bookingService, payoutService, operatorAuthService, loginRateLimitService, cfg.Payout)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	logger.Info("Services initialized")

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, availabilityService, paymentService, logger)
	couponHandler := handlers.NewCouponHandler(couponService)
	payoutHandler := handlers.NewPayoutHandler(payoutService)
	webhookHandler := handlers.NewWebhookHandler(paymentService, bookingService, payoutService, logger)
	operatorAuthHandler := handlers.NewOperatorAuthHandler(operatorAuthService, loginRateLimitService, logger)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Booking routes (public client surface)
		bookings := v1.Group("/bookings")
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.POST("/:id/pay", bookingHandler.Pay)
			bookings.POST("/:id/cancel", bookingHandler.Cancel)
			bookings.POST("/:id/feedback", bookingHandler.SubmitFeedback)
			bookings.GET("/:id/transactions", bookingHandler.GetLedger)
		}

		// Consultant views
		consultants := v1.Group("/consultants")
		{
			consultants.GET("/:id/bookings", bookingHandler.ListConsultantBookings)
			consultants.GET("/:id/availability", bookingHandler.CheckAvailability)
			consultants.GET("/:id/payouts", payoutHandler.ListConsultantPayouts)
		}

		// Coupon preview (public, no redemption)
		v1.POST("/coupons/validate", couponHandler.ValidateCoupon)

		// Gateway webhook (signature-checked, no JWT)
		v1.POST("/webhooks/payment", webhookHandler.HandlePaymentWebhook)

		// Operator authentication
		auth := v1.Group("/auth")
		{
			auth.POST("/login", operatorAuthHandler.Login)
			auth.POST("/refresh", operatorAuthHandler.Refresh)
			auth.POST("/logout", operatorAuthHandler.Logout)

			authed := auth.Group("")
			authed.Use(middleware.AuthMiddleware(jwtService))
			{
				authed.GET("/profile", operatorAuthHandler.GetProfile)
				authed.POST("/change-password", operatorAuthHandler.ChangePassword)
			}
		}

		// Operator routes (JWT protected)
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService))
		admin.Use(middleware.RequireRole("operator", "admin"))
		{
			admin.POST("/coupons", couponHandler.CreateCoupon)
			admin.GET("/coupons/:id/usages", couponHandler.GetUsageHistory)

			admin.POST("/bookings/:id/no-show", bookingHandler.MarkNoShow)
			admin.POST("/bookings/:id/start", bookingHandler.Start)
			admin.POST("/bookings/:id/complete", bookingHandler.Complete)
			admin.POST("/bookings/:id/recheck-payment", bookingHandler.RecheckPayment)

			admin.POST("/payouts/run", payoutHandler.RunCycle)
			admin.POST("/payouts/:id/settle", payoutHandler.SettleBatch)

			// Cron management
			admin.POST("/cron/sweep-stale", func(c *gin.Context) {
				cronService.RunSweepNow()
				c.JSON(200, gin.H{"message": "Stale booking sweep triggered"})
			})
			admin.GET("/cron/status", func(c *gin.Context) {
				c.JSON(200, cronService.GetJobStatus())
			})
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	cronService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
		}

		if userID, exists := c.Get("user_id"); exists {
			fields["user_id"] = userID
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
		} else {
			status := c.Writer.Status()
			if status >= 500 {
				entry.Error("Request completed with server error")
			} else if status >= 400 {
				entry.Warn("Request completed with client error")
			} else {
				entry.Info("Request completed successfully")
			}
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "healthy"
		if err := db.Ping(); err != nil {
			dbStatus = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": dbStatus,
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  dbStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
