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
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/config"
	"github.com/traillend/reservation-flow/internal/database"
	"github.com/traillend/reservation-flow/internal/handlers"
	"github.com/traillend/reservation-flow/internal/metrics"
	"github.com/traillend/reservation-flow/internal/middleware"
	"github.com/traillend/reservation-flow/internal/services"
	"github.com/traillend/reservation-flow/internal/utils"
	"github.com/traillend/reservation-flow/pkg/inventoryapi"
	"github.com/traillend/reservation-flow/pkg/jwt"
)

const serviceName = "reservation-flow"

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting TrailLend reservation flow service")
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

	// Attempt log database (optional outside production)
	var (
		db       *sqlx.DB
		attempts *database.ReservationAttemptRepository
	)
	if cfg.Database.URL != "" {
		logger.Info("Connecting to database...")
		db, err = database.NewConnection(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		attempts = database.NewReservationAttemptRepository(db, logger)
		logger.Info("Database connection established")
	} else {
		logger.Warn("DATABASE_URL not set, reservation attempts will not be recorded")
	}

	// Submission guard: Redis when configured so the guard holds across replicas
	var (
		redisClient *redis.Client
		guard       services.SubmissionGuard
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		cancel()
		guard = services.NewRedisSubmissionGuard(redisClient, cfg.Redis.SubmissionTTL)
		logger.Info("Submission guard backed by Redis")
	} else {
		guard = services.NewMemorySubmissionGuard()
		logger.Info("Submission guard kept in memory")
	}

	// Initialize services
	logger.Info("Initializing services...")

	jwtService := jwt.NewService(
		cfg.JWT.Secret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenExpiry,
		cfg.JWT.RefreshTokenExpiry,
	)

	inventory := inventoryapi.NewClient(inventoryapi.Config{
		BaseURL: cfg.InventoryAPI.BaseURL,
		Timeout: cfg.InventoryAPI.Timeout,
		Breaker: inventoryapi.BreakerConfig{
			MaxRequests:       cfg.InventoryAPI.BreakerMaxRequests,
			Interval:          cfg.InventoryAPI.BreakerInterval,
			Timeout:           cfg.InventoryAPI.BreakerTimeout,
			MinRequestsToTrip: cfg.InventoryAPI.BreakerMinRequestsToTrip,
			FailureRatio:      cfg.InventoryAPI.BreakerFailureRatio,
		},
		Logger:        logger,
		OnStateChange: metrics.BreakerStateRecorder(serviceName),
	})

	gateways := func(tokens inventoryapi.TokenSource) services.Gateway {
		return inventory.As(tokens)
	}
	listers := func(tokens inventoryapi.TokenSource) services.ReservationLister {
		return inventory.As(tokens)
	}

	var recorder services.AttemptRecorder
	var pruner services.AttemptPruner
	if attempts != nil {
		recorder = attempts
		pruner = attempts
	}

	flowStore := services.NewFlowStore()
	flowService := services.NewBookingFlowService(
		flowStore,
		gateways,
		inventory.RefreshAccessToken,
		services.NewPreflightChecker(logger),
		services.NewReservationSubmissionAssembler(guard, logger),
		services.NewSuggestionNegotiator(logger),
		recorder,
		services.BookingFlowConfig{
			IdleTTL:             cfg.Flow.IdleTTL,
			AllowDuplicateItems: cfg.Flow.AllowDuplicateItems,
			MaxDocumentBytes:    cfg.Flow.MaxDocumentBytes,
			AttemptLogTimeout:   3 * time.Second,
		},
		logger,
	)
	statusService := services.NewReservationStatusService(listers, inventory.RefreshAccessToken, logger)

	cronService := services.NewCronService(flowService, pruner, services.CronConfig{
		SweepSchedule:    cfg.Flow.SweepSchedule,
		PruneSchedule:    cfg.Flow.PruneSchedule,
		AttemptRetention: cfg.Database.AttemptRetention,
	}, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	logger.Info("Services initialized")

	// Initialize handlers
	flowHandler := handlers.NewBookingFlowHandler(flowService, cfg.Flow.MaxDocumentBytes, logger)
	reservationHandler := handlers.NewReservationHandler(statusService, logger)

	// Initialize Gin router
	router := gin.New()
	router.MaxMultipartMemory = int64(cfg.Flow.MaxDocumentBytes) * 2

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(metrics.PrometheusMiddleware(serviceName))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", handlers.RefreshedTokenHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health and metrics endpoints
	router.GET("/health", healthCheckHandler(db, redisClient, inventory, flowStore))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(jwtService, logger))
	{
		flowHandler.RegisterRoutes(v1)
		reservationHandler.RegisterRoutes(v1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Tear down what is left so in-flight backend calls are cancelled
	removed := flowService.Sweep(time.Now().Add(cfg.Flow.IdleTTL + time.Hour))
	logger.WithField("flows", removed).Info("Closed remaining booking flows")

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      c.Request.URL.RawQuery,
			"ip":         utils.ClientIP(c),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if userID, exists := c.Get("user_id"); exists {
			fields["user_id"] = userID
		}
		if flowID, exists := c.Get("flow_id"); exists {
			fields["flow_id"] = flowID
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler reports the service and its dependencies
func healthCheckHandler(db *sqlx.DB, redisClient *redis.Client, inventory *inventoryapi.Client, flows *services.FlowStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{
			"status":        "healthy",
			"version":       version,
			"timestamp":     time.Now().Unix(),
			"inventory_api": inventory.State().String(),
			"active_flows":  flows.Len(),
		}

		if db != nil {
			body["database"] = "healthy"
			if err := db.PingContext(ctx); err != nil {
				body["database"] = "unhealthy"
				body["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}

		if redisClient != nil {
			body["redis"] = "healthy"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				body["redis"] = "unhealthy"
				body["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}

		c.JSON(status, body)
	}
}
