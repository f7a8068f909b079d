package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/maintrack/maintrack/internal/apiserver/cache"
	"github.com/maintrack/maintrack/internal/apiserver/database"
	"github.com/maintrack/maintrack/internal/apiserver/handler"
	"github.com/maintrack/maintrack/internal/apiserver/middleware"
	"github.com/maintrack/maintrack/internal/auth/jwt"
	"github.com/maintrack/maintrack/internal/common/cnst"
	"github.com/maintrack/maintrack/internal/common/config"
	"github.com/maintrack/maintrack/internal/common/errorx"
	"github.com/maintrack/maintrack/internal/notifier"
	"github.com/maintrack/maintrack/internal/queue"
	"github.com/maintrack/maintrack/internal/registry"
	"github.com/maintrack/maintrack/pkg/logger"
	"github.com/maintrack/maintrack/pkg/metrics"
	"github.com/maintrack/maintrack/pkg/trace"
	"github.com/maintrack/maintrack/pkg/version"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of apiserver",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("apiserver version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "apiserver",
		Short: "MainTrack API Server",
		Long:  `MainTrack API Server provides the notification, websocket and background job services of the equipment tracker`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", cnst.ApiServerYaml, "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	// Load configuration
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("Starting apiserver",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		lg.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Initialize metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	// Initialize database
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		lg.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	if cfg.SuperAdmin.Username != "" {
		if err := db.SeedSuperAdmin(ctx, cfg.SuperAdmin.Username, cfg.SuperAdmin.Password); err != nil {
			lg.Fatal("Failed to seed super admin", zap.Error(err))
		}
	}

	// Initialize JWT service and the websocket principal resolver
	jwtService, err := jwt.NewService(cfg.JWT)
	if err != nil {
		lg.Fatal("Failed to initialize JWT service", zap.Error(err))
	}
	resolver := registry.ResolverFunc(func(credential string) (*registry.Principal, error) {
		claims, err := jwtService.ValidateToken(credential)
		if err != nil {
			return nil, err
		}
		return &registry.Principal{
			ID:         claims.UserID,
			Username:   claims.Username,
			Role:       claims.Role,
			Department: claims.Department,
		}, nil
	})

	// Connection registry
	reg := registry.New(lg, cfg.WebSocket, resolver, m)
	reg.Start(ctx)
	defer reg.Stop()

	// Unread counter cache
	var unread *cache.UnreadCounter
	if cfg.Redis.Addr != "" {
		unread, err = cache.NewUnreadCounter(lg, cfg.Redis)
		if err != nil {
			lg.Fatal("Failed to initialize unread counter cache", zap.Error(err))
		}
		defer func() { _ = unread.Close() }()
	} else {
		lg.Warn("Redis not configured, unread counts served from the database")
	}

	// Channel senders
	emailSender, err := notifier.NewEmailSender(cfg.Email)
	if err != nil {
		lg.Fatal("Failed to initialize email sender", zap.Error(err))
	}
	pushSender := notifier.NewPushSender(cfg.Push)

	// Job queue and dispatcher
	jobQueue := queue.NewManager(lg, cfg.Queue, m)

	opts := []notifier.Option{}
	if unread != nil {
		opts = append(opts, notifier.WithUnreadCache(unread))
	}
	dispatcher := notifier.New(lg, db, reg, jobQueue, emailSender, pushSender, opts...)
	dispatcher.RegisterQueues(jobQueue)
	jobQueue.Start(ctx)
	defer jobQueue.Stop()

	// HTTP surface
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cnst.AppName))
	if m != nil {
		router.Use(m.Middleware())
	}

	errHandler := errorx.NewErrorHandler(lg)
	authHandler := handler.NewAuthHandler(db, jwtService)
	wsHandler := handler.NewWSHandler(lg, reg, cfg.WebSocket)
	notificationHandler := handler.NewNotificationHandler(db, dispatcher, errHandler)
	jobsHandler := handler.NewJobsHandler(jobQueue, errHandler)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  version.Get(),
			"sessions": reg.SessionCount(),
		})
	})
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	router.POST("/api/auth/login", authHandler.Login)
	router.GET("/ws/notifications", wsHandler.Serve)

	authorized := router.Group("/api", middleware.JWTAuthMiddleware(jwtService))
	authorized.GET("/auth/me", authHandler.CurrentUser)

	notifications := authorized.Group("/notifications")
	notifications.GET("", notificationHandler.List)
	notifications.GET("/unread-count", notificationHandler.UnreadCount)
	notifications.PUT("/read-all", notificationHandler.MarkAllRead)
	notifications.PUT("/:id/read", notificationHandler.MarkRead)
	notifications.DELETE("/:id", notificationHandler.Delete)
	notifications.GET("/preferences", notificationHandler.GetPreferences)
	notifications.PUT("/preferences", notificationHandler.UpdatePreferences)

	jobs := authorized.Group("/jobs", middleware.RequireRole(database.RoleAdmin))
	jobs.GET("/queues", jobsHandler.Queues)
	jobs.GET("/:id", jobsHandler.Get)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		lg.Info("HTTP server listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("HTTP server shutdown failed", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
