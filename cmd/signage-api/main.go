package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/smartsign/signage-api/api/swagger"
	"github.com/smartsign/signage-api/internal/handler"
	"github.com/smartsign/signage-api/internal/middleware"
	"github.com/smartsign/signage-api/internal/models"
	"github.com/smartsign/signage-api/internal/repository"
	"github.com/smartsign/signage-api/internal/service"
	"github.com/smartsign/signage-api/pkg/cache"
	"github.com/smartsign/signage-api/pkg/config"
	"github.com/smartsign/signage-api/pkg/database"
	"github.com/smartsign/signage-api/pkg/jobs"
	"github.com/smartsign/signage-api/pkg/logger"
	corsmiddleware "github.com/smartsign/signage-api/pkg/middleware/cors"
	reqidmiddleware "github.com/smartsign/signage-api/pkg/middleware/requestid"
)

// @title Signage API
// @version 1.0.0
// @description Announcement lifecycle and approval orchestration for digital signage
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	announcementRepo := repository.NewAnnouncementRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	userRepo := repository.NewUserRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	syncSvc := service.NewSyncService(
		outboxRepo,
		service.NewRedisStreamAppender(redisClient),
		service.SyncServiceConfig{StreamPrefix: cfg.Sync.StreamPrefix, BatchSize: cfg.Sync.BatchSize},
		logr,
		service.WithSyncMetrics(metricsSvc),
	)

	forwardQueue := jobs.NewQueue("sync-forward", syncSvc.HandleForwardJob, jobs.QueueConfig{
		Workers:    cfg.Sync.Workers,
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay,
		Logger:     logr,
	})
	forwardQueue.Start(ctx)
	defer forwardQueue.Stop()
	syncSvc.AttachQueue(forwardQueue)

	var auditSink service.AuditSink
	if cfg.Audit.Enabled {
		auditSink = userRepo
	}

	announcementSvc := service.NewAnnouncementService(announcementRepo, requestRepo, deviceRepo, auditSink, logr)
	requestSvc := service.NewRequestService(
		requestRepo, announcementRepo, deviceRepo, userRepo, syncSvc, auditSink, logr,
		service.WithRequestMetrics(metricsSvc),
	)
	schedulerSvc := service.NewSchedulerService(announcementRepo, requestRepo, syncSvc, logr, metricsSvc)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	if cfg.Sync.Enabled {
		syncSvc.StartForwarder(ctx, cfg.Sync.ForwardInterval)
	}
	if cfg.Scheduler.Enabled {
		schedulerSvc.Start(ctx, cfg.Scheduler.Interval)
	}

	announcementHandler := handler.NewAnnouncementHandler(announcementSvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenSvc))
	{
		announcements := api.Group("/announcements")
		announcements.POST("", announcementHandler.Create)
		announcements.GET("", announcementHandler.List)
		announcements.GET("/:id", announcementHandler.Get)

		requests := api.Group("/requests")
		requests.POST("", requestHandler.Create)
		requests.GET("", requestHandler.List)
		requests.GET("/:id", requestHandler.Get)
		requests.POST("/:id/approval",
			middleware.RequireRoles(models.RoleAdmin, models.RoleContentManager, models.RoleBuildingManager),
			requestHandler.Decide)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
