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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-live-attendance/api/swagger"
	"github.com/noah-isme/sma-live-attendance/internal/handler"
	"github.com/noah-isme/sma-live-attendance/internal/middleware"
	"github.com/noah-isme/sma-live-attendance/internal/realtime"
	"github.com/noah-isme/sma-live-attendance/internal/repository"
	"github.com/noah-isme/sma-live-attendance/internal/service"
	"github.com/noah-isme/sma-live-attendance/internal/verify"
	"github.com/noah-isme/sma-live-attendance/pkg/cache"
	"github.com/noah-isme/sma-live-attendance/pkg/config"
	"github.com/noah-isme/sma-live-attendance/pkg/database"
	"github.com/noah-isme/sma-live-attendance/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-live-attendance/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-live-attendance/pkg/middleware/requestid"
)

// @title SMA Live Attendance API
// @version 0.1.0
// @description Live attendance session coordinator
// @BasePath /
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

	loc, err := time.LoadLocation(cfg.Attendance.Timezone)
	if err != nil {
		logr.Sugar().Warnw("invalid timezone, falling back to UTC", "timezone", cfg.Attendance.Timezone)
		loc = time.UTC
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	sessionRepo := repository.NewSessionRepository(db)
	classRepo := repository.NewClassRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	transport := realtime.NewChannelTransport()
	registry := realtime.NewRegistry()
	hub := realtime.NewHub(transport, registry, metrics, logr)

	store := service.NewSessionStore(sessionRepo, cfg.Attendance.MutateRetries, loc, metrics, logr)
	summaries := service.NewSummaryService(store, sessionRepo, cacheRepo, cfg.Summary.CacheEnabled, cfg.Summary.CacheTTL, metrics, logr)
	lifecycle := service.NewLifecycleService(classRepo, store, hub, summaries, validate, logr)

	var verifier *verify.Client
	if cfg.Verifier.Enabled {
		verifier = verify.NewClient(cfg.Verifier, logr)
	}
	checkins := service.NewCheckInService(classRepo, classRepo, store, hub, verifier, summaries, cfg.Attendance.FrequencyTolerance, metrics, validate, logr)

	attendanceHandler := handler.NewAttendanceHandler(lifecycle, checkins, summaries, store)
	wsHandler := handler.NewWSHandler(cfg.Realtime, cfg.CORS.AllowedOrigins, transport, registry, hub, lifecycle, checkins, summaries, store, metrics, logr)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		api.GET("/ws", wsHandler.Serve)
		api.POST("/attendance/check-in", attendanceHandler.CheckIn)

		classes := api.Group("/classes/:id")
		classes.POST("/attendance/:type/start", attendanceHandler.Start)
		classes.POST("/attendance/:type/end", attendanceHandler.End)
		classes.GET("/attendance", attendanceHandler.Summary)
		classes.GET("/attendance/export", attendanceHandler.Export)
		classes.GET("/attendance/days", attendanceHandler.Days)
		classes.GET("/frequency", attendanceHandler.GetFrequency)
		classes.POST("/frequency", attendanceHandler.SetFrequency)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}
