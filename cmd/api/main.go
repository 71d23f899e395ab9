package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"careflow/internal/config"
	"careflow/internal/handler/middleware"
	v1 "careflow/internal/handler/v1"
	"careflow/internal/repository"
	"careflow/internal/service"
	"careflow/pkg/auth"
	"careflow/pkg/database"
	"careflow/pkg/logger"
	"careflow/pkg/metrics"
	"careflow/pkg/tracer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		log.Fatal("initializing tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("connecting to database", zap.Error(err))
	}
	if err := database.Migrate(db, log); err != nil {
		log.Fatal("migrating database", zap.Error(err))
	}

	collector := metrics.NewCollector("careflow")

	apptRepo := repository.NewAppointmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, log, collector.AuditBufferDropped)
	defer auditSvc.Shutdown()

	jwtManager := auth.NewJWTManager(cfg.JWT)
	authSvc := service.NewAuthService(userRepo, jwtManager, log)
	apptSvc := service.NewAppointmentService(apptRepo, userRepo, auditSvc, cfg.Scheduling, log)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics(collector))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": cfg.App.Version})
	})
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	v1.RegisterRoutes(
		router,
		v1.NewAppointmentHandler(apptSvc, collector),
		v1.NewAuthHandler(authSvc),
		middleware.Authenticate(jwtManager),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
