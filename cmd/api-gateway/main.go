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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/academy-portal-api/api/swagger"
	"github.com/noah-isme/academy-portal-api/internal/app"
	"github.com/noah-isme/academy-portal-api/internal/handler"
	"github.com/noah-isme/academy-portal-api/internal/middleware"
	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/pkg/config"
	"github.com/noah-isme/academy-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academy-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academy-portal-api/pkg/middleware/requestid"
)

// @title Academy Portal API
// @version 1.0.0
// @description Secretariat back office: intake requests, appointment calendar, workflow side effects and archival.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.Build(ctx, cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("bootstrap failed", "error", err)
	}
	defer container.Close()

	if err := container.Start(ctx); err != nil {
		logr.Sugar().Fatalw("background workers failed to start", "error", err)
	}

	r := newRouter(cfg, container)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}

func newRouter(cfg *config.Config, c *app.Container) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(c.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(c.Metrics))

	metricsHandler := handler.NewMetricsHandler(c.Metrics, readinessProbes(c))
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requests := handler.NewRequestHandler(c.Requests)
	appointments := handler.NewAppointmentHandler(c.Scheduler)
	intents := handler.NewIntentHandler(c.Dispatcher)
	archives := handler.NewArchiveHandler(c.Archives)

	api := r.Group(cfg.APIPrefix)

	// Intake is public; an attached token only adds the actor to the audit trail.
	api.POST("/requests", middleware.OptionalJWT(c.Auth), requests.Create)
	api.GET("/archives/bundles/download", archives.DownloadBundle)

	secured := api.Group("")
	secured.Use(middleware.JWT(c.Auth), middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))

	secured.GET("/requests", requests.List)
	secured.GET("/requests/:id", requests.Get)
	secured.PATCH("/requests/:id", requests.Transition)
	secured.DELETE("/requests/:id", requests.Delete)

	secured.POST("/appointments", appointments.Book)
	secured.GET("/appointments", appointments.List)
	secured.GET("/appointments/slots", appointments.Slots)
	secured.GET("/appointments/day/:date", appointments.Day)
	secured.GET("/appointments/week/:date", appointments.Week)
	secured.GET("/appointments/:id", appointments.Get)
	secured.DELETE("/appointments/:id", appointments.Cancel)

	secured.GET("/intents", intents.List)
	secured.POST("/intents/:id/retry", middleware.Audit(c.Audit, models.AuditActionIntentRetry, "intent"), intents.Retry)

	secured.POST("/archives", archives.Archive)

	return r
}

type redisProbe struct {
	client *redis.Client
}

func (p redisProbe) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func readinessProbes(c *app.Container) map[string]handler.Pinger {
	probes := map[string]handler.Pinger{"postgres": c.DB}
	if c.Redis != nil {
		probes["redis"] = redisProbe{client: c.Redis}
	}
	return probes
}
