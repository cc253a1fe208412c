package app

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/repository"
	"github.com/noah-isme/academy-portal-api/internal/service"
	"github.com/noah-isme/academy-portal-api/pkg/cache"
	"github.com/noah-isme/academy-portal-api/pkg/config"
	"github.com/noah-isme/academy-portal-api/pkg/database"
	"github.com/noah-isme/academy-portal-api/pkg/export"
	"github.com/noah-isme/academy-portal-api/pkg/jobs"
	"github.com/noah-isme/academy-portal-api/pkg/mailer"
	"github.com/noah-isme/academy-portal-api/pkg/slots"
	"github.com/noah-isme/academy-portal-api/pkg/storage"
)

// Container holds the wired services shared by the API server and the operator CLI.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *sqlx.DB
	Redis *redis.Client

	Metrics    *service.MetricsService
	Admins     *service.AdminDirectory
	Auth       *service.AuthService
	Scheduler  *service.AppointmentScheduler
	Requests   *service.RequestStore
	Dispatcher *service.WorkflowDispatcher
	Archives   *service.ArchiveService
	Sweeper    *service.RejectedSweeper
	Storage    *storage.LocalStorage
	Audit      *repository.AuditRepository

	queue *jobs.Queue
}

// Build opens the backing stores and wires every service. Background workers are not started.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{Config: cfg, Logger: logger}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.DB = db

	c.Metrics = service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Cache.AdminEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.Redis = client
		cacheRepo = repository.NewCacheRepository(client, logger)
	}
	cacheSvc := service.NewCacheService(cacheRepo, c.Metrics, cfg.Cache.AdminTTL, logger, cfg.Cache.AdminEnabled)

	adminRepo := repository.NewAdminRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	intentRepo := repository.NewIntentRepository(db)
	c.Audit = repository.NewAuditRepository(db)

	validate := validator.New()

	c.Admins = service.NewAdminDirectory(adminRepo, cacheSvc, cfg.Cache.AdminTTL, logger)
	c.Auth = service.NewAuthService(c.Admins, logger, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "academy-portal-api",
	})

	index := slots.NewIndex(slots.Grid{
		StartHour:   cfg.Scheduler.StartHour,
		EndHour:     cfg.Scheduler.EndHour,
		SlotMinutes: cfg.Scheduler.SlotMinutes,
	})
	c.Scheduler = service.NewAppointmentScheduler(appointmentRepo, index, c.Admins, c.Audit, c.Metrics, validate, logger,
		service.SchedulerOptions{AutoBookHorizonDays: cfg.Scheduler.AutoBookHorizonDay})
	if err := c.Scheduler.Warm(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("warm slot index: %w", err)
	}

	storageSvc, err := storage.NewLocalStorage(cfg.Archives.StorageDir)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	c.Storage = storageSvc
	signer := storage.NewSignedURLSigner(cfg.Archives.SignedURLSecret, cfg.Archives.SignedURLTTL)
	documents := service.NewPDFDocumentGenerator(export.NewPDFExporter("Academy Secretariat"), storageSvc)

	var sender mailer.Sender
	if cfg.Mail.Enabled {
		smtp, err := mailer.NewSMTPSender(mailer.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			FromName: cfg.Mail.FromName,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init smtp: %w", err)
		}
		sender = smtp
	} else {
		sender = mailer.NewLogSender(logger)
	}
	notifier := service.NewMailNotifier(sender)

	c.Dispatcher = service.NewWorkflowDispatcher(intentRepo, c.Scheduler, notifier, documents, nil, c.Metrics, logger,
		service.WorkflowDispatcherConfig{
			FederationEmail:     cfg.Workflow.FederationEmail,
			MembersEmail:        cfg.Workflow.MembersEmail,
			CollaboratorTimeout: cfg.Workflow.CollaboratorTimeout,
		})
	c.Requests = service.NewRequestStore(requestRepo, c.Admins, c.Dispatcher, c.Audit, c.Metrics, validate, logger)
	c.Dispatcher.SetRequests(c.Requests)
	c.Scheduler.SetIntentSink(c.Dispatcher)

	c.queue = jobs.NewQueue("intents", c.Dispatcher.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Workflow.Workers,
		BufferSize: cfg.Workflow.BufferSize,
		MaxRetries: -1,
		Logger:     logger,
	})
	c.Dispatcher.SetQueue(c.queue)

	c.Archives = service.NewArchiveService(c.Scheduler, documents, storageSvc, signer, c.Audit, c.Metrics, logger,
		service.ArchiveServiceConfig{
			Concurrency: cfg.Archives.Concurrency,
			APIPrefix:   cfg.APIPrefix,
		})

	sweep := service.SweeperConfig{
		BundleRetention: cfg.Archives.BundleRetention,
		BundleInterval:  cfg.Archives.BundleRetention / 4,
		ReplayInterval:  cfg.Workflow.ReplayInterval,
	}
	if cfg.Sweep.Enabled {
		sweep.RejectedRetention = cfg.Sweep.Retention
		sweep.RejectedInterval = cfg.Sweep.Interval
	}
	c.Sweeper = service.NewRejectedSweeper(c.Requests, storageSvc, c.Dispatcher, logger, sweep)

	return c, nil
}

// Start recovers the intent outbox and launches the dispatcher workers and maintenance jobs.
func (c *Container) Start(ctx context.Context) error {
	c.queue.Start(ctx)
	if _, err := c.Dispatcher.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted intents: %w", err)
	}
	if n, err := c.Dispatcher.ReplayPending(ctx); err != nil {
		return fmt.Errorf("replay pending intents: %w", err)
	} else if n > 0 {
		c.Logger.Info("pending intents replayed", zap.Int("count", n))
	}
	return c.Sweeper.Start(ctx)
}

// Close stops background work and releases connections. Safe to call on a partially built container.
func (c *Container) Close() {
	if c.Sweeper != nil {
		if err := c.Sweeper.Stop(); err != nil {
			c.Logger.Warn("sweeper shutdown failed", zap.Error(err))
		}
	}
	if c.queue != nil {
		c.queue.Stop()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
