package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/platform/config"
	"github.com/aradsms/media_delivery_services/internal/platform/database"
	"github.com/aradsms/media_delivery_services/internal/platform/logger"
	"github.com/aradsms/media_delivery_services/internal/platform/messagebroker"

	"github.com/aradsms/media_delivery_services/internal/media_send_service/adapters/access"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/adapters/expiration"
	httpadapter "github.com/aradsms/media_delivery_services/internal/media_send_service/adapters/http"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/adapters/notifier"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/adapters/transport"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/app"
	mediaRepo "github.com/aradsms/media_delivery_services/internal/media_send_service/repository/postgres"

	grpcadapter "github.com/aradsms/media_delivery_services/internal/scheduler_service/adapters/grpc"
	schedulerApp "github.com/aradsms/media_delivery_services/internal/scheduler_service/app"
	jobRepo "github.com/aradsms/media_delivery_services/internal/scheduler_service/repository/postgres"
)

const (
	serviceName     = "media-send-service"
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Service exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("configs", "config.defaults")
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	log.Info("Starting service...")

	localAddress, err := coreDomain.ParseAddress(cfg.LocalAddress)
	if err != nil {
		return fmt.Errorf("LOCAL_ADDRESS: %w", err)
	}
	profileKey, err := cfg.ProfileKey()
	if err != nil {
		return err
	}
	certificate, err := cfg.Certificate()
	if err != nil {
		return err
	}

	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(mainCtx, startupTimeout)
	defer cancelStart()

	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxConns = cfg.PostgresMaxConns
	dbPool, err := database.NewDBPool(startCtx, cfg.PostgresDSN, poolCfg)
	if err != nil {
		return fmt.Errorf("initialize database pool: %w", err)
	}
	defer dbPool.Close()
	log.Info("Database connection pool initialized")

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, log)
	if err != nil {
		return err
	}
	defer natsClient.Close()
	log.Info("NATS connection initialized")

	messages := mediaRepo.NewPgMessageRepository(dbPool, log)
	attachments := mediaRepo.NewPgAttachmentRepository(dbPool, log)
	recipients := mediaRepo.NewPgRecipientRepository(dbPool, log)

	gateway := transport.NewBreakingTransport("media-gateway",
		transport.NewNatsSender(natsClient, transport.Subjects{
			Send:   cfg.SubjectSend,
			Sync:   cfg.SubjectSync,
			Upload: cfg.SubjectUpload,
		}, cfg.TransportTimeout, log),
		transport.BreakerConfig{
			MaxRequests:         cfg.BreakerMaxRequests,
			Interval:            cfg.BreakerInterval,
			Timeout:             cfg.BreakerTimeout,
			ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
		}, log)

	expirations := expiration.NewManager(messages, log)
	defer expirations.Stop()

	pipeline := app.NewPipeline(app.Collaborators{
		Messages:    messages,
		Attachments: attachments,
		Recipients:  recipients,
		Sender:      gateway,
		Uploader:    gateway,
		Access: access.NewProvider(access.Settings{
			Enabled:           cfg.UnidentifiedDeliveryEnabled,
			LocalProfileKey:   profileKey,
			SenderCertificate: certificate,
			UniversalAccess:   cfg.UniversalUnidentifiedAccess,
		}, log),
		Notifier:    notifier.NewNatsNotifier(natsClient, cfg.SubjectFailed, log),
		Expirations: expirations,
	}, app.Settings{
		LocalAddress:                localAddress,
		LocalProfileKey:             profileKey,
		UnidentifiedDeliveryEnabled: cfg.UnidentifiedDeliveryEnabled,
		SendLifespan:                cfg.JobLifespan,
		UploadMaxAttempts:           cfg.JobMaxAttempts,
		UploadLifespan:              cfg.JobLifespan,
	}, log)

	jobs := schedulerApp.NewJobManager(jobRepo.NewPgJobStore(dbPool, log), log, schedulerApp.ManagerConfig{
		Workers:     cfg.JobWorkers,
		BaseBackoff: cfg.JobBaseBackoff,
		MaxBackoff:  cfg.JobMaxBackoff,
	})
	pipeline.RegisterFactories(jobs)
	restored, err := jobs.Restore(startCtx)
	if err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}
	log.Info("Restored unfinished jobs", "count", restored)
	if _, err := expirations.Restore(startCtx); err != nil {
		return fmt.Errorf("restore expiration timers: %w", err)
	}

	receipts := app.NewReceiptConsumer(natsClient, messages, log)
	if _, err := receipts.Start(mainCtx, cfg.SubjectReceipts, cfg.ReceiptsQueue); err != nil {
		return fmt.Errorf("start receipt consumer: %w", err)
	}

	router := httpadapter.NewRouter(httpadapter.RouterConfig{
		Messages:  httpadapter.NewMessageHandler(pipeline.Dispatcher(jobs), validator.New(), log),
		JWTSecret: []byte(cfg.JWTSecret),
		Checks: map[string]httpadapter.HealthCheck{
			"postgres": dbPool.Ping,
			"nats":     natsClient.Check,
		},
		Logger: log,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := grpcadapter.NewHealthServer(log)
	jobs.OnStateChange(health.SetJobsServing)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		return jobs.Run(groupCtx)
	})

	g.Go(func() error {
		log.Info("Starting HTTP server...", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		address := fmt.Sprintf(":%d", cfg.GRPCPort)
		lis, err := net.Listen("tcp", address)
		if err != nil {
			return fmt.Errorf("listen for gRPC on %s: %w", address, err)
		}
		log.Info("Starting gRPC health server...", "address", address)
		health.SetServing(true)
		if err := health.Server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Initiating graceful shutdown...")
		health.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
		health.Shutdown()
		return nil
	})

	log.Info("Service components initialized and workers started. Service is ready.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Service shutdown complete.")
	return nil
}
