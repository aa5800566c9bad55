// The worker process: consumes every queue, moves delayed jobs, and
// schedules the daily blob cleanup.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/docpipe/internal/config"
	"github.com/you/docpipe/internal/convert"
	"github.com/you/docpipe/internal/files"
	"github.com/you/docpipe/internal/intapi"
	"github.com/you/docpipe/internal/jobstore"
	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/redisconn"
	"github.com/you/docpipe/internal/storage"
	"github.com/you/docpipe/internal/webhook"
	"github.com/you/docpipe/internal/workers"
)

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "development" {
		l, err := zap.NewDevelopment()
		if err != nil {
			log.Fatal(err)
		}
		return l
	}
	l, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	return l
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rmgr, err := redisconn.New(ctx, cfg.RedisURL, cfg.RedisPassword, logger)
	if err != nil {
		logger.Fatal("redis setup", zap.Error(err))
	}
	if !rmgr.Configured() {
		logger.Fatal("REDIS_URL is required for the worker process")
	}
	defer rmgr.CloseAll()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres setup", zap.Error(err))
	}
	defer db.Close()

	store := storage.New(db)
	jstore := jobstore.New(rmgr.Shared())
	reg := queue.NewRegistry(rmgr.Shared(), logger)
	reg.StartMovers(ctx)

	fileStore := files.NewServiceClient(cfg.StorageServiceURL, cfg.StorageServiceKey)
	api := intapi.New(cfg.InternalAPIBase, cfg.InternalAPIKey)
	office := convert.NewOfficeConverter(cfg.ConversionBaseURL, cfg.GotenbergUsername, cfg.GotenbergPassword)
	tasks := convert.NewTaskConverter(cfg.ConvertAPIURL, cfg.ConvertAPIKey)
	pages := convert.NewPageService(cfg.InternalAPIBase, cfg.InternalAPIKey)
	media := convert.NewMediaTools()
	deliverer := webhook.NewDeliverer()
	recorder := webhook.NewEventRecorder(cfg.WebhookAuditURL, cfg.WebhookAuditToken, logger)

	var revalidate workers.CacheRevalidator
	if cfg.RevalidateURL != "" {
		revalidate = intapi.NewRevalidator(cfg.RevalidateURL, cfg.RevalidateToken)
	}

	cleanup := &workers.Cleanup{Store: jstore, Files: fileStore, Log: logger}

	ws := []*queue.Worker{
		workers.NewFileConversionWorker(reg.FileConversion.Q, rmgr.Dedicated(), &workers.FileConversion{
			Store:    store,
			Files:    fileStore,
			Office:   office,
			Tasks:    tasks,
			PDFQueue: reg.PDFToImage,
			Log:      logger,
		}),
		workers.NewPDFToImageWorker(reg.PDFToImage.Q, rmgr.Dedicated(), &workers.PDFToImage{
			Store:      store,
			Files:      fileStore,
			Pages:      pages,
			Revalidate: revalidate,
			Log:        logger,
		}),
		workers.NewVideoOptimizationWorker(reg.VideoOptimization.Q, rmgr.Dedicated(), &workers.VideoOptimization{
			Store: store,
			Files: fileStore,
			Media: media,
			Log:   logger,
		}),
		workers.NewExportVisitsWorker(reg.ExportVisits.Q, rmgr.Dedicated(), &workers.ExportVisits{
			API:   api,
			Store: jstore,
			Log:   logger,
		}),
		workers.NewScheduledEmailWorker(reg.ScheduledEmail.Q, rmgr.Dedicated(), &workers.ScheduledEmail{
			Store: store,
			Email: &workers.APIEmailService{API: api},
			Log:   logger,
		}),
		workers.NewDataroomNotificationWorker(reg.DataroomNotification.Q, rmgr.Dedicated(), &workers.DataroomNotification{
			Store:        store,
			API:          api,
			MarketingURL: cfg.MarketingURL,
			Log:          logger,
		}),
		workers.NewConversationNotificationWorker(reg.ConversationNotification.Q, rmgr.Dedicated(), &workers.ConversationNotification{
			API: api,
			Log: logger,
		}),
		workers.NewPauseResumeWorker(reg.PauseResume.Q, rmgr.Dedicated(), &workers.PauseResumeNotification{
			API: api,
			Log: logger,
		}),
		workers.NewAutomaticUnpauseWorker(reg.AutomaticUnpause.Q, rmgr.Dedicated(), &workers.AutomaticUnpause{
			API: api,
			Log: logger,
		}),
		workers.NewCleanupWorker(reg.Cleanup, rmgr.Dedicated(), cleanup),
		workers.NewWebhookDeliveryWorker(reg.WebhookDelivery.Q, rmgr.Dedicated(), &workers.WebhookDelivery{
			Deliverer: deliverer,
			Recorder:  recorder,
			Log:       logger,
		}),
	}

	go cleanup.ScheduleDaily(ctx, reg.Cleanup)

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range ws {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}

	logger.Info("worker process started", zap.Int("workers", len(ws)))
	if err := g.Wait(); err != nil {
		logger.Error("worker group", zap.Error(err))
	}
	logger.Info("worker process stopped")
}
