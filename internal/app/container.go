// internal/app/container.go
package app

import (
	"context"
	"errors"
	"time"

	"tariff-service/internal/cache"
	"tariff-service/internal/config"
	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/events"
	adminHandler "tariff-service/internal/handlers/admin"
	notifyHandler "tariff-service/internal/handlers/notification"
	reminderHandler "tariff-service/internal/handlers/reminder"
	subscriptionHandler "tariff-service/internal/handlers/subscription"
	tariffHandler "tariff-service/internal/handlers/tariff"
	wsHandler "tariff-service/internal/handlers/websocket"
	"tariff-service/internal/metrics"
	"tariff-service/internal/middleware"
	"tariff-service/internal/pkg/clock"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/pkg/jwt"
	"tariff-service/internal/repository"
	"tariff-service/internal/scheduler"
	"tariff-service/internal/service/catalog"
	"tariff-service/internal/service/dispatch"
	"tariff-service/internal/service/history"
	notifyUsecase "tariff-service/internal/service/notification"
	reminderUsecase "tariff-service/internal/service/reminder"
	subscriptionUsecase "tariff-service/internal/service/subscription"
	"tariff-service/internal/websocket"
	wsHandlers "tariff-service/internal/websocket/handler"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Infra is the outside world a container is built on.
type Infra struct {
	Store     repository.Store
	Prices    cache.PriceCache
	Publisher events.Publisher
	Verifier  *jwt.Verifier
	Clock     clock.Clock
	Registry  *prometheus.Registry
}

// Container holds the wired services, jobs and handlers of one process.
type Container struct {
	Catalog       *catalog.CatalogService
	Subscriptions *subscriptionUsecase.SubscriptionService
	Reminders     *reminderUsecase.ReminderService
	Notifications *notifyUsecase.NotificationService
	Expiry        *dispatch.ExpiryDispatcher
	Dispatcher    *reminderUsecase.Dispatcher
	Hub           *websocket.Hub
	Scheduler     *scheduler.Scheduler
	Handlers      *Handlers
}

func newContainer(cfg config.AppConfig, infra Infra, logger *zap.Logger) (*Container, error) {
	m := metrics.New(infra.Registry)
	thresholds := subscription.NewThresholdTable(time.Duration(cfg.LongTariffMinHours) * time.Hour)

	// ----- Services -----
	catalogService := catalog.NewCatalogService(infra.Store, infra.Prices, catalog.Config{
		CacheSize: cfg.TariffCacheSize,
		CacheTTL:  cfg.TariffCacheTTL,
	}, logger)
	recorder := history.NewRecorder(infra.Store, logger)
	subscriptionService := subscriptionUsecase.NewSubscriptionService(
		infra.Store,
		catalogService,
		recorder,
		infra.Publisher,
		m,
		thresholds,
		infra.Clock,
		subscriptionUsecase.Config{
			RenewalMode:         cfg.RenewalMode,
			ActivateConcurrency: cfg.ActivateConcurrency,
		},
		logger,
	)
	reminderService := reminderUsecase.NewReminderService(infra.Store, infra.Clock, logger)

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(infra.Verifier, logger)
	notifService := notifyUsecase.NewNotificationService(infra.Store, hub, logger)
	if err := wsHandlers.NewNotificationHandler(notifService).Routes(hub); err != nil {
		return nil, err
	}

	// ----- Dispatchers -----
	channel := notifyUsecase.NewRetryingChannel(notifService, nil, logger)
	expiry := dispatch.NewExpiryDispatcher(
		infra.Store,
		subscriptionService,
		catalogService,
		thresholds,
		channel,
		m,
		infra.Clock,
		dispatch.Config{BatchSize: cfg.SweepBatchSize, RetryBudget: cfg.SendRetryBudget},
		logger,
	)
	dispatcher := reminderUsecase.NewDispatcher(
		infra.Store,
		channel,
		m,
		infra.Clock,
		reminderUsecase.DispatcherConfig{BatchSize: cfg.ReminderBatchSize, RetryBudget: cfg.SendRetryBudget},
		logger,
	)

	// ----- Scheduler -----
	sched := scheduler.New(logger)
	if err := sched.Every(dispatch.JobExpirySweep, cfg.SweepInterval, func(ctx context.Context) error {
		_, err := expiry.Run(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := sched.Every(reminderUsecase.JobReminderDispatch, cfg.ReminderInterval, func(ctx context.Context) error {
		_, err := dispatcher.Run(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	// ----- Handlers -----
	handlers := &Handlers{
		SubscriptionHandler: subscriptionHandler.NewSubscriptionHandler(subscriptionService),
		TariffHandler:       tariffHandler.NewTariffHandler(catalogService),
		ReminderHandler:     reminderHandler.NewReminderHandler(reminderService),
		NotifHandler:        notifyHandler.NewNotificationHandler(notifService),
		WSHandler:           wsHandler.NewWebSocketHandler(hub, cfg.WSAllowedOrigins, logger),
		JobsHandler:         adminHandler.NewJobsHandler(sched),
		AuthMiddleware:      middleware.NewAuthMiddleware(infra.Verifier),
		Gatherer:            infra.Registry,
	}

	return &Container{
		Catalog:       catalogService,
		Subscriptions: subscriptionService,
		Reminders:     reminderService,
		Notifications: notifService,
		Expiry:        expiry,
		Dispatcher:    dispatcher,
		Hub:           hub,
		Scheduler:     sched,
		Handlers:      handlers,
	}, nil
}

// ensureDemoTariff creates the trial tariff when the catalog has none
func ensureDemoTariff(ctx context.Context, catalogService *catalog.CatalogService, logger *zap.Logger) error {
	_, err := catalogService.GetTariffByCode(ctx, tariff.CodeDemo)
	if err == nil {
		return nil
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		return err
	}

	t, err := catalogService.CreateTariff(ctx, &tariff.CreateTariffRequest{
		Name:          "Demo",
		Code:          tariff.CodeDemo,
		DurationHours: 24,
		BasePrice:     0,
		IsActive:      true,
	})
	if err != nil {
		return err
	}
	logger.Info("demo tariff created", zap.Int64("tariff_id", t.ID))
	return nil
}
