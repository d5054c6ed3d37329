// internal/app/router.go
package app

import (
	adminHandler "tariff-service/internal/handlers/admin"
	notifyHandler "tariff-service/internal/handlers/notification"
	reminderHandler "tariff-service/internal/handlers/reminder"
	subscriptionHandler "tariff-service/internal/handlers/subscription"
	tariffHandler "tariff-service/internal/handlers/tariff"
	wsHandler "tariff-service/internal/handlers/websocket"
	"tariff-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	TariffHandler       *tariffHandler.TariffHandler
	ReminderHandler     *reminderHandler.ReminderHandler
	NotifHandler        *notifyHandler.NotificationHandler
	WSHandler           *wsHandler.WebSocketHandler
	JobsHandler         *adminHandler.JobsHandler
	AuthMiddleware      *middleware.AuthMiddleware
	Gatherer            prometheus.Gatherer
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	r.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.RequestLogger(logger),
	)

	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	health := func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	}
	r.GET("/health", health)
	api.GET("/health", health)

	// ==================== Metrics ====================
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Tariffs ====================
	tariffs := api.Group("/tariffs")
	tariffs.Use(h.AuthMiddleware.Auth())
	{
		tariffs.GET("", h.TariffHandler.ListTariffs)
		tariffs.GET("/:id", h.TariffHandler.GetTariff)
		tariffs.GET("/:id/price", h.TariffHandler.GetTariffPrice) // ?location_id=&category_id=
	}

	// ==================== Subscriptions ====================
	subscriptions := api.Group("/subscriptions")
	subscriptions.Use(h.AuthMiddleware.Auth())
	{
		subscriptions.POST("", h.SubscriptionHandler.RequestSubscription)
		subscriptions.GET("", h.SubscriptionHandler.ListSubscriptions)
		subscriptions.GET("/history", h.SubscriptionHandler.GetHistory)
		subscriptions.GET("/:id", h.SubscriptionHandler.GetSubscription)
		subscriptions.GET("/:id/remaining", h.SubscriptionHandler.GetRemainingTime)
		subscriptions.POST("/:id/renew", h.SubscriptionHandler.RenewSubscription)
		subscriptions.POST("/:id/cancel", h.SubscriptionHandler.CancelSubscription)
		subscriptions.POST("/:id/toggle", h.SubscriptionHandler.ToggleSubscription)
	}

	access := api.Group("/access")
	access.Use(h.AuthMiddleware.Auth())
	{
		access.GET("", h.SubscriptionHandler.CheckAccess) // ?category_id=&location_id=
	}

	// ==================== Reminders ====================
	reminders := api.Group("/reminders")
	reminders.Use(h.AuthMiddleware.Auth())
	{
		reminders.POST("", h.ReminderHandler.CreateReminder)
		reminders.GET("", h.ReminderHandler.ListReminders)
		reminders.DELETE("/:id", h.ReminderHandler.DeleteReminder)
	}

	// ==================== Notifications ====================
	notifications := api.Group("/notifications")
	notifications.Use(h.AuthMiddleware.Auth())
	{
		notifications.GET("", h.NotifHandler.GetLatestNotifications)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		adminSubs := admin.Group("/subscriptions")
		{
			adminSubs.GET("", h.SubscriptionHandler.AdminListSubscriptions)
			adminSubs.GET("/history", h.SubscriptionHandler.AdminGetHistory)
			adminSubs.GET("/stats", h.SubscriptionHandler.AdminGetStats)
			adminSubs.POST("", h.SubscriptionHandler.GrantSubscription)
			adminSubs.POST("/activate", h.SubscriptionHandler.ActivateSubscriptions)
			adminSubs.GET("/:id", h.SubscriptionHandler.GetSubscription)
			adminSubs.POST("/:id/activate", h.SubscriptionHandler.ActivateSubscription)
			adminSubs.POST("/:id/extend", h.SubscriptionHandler.ExtendSubscription)
			adminSubs.POST("/:id/cancel", h.SubscriptionHandler.CancelSubscription)
		}

		adminTariffs := admin.Group("/tariffs")
		{
			adminTariffs.GET("", h.TariffHandler.ListTariffs)
			adminTariffs.POST("", h.TariffHandler.CreateTariff)
			adminTariffs.PUT("/:id", h.TariffHandler.UpdateTariff)
			adminTariffs.PATCH("/:id/status", h.TariffHandler.SetTariffStatus)
			adminTariffs.GET("/:id/overrides", h.TariffHandler.ListPriceOverrides)
			adminTariffs.PUT("/:id/overrides", h.TariffHandler.SetPriceOverride)
			adminTariffs.DELETE("/:id/overrides/:overrideId", h.TariffHandler.DeletePriceOverride)
		}

		admin.GET("/ws/stats", h.WSHandler.GetStats)

		admin.GET("/jobs", h.JobsHandler.ListJobs)
		admin.POST("/jobs/:name/run", h.JobsHandler.RunJob)
	}
}
