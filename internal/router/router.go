package router

import (
	"net/http"

	"ambassadorbonus/config"
	"ambassadorbonus/internal/handler"
	"ambassadorbonus/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(cfg *config.Config, app *App, limiter *middleware.IPRateLimiter) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if limiter != nil {
		r.Use(middleware.RateLimit(limiter))
	}

	// Handlers
	webhookHandler := handler.NewOrderWebhookHandler(app.OrderEngine)
	userSyncHandler := handler.NewUserSyncHandler(app.Users)
	referralHandler := handler.NewReferralHandler(app.Users, app.Referrals, app.Attributions, app.Counters, app.Blocks, app.Commissions, app.Attachment)
	adminHandler := handler.NewAdminHandler(app.Payouts, app.BlockEval, app.Blocks, app.Audit, app.SettingRepo, app.Settings)

	authMw := middleware.AuthRequired(&cfg.JWT)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		api.POST("/webhooks/orders", middleware.WebhookSecret(cfg.Webhook.Secret), webhookHandler.Handle)
		api.POST("/webhooks/users", middleware.WebhookSecret(cfg.Webhook.Secret), userSyncHandler.Handle)
		api.POST("/referrals/capture", authMw, referralHandler.Capture)

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.GET("/referral-code", referralHandler.GetMyReferralCode)
			me.GET("/attribution", referralHandler.GetMyAttribution)
			me.GET("/blocks", referralHandler.GetMyBlocks)
			me.GET("/progress", referralHandler.GetMyProgress)
			me.GET("/commissions", referralHandler.GetMyCommissions)
		}

		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired())
		{
			admin.POST("/payouts/run", adminHandler.RunPayouts)
			admin.POST("/payouts/:kind/:id/dispatch", adminHandler.DispatchRecord)
			admin.GET("/blocks", adminHandler.ListBlocks)
			admin.GET("/attributions/:customer_id/audit", adminHandler.AttributionAudit)
			admin.GET("/settings", adminHandler.GetSettings)
			admin.PUT("/settings/:key", adminHandler.UpdateSetting)
		}
	}
	return r
}
