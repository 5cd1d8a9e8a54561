package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/middleware"
	"ambassadorbonus/internal/repository"
	"ambassadorbonus/internal/service"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	payouts     *service.PayoutService
	blockEval   *service.BlockService
	blocks      *repository.BlockRepository
	audit       *repository.AuditLogRepository
	settingRepo *repository.SettingRepository
	settings    service.SettingsProvider
}

func NewAdminHandler(
	payouts *service.PayoutService,
	blockEval *service.BlockService,
	blocks *repository.BlockRepository,
	audit *repository.AuditLogRepository,
	settingRepo *repository.SettingRepository,
	settings service.SettingsProvider,
) *AdminHandler {
	return &AdminHandler{
		payouts:     payouts,
		blockEval:   blockEval,
		blocks:      blocks,
		audit:       audit,
		settingRepo: settingRepo,
		settings:    settings,
	}
}

// RunPayouts handles POST /admin/payouts/run, an on-demand monthly batch.
func (h *AdminHandler) RunPayouts(c *gin.Context) {
	summary, err := h.payouts.RunMonthlyBatch(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payout batch failed", "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DispatchRecord handles POST /admin/payouts/:kind/:id/dispatch to retry one record.
func (h *AdminHandler) DispatchRecord(c *gin.Context) {
	kind, err := service.ParseRecordKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be block or commission"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res, err := h.payouts.DispatchOne(c.Request.Context(), service.RecordRef{Kind: kind, ID: uint(id)})
	switch {
	case errors.Is(err, service.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListBlocks handles GET /admin/blocks?tier=&paid=.
func (h *AdminHandler) ListBlocks(c *gin.Context) {
	page, limit := parsePagination(c)
	f := repository.BlockFilter{Tier: c.Query("tier"), Page: page, Limit: limit}
	if f.Tier != "" && !domain.Tier(f.Tier).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
		return
	}
	if v := c.Query("paid"); v != "" {
		paid, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "paid must be true or false"})
			return
		}
		f.Paid = &paid
	}
	list, total, err := h.blocks.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list blocks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// AttributionAudit handles GET /admin/attributions/:customer_id/audit.
func (h *AdminHandler) AttributionAudit(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("customer_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
		return
	}
	_, limit := parsePagination(c)
	list, err := h.audit.ListByResource(c.Request.Context(), "attribution", strconv.FormatUint(id, 10), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

// GetSettings handles GET /admin/settings.
func (h *AdminHandler) GetSettings(c *gin.Context) {
	overrides, err := h.settingRepo.GetAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}
	snap := h.settings.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"overrides": overrides,
		"effective": gin.H{
			"tiers":             snap.Tiers,
			"commission_type":   snap.CommissionType,
			"commission_value":  snap.CommissionValue,
			"payout_method":     snap.PayoutMethod,
			"payout_min_amount": snap.PayoutMinAmount,
		},
	})
}

// UpdateSetting handles PUT /admin/settings/:key.
func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	key := c.Param("key")
	if !service.IsOverridableSetting(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting: " + key})
		return
	}
	var req struct {
		Value string `json:"value" binding:"required,max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := service.ValidateSettingValue(key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	by := middleware.GetUserID(c)
	if err := h.settingRepo.Set(c.Request.Context(), key, req.Value, &by); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update setting: " + key})
		return
	}
	resp := gin.H{"status": "ok"}
	if tier, ok := service.ThresholdSettingTier(key); ok {
		awarded, err := h.blockEval.ReevaluateTier(c.Request.Context(), tier)
		if err != nil {
			log.Printf("[admin] reevaluate %s after %s change: %v", tier, key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "setting saved, block reevaluation failed"})
			return
		}
		resp["blocks_awarded"] = awarded
	}
	c.JSON(http.StatusOK, resp)
}

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
