package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/middleware"
	"ambassadorbonus/internal/repository"
	"ambassadorbonus/internal/service"

	"github.com/gin-gonic/gin"
)

type ReferralHandler struct {
	users        *repository.UserRepository
	referrals    *repository.ReferralRepository
	attributions *repository.AttributionRepository
	counters     *repository.CounterRepository
	blocks       *repository.BlockRepository
	commissions  *repository.CommissionRepository
	attachments  *service.AttachmentService
}

func NewReferralHandler(
	users *repository.UserRepository,
	referrals *repository.ReferralRepository,
	attributions *repository.AttributionRepository,
	counters *repository.CounterRepository,
	blocks *repository.BlockRepository,
	commissions *repository.CommissionRepository,
	attachments *service.AttachmentService,
) *ReferralHandler {
	return &ReferralHandler{
		users:        users,
		referrals:    referrals,
		attributions: attributions,
		counters:     counters,
		blocks:       blocks,
		commissions:  commissions,
		attachments:  attachments,
	}
}

// GetMyReferralCode returns the ambassador's referral code, creating one on first use.
// GET /me/referral-code
func (h *ReferralHandler) GetMyReferralCode(c *gin.Context) {
	userID := middleware.GetUserID(c)
	u, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if u.Role != domain.RoleAmbassador && !u.IsAmbassador {
		c.JSON(http.StatusForbidden, gin.H{"error": "ambassador access required"})
		return
	}
	rc, err := h.referrals.GetOrCreateCode(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not get referral code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       rc.Code,
		"is_active":  rc.IsActive,
		"created_at": rc.CreatedAt,
	})
}

// Capture records the referral link the authenticated customer arrived through.
// POST /referrals/capture
func (h *ReferralHandler) Capture(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required,max=20"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.attachments.CaptureVisit(c.Request.Context(), middleware.GetUserID(c), req.Code, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not capture referral"})
		return
	}
	if res.Reason == service.ReasonUnknownCode {
		c.JSON(http.StatusNotFound, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetMyAttribution returns who the authenticated customer is attributed to.
// GET /me/attribution
func (h *ReferralHandler) GetMyAttribution(c *gin.Context) {
	a, err := h.attributions.GetByCustomer(c.Request.Context(), middleware.GetUserID(c))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no attribution"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load attribution"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attribution": a,
		"active":      a.ActiveAt(time.Now()),
	})
}

// GetMyBlocks lists the milestone blocks earned by the authenticated user.
// GET /me/blocks?tier=
func (h *ReferralHandler) GetMyBlocks(c *gin.Context) {
	tier := c.Query("tier")
	if tier != "" && !domain.Tier(tier).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
		return
	}
	list, err := h.blocks.ListByParent(c.Request.Context(), tier, middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list blocks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

// GetMyProgress lists each child's qualifying order count for a tier.
// GET /me/progress?tier=
func (h *ReferralHandler) GetMyProgress(c *gin.Context) {
	tier := domain.Tier(c.DefaultQuery("tier", string(domain.TierAmbassador)))
	if !tier.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
		return
	}
	list, err := h.counters.ListByParent(c.Request.Context(), string(tier), middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": tier, "children": list})
}

// GetMyCommissions lists per-order commissions of the authenticated ambassador.
// GET /me/commissions
func (h *ReferralHandler) GetMyCommissions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	list, err := h.commissions.ListByAmbassador(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list commissions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "limit": limit, "offset": offset})
}
