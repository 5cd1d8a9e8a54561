package handler

import (
	"errors"
	"log"
	"net/http"

	"ambassadorbonus/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type OrderWebhookHandler struct {
	engine *service.OrderEngine
}

func NewOrderWebhookHandler(engine *service.OrderEngine) *OrderWebhookHandler {
	return &OrderWebhookHandler{engine: engine}
}

// Handle handles POST /webhooks/orders: created, completed and refunded
// notifications from the commerce system.
func (h *OrderWebhookHandler) Handle(c *gin.Context) {
	var req struct {
		Type       string          `json:"type" binding:"required,oneof=created completed refunded"`
		OrderID    string          `json:"order_id" binding:"required,max=64"`
		CustomerID uint            `json:"customer_id" binding:"required"`
		Email      string          `json:"email"`
		Total      decimal.Decimal `json:"total"`
		Status     string          `json:"status"`
		CouponCode string          `json:"coupon_code"`
		IP         string          `json:"ip"`
		RefundID   string          `json:"refund_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Total.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "total must not be negative"})
		return
	}
	report, err := h.engine.HandleOrderEvent(c.Request.Context(), service.OrderEvent{
		Type:       req.Type,
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Email:      req.Email,
		Total:      req.Total,
		Status:     req.Status,
		CouponCode: req.CouponCode,
		IP:         req.IP,
		RefundID:   req.RefundID,
	})
	if errors.Is(err, service.ErrUnknownEventType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Printf("[webhook] order=%s type=%s: %v", req.OrderID, req.Type, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process order event"})
		return
	}
	c.JSON(http.StatusOK, report)
}
