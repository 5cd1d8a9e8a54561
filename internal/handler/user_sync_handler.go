package handler

import (
	"log"
	"net/http"
	"strings"

	"ambassadorbonus/internal/models"
	"ambassadorbonus/internal/repository"

	"github.com/gin-gonic/gin"
)

type UserSyncHandler struct {
	users *repository.UserRepository
}

func NewUserSyncHandler(users *repository.UserRepository) *UserSyncHandler {
	return &UserSyncHandler{users: users}
}

// Handle handles POST /webhooks/users: identity store changes mirrored into
// the engine's users table.
func (h *UserSyncHandler) Handle(c *gin.Context) {
	var req struct {
		ID                 uint   `json:"id" binding:"required"`
		Email              string `json:"email" binding:"required,email,max=255"`
		Role               string `json:"role" binding:"required,oneof=CUSTOMER AMBASSADOR ADMIN"`
		IsAmbassador       bool   `json:"is_ambassador"`
		RegistrationIP     string `json:"registration_ip" binding:"omitempty,ip"`
		ParentAmbassadorID *uint  `json:"parent_ambassador_id"`
		ParentCustomerID   *uint  `json:"parent_customer_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := &models.User{
		ID:                 req.ID,
		Email:              strings.ToLower(strings.TrimSpace(req.Email)),
		Role:               req.Role,
		IsAmbassador:       req.IsAmbassador,
		RegistrationIP:     req.RegistrationIP,
		ParentAmbassadorID: req.ParentAmbassadorID,
		ParentCustomerID:   req.ParentCustomerID,
	}
	if err := h.users.Upsert(c.Request.Context(), u); err != nil {
		log.Printf("[users] sync user=%d: %v", req.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sync user"})
		return
	}
	stored, err := h.users.GetByID(c.Request.Context(), req.ID)
	if err != nil {
		log.Printf("[users] reload user=%d: %v", req.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, stored)
}
