package http

import (
	"net/http"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/services"
	"meetsfu/internal/infrastructure/middleware"
	"meetsfu/pkg/errors"
	"meetsfu/pkg/utils"
	"meetsfu/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues signaling access tokens.
type AuthHandler struct {
	authService services.AuthService
	ttl         time.Duration
}

func NewAuthHandler(authService services.AuthService, ttl time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		ttl:         ttl,
	}
}

// SetupRoutes mounts POST /auth/token under group. Host tokens can only be
// minted by a caller that already holds one.
func (h *AuthHandler) SetupRoutes(group *gin.RouterGroup) {
	group.POST("/auth/token", middleware.OptionalAuthMiddleware(h.authService), h.IssueToken)
}

type TokenRequest struct {
	UserID string `json:"uid" binding:"required,max=128"`
	Name   string `json:"name" binding:"max=256"`
	Host   bool   `json:"host"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Name = utils.SanitizeString(req.Name)
	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateDisplayName(req.Name); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if req.Host {
		claims, ok := middleware.ClaimsFrom(c)
		if !ok || !claims.Host {
			c.Error(errors.NewForbiddenError("host token required to issue host tokens"))
			return
		}
	}

	token, err := h.authService.GenerateToken(domain.Identity{
		UserID:      domain.UserID(req.UserID),
		DisplayName: req.Name,
		Host:        req.Host,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, TokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.ttl),
	})
}
