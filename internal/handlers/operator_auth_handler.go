package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/expertlane/consult-backend/internal/middleware"
	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/internal/services"
)

// OperatorAuthHandler handles operator authentication HTTP requests
type OperatorAuthHandler struct {
	authService      *services.OperatorAuthService
	rateLimitService *services.LoginRateLimitService
	logger           *logrus.Logger
}

// NewOperatorAuthHandler creates a new operator auth handler
func NewOperatorAuthHandler(
	authService *services.OperatorAuthService,
	rateLimitService *services.LoginRateLimitService,
	logger *logrus.Logger,
) *OperatorAuthHandler {
	return &OperatorAuthHandler{
		authService:      authService,
		rateLimitService: rateLimitService,
		logger:           logger,
	}
}

// Login authenticates an operator and returns a token pair
func (h *OperatorAuthHandler) Login(c *gin.Context) {
	var req models.OperatorLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	clientIP := c.ClientIP()
	if err := h.rateLimitService.CheckLoginRateLimit(req.Email, clientIP); err != nil {
		var rateLimitErr *services.RateLimitError
		if errors.As(err, &rateLimitErr) {
			c.Header("Retry-After", rateLimitErr.RetryAfter.UTC().Format(http.TimeFormat))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": rateLimitErr.Message})
			return
		}
		h.logger.WithError(err).Error("Login rate limit check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	response, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if recordErr := h.rateLimitService.RecordFailedLogin(req.Email, clientIP); recordErr != nil {
			h.logger.WithError(recordErr).Warn("Failed to record login attempt")
		}
		h.logger.WithFields(logrus.Fields{
			"email": req.Email,
			"error": err.Error(),
		}).Warn("Operator login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	if err := h.rateLimitService.ClearFailedLogins(req.Email); err != nil {
		h.logger.WithError(err).Warn("Failed to clear login attempts")
	}

	h.logger.WithFields(logrus.Fields{
		"operator_id": response.Operator.ID,
		"email":       response.Operator.Email,
	}).Info("Operator login successful")

	c.JSON(http.StatusOK, response)
}

// Refresh issues a new access token from a refresh token
func (h *OperatorAuthHandler) Refresh(c *gin.Context) {
	var req models.OperatorRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	response, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.logger.WithError(err).Warn("Token refresh failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, response)
}

// Logout revokes the refresh token
func (h *OperatorAuthHandler) Logout(c *gin.Context) {
	var req models.OperatorRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.logger.WithError(err).Warn("Logout failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// GetProfile returns the authenticated operator's profile
func (h *OperatorAuthHandler) GetProfile(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	operator, err := h.authService.GetProfile(c.Request.Context(), userCtx.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Operator not found"})
		return
	}

	c.JSON(http.StatusOK, operator)
}

// ChangePassword changes the authenticated operator's password
func (h *OperatorAuthHandler) ChangePassword(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.OperatorChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), userCtx.UserID, req.OldPassword, req.NewPassword); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.WithField("operator_id", userCtx.UserID).Info("Operator password changed")
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}
