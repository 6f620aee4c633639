package handlers

import (
	"net/http"

	"github.com/expertlane/consult-backend/internal/models"
	"github.com/expertlane/consult-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// CouponHandler exposes coupon creation, preview and audit over HTTP
type CouponHandler struct {
	couponSvc *services.CouponService
}

// NewCouponHandler creates a new CouponHandler
func NewCouponHandler(couponSvc *services.CouponService) *CouponHandler {
	return &CouponHandler{couponSvc: couponSvc}
}

// CreateCoupon creates a coupon (operator only)
// POST /api/v1/admin/coupons
func (h *CouponHandler) CreateCoupon(c *gin.Context) {
	var req models.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	coupon, err := h.couponSvc.CreateCoupon(&req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, coupon)
}

// ValidateCoupon previews a coupon against a booking context without
// redeeming it
// POST /api/v1/coupons/validate
func (h *CouponHandler) ValidateCoupon(c *gin.Context) {
	var req models.ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	result, err := h.couponSvc.Preview(&req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetUsageHistory lists all redemption attempts for a coupon (operator
// only)
// GET /api/v1/admin/coupons/:id/usages
func (h *CouponHandler) GetUsageHistory(c *gin.Context) {
	usages, err := h.couponSvc.UsageHistory(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"usages": usages, "count": len(usages)})
}
