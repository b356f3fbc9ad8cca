package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MerchantMiddleware extracts the merchant ID from headers
// NOTE: First checks if merchant_id was already set by IstioAuth middleware
func MerchantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// First, check if merchant_id was already set by IstioAuth middleware
		merchantID := c.GetString("merchant_id")

		// If not set by IstioAuth, get merchant ID from X-Merchant-ID header
		if merchantID == "" {
			merchantID = c.GetHeader("X-Merchant-ID")
		}

		if merchantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Merchant-ID header is required"})
			c.Abort()
			return
		}

		c.Set("merchant_id", merchantID)
		c.Next()
	}
}
