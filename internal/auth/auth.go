// Package auth extracts the authenticated merchant principal from requests.
//
// Wallet-signature login lives in a fronting auth service; by the time a
// request reaches this engine it carries the verified merchant wallet in the
// X-Merchant-Wallet header. This package trusts that header, validates its
// shape, and makes the principal available to handlers. Ownership checks
// (does this merchant own this transaction) stay in the domain services.
package auth

import (
	"net/http"
	"strings"

	"github.com/dpayne7/escrowd/internal/validation"
	"github.com/gin-gonic/gin"
)

// MerchantWalletHeader carries the authenticated merchant principal, set by
// the fronting auth layer after signature verification.
const MerchantWalletHeader = "X-Merchant-Wallet"

const merchantWalletKey = "merchantWallet"

// MerchantRequired rejects requests that carry no authenticated merchant
// principal or a malformed one.
func MerchantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := strings.TrimSpace(c.GetHeader(MerchantWalletHeader))
		if wallet == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Merchant authentication required",
			})
			return
		}
		if !validation.IsValidWallet(wallet) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid merchant principal",
			})
			return
		}
		c.Set(merchantWalletKey, validation.SanitizeWallet(wallet))
		c.Next()
	}
}

// MerchantWallet returns the authenticated merchant wallet for the request,
// or "" when the route was not guarded by MerchantRequired.
func MerchantWallet(c *gin.Context) string {
	v, ok := c.Get(merchantWalletKey)
	if !ok {
		return ""
	}
	wallet, _ := v.(string)
	return wallet
}
