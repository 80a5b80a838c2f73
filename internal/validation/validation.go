// Package validation provides input validation helpers for the API surface.
package validation

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxReasonLength caps free-text fields (dispute reasons, rebuttals).
const MaxReasonLength = 4000

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidWallet checks if a string is a valid 0x-prefixed wallet address.
func IsValidWallet(addr string) bool {
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}

// SanitizeWallet normalizes a wallet address to lowercase 0x-prefixed form.
func SanitizeWallet(addr string) string {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if !strings.HasPrefix(addr, "0x") && len(addr) == 40 {
		addr = "0x" + addr
	}
	return addr
}

// IsValidAmount checks that a string is a positive decimal amount.
func IsValidAmount(s string) bool {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return d.IsPositive()
}

// SanitizeText trims whitespace, strips null bytes, and limits length.
func SanitizeText(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// FieldError represents a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is a collection of field validation errors.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Check runs a set of validations and collects the failures.
func Check(checks ...*FieldError) FieldErrors {
	var errs FieldErrors
	for _, c := range checks {
		if c != nil {
			errs = append(errs, *c)
		}
	}
	return errs
}

// ValidWallet returns a FieldError if addr is not a valid wallet address.
func ValidWallet(field, addr string) *FieldError {
	if !IsValidWallet(addr) {
		return &FieldError{Field: field, Message: "must be a valid 0x wallet address"}
	}
	return nil
}

// ValidAmount returns a FieldError if s is not a positive decimal amount.
func ValidAmount(field, s string) *FieldError {
	if !IsValidAmount(s) {
		return &FieldError{Field: field, Message: "must be a positive decimal amount"}
	}
	return nil
}
