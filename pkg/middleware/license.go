package middleware

import (
	"context"
	"net/http"

	"medilicense/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RestrictionCheck decides whether the requester behind c is blocked and
// why.
type RestrictionCheck func(c *gin.Context) (restricted bool, message string, err error)

// LicenseGate answers 402 with the restriction message for blocked
// requesters. enabled is consulted per request so enforcement can be
// switched off without a deploy; a nil enabled always enforces.
func LicenseGate(check RestrictionCheck, enabled func(ctx context.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled != nil && !enabled(c.Request.Context()) {
			c.Next()
			return
		}

		restricted, message, err := check(c)
		if err != nil {
			zap.L().Error("license gate check failed", zap.Error(err))
			_ = c.Error(errutil.Internal("license check failed", err))
			c.Abort()
			return
		}
		if restricted {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, errutil.BaseError{
				Code:    errutil.StatusPaymentRequired,
				Message: message,
			}.JSON())
			return
		}
		c.Next()
	}
}
