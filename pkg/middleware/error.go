package middleware

import (
	"net/http"

	"medilicense/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last handler error. BaseErrors keep their status;
// anything else is logged and answered with a generic 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		if v, ok := errutil.As(last.Err); ok {
			if v.Err != nil {
				zap.L().Warn("request failed",
					zap.String("path", c.FullPath()),
					zap.String("code", string(v.Code)),
					zap.String("request_id", RequestIDFrom(c)),
					zap.Error(v.Err))
			}
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		zap.L().Error("unhandled request error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", RequestIDFrom(c)),
			zap.Error(last.Err))
		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal server error",
		}.JSON())
	}
}
