// README: Panic recovery returning a JSON internal error.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatchd/internal/errs"
	"dispatchd/internal/logger"
)

func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, rec)
				abort(c, http.StatusInternalServerError, errs.Internal, "internal error")
			}
		}()
		c.Next()
	}
}
