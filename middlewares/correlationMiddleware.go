package middlewares

import (
	"bitbucket.org/mmdatafocus/notification_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const CorrelationIdHeader = "x-correlation-id"

// CorrelationMiddleware generates the correlation id once per request, attaches it
// to the request context and echoes it back.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationIdHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header(CorrelationIdHeader, cid)
		c.Next()
	}
}
