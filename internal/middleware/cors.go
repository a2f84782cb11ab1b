package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/hera/internal/logger"
)

const (
	corsAllowHeaders  = "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With, If-None-Match"
	corsAllowMethods  = "POST, OPTIONS, GET, PUT, DELETE, PATCH"
	corsExposeHeaders = "Location, ETag, X-Artifact-Version"
)

// CORS returns a middleware that handles CORS. An empty allowlist admits any
// origin; otherwise only listed origins are echoed back.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		h := c.Writer.Header()

		switch {
		case len(allowed) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if c.Request.Method == http.MethodOptions {
			logger.WithFields(map[string]interface{}{
				"path":    c.Request.URL.Path,
				"origin":  origin,
				"allowed": len(allowed) == 0 || allowed[origin],
			}).Debug("CORS preflight request handled")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
