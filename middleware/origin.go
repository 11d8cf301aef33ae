package middleware

import (
	"net/http"
	"strings"

	"PTracker/tools"
	"PTracker/tools/errs"

	"github.com/gin-gonic/gin"
)

// Origin rejects browser requests from origins not in allowed. "*" allows
// every origin; requests without an Origin header pass. Preflight requests
// are answered here.
func Origin(allowed []string) gin.HandlerFunc {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			return
		}
		if _, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]; !ok && !allowAll {
			c.AbortWithStatusJSON(http.StatusForbidden, tools.Fail(errs.ErrPermissionDenied.WrapMsg("origin not allowed", "origin", origin)))
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
		}
	}
}
