package cache

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// SiteCacheMiddleware caches the public JSON rendering of a site
// (GET /@/:subdomain). Everything else passes through untouched.
func SiteCacheMiddleware(maxAge time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		subdomain := extractSubdomain(c.Request.URL.Path)
		if subdomain == "" {
			c.Next()
			return
		}

		if cached, found := ReadCache(subdomain, maxAge); found {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
		}
		c.Writer = writer

		c.Next()

		if c.Writer.Status() == http.StatusOK &&
			strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "application/json") {
			WriteCache(subdomain, writer.body.String())
		}
	}
}

// extractSubdomain returns the subdomain for a cacheable path, which is
// exactly /@/<subdomain> with no trailing segment.
func extractSubdomain(path string) string {
	if !strings.HasPrefix(path, "/@/") {
		return ""
	}

	rest := strings.TrimSuffix(path[len("/@/"):], "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}

	return rest
}
