package common

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Subdomains that can never be claimed by a generated site.
var reservedSubdomains = []string{"www", "admin", "api", "mail", "ftp", "smtp", "push", "app"}

// IsReservedSubdomain reports whether a subdomain is kept for platform use.
func IsReservedSubdomain(subdomain string) bool {
	for _, r := range reservedSubdomains {
		if subdomain == r {
			return true
		}
	}
	return false
}

// SubdomainMiddleware handles subdomain routing.
// Converts boutique.<base domain> requests to the internal /@/boutique format.
func SubdomainMiddleware(baseDomain string) gin.HandlerFunc {
	if baseDomain == "" {
		baseDomain = "vitrine.app"
	}

	return func(c *gin.Context) {
		host := c.Request.Host

		// Remove port if present (for local development)
		if strings.Contains(host, ":") {
			host = strings.Split(host, ":")[0]
		}

		if strings.Contains(host, ".") {
			parts := strings.Split(host, ".")

			if len(parts) >= 2 {
				possibleSubdomain := parts[0]
				domain := strings.Join(parts[1:], ".")

				// Only handle subdomains of the platform domain or localhost
				if domain == baseDomain || domain == "localhost" {
					if !IsReservedSubdomain(possibleSubdomain) {
						originalPath := c.Request.URL.Path
						newPath := "/@/" + possibleSubdomain + originalPath

						c.Request.URL.Path = newPath

						c.Set("subdomain", possibleSubdomain)
						c.Set("is_subdomain_request", true)
						c.Set("original_path", originalPath)
					}
				}
			}
		}

		c.Next()
	}
}
