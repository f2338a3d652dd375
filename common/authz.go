package common

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vitrine/models"
)

// Authorization policy: (resource, action) -> roles allowed to do it.
// Every role-gated handler goes through Authorize instead of comparing
// role strings inline.
var policy = map[string]map[string][]string{
	"admin_panel": {
		"read": {models.RoleAdmin, models.RoleSuperAdmin},
	},
	"users": {
		"read":        {models.RoleAdmin, models.RoleSuperAdmin},
		"manage_role": {models.RoleSuperAdmin},
	},
	"coins": {
		"grant": {models.RoleSuperAdmin},
	},
	"communities": {
		"moderate": {models.RoleAdmin, models.RoleSuperAdmin},
	},
	"impersonation": {
		"create": {models.RoleSuperAdmin},
	},
	"push": {
		"broadcast": {models.RoleAdmin, models.RoleSuperAdmin},
	},
}

// Authorize maps (role, resource, action) to allow/deny.
func Authorize(role, resource, action string) bool {
	actions, ok := policy[resource]
	if !ok {
		return false
	}
	roles, ok := actions[action]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireAuth loads the session user's profile and aborts with 401 when the
// session is missing or stale.
func RequireAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get("user_id")

		if userID == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentification requise"})
			c.Abort()
			return
		}

		var profile models.Profile
		if err := db.First(&profile, userID).Error; err != nil {
			session.Clear()
			session.Save()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session invalide"})
			c.Abort()
			return
		}

		c.Set("user_id", profile.ID)
		c.Set("profile", &profile)
		c.Next()
	}
}

// RequirePermission gates a route on the central policy. Must run after
// RequireAuth.
func RequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile := CurrentProfile(c)
		if profile == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentification requise"})
			c.Abort()
			return
		}

		if !Authorize(profile.Role, resource, action) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Accès refusé"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// CurrentProfile returns the profile loaded by RequireAuth, or nil.
func CurrentProfile(c *gin.Context) *models.Profile {
	v, exists := c.Get("profile")
	if !exists {
		return nil
	}
	profile, ok := v.(*models.Profile)
	if !ok {
		return nil
	}
	return profile
}
