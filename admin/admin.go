package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"vitrine/coins"
	"vitrine/common"
	"vitrine/models"
	"vitrine/push"
)

// impersonationTTL bounds how long a generated magic link stays valid.
const impersonationTTL = 15 * time.Minute

type AdminModule struct {
	db        *gorm.DB
	coins     *coins.CoinsModule
	push      *push.PushModule
	domain    string
	jwtSecret string
}

func NewAdminModule(db *gorm.DB, coinsModule *coins.CoinsModule, pushModule *push.PushModule, cfg common.Config) *AdminModule {
	return &AdminModule{
		db:        db,
		coins:     coinsModule,
		push:      pushModule,
		domain:    cfg.Domain,
		jwtSecret: cfg.JWTSecret,
	}
}

func (a *AdminModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/admin")
	group.Use(common.RequireAuth(a.db))
	group.Use(common.RequirePermission("admin_panel", "read"))
	{
		group.GET("/stats", a.stats)
		group.GET("/users", a.listUsers)
		group.PATCH("/users/:id/role",
			common.RequirePermission("users", "manage_role"), a.updateUserRole)
		group.POST("/coins",
			common.RequirePermission("coins", "grant"), a.adjustCoins)
		group.GET("/communities", a.listCommunities)
		group.DELETE("/communities/:id",
			common.RequirePermission("communities", "moderate"), a.deleteCommunity)
		group.POST("/impersonate",
			common.RequirePermission("impersonation", "create"), a.impersonate)
		group.POST("/push/broadcast",
			common.RequirePermission("push", "broadcast"), a.broadcast)
	}
}

type templateCount struct {
	TemplateType string `json:"template_type"`
	Count        int64  `json:"count"`
}

func (a *AdminModule) stats(c *gin.Context) {
	var userCount, siteCount, publishedCount, communityCount, messageCount int64
	a.db.Model(&models.Profile{}).Count(&userCount)
	a.db.Model(&models.Site{}).Count(&siteCount)
	a.db.Model(&models.Site{}).Where("status = ?", models.SiteStatusPublished).Count(&publishedCount)
	a.db.Model(&models.Community{}).Count(&communityCount)
	a.db.Model(&models.SiteMessage{}).Count(&messageCount)

	var coinsInCirculation int64
	a.db.Model(&models.Profile{}).Select("COALESCE(SUM(coin_points), 0)").Scan(&coinsInCirculation)

	var templates []templateCount
	a.db.Model(&models.Site{}).
		Select("template_type, COUNT(*) as count").
		Group("template_type").
		Order("count DESC").
		Scan(&templates)

	c.JSON(http.StatusOK, gin.H{
		"users":                userCount,
		"sites":                siteCount,
		"published_sites":      publishedCount,
		"communities":          communityCount,
		"messages":             messageCount,
		"coins_in_circulation": coinsInCirculation,
		"sites_by_template":    templates,
	})
}

func (a *AdminModule) listUsers(c *gin.Context) {
	query := a.db.Model(&models.Profile{}).Order("created_at DESC")

	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("email LIKE ? OR full_name LIKE ?", like, like)
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var users []models.Profile
	if err := query.Limit(200).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du chargement des utilisateurs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

func validRole(role string) bool {
	switch role {
	case models.RoleUser, models.RoleCommunityAdmin, models.RoleAdmin, models.RoleSuperAdmin:
		return true
	}
	return false
}

func (a *AdminModule) updateUserRole(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant invalide"})
		return
	}

	var request struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || !validRole(request.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rôle invalide"})
		return
	}

	caller := common.CurrentProfile(c)
	if caller.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vous ne pouvez pas modifier votre propre rôle"})
		return
	}

	result := a.db.Model(&models.Profile{}).Where("id = ?", userID).
		UpdateColumn("role", request.Role)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la mise à jour"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Utilisateur introuvable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *AdminModule) adjustCoins(c *gin.Context) {
	var request struct {
		Recipient   string `json:"recipient"`
		Amount      int    `json:"amount"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	row, err := a.coins.AdminAdjust(request.Recipient, request.Amount, request.Description)
	if err != nil {
		switch {
		case errors.Is(err, coins.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Montant invalide"})
		case errors.Is(err, coins.ErrRecipientNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Utilisateur introuvable"})
		case errors.Is(err, coins.ErrInsufficientBalance):
			c.JSON(http.StatusConflict, gin.H{"error": "Le solde de l'utilisateur est insuffisant"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de l'ajustement"})
		}
		return
	}

	c.JSON(http.StatusCreated, row)
}

func (a *AdminModule) listCommunities(c *gin.Context) {
	var communities []models.Community
	if err := a.db.Order("created_at DESC").Find(&communities).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du chargement des communautés"})
		return
	}

	type communityRow struct {
		models.Community
		MemberCount int64 `json:"member_count"`
	}

	rows := make([]communityRow, 0, len(communities))
	for _, community := range communities {
		var count int64
		a.db.Model(&models.CommunityMember{}).Where("community_id = ?", community.ID).Count(&count)
		rows = append(rows, communityRow{Community: community, MemberCount: count})
	}

	c.JSON(http.StatusOK, gin.H{"communities": rows})
}

func (a *AdminModule) deleteCommunity(c *gin.Context) {
	communityID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant invalide"})
		return
	}

	err = a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("community_id = ?", communityID).Delete(&models.CommunityMember{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Community{}, communityID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Communauté introuvable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la suppression"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// impersonate issues a short-lived magic link for another super admin
// account. Both sides of the link must hold the super_admin role.
func (a *AdminModule) impersonate(c *gin.Context) {
	var request struct {
		UserID int `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	var target models.Profile
	if err := a.db.First(&target, request.UserID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Utilisateur introuvable"})
		return
	}

	if target.Role != models.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Ce compte ne peut pas être emprunté"})
		return
	}

	expiresAt := time.Now().Add(impersonationTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     target.ID,
		"purpose": "impersonation",
		"exp":     expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(a.jwtSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la génération du lien"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"magic_link": fmt.Sprintf("%s/api/auth/magic/%s", a.domain, signed),
		"expires_at": expiresAt,
	})
}

func (a *AdminModule) broadcast(c *gin.Context) {
	var request struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		URL   string `json:"url"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Le titre est requis"})
		return
	}

	sent := a.push.Broadcast(push.Notification{
		Title: request.Title,
		Body:  request.Body,
		URL:   request.URL,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "sent": sent})
}
