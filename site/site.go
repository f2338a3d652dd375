package site

import (
	"bytes"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"

	"vitrine/analytics"
	"vitrine/cache"
	"vitrine/common"
	"vitrine/models"
)

// MessageCap is the maximum number of stored messages per site.
const MessageCap = 30

var subdomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,28}[a-z0-9]$`)

// markdown renderer configured with Goldmark and useful extensions
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
	),
)

type SiteModule struct {
	db        *gorm.DB
	analytics *analytics.AnalyticsModule
	domain    string
}

func NewSiteModule(db *gorm.DB, analyticsModule *analytics.AnalyticsModule, domain string) *SiteModule {
	if domain == "" {
		domain = "http://localhost:8080"
	}
	return &SiteModule{
		db:        db,
		analytics: analyticsModule,
		domain:    domain,
	}
}

func (s *SiteModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/sites")
	group.Use(common.RequireAuth(s.db))
	{
		group.GET("", s.list)
		group.POST("", s.create)
		group.GET("/:subdomain", s.get)
		group.GET("/:subdomain/stats", s.stats)
		group.PUT("/:subdomain/content", s.updateContent)
		group.PUT("/:subdomain/design", s.updateDesign)
		group.PUT("/:subdomain/template", s.updateTemplate)
		group.POST("/:subdomain/publish", s.publish)
		group.DELETE("/:subdomain", s.deleteSite)
		group.GET("/:subdomain/messages", s.listMessages)
		group.PATCH("/:subdomain/messages/:id/read", s.markMessageRead)
	}

	// public, unauthenticated routes; subdomain requests land here after the
	// host rewrite
	public := router.Group("/@/:subdomain")
	{
		public.GET("/", s.publicSite)
		public.GET("", s.publicSite)
		public.POST("/visit", s.trackVisit)
		public.POST("/messages", s.recordMessage)
	}

	router.GET("/sitemap.xml", s.sitemap)
}

func (s *SiteModule) getSiteBySubdomain(subdomain string, userID int) (*models.Site, error) {
	var site models.Site
	err := s.db.Where("subdomain = ? AND user_id = ?", subdomain, userID).First(&site).Error
	return &site, err
}

func (s *SiteModule) list(c *gin.Context) {
	userID := c.GetInt("user_id")

	var sites []models.Site
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&sites).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du chargement des sites"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sites": sites})
}

func (s *SiteModule) create(c *gin.Context) {
	userID := c.GetInt("user_id")

	var request struct {
		Subdomain    string   `json:"subdomain"`
		TemplateType string   `json:"template_type"`
		SiteData     SiteData `json:"site_data"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	request.Subdomain = strings.ToLower(strings.TrimSpace(request.Subdomain))

	fields := request.SiteData.Validate(true)
	if !subdomainRe.MatchString(request.Subdomain) {
		fields["subdomain"] = "Le sous-domaine doit contenir 3 à 30 caractères (lettres minuscules, chiffres, tirets)"
	} else if common.IsReservedSubdomain(request.Subdomain) {
		fields["subdomain"] = "Ce sous-domaine est réservé"
	}
	if request.TemplateType == "" {
		fields["template_type"] = "Le modèle est requis"
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formulaire invalide", "fields": fields})
		return
	}

	var existing models.Site
	if err := s.db.Where("subdomain = ?", request.Subdomain).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Ce sous-domaine est déjà utilisé"})
		return
	}

	raw, err := request.SiteData.encode()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	site := models.Site{
		UserID:       userID,
		Subdomain:    request.Subdomain,
		SiteData:     raw,
		Status:       models.SiteStatusDraft,
		TemplateType: request.TemplateType,
		IsPublic:     false,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.db.Create(&site).Error; err != nil {
		// the unique index closes the race the SELECT above cannot
		if isDuplicateErr(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Ce sous-domaine est déjà utilisé"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la création du site"})
		return
	}

	if s.analytics != nil {
		s.analytics.EnsureRow(site.ID)
	}

	c.JSON(http.StatusCreated, site)
}

func isDuplicateErr(err error) bool {
	if err == gorm.ErrDuplicatedKey {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (s *SiteModule) get(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	c.JSON(http.StatusOK, site)
}

func (s *SiteModule) stats(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	row := s.analytics.GetStats(site.ID)

	c.JSON(http.StatusOK, gin.H{
		"total_visits":   row.TotalVisits,
		"total_sales":    row.TotalSales,
		"total_contacts": row.TotalContacts,
		"visits_by_day":  s.analytics.GetVisitsByDay(site.ID, 15),
	})
}

func (s *SiteModule) updateContent(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	var data SiteData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	if fields := data.Validate(false); len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formulaire invalide", "fields": fields})
		return
	}

	raw, err := data.encode()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	site.SiteData = raw
	site.UpdatedAt = time.Now()

	if err := s.db.Save(site).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la mise à jour"})
		return
	}

	cache.ClearCache(site.Subdomain)
	c.JSON(http.StatusOK, site)
}

// updateDesign patches only the branding and section-visibility parts of the
// document, leaving the rest untouched.
func (s *SiteModule) updateDesign(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	var request struct {
		Branding *Branding `json:"branding"`
		Sections *Sections `json:"sections"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	data, err := parseSiteData(site.SiteData)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la lecture du site"})
		return
	}

	if request.Branding != nil {
		data.Branding = *request.Branding
	}
	if request.Sections != nil {
		data.Sections = *request.Sections
	}

	if fields := data.Validate(false); len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formulaire invalide", "fields": fields})
		return
	}

	raw, err := data.encode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la mise à jour"})
		return
	}

	site.SiteData = raw
	site.UpdatedAt = time.Now()

	if err := s.db.Save(site).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la mise à jour"})
		return
	}

	cache.ClearCache(site.Subdomain)
	c.JSON(http.StatusOK, site)
}

func (s *SiteModule) updateTemplate(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	var request struct {
		TemplateType string `json:"template_type"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.TemplateType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Le modèle est requis"})
		return
	}

	site.TemplateType = request.TemplateType
	site.UpdatedAt = time.Now()

	if err := s.db.Save(site).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la mise à jour"})
		return
	}

	cache.ClearCache(site.Subdomain)
	c.JSON(http.StatusOK, site)
}

func (s *SiteModule) publish(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	site.Status = models.SiteStatusPublished
	site.IsPublic = true
	site.UpdatedAt = time.Now()

	if err := s.db.Save(site).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la publication"})
		return
	}

	cache.ClearCache(site.Subdomain)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"url":     fmt.Sprintf("%s/@/%s", s.domain, site.Subdomain),
	})
}

func (s *SiteModule) deleteSite(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("site_id = ?", site.ID).Delete(&models.SiteMessage{}).Error; err != nil {
			return err
		}
		if err := s.analytics.PurgeSite(tx, site.ID); err != nil {
			return err
		}
		return tx.Delete(site).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la suppression"})
		return
	}

	cache.ClearCache(site.Subdomain)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *SiteModule) listMessages(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	var messages []models.SiteMessage
	if err := s.db.Where("site_id = ?", site.ID).Order("created_at DESC").Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du chargement des messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *SiteModule) markMessageRead(c *gin.Context) {
	userID := c.GetInt("user_id")
	subdomain := c.Param("subdomain")

	site, err := s.getSiteBySubdomain(subdomain, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	messageID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant invalide"})
		return
	}

	result := s.db.Model(&models.SiteMessage{}).
		Where("id = ? AND site_id = ?", messageID, site.ID).
		UpdateColumn("read_status", true)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la mise à jour"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message introuvable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// publicSite serves the published rendering of a site. Responses are cached
// by the cache middleware; any site mutation clears the entry.
func (s *SiteModule) publicSite(c *gin.Context) {
	subdomain := c.Param("subdomain")

	var site models.Site
	if err := s.db.Where("subdomain = ? AND status = ? AND is_public = ?",
		subdomain, models.SiteStatusPublished, true).First(&site).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	data, err := parseSiteData(site.SiteData)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la lecture du site"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subdomain":     site.Subdomain,
		"template_type": site.TemplateType,
		"site_data":     data,
		"about_html":    renderMarkdown(data.About),
	})
}

func (s *SiteModule) trackVisit(c *gin.Context) {
	subdomain := c.Param("subdomain")

	var site models.Site
	if err := s.db.Where("subdomain = ? AND status = ?", subdomain, models.SiteStatusPublished).
		First(&site).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	s.analytics.TrackVisit(c, site.ID)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// recordMessage stores an inbound contact or order message, capped per site.
// The count and the insert run in one transaction so the cap holds under
// concurrent submissions.
func (s *SiteModule) recordMessage(c *gin.Context) {
	subdomain := c.Param("subdomain")

	var site models.Site
	if err := s.db.Where("subdomain = ? AND status = ?", subdomain, models.SiteStatusPublished).
		First(&site).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Site introuvable"})
		return
	}

	var request struct {
		Name         string  `json:"name"`
		Email        string  `json:"email"`
		Message      string  `json:"message"`
		ProductName  string  `json:"product_name"`
		ProductPrice float64 `json:"product_price"`
		Quantity     int     `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	fields := map[string]string{}
	if strings.TrimSpace(request.Name) == "" {
		fields["name"] = "Le nom est requis"
	}
	if strings.TrimSpace(request.Message) == "" && request.ProductName == "" {
		fields["message"] = "Le message est requis"
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formulaire invalide", "fields": fields})
		return
	}

	capReached := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.SiteMessage{}).Where("site_id = ?", site.ID).Count(&count).Error; err != nil {
			return err
		}
		if count >= MessageCap {
			capReached = true
			return nil
		}

		message := models.SiteMessage{
			SiteID:       site.ID,
			Name:         strings.TrimSpace(request.Name),
			Email:        request.Email,
			Message:      request.Message,
			ProductName:  request.ProductName,
			ProductPrice: request.ProductPrice,
			Quantity:     request.Quantity,
			CreatedAt:    time.Now(),
		}
		return tx.Create(&message).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de l'envoi du message"})
		return
	}
	if capReached {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Ce site a atteint la limite de %d messages", MessageCap),
		})
		return
	}

	s.analytics.IncrementContacts(site.ID)
	if request.ProductName != "" {
		s.analytics.IncrementSales(site.ID)
	}

	c.JSON(http.StatusCreated, gin.H{"success": true})
}

func (s *SiteModule) sitemap(c *gin.Context) {
	domain := strings.TrimSuffix(s.domain, "/")

	var sitemap strings.Builder
	sitemap.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sitemap.WriteString("\n")
	sitemap.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	sitemap.WriteString("\n")

	sitemap.WriteString("  <url>\n")
	sitemap.WriteString("    <loc>" + domain + "/</loc>\n")
	sitemap.WriteString("    <changefreq>weekly</changefreq>\n")
	sitemap.WriteString("    <priority>1.0</priority>\n")
	sitemap.WriteString("  </url>\n")

	var sites []models.Site
	s.db.Where("status = ? AND is_public = ?", models.SiteStatusPublished, true).Find(&sites)

	for _, site := range sites {
		sitemap.WriteString("  <url>\n")
		sitemap.WriteString("    <loc>" + domain + "/@/" + site.Subdomain + "/</loc>\n")
		sitemap.WriteString("    <lastmod>" + site.UpdatedAt.Format(time.RFC3339) + "</lastmod>\n")
		sitemap.WriteString("    <changefreq>weekly</changefreq>\n")
		sitemap.WriteString("    <priority>0.7</priority>\n")
		sitemap.WriteString("  </url>\n")
	}

	sitemap.WriteString("</urlset>\n")

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.String(http.StatusOK, sitemap.String())
}

func renderMarkdown(content string) string {
	if content == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		// on error, fall back to the raw content rather than break the page
		return content
	}
	return buf.String()
}
