package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vitrine/models"
)

// VisitEvent is one raw visit, used for the per-day dashboard charts. The
// aggregate counters live in models.SiteAnalytics.
type VisitEvent struct {
	ID        uint      `gorm:"primary_key;autoIncrement"`
	SiteID    int       `gorm:"not null;index"`
	CookieID  string    `gorm:"not null;index"`
	IP        string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}

// AnalyticsModule tracks visits, sales and contacts per site.
type AnalyticsModule struct {
	db *gorm.DB
}

func NewAnalyticsModule(db *gorm.DB) *AnalyticsModule {
	if err := db.AutoMigrate(&VisitEvent{}); err != nil {
		log.Printf("Error migrating visit_events table: %v", err)
		return nil
	}

	return &AnalyticsModule{db: db}
}

// EnsureRow creates the counter row for a site if it does not exist yet.
func (a *AnalyticsModule) EnsureRow(siteID int) error {
	var row models.SiteAnalytics
	err := a.db.Where("site_id = ?", siteID).First(&row).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return a.db.Create(&models.SiteAnalytics{SiteID: siteID}).Error
}

// PurgeSite removes the counter row and all visit events for a site.
// Meant to run inside the site deletion transaction.
func (a *AnalyticsModule) PurgeSite(tx *gorm.DB, siteID int) error {
	if err := tx.Where("site_id = ?", siteID).Delete(&VisitEvent{}).Error; err != nil {
		return err
	}
	return tx.Where("site_id = ?", siteID).Delete(&models.SiteAnalytics{}).Error
}

// TrackVisit bumps the visit counter and records a visit event.
// Throttled: the same visitor refreshing within 30 minutes counts once.
func (a *AnalyticsModule) TrackVisit(c *gin.Context, siteID int) {
	if a == nil || a.db == nil {
		return
	}

	cookieID := a.getOrCreateCookieID(c)

	thirtyMinutesAgo := time.Now().Add(-30 * time.Minute)
	var recent VisitEvent
	if err := a.db.Where("cookie_id = ? AND site_id = ? AND created_at > ?",
		cookieID, siteID, thirtyMinutesAgo).First(&recent).Error; err == nil {
		return
	}

	event := VisitEvent{
		SiteID:    siteID,
		CookieID:  cookieID,
		IP:        c.ClientIP(),
		CreatedAt: time.Now(),
	}
	if err := a.db.Create(&event).Error; err != nil {
		log.Printf("Error saving visit event: %v", err)
		return
	}

	a.increment(siteID, "total_visits")
}

// IncrementContacts bumps the contact counter for a site.
func (a *AnalyticsModule) IncrementContacts(siteID int) {
	a.increment(siteID, "total_contacts")
}

// IncrementSales bumps the sale counter for a site.
func (a *AnalyticsModule) IncrementSales(siteID int) {
	a.increment(siteID, "total_sales")
}

// increment is a single conditional UPDATE, never read-then-write.
func (a *AnalyticsModule) increment(siteID int, column string) {
	if a == nil || a.db == nil {
		return
	}

	if err := a.EnsureRow(siteID); err != nil {
		log.Printf("Error ensuring analytics row for site %d: %v", siteID, err)
		return
	}

	if err := a.db.Model(&models.SiteAnalytics{}).
		Where("site_id = ?", siteID).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error; err != nil {
		log.Printf("Error incrementing %s for site %d: %v", column, siteID, err)
	}
}

// GetStats returns the counter row for a site, zeroed when absent.
func (a *AnalyticsModule) GetStats(siteID int) models.SiteAnalytics {
	var row models.SiteAnalytics
	if a == nil || a.db == nil {
		return row
	}
	if err := a.db.Where("site_id = ?", siteID).First(&row).Error; err != nil {
		return models.SiteAnalytics{SiteID: siteID}
	}
	return row
}

// DayVisits is the number of visits in one day.
type DayVisits struct {
	Date  string
	Count int64
}

// GetVisitsByDay returns visits per day for the last N days, zero-filled.
func (a *AnalyticsModule) GetVisitsByDay(siteID int, days int) []DayVisits {
	if a == nil || a.db == nil {
		return []DayVisits{}
	}

	startDate := time.Now().AddDate(0, 0, -days)

	var results []struct {
		Date  string
		Count int64
	}

	a.db.Model(&VisitEvent{}).
		Select("DATE(created_at) as date, COUNT(*) as count").
		Where("site_id = ? AND created_at >= ?", siteID, startDate).
		Group("DATE(created_at)").
		Order("date ASC").
		Scan(&results)

	dayVisits := make([]DayVisits, days)
	for i := 0; i < days; i++ {
		date := time.Now().AddDate(0, 0, -(days - 1 - i))
		dayVisits[i] = DayVisits{
			Date:  date.Format("2006-01-02"),
			Count: 0,
		}
	}

	for _, result := range results {
		for i := range dayVisits {
			if dayVisits[i].Date == result.Date {
				dayVisits[i].Count = result.Count
				break
			}
		}
	}

	return dayVisits
}

// getOrCreateCookieID identifies a unique visitor across requests.
func (a *AnalyticsModule) getOrCreateCookieID(c *gin.Context) string {
	cookieName := "vitrine_visitor_id"

	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	data := time.Now().String() + c.ClientIP() + c.Request.UserAgent()
	hash := sha256.Sum256([]byte(data))
	cookieID := hex.EncodeToString(hash[:])

	c.SetCookie(
		cookieName,
		cookieID,
		60*60*24*365*2, // 2 years
		"/",
		"",
		false,
		true,
	)

	return cookieID
}
