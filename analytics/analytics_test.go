package analytics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"vitrine/models"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(&models.SiteAnalytics{})
	return db
}

func visitRequest(cookies []*http.Cookie) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/", nil)
	for _, cookie := range cookies {
		c.Request.AddCookie(cookie)
	}
	return c, w
}

func TestEnsureRow(t *testing.T) {
	db := setupTestDB()
	analyticsModule := NewAnalyticsModule(db)

	assert.NoError(t, analyticsModule.EnsureRow(1))
	assert.NoError(t, analyticsModule.EnsureRow(1))

	var count int64
	db.Model(&models.SiteAnalytics{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestIncrements(t *testing.T) {
	db := setupTestDB()
	analyticsModule := NewAnalyticsModule(db)

	analyticsModule.IncrementContacts(1)
	analyticsModule.IncrementContacts(1)
	analyticsModule.IncrementSales(1)

	row := analyticsModule.GetStats(1)
	assert.Equal(t, int64(2), row.TotalContacts)
	assert.Equal(t, int64(1), row.TotalSales)
	assert.Equal(t, int64(0), row.TotalVisits)
}

func TestGetStats_MissingRow(t *testing.T) {
	db := setupTestDB()
	analyticsModule := NewAnalyticsModule(db)

	row := analyticsModule.GetStats(99)
	assert.Equal(t, 99, row.SiteID)
	assert.Equal(t, int64(0), row.TotalVisits)
}

func TestTrackVisit_SetsCookieAndCounts(t *testing.T) {
	db := setupTestDB()
	analyticsModule := NewAnalyticsModule(db)

	c, w := visitRequest(nil)
	analyticsModule.TrackVisit(c, 1)

	assert.NotEmpty(t, w.Result().Cookies())

	row := analyticsModule.GetStats(1)
	assert.Equal(t, int64(1), row.TotalVisits)
}

func TestTrackVisit_ThrottlesRepeatVisitor(t *testing.T) {
	db := setupTestDB()
	analyticsModule := NewAnalyticsModule(db)

	first, w := visitRequest(nil)
	analyticsModule.TrackVisit(first, 1)

	// replay with the visitor cookie within the throttle window
	second, _ := visitRequest(w.Result().Cookies())
	analyticsModule.TrackVisit(second, 1)

	row := analyticsModule.GetStats(1)
	assert.Equal(t, int64(1), row.TotalVisits)
}

func TestTrackVisit_CountsAfterThrottleWindow(t *testing.T) {
	db := setupTestDB()
	analyticsModule := NewAnalyticsModule(db)

	first, w := visitRequest(nil)
	analyticsModule.TrackVisit(first, 1)

	// age the stored event past the 30 minute window
	db.Model(&VisitEvent{}).Where("site_id = ?", 1).
		UpdateColumn("created_at", time.Now().Add(-time.Hour))

	second, _ := visitRequest(w.Result().Cookies())
	analyticsModule.TrackVisit(second, 1)

	row := analyticsModule.GetStats(1)
	assert.Equal(t, int64(2), row.TotalVisits)
}

func TestGetVisitsByDay_ZeroFilled(t *testing.T) {
	db := setupTestDB()
	analyticsModule := NewAnalyticsModule(db)

	c, _ := visitRequest(nil)
	analyticsModule.TrackVisit(c, 1)

	days := analyticsModule.GetVisitsByDay(1, 7)
	assert.Len(t, days, 7)

	var total int64
	for _, day := range days {
		total += day.Count
	}
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), days[len(days)-1].Count)
}
