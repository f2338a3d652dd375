package assistant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"vitrine/analytics"
	"vitrine/coins"
	"vitrine/models"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(&models.Profile{}, &models.CoinTransaction{},
		&models.Site{}, &models.SiteAnalytics{})
	return db
}

// scriptedGemini replays canned turns, recording what it was asked.
type scriptedGemini struct {
	turns    []geminiResponse
	requests []geminiRequest
}

func (s *scriptedGemini) GenerateContent(request geminiRequest) (*geminiResponse, error) {
	s.requests = append(s.requests, request)
	if len(s.turns) == 0 {
		return nil, errors.New("no scripted turn left")
	}
	turn := s.turns[0]
	s.turns = s.turns[1:]
	return &turn, nil
}

type stubVideo struct {
	url string
	err error
}

func (v *stubVideo) Generate(prompt string) (string, error) {
	return v.url, v.err
}

func textTurn(text string) geminiResponse {
	return geminiResponse{Candidates: []struct {
		Content geminiContent `json:"content"`
	}{{Content: geminiContent{Role: "model", Parts: []geminiPart{{Text: text}}}}}}
}

func callTurn(name string, args map[string]any) geminiResponse {
	return geminiResponse{Candidates: []struct {
		Content geminiContent `json:"content"`
	}{{Content: geminiContent{Role: "model", Parts: []geminiPart{
		{FunctionCall: &functionCall{Name: name, Args: args}},
	}}}}}
}

func setupTestRouter(assistantModule *AssistantModule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore([]byte("secret"))
	router.Use(sessions.Sessions("test-session", store))

	router.POST("/test/login/:id", func(c *gin.Context) {
		id, _ := strconv.Atoi(c.Param("id"))
		session := sessions.Default(c)
		session.Set("user_id", id)
		session.Save()
		c.Status(http.StatusOK)
	})

	assistantModule.RegisterRoutes(router)
	return router
}

func loginAs(router *gin.Engine, userID int) []*http.Cookie {
	req, _ := http.NewRequest("POST", fmt.Sprintf("/test/login/%d", userID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Result().Cookies()
}

func postJSON(router *gin.Engine, path string, payload any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTestProfile(db *gorm.DB, balance int) *models.Profile {
	profile := &models.Profile{
		Email:        "user@example.com",
		PasswordHash: "hash",
		ReferralCode: "AAAAAA",
		CoinPoints:   balance,
	}
	db.Create(profile)
	return profile
}

func TestChat_PlainAnswer(t *testing.T) {
	db := setupTestDB()
	gemini := &scriptedGemini{turns: []geminiResponse{textTurn("Bonjour !")}}
	assistantModule := NewAssistantModule(db, coins.NewCoinsModule(db),
		analytics.NewAnalyticsModule(db), gemini, &stubVideo{})
	router := setupTestRouter(assistantModule)

	user := createTestProfile(db, 0)
	cookies := loginAs(router, user.ID)

	w := postJSON(router, "/api/assistant/chat", gin.H{"message": "Salut"}, cookies)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Bonjour !")

	// tools are always offered to the model
	assert.Len(t, gemini.requests, 1)
	assert.NotEmpty(t, gemini.requests[0].Tools)
}

func TestChat_ToolLoop(t *testing.T) {
	db := setupTestDB()

	gemini := &scriptedGemini{turns: []geminiResponse{
		callTurn("get_site_stats", map[string]any{"subdomain": "boulangerie"}),
		textTurn("Votre site a reçu 12 visites."),
	}}
	assistantModule := NewAssistantModule(db, coins.NewCoinsModule(db),
		analytics.NewAnalyticsModule(db), gemini, &stubVideo{})
	router := setupTestRouter(assistantModule)

	user := createTestProfile(db, 0)
	db.Create(&models.Site{UserID: user.ID, Subdomain: "boulangerie", Status: models.SiteStatusPublished})
	site := models.Site{}
	db.Where("subdomain = ?", "boulangerie").First(&site)
	db.Create(&models.SiteAnalytics{SiteID: site.ID, TotalVisits: 12})

	cookies := loginAs(router, user.ID)
	w := postJSON(router, "/api/assistant/chat", gin.H{"message": "Combien de visites ?"}, cookies)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "12 visites")

	// the second model call carries the tool result
	assert.Len(t, gemini.requests, 2)
	lastTurn := gemini.requests[1].Contents[len(gemini.requests[1].Contents)-1]
	assert.NotNil(t, lastTurn.Parts[0].FunctionResponse)
	assert.Equal(t, "get_site_stats", lastTurn.Parts[0].FunctionResponse.Name)
	assert.Equal(t, int64(12), lastTurn.Parts[0].FunctionResponse.Response["total_visits"])
}

func TestChat_ToolScopedToUser(t *testing.T) {
	db := setupTestDB()
	assistantModule := NewAssistantModule(db, coins.NewCoinsModule(db),
		analytics.NewAnalyticsModule(db), &scriptedGemini{}, &stubVideo{})

	owner := createTestProfile(db, 0)
	db.Create(&models.Site{UserID: owner.ID + 1, Subdomain: "autrui", Status: models.SiteStatusPublished})

	result := assistantModule.toolSiteStats(owner.ID, "autrui")
	assert.Contains(t, result, "error")

	listing := assistantModule.toolListSites(owner.ID)
	sites := listing["sites"].([]map[string]any)
	assert.Empty(t, sites)
}

func TestChat_RoundLimit(t *testing.T) {
	db := setupTestDB()

	// the model keeps calling tools and never answers
	turns := make([]geminiResponse, maxToolRounds)
	for i := range turns {
		turns[i] = callTurn("list_user_sites", nil)
	}
	gemini := &scriptedGemini{turns: turns}
	assistantModule := NewAssistantModule(db, coins.NewCoinsModule(db),
		analytics.NewAnalyticsModule(db), gemini, &stubVideo{})
	router := setupTestRouter(assistantModule)

	user := createTestProfile(db, 0)
	cookies := loginAs(router, user.ID)

	w := postJSON(router, "/api/assistant/chat", gin.H{"message": "Bonjour"}, cookies)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestVideo_DebitsAndReturnsURL(t *testing.T) {
	db := setupTestDB()
	assistantModule := NewAssistantModule(db, coins.NewCoinsModule(db),
		analytics.NewAnalyticsModule(db), &scriptedGemini{},
		&stubVideo{url: "https://cdn.example.com/video.mp4"})
	router := setupTestRouter(assistantModule)

	user := createTestProfile(db, 50)
	cookies := loginAs(router, user.ID)

	w := postJSON(router, "/api/assistant/video", gin.H{"prompt": "Une boulangerie le matin"}, cookies)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "video.mp4")

	var updated models.Profile
	db.First(&updated, user.ID)
	assert.Equal(t, 50-VideoCost, updated.CoinPoints)

	var row models.CoinTransaction
	err := db.Where("recipient_id = ? AND transaction_type = ?",
		user.ID, models.TxTypeAIVideoGeneration).First(&row).Error
	assert.NoError(t, err)
	assert.Equal(t, -VideoCost, row.Amount)
}

func TestVideo_InsufficientBalance(t *testing.T) {
	db := setupTestDB()
	assistantModule := NewAssistantModule(db, coins.NewCoinsModule(db),
		analytics.NewAnalyticsModule(db), &scriptedGemini{}, &stubVideo{})
	router := setupTestRouter(assistantModule)

	user := createTestProfile(db, 5)
	cookies := loginAs(router, user.ID)

	w := postJSON(router, "/api/assistant/video", gin.H{"prompt": "Trop cher"}, cookies)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var updated models.Profile
	db.First(&updated, user.ID)
	assert.Equal(t, 5, updated.CoinPoints)
}

func TestVideo_FailureRefunds(t *testing.T) {
	db := setupTestDB()
	assistantModule := NewAssistantModule(db, coins.NewCoinsModule(db),
		analytics.NewAnalyticsModule(db), &scriptedGemini{},
		&stubVideo{err: errors.New("api down")})
	router := setupTestRouter(assistantModule)

	user := createTestProfile(db, 50)
	cookies := loginAs(router, user.ID)

	w := postJSON(router, "/api/assistant/video", gin.H{"prompt": "Échec"}, cookies)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// the balance is restored, with both legs in the ledger
	var updated models.Profile
	db.First(&updated, user.ID)
	assert.Equal(t, 50, updated.CoinPoints)

	var rows []models.CoinTransaction
	db.Where("recipient_id = ?", user.ID).Order("id").Find(&rows)
	assert.Len(t, rows, 2)
	assert.Equal(t, models.TxTypeAIVideoGeneration, rows[0].TransactionType)
	assert.Equal(t, models.TxTypeRefund, rows[1].TransactionType)
}
