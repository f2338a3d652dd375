package assistant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vitrine/analytics"
	"vitrine/coins"
	"vitrine/common"
	"vitrine/models"
)

const (
	geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

	// VideoCost is the coin price of one AI video generation.
	VideoCost = 20

	// maxToolRounds bounds the function-call loop with the model.
	maxToolRounds = 4
)

const systemPrompt = `Tu es l'assistant de Vitrine, une plateforme de création de sites web pour petites entreprises.
Tu aides les utilisateurs à gérer leurs sites, comprendre leurs statistiques et améliorer leur présence en ligne.
Réponds toujours en français, de façon concise et pratique.
Utilise les outils à ta disposition pour consulter les sites et statistiques de l'utilisateur avant de répondre.`

type geminiPart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// GeminiClient generates a model turn from the accumulated conversation.
type GeminiClient interface {
	GenerateContent(request geminiRequest) (*geminiResponse, error)
}

// HTTPGeminiClient calls the Gemini REST API directly. generateContentFunc
// can be swapped in tests to avoid the network.
type HTTPGeminiClient struct {
	apiKey              string
	httpClient          *http.Client
	generateContentFunc func(request geminiRequest) (*geminiResponse, error)
}

func NewHTTPGeminiClient(apiKey string) *HTTPGeminiClient {
	client := &HTTPGeminiClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	client.generateContentFunc = client.doGenerateContent
	return client
}

func (g *HTTPGeminiClient) GenerateContent(request geminiRequest) (*geminiResponse, error) {
	return g.generateContentFunc(request)
}

func (g *HTTPGeminiClient) doGenerateContent(request geminiRequest) (*geminiResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, geminiEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Gemini API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &parsed, nil
}

// VideoClient submits a generation job to the external video API.
type VideoClient interface {
	Generate(prompt string) (string, error)
}

type HTTPVideoClient struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

func NewHTTPVideoClient(apiKey, apiURL string) *HTTPVideoClient {
	return &HTTPVideoClient{
		apiKey:     apiKey,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (v *HTTPVideoClient) Generate(prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, v.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling video API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("video API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		VideoURL string `json:"video_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding video response: %w", err)
	}
	return parsed.VideoURL, nil
}

type AssistantModule struct {
	db        *gorm.DB
	coins     *coins.CoinsModule
	analytics *analytics.AnalyticsModule
	gemini    GeminiClient
	video     VideoClient
}

func NewAssistantModule(db *gorm.DB, coinsModule *coins.CoinsModule, analyticsModule *analytics.AnalyticsModule, gemini GeminiClient, video VideoClient) *AssistantModule {
	return &AssistantModule{
		db:        db,
		coins:     coinsModule,
		analytics: analyticsModule,
		gemini:    gemini,
		video:     video,
	}
}

func (a *AssistantModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/assistant")
	group.Use(common.RequireAuth(a.db))
	{
		group.POST("/chat", a.chat)
		group.POST("/video", a.generateVideo)
	}
}

var assistantTools = []geminiTool{{
	FunctionDeclarations: []functionDeclaration{
		{
			Name:        "list_user_sites",
			Description: "Liste les sites de l'utilisateur connecté avec leur sous-domaine, modèle et statut.",
		},
		{
			Name:        "get_site_stats",
			Description: "Retourne les statistiques (visites, ventes, contacts) d'un site de l'utilisateur.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subdomain": map[string]any{
						"type":        "string",
						"description": "Le sous-domaine du site.",
					},
				},
				"required": []string{"subdomain"},
			},
		},
	},
}}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *AssistantModule) chat(c *gin.Context) {
	userID := c.GetInt("user_id")

	var request struct {
		Message string        `json:"message"`
		History []chatMessage `json:"history"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Le message est requis"})
		return
	}

	contents := make([]geminiContent, 0, len(request.History)+1)
	for _, message := range request.History {
		role := "user"
		if message.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: message.Content}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: request.Message}},
	})

	reply, err := a.runConversation(userID, contents)
	if err != nil {
		log.Printf("assistant: chat for user %d: %v", userID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "L'assistant est indisponible pour le moment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// runConversation drives the model, resolving function calls against the
// database until the model produces a text answer or the round limit hits.
func (a *AssistantModule) runConversation(userID int, contents []geminiContent) (string, error) {
	for round := 0; round < maxToolRounds; round++ {
		response, err := a.gemini.GenerateContent(geminiRequest{
			SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
			Contents:          contents,
			Tools:             assistantTools,
		})
		if err != nil {
			return "", err
		}
		if len(response.Candidates) == 0 {
			return "", fmt.Errorf("empty response from model")
		}

		turn := response.Candidates[0].Content
		turn.Role = "model"

		var calls []functionCall
		var text string
		for _, part := range turn.Parts {
			if part.FunctionCall != nil {
				calls = append(calls, *part.FunctionCall)
			}
			if part.Text != "" {
				text += part.Text
			}
		}

		if len(calls) == 0 {
			return text, nil
		}

		contents = append(contents, turn)

		responseParts := make([]geminiPart, 0, len(calls))
		for _, call := range calls {
			result := a.executeTool(userID, call)
			responseParts = append(responseParts, geminiPart{
				FunctionResponse: &functionResponse{
					Name:     call.Name,
					Response: result,
				},
			})
		}
		contents = append(contents, geminiContent{Role: "user", Parts: responseParts})
	}

	return "", fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
}

func (a *AssistantModule) executeTool(userID int, call functionCall) map[string]any {
	switch call.Name {
	case "list_user_sites":
		return a.toolListSites(userID)
	case "get_site_stats":
		subdomain, _ := call.Args["subdomain"].(string)
		return a.toolSiteStats(userID, subdomain)
	}
	return map[string]any{"error": "unknown tool: " + call.Name}
}

func (a *AssistantModule) toolListSites(userID int) map[string]any {
	var sites []models.Site
	if err := a.db.Where("user_id = ?", userID).Find(&sites).Error; err != nil {
		return map[string]any{"error": err.Error()}
	}

	rows := make([]map[string]any, 0, len(sites))
	for _, site := range sites {
		rows = append(rows, map[string]any{
			"subdomain":     site.Subdomain,
			"template_type": site.TemplateType,
			"status":        site.Status,
			"created_at":    site.CreatedAt.Format("2006-01-02"),
		})
	}
	return map[string]any{"sites": rows}
}

func (a *AssistantModule) toolSiteStats(userID int, subdomain string) map[string]any {
	var site models.Site
	if err := a.db.Where("subdomain = ? AND user_id = ?", subdomain, userID).First(&site).Error; err != nil {
		return map[string]any{"error": "site not found"}
	}

	stats := a.analytics.GetStats(site.ID)
	return map[string]any{
		"subdomain":      site.Subdomain,
		"total_visits":   stats.TotalVisits,
		"total_sales":    stats.TotalSales,
		"total_contacts": stats.TotalContacts,
	}
}

// generateVideo debits the coin price, calls the video API and refunds on
// failure so the ledger never loses a failed generation.
func (a *AssistantModule) generateVideo(c *gin.Context) {
	userID := c.GetInt("user_id")

	var request struct {
		Prompt    string `json:"prompt"`
		Subdomain string `json:"subdomain"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "La description de la vidéo est requise"})
		return
	}

	prompt := request.Prompt
	if request.Subdomain != "" {
		var site models.Site
		if err := a.db.Where("subdomain = ? AND user_id = ?", request.Subdomain, userID).
			First(&site).Error; err == nil {
			if data := site.SiteData; data != "" {
				prompt = fmt.Sprintf("%s\n\nContexte du site (%s) : %s", request.Prompt, site.Subdomain, data)
			}
		}
	}

	err := a.coins.Spend(userID, VideoCost, models.TxTypeAIVideoGeneration, "Génération de vidéo IA")
	if err != nil {
		if err == coins.ErrInsufficientBalance {
			c.JSON(http.StatusForbidden, gin.H{
				"error": fmt.Sprintf("Solde insuffisant : la génération de vidéo coûte %d pièces", VideoCost),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du débit"})
		return
	}

	videoURL, err := a.video.Generate(prompt)
	if err != nil {
		log.Printf("assistant: video generation for user %d: %v", userID, err)
		if refundErr := a.coins.Refund(userID, VideoCost, "Remboursement : échec de la génération de vidéo"); refundErr != nil {
			log.Printf("assistant: refunding user %d: %v", userID, refundErr)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "La génération de vidéo a échoué, vos pièces ont été remboursées"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"video_url": videoURL, "cost": VideoCost})
}
