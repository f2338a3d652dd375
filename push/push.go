package push

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vitrine/common"
	"vitrine/models"
)

// Notification is the payload delivered to the service worker.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

type PushModule struct {
	db         *gorm.DB
	subscriber string
	publicKey  string
	privateKey string
}

func NewPushModule(db *gorm.DB, cfg common.Config) *PushModule {
	subscriber := cfg.PushContact
	if subscriber == "" {
		subscriber = "mailto:contact@vitrine.app"
	}
	return &PushModule{
		db:         db,
		subscriber: subscriber,
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
	}
}

func (p *PushModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/push")
	group.Use(common.RequireAuth(p.db))
	{
		group.GET("/key", p.key)
		group.POST("/subscribe", p.subscribe)
		group.DELETE("/subscribe", p.unsubscribe)
	}
}

func (p *PushModule) key(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"public_key": p.publicKey})
}

func (p *PushModule) subscribe(c *gin.Context) {
	userID := c.GetInt("user_id")

	var request struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Abonnement invalide"})
		return
	}

	subscription := models.PushSubscription{
		UserID:    userID,
		Endpoint:  request.Endpoint,
		P256dh:    request.Keys.P256dh,
		Auth:      request.Keys.Auth,
		CreatedAt: time.Now(),
	}

	// re-subscribing with the same endpoint refreshes the keys
	err := p.db.Where("endpoint = ?", request.Endpoint).
		Assign(models.PushSubscription{UserID: userID, P256dh: request.Keys.P256dh, Auth: request.Keys.Auth}).
		FirstOrCreate(&subscription).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de l'abonnement"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true})
}

func (p *PushModule) unsubscribe(c *gin.Context) {
	userID := c.GetInt("user_id")

	var request struct {
		Endpoint string `json:"endpoint"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Abonnement invalide"})
		return
	}

	p.db.Where("user_id = ? AND endpoint = ?", userID, request.Endpoint).
		Delete(&models.PushSubscription{})

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SendToUser delivers a notification to every subscription the user has
// registered. Dead endpoints are pruned as they are discovered.
func (p *PushModule) SendToUser(userID int, notification Notification) {
	var subscriptions []models.PushSubscription
	if err := p.db.Where("user_id = ?", userID).Find(&subscriptions).Error; err != nil {
		log.Printf("push: loading subscriptions for user %d: %v", userID, err)
		return
	}
	p.send(subscriptions, notification)
}

// Broadcast delivers a notification to every registered subscription.
func (p *PushModule) Broadcast(notification Notification) int {
	var subscriptions []models.PushSubscription
	if err := p.db.Find(&subscriptions).Error; err != nil {
		log.Printf("push: loading subscriptions: %v", err)
		return 0
	}
	return p.send(subscriptions, notification)
}

func (p *PushModule) send(subscriptions []models.PushSubscription, notification Notification) int {
	if p.privateKey == "" {
		log.Println("push: VAPID keys not configured, skipping delivery")
		return 0
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		log.Printf("push: encoding payload: %v", err)
		return 0
	}

	sent := 0
	for _, subscription := range subscriptions {
		target := &webpush.Subscription{
			Endpoint: subscription.Endpoint,
			Keys: webpush.Keys{
				P256dh: subscription.P256dh,
				Auth:   subscription.Auth,
			},
		}

		resp, err := webpush.SendNotification(payload, target, &webpush.Options{
			Subscriber:      p.subscriber,
			VAPIDPublicKey:  p.publicKey,
			VAPIDPrivateKey: p.privateKey,
			TTL:             3600,
		})
		if err != nil {
			log.Printf("push: sending to %s: %v", subscription.Endpoint, err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			p.db.Delete(&subscription)
		} else if resp.StatusCode < 300 {
			sent++
		}
		resp.Body.Close()
	}
	return sent
}
