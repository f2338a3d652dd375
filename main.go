package main

import (
	"log"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"vitrine/admin"
	"vitrine/analytics"
	"vitrine/assistant"
	"vitrine/auth"
	"vitrine/cache"
	"vitrine/coins"
	"vitrine/common"
	"vitrine/community"
	"vitrine/database"
	"vitrine/email"
	"vitrine/push"
	"vitrine/site"
)

func main() {
	godotenv.Load()

	cfg, err := common.LoadConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	db := common.ConnectDb(cfg)
	if db == nil {
		log.Fatal("could not connect to database")
	}

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	if cfg.SessionSecret == "" {
		log.Fatal("SESSION_SECRET is required")
	}

	router := gin.Default()

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
	})
	router.Use(sessions.Sessions("vitrine-session", store))

	router.Use(common.SubdomainMiddleware(cfg.BaseDomain))
	router.Use(cache.SiteCacheMiddleware(5 * time.Minute))

	emailService := email.NewEmailService(cfg)
	coinsModule := coins.NewCoinsModule(db)
	analyticsModule := analytics.NewAnalyticsModule(db)
	pushModule := push.NewPushModule(db, cfg)

	authModule := auth.NewAuthModule(db, emailService, coinsModule, cfg.JWTSecret)
	communityModule := community.NewCommunityModule(db)
	siteModule := site.NewSiteModule(db, analyticsModule, cfg.Domain)
	adminModule := admin.NewAdminModule(db, coinsModule, pushModule, cfg)
	assistantModule := assistant.NewAssistantModule(db, coinsModule, analyticsModule,
		assistant.NewHTTPGeminiClient(cfg.GeminiAPIKey),
		assistant.NewHTTPVideoClient(cfg.VideoAPIKey, cfg.VideoAPIURL))

	authModule.RegisterRoutes(router)
	coinsModule.RegisterRoutes(router)
	communityModule.RegisterRoutes(router)
	siteModule.RegisterRoutes(router)
	adminModule.RegisterRoutes(router)
	pushModule.RegisterRoutes(router)
	assistantModule.RegisterRoutes(router)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("vitrine listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
