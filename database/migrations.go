package database

import (
	"log"

	"vitrine/models"

	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&models.Profile{},
		&models.CoinTransaction{},
		&models.Community{},
		&models.CommunityMember{},
		&models.Site{},
		&models.SiteAnalytics{},
		&models.SiteMessage{},
		&models.PushSubscription{},
	)

	if err != nil {
		log.Printf("Error running migrations: %v", err)
		return err
	}

	log.Println("Migrations completed successfully")
	return nil
}
