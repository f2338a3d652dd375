package common

import (
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ConnectDb opens the main database. A Postgres DSN takes precedence; the
// sqlite file path is the local-development fallback.
func ConnectDb(cfg Config) *gorm.DB {
	if cfg.PostgresDSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
		if err != nil {
			log.Println("Error opening postgres db: " + err.Error())
			return nil
		}
		log.Println("opened postgres db")
		return db
	}

	dbFile := cfg.SQLiteDB
	if dbFile == "" {
		log.Println("neither POSTGRES_DSN nor SQLITE_DB set")
		return nil
	}

	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Println("Error opening sqlite db: " + err.Error())
		return nil
	}
	log.Println("opened sqlite db at:", dbFile)
	return db
}
