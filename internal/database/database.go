package database

import (
	"os"

	"github.com/ksred/arcade-trade-api/internal/directory"
	"github.com/ksred/arcade-trade-api/internal/listing"
	"github.com/ksred/arcade-trade-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection.
// The path comes from DB_PATH, defaulting to a local file.
func NewDatabase() (*gorm.DB, error) {
	path := os.Getenv("DB_PATH")
	if path == "" {
		path = "arcade.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the schema, including the unique navi reference on dealings
// and the composite semantic index on ledger entries declared in model tags
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Negotiation{},
		&types.Dealing{},
		&types.LedgerEntry{},
		&listing.Listing{},
		&directory.User{},
	)
}
