// Package listing is the marketplace-listing collaborator. The trade core
// only reads a snapshot of a listing's terms and performs a best-effort
// status update to SOLD; listing CRUD lives elsewhere.
package listing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	StatusActive = "ACTIVE"
	StatusSold   = "SOLD"
)

type Listing struct {
	gorm.Model `json:"-"`
	ListingID  string    `gorm:"uniqueIndex" json:"listing_id"`
	SellerID   string    `gorm:"index" json:"seller_id"`
	Title      string    `json:"title"`
	MakerName  string    `json:"maker_name"`
	PriceYen   int64     `json:"price_yen"`
	TaxRate    float64   `json:"tax_rate"`
	Status     string    `json:"status"` // ACTIVE, SOLD
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Get retrieves a listing by its ID. Returns nil when absent.
func Get(db *gorm.DB, listingID string) (*Listing, error) {
	var l Listing
	if err := db.Where("listing_id = ?", listingID).First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// Snapshot encodes the listing's terms as an immutable JSON copy taken at
// negotiation send time.
func (l *Listing) Snapshot() (string, error) {
	terms := map[string]interface{}{
		"listingId": l.ListingID,
		"itemName":  l.Title,
		"makerName": l.MakerName,
		"totalYen":  l.PriceYen,
		"taxRate":   l.TaxRate,
	}
	out, err := json.Marshal(terms)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot listing: %w", err)
	}
	return string(out), nil
}

// MarkSold flips a listing to SOLD. Already-sold listings are left alone.
func MarkSold(db *gorm.DB, listingID string) error {
	result := db.Model(&Listing{}).
		Where("listing_id = ? AND status <> ?", listingID, StatusSold).
		Update("status", StatusSold)
	return result.Error
}

// Create persists a new listing in ACTIVE status
func Create(db *gorm.DB, l *Listing) error {
	l.Status = StatusActive
	return db.Create(l).Error
}
