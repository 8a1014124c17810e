package ledger

import (
	"errors"
	"fmt"

	"github.com/ksred/arcade-trade-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// FindEntry looks up an entry by its semantic key. Returns nil when absent.
// Must be called on the same transaction handle that will insert, so the
// lookup-then-insert pair is race-free against concurrent postings.
func FindEntry(tx *gorm.DB, userID string, dealingID *string, category types.LedgerCategory, kind types.LedgerKind) (*types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := tx.Where("user_id = ? AND dealing_id = ? AND category = ? AND kind = ?",
		userID, dealingID, category, kind).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up ledger entry: %w", err)
	}
	return &entry, nil
}

// CreateEntry inserts a new immutable entry. The composite unique index on
// (user, dealing, category, kind) backstops the FindEntry check.
func CreateEntry(tx *gorm.DB, entry *types.LedgerEntry) error {
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

// ListEntriesForUser returns all of a user's entries, newest first
func (d *Database) ListEntriesForUser(userID string) ([]types.LedgerEntry, error) {
	var entries []types.LedgerEntry
	if err := d.db.Where("user_id = ?", userID).
		Order("occurred_at DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
