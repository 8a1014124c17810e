package dealing

import (
	"errors"
	"fmt"

	"github.com/ksred/arcade-trade-api/internal/status"
	"github.com/ksred/arcade-trade-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn inside a single transaction so the status write and its
// ledger reactions commit atomically
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) GetDealing(dealingID string) (*types.Dealing, error) {
	return GetDealingTx(d.db, dealingID)
}

// GetDealingTx reads a dealing on the given handle. Returns nil when absent.
func GetDealingTx(tx *gorm.DB, dealingID string) (*types.Dealing, error) {
	var dealing types.Dealing
	if err := tx.Where("dealing_id = ?", dealingID).First(&dealing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch dealing: %w", err)
	}
	return &dealing, nil
}

// ApplyStatusUpdateTx persists a computed status update onto the dealing row.
// Timestamp fields are only touched when the update carries them, keeping the
// write-once guarantee from the graph layer intact at the storage layer.
func ApplyStatusUpdateTx(tx *gorm.DB, dealing *types.Dealing, update status.Update) error {
	fields := map[string]interface{}{"status": update.Status}
	if update.PaymentAt != nil {
		fields["payment_at"] = update.PaymentAt
	}
	if update.CompletedAt != nil {
		fields["completed_at"] = update.CompletedAt
	}
	if update.CanceledAt != nil {
		fields["canceled_at"] = update.CanceledAt
	}

	if err := tx.Model(dealing).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update dealing status: %w", err)
	}

	dealing.Status = update.Status
	if update.PaymentAt != nil {
		dealing.PaymentAt = update.PaymentAt
	}
	if update.CompletedAt != nil {
		dealing.CompletedAt = update.CompletedAt
	}
	if update.CanceledAt != nil {
		dealing.CanceledAt = update.CanceledAt
	}
	return nil
}
