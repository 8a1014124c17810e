package negotiation

import (
	"errors"
	"fmt"

	"github.com/ksred/arcade-trade-api/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn inside a single transaction. Any error rolls the whole
// thing back so status, dealing, and ledger writes commit together or not at
// all.
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

func (d *Database) CreateNegotiation(n *types.Negotiation) error {
	return d.db.Create(n).Error
}

func (d *Database) GetNegotiation(naviID string) (*types.Negotiation, error) {
	return GetNegotiationTx(d.db, naviID)
}

// GetNegotiationTx reads a negotiation on the given handle. Returns nil when
// absent. Coordinators call this inside their transaction to get a consistent
// view rather than trusting a pre-check copy.
func GetNegotiationTx(tx *gorm.DB, naviID string) (*types.Negotiation, error) {
	var n types.Negotiation
	if err := tx.Where("navi_id = ?", naviID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch negotiation: %w", err)
	}
	return &n, nil
}

// GetDealingByNaviTx reads the dealing bound to a negotiation, if any
func GetDealingByNaviTx(tx *gorm.DB, naviID string) (*types.Dealing, error) {
	var dealing types.Dealing
	if err := tx.Where("navi_id = ?", naviID).First(&dealing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch dealing: %w", err)
	}
	return &dealing, nil
}

// UpsertDealingTx inserts the dealing guarded by the unique navi_id
// constraint with a no-op conflict branch: a concurrent duplicate insert
// collapses onto the existing row instead of erroring. The returned row is
// re-read and authoritative regardless of which caller actually inserted.
func UpsertDealingTx(tx *gorm.DB, dealing *types.Dealing) (*types.Dealing, error) {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "navi_id"}},
		DoNothing: true,
	}).Create(dealing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert dealing: %w", err)
	}

	authoritative, err := GetDealingByNaviTx(tx, dealing.NaviID)
	if err != nil {
		return nil, err
	}
	if authoritative == nil {
		return nil, fmt.Errorf("dealing missing after upsert for navi %s", dealing.NaviID)
	}
	return authoritative, nil
}

// SaveNegotiationTx persists negotiation mutations on the transaction handle
func SaveNegotiationTx(tx *gorm.DB, n *types.Negotiation) error {
	if err := tx.Save(n).Error; err != nil {
		return fmt.Errorf("failed to save negotiation: %w", err)
	}
	return nil
}
