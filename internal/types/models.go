package types

import (
	"time"

	"github.com/ksred/arcade-trade-api/internal/status"
	"gorm.io/gorm"
)

// NegotiationStatus represents the lifecycle state of a negotiation
type NegotiationStatus string

const (
	NegotiationDraft    NegotiationStatus = "DRAFT"
	NegotiationSent     NegotiationStatus = "SENT"
	NegotiationApproved NegotiationStatus = "APPROVED"
	NegotiationRejected NegotiationStatus = "REJECTED"
)

// NaviType distinguishes how a negotiation was initiated
type NaviType string

const (
	NaviPhoneAgreement NaviType = "PHONE_AGREEMENT"
	NaviOnlineInquiry  NaviType = "ONLINE_INQUIRY"
)

// LedgerCategory classifies what a ledger entry is booked as
type LedgerCategory string

const (
	CategoryPurchase   LedgerCategory = "PURCHASE"
	CategorySale       LedgerCategory = "SALE"
	CategoryDeposit    LedgerCategory = "DEPOSIT"
	CategoryWithdrawal LedgerCategory = "WITHDRAWAL"
)

// LedgerKind distinguishes forecast postings from settled ones
type LedgerKind string

const (
	KindPlanned LedgerKind = "PLANNED"
	KindActual  LedgerKind = "ACTUAL"
)

// Negotiation is a pre-binding proposal from an owner (seller) to a buyer.
// BuyerUserID may be empty on legacy rows, with the buyer identity carried
// only inside the payload.
type Negotiation struct {
	gorm.Model      `json:"-"`
	NaviID          string            `gorm:"uniqueIndex" json:"navi_id"`
	OwnerUserID     string            `gorm:"index" json:"owner_user_id"`
	BuyerUserID     string            `gorm:"index" json:"buyer_user_id,omitempty"`
	NaviType        NaviType          `json:"navi_type"`
	Status          NegotiationStatus `json:"status"`
	ListingID       string            `json:"listing_id,omitempty"`
	ListingSnapshot string            `json:"listing_snapshot,omitempty"` // JSON copy of listing terms at send time
	Payload         string            `json:"payload"`                    // open JSON map: conditions, shipping, contacts
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Dealing is the binding trade created exactly once when a negotiation is
// approved. NaviID is unique: one dealing per negotiation, enforced by the
// database.
type Dealing struct {
	gorm.Model   `json:"-"`
	DealingID    string               `gorm:"uniqueIndex" json:"dealing_id"`
	NaviID       string               `gorm:"uniqueIndex" json:"navi_id"`
	SellerUserID string               `gorm:"index" json:"seller_user_id"`
	BuyerUserID  string               `gorm:"index" json:"buyer_user_id"`
	NaviType     NaviType             `json:"navi_type"`
	Status       status.DealingStatus `json:"status"`
	Payload      string               `json:"payload"`
	PaymentAt    *time.Time           `json:"payment_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	CanceledAt   *time.Time           `json:"canceled_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// LedgerEntry is an immutable accounting record. The composite unique index
// over (user, dealing, category, kind) is the exactly-once guarantee: a
// retried or racing posting for the same semantic key collapses onto one row.
// DealingID is a pointer so entries without a dealing (deposits, withdrawals)
// do not collide on the index.
type LedgerEntry struct {
	gorm.Model       `json:"-"`
	EntryID          string         `gorm:"uniqueIndex" json:"entry_id"`
	UserID           string         `gorm:"index;uniqueIndex:idx_ledger_semantic" json:"user_id"`
	DealingID        *string        `gorm:"uniqueIndex:idx_ledger_semantic" json:"dealing_id,omitempty"`
	Category         LedgerCategory `gorm:"uniqueIndex:idx_ledger_semantic" json:"category"`
	Kind             LedgerKind     `gorm:"uniqueIndex:idx_ledger_semantic" json:"kind"`
	AmountYen        int64          `json:"amount_yen"`
	OccurredAt       time.Time      `json:"occurred_at"`
	CounterpartyName string         `json:"counterparty_name,omitempty"`
	MakerName        string         `json:"maker_name,omitempty"`
	ItemName         string         `json:"item_name,omitempty"`
	Memo             string         `json:"memo,omitempty"`
	BalanceAfterYen  *int64         `json:"balance_after_yen,omitempty"`
	Breakdown        string         `json:"breakdown,omitempty"` // opaque JSON
	CreatedAt        time.Time      `json:"created_at"`
}
