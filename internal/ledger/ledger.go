package ledger

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/arcade-trade-api/internal/auth"
	"github.com/ksred/arcade-trade-api/internal/directory"
	"github.com/ksred/arcade-trade-api/internal/status"
	"github.com/ksred/arcade-trade-api/internal/types"
	"github.com/ksred/arcade-trade-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Poster appends accounting entries with exactly-once semantics per
// (user, dealing, category, kind). Every method takes the caller's
// transaction handle so postings commit atomically with the status mutation
// that triggered them.
type Poster struct{}

func NewPoster() *Poster {
	return &Poster{}
}

// EnsureEntry inserts the entry unless a row with the same semantic key
// already exists. On a hit the existing row is copied back into entry and
// created is false; callers must treat the returned identity as
// authoritative either way.
func (p *Poster) EnsureEntry(tx *gorm.DB, entry *types.LedgerEntry) (created bool, err error) {
	existing, err := FindEntry(tx, entry.UserID, entry.DealingID, entry.Category, entry.Kind)
	if err != nil {
		return false, err
	}
	if existing != nil {
		*entry = *existing
		return false, nil
	}

	entry.EntryID = "LGR_" + uuid.New().String()
	if err := CreateEntry(tx, entry); err != nil {
		return false, err
	}
	return true, nil
}

// PostPlanned books the forecast pair for a dealing: a PURCHASE against the
// buyer and a SALE against the seller, both PLANNED and both for the same
// deterministically derived amount. Safe to re-run; existing rows no-op.
func (p *Poster) PostPlanned(tx *gorm.DB, dealing *types.Dealing) error {
	logger := log.With().
		Str("dealing_id", dealing.DealingID).
		Str("service", "ledger").
		Logger()

	amount, payload, err := deriveAmount(dealing)
	if err != nil {
		return err
	}

	now := time.Now()
	buyerEntry := p.buildEntry(tx, dealing, payload, dealing.BuyerUserID, dealing.SellerUserID,
		types.CategoryPurchase, types.KindPlanned, amount, now)
	buyerCreated, err := p.EnsureEntry(tx, buyerEntry)
	if err != nil {
		return err
	}

	sellerEntry := p.buildEntry(tx, dealing, payload, dealing.SellerUserID, dealing.BuyerUserID,
		types.CategorySale, types.KindPlanned, amount, now)
	sellerCreated, err := p.EnsureEntry(tx, sellerEntry)
	if err != nil {
		return err
	}

	logger.Info().
		Int64("amount_yen", amount).
		Bool("buyer_posted", buyerCreated).
		Bool("seller_posted", sellerCreated).
		Msg("planned ledger pair ensured")
	return nil
}

// PostActual books the settled entry for one role: the buyer's PURCHASE when
// payment leaves their account, the seller's SALE when funds land. One call
// per qualifying edge; repeats no-op on the semantic key.
func (p *Poster) PostActual(tx *gorm.DB, dealing *types.Dealing, role status.ActorRole) error {
	logger := log.With().
		Str("dealing_id", dealing.DealingID).
		Str("role", string(role)).
		Str("service", "ledger").
		Logger()

	amount, payload, err := deriveAmount(dealing)
	if err != nil {
		return err
	}

	var entry *types.LedgerEntry
	now := time.Now()
	switch role {
	case status.RoleBuyer:
		entry = p.buildEntry(tx, dealing, payload, dealing.BuyerUserID, dealing.SellerUserID,
			types.CategoryPurchase, types.KindActual, amount, now)
	case status.RoleSeller:
		entry = p.buildEntry(tx, dealing, payload, dealing.SellerUserID, dealing.BuyerUserID,
			types.CategorySale, types.KindActual, amount, now)
	default:
		return fmt.Errorf("no actual posting defined for role %q", role)
	}

	created, err := p.EnsureEntry(tx, entry)
	if err != nil {
		return err
	}

	logger.Info().
		Int64("amount_yen", amount).
		Str("category", string(entry.Category)).
		Bool("posted", created).
		Msg("actual ledger entry ensured")
	return nil
}

func (p *Poster) buildEntry(tx *gorm.DB, dealing *types.Dealing, payload types.NegotiationPayload,
	userID, counterpartyID string, category types.LedgerCategory, kind types.LedgerKind,
	amount int64, now time.Time) *types.LedgerEntry {
	dealingID := dealing.DealingID
	return &types.LedgerEntry{
		UserID:           userID,
		DealingID:        &dealingID,
		Category:         category,
		Kind:             kind,
		AmountYen:        amount,
		OccurredAt:       now,
		CounterpartyName: directory.DisplayName(tx, counterpartyID),
		MakerName:        payload.MakerName,
		ItemName:         payload.ItemName,
	}
}

// deriveAmount recomputes the trade amount from the dealing's stored payload.
// The same derivation feeds planned and actual postings, so a mismatch
// between the two signals the payload changed underneath the trade.
func deriveAmount(dealing *types.Dealing) (int64, types.NegotiationPayload, error) {
	payload, err := types.DecodePayload(dealing.Payload)
	if err != nil {
		return 0, types.NegotiationPayload{}, fmt.Errorf("failed to decode dealing payload: %w", err)
	}
	return payload.TotalAmountYen(), payload, nil
}

// Service handles ledger read access
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// ListEntries returns the caller's entries, newest first
func (s *Service) ListEntries(userID string) ([]types.LedgerEntry, error) {
	if userID == "" {
		return nil, types.ErrUnauthorized
	}
	return s.db.ListEntriesForUser(userID)
}

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListEntriesHandler handles GET requests for the caller's ledger
// Requires a valid JWT token
func (h *GinHandlers) ListEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		userID := auth.GetUserID(claims)
		if userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		entries, err := h.service.ListEntries(userID)
		response.Handle(c, entries, err)
	}
}
