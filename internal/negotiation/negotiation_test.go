package negotiation_test

import (
	"testing"

	"github.com/ksred/arcade-trade-api/internal/database"
	"github.com/ksred/arcade-trade-api/internal/listing"
	"github.com/ksred/arcade-trade-api/internal/negotiation"
	"github.com/ksred/arcade-trade-api/internal/status"
	"github.com/ksred/arcade-trade-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// seedNegotiation creates a SENT negotiation from u1 with u2 as buyer and a
// complete shipping destination
func seedNegotiation(t *testing.T, db *gorm.DB) *types.Negotiation {
	n := &types.Negotiation{
		NaviID:      "NAV_test",
		OwnerUserID: "u1",
		BuyerUserID: "u2",
		NaviType:    types.NaviOnlineInquiry,
		Status:      types.NegotiationSent,
		Payload:     `{"address":"Tokyo, Shibuya 1-2-3","personName":"Sato","taxRate":0.10,"lineItems":[{"name":"Puzzle Panic II","unitPriceYen":300000,"quantity":1}]}`,
	}
	require.NoError(t, db.Create(n).Error)
	return n
}

func countDealings(t *testing.T, db *gorm.DB) int64 {
	var count int64
	require.NoError(t, db.Model(&types.Dealing{}).Count(&count).Error)
	return count
}

func TestApprove_CreatesDealingAndPlannedPair(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	result, err := service.UpdateStatus("NAV_test", "u2", types.NegotiationApproved)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, types.NegotiationApproved, result.Negotiation.Status)
	require.NotEmpty(t, result.DealingID)

	var dealing types.Dealing
	require.NoError(t, db.Where("dealing_id = ?", result.DealingID).First(&dealing).Error)
	assert.Equal(t, status.ApprovalRequired, dealing.Status)
	assert.Equal(t, "u1", dealing.SellerUserID)
	assert.Equal(t, "u2", dealing.BuyerUserID)
	assert.Equal(t, "NAV_test", dealing.NaviID)
	assert.Equal(t, int64(1), countDealings(t, db))

	// Both planned postings exist with the same amount: 300000 * 1.10
	var entries []types.LedgerEntry
	require.NoError(t, db.Order("user_id").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, "u1", entries[0].UserID)
	assert.Equal(t, types.CategorySale, entries[0].Category)
	assert.Equal(t, "u2", entries[1].UserID)
	assert.Equal(t, types.CategoryPurchase, entries[1].Category)
	for _, e := range entries {
		assert.Equal(t, types.KindPlanned, e.Kind)
		assert.Equal(t, int64(330000), e.AmountYen)
	}
}

func TestApprove_IdempotentRetryReturnsSameDealing(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	first, err := service.UpdateStatus("NAV_test", "u2", types.NegotiationApproved)
	require.NoError(t, err)

	second, err := service.UpdateStatus("NAV_test", "u2", types.NegotiationApproved)
	require.NoError(t, err, "a duplicate approval submit is a success, not an error")
	assert.Equal(t, first.DealingID, second.DealingID)
	assert.Equal(t, types.NegotiationApproved, second.Negotiation.Status)

	assert.Equal(t, int64(1), countDealings(t, db))

	var entryCount int64
	require.NoError(t, db.Model(&types.LedgerEntry{}).Count(&entryCount).Error)
	assert.Equal(t, int64(2), entryCount, "retry must not double-post planned entries")
}

func TestApprove_ShippingGate(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)

	n := &types.Negotiation{
		NaviID:      "NAV_noship",
		OwnerUserID: "u1",
		BuyerUserID: "u2",
		NaviType:    types.NaviOnlineInquiry,
		Status:      types.NegotiationSent,
		Payload:     `{"personName":"Sato"}`,
	}
	require.NoError(t, db.Create(n).Error)

	_, err := service.UpdateStatus("NAV_noship", "u2", types.NegotiationApproved)
	assert.ErrorIs(t, err, types.ErrShippingInfoMissing)

	// No mutation: status unchanged, no dealing, no ledger rows
	var reread types.Negotiation
	require.NoError(t, db.Where("navi_id = ?", "NAV_noship").First(&reread).Error)
	assert.Equal(t, types.NegotiationSent, reread.Status)
	assert.Equal(t, int64(0), countDealings(t, db))
}

func TestApprove_StrangerForbidden(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	_, err := service.UpdateStatus("NAV_test", "u3", types.NegotiationApproved)
	assert.ErrorIs(t, err, types.ErrForbidden)

	var reread types.Negotiation
	require.NoError(t, db.Where("navi_id = ?", "NAV_test").First(&reread).Error)
	assert.Equal(t, types.NegotiationSent, reread.Status)
	assert.Equal(t, int64(0), countDealings(t, db))
}

func TestApprove_OwnerCannotApprove(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	_, err := service.UpdateStatus("NAV_test", "u1", types.NegotiationApproved)
	assert.ErrorIs(t, err, types.ErrForbidden)
	assert.Equal(t, int64(0), countDealings(t, db))
}

func TestApprove_BuyerRequired(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)

	n := &types.Negotiation{
		NaviID:      "NAV_nobuyer",
		OwnerUserID: "u1",
		NaviType:    types.NaviPhoneAgreement,
		Status:      types.NegotiationSent,
		Payload:     `{"address":"Tokyo","personName":"Sato"}`,
	}
	require.NoError(t, db.Create(n).Error)

	_, err := service.UpdateStatus("NAV_nobuyer", "u1", types.NegotiationApproved)
	assert.ErrorIs(t, err, types.ErrBuyerRequired)
	assert.Equal(t, int64(0), countDealings(t, db))
}

func TestApprove_PayloadBuyerFallback(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)

	// Legacy row: buyer identity only inside the payload
	n := &types.Negotiation{
		NaviID:      "NAV_legacy",
		OwnerUserID: "u1",
		NaviType:    types.NaviPhoneAgreement,
		Status:      types.NegotiationSent,
		Payload:     `{"buyerId":"u2","address":"Tokyo","personName":"Sato","totalYen":120000}`,
	}
	require.NoError(t, db.Create(n).Error)

	result, err := service.UpdateStatus("NAV_legacy", "u2", types.NegotiationApproved)
	require.NoError(t, err)
	require.NotEmpty(t, result.DealingID)

	var dealing types.Dealing
	require.NoError(t, db.Where("dealing_id = ?", result.DealingID).First(&dealing).Error)
	assert.Equal(t, "u2", dealing.BuyerUserID)

	// The approval normalizes the column going forward
	assert.Equal(t, "u2", result.Negotiation.BuyerUserID)
}

func TestApprove_ListingSnapshotMergedAndMarkedSold(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)

	require.NoError(t, listing.Create(db, &listing.Listing{
		ListingID: "LST_1",
		SellerID:  "u1",
		Title:     "Rhythm Master",
		MakerName: "Hoshi Games",
		PriceYen:  480000,
		TaxRate:   0.10,
	}))

	created, err := service.Create("u1", negotiation.CreateRequest{
		NaviType:    types.NaviOnlineInquiry,
		BuyerUserID: "u2",
		ListingID:   "LST_1",
		Send:        true,
		Payload: map[string]interface{}{
			"address":    "Nagoya, Naka 2-3",
			"personName": "Tanaka",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ListingSnapshot)

	result, err := service.UpdateStatus(created.NaviID, "u2", types.NegotiationApproved)
	require.NoError(t, err)

	payload, err := types.DecodePayload(result.Negotiation.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Rhythm Master", payload.ItemName)
	assert.Equal(t, int64(480000), payload.TotalYen)

	l, err := listing.Get(db, "LST_1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, listing.StatusSold, l.Status)
}

func TestUpdateStatus_RejectByOwner(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	result, err := service.UpdateStatus("NAV_test", "u1", types.NegotiationRejected)
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationRejected, result.Negotiation.Status)
	assert.Empty(t, result.DealingID)
	assert.Equal(t, int64(0), countDealings(t, db))
}

func TestUpdateStatus_NonApprovalByBuyerForbidden(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	_, err := service.UpdateStatus("NAV_test", "u2", types.NegotiationRejected)
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)

	_, err := service.UpdateStatus("NAV_missing", "u1", types.NegotiationRejected)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateStatus_Unauthorized(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	_, err := service.UpdateStatus("NAV_test", "", types.NegotiationApproved)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestUpdateStatus_DealingWithoutApprovalIsConflict(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	// Simulate a prior invariant violation: a dealing exists while the
	// negotiation never flipped to APPROVED
	require.NoError(t, db.Create(&types.Dealing{
		DealingID:    "DLG_orphan",
		NaviID:       "NAV_test",
		SellerUserID: "u1",
		BuyerUserID:  "u2",
		Status:       status.ApprovalRequired,
	}).Error)

	_, err := service.UpdateStatus("NAV_test", "u2", types.NegotiationApproved)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestUpdatePayload_MergesForEitherParty(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)

	n := &types.Negotiation{
		NaviID:      "NAV_draft",
		OwnerUserID: "u1",
		BuyerUserID: "u2",
		NaviType:    types.NaviOnlineInquiry,
		Status:      types.NegotiationSent,
		Payload:     `{"itemName":"Crane King"}`,
	}
	require.NoError(t, db.Create(n).Error)

	updated, err := service.UpdatePayload("NAV_draft", "u2", map[string]interface{}{
		"address":    "Sapporo, Kita 1-1",
		"personName": "Abe",
	})
	require.NoError(t, err)

	payload, err := types.DecodePayload(updated.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Crane King", payload.ItemName)
	assert.True(t, payload.HasShippingInfo())
}

func TestUpdatePayload_RejectedAfterApproval(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	_, err := service.UpdateStatus("NAV_test", "u2", types.NegotiationApproved)
	require.NoError(t, err)

	_, err = service.UpdatePayload("NAV_test", "u2", map[string]interface{}{"memo": "late change"})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestUpdatePayload_StrangerForbidden(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)
	seedNegotiation(t, db)

	_, err := service.UpdatePayload("NAV_test", "u3", map[string]interface{}{"memo": "hi"})
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func TestCreate_DraftAndSent(t *testing.T) {
	db := newTestDB(t)
	service := negotiation.NewService(db)

	draft, err := service.Create("u1", negotiation.CreateRequest{
		NaviType: types.NaviPhoneAgreement,
	})
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationDraft, draft.Status)
	assert.Equal(t, "u1", draft.OwnerUserID)

	sent, err := service.Create("u1", negotiation.CreateRequest{
		NaviType: types.NaviOnlineInquiry,
		Send:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, types.NegotiationSent, sent.Status)
	assert.NotEqual(t, draft.NaviID, sent.NaviID)
}
