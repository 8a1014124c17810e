package ledger_test

import (
	"testing"
	"time"

	"github.com/ksred/arcade-trade-api/internal/database"
	"github.com/ksred/arcade-trade-api/internal/directory"
	"github.com/ksred/arcade-trade-api/internal/ledger"
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

func testDealing() *types.Dealing {
	return &types.Dealing{
		DealingID:    "DLG_test",
		NaviID:       "NAV_test",
		SellerUserID: "u1",
		BuyerUserID:  "u2",
		NaviType:     types.NaviOnlineInquiry,
		Status:       status.ApprovalRequired,
		Payload:      `{"itemName":"Street Racer DX","makerName":"Taiyo Amusement","taxRate":0.10,"lineItems":[{"name":"Street Racer DX","unitPriceYen":500000,"quantity":1}]}`,
	}
}

func TestEnsureEntry_CreatesOnceThenNoops(t *testing.T) {
	db := newTestDB(t)
	poster := ledger.NewPoster()

	dealingID := "DLG_test"
	entry := &types.LedgerEntry{
		UserID:     "u2",
		DealingID:  &dealingID,
		Category:   types.CategoryPurchase,
		Kind:       types.KindPlanned,
		AmountYen:  550000,
		OccurredAt: time.Now(),
	}

	created, err := poster.EnsureEntry(db, entry)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := entry.EntryID
	require.NotEmpty(t, firstID)

	// Same semantic key again: no new row, the existing identity comes back
	repeat := &types.LedgerEntry{
		UserID:     "u2",
		DealingID:  &dealingID,
		Category:   types.CategoryPurchase,
		Kind:       types.KindPlanned,
		AmountYen:  999999,
		OccurredAt: time.Now(),
	}
	created, err = poster.EnsureEntry(db, repeat)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, repeat.EntryID)
	assert.Equal(t, int64(550000), repeat.AmountYen, "existing row is authoritative")

	var count int64
	require.NoError(t, db.Model(&types.LedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEnsureEntry_DistinctKeysGetDistinctRows(t *testing.T) {
	db := newTestDB(t)
	poster := ledger.NewPoster()
	dealingID := "DLG_test"

	for _, key := range []struct {
		user     string
		category types.LedgerCategory
		kind     types.LedgerKind
	}{
		{"u2", types.CategoryPurchase, types.KindPlanned},
		{"u2", types.CategoryPurchase, types.KindActual},
		{"u1", types.CategorySale, types.KindPlanned},
		{"u1", types.CategorySale, types.KindActual},
	} {
		created, err := poster.EnsureEntry(db, &types.LedgerEntry{
			UserID:     key.user,
			DealingID:  &dealingID,
			Category:   key.category,
			Kind:       key.kind,
			AmountYen:  1000,
			OccurredAt: time.Now(),
		})
		require.NoError(t, err)
		assert.True(t, created)
	}

	var count int64
	require.NoError(t, db.Model(&types.LedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestPostPlanned_PostsBuyerAndSellerPair(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, directory.Register(db, "u1", "Arcade Liquidators KK"))
	require.NoError(t, directory.Register(db, "u2", "Game Center Sakura"))

	poster := ledger.NewPoster()
	dealing := testDealing()
	require.NoError(t, db.Create(dealing).Error)

	require.NoError(t, poster.PostPlanned(db, dealing))

	var entries []types.LedgerEntry
	require.NoError(t, db.Order("user_id").Find(&entries).Error)
	require.Len(t, entries, 2)

	seller, buyer := entries[0], entries[1]
	assert.Equal(t, "u1", seller.UserID)
	assert.Equal(t, types.CategorySale, seller.Category)
	assert.Equal(t, types.KindPlanned, seller.Kind)
	assert.Equal(t, "Game Center Sakura", seller.CounterpartyName)

	assert.Equal(t, "u2", buyer.UserID)
	assert.Equal(t, types.CategoryPurchase, buyer.Category)
	assert.Equal(t, types.KindPlanned, buyer.Kind)
	assert.Equal(t, "Arcade Liquidators KK", buyer.CounterpartyName)

	// 500000 * 1.10
	assert.Equal(t, int64(550000), seller.AmountYen)
	assert.Equal(t, buyer.AmountYen, seller.AmountYen)
	assert.Equal(t, "Street Racer DX", buyer.ItemName)
	assert.Equal(t, "Taiyo Amusement", buyer.MakerName)
}

func TestPostPlanned_Idempotent(t *testing.T) {
	db := newTestDB(t)
	poster := ledger.NewPoster()
	dealing := testDealing()

	require.NoError(t, poster.PostPlanned(db, dealing))
	require.NoError(t, poster.PostPlanned(db, dealing))

	var count int64
	require.NoError(t, db.Model(&types.LedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestPostActual_BuyerThenSeller(t *testing.T) {
	db := newTestDB(t)
	poster := ledger.NewPoster()
	dealing := testDealing()

	require.NoError(t, poster.PostActual(db, dealing, status.RoleBuyer))
	require.NoError(t, poster.PostActual(db, dealing, status.RoleSeller))

	var buyerEntry types.LedgerEntry
	require.NoError(t, db.Where("user_id = ? AND kind = ?", "u2", types.KindActual).First(&buyerEntry).Error)
	assert.Equal(t, types.CategoryPurchase, buyerEntry.Category)

	var sellerEntry types.LedgerEntry
	require.NoError(t, db.Where("user_id = ? AND kind = ?", "u1", types.KindActual).First(&sellerEntry).Error)
	assert.Equal(t, types.CategorySale, sellerEntry.Category)

	assert.Equal(t, buyerEntry.AmountYen, sellerEntry.AmountYen)
}

func TestPostActual_RejectsUnknownRole(t *testing.T) {
	db := newTestDB(t)
	poster := ledger.NewPoster()

	err := poster.PostActual(db, testDealing(), status.RoleAny)
	assert.Error(t, err)
}

func TestPostActual_MatchesPlannedAmount(t *testing.T) {
	db := newTestDB(t)
	poster := ledger.NewPoster()
	dealing := testDealing()

	require.NoError(t, poster.PostPlanned(db, dealing))
	require.NoError(t, poster.PostActual(db, dealing, status.RoleBuyer))

	var planned, actual types.LedgerEntry
	require.NoError(t, db.Where("user_id = ? AND kind = ?", "u2", types.KindPlanned).First(&planned).Error)
	require.NoError(t, db.Where("user_id = ? AND kind = ?", "u2", types.KindActual).First(&actual).Error)
	assert.Equal(t, planned.AmountYen, actual.AmountYen,
		"an unchanged payload must produce identical planned and actual amounts")
}

func TestListEntries_NewestFirstAndScopedToUser(t *testing.T) {
	db := newTestDB(t)
	service := ledger.NewService(db)
	dealingID := "DLG_test"

	older := types.LedgerEntry{
		EntryID: "LGR_old", UserID: "u2", DealingID: &dealingID,
		Category: types.CategoryPurchase, Kind: types.KindPlanned,
		AmountYen: 100, OccurredAt: time.Now().Add(-time.Hour),
	}
	newer := types.LedgerEntry{
		EntryID: "LGR_new", UserID: "u2", DealingID: &dealingID,
		Category: types.CategoryPurchase, Kind: types.KindActual,
		AmountYen: 100, OccurredAt: time.Now(),
	}
	other := types.LedgerEntry{
		EntryID: "LGR_other", UserID: "u1", DealingID: &dealingID,
		Category: types.CategorySale, Kind: types.KindPlanned,
		AmountYen: 100, OccurredAt: time.Now(),
	}
	require.NoError(t, db.Create(&older).Error)
	require.NoError(t, db.Create(&newer).Error)
	require.NoError(t, db.Create(&other).Error)

	entries, err := service.ListEntries("u2")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "LGR_new", entries[0].EntryID)
	assert.Equal(t, "LGR_old", entries[1].EntryID)
}

func TestListEntries_RequiresCaller(t *testing.T) {
	db := newTestDB(t)
	service := ledger.NewService(db)

	_, err := service.ListEntries("")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}
