package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
)

const tenant = "main-store"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.PutProducts(context.Background(), []domain.Product{
		{
			ID: "water", TenantID: tenant, Name: "Air Mineral", SaleType: domain.SaleTypeUnit,
			UnitSalePrice: decimal.RequireFromString("3.90"), UnitCost: decimal.RequireFromString("3.20"),
			StockUnits: 5, BulkUnitSizeGrams: 1, UpdatedAt: time.Now().UTC(),
		},
		{
			ID: "rice", TenantID: tenant, Name: "Beras Curah", SaleType: domain.SaleTypeBulk,
			UnitSalePrice: decimal.RequireFromString("14.00"), UnitCost: decimal.RequireFromString("11.50"),
			StockUnits: 25, BulkUnitSizeGrams: 1000, UpdatedAt: time.Now().UTC(),
		},
	}))
	return s
}

func draft(id string, seller string, line domain.SaleLine) domain.SaleDraft {
	return domain.SaleDraft{
		ID:        id,
		TenantID:  tenant,
		SellerID:  seller,
		Lines:     []domain.SaleLine{line},
		Payment:   domain.PaymentRequest{Type: domain.PaymentCash},
		CreatedAt: time.Now().UTC(),
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestSettleLocalRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sale, err := s.SettleLocal(ctx, draft("s1", "kasir1", domain.SaleLine{ProductID: "water", SaleType: domain.SaleTypeUnit, QuantityUnits: 2}), domain.AuditReasonOffline)
	require.NoError(t, err)
	assert.Equal(t, "7.80", sale.Total.StringFixed(2))

	found, err := s.FindSale(ctx, tenant, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.OriginLocalFallback, found.SettlementOrigin)
	assert.Equal(t, domain.AuditReasonOffline, found.AuditReason)
	assert.True(t, found.AuditRequired)
	assert.False(t, found.Synced)
	require.Len(t, found.Items, 1)
	assert.True(t, found.Total.Equal(sale.Total))

	_, err = s.SettleLocal(ctx, draft("s1", "kasir1", domain.SaleLine{ProductID: "water", SaleType: domain.SaleTypeUnit, QuantityUnits: 1}), domain.AuditReasonOffline)
	assert.ErrorIs(t, err, domain.ErrConflict)

	products, err := s.GetProducts(ctx, tenant, []string{"water"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), products["water"].StockUnits)

	audit, err := s.ListUnsyncedAudit(ctx, tenant, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, domain.AuditKindSaleLocalFallback, audit[0].Kind)
	require.NoError(t, s.MarkAuditSynced(ctx, []string{audit[0].ID}))
	audit, err = s.ListUnsyncedAudit(ctx, tenant, 10)
	require.NoError(t, err)
	assert.Empty(t, audit)

	_, err = s.FindSale(ctx, tenant, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettleLocalConcurrentNoOversell(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = s.SettleLocal(ctx, draft(id, "kasir1", domain.SaleLine{ProductID: "water", SaleType: domain.SaleTypeUnit, QuantityUnits: 3}), domain.AuditReasonOffline)
		}(i, id)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestSettleLocalBulkRemainder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SettleLocal(ctx, draft("b1", "kasir1", domain.SaleLine{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: 700}), domain.AuditReasonOffline)
	require.NoError(t, err)
	_, err = s.SettleLocal(ctx, draft("b2", "kasir1", domain.SaleLine{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: 400}), domain.AuditReasonOffline)
	require.NoError(t, err)

	products, err := s.GetProducts(ctx, tenant, []string{"rice"})
	require.NoError(t, err)
	assert.Equal(t, int64(24), products["rice"].StockUnits)
	assert.Equal(t, int64(100), products["rice"].PendingBulkGrams)
}

func TestUnsyncedSalesCursorAndClosures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordSale(ctx, domain.Sale{
			ID: id, TenantID: tenant, SellerID: "kasir1",
			Total: decimal.NewFromInt(10), CashAmount: decimal.NewFromInt(4), VirtualAmount: decimal.NewFromInt(6),
			CreatedAt: time.Now().UTC(),
		}, nil))
	}
	page, err := s.ListUnsyncedSales(ctx, tenant, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	rest, err := s.ListUnsyncedSales(ctx, tenant, page[1].Seq, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Sale.ID)

	require.NoError(t, s.PutShift(ctx, domain.Shift{TenantID: tenant, EmployeeID: "kasir1", OpeningCash: decimal.NewFromInt(40), Active: true}))
	req := domain.CloseRequest{TenantID: tenant, Scope: domain.ScopeMine, ActorID: "kasir1", SellerID: "kasir1", ClosedAt: time.Now()}
	closures, err := s.CloseLocal(ctx, req, func() string { return "closure-1" })
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, "30.00", closures[0].TotalAmount.StringFixed(2))
	assert.Equal(t, "12.00", closures[0].CashToDeliver.StringFixed(2))
	assert.Equal(t, "40.00", closures[0].OpeningCash.StringFixed(2))

	_, err = s.CloseLocal(ctx, req, func() string { return "closure-2" })
	assert.ErrorIs(t, err, domain.ErrNothingToClose)

	sale, err := s.FindSale(ctx, tenant, "b")
	require.NoError(t, err)
	assert.True(t, sale.Closed)
	assert.Equal(t, "closure-1", sale.ClosureID)

	unsynced, err := s.ListUnsyncedClosures(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, []string{"a", "b", "c"}, unsynced[0].SalesIncluded)
	require.NoError(t, s.MarkClosureSynced(ctx, "closure-1"))
	unsynced, err = s.ListUnsyncedClosures(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestShiftCacheAndCredentials(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	none, err := s.GetShift(ctx, tenant, "kasir1")
	require.NoError(t, err)
	assert.Nil(t, none)

	shift := domain.Shift{ID: "sh1", TenantID: tenant, EmployeeID: "kasir1", Active: true, Emergency: true, OpeningCash: decimal.NewFromInt(20)}
	require.NoError(t, s.PutShift(ctx, shift))
	pending, err := s.ListUnsyncedEmergency(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	shift.EmergencySynced = true
	require.NoError(t, s.PutShift(ctx, shift))
	pending, err = s.ListUnsyncedEmergency(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.PutCredentials(ctx, []domain.UserAccount{{Username: "Owner", Password: "hash", Role: domain.RoleOwner, TenantID: tenant, Active: true}}))
	u, err := s.GetCredential(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, u.Role)
	assert.True(t, u.Active)
}
