package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
)

func seededLocal(t *testing.T) *Local {
	t.Helper()
	products, err := NewSeeded().ListProducts(context.Background(), tenant)
	require.NoError(t, err)
	l := NewLocal()
	require.NoError(t, l.PutProducts(context.Background(), products))
	return l
}

func TestSettleLocalBulkRemainder(t *testing.T) {
	l := seededLocal(t)
	ctx := context.Background()

	for i, grams := range []int64{700, 400} {
		draft := domain.SaleDraft{
			ID:        []string{"local-1", "local-2"}[i],
			TenantID:  tenant,
			SellerID:  "kasir1",
			Lines:     []domain.SaleLine{{ProductID: "prod-beras-curah", SaleType: domain.SaleTypeBulk, QuantityGrams: grams}},
			Payment:   domain.PaymentRequest{Type: domain.PaymentCash},
			CreatedAt: time.Now().UTC(),
		}
		sale, err := l.SettleLocal(ctx, draft, domain.AuditReasonOffline)
		require.NoError(t, err)
		assert.Equal(t, domain.OriginLocalFallback, sale.SettlementOrigin)
		assert.True(t, sale.AuditRequired)
	}

	products, err := l.GetProducts(ctx, tenant, []string{"prod-beras-curah"})
	require.NoError(t, err)
	assert.Equal(t, int64(24), products["prod-beras-curah"].StockUnits)
	assert.Equal(t, int64(100), products["prod-beras-curah"].PendingBulkGrams)

	pending, err := l.ListUnsyncedSales(ctx, tenant, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Less(t, pending[0].Seq, pending[1].Seq)

	audit, err := l.ListUnsyncedAudit(ctx, tenant, 0)
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestListUnsyncedSalesCursor(t *testing.T) {
	l := seededLocal(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.RecordSale(ctx, domain.Sale{ID: id, TenantID: tenant}, nil))
	}
	first, err := l.ListUnsyncedSales(ctx, tenant, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := l.ListUnsyncedSales(ctx, tenant, first[1].Seq, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Sale.ID)

	require.NoError(t, l.MarkSalesSynced(ctx, []string{"a", "c"}))
	left, err := l.ListUnsyncedSales(ctx, tenant, 0, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b", left[0].Sale.ID)
}

func TestCloseLocalProvisional(t *testing.T) {
	l := seededLocal(t)
	ctx := context.Background()

	require.NoError(t, l.PutShift(ctx, domain.Shift{TenantID: tenant, EmployeeID: "kasir1", OpeningCash: decimal.NewFromInt(75), Active: true}))
	require.NoError(t, l.RecordSale(ctx, domain.Sale{ID: "mine", TenantID: tenant, SellerID: "kasir1", Total: decimal.NewFromInt(10), CashAmount: decimal.NewFromInt(10)}, nil))
	require.NoError(t, l.RecordSale(ctx, domain.Sale{ID: "theirs", TenantID: tenant, SellerID: "kasir2", Total: decimal.NewFromInt(5), CashAmount: decimal.NewFromInt(5)}, nil))

	req := domain.CloseRequest{TenantID: tenant, Scope: domain.ScopeMine, ActorID: "kasir1", SellerID: "kasir1", ClosedAt: time.Now()}
	closures, err := l.CloseLocal(ctx, req, func() string { return "closure-local" })
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.True(t, closures[0].Provisional)
	assert.Equal(t, []string{"mine"}, closures[0].SalesIncluded)
	assert.Equal(t, "75.00", closures[0].OpeningCash.StringFixed(2))

	_, err = l.CloseLocal(ctx, req, func() string { return "closure-local-2" })
	assert.ErrorIs(t, err, domain.ErrNothingToClose)

	unsynced, err := l.ListUnsyncedClosures(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	require.NoError(t, l.MarkClosureSynced(ctx, "closure-local"))
	unsynced, err = l.ListUnsyncedClosures(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestShiftCacheAndCredentials(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	missing, err := l.GetShift(ctx, tenant, "kasir1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, l.PutShift(ctx, domain.Shift{ID: "s1", TenantID: tenant, EmployeeID: "kasir1", Active: true, Emergency: true}))
	pending, err := l.ListUnsyncedEmergency(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, l.PutCredentials(ctx, []domain.UserAccount{{Username: "Kasir1", Role: domain.RoleEmployee}}))
	u, err := l.GetCredential(ctx, "kasir1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEmployee, u.Role)
	_, err = l.GetCredential(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
