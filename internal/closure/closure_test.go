package closure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"kasirledger/backend/internal/connectivity"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/logger"
	"kasirledger/backend/internal/store/memory"
	"kasirledger/backend/internal/xid"
)

const tenant = "main-store"

var (
	owner  = domain.Actor{UID: "owner", TenantID: tenant, Role: domain.RoleOwner, Authenticated: true}
	kasir1 = domain.Actor{UID: "kasir1", TenantID: tenant, Role: domain.RoleEmployee, Authenticated: true}
)

type fixture struct {
	agg       *Aggregator
	authority *memory.Store
	local     *memory.Local
	signal    *connectivity.Static
}

func newFixture(online bool) fixture {
	authority := memory.NewSeeded()
	local := memory.NewLocal()
	signal := connectivity.NewStatic(online)
	return fixture{
		agg:       New(authority, local, signal, time.Second, logger.Nop()),
		authority: authority,
		local:     local,
		signal:    signal,
	}
}

func draft(seller string, productID string, qty int64, pay domain.PaymentRequest) domain.SaleDraft {
	return domain.SaleDraft{
		ID:        xid.New("sale"),
		TenantID:  tenant,
		SellerID:  seller,
		Lines:     []domain.SaleLine{{ProductID: productID, SaleType: domain.SaleTypeUnit, QuantityUnits: qty}},
		Payment:   pay,
		CreatedAt: time.Now().UTC(),
	}
}

func TestOwnerClosesAllPerSeller(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	cash := domain.PaymentRequest{Type: domain.PaymentCash}
	virtual := domain.PaymentRequest{Type: domain.PaymentVirtual}

	ids := make([]string, 0, 3)
	for _, d := range []domain.SaleDraft{
		draft("kasir1", "prod-telur", 1, cash),
		draft("kasir1", "prod-telur", 2, virtual),
		draft("kasir2", "prod-mie-goreng", 4, cash),
	} {
		settled, err := f.authority.SettleSale(ctx, d)
		require.NoError(t, err)
		ids = append(ids, settled.Sale.ID)
	}

	result, err := f.agg.Close(ctx, owner, domain.ScopeAll)
	require.NoError(t, err)
	assert.False(t, result.Provisional)
	require.Len(t, result.Closures, 2)

	first, second := result.Closures[0], result.Closures[1]
	assert.Equal(t, "kasir1", first.SellerID)
	assert.Equal(t, "79.5", first.TotalAmount.String())
	assert.Equal(t, "26.5", first.CashToDeliver.String())
	assert.Equal(t, "53", first.VirtualToDeliver.String())
	assert.Len(t, first.SalesIncluded, 2)
	assert.Equal(t, "kasir2", second.SellerID)
	assert.Equal(t, "14", second.CashToDeliver.String())

	for _, id := range ids {
		sale, err := f.authority.FindSale(ctx, tenant, id)
		require.NoError(t, err)
		assert.True(t, sale.Closed)
	}

	_, err = f.agg.Close(ctx, owner, domain.ScopeAll)
	assert.True(t, errors.Is(err, domain.ErrNothingToClose))
}

func TestEmployeeMayOnlyCloseOwnSales(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	_, err := f.agg.Close(ctx, kasir1, domain.ScopeOthers)
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	_, err = f.authority.SettleSale(ctx, draft("kasir1", "prod-telur", 1, domain.PaymentRequest{Type: domain.PaymentCash}))
	require.NoError(t, err)
	_, err = f.authority.SettleSale(ctx, draft("kasir2", "prod-telur", 1, domain.PaymentRequest{Type: domain.PaymentCash}))
	require.NoError(t, err)

	result, err := f.agg.Close(ctx, kasir1, "")
	require.NoError(t, err)
	require.Len(t, result.Closures, 1)
	assert.Equal(t, "kasir1", result.Closures[0].SellerID)
	assert.Equal(t, string(domain.ScopeMine), result.Closures[0].ScopeKey)

	result, err = f.agg.Close(ctx, owner, domain.ScopeOthers)
	require.NoError(t, err)
	require.Len(t, result.Closures, 1)
	assert.Equal(t, "kasir2", result.Closures[0].SellerID)
}

func TestOfflineCloseIsProvisionalAndOwnSalesOnly(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	products, err := f.authority.ListProducts(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, f.local.PutProducts(ctx, products))

	mine, err := f.local.SettleLocal(ctx, draft("owner", "prod-telur", 1, domain.PaymentRequest{Type: domain.PaymentCash}), domain.AuditReasonOffline)
	require.NoError(t, err)
	other, err := f.local.SettleLocal(ctx, draft("kasir1", "prod-telur", 1, domain.PaymentRequest{Type: domain.PaymentCash}), domain.AuditReasonOffline)
	require.NoError(t, err)

	result, err := f.agg.Close(ctx, owner, domain.ScopeAll)
	require.NoError(t, err)
	assert.True(t, result.Provisional)
	require.Len(t, result.Closures, 1)
	assert.Equal(t, []string{mine.ID}, result.Closures[0].SalesIncluded)
	assert.False(t, result.Closures[0].Synced)

	closed, err := f.local.FindSale(ctx, tenant, mine.ID)
	require.NoError(t, err)
	assert.True(t, closed.Closed)
	open, err := f.local.FindSale(ctx, tenant, other.ID)
	require.NoError(t, err)
	assert.False(t, open.Closed)

	_, err = f.agg.Close(ctx, owner, domain.ScopeMine)
	assert.True(t, errors.Is(err, domain.ErrNothingToClose))
}

func TestTransientCloseFallsBackToLocal(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	products, err := f.authority.ListProducts(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, f.local.PutProducts(ctx, products))
	_, err = f.local.SettleLocal(ctx, draft("kasir1", "prod-kopi-sachet", 3, domain.PaymentRequest{Type: domain.PaymentCash}), domain.AuditReasonOffline)
	require.NoError(t, err)

	f.authority.SetFaults(memory.Faults{Offline: errors.New("i/o timeout")})
	result, err := f.agg.Close(ctx, kasir1, domain.ScopeMine)
	require.NoError(t, err)
	assert.True(t, result.Provisional)
	require.Len(t, result.Closures, 1)
	assert.Equal(t, "7.8", result.Closures[0].CashToDeliver.String())
}

func TestSummary(t *testing.T) {
	c := domain.CashClosure{
		SellerID:         "kasir1",
		SalesIncluded:    []string{"a", "b"},
		TotalAmount:      decimal.RequireFromString("1234.50"),
		CashToDeliver:    decimal.RequireFromString("1000"),
		VirtualToDeliver: decimal.RequireFromString("234.50"),
		OpeningCash:      decimal.RequireFromString("50"),
	}

	en := Summary(c, language.English)
	assert.Contains(t, en, "kasir1: 2 sales")
	assert.Contains(t, en, "1,234.50")

	id := Summary(c, language.Indonesian)
	assert.Contains(t, id, "2 penjualan")

	assert.Equal(t, language.English, Language("en-US,en;q=0.9"))
	assert.Equal(t, language.Indonesian, Language(""))
}

func TestSummaryKeepsCentsOnLargeAmounts(t *testing.T) {
	c := domain.CashClosure{
		SellerID:         "kasir1",
		SalesIncluded:    []string{"a"},
		TotalAmount:      decimal.RequireFromString("92233720368547.75"),
		CashToDeliver:    decimal.RequireFromString("12345678901234.56"),
		VirtualToDeliver: decimal.RequireFromString("0.07"),
		OpeningCash:      decimal.Zero,
	}

	en := Summary(c, language.English)
	assert.Contains(t, en, "total 92,233,720,368,547.75")
	assert.Contains(t, en, "cash to deliver 12,345,678,901,234.56")
	assert.Contains(t, en, "virtual 0.07")
	assert.Contains(t, en, "opening float 0.00")

	id := Summary(c, language.Indonesian)
	assert.Contains(t, id, "total 92.233.720.368.547,75")
	assert.Contains(t, id, "serahkan tunai 12.345.678.901.234,56")
}
