package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/xid"
)

func openIntegrationStore(t *testing.T) (*Store, string) {
	t.Helper()
	databaseURL := os.Getenv("KASIRLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}
	if _, err := Migrate(databaseURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	tenant := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM sale_items WHERE sale_id IN (SELECT id FROM sales WHERE tenant_id = $1)`, tenant)
		_, _ = s.pool.Exec(ctx, `DELETE FROM sales WHERE tenant_id = $1`, tenant)
		_, _ = s.pool.Exec(ctx, `DELETE FROM cash_closures WHERE tenant_id = $1`, tenant)
		_, _ = s.pool.Exec(ctx, `DELETE FROM shifts WHERE tenant_id = $1`, tenant)
		_, _ = s.pool.Exec(ctx, `DELETE FROM audit_events WHERE tenant_id = $1`, tenant)
		_, _ = s.pool.Exec(ctx, `DELETE FROM products WHERE tenant_id = $1`, tenant)
		_ = s.Close()
	})
	return s, tenant
}

func seedProduct(t *testing.T, s *Store, tenant string, id string, stock int64, price string) {
	t.Helper()
	err := s.UpsertProduct(context.Background(), domain.Product{
		ID:                id,
		TenantID:          tenant,
		Name:              id,
		UnitSalePrice:     decimal.RequireFromString(price),
		UnitCost:          decimal.RequireFromString(price).Div(decimal.NewFromInt(2)),
		StockUnits:        stock,
		SaleType:          domain.SaleTypeUnit,
		BulkUnitSizeGrams: 1,
	})
	require.NoError(t, err)
}

func cashDraft(tenant string, seller string, productID string, qty int64) domain.SaleDraft {
	return domain.SaleDraft{
		ID:        xid.New("sale"),
		TenantID:  tenant,
		SellerID:  seller,
		Lines:     []domain.SaleLine{{ProductID: productID, SaleType: domain.SaleTypeUnit, QuantityUnits: qty}},
		Payment:   domain.PaymentRequest{Type: domain.PaymentCash},
		CreatedAt: time.Now().UTC(),
	}
}

func TestConcurrentSettlementDoesNotOversell(t *testing.T) {
	s, tenant := openIntegrationStore(t)
	productID := tenant + "-air"
	seedProduct(t, s, tenant, productID, 5, "3.90")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.SettleSale(context.Background(), cashDraft(tenant, "kasir1", productID, 3))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	products, err := s.GetProducts(context.Background(), tenant, []string{productID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), products[productID].StockUnits)
}

func TestSettleDuplicateAndClose(t *testing.T) {
	s, tenant := openIntegrationStore(t)
	ctx := context.Background()
	productID := tenant + "-kopi"
	seedProduct(t, s, tenant, productID, 50, "2.00")

	draft := cashDraft(tenant, "kasir1", productID, 2)
	settled, err := s.SettleSale(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, "4", settled.Sale.Total.String())

	_, err = s.SettleSale(ctx, draft)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	_, err = s.SettleSale(ctx, cashDraft(tenant, "kasir2", productID, 1))
	require.NoError(t, err)

	closures, err := s.CloseSales(ctx, domain.CloseRequest{TenantID: tenant, Scope: domain.ScopeAll, ActorID: "owner", ClosedAt: time.Now().UTC()}, func() string { return xid.New("closure") })
	require.NoError(t, err)
	require.Len(t, closures, 2)

	_, err = s.CloseSales(ctx, domain.CloseRequest{TenantID: tenant, Scope: domain.ScopeAll, ActorID: "owner"}, func() string { return xid.New("closure") })
	assert.True(t, errors.Is(err, domain.ErrNothingToClose))

	stored, err := s.FindSale(ctx, tenant, draft.ID)
	require.NoError(t, err)
	assert.True(t, stored.Closed)
	assert.NotEmpty(t, stored.ClosureID)
	require.Len(t, stored.Items, 1)
}

func TestShiftLifecycle(t *testing.T) {
	s, tenant := openIntegrationStore(t)
	ctx := context.Background()

	_, err := s.StartShift(ctx, domain.Shift{TenantID: tenant, EmployeeID: "kasir1", OpeningCash: decimal.NewFromInt(50)})
	require.NoError(t, err)

	_, err = s.StartShift(ctx, domain.Shift{TenantID: tenant, EmployeeID: "kasir1"})
	assert.True(t, errors.Is(err, domain.ErrShiftAlreadyActive))

	ended, err := s.EndShift(ctx, tenant, "kasir1", decimal.NewFromInt(80), time.Time{}, "owner")
	require.NoError(t, err)
	assert.False(t, ended.Active)

	_, err = s.GetActiveShift(ctx, tenant, "kasir1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConcurrentAcceptSaleStoresOnce(t *testing.T) {
	s, tenant := openIntegrationStore(t)
	ctx := context.Background()
	productID := tenant + "-telur"
	seedProduct(t, s, tenant, productID, 40, "26.50")

	sale := domain.Sale{
		ID:               xid.New("sale"),
		TenantID:         tenant,
		SellerID:         "kasir1",
		Items:            []domain.SaleItem{{ProductID: productID, SaleType: domain.SaleTypeUnit, QuantityUnits: 2, UnitPrice: decimal.RequireFromString("26.50"), Subtotal: decimal.NewFromInt(53)}},
		Total:            decimal.NewFromInt(53),
		PaymentType:      domain.PaymentCash,
		CashAmount:       decimal.NewFromInt(53),
		VirtualAmount:    decimal.Zero,
		SettlementOrigin: domain.OriginLocalFallback,
		AuditRequired:    true,
		AuditReason:      domain.AuditReasonOffline,
		CreatedAt:        time.Now().UTC(),
	}

	const workers = 4
	var wg sync.WaitGroup
	created := make([]bool, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created[i], errs[i] = s.AcceptSale(ctx, sale)
		}(i)
	}
	wg.Wait()

	stored := 0
	for i := range created {
		require.NoError(t, errs[i])
		if created[i] {
			stored++
		}
	}
	assert.Equal(t, 1, stored)

	products, err := s.GetProducts(ctx, tenant, []string{productID})
	require.NoError(t, err)
	assert.Equal(t, int64(38), products[productID].StockUnits)
}

func TestAcceptSaleRejectsMalformedSale(t *testing.T) {
	s, tenant := openIntegrationStore(t)
	ctx := context.Background()
	productID := tenant + "-telur"
	seedProduct(t, s, tenant, productID, 40, "26.50")

	_, err := s.AcceptSale(ctx, domain.Sale{
		ID:          xid.New("sale"),
		TenantID:    tenant,
		SellerID:    "kasir1",
		Items:       []domain.SaleItem{{ProductID: productID, SaleType: domain.SaleTypeUnit, QuantityUnits: -50}},
		PaymentType: domain.PaymentCash,
		CreatedAt:   time.Now().UTC(),
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidCartItem), "got %v", err)

	products, err := s.GetProducts(ctx, tenant, []string{productID})
	require.NoError(t, err)
	assert.Equal(t, int64(40), products[productID].StockUnits)
}
