package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
)

func unitProduct(id string, stock int64, price string) domain.Product {
	return domain.Product{
		ID:                id,
		TenantID:          "t1",
		Name:              id,
		UnitSalePrice:     decimal.RequireFromString(price),
		UnitCost:          decimal.RequireFromString(price).Div(decimal.NewFromInt(2)),
		StockUnits:        stock,
		SaleType:          domain.SaleTypeUnit,
		BulkUnitSizeGrams: 1,
	}
}

func bulkProduct(id string, stock int64, size int64, price string) domain.Product {
	p := unitProduct(id, stock, price)
	p.SaleType = domain.SaleTypeBulk
	p.BulkUnitSizeGrams = size
	return p
}

func TestApplyUnit(t *testing.T) {
	p := unitProduct("cola", 5, "10")
	require.NoError(t, Apply(&p, domain.SaleLine{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: 3}))
	assert.Equal(t, int64(2), p.StockUnits)

	err := Apply(&p, domain.SaleLine{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: 3})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(2), p.StockUnits)
}

func TestApplyBulkCarriesRemainder(t *testing.T) {
	p := bulkProduct("rice", 10, 1000, "20")

	require.NoError(t, Apply(&p, domain.SaleLine{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: 700}))
	assert.Equal(t, int64(10), p.StockUnits)
	assert.Equal(t, int64(700), p.PendingBulkGrams)

	require.NoError(t, Apply(&p, domain.SaleLine{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: 400}))
	assert.Equal(t, int64(9), p.StockUnits)
	assert.Equal(t, int64(100), p.PendingBulkGrams)
}

func TestApplyBulkInsufficient(t *testing.T) {
	p := bulkProduct("rice", 1, 1000, "20")
	p.PendingBulkGrams = 900
	err := Apply(&p, domain.SaleLine{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: 1200})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(900), p.PendingBulkGrams)
	assert.Equal(t, int64(1), p.StockUnits)
}

func TestApplyReconciledClampsAtZero(t *testing.T) {
	p := unitProduct("cola", 2, "10")
	shortfall := ApplyReconciled(&p, domain.SaleLine{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: 5})
	assert.Equal(t, int64(3), shortfall)
	assert.Equal(t, int64(0), p.StockUnits)
}

func TestApplyRejectsOutOfBoundQuantities(t *testing.T) {
	rice := bulkProduct("rice", 10, 1000, "20")
	rice.PendingBulkGrams = 700
	err := Apply(&rice, domain.SaleLine{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: math.MaxInt64 - 100})
	assert.ErrorIs(t, err, domain.ErrInvalidCartItem)
	assert.Equal(t, int64(10), rice.StockUnits)
	assert.Equal(t, int64(700), rice.PendingBulkGrams)

	rice.PendingBulkGrams = math.MaxInt64 - 10
	err = Apply(&rice, domain.SaleLine{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: 500})
	assert.ErrorIs(t, err, domain.ErrInvalidCartItem)
	assert.Equal(t, int64(10), rice.StockUnits)

	cola := unitProduct("cola", 5, "10")
	err = Apply(&cola, domain.SaleLine{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: MaxQuantityUnits + 1})
	assert.ErrorIs(t, err, domain.ErrInvalidCartItem)
	err = Apply(&cola, domain.SaleLine{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: -50})
	assert.ErrorIs(t, err, domain.ErrInvalidCartItem)
	assert.Equal(t, int64(5), cola.StockUnits)
}

func TestApplyReconciledIgnoresOutOfBoundQuantities(t *testing.T) {
	cola := unitProduct("cola", 40, "10")
	assert.Zero(t, ApplyReconciled(&cola, domain.SaleLine{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: -50}))
	assert.Equal(t, int64(40), cola.StockUnits)

	rice := bulkProduct("rice", 10, 1000, "20")
	rice.PendingBulkGrams = 700
	assert.Zero(t, ApplyReconciled(&rice, domain.SaleLine{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: math.MaxInt64 - 100}))
	assert.Equal(t, int64(10), rice.StockUnits)
	assert.Equal(t, int64(700), rice.PendingBulkGrams)
}

func TestGroupLines(t *testing.T) {
	lines, err := GroupLines([]domain.CartItem{
		{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: 1},
		{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: 250},
		{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: 2},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(3), lines[0].QuantityUnits)
	assert.Equal(t, int64(250), lines[1].QuantityGrams)
}

func TestGroupLinesRejects(t *testing.T) {
	cases := map[string][]domain.CartItem{
		"empty":    nil,
		"mixed":    {{ProductID: "a", SaleType: domain.SaleTypeUnit, QuantityUnits: 1}, {ProductID: "a", SaleType: domain.SaleTypeBulk, QuantityGrams: 10}},
		"zero":     {{ProductID: "a", SaleType: domain.SaleTypeUnit}},
		"negative": {{ProductID: "a", SaleType: domain.SaleTypeBulk, QuantityGrams: -5}},
		"both":     {{ProductID: "a", SaleType: domain.SaleTypeUnit, QuantityUnits: 1, QuantityGrams: 5}},
		"no type":  {{ProductID: "a", QuantityUnits: 1}},
		"too many": {{ProductID: "a", SaleType: domain.SaleTypeUnit, QuantityUnits: MaxQuantityUnits + 1}},
	}
	cases["merged over cap"] = []domain.CartItem{
		{ProductID: "a", SaleType: domain.SaleTypeBulk, QuantityGrams: MaxQuantityGrams},
		{ProductID: "a", SaleType: domain.SaleTypeBulk, QuantityGrams: 1},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := GroupLines(items)
			assert.ErrorIs(t, err, domain.ErrInvalidCartItem)
		})
	}
}

func TestBuildSaleMixedPayment(t *testing.T) {
	products := map[string]domain.Product{"cola": unitProduct("cola", 10, "25")}
	cash := decimal.RequireFromString("30")
	settled, err := BuildSale(domain.SaleDraft{
		ID:       "s1",
		TenantID: "t1",
		SellerID: "emp-1",
		Lines:    []domain.SaleLine{{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: 4}},
		Payment:  domain.PaymentRequest{Type: domain.PaymentMixed, CashAmount: &cash},
	}, products)
	require.NoError(t, err)

	sale := settled.Sale
	assert.Equal(t, "100.00", sale.Total.StringFixed(2))
	assert.Equal(t, "30.00", sale.CashAmount.StringFixed(2))
	assert.Equal(t, "70.00", sale.VirtualAmount.StringFixed(2))
	assert.Equal(t, "50.00", sale.RealProfit.StringFixed(2))
	require.Len(t, settled.Products, 1)
	assert.Equal(t, int64(6), settled.Products[0].StockUnits)
	assert.Equal(t, int64(10), products["cola"].StockUnits, "input map must not be mutated")
}

func TestBuildSaleBulkPricing(t *testing.T) {
	products := map[string]domain.Product{"rice": bulkProduct("rice", 3, 1000, "15")}
	settled, err := BuildSale(domain.SaleDraft{
		ID:      "s2",
		Lines:   []domain.SaleLine{{ProductID: "rice", SaleType: domain.SaleTypeBulk, QuantityGrams: 333}},
		Payment: domain.PaymentRequest{Type: domain.PaymentCash},
	}, products)
	require.NoError(t, err)
	assert.Equal(t, "5.00", settled.Sale.Total.StringFixed(2))
	assert.Equal(t, int64(333), settled.Products[0].PendingBulkGrams)
}

func TestBuildSaleRejectsOverpaidCash(t *testing.T) {
	products := map[string]domain.Product{"cola": unitProduct("cola", 10, "25")}
	cash := decimal.RequireFromString("150")
	_, err := BuildSale(domain.SaleDraft{
		ID:      "s3",
		Lines:   []domain.SaleLine{{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: 4}},
		Payment: domain.PaymentRequest{Type: domain.PaymentMixed, CashAmount: &cash},
	}, products)
	assert.ErrorIs(t, err, domain.ErrInvalidPayment)
}

func TestBuildSaleRejectsSaleTypeMismatch(t *testing.T) {
	products := map[string]domain.Product{"rice": bulkProduct("rice", 3, 1000, "15")}
	_, err := BuildSale(domain.SaleDraft{
		ID:      "s4",
		Lines:   []domain.SaleLine{{ProductID: "rice", SaleType: domain.SaleTypeUnit, QuantityUnits: 1}},
		Payment: domain.PaymentRequest{Type: domain.PaymentCash},
	}, products)
	assert.ErrorIs(t, err, domain.ErrInvalidCartItem)
}

func TestBuildClosuresPerSeller(t *testing.T) {
	at := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	sale := func(id, seller, total, cash string) domain.Sale {
		tot := decimal.RequireFromString(total)
		c := decimal.RequireFromString(cash)
		return domain.Sale{
			ID: id, TenantID: "t1", SellerID: seller, Total: tot, CashAmount: c, VirtualAmount: tot.Sub(c),
			TotalCost: decimal.Zero, RealProfit: tot, CreatedAt: at,
			Items: []domain.SaleItem{{ProductID: "cola", SaleType: domain.SaleTypeUnit, QuantityUnits: 1, Subtotal: tot}},
		}
	}
	sales := []domain.Sale{
		sale("a", "emp-1", "10", "10"),
		sale("b", "emp-2", "20", "5"),
		sale("c", "emp-1", "30", "0"),
	}
	n := 0
	closures := BuildClosures(domain.CloseRequest{TenantID: "t1", Scope: domain.ScopeAll, ActorID: "owner", ClosedAt: at}, sales,
		map[string]decimal.Decimal{"emp-1": decimal.RequireFromString("50")},
		func() string { n++; return "c" + string(rune('0'+n)) })

	require.Len(t, closures, 2)
	first := closures[0]
	assert.Equal(t, "emp-1", first.SellerID)
	assert.Equal(t, []string{"a", "c"}, first.SalesIncluded)
	assert.Equal(t, "40.00", first.TotalAmount.StringFixed(2))
	assert.Equal(t, "10.00", first.CashToDeliver.StringFixed(2))
	assert.Equal(t, "30.00", first.VirtualToDeliver.StringFixed(2))
	assert.Equal(t, "50.00", first.OpeningCash.StringFixed(2))
	assert.Equal(t, "2026-03-14", first.DateKey)
	require.Len(t, first.ProductsIncluded, 1)
	assert.Equal(t, int64(2), first.ProductsIncluded[0].QuantityUnits)

	assert.Equal(t, "emp-2", closures[1].SellerID)
	assert.Equal(t, "15.00", closures[1].VirtualToDeliver.StringFixed(2))
}

func TestFilterScope(t *testing.T) {
	sales := []domain.Sale{
		{ID: "a", TenantID: "t1", SellerID: "owner"},
		{ID: "b", TenantID: "t1", SellerID: "emp-1"},
		{ID: "c", TenantID: "t1", SellerID: "emp-1", Closed: true},
		{ID: "d", TenantID: "t2", SellerID: "emp-1"},
	}
	others := FilterScope(domain.CloseRequest{TenantID: "t1", Scope: domain.ScopeOthers, ActorID: "owner"}, sales)
	require.Len(t, others, 1)
	assert.Equal(t, "b", others[0].ID)

	mine := FilterScope(domain.CloseRequest{TenantID: "t1", Scope: domain.ScopeMine, ActorID: "owner", SellerID: "owner"}, sales)
	require.Len(t, mine, 1)
	assert.Equal(t, "a", mine[0].ID)
}
