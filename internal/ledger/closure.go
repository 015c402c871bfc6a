package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/payment"
)

// DateKey is the closing date used to label closures.
func DateKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

// BuildClosures groups open sales into one closure per seller. Sales that are
// already closed are ignored. newID is called once per closure.
func BuildClosures(req domain.CloseRequest, sales []domain.Sale, openingCash map[string]decimal.Decimal, newID func() string) []domain.CashClosure {
	bySeller := make(map[string][]domain.Sale)
	sellers := make([]string, 0)
	for _, sale := range sales {
		if sale.Closed {
			continue
		}
		if _, ok := bySeller[sale.SellerID]; !ok {
			sellers = append(sellers, sale.SellerID)
		}
		bySeller[sale.SellerID] = append(bySeller[sale.SellerID], sale)
	}
	sort.Strings(sellers)

	closures := make([]domain.CashClosure, 0, len(sellers))
	for _, sellerID := range sellers {
		group := bySeller[sellerID]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].ID < group[j].ID
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})

		c := domain.CashClosure{
			ID:               newID(),
			TenantID:         req.TenantID,
			ScopeKey:         string(req.Scope),
			SellerID:         sellerID,
			DateKey:          DateKey(req.ClosedAt),
			TotalAmount:      decimal.Zero,
			CashToDeliver:    decimal.Zero,
			VirtualToDeliver: decimal.Zero,
			OpeningCash:      openingCash[sellerID],
			TotalCost:        decimal.Zero,
			RealProfit:       decimal.Zero,
			ClosedBy:         req.ActorID,
			CreatedAt:        req.ClosedAt,
		}
		products := make(map[string]*domain.ClosureProduct)
		for _, sale := range group {
			c.SalesIncluded = append(c.SalesIncluded, sale.ID)
			c.TotalAmount = c.TotalAmount.Add(sale.Total)
			c.CashToDeliver = c.CashToDeliver.Add(sale.CashAmount)
			c.VirtualToDeliver = c.VirtualToDeliver.Add(sale.VirtualAmount)
			c.TotalCost = c.TotalCost.Add(sale.TotalCost)
			c.RealProfit = c.RealProfit.Add(sale.RealProfit)
			for _, item := range sale.Items {
				key := item.ProductID + "|" + string(item.SaleType)
				agg, ok := products[key]
				if !ok {
					agg = &domain.ClosureProduct{
						ProductID:   item.ProductID,
						ProductName: item.ProductName,
						SaleType:    item.SaleType,
						Total:       decimal.Zero,
						TotalCost:   decimal.Zero,
					}
					products[key] = agg
				}
				agg.QuantityUnits += item.QuantityUnits
				agg.QuantityGrams += item.QuantityGrams
				agg.Total = agg.Total.Add(item.Subtotal)
				agg.TotalCost = agg.TotalCost.Add(item.SubtotalCost)
			}
		}
		for _, agg := range products {
			agg.Total = payment.Round2(agg.Total)
			agg.TotalCost = payment.Round2(agg.TotalCost)
			c.ProductsIncluded = append(c.ProductsIncluded, *agg)
		}
		sort.Slice(c.ProductsIncluded, func(i, j int) bool {
			if c.ProductsIncluded[i].ProductID == c.ProductsIncluded[j].ProductID {
				return c.ProductsIncluded[i].SaleType < c.ProductsIncluded[j].SaleType
			}
			return c.ProductsIncluded[i].ProductID < c.ProductsIncluded[j].ProductID
		})
		c.TotalAmount = payment.Round2(c.TotalAmount)
		c.CashToDeliver = payment.Round2(c.CashToDeliver)
		c.VirtualToDeliver = payment.Round2(c.VirtualToDeliver)
		c.TotalCost = payment.Round2(c.TotalCost)
		c.RealProfit = payment.Round2(c.RealProfit)
		closures = append(closures, c)
	}
	return closures
}

// FilterScope keeps the open sales a close request may take.
func FilterScope(req domain.CloseRequest, sales []domain.Sale) []domain.Sale {
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if sale.Closed || sale.TenantID != req.TenantID {
			continue
		}
		switch req.Scope {
		case domain.ScopeMine:
			if sale.SellerID != req.SellerID {
				continue
			}
		case domain.ScopeOthers:
			if sale.SellerID == req.ActorID {
				continue
			}
		}
		out = append(out, sale)
	}
	return out
}
