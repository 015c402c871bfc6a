package ledger

import (
	"math"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/payment"
)

// Upper bounds for a single line, after merging repeated cart items. They keep
// every stock computation far from int64 overflow.
const (
	MaxQuantityUnits int64 = 1_000_000
	MaxQuantityGrams int64 = 1_000_000_000
)

// Apply decrements stock for one sale line. The product is left untouched on error.
func Apply(p *domain.Product, line domain.SaleLine) error {
	switch line.SaleType {
	case domain.SaleTypeUnit:
		if line.QuantityUnits <= 0 || line.QuantityUnits > MaxQuantityUnits {
			return domain.Errorf(domain.KindInvalidCartItem, "quantity for %s must be between 1 and %d", p.ID, MaxQuantityUnits)
		}
		if p.StockUnits < line.QuantityUnits {
			return insufficient(p, line.QuantityUnits)
		}
		p.StockUnits -= line.QuantityUnits
		return nil
	case domain.SaleTypeBulk:
		if line.QuantityGrams <= 0 || line.QuantityGrams > MaxQuantityGrams {
			return domain.Errorf(domain.KindInvalidCartItem, "grams for %s must be between 1 and %d", p.ID, MaxQuantityGrams)
		}
		if p.BulkUnitSizeGrams < 1 {
			return domain.Errorf(domain.KindInvalidCartItem, "product %s has no bulk unit size", p.ID)
		}
		if p.PendingBulkGrams < 0 || line.QuantityGrams > math.MaxInt64-p.PendingBulkGrams {
			return domain.Errorf(domain.KindInvalidCartItem, "grams for %s overflow the pending remainder", p.ID)
		}
		total := p.PendingBulkGrams + line.QuantityGrams
		consume := total / p.BulkUnitSizeGrams
		if p.StockUnits < consume {
			return insufficient(p, consume)
		}
		p.StockUnits -= consume
		p.PendingBulkGrams = total % p.BulkUnitSizeGrams
		return nil
	default:
		return domain.Errorf(domain.KindInvalidCartItem, "unknown sale type %q", line.SaleType)
	}
}

// ApplyReconciled applies a line that already happened offline and passed
// ValidateSale. Stock never goes below zero; the units that could not be taken
// are returned as the shortfall. Lines outside the quantity bounds change nothing.
func ApplyReconciled(p *domain.Product, line domain.SaleLine) int64 {
	var consume int64
	switch line.SaleType {
	case domain.SaleTypeUnit:
		if line.QuantityUnits <= 0 || line.QuantityUnits > MaxQuantityUnits {
			return 0
		}
		consume = line.QuantityUnits
	case domain.SaleTypeBulk:
		if line.QuantityGrams <= 0 || line.QuantityGrams > MaxQuantityGrams ||
			p.PendingBulkGrams < 0 || line.QuantityGrams > math.MaxInt64-p.PendingBulkGrams {
			return 0
		}
		size := p.BulkUnitSizeGrams
		if size < 1 {
			size = 1
		}
		total := p.PendingBulkGrams + line.QuantityGrams
		consume = total / size
		p.PendingBulkGrams = total % size
	}
	if consume <= p.StockUnits {
		p.StockUnits -= consume
		return 0
	}
	shortfall := consume - p.StockUnits
	p.StockUnits = 0
	return shortfall
}

func insufficient(p *domain.Product, want int64) error {
	return domain.Errorf(domain.KindInsufficientStock, "insufficient stock for %s: have %d, need %d", p.Name, p.StockUnits, want)
}

// GroupLines validates cart items and merges repeated lines of the same product.
func GroupLines(items []domain.CartItem) ([]domain.SaleLine, error) {
	if len(items) == 0 {
		return nil, domain.Errorf(domain.KindInvalidCartItem, "cart is empty")
	}

	index := make(map[string]int, len(items))
	lines := make([]domain.SaleLine, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return nil, domain.Errorf(domain.KindInvalidCartItem, "product_id is required")
		}
		if item.QuantityUnits != 0 && item.QuantityGrams != 0 {
			return nil, domain.Errorf(domain.KindInvalidCartItem, "item %s sets both units and grams", item.ProductID)
		}
		if err := checkQuantity(item.ProductID, item.SaleType, item.QuantityUnits, item.QuantityGrams); err != nil {
			return nil, err
		}

		if i, ok := index[item.ProductID]; ok {
			if lines[i].SaleType != item.SaleType {
				return nil, domain.Errorf(domain.KindInvalidCartItem, "product %s mixes unit and bulk lines", item.ProductID)
			}
			// Both operands are bounded, so the sums cannot overflow before the check.
			lines[i].QuantityUnits += item.QuantityUnits
			lines[i].QuantityGrams += item.QuantityGrams
			if err := checkQuantity(item.ProductID, item.SaleType, lines[i].QuantityUnits, lines[i].QuantityGrams); err != nil {
				return nil, err
			}
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, domain.SaleLine{
			ProductID:     item.ProductID,
			SaleType:      item.SaleType,
			QuantityUnits: item.QuantityUnits,
			QuantityGrams: item.QuantityGrams,
		})
	}
	return lines, nil
}

// ProductIDs returns the product ids of lines in order.
func ProductIDs(lines []domain.SaleLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

type Quotation struct {
	Items     []domain.SaleItem
	Total     decimal.Decimal
	TotalCost decimal.Decimal
}

// Quote prices lines against products without touching stock.
func Quote(lines []domain.SaleLine, products map[string]domain.Product) (Quotation, error) {
	q := Quotation{Total: decimal.Zero, TotalCost: decimal.Zero}
	for _, line := range lines {
		p, ok := products[line.ProductID]
		if !ok {
			return Quotation{}, domain.Errorf(domain.KindInvalidCartItem, "unknown product %s", line.ProductID)
		}
		item, err := priceLine(p, line)
		if err != nil {
			return Quotation{}, err
		}
		q.Items = append(q.Items, item)
		q.Total = q.Total.Add(item.Subtotal)
		q.TotalCost = q.TotalCost.Add(item.SubtotalCost)
	}
	q.Total = payment.Round2(q.Total)
	q.TotalCost = payment.Round2(q.TotalCost)
	return q, nil
}

func priceLine(p domain.Product, line domain.SaleLine) (domain.SaleItem, error) {
	if p.SaleType != "" && p.SaleType != line.SaleType {
		return domain.SaleItem{}, domain.Errorf(domain.KindInvalidCartItem, "product %s is sold by %s", p.ID, p.SaleType)
	}

	item := domain.SaleItem{
		ProductID:     p.ID,
		ProductName:   p.Name,
		SaleType:      line.SaleType,
		QuantityUnits: line.QuantityUnits,
		QuantityGrams: line.QuantityGrams,
		UnitPrice:     p.UnitSalePrice,
		UnitCost:      p.UnitCost,
	}
	switch line.SaleType {
	case domain.SaleTypeUnit:
		qty := decimal.NewFromInt(line.QuantityUnits)
		item.Subtotal = payment.Round2(p.UnitSalePrice.Mul(qty))
		item.SubtotalCost = payment.Round2(p.UnitCost.Mul(qty))
	case domain.SaleTypeBulk:
		if p.BulkUnitSizeGrams < 1 {
			return domain.SaleItem{}, domain.Errorf(domain.KindInvalidCartItem, "product %s has no bulk unit size", p.ID)
		}
		grams := decimal.NewFromInt(line.QuantityGrams)
		size := decimal.NewFromInt(p.BulkUnitSizeGrams)
		item.Subtotal = payment.Round2(p.UnitSalePrice.Mul(grams).Div(size))
		item.SubtotalCost = payment.Round2(p.UnitCost.Mul(grams).Div(size))
	default:
		return domain.SaleItem{}, domain.Errorf(domain.KindInvalidCartItem, "unknown sale type %q", line.SaleType)
	}
	item.RealProfit = item.Subtotal.Sub(item.SubtotalCost)
	return item, nil
}

// BuildSale is the body of every atomic settlement: it applies the stock rules to
// copies of products, prices the lines and splits the payment. The caller persists
// the returned sale and products in the same transaction.
func BuildSale(draft domain.SaleDraft, products map[string]domain.Product) (*domain.SettledSale, error) {
	quote, err := Quote(draft.Lines, products)
	if err != nil {
		return nil, err
	}
	split, err := payment.Normalize(quote.Total, draft.Payment)
	if err != nil {
		return nil, err
	}

	updated := make([]domain.Product, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		p := products[line.ProductID]
		if err := Apply(&p, line); err != nil {
			return nil, err
		}
		p.UpdatedAt = draft.CreatedAt
		updated = append(updated, p)
	}

	for i := range quote.Items {
		quote.Items[i].SaleID = draft.ID
	}
	sale := domain.Sale{
		ID:            draft.ID,
		TenantID:      draft.TenantID,
		SellerID:      draft.SellerID,
		SellerName:    draft.SellerName,
		Items:         quote.Items,
		Total:         quote.Total,
		TotalCost:     quote.TotalCost,
		RealProfit:    payment.Round2(quote.Total.Sub(quote.TotalCost)),
		PaymentType:   split.Type,
		CashAmount:    split.Cash,
		VirtualAmount: split.Virtual,
		CreatedAt:     draft.CreatedAt,
	}
	return &domain.SettledSale{Sale: sale, Products: updated}, nil
}

// LinesOf recovers the ledger lines of a recorded sale.
func LinesOf(sale domain.Sale) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(sale.Items))
	for _, item := range sale.Items {
		lines = append(lines, domain.SaleLine{
			ProductID:     item.ProductID,
			SaleType:      item.SaleType,
			QuantityUnits: item.QuantityUnits,
			QuantityGrams: item.QuantityGrams,
		})
	}
	return lines
}
