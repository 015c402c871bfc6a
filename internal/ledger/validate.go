package ledger

import (
	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/payment"
)

// checkQuantity enforces the sale type and the quantity bounds of one line.
func checkQuantity(productID string, saleType domain.SaleType, units int64, grams int64) error {
	switch saleType {
	case domain.SaleTypeUnit:
		if grams != 0 {
			return domain.Errorf(domain.KindInvalidCartItem, "unit item %s must not set grams", productID)
		}
		if units <= 0 || units > MaxQuantityUnits {
			return domain.Errorf(domain.KindInvalidCartItem, "quantity for %s must be between 1 and %d", productID, MaxQuantityUnits)
		}
	case domain.SaleTypeBulk:
		if units != 0 {
			return domain.Errorf(domain.KindInvalidCartItem, "bulk item %s must not set units", productID)
		}
		if grams <= 0 || grams > MaxQuantityGrams {
			return domain.Errorf(domain.KindInvalidCartItem, "grams for %s must be between 1 and %d", productID, MaxQuantityGrams)
		}
	default:
		return domain.Errorf(domain.KindInvalidCartItem, "unknown sale type %q for %s", saleType, productID)
	}
	return nil
}

// ValidateSale checks a sale settled elsewhere before an authority accepts it:
// bounded quantities, known sale and payment types, a split that adds up to
// the total and a total that matches its lines.
func ValidateSale(sale domain.Sale) error {
	if sale.ID == "" || sale.TenantID == "" {
		return domain.Errorf(domain.KindInvalidCartItem, "sale id and tenant are required")
	}
	if len(sale.Items) == 0 {
		return domain.Errorf(domain.KindInvalidCartItem, "sale %s has no items", sale.ID)
	}

	seen := make(map[string]struct{}, len(sale.Items))
	sum := decimal.Zero
	for _, item := range sale.Items {
		if item.ProductID == "" {
			return domain.Errorf(domain.KindInvalidCartItem, "sale %s has an item without product", sale.ID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return domain.Errorf(domain.KindInvalidCartItem, "sale %s lists product %s twice", sale.ID, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		if err := checkQuantity(item.ProductID, item.SaleType, item.QuantityUnits, item.QuantityGrams); err != nil {
			return err
		}
		if item.Subtotal.IsNegative() {
			return domain.Errorf(domain.KindInvalidCartItem, "sale %s has a negative subtotal for %s", sale.ID, item.ProductID)
		}
		sum = sum.Add(item.Subtotal)
	}
	total := payment.Round2(sale.Total)
	if !payment.Round2(sum).Equal(total) {
		return domain.Errorf(domain.KindInvalidCartItem, "sale %s total %s does not match its lines %s", sale.ID, total.StringFixed(2), payment.Round2(sum).StringFixed(2))
	}

	cash, virtual := payment.Round2(sale.CashAmount), payment.Round2(sale.VirtualAmount)
	if cash.IsNegative() || virtual.IsNegative() {
		return domain.Errorf(domain.KindInvalidPayment, "sale %s has a negative payment amount", sale.ID)
	}
	switch sale.PaymentType {
	case domain.PaymentCash:
		if !virtual.IsZero() {
			return domain.Errorf(domain.KindInvalidPayment, "cash sale %s carries a virtual amount", sale.ID)
		}
	case domain.PaymentVirtual:
		if !cash.IsZero() {
			return domain.Errorf(domain.KindInvalidPayment, "virtual sale %s carries a cash amount", sale.ID)
		}
	case domain.PaymentMixed:
	default:
		return domain.Errorf(domain.KindInvalidPayment, "sale %s has unknown payment type %q", sale.ID, sale.PaymentType)
	}
	if !payment.Round2(cash.Add(virtual)).Equal(total) {
		return domain.Errorf(domain.KindInvalidPayment, "sale %s payment %s + %s does not add up to %s", sale.ID, cash.StringFixed(2), virtual.StringFixed(2), total.StringFixed(2))
	}
	return nil
}
