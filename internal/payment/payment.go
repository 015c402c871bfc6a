package payment

import (
	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
)

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Normalize splits total into its cash and virtual parts for the requested payment type.
func Normalize(total decimal.Decimal, req domain.PaymentRequest) (domain.PaymentSplit, error) {
	total = Round2(total)
	if total.IsNegative() {
		return domain.PaymentSplit{}, domain.Errorf(domain.KindInvalidPayment, "sale total cannot be negative")
	}

	switch req.Type {
	case domain.PaymentCash:
		return domain.PaymentSplit{Type: domain.PaymentCash, Cash: total, Virtual: decimal.Zero}, nil
	case domain.PaymentVirtual:
		return domain.PaymentSplit{Type: domain.PaymentVirtual, Cash: decimal.Zero, Virtual: total}, nil
	case domain.PaymentMixed:
		if req.CashAmount == nil {
			return domain.PaymentSplit{}, domain.Errorf(domain.KindInvalidPayment, "mixed payment requires a cash amount")
		}
		cash := Round2(*req.CashAmount)
		if cash.IsNegative() {
			return domain.PaymentSplit{}, domain.Errorf(domain.KindInvalidPayment, "cash amount cannot be negative")
		}
		if cash.GreaterThan(total) {
			return domain.PaymentSplit{}, domain.Errorf(domain.KindInvalidPayment, "cash amount %s exceeds total %s", cash.StringFixed(2), total.StringFixed(2))
		}
		virtual := Round2(total.Sub(cash))
		if virtual.IsNegative() {
			return domain.PaymentSplit{}, domain.Errorf(domain.KindInvalidPayment, "virtual remainder cannot be negative")
		}
		return domain.PaymentSplit{Type: domain.PaymentMixed, Cash: cash, Virtual: virtual}, nil
	default:
		return domain.PaymentSplit{}, domain.Errorf(domain.KindInvalidPayment, "unsupported payment type %q", req.Type)
	}
}
