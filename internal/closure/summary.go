package closure

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"kasirledger/backend/internal/domain"
)

var supported = []language.Tag{language.Indonesian, language.English}

var matcher = language.NewMatcher(supported)

// Language picks the summary language for an Accept-Language header value.
func Language(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.Indonesian
	}
	_, index, _ := matcher.Match(tags...)
	return supported[index]
}

// Summary renders the hand-over line a seller reads at the end of a shift,
// with amounts grouped the way the locale writes them.
func Summary(c domain.CashClosure, tag language.Tag) string {
	p := message.NewPrinter(tag)
	total := amount(p, c.TotalAmount)
	cash := amount(p, c.CashToDeliver)
	virtual := amount(p, c.VirtualToDeliver)
	opening := amount(p, c.OpeningCash)

	if tag == language.Indonesian {
		return p.Sprintf("%s: %d penjualan, total %s, serahkan tunai %s, non-tunai %s, modal awal %s",
			c.SellerID, len(c.SalesIncluded), total, cash, virtual, opening)
	}
	return p.Sprintf("%s: %d sales, total %s, cash to deliver %s, virtual %s, opening float %s",
		c.SellerID, len(c.SalesIncluded), total, cash, virtual, opening)
}

// amount formats d with two fraction digits. The whole part goes through the
// printer as an integer so grouping is locale aware and no cents are lost.
func amount(p *message.Printer, d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	w, err := decimal.NewFromString(whole)
	if err != nil || !w.IsInteger() || w.GreaterThan(decimal.NewFromInt(maxGroupable)) {
		return sign + fixed
	}
	return sign + p.Sprintf("%d", w.IntPart()) + decimalSeparator(p) + frac
}

const maxGroupable = 1<<63 - 1

func decimalSeparator(p *message.Printer) string {
	s := p.Sprintf("%.1f", 0.5)
	if len(s) == 3 {
		return s[1:2]
	}
	return "."
}
