package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/ledger"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

var _ store.Local = (*Local)(nil)

type localSale struct {
	seq  int64
	sale domain.Sale
}

type localAudit struct {
	event  domain.AuditEvent
	synced bool
}

// Local is an in-process stand-in for the SQLite cache, used by tests and by
// `serve --memory`.
type Local struct {
	mu           sync.RWMutex
	seq          int64
	products     map[string]domain.Product
	sales        map[string]*localSale
	closures     map[string]domain.CashClosure
	closureOrder []string
	audit        []localAudit
	shifts       map[string]domain.Shift
	credentials  map[string]domain.UserAccount
}

func NewLocal() *Local {
	return &Local{
		products:    make(map[string]domain.Product),
		sales:       make(map[string]*localSale),
		closures:    make(map[string]domain.CashClosure),
		shifts:      make(map[string]domain.Shift),
		credentials: make(map[string]domain.UserAccount),
	}
}

func (l *Local) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Product, 0, len(l.products))
	for _, p := range l.products {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (l *Local) GetProducts(_ context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tenantProducts(tenantID, ids), nil
}

func (l *Local) tenantProducts(tenantID string, ids []string) map[string]domain.Product {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := l.products[id]; ok && p.TenantID == tenantID {
			out[id] = p
		}
	}
	return out
}

func (l *Local) PutProducts(_ context.Context, products []domain.Product) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range products {
		l.products[p.ID] = p
	}
	return nil
}

func (l *Local) SettleLocal(ctx context.Context, draft domain.SaleDraft, reason domain.AuditReason) (*domain.Sale, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.sales[draft.ID]; exists {
		return nil, domain.ErrConflict
	}
	settled, err := ledger.BuildSale(draft, l.tenantProducts(draft.TenantID, ledger.ProductIDs(draft.Lines)))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient(err)
	}

	sale := settled.Sale
	sale.SettlementOrigin = domain.OriginLocalFallback
	sale.AuditRequired = true
	sale.AuditReason = reason
	sale.Synced = false
	for _, p := range settled.Products {
		l.products[p.ID] = p
	}
	l.seq++
	l.sales[sale.ID] = &localSale{seq: l.seq, sale: cloneSale(sale)}
	l.audit = append(l.audit, localAudit{event: fallbackEvent(sale)})
	return &sale, nil
}

func fallbackEvent(sale domain.Sale) domain.AuditEvent {
	return domain.AuditEvent{
		ID:         xid.New("audit"),
		TenantID:   sale.TenantID,
		EmployeeID: sale.SellerID,
		Kind:       domain.AuditKindSaleLocalFallback,
		Note:       fmt.Sprintf("sale %s settled locally (%s), total %s", sale.ID, sale.AuditReason, sale.Total.StringFixed(2)),
		Source:     domain.AuditSourceLocal,
		CreatedAt:  sale.CreatedAt,
	}
}

func (l *Local) RecordSale(_ context.Context, sale domain.Sale, products []domain.Product) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range products {
		l.products[p.ID] = p
	}
	if _, exists := l.sales[sale.ID]; exists {
		return nil
	}
	l.seq++
	l.sales[sale.ID] = &localSale{seq: l.seq, sale: cloneSale(sale)}
	return nil
}

func (l *Local) FindSale(_ context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.sales[saleID]
	if !ok || entry.sale.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	out := cloneSale(entry.sale)
	return &out, nil
}

func (l *Local) ListUnsyncedSales(_ context.Context, tenantID string, afterSeq int64, limit int) ([]store.LocalSale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]store.LocalSale, 0)
	for _, entry := range l.sales {
		if entry.sale.Synced || entry.sale.TenantID != tenantID || entry.seq <= afterSeq {
			continue
		}
		out = append(out, store.LocalSale{Seq: entry.seq, Sale: cloneSale(entry.sale)})
	}
	slices.SortFunc(out, func(a, b store.LocalSale) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Local) MarkSalesSynced(_ context.Context, saleIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range saleIDs {
		if entry, ok := l.sales[id]; ok {
			entry.sale.Synced = true
		}
	}
	return nil
}

// CloseLocal builds provisional closures from the local copy of open sales.
func (l *Local) CloseLocal(ctx context.Context, req domain.CloseRequest, newID func() string) ([]domain.CashClosure, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := make([]domain.Sale, 0, len(l.sales))
	for _, entry := range l.sales {
		all = append(all, entry.sale)
	}
	open := ledger.FilterScope(req, all)
	if len(open) == 0 {
		return nil, domain.ErrNothingToClose
	}
	opening := make(map[string]decimal.Decimal)
	for _, sale := range open {
		if shift, ok := l.shifts[shiftMapKey(req.TenantID, sale.SellerID)]; ok {
			opening[sale.SellerID] = shift.OpeningCash
		}
	}
	closures := ledger.BuildClosures(req, open, opening, newID)
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient(err)
	}

	for i := range closures {
		closures[i].Provisional = true
		closures[i].Synced = false
		l.storeClosure(closures[i])
	}
	return closures, nil
}

func (l *Local) storeClosure(c domain.CashClosure) {
	if _, exists := l.closures[c.ID]; !exists {
		l.closureOrder = append(l.closureOrder, c.ID)
	}
	l.closures[c.ID] = cloneClosure(c)
	for _, saleID := range c.SalesIncluded {
		if entry, ok := l.sales[saleID]; ok {
			entry.sale.Closed = true
			entry.sale.ClosureID = c.ID
		}
	}
}

func (l *Local) MarkClosed(_ context.Context, closures []domain.CashClosure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range closures {
		c.Synced = true
		l.storeClosure(c)
	}
	return nil
}

func (l *Local) ListUnsyncedClosures(_ context.Context, tenantID string) ([]domain.CashClosure, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.CashClosure, 0)
	for _, id := range l.closureOrder {
		c := l.closures[id]
		if c.Synced || c.TenantID != tenantID {
			continue
		}
		out = append(out, cloneClosure(c))
	}
	return out, nil
}

func (l *Local) MarkClosureSynced(_ context.Context, closureID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.closures[closureID]
	if !ok {
		return domain.ErrNotFound
	}
	c.Synced = true
	l.closures[closureID] = c
	return nil
}

func (l *Local) AppendAudit(_ context.Context, event domain.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.ID == "" {
		event.ID = xid.New("audit")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	l.audit = append(l.audit, localAudit{event: event})
	return nil
}

func (l *Local) ListUnsyncedAudit(_ context.Context, tenantID string, limit int) ([]domain.AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.AuditEvent, 0)
	for _, entry := range l.audit {
		if entry.synced || entry.event.TenantID != tenantID {
			continue
		}
		out = append(out, entry.event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *Local) MarkAuditSynced(_ context.Context, eventIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		ids[id] = struct{}{}
	}
	for i := range l.audit {
		if _, ok := ids[l.audit[i].event.ID]; ok {
			l.audit[i].synced = true
		}
	}
	return nil
}

func (l *Local) GetShift(_ context.Context, tenantID string, employeeID string) (*domain.Shift, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	shift, ok := l.shifts[shiftMapKey(tenantID, employeeID)]
	if !ok {
		return nil, nil
	}
	return &shift, nil
}

func (l *Local) PutShift(_ context.Context, shift domain.Shift) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shifts[shiftMapKey(shift.TenantID, shift.EmployeeID)] = shift
	return nil
}

func (l *Local) ListUnsyncedEmergency(_ context.Context, tenantID string) ([]domain.Shift, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Shift, 0)
	for _, shift := range l.shifts {
		if shift.TenantID == tenantID && shift.Emergency && !shift.EmergencySynced {
			out = append(out, shift)
		}
	}
	slices.SortFunc(out, func(a, b domain.Shift) int { return strings.Compare(a.EmployeeID, b.EmployeeID) })
	return out, nil
}

func (l *Local) PutCredentials(_ context.Context, users []domain.UserAccount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range users {
		l.credentials[strings.ToLower(u.Username)] = u
	}
	return nil
}

func (l *Local) GetCredential(_ context.Context, username string) (*domain.UserAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.credentials[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

// Audit returns every local audit event, synced or not.
func (l *Local) Audit() []domain.AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.AuditEvent, 0, len(l.audit))
	for _, entry := range l.audit {
		out = append(out, entry.event)
	}
	return out
}
