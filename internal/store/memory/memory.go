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

var _ store.Authority = (*Store)(nil)

// Faults lets tests simulate an unreachable or flaky authoritative backend.
type Faults struct {
	// Offline makes every call fail as transient.
	Offline error
	// BeforeSettle runs before a settlement touches state; an error aborts it.
	BeforeSettle func(ctx context.Context, draft domain.SaleDraft) error
	// AfterSettle runs after a settlement committed; an error is returned to
	// the caller even though the sale exists.
	AfterSettle func(ctx context.Context, sale domain.Sale) error
}

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	salesByID        map[string]domain.Sale
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	closuresByID     map[string]domain.CashClosure
	auditLogs        []domain.AuditEvent
	usersByUsername  map[string]domain.UserAccount

	faultsMu sync.RWMutex
	faults   Faults
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		salesByID:        make(map[string]domain.Sale),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		closuresByID:     make(map[string]domain.CashClosure),
		auditLogs:        make([]domain.AuditEvent, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded loads the embedded dev catalog and accounts.
func NewSeeded() *Store {
	s, err := NewFromSeed(seedYAML)
	if err != nil {
		panic(fmt.Sprintf("memory store: embedded seed: %v", err))
	}
	return s
}

func NewFromSeed(raw []byte) (*Store, error) {
	seed, err := ParseSeed(raw)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	products, err := seed.products(now)
	if err != nil {
		return nil, err
	}
	users, err := seed.users(now)
	if err != nil {
		return nil, err
	}

	s := New()
	for _, p := range products {
		s.products[p.ID] = p
	}
	s.usersByUsername = users
	return s, nil
}

func (s *Store) SetFaults(f Faults) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults = f
}

func (s *Store) currentFaults() Faults {
	s.faultsMu.RLock()
	defer s.faultsMu.RUnlock()
	return s.faults
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient(err)
	}
	if f := s.currentFaults(); f.Offline != nil {
		return domain.Transient(f.Offline)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.check(ctx)
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) AuditEvents() []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.auditLogs)
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.TenantID != tenantID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProducts(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.TenantID == tenantID {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) SettleSale(ctx context.Context, draft domain.SaleDraft) (*domain.SettledSale, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	faults := s.currentFaults()
	if faults.BeforeSettle != nil {
		if err := faults.BeforeSettle(ctx, draft); err != nil {
			return nil, err
		}
	}

	settled, err := s.settle(ctx, draft)
	if err != nil {
		return nil, err
	}
	if faults.AfterSettle != nil {
		if err := faults.AfterSettle(ctx, settled.Sale); err != nil {
			return nil, err
		}
	}
	return settled, nil
}

func (s *Store) settle(ctx context.Context, draft domain.SaleDraft) (*domain.SettledSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[draft.ID]; exists {
		return nil, domain.ErrConflict
	}
	locked := s.tenantProducts(draft.TenantID, ledger.ProductIDs(draft.Lines))
	settled, err := ledger.BuildSale(draft, locked)
	if err != nil {
		return nil, err
	}
	// Abandoned callers leave no mutation.
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient(err)
	}

	settled.Sale.SettlementOrigin = domain.OriginAuthoritative
	settled.Sale.Synced = true
	for _, p := range settled.Products {
		s.products[p.ID] = p
	}
	s.salesByID[settled.Sale.ID] = cloneSale(settled.Sale)
	settled.Sale = cloneSale(settled.Sale)
	return settled, nil
}

func (s *Store) tenantProducts(tenantID string, ids []string) map[string]domain.Product {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.TenantID == tenantID {
			out[id] = p
		}
	}
	return out
}

func (s *Store) FindSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) AcceptSale(ctx context.Context, sale domain.Sale) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if err := ledger.ValidateSale(sale); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[sale.ID]; exists {
		return false, nil
	}
	lines := ledger.LinesOf(sale)
	products := s.tenantProducts(sale.TenantID, ledger.ProductIDs(lines))
	for _, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			return false, domain.Errorf(domain.KindNotFound, "product %s does not exist", line.ProductID)
		}
	}

	now := time.Now().UTC()
	for _, line := range lines {
		p := products[line.ProductID]
		if shortfall := ledger.ApplyReconciled(&p, line); shortfall > 0 {
			s.auditLogs = append(s.auditLogs, shortfallEvent(sale, p, shortfall, now))
		}
		p.UpdatedAt = now
		products[p.ID] = p
		s.products[p.ID] = p
	}

	sale.Closed = false
	sale.ClosureID = ""
	sale.Synced = true
	s.salesByID[sale.ID] = cloneSale(sale)
	return true, nil
}

func shortfallEvent(sale domain.Sale, p domain.Product, shortfall int64, at time.Time) domain.AuditEvent {
	return domain.AuditEvent{
		ID:         xid.New("audit"),
		TenantID:   sale.TenantID,
		EmployeeID: sale.SellerID,
		Kind:       domain.AuditKindStockShortfall,
		Note:       fmt.Sprintf("sale %s: product %s short by %d units", sale.ID, p.ID, shortfall),
		Source:     domain.AuditSourceAuthority,
		CreatedAt:  at,
	}
}

func shiftMapKey(tenantID string, employeeID string) string {
	return tenantID + "|" + employeeID
}

func (s *Store) StartShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(shift.TenantID) == "" || strings.TrimSpace(shift.EmployeeID) == "" {
		return nil, domain.Errorf(domain.KindInvalidCartItem, "tenant and employee are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(shift.TenantID, shift.EmployeeID)
	if _, exists := s.activeShiftByKey[key]; exists {
		return nil, domain.ErrShiftAlreadyActive
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartedAt.IsZero() {
		shift.StartedAt = time.Now().UTC()
	}
	shift.Active = true
	shift.ClosedAt = nil
	shift.ClosingCash = nil

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) EndShift(ctx context.Context, tenantID string, employeeID string, closingCash decimal.Decimal, closedAt time.Time, confirmedBy string) (*domain.Shift, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(tenantID, employeeID)
	shiftID, exists := s.activeShiftByKey[key]
	if !exists {
		return nil, domain.ErrShiftNotActive
	}
	shift := s.shiftsByID[shiftID]
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift.Active = false
	shift.ClosedAt = &closedAt
	shift.ClosingCash = &closingCash
	if confirmedBy != "" {
		shift.ConfirmedBy = confirmedBy
	}

	delete(s.activeShiftByKey, key)
	s.shiftsByID[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShift(ctx context.Context, tenantID string, employeeID string) (*domain.Shift, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByKey[shiftMapKey(tenantID, employeeID)]
	if !exists {
		return nil, domain.ErrNotFound
	}
	copyShift := s.shiftsByID[shiftID]
	return &copyShift, nil
}

// AcceptEmergencyShift records a shift started offline. When the employee
// already has another active shift the emergency one is stored as closed.
func (s *Store) AcceptEmergencyShift(ctx context.Context, shift domain.Shift) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shiftsByID[shift.ID]; exists {
		return false, nil
	}
	shift.Emergency = true
	shift.AuditRequired = true
	shift.EmergencySynced = true

	key := shiftMapKey(shift.TenantID, shift.EmployeeID)
	if shift.Active {
		if _, taken := s.activeShiftByKey[key]; taken {
			closedAt := time.Now().UTC()
			shift.Active = false
			shift.ClosedAt = &closedAt
		} else {
			s.activeShiftByKey[key] = shift.ID
		}
	}
	s.shiftsByID[shift.ID] = shift
	return true, nil
}

// openingCash is the float of each seller's active shift, or of their latest one.
func (s *Store) openingCash(tenantID string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	latest := make(map[string]time.Time)
	for _, shift := range s.shiftsByID {
		if shift.TenantID != tenantID {
			continue
		}
		if activeID, ok := s.activeShiftByKey[shiftMapKey(tenantID, shift.EmployeeID)]; ok {
			out[shift.EmployeeID] = s.shiftsByID[activeID].OpeningCash
			latest[shift.EmployeeID] = time.Time{}
			continue
		}
		if seen, ok := latest[shift.EmployeeID]; ok && !seen.Before(shift.StartedAt) {
			continue
		}
		latest[shift.EmployeeID] = shift.StartedAt
		out[shift.EmployeeID] = shift.OpeningCash
	}
	return out
}

func (s *Store) CloseSales(ctx context.Context, req domain.CloseRequest, newID func() string) ([]domain.CashClosure, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		all = append(all, sale)
	}
	open := ledger.FilterScope(req, all)
	if len(open) == 0 {
		return nil, domain.ErrNothingToClose
	}
	closures := ledger.BuildClosures(req, open, s.openingCash(req.TenantID), newID)
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient(err)
	}

	for _, c := range closures {
		s.closuresByID[c.ID] = c
		for _, saleID := range c.SalesIncluded {
			sale := s.salesByID[saleID]
			sale.Closed = true
			sale.ClosureID = c.ID
			s.salesByID[saleID] = sale
		}
	}
	return closures, nil
}

func (s *Store) AcceptClosure(ctx context.Context, closure domain.CashClosure) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.closuresByID[closure.ID]; exists {
		return false, nil
	}
	for _, saleID := range closure.SalesIncluded {
		sale, ok := s.salesByID[saleID]
		if !ok || sale.TenantID != closure.TenantID {
			return false, domain.Errorf(domain.KindConflict, "closure %s references unknown sale %s", closure.ID, saleID)
		}
		if sale.Closed {
			return false, domain.Errorf(domain.KindConflict, "sale %s already closed by %s", saleID, sale.ClosureID)
		}
	}

	closure.Synced = true
	s.closuresByID[closure.ID] = closure
	for _, saleID := range closure.SalesIncluded {
		sale := s.salesByID[saleID]
		sale.Closed = true
		sale.ClosureID = closure.ID
		s.salesByID[saleID] = sale
	}
	return true, nil
}

func (s *Store) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.auditLogs {
		if existing.ID == event.ID {
			return nil
		}
	}
	if event.ID == "" {
		event.ID = xid.New("audit")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, event)
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func cloneClosure(src domain.CashClosure) domain.CashClosure {
	dst := src
	dst.SalesIncluded = slices.Clone(src.SalesIncluded)
	dst.ProductsIncluded = slices.Clone(src.ProductsIncluded)
	return dst
}
