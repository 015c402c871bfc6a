package shiftgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/authz"
	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/connectivity"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

// AuditLog receives shift audit events.
type AuditLog interface {
	AppendAudit(ctx context.Context, event domain.AuditEvent) error
}

// Gate is the per-employee shift state machine. The cache holds the last known
// shift of each employee and is what offline selling is gated on.
type Gate struct {
	authority store.Authority
	cache     cache.ShiftCache
	local     AuditLog
	signal    connectivity.Signal
	log       zerolog.Logger
	now       func() time.Time
}

func New(authority store.Authority, shifts cache.ShiftCache, local AuditLog, signal connectivity.Signal, log zerolog.Logger) *Gate {
	return &Gate{
		authority: authority,
		cache:     shifts,
		local:     local,
		signal:    signal,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func validCash(amount decimal.Decimal, what string) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, domain.Errorf(domain.KindInvalidPayment, "%s must not be negative", what)
	}
	return payment.Round2(amount), nil
}

// Start opens an owner-confirmed shift through the authoritative store.
func (g *Gate) Start(ctx context.Context, actor domain.Actor, employeeID string, openingCash decimal.Decimal) (*domain.Shift, error) {
	capability, err := authz.Resolve(actor)
	if err != nil {
		return nil, err
	}
	if !capability.ManageShifts {
		return nil, domain.Errorf(domain.KindPermissionDenied, "only an owner can confirm a shift start")
	}
	if employeeID == "" {
		return nil, domain.Errorf(domain.KindInvalidCartItem, "employee_id is required")
	}
	openingCash, err = validCash(openingCash, "opening cash")
	if err != nil {
		return nil, err
	}

	// An emergency shift the authority has not seen yet must land first, or
	// the start below would leave two active shifts for one employee.
	if err := g.pushEmergency(ctx, actor.TenantID, employeeID); err != nil {
		return nil, err
	}

	shift, err := g.authority.StartShift(ctx, domain.Shift{
		TenantID:    actor.TenantID,
		EmployeeID:  employeeID,
		StartedAt:   g.now(),
		OpeningCash: openingCash,
		ConfirmedBy: actor.UID,
	})
	if err != nil {
		return nil, err
	}
	g.remember(ctx, *shift)
	g.audit(ctx, true, domain.AuditEvent{
		TenantID:   actor.TenantID,
		EmployeeID: employeeID,
		Kind:       domain.AuditKindShiftStart,
		Note:       fmt.Sprintf("shift %s opened with %s, confirmed by %s", shift.ID, openingCash.StringFixed(2), actor.UID),
	})
	return shift, nil
}

// StartEmergency opens a shift on the local cache only. It always requires an
// opening cash amount and is flagged for audit until the authority accepts it.
func (g *Gate) StartEmergency(ctx context.Context, actor domain.Actor, openingCash *decimal.Decimal) (*domain.Shift, error) {
	capability, err := authz.Resolve(actor)
	if err != nil {
		return nil, err
	}
	if !capability.ShiftGated {
		return nil, domain.Errorf(domain.KindPermissionDenied, "emergency shifts are for employees")
	}
	if openingCash == nil {
		return nil, domain.Errorf(domain.KindInvalidPayment, "opening cash is required for an emergency shift")
	}
	cash, err := validCash(*openingCash, "opening cash")
	if err != nil {
		return nil, err
	}

	cached, err := g.cache.GetShift(ctx, actor.TenantID, actor.UID)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.Active {
		return nil, domain.ErrShiftAlreadyActive
	}

	shift := domain.Shift{
		ID:            xid.New("shift"),
		TenantID:      actor.TenantID,
		EmployeeID:    actor.UID,
		StartedAt:     g.now(),
		OpeningCash:   cash,
		Active:        true,
		Emergency:     true,
		AuditRequired: true,
	}
	if err := g.cache.PutShift(ctx, shift); err != nil {
		return nil, err
	}
	g.audit(ctx, false, domain.AuditEvent{
		TenantID:   actor.TenantID,
		EmployeeID: actor.UID,
		Kind:       domain.AuditKindShiftEmergency,
		Note:       fmt.Sprintf("emergency shift %s opened offline with %s", shift.ID, cash.StringFixed(2)),
	})
	g.log.Warn().Str("employee_id", actor.UID).Str("shift_id", shift.ID).Msg("emergency shift started")
	return &shift, nil
}

// End closes the employee's active shift. The owner must be online.
func (g *Gate) End(ctx context.Context, actor domain.Actor, employeeID string, closingCash decimal.Decimal) (*domain.Shift, error) {
	capability, err := authz.Resolve(actor)
	if err != nil {
		return nil, err
	}
	if !capability.ManageShifts {
		return nil, domain.Errorf(domain.KindPermissionDenied, "only an owner can confirm a shift end")
	}
	closingCash, err = validCash(closingCash, "closing cash")
	if err != nil {
		return nil, err
	}
	if err := g.pushEmergency(ctx, actor.TenantID, employeeID); err != nil {
		return nil, err
	}

	shift, err := g.authority.EndShift(ctx, actor.TenantID, employeeID, closingCash, g.now(), actor.UID)
	if err != nil {
		return nil, err
	}
	g.remember(ctx, *shift)
	g.audit(ctx, true, domain.AuditEvent{
		TenantID:   actor.TenantID,
		EmployeeID: employeeID,
		Kind:       domain.AuditKindShiftEnd,
		Note:       fmt.Sprintf("shift %s closed with %s, confirmed by %s", shift.ID, closingCash.StringFixed(2), actor.UID),
	})
	return shift, nil
}

// pushEmergency hands an unsynced cached emergency shift to the authority.
func (g *Gate) pushEmergency(ctx context.Context, tenantID string, employeeID string) error {
	cached, err := g.cache.GetShift(ctx, tenantID, employeeID)
	if err != nil || cached == nil || !cached.Emergency || cached.EmergencySynced {
		return err
	}
	if _, err := g.authority.AcceptEmergencyShift(ctx, *cached); err != nil {
		return err
	}
	return g.MarkEmergencySynced(ctx, *cached)
}

// Refresh reconciles the cached shift with the authority when it is reachable.
// An authoritative answer of "no active shift" closes a stale cached one,
// except for an emergency shift the authority has not received yet.
func (g *Gate) Refresh(ctx context.Context, tenantID string, employeeID string) (*domain.Shift, error) {
	cached, err := g.cache.GetShift(ctx, tenantID, employeeID)
	if err != nil {
		return nil, err
	}
	if !g.signal.Reachable(ctx) {
		return cached, nil
	}

	active, err := g.authority.GetActiveShift(ctx, tenantID, employeeID)
	switch {
	case err == nil:
		if cached != nil && cached.ID != active.ID && cached.Emergency && !cached.EmergencySynced {
			if _, err := g.authority.AcceptEmergencyShift(ctx, *cached); err != nil {
				g.log.Debug().Err(err).Str("employee_id", employeeID).Msg("emergency shift push deferred")
				return cached, nil
			}
		}
		if cached == nil || cached.ID != active.ID || cached.Active != active.Active {
			g.remember(ctx, *active)
		}
		return active, nil
	case errors.Is(err, domain.ErrNotFound):
		if cached == nil || !cached.Active {
			return cached, nil
		}
		if cached.Emergency && !cached.EmergencySynced {
			return cached, nil
		}
		closedAt := g.now()
		stale := *cached
		stale.Active = false
		stale.ClosedAt = &closedAt
		g.remember(ctx, stale)
		g.audit(ctx, false, domain.AuditEvent{
			TenantID:   tenantID,
			EmployeeID: employeeID,
			Kind:       domain.AuditKindShiftAutoClosed,
			Note:       fmt.Sprintf("cached shift %s closed after online status refresh", stale.ID),
		})
		return &stale, nil
	case domain.IsTransient(err):
		g.log.Debug().Err(err).Str("employee_id", employeeID).Msg("shift refresh skipped")
		return cached, nil
	default:
		return nil, err
	}
}

// CanSellOffline reports whether actor may settle sales on the local cache.
func (g *Gate) CanSellOffline(ctx context.Context, actor domain.Actor) (bool, error) {
	capability, err := authz.Resolve(actor)
	if err != nil {
		return false, err
	}
	if !capability.ShiftGated {
		return true, nil
	}
	cached, err := g.cache.GetShift(ctx, actor.TenantID, actor.UID)
	if err != nil {
		return false, err
	}
	state := cached.State()
	return state == domain.ShiftStateActive || state == domain.ShiftStateActiveEmergency, nil
}

// State is the cached state without contacting the authority.
func (g *Gate) State(ctx context.Context, tenantID string, employeeID string) (domain.ShiftState, error) {
	cached, err := g.cache.GetShift(ctx, tenantID, employeeID)
	if err != nil {
		return domain.ShiftStateNone, err
	}
	return cached.State(), nil
}

func (g *Gate) Status(ctx context.Context, tenantID string, employeeID string) (domain.ShiftStatus, error) {
	shift, err := g.Refresh(ctx, tenantID, employeeID)
	if err != nil {
		return domain.ShiftStatus{}, err
	}
	status := domain.ShiftStatus{EmployeeID: employeeID, State: shift.State()}
	if shift != nil && shift.Active {
		status.Active = true
		status.Emergency = shift.Emergency
		status.OpeningCash = shift.OpeningCash
	}
	return status, nil
}

func (g *Gate) PendingEmergency(ctx context.Context, tenantID string) ([]domain.Shift, error) {
	return g.cache.ListUnsyncedEmergency(ctx, tenantID)
}

// MarkEmergencySynced flags the cached copy of shift as accepted. A cache entry
// that already moved on to another shift is left alone.
func (g *Gate) MarkEmergencySynced(ctx context.Context, shift domain.Shift) error {
	cached, err := g.cache.GetShift(ctx, shift.TenantID, shift.EmployeeID)
	if err != nil {
		return err
	}
	if cached == nil || cached.ID != shift.ID {
		return nil
	}
	cached.EmergencySynced = true
	return g.cache.PutShift(ctx, *cached)
}

func (g *Gate) remember(ctx context.Context, shift domain.Shift) {
	if shift.Emergency {
		shift.EmergencySynced = true
	}
	if err := g.cache.PutShift(ctx, shift); err != nil {
		g.log.Warn().Err(err).Str("employee_id", shift.EmployeeID).Msg("shift cache write failed")
	}
}

// audit records event on the authority when online is set and that succeeds,
// and on the local log otherwise so reconciliation can push it later.
func (g *Gate) audit(ctx context.Context, online bool, event domain.AuditEvent) {
	event.ID = xid.New("audit")
	event.CreatedAt = g.now()
	if online {
		event.Source = domain.AuditSourceAuthority
		if err := g.authority.AppendAudit(ctx, event); err == nil {
			return
		}
	}
	event.Source = domain.AuditSourceLocal
	if err := g.local.AppendAudit(ctx, event); err != nil {
		g.log.Error().Err(err).Str("kind", event.Kind).Msg("audit write failed")
	}
}
