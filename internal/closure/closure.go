package closure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kasirledger/backend/internal/authz"
	"kasirledger/backend/internal/connectivity"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

// Aggregator turns open sales into cash closures, on the authority when it
// can and as provisional closures of the caller's own sales when it cannot.
type Aggregator struct {
	authority store.Authority
	local     store.Local
	signal    connectivity.Signal
	timeout   time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func New(authority store.Authority, local store.Local, signal connectivity.Signal, authorityTimeout time.Duration, log zerolog.Logger) *Aggregator {
	if authorityTimeout <= 0 {
		authorityTimeout = 3 * time.Second
	}
	return &Aggregator{
		authority: authority,
		local:     local,
		signal:    signal,
		timeout:   authorityTimeout,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func newClosureID() string {
	return xid.New("closure")
}

func (a *Aggregator) Close(ctx context.Context, actor domain.Actor, scope domain.CloseScope) (domain.CloseResult, error) {
	capability, err := authz.Resolve(actor)
	if err != nil {
		return domain.CloseResult{}, err
	}
	resolved, err := capability.CloseScope(scope)
	if err != nil {
		return domain.CloseResult{}, err
	}

	req := domain.CloseRequest{
		TenantID: actor.TenantID,
		Scope:    resolved,
		ActorID:  actor.UID,
		ClosedAt: a.now(),
	}
	if resolved == domain.ScopeMine {
		req.SellerID = actor.UID
	}

	if a.signal.Reachable(ctx) && actor.Authenticated {
		closures, err := a.closeAuthoritative(ctx, req)
		switch {
		case err == nil:
			return domain.CloseResult{Closures: closures}, nil
		case ctx.Err() != nil:
			return domain.CloseResult{}, domain.Transient(ctx.Err())
		case !domain.IsTransient(err):
			return domain.CloseResult{}, err
		}
		a.log.Warn().Err(err).Str("scope", string(resolved)).Msg("authoritative close unavailable, closing locally")
	}
	if err := ctx.Err(); err != nil {
		return domain.CloseResult{}, domain.Transient(err)
	}
	return a.closeLocal(ctx, req)
}

func (a *Aggregator) closeAuthoritative(ctx context.Context, req domain.CloseRequest) ([]domain.CashClosure, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	closures, err := a.authority.CloseSales(callCtx, req, newClosureID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.Transient(err)
		}
		return nil, err
	}
	if err := a.local.MarkClosed(ctx, closures); err != nil {
		a.log.Warn().Err(err).Msg("local copy of closures not recorded")
	}
	for _, c := range closures {
		event := closureEvent(c, domain.AuditSourceAuthority)
		if err := a.authority.AppendAudit(ctx, event); err != nil {
			event.Source = domain.AuditSourceLocal
			if err := a.local.AppendAudit(ctx, event); err != nil {
				a.log.Error().Err(err).Str("closure_id", c.ID).Msg("closure audit not recorded")
			}
		}
	}
	return closures, nil
}

// closeLocal narrows any scope to the caller's own sales: the local cache
// cannot see what other devices sold.
func (a *Aggregator) closeLocal(ctx context.Context, req domain.CloseRequest) (domain.CloseResult, error) {
	req.Scope = domain.ScopeMine
	req.SellerID = req.ActorID

	closures, err := a.local.CloseLocal(ctx, req, newClosureID)
	if err != nil {
		return domain.CloseResult{}, err
	}
	for _, c := range closures {
		if err := a.local.AppendAudit(ctx, closureEvent(c, domain.AuditSourceLocal)); err != nil {
			a.log.Error().Err(err).Str("closure_id", c.ID).Msg("closure audit not recorded")
		}
	}
	return domain.CloseResult{Closures: closures, Provisional: true}, nil
}

func closureEvent(c domain.CashClosure, source string) domain.AuditEvent {
	kind := "final"
	if c.Provisional {
		kind = "provisional"
	}
	return domain.AuditEvent{
		ID:         xid.New("audit"),
		TenantID:   c.TenantID,
		EmployeeID: c.SellerID,
		Kind:       domain.AuditKindClosure,
		Note: fmt.Sprintf("%s closure %s by %s: %d sales, total %s, cash %s, virtual %s",
			kind, c.ID, c.ClosedBy, len(c.SalesIncluded), c.TotalAmount.StringFixed(2),
			c.CashToDeliver.StringFixed(2), c.VirtualToDeliver.StringFixed(2)),
		Source:    source,
		CreatedAt: c.CreatedAt,
	}
}
