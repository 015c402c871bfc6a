package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/authz"
	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/closure"
	"kasirledger/backend/internal/connectivity"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/logger"
	"kasirledger/backend/internal/reconcile"
	"kasirledger/backend/internal/settlement"
	"kasirledger/backend/internal/shiftgate"
	"kasirledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	AuthorityTimeout time.Duration
	SyncBatchSize    int
}

// Service binds the engines to the actor carried by the request context.
type Service struct {
	authority store.Authority
	local     store.Local
	signal    connectivity.Signal
	timeout   time.Duration

	shifts     *shiftgate.Gate
	settlement *settlement.Engine
	syncer     *reconcile.Syncer
	closures   *closure.Aggregator
}

// New wires the engines. shifts may be nil, in which case the local store
// doubles as the shift cache.
func New(authority store.Authority, local store.Local, shifts cache.ShiftCache, signal connectivity.Signal, opts Options, log zerolog.Logger) *Service {
	if shifts == nil {
		shifts = local
	}
	if opts.AuthorityTimeout <= 0 {
		opts.AuthorityTimeout = 3 * time.Second
	}
	gate := shiftgate.New(authority, shifts, local, signal, logger.Component(log, "shiftgate"))
	return &Service{
		authority:  authority,
		local:      local,
		signal:     signal,
		timeout:    opts.AuthorityTimeout,
		shifts:     gate,
		settlement: settlement.New(authority, local, gate, signal, opts.AuthorityTimeout, logger.Component(log, "settlement")),
		syncer:     reconcile.New(authority, local, gate, signal, opts.SyncBatchSize, logger.Component(log, "reconcile")),
		closures:   closure.New(authority, local, signal, opts.AuthorityTimeout, logger.Component(log, "closure")),
	}
}

func (s *Service) actor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	if _, err := authz.Resolve(actor); err != nil {
		return domain.Actor{}, err
	}
	s.syncer.Remember(actor)
	return actor, nil
}

func (s *Service) Reachable(ctx context.Context) bool {
	return s.signal.Reachable(ctx)
}

// TriggerSync is the reconnect hook of the connectivity monitor.
func (s *Service) TriggerSync(ctx context.Context) {
	s.syncer.Trigger(ctx)
}

func (s *Service) Settle(ctx context.Context, cart domain.Cart, pay domain.PaymentRequest) (domain.SettlementResult, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	return s.settlement.Settle(ctx, actor, cart, pay)
}

// FindSale reads the local copy first and asks the authority for sales made
// on other devices. Employees only see their own sales.
func (s *Service) FindSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	sale, err := s.local.FindSale(ctx, actor.TenantID, saleID)
	if errors.Is(err, domain.ErrNotFound) && s.signal.Reachable(ctx) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		sale, err = s.authority.FindSale(callCtx, actor.TenantID, saleID)
		cancel()
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsOwner() && sale.SellerID != actor.UID {
		return nil, domain.ErrNotFound
	}
	return sale, nil
}

func (s *Service) SyncPending(ctx context.Context) (domain.SyncResult, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.SyncResult{}, err
	}
	return s.syncer.SyncPending(ctx, actor)
}

func (s *Service) Close(ctx context.Context, scope domain.CloseScope) (domain.CloseResult, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CloseResult{}, err
	}
	return s.closures.Close(ctx, actor, scope)
}

func (s *Service) StartShift(ctx context.Context, employeeID string, openingCash decimal.Decimal) (*domain.Shift, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.shifts.Start(ctx, actor, employeeID, openingCash)
}

func (s *Service) StartEmergencyShift(ctx context.Context, openingCash *decimal.Decimal) (*domain.Shift, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.shifts.StartEmergency(ctx, actor, openingCash)
}

func (s *Service) EndShift(ctx context.Context, employeeID string, closingCash decimal.Decimal) (*domain.Shift, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.shifts.End(ctx, actor, employeeID, closingCash)
}

// ShiftStatus defaults to the caller. Only owners may look at someone else.
func (s *Service) ShiftStatus(ctx context.Context, employeeID string) (domain.ShiftStatus, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.ShiftStatus{}, err
	}
	if employeeID == "" {
		employeeID = actor.UID
	}
	if employeeID != actor.UID && !actor.IsOwner() {
		return domain.ShiftStatus{}, domain.Errorf(domain.KindPermissionDenied, "employees may only read their own shift")
	}
	return s.shifts.Status(ctx, actor.TenantID, employeeID)
}
