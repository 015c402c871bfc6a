package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"kasirledger/backend/internal/authz"
	"kasirledger/backend/internal/connectivity"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/ledger"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/shiftgate"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

const defaultAuthorityTimeout = 3 * time.Second

// Engine settles one sale per attempt, authoritatively when it can and on the
// local cache when the fallback table allows it.
type Engine struct {
	authority store.Authority
	local     store.Local
	gate      *shiftgate.Gate
	signal    connectivity.Signal
	timeout   time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func New(authority store.Authority, local store.Local, gate *shiftgate.Gate, signal connectivity.Signal, authorityTimeout time.Duration, log zerolog.Logger) *Engine {
	if authorityTimeout <= 0 {
		authorityTimeout = defaultAuthorityTimeout
	}
	return &Engine{
		authority: authority,
		local:     local,
		gate:      gate,
		signal:    signal,
		timeout:   authorityTimeout,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Settle(ctx context.Context, actor domain.Actor, cart domain.Cart, pay domain.PaymentRequest) (domain.SettlementResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SettlementResult{}, domain.Transient(err)
	}
	capability, err := authz.Resolve(actor)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	saleID := cart.SaleID
	if saleID == "" {
		saleID = xid.New("sale")
	} else if !xid.Valid(saleID) {
		return domain.SettlementResult{}, domain.Errorf(domain.KindInvalidCartItem, "sale_id %q is malformed", saleID)
	}

	lines, err := ledger.GroupLines(cart.Items)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	if prior, err := e.local.FindSale(ctx, actor.TenantID, saleID); err == nil {
		return resultOf(*prior, true), nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.SettlementResult{}, err
	}

	reachable := e.signal.Reachable(ctx)
	products, err := e.catalog(ctx, actor.TenantID, ledger.ProductIDs(lines), reachable)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	quote, err := ledger.Quote(lines, products)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	if _, err := payment.Normalize(quote.Total, pay); err != nil {
		return domain.SettlementResult{}, err
	}

	draft := domain.SaleDraft{
		ID:         saleID,
		TenantID:   actor.TenantID,
		SellerID:   actor.UID,
		SellerName: actor.DisplayName,
		Lines:      lines,
		Payment:    pay,
		CreatedAt:  e.now(),
	}

	failure, cause := FailureOffline, error(nil)
	switch {
	case !reachable:
	case !actor.Authenticated:
		failure = FailureNoSession
	default:
		result, err := e.settleAuthoritative(ctx, draft)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.SettlementResult{}, domain.Transient(ctxErr)
		}
		if !domain.IsTransient(err) {
			return domain.SettlementResult{}, err
		}
		failure, cause = FailureTransient, err
	}

	state := domain.ShiftStateActive
	if capability.ShiftGated {
		if state, err = e.gate.State(ctx, actor.TenantID, actor.UID); err != nil {
			return domain.SettlementResult{}, err
		}
	}
	decision := Decide(Situation{
		Role:               capability.Role,
		ShiftState:         state,
		Failure:            failure,
		EmergencyRequested: cart.EmergencyOpeningCash != nil,
	})
	if !decision.Fallback {
		return domain.SettlementResult{}, decision.Err
	}

	if failure == FailureTransient {
		if result, ok := e.echo(ctx, draft); ok {
			return result, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.SettlementResult{}, domain.Transient(err)
	}
	if decision.StartEmergency {
		if _, err := e.gate.StartEmergency(ctx, actor, cart.EmergencyOpeningCash); err != nil {
			return domain.SettlementResult{}, err
		}
	}

	sale, err := e.local.SettleLocal(ctx, draft, decision.Reason)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			if prior, findErr := e.local.FindSale(ctx, actor.TenantID, saleID); findErr == nil {
				return resultOf(*prior, true), nil
			}
		}
		return domain.SettlementResult{}, err
	}
	e.log.Info().
		Str("sale_id", sale.ID).
		Str("seller_id", sale.SellerID).
		Str("reason", string(sale.AuditReason)).
		AnErr("cause", cause).
		Msg("sale settled on local cache")
	return resultOf(*sale, false), nil
}

// settleAuthoritative runs the atomic settlement under the authority timeout.
// A Conflict means this sale id already committed, which counts as success.
func (e *Engine) settleAuthoritative(ctx context.Context, draft domain.SaleDraft) (domain.SettlementResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	settled, err := e.authority.SettleSale(callCtx, draft)
	switch {
	case err == nil:
		e.record(ctx, settled.Sale, settled.Products)
		return resultOf(settled.Sale, false), nil
	case errors.Is(err, domain.ErrConflict):
		stored, findErr := e.authority.FindSale(callCtx, draft.TenantID, draft.ID)
		if findErr != nil {
			return domain.SettlementResult{}, findErr
		}
		e.record(ctx, *stored, nil)
		return resultOf(*stored, true), nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.SettlementResult{}, domain.Transient(err)
	default:
		return domain.SettlementResult{}, err
	}
}

// echo looks for a sale the authority committed before the call timed out.
func (e *Engine) echo(ctx context.Context, draft domain.SaleDraft) (domain.SettlementResult, bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stored, err := e.authority.FindSale(callCtx, draft.TenantID, draft.ID)
	if err != nil {
		return domain.SettlementResult{}, false
	}
	products, err := e.authority.GetProducts(callCtx, draft.TenantID, ledger.ProductIDs(draft.Lines))
	if err != nil {
		products = nil
	}
	snapshots := make([]domain.Product, 0, len(products))
	for _, p := range products {
		snapshots = append(snapshots, p)
	}
	e.record(ctx, *stored, snapshots)
	e.log.Info().Str("sale_id", stored.ID).Msg("authoritative echo found after timeout")
	return resultOf(*stored, false), true
}

// record keeps a local copy of an authoritative sale. It is a cache refresh,
// so failures are logged and do not fail the settlement.
func (e *Engine) record(ctx context.Context, sale domain.Sale, products []domain.Product) {
	sale.Synced = true
	if err := e.local.RecordSale(ctx, sale, products); err != nil {
		e.log.Warn().Err(err).Str("sale_id", sale.ID).Msg("local copy of sale not recorded")
	}
}

// catalog reads product rows from the local copy, warming it from the
// authority when some are missing and the authority is reachable.
func (e *Engine) catalog(ctx context.Context, tenantID string, ids []string, reachable bool) (map[string]domain.Product, error) {
	products, err := e.local.GetProducts(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	if len(products) == len(ids) || !reachable {
		return products, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	fresh, err := e.authority.GetProducts(callCtx, tenantID, ids)
	if err != nil {
		e.log.Debug().Err(err).Msg("catalog warm-up skipped")
		return products, nil
	}
	warm := make([]domain.Product, 0, len(fresh))
	for _, p := range fresh {
		warm = append(warm, p)
	}
	if err := e.local.PutProducts(ctx, warm); err != nil {
		return nil, err
	}
	return fresh, nil
}

func resultOf(sale domain.Sale, duplicate bool) domain.SettlementResult {
	return domain.SettlementResult{
		SaleID:        sale.ID,
		Total:         sale.Total,
		CashAmount:    sale.CashAmount,
		VirtualAmount: sale.VirtualAmount,
		Profit:        sale.RealProfit,
		ItemsCount:    sale.ItemsCount(),
		Origin:        sale.SettlementOrigin,
		AuditRequired: sale.AuditRequired,
		AuditReason:   sale.AuditReason,
		Duplicate:     duplicate,
	}
}
