package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"kasirledger/backend/internal/authz"
	"kasirledger/backend/internal/connectivity"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/shiftgate"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

const (
	defaultBatchSize = 50
	recentActorTTL   = 12 * time.Hour
)

// Syncer pushes local fallback state to the authority. Only one sync runs at
// a time; callers arriving while one is in flight share its result.
type Syncer struct {
	authority store.Authority
	local     store.Local
	gate      *shiftgate.Gate
	signal    connectivity.Signal
	batchSize int
	log       zerolog.Logger
	now       func() time.Time

	flight singleflight.Group
	run    sync.Mutex

	recentMu sync.Mutex
	recent   map[string]seenActor
}

type seenActor struct {
	actor domain.Actor
	at    time.Time
}

func New(authority store.Authority, local store.Local, gate *shiftgate.Gate, signal connectivity.Signal, batchSize int, log zerolog.Logger) *Syncer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Syncer{
		authority: authority,
		local:     local,
		gate:      gate,
		signal:    signal,
		batchSize: batchSize,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		recent:    make(map[string]seenActor),
	}
}

// Remember records a verified actor so Trigger can sync their tenant later.
func (s *Syncer) Remember(actor domain.Actor) {
	if !actor.Authenticated || actor.TenantID == "" {
		return
	}
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.recent[actor.TenantID] = seenActor{actor: actor, at: s.now()}
}

func (s *Syncer) recentActors() []domain.Actor {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	cutoff := s.now().Add(-recentActorTTL)
	out := make([]domain.Actor, 0, len(s.recent))
	for tenant, seen := range s.recent {
		if seen.at.Before(cutoff) {
			delete(s.recent, tenant)
			continue
		}
		out = append(out, seen.actor)
	}
	return out
}

// Trigger syncs every tenant with a recently seen verified actor. It is the
// reconnect callback of the connectivity monitor.
func (s *Syncer) Trigger(ctx context.Context) {
	for _, actor := range s.recentActors() {
		result, err := s.SyncPending(ctx, actor)
		if err != nil {
			s.log.Error().Err(err).Str("tenant_id", actor.TenantID).Msg("reconnect sync failed")
			continue
		}
		s.log.Info().
			Str("tenant_id", actor.TenantID).
			Int("synced", result.SyncedCount).
			Int("pending", len(result.PendingIDs)).
			Bool("deferred", result.Deferred).
			Msg("reconnect sync finished")
	}
}

// SyncPending converges local fallback state into the authority. An offline
// backend or an unverified session defers the sync without an error.
func (s *Syncer) SyncPending(ctx context.Context, actor domain.Actor) (domain.SyncResult, error) {
	if _, err := authz.Resolve(actor); err != nil {
		return domain.SyncResult{}, err
	}
	if !s.signal.Reachable(ctx) {
		return s.deferred(ctx, actor.TenantID, "offline")
	}
	if !actor.Authenticated {
		return s.deferred(ctx, actor.TenantID, "no-session")
	}
	s.Remember(actor)

	v, err, _ := s.flight.Do(actor.TenantID, func() (any, error) {
		s.run.Lock()
		defer s.run.Unlock()
		return s.sync(ctx, actor.TenantID)
	})
	if err != nil {
		return domain.SyncResult{}, err
	}
	return v.(domain.SyncResult), nil
}

func (s *Syncer) deferred(ctx context.Context, tenantID string, reason string) (domain.SyncResult, error) {
	pending, err := s.pendingIDs(ctx, tenantID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	return domain.SyncResult{PendingIDs: pending, Deferred: true, DeferReason: reason}, nil
}

func (s *Syncer) sync(ctx context.Context, tenantID string) (domain.SyncResult, error) {
	var result domain.SyncResult
	log := s.log.With().Str("tenant_id", tenantID).Logger()

	stop, err := s.syncShifts(ctx, tenantID, &result)
	if err == nil && !stop {
		stop, err = s.syncSales(ctx, tenantID, &result)
	}
	if err == nil && !stop {
		stop, err = s.syncClosures(ctx, tenantID, &result)
	}
	if err == nil && !stop {
		stop, err = s.syncAudit(ctx, tenantID, &result)
	}
	if err != nil {
		return domain.SyncResult{}, err
	}
	if stop {
		result.Deferred = true
		result.DeferReason = "authority-unreachable"
	} else {
		s.refreshCatalog(ctx, tenantID)
	}

	pending, err := s.pendingIDs(ctx, tenantID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	result.PendingIDs = pending

	log.Info().
		Int("synced", result.SyncedCount).
		Int("rejected", len(result.Rejected)).
		Int("shifts", result.ShiftsSynced).
		Int("closures", result.ClosuresSynced).
		Int("audit", result.AuditSynced).
		Bool("deferred", result.Deferred).
		Msg("sync finished")
	return result, nil
}

// Every step returns stop=true when the authority became unreachable, and an
// error only for failures of the local cache.

func (s *Syncer) syncShifts(ctx context.Context, tenantID string, result *domain.SyncResult) (bool, error) {
	shifts, err := s.gate.PendingEmergency(ctx, tenantID)
	if err != nil {
		return false, err
	}
	for _, shift := range shifts {
		if _, err := s.authority.AcceptEmergencyShift(ctx, shift); err != nil {
			if domain.IsTransient(err) {
				return true, nil
			}
			s.log.Warn().Err(err).Str("shift_id", shift.ID).Msg("emergency shift rejected")
			continue
		}
		if err := s.gate.MarkEmergencySynced(ctx, shift); err != nil {
			return false, err
		}
		result.ShiftsSynced++
	}
	return false, nil
}

func (s *Syncer) syncSales(ctx context.Context, tenantID string, result *domain.SyncResult) (bool, error) {
	var after int64
	for {
		batch, err := s.local.ListUnsyncedSales(ctx, tenantID, after, s.batchSize)
		if err != nil {
			return false, err
		}
		if len(batch) == 0 {
			return false, nil
		}

		accepted := make([]string, 0, len(batch))
		stop := false
		for _, entry := range batch {
			if _, err := s.authority.AcceptSale(ctx, entry.Sale); err != nil {
				if domain.IsTransient(err) {
					stop = true
					break
				}
				result.Rejected = append(result.Rejected, domain.SyncRejection{SaleID: entry.Sale.ID, Reason: err.Error()})
				s.log.Warn().Err(err).Str("sale_id", entry.Sale.ID).Msg("sale rejected by authority")
				continue
			}
			accepted = append(accepted, entry.Sale.ID)
		}
		if len(accepted) > 0 {
			if err := s.local.MarkSalesSynced(ctx, accepted); err != nil {
				return false, err
			}
			result.SyncedCount += len(accepted)
		}
		if stop {
			return true, nil
		}
		if len(batch) < s.batchSize {
			return false, nil
		}
		after = batch[len(batch)-1].Seq
	}
}

// syncClosures pushes provisional closures whose sales are all synced. A
// closure the authority refuses with Conflict overlaps a closure made online
// and is retired locally with an audit event.
func (s *Syncer) syncClosures(ctx context.Context, tenantID string, result *domain.SyncResult) (bool, error) {
	closures, err := s.local.ListUnsyncedClosures(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if len(closures) == 0 {
		return false, nil
	}
	pending, err := s.pendingIDs(ctx, tenantID)
	if err != nil {
		return false, err
	}
	unsynced := make(map[string]struct{}, len(pending))
	for _, id := range pending {
		unsynced[id] = struct{}{}
	}

	for _, closure := range closures {
		if waitsOnSales(closure, unsynced) {
			continue
		}
		_, err := s.authority.AcceptClosure(ctx, closure)
		switch {
		case err == nil:
			result.ClosuresSynced++
		case domain.IsTransient(err):
			return true, nil
		case errors.Is(err, domain.ErrConflict):
			s.log.Warn().Err(err).Str("closure_id", closure.ID).Msg("provisional closure overlaps an authoritative one")
			if err := s.local.AppendAudit(ctx, domain.AuditEvent{
				ID:         xid.New("audit"),
				TenantID:   tenantID,
				EmployeeID: closure.SellerID,
				Kind:       domain.AuditKindClosure,
				Note:       fmt.Sprintf("provisional closure %s refused: %v", closure.ID, err),
				Source:     domain.AuditSourceLocal,
				CreatedAt:  s.now(),
			}); err != nil {
				return false, err
			}
		default:
			s.log.Warn().Err(err).Str("closure_id", closure.ID).Msg("closure push failed")
			continue
		}
		if err := s.local.MarkClosureSynced(ctx, closure.ID); err != nil {
			return false, err
		}
	}
	return false, nil
}

func waitsOnSales(closure domain.CashClosure, unsynced map[string]struct{}) bool {
	for _, id := range closure.SalesIncluded {
		if _, ok := unsynced[id]; ok {
			return true
		}
	}
	return false
}

func (s *Syncer) syncAudit(ctx context.Context, tenantID string, result *domain.SyncResult) (bool, error) {
	for {
		events, err := s.local.ListUnsyncedAudit(ctx, tenantID, s.batchSize)
		if err != nil {
			return false, err
		}
		if len(events) == 0 {
			return false, nil
		}
		pushed := make([]string, 0, len(events))
		var pushErr error
		for _, event := range events {
			if pushErr = s.authority.AppendAudit(ctx, event); pushErr != nil {
				break
			}
			pushed = append(pushed, event.ID)
		}
		if len(pushed) > 0 {
			if err := s.local.MarkAuditSynced(ctx, pushed); err != nil {
				return false, err
			}
			result.AuditSynced += len(pushed)
		}
		if pushErr != nil {
			if domain.IsTransient(pushErr) {
				return true, nil
			}
			s.log.Warn().Err(pushErr).Msg("audit push stopped")
			return false, nil
		}
		if len(events) < s.batchSize {
			return false, nil
		}
	}
}

func (s *Syncer) refreshCatalog(ctx context.Context, tenantID string) {
	products, err := s.authority.ListProducts(ctx, tenantID)
	if err != nil {
		s.log.Debug().Err(err).Msg("catalog refresh skipped")
		return
	}
	if err := s.local.PutProducts(ctx, products); err != nil {
		s.log.Warn().Err(err).Msg("catalog refresh not stored")
	}
}

func (s *Syncer) pendingIDs(ctx context.Context, tenantID string) ([]string, error) {
	ids := make([]string, 0)
	var after int64
	for {
		batch, err := s.local.ListUnsyncedSales(ctx, tenantID, after, s.batchSize)
		if err != nil {
			return nil, err
		}
		for _, entry := range batch {
			ids = append(ids, entry.Sale.ID)
		}
		if len(batch) < s.batchSize {
			return ids, nil
		}
		after = batch[len(batch)-1].Seq
	}
}
