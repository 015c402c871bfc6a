package shiftgate

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/connectivity"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/logger"
	"kasirledger/backend/internal/store/memory"
)

const tenant = "main-store"

var (
	owner  = domain.Actor{UID: "owner", TenantID: tenant, Role: domain.RoleOwner, Authenticated: true}
	kasir1 = domain.Actor{UID: "kasir1", TenantID: tenant, Role: domain.RoleEmployee, Authenticated: true}
)

type fixture struct {
	gate      *Gate
	authority *memory.Store
	local     *memory.Local
	signal    *connectivity.Static
}

func newFixture(online bool) fixture {
	authority := memory.NewSeeded()
	local := memory.NewLocal()
	signal := connectivity.NewStatic(online)
	return fixture{
		gate:      New(authority, local, local, signal, logger.Nop()),
		authority: authority,
		local:     local,
		signal:    signal,
	}
}

func cash(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestCanSellOfflineRequiresCachedShift(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	ok, err := f.gate.CanSellOffline(ctx, kasir1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.gate.CanSellOffline(ctx, owner)
	require.NoError(t, err)
	assert.True(t, ok)

	shift, err := f.gate.StartEmergency(ctx, kasir1, cash(50))
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStateActiveEmergency, shift.State())
	assert.True(t, shift.AuditRequired)
	assert.False(t, shift.EmergencySynced)

	ok, err = f.gate.CanSellOffline(ctx, kasir1)
	require.NoError(t, err)
	assert.True(t, ok)

	events := f.local.Audit()
	require.Len(t, events, 1)
	assert.Equal(t, domain.AuditKindShiftEmergency, events[0].Kind)
}

func TestStartEmergencyRules(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	_, err := f.gate.StartEmergency(ctx, kasir1, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidPayment))

	_, err = f.gate.StartEmergency(ctx, kasir1, cash(-1))
	assert.True(t, errors.Is(err, domain.ErrInvalidPayment))

	_, err = f.gate.StartEmergency(ctx, owner, cash(10))
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	_, err = f.gate.StartEmergency(ctx, kasir1, cash(10))
	require.NoError(t, err)
	_, err = f.gate.StartEmergency(ctx, kasir1, cash(10))
	assert.True(t, errors.Is(err, domain.ErrShiftAlreadyActive))
}

func TestStartAndEndConfirmedByOwner(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	_, err := f.gate.Start(ctx, kasir1, "kasir1", decimal.NewFromInt(10))
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	shift, err := f.gate.Start(ctx, owner, "kasir1", decimal.NewFromInt(75))
	require.NoError(t, err)
	assert.Equal(t, "owner", shift.ConfirmedBy)

	_, err = f.gate.Start(ctx, owner, "kasir1", decimal.NewFromInt(75))
	assert.True(t, errors.Is(err, domain.ErrShiftAlreadyActive))

	status, err := f.gate.Status(ctx, tenant, "kasir1")
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.False(t, status.Emergency)
	assert.Equal(t, "75", status.OpeningCash.String())

	ended, err := f.gate.End(ctx, owner, "kasir1", decimal.NewFromInt(120))
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStateClosed, ended.State())

	state, err := f.gate.State(ctx, tenant, "kasir1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStateClosed, state)

	_, err = f.gate.End(ctx, owner, "kasir1", decimal.Zero)
	assert.True(t, errors.Is(err, domain.ErrShiftNotActive))
}

func TestRefreshClosesStaleCachedShift(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	_, err := f.gate.Start(ctx, owner, "kasir1", decimal.NewFromInt(20))
	require.NoError(t, err)
	// Ended from another device: the authority knows, this cache does not.
	_, err = f.authority.EndShift(ctx, tenant, "kasir1", decimal.Zero, f.gate.now(), "owner")
	require.NoError(t, err)

	state, err := f.gate.State(ctx, tenant, "kasir1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStateActive, state)

	shift, err := f.gate.Refresh(ctx, tenant, "kasir1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStateClosed, shift.State())

	ok, err := f.gate.CanSellOffline(ctx, kasir1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshKeepsUnsyncedEmergencyShift(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	_, err := f.gate.StartEmergency(ctx, kasir1, cash(15))
	require.NoError(t, err)

	f.signal.Set(true)
	shift, err := f.gate.Refresh(ctx, tenant, "kasir1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStateActiveEmergency, shift.State())

	pending, err := f.gate.PendingEmergency(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.authority.AcceptEmergencyShift(ctx, pending[0])
	require.NoError(t, err)
	require.NoError(t, f.gate.MarkEmergencySynced(ctx, pending[0]))

	pending, err = f.gate.PendingEmergency(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEndPushesEmergencyShiftFirst(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	_, err := f.gate.StartEmergency(ctx, kasir1, cash(30))
	require.NoError(t, err)

	f.signal.Set(true)
	ended, err := f.gate.End(ctx, owner, "kasir1", decimal.NewFromInt(90))
	require.NoError(t, err)
	assert.True(t, ended.Emergency)
	assert.False(t, ended.Active)

	pending, err := f.gate.PendingEmergency(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
