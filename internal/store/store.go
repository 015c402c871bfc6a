package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/domain"
)

// Authority is the authoritative backend. Every method that mutates stock or
// closes sales does so in one atomic unit.
type Authority interface {
	Ping(ctx context.Context) error
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	GetProducts(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error)
	// SettleSale returns a Conflict error when draft.ID already exists.
	SettleSale(ctx context.Context, draft domain.SaleDraft) (*domain.SettledSale, error)
	FindSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error)
	// AcceptSale records a sale settled offline. It is idempotent: a sale id that
	// already exists reports created=false and changes nothing.
	AcceptSale(ctx context.Context, sale domain.Sale) (created bool, err error)
	StartShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	EndShift(ctx context.Context, tenantID string, employeeID string, closingCash decimal.Decimal, closedAt time.Time, confirmedBy string) (*domain.Shift, error)
	// GetActiveShift returns domain.ErrNotFound when the employee has no active shift.
	GetActiveShift(ctx context.Context, tenantID string, employeeID string) (*domain.Shift, error)
	AcceptEmergencyShift(ctx context.Context, shift domain.Shift) (created bool, err error)
	// CloseSales snapshots the open sales for req, builds one closure per seller
	// and marks the sales closed in the same transaction.
	CloseSales(ctx context.Context, req domain.CloseRequest, newID func() string) ([]domain.CashClosure, error)
	AcceptClosure(ctx context.Context, closure domain.CashClosure) (created bool, err error)
	AppendAudit(ctx context.Context, event domain.AuditEvent) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// LocalSale is a sale in the local cache with its insertion sequence.
type LocalSale struct {
	Seq  int64
	Sale domain.Sale
}

// Local is the durable cache on the edge node.
type Local interface {
	cache.ShiftCache

	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	GetProducts(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error)
	PutProducts(ctx context.Context, products []domain.Product) error

	// SettleLocal runs the ledger against the local catalog copy and records the
	// sale as a local fallback with its audit event, atomically.
	SettleLocal(ctx context.Context, draft domain.SaleDraft, reason domain.AuditReason) (*domain.Sale, error)
	// RecordSale stores a sale that was settled elsewhere and refreshes the
	// given product snapshots. An existing sale id is left untouched.
	RecordSale(ctx context.Context, sale domain.Sale, products []domain.Product) error
	FindSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error)
	ListUnsyncedSales(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]LocalSale, error)
	MarkSalesSynced(ctx context.Context, saleIDs []string) error

	CloseLocal(ctx context.Context, req domain.CloseRequest, newID func() string) ([]domain.CashClosure, error)
	MarkClosed(ctx context.Context, closures []domain.CashClosure) error
	ListUnsyncedClosures(ctx context.Context, tenantID string) ([]domain.CashClosure, error)
	MarkClosureSynced(ctx context.Context, closureID string) error

	AppendAudit(ctx context.Context, event domain.AuditEvent) error
	ListUnsyncedAudit(ctx context.Context, tenantID string, limit int) ([]domain.AuditEvent, error)
	MarkAuditSynced(ctx context.Context, eventIDs []string) error

	PutCredentials(ctx context.Context, users []domain.UserAccount) error
	GetCredential(ctx context.Context, username string) (*domain.UserAccount, error)
}
