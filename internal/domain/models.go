package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleOwner    Role = "owner"
	RoleEmployee Role = "employee"
)

// Actor is the identity a request runs as. It is resolved once per request and
// passed explicitly into every engine call.
type Actor struct {
	UID         string
	TenantID    string
	Role        Role
	DisplayName string
	// Authenticated is true only when the session was verified by the authoritative backend.
	Authenticated bool
}

func (a Actor) IsOwner() bool {
	return a.Role == RoleOwner
}

type SaleType string

const (
	SaleTypeUnit SaleType = "unit"
	SaleTypeBulk SaleType = "bulk"
)

type Product struct {
	ID                string          `json:"id" yaml:"id"`
	TenantID          string          `json:"tenant_id" yaml:"tenant_id"`
	Name              string          `json:"name" yaml:"name"`
	Barcode           string          `json:"barcode" yaml:"barcode"`
	UnitSalePrice     decimal.Decimal `json:"unit_sale_price" yaml:"-"`
	UnitCost          decimal.Decimal `json:"unit_cost" yaml:"-"`
	StockUnits        int64           `json:"stock_units" yaml:"stock_units"`
	SaleType          SaleType        `json:"sale_type" yaml:"sale_type"`
	BulkUnitSizeGrams int64           `json:"bulk_unit_size_grams" yaml:"bulk_unit_size_grams"`
	PendingBulkGrams  int64           `json:"pending_bulk_grams" yaml:"pending_bulk_grams"`
	UpdatedAt         time.Time       `json:"updated_at" yaml:"-"`
}

type CartItem struct {
	ProductID     string   `json:"product_id"`
	Barcode       string   `json:"barcode,omitempty"`
	SaleType      SaleType `json:"sale_type"`
	QuantityUnits int64    `json:"quantity_units,omitempty"`
	QuantityGrams int64    `json:"quantity_grams,omitempty"`
}

type Cart struct {
	// SaleID is optional; retries must reuse the id returned by the first attempt.
	SaleID string     `json:"sale_id,omitempty"`
	Items  []CartItem `json:"items"`
	// EmergencyOpeningCash starts an emergency shift for an employee without one.
	EmergencyOpeningCash *decimal.Decimal `json:"emergency_opening_cash,omitempty"`
}

// SaleLine is a cart line after grouping: one per product.
type SaleLine struct {
	ProductID     string
	SaleType      SaleType
	QuantityUnits int64
	QuantityGrams int64
}

type PaymentType string

const (
	PaymentCash    PaymentType = "cash"
	PaymentVirtual PaymentType = "virtual"
	PaymentMixed   PaymentType = "mixed"
)

type PaymentRequest struct {
	Type       PaymentType      `json:"type"`
	CashAmount *decimal.Decimal `json:"cash_amount,omitempty"`
}

type PaymentSplit struct {
	Type    PaymentType
	Cash    decimal.Decimal
	Virtual decimal.Decimal
}

type SettlementOrigin string

const (
	OriginAuthoritative SettlementOrigin = "authoritative"
	OriginLocalFallback SettlementOrigin = "local-fallback"
)

// AuditReason names why a sale was not settled authoritatively.
type AuditReason string

const (
	AuditReasonNone                 AuditReason = ""
	AuditReasonOffline              AuditReason = "offline"
	AuditReasonNoSession            AuditReason = "no-session"
	AuditReasonAuthorityUnreachable AuditReason = "authority-unreachable"
	AuditReasonShiftEmergency       AuditReason = "shift-emergency"
)

// SaleDraft is what the settlement engine hands to a store; prices and totals
// are computed inside the store's atomic unit.
type SaleDraft struct {
	ID         string
	TenantID   string
	SellerID   string
	SellerName string
	Lines      []SaleLine
	Payment    PaymentRequest
	CreatedAt  time.Time
}

type Sale struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	SellerID         string           `json:"seller_id"`
	SellerName       string           `json:"seller_name"`
	Items            []SaleItem       `json:"items"`
	Total            decimal.Decimal  `json:"total"`
	TotalCost        decimal.Decimal  `json:"total_cost"`
	RealProfit       decimal.Decimal  `json:"real_profit"`
	PaymentType      PaymentType      `json:"payment_type"`
	CashAmount       decimal.Decimal  `json:"cash_amount"`
	VirtualAmount    decimal.Decimal  `json:"virtual_amount"`
	Closed           bool             `json:"closed"`
	ClosureID        string           `json:"closure_id,omitempty"`
	SettlementOrigin SettlementOrigin `json:"settlement_origin"`
	AuditRequired    bool             `json:"audit_required"`
	AuditReason      AuditReason      `json:"audit_reason,omitempty"`
	Synced           bool             `json:"synced"`
	CreatedAt        time.Time        `json:"created_at"`
}

func (s Sale) ItemsCount() int64 {
	var count int64
	for _, item := range s.Items {
		if item.SaleType == SaleTypeBulk {
			count++
			continue
		}
		count += item.QuantityUnits
	}
	return count
}

type SaleItem struct {
	SaleID        string          `json:"sale_id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	SaleType      SaleType        `json:"sale_type"`
	QuantityUnits int64           `json:"quantity_units,omitempty"`
	QuantityGrams int64           `json:"quantity_grams,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	SubtotalCost  decimal.Decimal `json:"subtotal_cost"`
	RealProfit    decimal.Decimal `json:"real_profit"`
}

// SettledSale is a committed sale together with the product rows it left behind.
type SettledSale struct {
	Sale     Sale
	Products []Product
}

type SettlementResult struct {
	SaleID        string           `json:"sale_id"`
	Total         decimal.Decimal  `json:"total"`
	CashAmount    decimal.Decimal  `json:"cash_amount"`
	VirtualAmount decimal.Decimal  `json:"virtual_amount"`
	Profit        decimal.Decimal  `json:"profit"`
	ItemsCount    int64            `json:"items_count"`
	Origin        SettlementOrigin `json:"origin"`
	AuditRequired bool             `json:"audit_required"`
	AuditReason   AuditReason      `json:"audit_reason,omitempty"`
	Duplicate     bool             `json:"duplicate"`
}

type ShiftState string

const (
	ShiftStateNone            ShiftState = "no_shift"
	ShiftStateActive          ShiftState = "active"
	ShiftStateActiveEmergency ShiftState = "active_emergency"
	ShiftStateClosed          ShiftState = "closed"
)

type Shift struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	EmployeeID      string           `json:"employee_id"`
	StartedAt       time.Time        `json:"started_at"`
	OpeningCash     decimal.Decimal  `json:"opening_cash"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
	ClosingCash     *decimal.Decimal `json:"closing_cash,omitempty"`
	Active          bool             `json:"active"`
	Emergency       bool             `json:"emergency"`
	AuditRequired   bool             `json:"audit_required"`
	EmergencySynced bool             `json:"emergency_synced"`
	ConfirmedBy     string           `json:"confirmed_by,omitempty"`
}

func (s *Shift) State() ShiftState {
	switch {
	case s == nil:
		return ShiftStateNone
	case s.Active && s.Emergency:
		return ShiftStateActiveEmergency
	case s.Active:
		return ShiftStateActive
	default:
		return ShiftStateClosed
	}
}

type ShiftStatus struct {
	EmployeeID  string          `json:"employee_id"`
	State       ShiftState      `json:"state"`
	Active      bool            `json:"active"`
	Emergency   bool            `json:"emergency"`
	OpeningCash decimal.Decimal `json:"opening_cash"`
}

type CloseScope string

const (
	ScopeAll    CloseScope = "all"
	ScopeMine   CloseScope = "mine"
	ScopeOthers CloseScope = "others"
)

type CloseRequest struct {
	TenantID string
	Scope    CloseScope
	ActorID  string
	// SellerID restricts the snapshot to one seller (scope mine).
	SellerID string
	ClosedAt time.Time
}

type CashClosure struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	ScopeKey         string           `json:"scope_key"`
	SellerID         string           `json:"seller_id"`
	DateKey          string           `json:"date_key"`
	SalesIncluded    []string         `json:"sales_included"`
	ProductsIncluded []ClosureProduct `json:"products_included"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	CashToDeliver    decimal.Decimal  `json:"cash_to_deliver"`
	VirtualToDeliver decimal.Decimal  `json:"virtual_to_deliver"`
	OpeningCash      decimal.Decimal  `json:"opening_cash"`
	TotalCost        decimal.Decimal  `json:"total_cost"`
	RealProfit       decimal.Decimal  `json:"real_profit"`
	Provisional      bool             `json:"provisional"`
	Synced           bool             `json:"synced"`
	ClosedBy         string           `json:"closed_by"`
	CreatedAt        time.Time        `json:"created_at"`
}

type ClosureProduct struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	SaleType      SaleType        `json:"sale_type"`
	QuantityUnits int64           `json:"quantity_units"`
	QuantityGrams int64           `json:"quantity_grams"`
	Total         decimal.Decimal `json:"total"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

type CloseResult struct {
	Closures    []CashClosure `json:"closures"`
	Provisional bool          `json:"provisional"`
}

type SyncRejection struct {
	SaleID string `json:"sale_id"`
	Reason string `json:"reason"`
}

type SyncResult struct {
	SyncedCount    int             `json:"synced_count"`
	PendingIDs     []string        `json:"pending_ids"`
	Rejected       []SyncRejection `json:"rejected,omitempty"`
	ShiftsSynced   int             `json:"shifts_synced"`
	ClosuresSynced int             `json:"closures_synced"`
	AuditSynced    int             `json:"audit_synced"`
	Deferred       bool            `json:"deferred"`
	DeferReason    string          `json:"defer_reason,omitempty"`
}

const (
	AuditKindSaleLocalFallback = "sale_local_fallback"
	AuditKindShiftEmergency    = "shift_emergency_start"
	AuditKindShiftStart        = "shift_start"
	AuditKindShiftEnd          = "shift_end"
	AuditKindShiftAutoClosed   = "shift_auto_closed"
	AuditKindClosure           = "cash_closure"
	AuditKindStockShortfall    = "sync_stock_shortfall"
)

const (
	AuditSourceAuthority = "authority"
	AuditSourceLocal     = "local"
)

type AuditEvent struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	EmployeeID string    `json:"employee_id"`
	Kind       string    `json:"kind"`
	Note       string    `json:"note"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	TenantID    string `json:"tenant_id"`
	Verified    bool   `json:"verified"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username    string
	Password    string
	Role        Role
	TenantID    string
	DisplayName string
	Active      bool
	CreatedAt   time.Time
}
