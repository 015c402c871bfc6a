package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/ledger"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

var _ store.Local = (*Store)(nil)

// Store is the durable local cache. SQLite allows one writer, so the pool is
// capped at a single connection and every settlement or closure is one transaction.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens the cache at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

type productRow struct {
	ID                string          `db:"id"`
	TenantID          string          `db:"tenant_id"`
	Name              string          `db:"name"`
	Barcode           string          `db:"barcode"`
	UnitSalePrice     decimal.Decimal `db:"unit_sale_price"`
	UnitCost          decimal.Decimal `db:"unit_cost"`
	StockUnits        int64           `db:"stock_units"`
	SaleType          string          `db:"sale_type"`
	BulkUnitSizeGrams int64           `db:"bulk_unit_size_grams"`
	PendingBulkGrams  int64           `db:"pending_bulk_grams"`
	UpdatedAt         string          `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:                r.ID,
		TenantID:          r.TenantID,
		Name:              r.Name,
		Barcode:           r.Barcode,
		UnitSalePrice:     r.UnitSalePrice,
		UnitCost:          r.UnitCost,
		StockUnits:        r.StockUnits,
		SaleType:          domain.SaleType(r.SaleType),
		BulkUnitSizeGrams: r.BulkUnitSizeGrams,
		PendingBulkGrams:  r.PendingBulkGrams,
		UpdatedAt:         parseTime(r.UpdatedAt),
	}
}

func productRowFrom(p domain.Product) productRow {
	return productRow{
		ID:                p.ID,
		TenantID:          p.TenantID,
		Name:              p.Name,
		Barcode:           p.Barcode,
		UnitSalePrice:     p.UnitSalePrice,
		UnitCost:          p.UnitCost,
		StockUnits:        p.StockUnits,
		SaleType:          string(p.SaleType),
		BulkUnitSizeGrams: p.BulkUnitSizeGrams,
		PendingBulkGrams:  p.PendingBulkGrams,
		UpdatedAt:         formatTime(p.UpdatedAt),
	}
}

const upsertProduct = `
	INSERT INTO products (id, tenant_id, name, barcode, unit_sale_price, unit_cost, stock_units, sale_type, bulk_unit_size_grams, pending_bulk_grams, updated_at)
	VALUES (:id, :tenant_id, :name, :barcode, :unit_sale_price, :unit_cost, :stock_units, :sale_type, :bulk_unit_size_grams, :pending_bulk_grams, :updated_at)
	ON CONFLICT (id) DO UPDATE SET
		tenant_id = excluded.tenant_id,
		name = excluded.name,
		barcode = excluded.barcode,
		unit_sale_price = excluded.unit_sale_price,
		unit_cost = excluded.unit_cost,
		stock_units = excluded.stock_units,
		sale_type = excluded.sale_type,
		bulk_unit_size_grams = excluded.bulk_unit_size_grams,
		pending_bulk_grams = excluded.pending_bulk_grams,
		updated_at = excluded.updated_at`

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM products WHERE tenant_id = ? ORDER BY id`, tenantID); err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GetProducts(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	return getProducts(ctx, s.db, tenantID, ids)
}

func getProducts(ctx context.Context, q sqlx.QueryerContext, tenantID string, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM products WHERE tenant_id = ? AND id IN (?)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	var rows []productRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.toDomain()
	}
	return out, nil
}

func (s *Store) PutProducts(ctx context.Context, products []domain.Product) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := putProducts(ctx, tx, products); err != nil {
		return err
	}
	return tx.Commit()
}

func putProducts(ctx context.Context, tx *sqlx.Tx, products []domain.Product) error {
	for _, p := range products {
		if _, err := tx.NamedExecContext(ctx, upsertProduct, productRowFrom(p)); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}
	return nil
}

type saleRow struct {
	Seq              int64           `db:"seq"`
	ID               string          `db:"id"`
	TenantID         string          `db:"tenant_id"`
	SellerID         string          `db:"seller_id"`
	SellerName       string          `db:"seller_name"`
	Items            string          `db:"items"`
	Total            decimal.Decimal `db:"total"`
	TotalCost        decimal.Decimal `db:"total_cost"`
	RealProfit       decimal.Decimal `db:"real_profit"`
	PaymentType      string          `db:"payment_type"`
	CashAmount       decimal.Decimal `db:"cash_amount"`
	VirtualAmount    decimal.Decimal `db:"virtual_amount"`
	Closed           bool            `db:"closed"`
	ClosureID        string          `db:"closure_id"`
	SettlementOrigin string          `db:"settlement_origin"`
	AuditRequired    bool            `db:"audit_required"`
	AuditReason      string          `db:"audit_reason"`
	Synced           bool            `db:"synced"`
	CreatedAt        string          `db:"created_at"`
}

func (r saleRow) toDomain() (domain.Sale, error) {
	var items []domain.SaleItem
	if err := json.Unmarshal([]byte(r.Items), &items); err != nil {
		return domain.Sale{}, fmt.Errorf("decode items of sale %s: %w", r.ID, err)
	}
	return domain.Sale{
		ID:               r.ID,
		TenantID:         r.TenantID,
		SellerID:         r.SellerID,
		SellerName:       r.SellerName,
		Items:            items,
		Total:            r.Total,
		TotalCost:        r.TotalCost,
		RealProfit:       r.RealProfit,
		PaymentType:      domain.PaymentType(r.PaymentType),
		CashAmount:       r.CashAmount,
		VirtualAmount:    r.VirtualAmount,
		Closed:           r.Closed,
		ClosureID:        r.ClosureID,
		SettlementOrigin: domain.SettlementOrigin(r.SettlementOrigin),
		AuditRequired:    r.AuditRequired,
		AuditReason:      domain.AuditReason(r.AuditReason),
		Synced:           r.Synced,
		CreatedAt:        parseTime(r.CreatedAt),
	}, nil
}

func saleRowFrom(sale domain.Sale) (saleRow, error) {
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return saleRow{}, err
	}
	return saleRow{
		ID:               sale.ID,
		TenantID:         sale.TenantID,
		SellerID:         sale.SellerID,
		SellerName:       sale.SellerName,
		Items:            string(items),
		Total:            sale.Total,
		TotalCost:        sale.TotalCost,
		RealProfit:       sale.RealProfit,
		PaymentType:      string(sale.PaymentType),
		CashAmount:       sale.CashAmount,
		VirtualAmount:    sale.VirtualAmount,
		Closed:           sale.Closed,
		ClosureID:        sale.ClosureID,
		SettlementOrigin: string(sale.SettlementOrigin),
		AuditRequired:    sale.AuditRequired,
		AuditReason:      string(sale.AuditReason),
		Synced:           sale.Synced,
		CreatedAt:        formatTime(sale.CreatedAt),
	}, nil
}

const insertSale = `
	INSERT INTO sales (id, tenant_id, seller_id, seller_name, items, total, total_cost, real_profit, payment_type,
		cash_amount, virtual_amount, closed, closure_id, settlement_origin, audit_required, audit_reason, synced, created_at)
	VALUES (:id, :tenant_id, :seller_id, :seller_name, :items, :total, :total_cost, :real_profit, :payment_type,
		:cash_amount, :virtual_amount, :closed, :closure_id, :settlement_origin, :audit_required, :audit_reason, :synced, :created_at)
	ON CONFLICT (id) DO NOTHING`

func insertSaleTx(ctx context.Context, tx *sqlx.Tx, sale domain.Sale) (bool, error) {
	row, err := saleRowFrom(sale)
	if err != nil {
		return false, err
	}
	res, err := tx.NamedExecContext(ctx, insertSale, row)
	if err != nil {
		return false, fmt.Errorf("insert sale %s: %w", sale.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) SettleLocal(ctx context.Context, draft domain.SaleDraft, reason domain.AuditReason) (*domain.Sale, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, domain.Transient(err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(1) FROM sales WHERE id = ?`, draft.ID); err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, domain.ErrConflict
	}

	products, err := getProducts(ctx, tx, draft.TenantID, ledger.ProductIDs(draft.Lines))
	if err != nil {
		return nil, err
	}
	settled, err := ledger.BuildSale(draft, products)
	if err != nil {
		return nil, err
	}

	sale := settled.Sale
	sale.SettlementOrigin = domain.OriginLocalFallback
	sale.AuditRequired = true
	sale.AuditReason = reason
	sale.Synced = false

	if err := putProducts(ctx, tx, settled.Products); err != nil {
		return nil, err
	}
	if _, err := insertSaleTx(ctx, tx, sale); err != nil {
		return nil, err
	}
	event := domain.AuditEvent{
		ID:         xid.New("audit"),
		TenantID:   sale.TenantID,
		EmployeeID: sale.SellerID,
		Kind:       domain.AuditKindSaleLocalFallback,
		Note:       fmt.Sprintf("sale %s settled locally (%s), total %s", sale.ID, reason, sale.Total.StringFixed(2)),
		Source:     domain.AuditSourceLocal,
		CreatedAt:  sale.CreatedAt,
	}
	if err := insertAudit(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) RecordSale(ctx context.Context, sale domain.Sale, products []domain.Product) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := putProducts(ctx, tx, products); err != nil {
		return err
	}
	if _, err := insertSaleTx(ctx, tx, sale); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FindSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sales WHERE id = ? AND tenant_id = ?`, saleID, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	sale, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListUnsyncedSales(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]store.LocalSale, error) {
	if limit < 1 {
		limit = 50
	}
	var rows []saleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM sales
		WHERE tenant_id = ? AND synced = 0 AND seq > ?
		ORDER BY seq
		LIMIT ?`, tenantID, afterSeq, limit); err != nil {
		return nil, err
	}
	out := make([]store.LocalSale, 0, len(rows))
	for _, r := range rows {
		sale, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, store.LocalSale{Seq: r.Seq, Sale: sale})
	}
	return out, nil
}

func (s *Store) MarkSalesSynced(ctx context.Context, saleIDs []string) error {
	if len(saleIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE sales SET synced = 1 WHERE id IN (?)`, saleIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) CloseLocal(ctx context.Context, req domain.CloseRequest, newID func() string) ([]domain.CashClosure, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var rows []saleRow
	if err := tx.SelectContext(ctx, &rows, `SELECT * FROM sales WHERE tenant_id = ? AND closed = 0 ORDER BY seq`, req.TenantID); err != nil {
		return nil, err
	}
	all := make([]domain.Sale, 0, len(rows))
	for _, r := range rows {
		sale, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		all = append(all, sale)
	}
	open := ledger.FilterScope(req, all)
	if len(open) == 0 {
		return nil, domain.ErrNothingToClose
	}

	opening := make(map[string]decimal.Decimal)
	for _, sale := range open {
		if _, seen := opening[sale.SellerID]; seen {
			continue
		}
		shift, err := getShift(ctx, tx, req.TenantID, sale.SellerID)
		if err != nil {
			return nil, err
		}
		if shift != nil {
			opening[sale.SellerID] = shift.OpeningCash
		}
	}

	closures := ledger.BuildClosures(req, open, opening, newID)
	for i := range closures {
		closures[i].Provisional = true
		closures[i].Synced = false
		if err := storeClosure(ctx, tx, closures[i]); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return closures, nil
}

func storeClosure(ctx context.Context, tx *sqlx.Tx, c domain.CashClosure) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO closures (id, tenant_id, payload, provisional, synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, synced = excluded.synced`,
		c.ID, c.TenantID, string(payload), c.Provisional, c.Synced, formatTime(c.CreatedAt)); err != nil {
		return fmt.Errorf("store closure %s: %w", c.ID, err)
	}
	if len(c.SalesIncluded) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE sales SET closed = 1, closure_id = ? WHERE id IN (?)`, c.ID, c.SalesIncluded)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) MarkClosed(ctx context.Context, closures []domain.CashClosure) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range closures {
		c.Synced = true
		if err := storeClosure(ctx, tx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListUnsyncedClosures(ctx context.Context, tenantID string) ([]domain.CashClosure, error) {
	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads, `SELECT payload FROM closures WHERE tenant_id = ? AND synced = 0 ORDER BY seq`, tenantID); err != nil {
		return nil, err
	}
	out := make([]domain.CashClosure, 0, len(payloads))
	for _, raw := range payloads {
		var c domain.CashClosure
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode closure: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) MarkClosureSynced(ctx context.Context, closureID string) error {
	var raw string
	if err := s.db.GetContext(ctx, &raw, `SELECT payload FROM closures WHERE id = ?`, closureID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	var c domain.CashClosure
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return err
	}
	c.Synced = true
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE closures SET synced = 1, payload = ? WHERE id = ?`, string(payload), closureID)
	return err
}

type auditRow struct {
	Seq        int64  `db:"seq"`
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	EmployeeID string `db:"employee_id"`
	Kind       string `db:"kind"`
	Note       string `db:"note"`
	Source     string `db:"source"`
	Synced     bool   `db:"synced"`
	CreatedAt  string `db:"created_at"`
}

func insertAudit(ctx context.Context, tx sqlx.ExecerContext, event domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = xid.New("audit")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, tenant_id, employee_id, kind, note, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.TenantID, event.EmployeeID, event.Kind, event.Note, event.Source, formatTime(event.CreatedAt))
	return err
}

func (s *Store) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	return insertAudit(ctx, s.db, event)
}

func (s *Store) ListUnsyncedAudit(ctx context.Context, tenantID string, limit int) ([]domain.AuditEvent, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM audit_events WHERE tenant_id = ? AND synced = 0 ORDER BY seq LIMIT ?`, tenantID, limit); err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.AuditEvent{
			ID:         r.ID,
			TenantID:   r.TenantID,
			EmployeeID: r.EmployeeID,
			Kind:       r.Kind,
			Note:       r.Note,
			Source:     r.Source,
			CreatedAt:  parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *Store) MarkAuditSynced(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE audit_events SET synced = 1 WHERE id IN (?)`, eventIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func getShift(ctx context.Context, q sqlx.QueryerContext, tenantID string, employeeID string) (*domain.Shift, error) {
	var raw string
	err := sqlx.GetContext(ctx, q, &raw, `SELECT payload FROM shifts WHERE tenant_id = ? AND employee_id = ?`, tenantID, employeeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var shift domain.Shift
	if err := json.Unmarshal([]byte(raw), &shift); err != nil {
		return nil, fmt.Errorf("decode shift: %w", err)
	}
	return &shift, nil
}

func (s *Store) GetShift(ctx context.Context, tenantID string, employeeID string) (*domain.Shift, error) {
	return getShift(ctx, s.db, tenantID, employeeID)
}

func (s *Store) PutShift(ctx context.Context, shift domain.Shift) error {
	payload, err := json.Marshal(shift)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shifts (tenant_id, employee_id, payload, emergency, emergency_synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, employee_id) DO UPDATE SET
			payload = excluded.payload,
			emergency = excluded.emergency,
			emergency_synced = excluded.emergency_synced`,
		shift.TenantID, shift.EmployeeID, string(payload), shift.Emergency, shift.EmergencySynced)
	return err
}

func (s *Store) ListUnsyncedEmergency(ctx context.Context, tenantID string) ([]domain.Shift, error) {
	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads, `
		SELECT payload FROM shifts
		WHERE tenant_id = ? AND emergency = 1 AND emergency_synced = 0
		ORDER BY employee_id`, tenantID); err != nil {
		return nil, err
	}
	out := make([]domain.Shift, 0, len(payloads))
	for _, raw := range payloads {
		var shift domain.Shift
		if err := json.Unmarshal([]byte(raw), &shift); err != nil {
			return nil, fmt.Errorf("decode shift: %w", err)
		}
		out = append(out, shift)
	}
	return out, nil
}

type credentialRow struct {
	Username    string `db:"username"`
	Password    string `db:"password"`
	Role        string `db:"role"`
	TenantID    string `db:"tenant_id"`
	DisplayName string `db:"display_name"`
	Active      bool   `db:"active"`
	CreatedAt   string `db:"created_at"`
}

func (s *Store) PutCredentials(ctx context.Context, users []domain.UserAccount) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range users {
		row := credentialRow{
			Username:    strings.ToLower(strings.TrimSpace(u.Username)),
			Password:    u.Password,
			Role:        string(u.Role),
			TenantID:    u.TenantID,
			DisplayName: u.DisplayName,
			Active:      u.Active,
			CreatedAt:   formatTime(u.CreatedAt),
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO credentials (username, password, role, tenant_id, display_name, active, created_at)
			VALUES (:username, :password, :role, :tenant_id, :display_name, :active, :created_at)
			ON CONFLICT (username) DO UPDATE SET
				password = excluded.password,
				role = excluded.role,
				tenant_id = excluded.tenant_id,
				display_name = excluded.display_name,
				active = excluded.active`, row); err != nil {
			return fmt.Errorf("cache credential %s: %w", row.Username, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetCredential(ctx context.Context, username string) (*domain.UserAccount, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM credentials WHERE username = ?`, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.UserAccount{
		Username:    row.Username,
		Password:    row.Password,
		Role:        domain.Role(row.Role),
		TenantID:    row.TenantID,
		DisplayName: row.DisplayName,
		Active:      row.Active,
		CreatedAt:   parseTime(row.CreatedAt),
	}, nil
}
