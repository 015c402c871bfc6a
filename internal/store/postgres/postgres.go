package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/ledger"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

var _ store.Authority = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	// The pool connects lazily so an edge node can boot while the backend is
	// down; the connectivity monitor reports when it comes up.
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

// classify turns connection-level failures into transient errors and leaves
// everything else untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return domain.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Transient(err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return domain.Transient(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "40001", pgErr.Code == "40P01":
			return domain.Transient(err)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// withTx runs fn at READ COMMITTED. Row locks taken with FOR UPDATE make
// competing settlements re-read committed stock.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

const productColumns = `id, tenant_id, name, barcode, unit_sale_price, unit_cost, stock_units, sale_type, bulk_unit_size_grams, pending_bulk_grams, updated_at`

func scanProducts(rows pgx.Rows) ([]domain.Product, error) {
	defer rows.Close()
	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Barcode, &p.UnitSalePrice, &p.UnitCost, &p.StockUnits,
			&p.SaleType, &p.BulkUnitSizeGrams, &p.PendingBulkGrams, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, classify(err)
	}
	products, err := scanProducts(rows)
	return products, classify(err)
}

func (s *Store) GetProducts(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, classify(err)
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, classify(err)
	}
	return productMap(products), nil
}

func productMap(products []domain.Product) map[string]domain.Product {
	out := make(map[string]domain.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}

// lockProducts takes row locks in id order so concurrent settlements never deadlock.
func lockProducts(ctx context.Context, tx pgx.Tx, tenantID string, ids []string) (map[string]domain.Product, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	return productMap(products), nil
}

func updateStock(ctx context.Context, tx pgx.Tx, products []domain.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(`UPDATE products SET stock_units = $2, pending_bulk_grams = $3, updated_at = $4 WHERE id = $1`,
			p.ID, p.StockUnits, p.PendingBulkGrams, p.UpdatedAt)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func saleExists(ctx context.Context, q querier, saleID string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, saleID).Scan(&exists)
	return exists, err
}

func insertSale(ctx context.Context, tx pgx.Tx, sale domain.Sale) error {
	var closureID *string
	if sale.ClosureID != "" {
		closureID = &sale.ClosureID
	}
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO sales (id, tenant_id, seller_id, seller_name, total, total_cost, real_profit, payment_type,
			cash_amount, virtual_amount, closed, closure_id, settlement_origin, audit_required, audit_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		sale.ID, sale.TenantID, sale.SellerID, sale.SellerName, sale.Total, sale.TotalCost, sale.RealProfit,
		sale.PaymentType, sale.CashAmount, sale.VirtualAmount, sale.Closed, closureID, sale.SettlementOrigin,
		sale.AuditRequired, sale.AuditReason, sale.CreatedAt)
	for i, item := range sale.Items {
		batch.Queue(`
			INSERT INTO sale_items (sale_id, line_no, product_id, product_name, sale_type, quantity_units, quantity_grams,
				unit_price, unit_cost, subtotal, subtotal_cost, real_profit)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			sale.ID, i+1, item.ProductID, item.ProductName, item.SaleType, item.QuantityUnits, item.QuantityGrams,
			item.UnitPrice, item.UnitCost, item.Subtotal, item.SubtotalCost, item.RealProfit)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) SettleSale(ctx context.Context, draft domain.SaleDraft) (*domain.SettledSale, error) {
	var settled *domain.SettledSale
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		exists, err := saleExists(ctx, tx, draft.ID)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrConflict
		}

		products, err := lockProducts(ctx, tx, draft.TenantID, ledger.ProductIDs(draft.Lines))
		if err != nil {
			return err
		}
		result, err := ledger.BuildSale(draft, products)
		if err != nil {
			return err
		}
		result.Sale.SettlementOrigin = domain.OriginAuthoritative
		result.Sale.Synced = true

		if err := updateStock(ctx, tx, result.Products); err != nil {
			return err
		}
		if err := insertSale(ctx, tx, result.Sale); err != nil {
			return err
		}
		settled = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

const saleColumns = `id, tenant_id, seller_id, seller_name, total, total_cost, real_profit, payment_type, cash_amount,
	virtual_amount, closed, COALESCE(closure_id, ''), settlement_origin, audit_required, audit_reason, created_at`

func scanSales(rows pgx.Rows) ([]domain.Sale, error) {
	defer rows.Close()
	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.TenantID, &sale.SellerID, &sale.SellerName, &sale.Total, &sale.TotalCost,
			&sale.RealProfit, &sale.PaymentType, &sale.CashAmount, &sale.VirtualAmount, &sale.Closed, &sale.ClosureID,
			&sale.SettlementOrigin, &sale.AuditRequired, &sale.AuditReason, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.Synced = true
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func attachItems(ctx context.Context, q querier, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids = append(ids, sale.ID)
		index[sale.ID] = i
	}
	rows, err := q.Query(ctx, `
		SELECT sale_id, product_id, product_name, sale_type, quantity_units, quantity_grams,
			unit_price, unit_cost, subtotal, subtotal_cost, real_profit
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.SaleID, &item.ProductID, &item.ProductName, &item.SaleType, &item.QuantityUnits,
			&item.QuantityGrams, &item.UnitPrice, &item.UnitCost, &item.Subtotal, &item.SubtotalCost, &item.RealProfit); err != nil {
			return err
		}
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return rows.Err()
}

func (s *Store) FindSale(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 AND tenant_id = $2`, saleID, tenantID)
	if err != nil {
		return nil, classify(err)
	}
	sales, err := scanSales(rows)
	if err != nil {
		return nil, classify(err)
	}
	if len(sales) == 0 {
		return nil, domain.ErrNotFound
	}
	if err := attachItems(ctx, s.pool, sales); err != nil {
		return nil, classify(err)
	}
	return &sales[0], nil
}

// AcceptSale locks the sale's product rows before looking for the sale id, so a
// concurrent accept of the same sale waits and then sees the committed row.
func (s *Store) AcceptSale(ctx context.Context, sale domain.Sale) (bool, error) {
	if err := ledger.ValidateSale(sale); err != nil {
		return false, err
	}
	created := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		lines := ledger.LinesOf(sale)
		products, err := lockProducts(ctx, tx, sale.TenantID, ledger.ProductIDs(lines))
		if err != nil {
			return err
		}
		exists, err := saleExists(ctx, tx, sale.ID)
		if err != nil || exists {
			return err
		}
		now := time.Now().UTC()
		updated := make([]domain.Product, 0, len(lines))
		for _, line := range lines {
			p, ok := products[line.ProductID]
			if !ok {
				return domain.Errorf(domain.KindNotFound, "product %s does not exist", line.ProductID)
			}
			if shortfall := ledger.ApplyReconciled(&p, line); shortfall > 0 {
				if err := insertAudit(ctx, tx, domain.AuditEvent{
					ID:         xid.New("audit"),
					TenantID:   sale.TenantID,
					EmployeeID: sale.SellerID,
					Kind:       domain.AuditKindStockShortfall,
					Note:       fmt.Sprintf("sale %s: product %s short by %d units", sale.ID, p.ID, shortfall),
					Source:     domain.AuditSourceAuthority,
					CreatedAt:  now,
				}); err != nil {
					return err
				}
			}
			p.UpdatedAt = now
			products[p.ID] = p
			updated = append(updated, p)
		}
		if err := updateStock(ctx, tx, updated); err != nil {
			return err
		}

		sale.Closed = false
		sale.ClosureID = ""
		if err := insertSale(ctx, tx, sale); err != nil {
			return err
		}
		created = true
		return nil
	})
	// A unique violation aborts the transaction, so the duplicate is mapped
	// only after the rollback.
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	return created, err
}

const shiftColumns = `id, tenant_id, employee_id, started_at, opening_cash, closed_at, closing_cash, active, emergency, audit_required, confirmed_by`

func scanShift(row pgx.Row) (*domain.Shift, error) {
	var shift domain.Shift
	if err := row.Scan(&shift.ID, &shift.TenantID, &shift.EmployeeID, &shift.StartedAt, &shift.OpeningCash, &shift.ClosedAt,
		&shift.ClosingCash, &shift.Active, &shift.Emergency, &shift.AuditRequired, &shift.ConfirmedBy); err != nil {
		return nil, err
	}
	shift.EmergencySynced = shift.Emergency
	return &shift, nil
}

func insertShift(ctx context.Context, q querier, shift domain.Shift) error {
	_, err := q.Exec(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		shift.ID, shift.TenantID, shift.EmployeeID, shift.StartedAt, shift.OpeningCash, shift.ClosedAt, shift.ClosingCash,
		shift.Active, shift.Emergency, shift.AuditRequired, shift.ConfirmedBy)
	return err
}

func (s *Store) StartShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.TenantID) == "" || strings.TrimSpace(shift.EmployeeID) == "" {
		return nil, domain.Errorf(domain.KindInvalidCartItem, "tenant and employee are required")
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

	if err := insertShift(ctx, s.pool, shift); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrShiftAlreadyActive
		}
		return nil, classify(err)
	}
	return &shift, nil
}

func (s *Store) EndShift(ctx context.Context, tenantID string, employeeID string, closingCash decimal.Decimal, closedAt time.Time, confirmedBy string) (*domain.Shift, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift, err := scanShift(s.pool.QueryRow(ctx, `
		UPDATE shifts
		SET active = false, closed_at = $3, closing_cash = $4, confirmed_by = COALESCE(NULLIF($5, ''), confirmed_by)
		WHERE tenant_id = $1 AND employee_id = $2 AND active
		RETURNING `+shiftColumns, tenantID, employeeID, closedAt, closingCash, confirmedBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrShiftNotActive
		}
		return nil, classify(err)
	}
	return shift, nil
}

func (s *Store) GetActiveShift(ctx context.Context, tenantID string, employeeID string) (*domain.Shift, error) {
	shift, err := scanShift(s.pool.QueryRow(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE tenant_id = $1 AND employee_id = $2 AND active`, tenantID, employeeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, classify(err)
	}
	return shift, nil
}

func (s *Store) AcceptEmergencyShift(ctx context.Context, shift domain.Shift) (bool, error) {
	created := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE id = $1)`, shift.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		shift.Emergency = true
		shift.AuditRequired = true
		if shift.Active {
			var other bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM shifts WHERE tenant_id = $1 AND employee_id = $2 AND active FOR UPDATE)`,
				shift.TenantID, shift.EmployeeID).Scan(&other); err != nil {
				return err
			}
			if other {
				closedAt := time.Now().UTC()
				shift.Active = false
				shift.ClosedAt = &closedAt
			}
		}
		if err := insertShift(ctx, tx, shift); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func openingCash(ctx context.Context, q querier, tenantID string, sellers []string) (map[string]decimal.Decimal, error) {
	rows, err := q.Query(ctx, `
		SELECT DISTINCT ON (employee_id) employee_id, opening_cash
		FROM shifts
		WHERE tenant_id = $1 AND employee_id = ANY($2)
		ORDER BY employee_id, active DESC, started_at DESC`, tenantID, sellers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]decimal.Decimal, len(sellers))
	for rows.Next() {
		var employeeID string
		var cash decimal.Decimal
		if err := rows.Scan(&employeeID, &cash); err != nil {
			return nil, err
		}
		out[employeeID] = cash
	}
	return out, rows.Err()
}

func insertClosure(ctx context.Context, tx pgx.Tx, c domain.CashClosure) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cash_closures (id, tenant_id, scope_key, seller_id, date_key, sales_included, products_included,
			total_amount, cash_to_deliver, virtual_to_deliver, opening_cash, total_cost, real_profit, provisional, closed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		c.ID, c.TenantID, c.ScopeKey, c.SellerID, c.DateKey, c.SalesIncluded, c.ProductsIncluded, c.TotalAmount,
		c.CashToDeliver, c.VirtualToDeliver, c.OpeningCash, c.TotalCost, c.RealProfit, c.Provisional, c.ClosedBy, c.CreatedAt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE sales SET closed = true, closure_id = $1 WHERE id = ANY($2)`, c.ID, c.SalesIncluded)
	return err
}

func (s *Store) CloseSales(ctx context.Context, req domain.CloseRequest, newID func() string) ([]domain.CashClosure, error) {
	var closures []domain.CashClosure
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+saleColumns+`
			FROM sales
			WHERE tenant_id = $1 AND closed = false
			ORDER BY created_at, id
			FOR UPDATE`, req.TenantID)
		if err != nil {
			return err
		}
		all, err := scanSales(rows)
		if err != nil {
			return err
		}
		open := ledger.FilterScope(req, all)
		if len(open) == 0 {
			return domain.ErrNothingToClose
		}
		if err := attachItems(ctx, tx, open); err != nil {
			return err
		}

		sellers := make([]string, 0, len(open))
		for _, sale := range open {
			sellers = append(sellers, sale.SellerID)
		}
		opening, err := openingCash(ctx, tx, req.TenantID, sellers)
		if err != nil {
			return err
		}
		closures = ledger.BuildClosures(req, open, opening, newID)
		for i := range closures {
			closures[i].Synced = true
			if err := insertClosure(ctx, tx, closures[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closures, nil
}

func (s *Store) AcceptClosure(ctx context.Context, closure domain.CashClosure) (bool, error) {
	created := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cash_closures WHERE id = $1)`, closure.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}

		rows, err := tx.Query(ctx, `
			SELECT id, closed FROM sales
			WHERE tenant_id = $1 AND id = ANY($2)
			ORDER BY id
			FOR UPDATE`, closure.TenantID, closure.SalesIncluded)
		if err != nil {
			return err
		}
		found := 0
		for rows.Next() {
			var id string
			var closed bool
			if err := rows.Scan(&id, &closed); err != nil {
				rows.Close()
				return err
			}
			if closed {
				rows.Close()
				return domain.Errorf(domain.KindConflict, "sale %s already closed", id)
			}
			found++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if found != len(closure.SalesIncluded) {
			return domain.Errorf(domain.KindConflict, "closure %s references unknown sales", closure.ID)
		}

		if err := insertClosure(ctx, tx, closure); err != nil {
			if isUniqueViolation(err) {
				return nil
			}
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func insertAudit(ctx context.Context, q querier, event domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = xid.New("audit")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO audit_events (id, tenant_id, employee_id, kind, note, source, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.TenantID, event.EmployeeID, event.Kind, event.Note, event.Source, event.CreatedAt)
	return err
}

func (s *Store) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	return classify(insertAudit(ctx, s.pool, event))
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username, password, role, tenant_id, display_name, active, created_at
		FROM users
		ORDER BY username`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.TenantID, &u.DisplayName, &u.Active, &u.CreatedAt); err != nil {
			return nil, classify(err)
		}
		users = append(users, u)
	}
	return users, classify(rows.Err())
}

// UpsertProduct is used by catalog tooling and integration tests.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			barcode = EXCLUDED.barcode,
			unit_sale_price = EXCLUDED.unit_sale_price,
			unit_cost = EXCLUDED.unit_cost,
			stock_units = EXCLUDED.stock_units,
			sale_type = EXCLUDED.sale_type,
			bulk_unit_size_grams = EXCLUDED.bulk_unit_size_grams,
			pending_bulk_grams = EXCLUDED.pending_bulk_grams,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.TenantID, p.Name, p.Barcode, p.UnitSalePrice, p.UnitCost, p.StockUnits, p.SaleType,
		p.BulkUnitSizeGrams, p.PendingBulkGrams, p.UpdatedAt)
	return classify(err)
}
