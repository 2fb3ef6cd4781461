package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

type Options struct {
	MaxOpenConns int
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 30
	}
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, main_unit, pack_unit, conversion_rate
		FROM products
		WHERE id::text = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.MainUnit, &p.PackUnit, &p.ConversionRate); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM suppliers WHERE id = $1`, id).Scan(&supplier.ID, &supplier.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) GetDepartment(ctx context.Context, id string) (*domain.Department, error) {
	var department domain.Department
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM departments WHERE id = $1`, id).Scan(&department.ID, &department.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &department, nil
}

func (s *Store) FindAvailableLots(ctx context.Context, productID string, departmentID string) ([]domain.InventoryLot, error) {
	return findAvailableLots(ctx, s.db, productID, departmentID)
}

func (s *Store) GetLot(ctx context.Context, id string) (*domain.InventoryLot, error) {
	return getLot(ctx, s.db, id, false)
}

func (s *Store) ListOpenLots(ctx context.Context, filter domain.LotFilter) ([]domain.LotView, error) {
	where := []string{"l.qty_on_hand > 0"}
	args := make([]any, 0, 3)
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("l.product_id = $%d", len(args)))
	}
	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		where = append(where, fmt.Sprintf("l.department_id = $%d", len(args)))
	}
	args = append(args, clampLimit(filter.Limit, 200, 1000))

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+lotColumns("l")+`, p.name, p.main_unit, p.pack_unit
		FROM inventory_lots l
		JOIN products p ON p.id = l.product_id
		WHERE %s
		ORDER BY l.expiry_date, l.lot_no, l.product_id
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.LotView, 0, 64)
	for rows.Next() {
		var view domain.LotView
		dest := append(lotDest(&view.InventoryLot), &view.ProductName, &view.MainUnit, &view.PackUnit)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, view)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*domain.TransactionDocument, error) {
	doc, err := getDocument(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	items, err := listItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	doc.Items = items
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.TransactionDocument, error) {
	where := []string{"true"}
	args := make([]any, 0, 7)
	add := func(clause string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.SupplierID != "" {
		add("supplier_id = $%d", filter.SupplierID)
	}
	if filter.DepartmentID != "" {
		add("department_id = $%d", filter.DepartmentID)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.From != nil {
		add("trans_date >= $%d", nowDateUTC(*filter.From))
	}
	if filter.To != nil {
		add("trans_date <= $%d", nowDateUTC(*filter.To))
	}
	args = append(args, clampLimit(filter.Limit, 50, 500))

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+documentColumns+`
		FROM supplier_transactions
		WHERE %s
		ORDER BY trans_date DESC, doc_no DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.TransactionDocument, 0, 32)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListAuditLogs(ctx context.Context, entityID string, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR entity_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, entityID, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func lotColumns(alias string) string {
	cols := []string{"id", "product_id", "department_id", "lot_no", "expiry_date", "qty_on_hand", "conversion_rate", "created_at", "updated_at"}
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

func lotDest(lot *domain.InventoryLot) []any {
	return []any{&lot.ID, &lot.ProductID, &lot.DepartmentID, &lot.LotNo, &lot.ExpiryDate, &lot.QtyOnHand, &lot.ConversionRate, &lot.CreatedAt, &lot.UpdatedAt}
}

func scanLot(row scanner) (*domain.InventoryLot, error) {
	var lot domain.InventoryLot
	if err := row.Scan(lotDest(&lot)...); err != nil {
		return nil, err
	}
	lot.ExpiryDate = nowDateUTC(lot.ExpiryDate)
	return &lot, nil
}

func findAvailableLots(ctx context.Context, q querier, productID string, departmentID string) ([]domain.InventoryLot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+lotColumns("")+`
		FROM inventory_lots
		WHERE product_id = $1 AND department_id = $2 AND qty_on_hand > 0
		ORDER BY expiry_date, lot_no
	`, productID, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.InventoryLot, 0, 8)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

func getLot(ctx context.Context, q querier, id string, forUpdate bool) (*domain.InventoryLot, error) {
	query := `SELECT ` + lotColumns("") + ` FROM inventory_lots WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	lot, err := scanLot(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return lot, err
}

const documentColumns = `id, doc_no, type, status, supplier_id, department_id, trans_date, due_date, note,
	total_amount, paid_amount, admin_locked, created_by, created_at, updated_at`

func scanDocument(row scanner) (*domain.TransactionDocument, error) {
	var (
		doc     domain.TransactionDocument
		docType string
		status  string
		dueDate sql.NullTime
	)
	if err := row.Scan(&doc.ID, &doc.DocNo, &docType, &status, &doc.SupplierID, &doc.DepartmentID, &doc.TransDate, &dueDate, &doc.Note,
		&doc.TotalAmount, &doc.PaidAmount, &doc.AdminLocked, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Type = domain.DocumentType(docType)
	doc.Status = domain.DocumentStatus(status)
	doc.TransDate = nowDateUTC(doc.TransDate)
	if dueDate.Valid {
		due := nowDateUTC(dueDate.Time)
		doc.DueDate = &due
	}
	return &doc, nil
}

func getDocument(ctx context.Context, q querier, id string, forUpdate bool) (*domain.TransactionDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM supplier_transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return doc, err
}

func listItems(ctx context.Context, q querier, transactionID string) ([]domain.TransactionItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, line_no, product_id, qty, unit_price, lot_id, expiry_date, conversion_info, created_lot
		FROM supplier_transaction_items
		WHERE transaction_id = $1
		ORDER BY line_no, seq
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionItem, 0, 16)
	for rows.Next() {
		var (
			item       domain.TransactionItem
			lotID      sql.NullString
			expiry     sql.NullTime
			conversion []byte
		)
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.LineNo, &item.ProductID, &item.Qty, &item.UnitPrice, &lotID, &expiry, &conversion, &item.CreatedLot); err != nil {
			return nil, err
		}
		item.LotID = lotID.String
		if expiry.Valid {
			exp := nowDateUTC(expiry.Time)
			item.ExpiryDate = &exp
		}
		if len(conversion) > 0 {
			var info domain.ConversionInfo
			if err := json.Unmarshal(conversion, &info); err != nil {
				return nil, fmt.Errorf("decode conversion info of item %s: %w", item.ID, err)
			}
			item.Conversion = &info
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func clampLimit(limit int, fallback int, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
