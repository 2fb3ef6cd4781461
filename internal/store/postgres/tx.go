package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) FindAvailableLots(ctx context.Context, productID string, departmentID string) ([]domain.InventoryLot, error) {
	return findAvailableLots(ctx, t.tx, productID, departmentID)
}

func (t *pgTx) GetLot(ctx context.Context, id string) (*domain.InventoryLot, error) {
	return getLot(ctx, t.tx, id, false)
}

func (t *pgTx) FindOpenLot(ctx context.Context, productID string, departmentID string, expiry time.Time) (*domain.InventoryLot, error) {
	lot, err := scanLot(t.tx.QueryRowContext(ctx, `
		SELECT `+lotColumns("")+`
		FROM inventory_lots
		WHERE product_id = $1 AND department_id = $2 AND expiry_date = $3 AND qty_on_hand > 0
		ORDER BY lot_no
		LIMIT 1
		FOR UPDATE
	`, productID, departmentID, nowDateUTC(expiry)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return lot, err
}

func (t *pgTx) InsertLot(ctx context.Context, lot domain.InventoryLot) (*domain.InventoryLot, error) {
	created, err := scanLot(t.tx.QueryRowContext(ctx, `
		INSERT INTO inventory_lots (id, product_id, department_id, lot_no, expiry_date, qty_on_hand, conversion_rate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+lotColumns(""),
		lot.ID, lot.ProductID, lot.DepartmentID, lot.LotNo, nowDateUTC(lot.ExpiryDate), lot.QtyOnHand, lot.ConversionRate))
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicate
	}
	return created, err
}

func (t *pgTx) IncrementLot(ctx context.Context, lotID string, qty decimal.Decimal) (*domain.InventoryLot, error) {
	lot, err := scanLot(t.tx.QueryRowContext(ctx, `
		UPDATE inventory_lots
		SET qty_on_hand = qty_on_hand + $1, updated_at = now()
		WHERE id = $2
		RETURNING `+lotColumns(""), qty, lotID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return lot, err
}

// DecrementLot is a compare-and-decrement: the row only changes while it
// still holds enough stock.
func (t *pgTx) DecrementLot(ctx context.Context, lotID string, qty decimal.Decimal) (*domain.InventoryLot, error) {
	lot, err := scanLot(t.tx.QueryRowContext(ctx, `
		UPDATE inventory_lots
		SET qty_on_hand = qty_on_hand - $1, updated_at = now()
		WHERE id = $2 AND qty_on_hand >= $1
		RETURNING `+lotColumns(""), qty, lotID))
	if err == nil {
		return lot, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, err := getLot(ctx, t.tx, lotID, false); err != nil {
		return nil, err
	}
	return nil, store.ErrInsufficientStock
}

func (t *pgTx) DeleteLot(ctx context.Context, lotID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM inventory_lots WHERE id = $1`, lotID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) CountLotReferences(ctx context.Context, lotID string, excludeTransactionID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM supplier_transaction_items
		WHERE lot_id = $1 AND transaction_id::text <> $2::text
	`, lotID, excludeTransactionID).Scan(&count)
	return count, err
}

func (t *pgTx) LockDocument(ctx context.Context, id string) (*domain.TransactionDocument, error) {
	return getDocument(ctx, t.tx, id, true)
}

func (t *pgTx) ListItems(ctx context.Context, transactionID string) ([]domain.TransactionItem, error) {
	return listItems(ctx, t.tx, transactionID)
}

func (t *pgTx) NextDocumentSeq(ctx context.Context, docType domain.DocumentType, day time.Time) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO supplier_transaction_doc_seq (doc_type, day, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, day)
		DO UPDATE SET last_seq = supplier_transaction_doc_seq.last_seq + 1
		RETURNING last_seq
	`, string(docType), nowDateUTC(day)).Scan(&seq)
	return seq, err
}

func (t *pgTx) InsertDocument(ctx context.Context, doc domain.TransactionDocument) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO supplier_transactions (
			id, doc_no, type, status, supplier_id, department_id, trans_date, due_date, note,
			total_amount, paid_amount, admin_locked, created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, doc.ID, doc.DocNo, string(doc.Type), string(doc.Status), doc.SupplierID, doc.DepartmentID, nowDateUTC(doc.TransDate), nullDate(doc.DueDate), doc.Note,
		doc.TotalAmount, doc.PaidAmount, doc.AdminLocked, doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (t *pgTx) UpdateDocument(ctx context.Context, doc domain.TransactionDocument) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE supplier_transactions
		SET status = $2, supplier_id = $3, department_id = $4, trans_date = $5, due_date = $6, note = $7,
			total_amount = $8, paid_amount = $9, admin_locked = $10, updated_at = $11
		WHERE id = $1
	`, doc.ID, string(doc.Status), doc.SupplierID, doc.DepartmentID, nowDateUTC(doc.TransDate), nullDate(doc.DueDate), doc.Note,
		doc.TotalAmount, doc.PaidAmount, doc.AdminLocked, doc.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteDocument(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM supplier_transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertItems(ctx context.Context, items []domain.TransactionItem) error {
	for _, item := range items {
		var conversion any
		if item.Conversion != nil {
			payload, err := json.Marshal(item.Conversion)
			if err != nil {
				return fmt.Errorf("encode conversion info: %w", err)
			}
			conversion = string(payload)
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO supplier_transaction_items (
				id, transaction_id, line_no, product_id, qty, unit_price, lot_id, expiry_date, conversion_info, created_lot
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
		`, item.ID, item.TransactionID, item.LineNo, item.ProductID, item.Qty, item.UnitPrice,
			nullIfEmpty(item.LotID), nullDate(item.ExpiryDate), conversion, item.CreatedLot); err != nil {
			return fmt.Errorf("insert item %d: %w", item.LineNo, err)
		}
	}
	return nil
}

func (t *pgTx) DeleteItems(ctx context.Context, transactionID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM supplier_transaction_items WHERE transaction_id = $1`, transactionID)
	return err
}

func (t *pgTx) UpdateItemPrice(ctx context.Context, itemID string, unitPrice decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE supplier_transaction_items SET unit_price = $1 WHERE id = $2`, unitPrice, itemID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

var _ store.Tx = (*pgTx)(nil)
var _ store.Repository = (*Store)(nil)
