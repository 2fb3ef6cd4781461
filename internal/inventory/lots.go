package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/store"
	"gudang/backend/internal/xid"
)

// Lots applies stock movements to inventory lots through a unit of work.
type Lots struct {
	tx store.LotWriter
}

func NewLots(tx store.LotWriter) *Lots {
	return &Lots{tx: tx}
}

type Receipt struct {
	ProductID      string
	DepartmentID   string
	ExpiryDate     time.Time
	ConversionRate decimal.Decimal
	Qty            decimal.Decimal
	// ForceNew skips the open-lot lookup.
	ForceNew bool
}

// CreateOrAugment adds qty to the open lot with the same product, department
// and expiry date, or opens a new lot. The existing lot keeps its conversion
// rate.
func (l *Lots) CreateOrAugment(ctx context.Context, in Receipt) (*domain.InventoryLot, bool, error) {
	if !in.Qty.IsPositive() {
		return nil, false, domain.Validation(0, "qty", "quantity must be positive")
	}
	expiry := DateOnly(in.ExpiryDate)

	if !in.ForceNew {
		lot, err := l.tx.FindOpenLot(ctx, in.ProductID, in.DepartmentID, expiry)
		switch {
		case err == nil:
			updated, err := l.tx.IncrementLot(ctx, lot.ID, in.Qty)
			if err != nil {
				return nil, false, fmt.Errorf("augment lot %s: %w", lot.ID, err)
			}
			return updated, false, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, err
		}
	}

	rate := in.ConversionRate
	if !rate.IsPositive() {
		rate = decimal.NewFromInt(1)
	}
	for attempt := 0; attempt < 3; attempt++ {
		lot, err := l.tx.InsertLot(ctx, domain.InventoryLot{
			ID:             xid.New(),
			ProductID:      in.ProductID,
			DepartmentID:   in.DepartmentID,
			LotNo:          xid.LotNo(expiry),
			ExpiryDate:     expiry,
			QtyOnHand:      in.Qty,
			ConversionRate: rate,
		})
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("insert lot: %w", err)
		}
		return lot, true, nil
	}
	return nil, false, fmt.Errorf("insert lot: %w", store.ErrDuplicate)
}

// Deplete removes qty from a lot. It never drives a lot below zero.
func (l *Lots) Deplete(ctx context.Context, lotID string, qty decimal.Decimal) (*domain.InventoryLot, error) {
	if !qty.IsPositive() {
		return nil, domain.Validation(0, "qty", "quantity must be positive")
	}
	lot, err := l.tx.DecrementLot(ctx, lotID, qty)
	if err == nil {
		return lot, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("lot", lotID)
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		return nil, err
	}
	current, getErr := l.tx.GetLot(ctx, lotID)
	if getErr != nil {
		return nil, getErr
	}
	shortfall := qty.Sub(current.QtyOnHand)
	return nil, &domain.Error{
		Kind:      domain.KindInsufficientStock,
		Shortfall: shortfall,
		Message:   fmt.Sprintf("lot %s holds %s, short by %s", current.LotNo, current.QtyOnHand.String(), shortfall.String()),
		Err:       store.ErrInsufficientStock,
	}
}

func (l *Lots) Replenish(ctx context.Context, lotID string, qty decimal.Decimal) (*domain.InventoryLot, error) {
	if !qty.IsPositive() {
		return nil, domain.Validation(0, "qty", "quantity must be positive")
	}
	lot, err := l.tx.IncrementLot(ctx, lotID, qty)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("lot", lotID)
	}
	return lot, err
}

// Reopen adds the receipt to the first candidate lot with the same product,
// department and expiry, even when that lot is empty. ok is false when no
// candidate matches.
func (l *Lots) Reopen(ctx context.Context, candidates []string, in Receipt) (*domain.InventoryLot, bool, error) {
	expiry := DateOnly(in.ExpiryDate)
	for _, id := range candidates {
		lot, err := l.tx.GetLot(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if lot.ProductID != in.ProductID || lot.DepartmentID != in.DepartmentID || !DateOnly(lot.ExpiryDate).Equal(expiry) {
			continue
		}
		updated, err := l.Replenish(ctx, id, in.Qty)
		if err != nil {
			return nil, false, err
		}
		return updated, true, nil
	}
	return nil, false, nil
}

// RemoveIfUnused deletes an empty lot that no other transaction points at.
func (l *Lots) RemoveIfUnused(ctx context.Context, lotID string, excludeTransactionID string) (bool, error) {
	lot, err := l.tx.GetLot(ctx, lotID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !lot.QtyOnHand.IsZero() {
		return false, nil
	}
	refs, err := l.tx.CountLotReferences(ctx, lotID, excludeTransactionID)
	if err != nil {
		return false, err
	}
	if refs > 0 {
		return false, nil
	}
	if err := l.tx.DeleteLot(ctx, lotID); err != nil {
		return false, err
	}
	return true, nil
}

func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
