package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/inventory"
	"gudang/backend/internal/store"
	"gudang/backend/internal/xid"
)

const MoneyScale int32 = 2

// Ledger turns validated lines into lot movements and transaction items, and
// undoes them again. It never commits; callers own the unit of work.
type Ledger struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{logger: logger}
}

type Effect struct {
	Items  []domain.TransactionItem
	Deltas []domain.LotDelta
}

// Apply moves stock for every line of doc. Out lines without a lot are split
// across lots in expiry order, one item per lot touched.
func (l *Ledger) Apply(ctx context.Context, tx store.Tx, doc domain.TransactionDocument, lines []Line, products map[string]domain.Product) (Effect, error) {
	return l.apply(ctx, tx, doc, lines, products, nil)
}

// Reapply is Apply after Unwind: in lines land on the lots the document opened
// earlier when the key still matches, so those lots keep their id and number.
func (l *Ledger) Reapply(ctx context.Context, tx store.Tx, doc domain.TransactionDocument, lines []Line, products map[string]domain.Product, owned []string) (Effect, error) {
	return l.apply(ctx, tx, doc, lines, products, owned)
}

func (l *Ledger) apply(ctx context.Context, tx store.Tx, doc domain.TransactionDocument, lines []Line, products map[string]domain.Product, owned []string) (Effect, error) {
	if err := checkExplicitLots(ctx, tx, doc, lines); err != nil {
		return Effect{}, err
	}

	lots := inventory.NewLots(tx)
	var effect Effect
	for _, line := range lines {
		var err error
		switch doc.Type {
		case domain.DocumentIn:
			err = l.applyIn(ctx, lots, doc, line, products[line.ProductID], owned, &effect)
		case domain.DocumentOut:
			err = l.applyOut(ctx, tx, lots, doc, line, &effect)
		default:
			err = domain.Validation(0, "type", "type must be in or out")
		}
		if err != nil {
			return Effect{}, err
		}
	}
	return effect, nil
}

func (l *Ledger) applyIn(ctx context.Context, lots *inventory.Lots, doc domain.TransactionDocument, line Line, product domain.Product, owned []string, effect *Effect) error {
	var (
		lot     *domain.InventoryLot
		created bool
		err     error
	)
	rate := product.ConversionRate
	if line.Conversion != nil {
		rate = line.Conversion.ConversionRate
	}
	receipt := inventory.Receipt{
		ProductID:      line.ProductID,
		DepartmentID:   doc.DepartmentID,
		ExpiryDate:     *line.ExpiryDate,
		ConversionRate: rate,
		Qty:            line.Qty,
		ForceNew:       line.NewLot,
	}
	switch {
	case line.LotID != "":
		lot, err = lots.Replenish(ctx, line.LotID, line.Qty)
		created = slices.Contains(owned, line.LotID)
	case !line.NewLot && len(owned) > 0:
		lot, created, err = lots.Reopen(ctx, owned, receipt)
	}
	if err == nil && lot == nil {
		lot, created, err = lots.CreateOrAugment(ctx, receipt)
	}
	if err != nil {
		return atItem(err, line.Index)
	}

	expiry := lot.ExpiryDate
	effect.Items = append(effect.Items, domain.TransactionItem{
		ID:            xid.New(),
		TransactionID: doc.ID,
		LineNo:        line.Index,
		ProductID:     line.ProductID,
		Qty:           line.Qty,
		UnitPrice:     line.UnitPrice,
		LotID:         lot.ID,
		ExpiryDate:    &expiry,
		Conversion:    line.Conversion,
		CreatedLot:    created,
	})
	effect.Deltas = append(effect.Deltas, domain.LotDelta{
		LotID:        lot.ID,
		ProductID:    line.ProductID,
		DepartmentID: doc.DepartmentID,
		Delta:        line.Qty,
	})
	return nil
}

func (l *Ledger) applyOut(ctx context.Context, tx store.Tx, lots *inventory.Lots, doc domain.TransactionDocument, line Line, effect *Effect) error {
	var plan []domain.AllocationLine
	if line.LotID != "" {
		plan = []domain.AllocationLine{{LotID: line.LotID, UseQty: line.Qty}}
	} else {
		allocated, err := inventory.NewAllocator(tx).Allocate(ctx, line.ProductID, doc.DepartmentID, line.Qty)
		if err != nil {
			return atItem(err, line.Index)
		}
		plan = allocated
	}

	for _, step := range plan {
		lot, err := lots.Deplete(ctx, step.LotID, step.UseQty)
		if err != nil {
			if de, ok := domain.AsError(err); ok && de.Kind == domain.KindInsufficientStock {
				return &domain.Error{
					Kind:      domain.KindInsufficientStock,
					Item:      line.Index,
					Shortfall: de.Shortfall,
					Message:   fmt.Sprintf("insufficient stock for product %s, short by %s", line.ProductID, de.Shortfall.String()),
					Err:       de.Err,
				}
			}
			return atItem(err, line.Index)
		}
		expiry := lot.ExpiryDate
		effect.Items = append(effect.Items, domain.TransactionItem{
			ID:            xid.New(),
			TransactionID: doc.ID,
			LineNo:        line.Index,
			ProductID:     line.ProductID,
			Qty:           step.UseQty,
			UnitPrice:     line.UnitPrice,
			LotID:         lot.ID,
			ExpiryDate:    &expiry,
			Conversion:    line.Conversion,
		})
		effect.Deltas = append(effect.Deltas, domain.LotDelta{
			LotID:        lot.ID,
			ProductID:    line.ProductID,
			DepartmentID: doc.DepartmentID,
			Delta:        step.UseQty.Neg(),
		})
	}
	return nil
}

// Reversal is the outcome of Unwind: the inverse lot movements and the lots
// the unwound items had opened.
type Reversal struct {
	Deltas      []domain.LotDelta
	CreatedLots []string
}

// Revert undoes the lot movements recorded by items. Lots opened by these
// items are removed once empty and no longer referenced elsewhere.
func (l *Ledger) Revert(ctx context.Context, tx store.Tx, doc domain.TransactionDocument, items []domain.TransactionItem) ([]domain.LotDelta, error) {
	reversal, err := l.Unwind(ctx, tx, doc, items)
	if err != nil {
		return nil, err
	}
	if err := l.RemoveEmptyLots(ctx, tx, doc, reversal.CreatedLots); err != nil {
		return nil, err
	}
	return reversal.Deltas, nil
}

// Unwind applies the inverse of every item's lot movement and leaves emptied
// lots in place.
func (l *Ledger) Unwind(ctx context.Context, tx store.Tx, doc domain.TransactionDocument, items []domain.TransactionItem) (Reversal, error) {
	lots := inventory.NewLots(tx)
	reversal := Reversal{
		Deltas:      make([]domain.LotDelta, 0, len(items)),
		CreatedLots: make([]string, 0),
	}

	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.LotID == "" {
			continue
		}
		switch doc.Type {
		case domain.DocumentIn:
			if _, err := lots.Deplete(ctx, item.LotID, item.Qty); err != nil {
				if errors.Is(err, domain.ErrInsufficientStock) {
					de, _ := domain.AsError(err)
					return Reversal{}, &domain.Error{
						Kind:      domain.KindInsufficientStock,
						Item:      item.LineNo,
						Shortfall: de.Shortfall,
						Message:   "stock received on this line has already been issued",
						Err:       de.Err,
					}
				}
				return Reversal{}, atItem(err, item.LineNo)
			}
			reversal.Deltas = append(reversal.Deltas, domain.LotDelta{LotID: item.LotID, ProductID: item.ProductID, DepartmentID: doc.DepartmentID, Delta: item.Qty.Neg()})
			if item.CreatedLot && !slices.Contains(reversal.CreatedLots, item.LotID) {
				reversal.CreatedLots = append(reversal.CreatedLots, item.LotID)
			}
		case domain.DocumentOut:
			if _, err := lots.Replenish(ctx, item.LotID, item.Qty); err != nil {
				return Reversal{}, atItem(err, item.LineNo)
			}
			reversal.Deltas = append(reversal.Deltas, domain.LotDelta{LotID: item.LotID, ProductID: item.ProductID, DepartmentID: doc.DepartmentID, Delta: item.Qty})
		}
	}
	return reversal, nil
}

// RemoveEmptyLots deletes each of lotIDs that holds no stock and is not
// referenced by another transaction.
func (l *Ledger) RemoveEmptyLots(ctx context.Context, tx store.Tx, doc domain.TransactionDocument, lotIDs []string) error {
	lots := inventory.NewLots(tx)
	for _, lotID := range lotIDs {
		removed, err := lots.RemoveIfUnused(ctx, lotID, doc.ID)
		if err != nil {
			return err
		}
		if removed {
			l.logger.Debug("removed empty lot", zap.String("lot_id", lotID), zap.String("transaction_id", doc.ID))
		}
	}
	return nil
}

func Total(items []domain.TransactionItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Qty.Mul(item.UnitPrice))
	}
	return total.Round(MoneyScale)
}

func checkExplicitLots(ctx context.Context, tx store.Tx, doc domain.TransactionDocument, lines []Line) error {
	for _, line := range lines {
		if line.LotID == "" {
			continue
		}
		lot, err := tx.GetLot(ctx, line.LotID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("lot", line.LotID).AtItem(line.Index)
		}
		if err != nil {
			return err
		}
		if lot.ProductID != line.ProductID {
			return domain.LotMismatch(line.Index, "lot belongs to a different product")
		}
		if lot.DepartmentID != doc.DepartmentID {
			return domain.LotMismatch(line.Index, "lot belongs to a different department")
		}
		if doc.Type == domain.DocumentIn && !inventory.DateOnly(lot.ExpiryDate).Equal(inventory.DateOnly(*line.ExpiryDate)) {
			return domain.LotMismatch(line.Index, "lot expiry date differs from the item")
		}
	}
	return nil
}

// Net sums deltas per lot, dropping lots whose movements cancel out.
func Net(deltas ...[]domain.LotDelta) []domain.LotDelta {
	index := make(map[string]int)
	result := make([]domain.LotDelta, 0)
	for _, group := range deltas {
		for _, d := range group {
			if i, ok := index[d.LotID]; ok {
				result[i].Delta = result[i].Delta.Add(d.Delta)
				continue
			}
			index[d.LotID] = len(result)
			result = append(result, d)
		}
	}
	filtered := result[:0]
	for _, d := range result {
		if !d.Delta.IsZero() {
			filtered = append(filtered, d)
		}
	}
	return filtered
}
