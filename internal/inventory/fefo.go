package inventory

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/store"
)

// CompareFEFO orders lots by expiry date, then lot number.
func CompareFEFO(a domain.InventoryLot, b domain.InventoryLot) int {
	if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
		return c
	}
	return strings.Compare(a.LotNo, b.LotNo)
}

// Plan walks lots in the given order, taking from each until required is
// covered. Lots without stock are skipped. The plan is advisory: the lots are
// not reserved.
func Plan(lots []domain.InventoryLot, required decimal.Decimal) ([]domain.AllocationLine, error) {
	if !required.IsPositive() {
		return nil, domain.Validation(0, "qty", "required quantity must be positive")
	}

	remaining := required
	plan := make([]domain.AllocationLine, 0, len(lots))
	var productID string
	for _, lot := range lots {
		if productID == "" {
			productID = lot.ProductID
		}
		if !remaining.IsPositive() {
			break
		}
		if !lot.QtyOnHand.IsPositive() {
			continue
		}
		use := decimal.Min(lot.QtyOnHand, remaining)
		plan = append(plan, domain.AllocationLine{
			LotID:        lot.ID,
			LotNo:        lot.LotNo,
			ExpiryDate:   lot.ExpiryDate,
			AvailableQty: lot.QtyOnHand,
			UseQty:       use,
		})
		remaining = remaining.Sub(use)
	}
	if remaining.IsPositive() {
		return nil, domain.InsufficientStock(0, productID, remaining)
	}
	return plan, nil
}

type Allocator struct {
	lots store.LotReader
}

func NewAllocator(lots store.LotReader) *Allocator {
	return &Allocator{lots: lots}
}

// Allocate plans an out movement against the current lots of a product in a
// department.
func (a *Allocator) Allocate(ctx context.Context, productID string, departmentID string, required decimal.Decimal) ([]domain.AllocationLine, error) {
	lots, err := a.lots.FindAvailableLots(ctx, productID, departmentID)
	if err != nil {
		return nil, err
	}
	plan, err := Plan(lots, required)
	if err != nil {
		if de, ok := domain.AsError(err); ok && de.Kind == domain.KindInsufficientStock {
			return nil, domain.InsufficientStock(0, productID, de.Shortfall)
		}
		return nil, err
	}
	return plan, nil
}
