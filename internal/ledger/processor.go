package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/units"
	"gudang/backend/internal/xid"
)

// Line is a validated item ready to be applied.
type Line struct {
	Index      int
	ProductID  string
	Qty        decimal.Decimal
	UnitPrice  decimal.Decimal
	Conversion *domain.ConversionInfo
	ExpiryDate *time.Time
	LotID      string
	NewLot     bool
}

type Processor struct {
	scale  int32
	logger *zap.Logger
}

// NewProcessor rounds quantities to scale places. Values outside 1..3 fall
// back to units.DefaultScale.
func NewProcessor(scale int32, logger *zap.Logger) *Processor {
	if scale <= 0 || scale > units.DefaultScale {
		scale = units.DefaultScale
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{scale: scale, logger: logger}
}

func (p *Processor) Scale() int32 { return p.scale }

// Normalize validates every item and resolves its quantity. It stops at the
// first invalid item and reports its 1-based position.
func (p *Processor) Normalize(docType domain.DocumentType, items []domain.ItemInput) ([]Line, error) {
	if len(items) == 0 {
		return nil, domain.Validation(0, "items", "at least one item is required")
	}
	lines := make([]Line, 0, len(items))
	for i, item := range items {
		line, err := p.normalizeItem(docType, i+1, item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (p *Processor) normalizeItem(docType domain.DocumentType, index int, item domain.ItemInput) (Line, error) {
	productID := strings.TrimSpace(item.ProductID)
	if productID == "" {
		return Line{}, domain.Validation(index, "productId", "product is required")
	}
	if !xid.Valid(productID) {
		return Line{}, domain.Validation(index, "productId", "product id is malformed")
	}

	resolved, err := units.Resolve(item, p.scale)
	if err != nil {
		return Line{}, atItem(err, index)
	}
	if resolved.Ambiguous {
		p.logger.Warn("both packQty and mainQty supplied, using packQty",
			zap.Int("item", index),
			zap.String("product_id", productID),
		)
	}

	if item.UnitPrice == nil {
		return Line{}, domain.Validation(index, "unitPrice", "unit price is required")
	}
	if item.UnitPrice.IsNegative() {
		return Line{}, domain.Validation(index, "unitPrice", "unit price must not be negative")
	}

	lotID := strings.TrimSpace(item.LotID)
	if lotID != "" && !xid.Valid(lotID) {
		return Line{}, domain.Validation(index, "lotId", "lot id is malformed")
	}

	line := Line{
		Index:      index,
		ProductID:  productID,
		Qty:        resolved.Qty,
		UnitPrice:  *item.UnitPrice,
		Conversion: resolved.Conversion,
		LotID:      lotID,
	}

	switch docType {
	case domain.DocumentIn:
		raw := strings.TrimSpace(item.ExpiryDate)
		if raw == "" {
			return Line{}, domain.Validation(index, "expiryDate", "expiry date is required for incoming items")
		}
		expiry, err := ParseDate(raw)
		if err != nil {
			return Line{}, domain.Validation(index, "expiryDate", "expiry date must be YYYY-MM-DD")
		}
		line.ExpiryDate = &expiry
		if item.NewLot && lotID != "" {
			return Line{}, domain.Validation(index, "newLot", "newLot cannot be combined with lotId")
		}
		line.NewLot = item.NewLot
	case domain.DocumentOut:
		if item.NewLot {
			return Line{}, domain.Validation(index, "newLot", "newLot only applies to incoming items")
		}
	default:
		return Line{}, domain.Validation(0, "type", "type must be in or out")
	}
	return line, nil
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp and returns the
// UTC date.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func atItem(err error, index int) error {
	if de, ok := domain.AsError(err); ok && de.Item == 0 {
		return de.AtItem(index)
	}
	return err
}
