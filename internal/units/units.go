package units

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
)

// DefaultScale is the number of decimal places quantities are kept at.
const DefaultScale int32 = 3

var ErrInvalidQuantity = errors.New("invalid quantity")

// Spec is either a PackSpec or a MainSpec.
type Spec interface {
	isSpec()
}

type PackSpec struct {
	PackQty        decimal.Decimal
	PackUnit       string
	MainUnit       string
	ConversionRate decimal.Decimal
}

type MainSpec struct {
	MainQty decimal.Decimal
}

func (PackSpec) isSpec() {}
func (MainSpec) isSpec() {}

type Resolved struct {
	Qty        decimal.Decimal
	Conversion *domain.ConversionInfo
	// Ambiguous is set when both pack and main quantities were supplied.
	Ambiguous bool
}

func Round(qty decimal.Decimal, scale int32) decimal.Decimal {
	return qty.Round(scale)
}

// Classify picks the quantity variant of a raw line. A positive packQty wins
// over mainQty.
func Classify(item domain.ItemInput) (Spec, bool, error) {
	packPositive := item.PackQty != nil && item.PackQty.IsPositive()
	mainPositive := item.MainQty != nil && item.MainQty.IsPositive()

	switch {
	case packPositive:
		packUnit := strings.TrimSpace(item.PackUnit)
		mainUnit := strings.TrimSpace(item.MainUnit)
		if packUnit == "" {
			return nil, false, domain.Validation(0, "packUnit", "pack unit is required with packQty")
		}
		if mainUnit == "" {
			return nil, false, domain.Validation(0, "mainUnit", "main unit is required with packQty")
		}
		if item.ConversionRate == nil || !item.ConversionRate.IsPositive() {
			return nil, false, domain.Validation(0, "conversionRate", "conversion rate must be positive")
		}
		return PackSpec{
			PackQty:        *item.PackQty,
			PackUnit:       packUnit,
			MainUnit:       mainUnit,
			ConversionRate: *item.ConversionRate,
		}, mainPositive, nil
	case mainPositive:
		return MainSpec{MainQty: *item.MainQty}, false, nil
	default:
		return nil, false, invalidQuantity()
	}
}

func Resolve(item domain.ItemInput, scale int32) (Resolved, error) {
	spec, ambiguous, err := Classify(item)
	if err != nil {
		return Resolved{}, err
	}
	return ResolveSpec(spec, ambiguous, scale)
}

func ResolveSpec(spec Spec, ambiguous bool, scale int32) (Resolved, error) {
	var out Resolved
	switch s := spec.(type) {
	case PackSpec:
		out.Qty = Round(s.PackQty.Mul(s.ConversionRate), scale)
		out.Conversion = &domain.ConversionInfo{
			PackUnit:       s.PackUnit,
			MainUnit:       s.MainUnit,
			ConversionRate: s.ConversionRate,
		}
	case MainSpec:
		out.Qty = Round(s.MainQty, scale)
	default:
		return Resolved{}, invalidQuantity()
	}
	if !out.Qty.IsPositive() {
		return Resolved{}, invalidQuantity()
	}
	out.Ambiguous = ambiguous
	return out, nil
}

func invalidQuantity() *domain.Error {
	return &domain.Error{
		Kind:    domain.KindValidation,
		Field:   "qty",
		Message: "packQty or mainQty must be positive",
		Err:     ErrInvalidQuantity,
	}
}
