package memory

import (
	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
)

const (
	SeedSupplierID        = "5f0c2a1e-8d4b-4c3a-9e21-1a2b3c4d5e01"
	SeedSupplier2ID       = "5f0c2a1e-8d4b-4c3a-9e21-1a2b3c4d5e02"
	SeedDepartmentID      = "5f0c2a1e-8d4b-4c3a-9e21-1a2b3c4d5e11"
	SeedDepartment2ID     = "5f0c2a1e-8d4b-4c3a-9e21-1a2b3c4d5e12"
	SeedProductMilkID     = "5f0c2a1e-8d4b-4c3a-9e21-1a2b3c4d5e21"
	SeedProductRiceID     = "5f0c2a1e-8d4b-4c3a-9e21-1a2b3c4d5e22"
	SeedProductSyringeID  = "5f0c2a1e-8d4b-4c3a-9e21-1a2b3c4d5e23"
	SeedProductParacetaID = "5f0c2a1e-8d4b-4c3a-9e21-1a2b3c4d5e24"
)

// NewSeeded returns a store preloaded with reference data for local runs
// and tests. No lots are seeded.
func NewSeeded() *Store {
	s := New()
	for _, supplier := range []domain.Supplier{
		{ID: SeedSupplierID, Name: "PT Sumber Makmur"},
		{ID: SeedSupplier2ID, Name: "CV Medika Jaya"},
	} {
		s.st.suppliers[supplier.ID] = supplier
	}
	for _, department := range []domain.Department{
		{ID: SeedDepartmentID, Name: "Gudang Utama"},
		{ID: SeedDepartment2ID, Name: "Farmasi"},
	} {
		s.st.departments[department.ID] = department
	}
	for _, product := range []domain.Product{
		{ID: SeedProductMilkID, Name: "Susu UHT 250ml", MainUnit: "can", PackUnit: "box", ConversionRate: decimal.NewFromInt(24)},
		{ID: SeedProductRiceID, Name: "Beras Premium", MainUnit: "kg", PackUnit: "sack", ConversionRate: decimal.NewFromInt(25)},
		{ID: SeedProductSyringeID, Name: "Spuit 3ml", MainUnit: "pcs", PackUnit: "box", ConversionRate: decimal.NewFromInt(100)},
		{ID: SeedProductParacetaID, Name: "Paracetamol 500mg", MainUnit: "tablet", PackUnit: "strip", ConversionRate: decimal.NewFromInt(10)},
	} {
		s.st.products[product.ID] = product
	}
	return s
}
