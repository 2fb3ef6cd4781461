package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DocumentType string

const (
	DocumentIn  DocumentType = "in"
	DocumentOut DocumentType = "out"
)

func (t DocumentType) Valid() bool {
	return t == DocumentIn || t == DocumentOut
}

type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusPending   DocumentStatus = "pending"
	StatusPaid      DocumentStatus = "paid"
	StatusCancelled DocumentStatus = "cancelled"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusPaid, StatusCancelled:
		return true
	default:
		return false
	}
}

const (
	RoleAdmin      = "admin"
	RoleStaff      = "staff"
	RoleManager    = "manager"
	RoleAccountant = "accountant"
	RoleSystem     = "system"
)

type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	MainUnit       string          `json:"mainUnit"`
	PackUnit       string          `json:"packUnit"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
}

type Supplier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ConversionInfo struct {
	PackUnit       string          `json:"packUnit"`
	MainUnit       string          `json:"mainUnit"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
}

type InventoryLot struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	DepartmentID   string          `json:"departmentId"`
	LotNo          string          `json:"lotNo"`
	ExpiryDate     time.Time       `json:"expiryDate"`
	QtyOnHand      decimal.Decimal `json:"qtyOnHand"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// LotView is an open lot joined with its product for listing.
type LotView struct {
	InventoryLot
	ProductName string `json:"productName"`
	MainUnit    string `json:"mainUnit"`
	PackUnit    string `json:"packUnit"`
}

type LotFilter struct {
	ProductID    string
	DepartmentID string
	Limit        int
}

type TransactionDocument struct {
	ID           string            `json:"id"`
	DocNo        string            `json:"docNo"`
	Type         DocumentType      `json:"type"`
	Status       DocumentStatus    `json:"status"`
	SupplierID   string            `json:"supplierId"`
	DepartmentID string            `json:"departmentId"`
	TransDate    time.Time         `json:"transDate"`
	DueDate      *time.Time        `json:"dueDate,omitempty"`
	Note         string            `json:"note,omitempty"`
	TotalAmount  decimal.Decimal   `json:"totalAmount"`
	PaidAmount   decimal.Decimal   `json:"paidAmount"`
	AdminLocked  bool              `json:"adminLocked"`
	CreatedBy    string            `json:"createdBy,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Items        []TransactionItem `json:"items,omitempty"`
}

type TransactionItem struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	LineNo        int             `json:"lineNo"`
	ProductID     string          `json:"productId"`
	Qty           decimal.Decimal `json:"qty"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	LotID         string          `json:"lotId"`
	ExpiryDate    *time.Time      `json:"expiryDate,omitempty"`
	Conversion    *ConversionInfo `json:"conversionInfo,omitempty"`
	CreatedLot    bool            `json:"createdLot"`
}

type DocumentFilter struct {
	SupplierID   string
	DepartmentID string
	Type         DocumentType
	Status       DocumentStatus
	From         *time.Time
	To           *time.Time
	Limit        int
}

// ItemInput is a raw line as submitted by a caller. Quantities may be given
// either in pack units (with conversion) or directly in main units.
type ItemInput struct {
	ProductID      string           `json:"productId"`
	PackQty        *decimal.Decimal `json:"packQty,omitempty"`
	PackUnit       string           `json:"packUnit,omitempty"`
	MainUnit       string           `json:"mainUnit,omitempty"`
	ConversionRate *decimal.Decimal `json:"conversionRate,omitempty"`
	MainQty        *decimal.Decimal `json:"mainQty,omitempty"`
	UnitPrice      *decimal.Decimal `json:"unitPrice,omitempty"`
	ExpiryDate     string           `json:"expiryDate,omitempty"`
	LotID          string           `json:"lotId,omitempty"`
	NewLot         bool             `json:"newLot,omitempty"`
}

type DocumentInput struct {
	SupplierID   string         `json:"supplierId"`
	DepartmentID string         `json:"departmentId"`
	Type         DocumentType   `json:"type"`
	Status       DocumentStatus `json:"status,omitempty"`
	TransDate    string         `json:"transDate,omitempty"`
	DueDate      string         `json:"dueDate,omitempty"`
	Note         string         `json:"note,omitempty"`
	Items        []ItemInput    `json:"items"`
}

type PriceUpdate struct {
	ItemID    string           `json:"id"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
}

type AllocationLine struct {
	LotID        string          `json:"lotId"`
	LotNo        string          `json:"lotNo"`
	ExpiryDate   time.Time       `json:"expiryDate"`
	AvailableQty decimal.Decimal `json:"availableQty"`
	UseQty       decimal.Decimal `json:"useQty"`
}

// LotDelta records the signed change a document applied to one lot.
type LotDelta struct {
	LotID        string          `json:"lotId"`
	ProductID    string          `json:"productId"`
	DepartmentID string          `json:"departmentId"`
	Delta        decimal.Decimal `json:"delta"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actorUsername"`
	ActorRole     string    `json:"actorRole"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"createdAt"`
}
