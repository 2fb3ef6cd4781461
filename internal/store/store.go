package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("duplicate record")
)

// Directory resolves the reference data a transaction points at.
type Directory interface {
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	GetDepartment(ctx context.Context, id string) (*domain.Department, error)
}

type LotReader interface {
	// FindAvailableLots returns lots with stock for the product in the
	// department, ordered by expiry date then lot number.
	FindAvailableLots(ctx context.Context, productID string, departmentID string) ([]domain.InventoryLot, error)
	GetLot(ctx context.Context, id string) (*domain.InventoryLot, error)
}

type LotWriter interface {
	LotReader
	// FindOpenLot returns the first lot with stock matching the key, or
	// ErrNotFound.
	FindOpenLot(ctx context.Context, productID string, departmentID string, expiry time.Time) (*domain.InventoryLot, error)
	InsertLot(ctx context.Context, lot domain.InventoryLot) (*domain.InventoryLot, error)
	IncrementLot(ctx context.Context, lotID string, qty decimal.Decimal) (*domain.InventoryLot, error)
	// DecrementLot subtracts qty only if the lot still holds at least qty,
	// otherwise it returns ErrInsufficientStock and leaves the lot untouched.
	DecrementLot(ctx context.Context, lotID string, qty decimal.Decimal) (*domain.InventoryLot, error)
	DeleteLot(ctx context.Context, lotID string) error
	CountLotReferences(ctx context.Context, lotID string, excludeTransactionID string) (int, error)
}

// Tx is the unit of work every ledger mutation runs in. Either all of its
// writes are committed or none are.
type Tx interface {
	LotWriter
	LockDocument(ctx context.Context, id string) (*domain.TransactionDocument, error)
	ListItems(ctx context.Context, transactionID string) ([]domain.TransactionItem, error)
	NextDocumentSeq(ctx context.Context, docType domain.DocumentType, day time.Time) (int64, error)
	InsertDocument(ctx context.Context, doc domain.TransactionDocument) error
	UpdateDocument(ctx context.Context, doc domain.TransactionDocument) error
	DeleteDocument(ctx context.Context, id string) error
	InsertItems(ctx context.Context, items []domain.TransactionItem) error
	DeleteItems(ctx context.Context, transactionID string) error
	UpdateItemPrice(ctx context.Context, itemID string, unitPrice decimal.Decimal) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type Repository interface {
	Directory
	LotReader
	ListOpenLots(ctx context.Context, filter domain.LotFilter) ([]domain.LotView, error)
	GetDocument(ctx context.Context, id string) (*domain.TransactionDocument, error)
	ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.TransactionDocument, error)
	ListAuditLogs(ctx context.Context, entityID string, limit int) ([]domain.AuditLog, error)
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
