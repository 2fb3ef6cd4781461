package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/inventory"
	"gudang/backend/internal/store"
	"gudang/backend/internal/xid"
)

func (s *Service) GetDocument(ctx context.Context, id string) (*domain.TransactionDocument, error) {
	return s.loadDocument(ctx, strings.TrimSpace(id))
}

func (s *Service) ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.TransactionDocument, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.Validation(0, "type", "type must be in or out")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Validation(0, "status", "unknown status")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, domain.Validation(0, "to", "end date is before start date")
	}
	return s.repo.ListDocuments(ctx, filter)
}

func (s *Service) ListOpenLots(ctx context.Context, filter domain.LotFilter) ([]domain.LotView, error) {
	if filter.ProductID != "" && !xid.Valid(filter.ProductID) {
		return nil, domain.Validation(0, "productId", "product id is malformed")
	}
	if filter.DepartmentID != "" && !xid.Valid(filter.DepartmentID) {
		return nil, domain.Validation(0, "departmentId", "department id is malformed")
	}
	return s.repo.ListOpenLots(ctx, filter)
}

// PreviewOut shows which lots an out movement would draw from right now,
// without reserving anything.
func (s *Service) PreviewOut(ctx context.Context, productID string, departmentID string, qty decimal.Decimal) ([]domain.AllocationLine, error) {
	productID = strings.TrimSpace(productID)
	departmentID = strings.TrimSpace(departmentID)
	if !xid.Valid(productID) {
		return nil, domain.Validation(0, "productId", "a valid product is required")
	}
	if !xid.Valid(departmentID) {
		return nil, domain.Validation(0, "departmentId", "a valid department is required")
	}
	qty = qty.Round(s.processor.Scale())
	if !qty.IsPositive() {
		return nil, domain.Validation(0, "qty", "quantity must be positive")
	}

	products, err := s.lookupProducts(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	if _, ok := products[productID]; !ok {
		return nil, domain.NotFound("product", productID)
	}
	if _, err := s.repo.GetDepartment(ctx, departmentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("department", departmentID)
		}
		return nil, err
	}
	return inventory.NewAllocator(s.repo).Allocate(ctx, productID, departmentID, qty)
}

func (s *Service) ListAuditLogs(ctx context.Context, id string, limit int) ([]domain.AuditLog, error) {
	actor := actorFrom(ctx)
	if err := requireRole(actor, "read audit logs", domain.RoleAdmin, domain.RoleAccountant, domain.RoleSystem); err != nil {
		return nil, err
	}
	if id != "" && !xid.Valid(id) {
		return nil, domain.NotFound("transaction", id)
	}
	return s.repo.ListAuditLogs(ctx, id, limit)
}
