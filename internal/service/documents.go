package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/events"
	"gudang/backend/internal/ledger"
	"gudang/backend/internal/store"
	"gudang/backend/internal/xid"
)

var writerRoles = []string{domain.RoleAdmin, domain.RoleStaff, domain.RoleManager, domain.RoleSystem}

// CreateDocument records a supplier transaction and moves stock for all of
// its items in one unit of work.
func (s *Service) CreateDocument(ctx context.Context, in domain.DocumentInput) (*domain.TransactionDocument, error) {
	actor := actorFrom(ctx)
	if err := requireRole(actor, "create supplier transactions", writerRoles...); err != nil {
		return nil, err
	}

	h, err := s.parseHeader(in, nil)
	if err != nil {
		return nil, err
	}
	lines, err := s.processor.Normalize(h.docType, applyPricePolicy(actor, in.Items))
	if err != nil {
		return nil, err
	}
	products, err := s.resolveReferences(ctx, h, lines)
	if err != nil {
		return nil, err
	}

	now := s.now()
	doc := domain.TransactionDocument{
		ID:           xid.New(),
		Type:         h.docType,
		Status:       h.status,
		SupplierID:   h.supplierID,
		DepartmentID: h.departmentID,
		TransDate:    h.transDate,
		DueDate:      h.dueDate,
		Note:         h.note,
		CreatedBy:    actor.Username,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var effect ledger.Effect
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		seq, err := tx.NextDocumentSeq(ctx, doc.Type, doc.TransDate)
		if err != nil {
			return err
		}
		doc.DocNo = xid.DocNo(string(doc.Type), doc.TransDate, seq)

		effect, err = s.ledger.Apply(ctx, tx, doc, lines, products)
		if err != nil {
			return err
		}
		doc.TotalAmount = ledger.Total(effect.Items)

		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, effect.Items); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "supplier_transaction_create", doc.ID,
			fmt.Sprintf("doc_no=%s,type=%s,items=%d,total=%s", doc.DocNo, doc.Type, len(effect.Items), doc.TotalAmount.StringFixed(ledger.MoneyScale)))
	})
	if err != nil {
		s.logFailure("create", "", err)
		return nil, err
	}

	doc.Items = effect.Items
	s.logger.Info("supplier transaction created",
		zap.String("transaction_id", doc.ID),
		zap.String("doc_no", doc.DocNo),
		zap.String("type", string(doc.Type)),
		zap.Int("items", len(doc.Items)),
		zap.String("actor", actor.Username))
	s.publish(ctx, events.TypeCreated, doc, effect.Deltas, actor)
	return &doc, nil
}

// UpdateDocument replaces the items of a document. The previous items are
// reverted and the new ones applied against the reverted stock, all in one
// unit of work.
func (s *Service) UpdateDocument(ctx context.Context, id string, in domain.DocumentInput) (*domain.TransactionDocument, error) {
	actor := actorFrom(ctx)
	if err := requireRole(actor, "update supplier transactions", writerRoles...); err != nil {
		return nil, err
	}

	release, err := s.lockDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.AdminLocked {
		return nil, domain.DocumentLocked(id)
	}
	if err := ensureEditable(current); err != nil {
		return nil, err
	}

	h, err := s.parseHeader(in, current)
	if err != nil {
		return nil, err
	}
	lines, err := s.processor.Normalize(h.docType, applyPricePolicy(actor, in.Items))
	if err != nil {
		return nil, err
	}
	products, err := s.resolveReferences(ctx, h, lines)
	if err != nil {
		return nil, err
	}

	var (
		doc      *domain.TransactionDocument
		reverted []domain.LotDelta
		effect   ledger.Effect
	)
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = lockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := ensureEditable(doc); err != nil {
			return err
		}

		previous, err := tx.ListItems(ctx, id)
		if err != nil {
			return err
		}
		reversal, err := s.ledger.Unwind(ctx, tx, *doc, previous)
		if err != nil {
			return err
		}
		reverted = reversal.Deltas
		if err := tx.DeleteItems(ctx, id); err != nil {
			return err
		}

		doc.SupplierID = h.supplierID
		doc.DepartmentID = h.departmentID
		doc.TransDate = h.transDate
		doc.DueDate = h.dueDate
		doc.Note = h.note

		effect, err = s.ledger.Reapply(ctx, tx, *doc, lines, products, reversal.CreatedLots)
		if err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, effect.Items); err != nil {
			return err
		}
		if err := s.ledger.RemoveEmptyLots(ctx, tx, *doc, reversal.CreatedLots); err != nil {
			return err
		}
		doc.TotalAmount = ledger.Total(effect.Items)
		if doc.TotalAmount.LessThan(doc.PaidAmount) {
			return domain.InvalidState("new total is below the amount already paid")
		}
		doc.UpdatedAt = s.now()
		if err := tx.UpdateDocument(ctx, *doc); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "supplier_transaction_update", doc.ID,
			fmt.Sprintf("items=%d->%d,total=%s", len(previous), len(effect.Items), doc.TotalAmount.StringFixed(ledger.MoneyScale)))
	})
	if err != nil {
		s.logFailure("update", id, err)
		return nil, err
	}

	doc.Items = effect.Items
	s.logger.Info("supplier transaction updated",
		zap.String("transaction_id", doc.ID),
		zap.String("doc_no", doc.DocNo),
		zap.Int("items", len(doc.Items)),
		zap.String("actor", actor.Username))
	s.publish(ctx, events.TypeUpdated, *doc, ledger.Net(reverted, effect.Deltas), actor)
	return doc, nil
}

// UpdatePrices changes unit prices of existing items without touching stock.
func (s *Service) UpdatePrices(ctx context.Context, id string, updates []domain.PriceUpdate) (*domain.TransactionDocument, error) {
	actor := actorFrom(ctx)
	if err := requireRole(actor, "update prices", domain.RoleAdmin, domain.RoleAccountant, domain.RoleSystem); err != nil {
		return nil, err
	}

	release, err := s.lockDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.AdminLocked {
		return nil, domain.DocumentLocked(id)
	}

	if len(updates) == 0 {
		return nil, domain.Validation(0, "items", "at least one price update is required")
	}
	updates = append([]domain.PriceUpdate(nil), updates...)
	seen := make(map[string]struct{}, len(updates))
	for i, update := range updates {
		itemID := strings.TrimSpace(update.ItemID)
		if !xid.Valid(itemID) {
			return nil, domain.Validation(i+1, "id", "a valid item id is required")
		}
		if _, dup := seen[itemID]; dup {
			return nil, domain.Validation(i+1, "id", "item listed more than once")
		}
		seen[itemID] = struct{}{}
		if update.UnitPrice == nil {
			return nil, domain.Validation(i+1, "unitPrice", "unit price is required")
		}
		if update.UnitPrice.IsNegative() {
			return nil, domain.Validation(i+1, "unitPrice", "unit price must not be negative")
		}
		updates[i].ItemID = itemID
	}

	var (
		doc   *domain.TransactionDocument
		items []domain.TransactionItem
	)
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = lockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc.Status == domain.StatusCancelled {
			return domain.InvalidState("transaction is cancelled")
		}
		items, err = tx.ListItems(ctx, id)
		if err != nil {
			return err
		}
		position := make(map[string]int, len(items))
		for i, item := range items {
			position[item.ID] = i
		}
		for i, update := range updates {
			idx, ok := position[update.ItemID]
			if !ok {
				return domain.NotFound("item", update.ItemID).AtItem(i + 1)
			}
			if err := tx.UpdateItemPrice(ctx, update.ItemID, *update.UnitPrice); err != nil {
				return err
			}
			items[idx].UnitPrice = *update.UnitPrice
		}

		doc.TotalAmount = ledger.Total(items)
		if doc.TotalAmount.LessThan(doc.PaidAmount) {
			return domain.InvalidState("new total is below the amount already paid")
		}
		doc.UpdatedAt = s.now()
		if err := tx.UpdateDocument(ctx, *doc); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "supplier_transaction_update_prices", doc.ID,
			fmt.Sprintf("items=%d,total=%s", len(updates), doc.TotalAmount.StringFixed(ledger.MoneyScale)))
	})
	if err != nil {
		s.logFailure("update_prices", id, err)
		return nil, err
	}

	doc.Items = items
	s.logger.Info("supplier transaction prices updated",
		zap.String("transaction_id", doc.ID),
		zap.Int("items", len(updates)),
		zap.String("actor", actor.Username))
	s.publish(ctx, events.TypePricesUpdated, *doc, nil, actor)
	return doc, nil
}

// DeleteDocument reverts the stock effects of a document and removes it.
// Cancelled documents have already been reverted.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	actor := actorFrom(ctx)
	if err := requireRole(actor, "delete supplier transactions", writerRoles...); err != nil {
		return err
	}

	release, err := s.lockDocument(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	current, err := s.loadDocument(ctx, id)
	if err != nil {
		return err
	}
	if current.AdminLocked {
		return domain.DocumentLocked(id)
	}

	var (
		doc      *domain.TransactionDocument
		reverted []domain.LotDelta
	)
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = lockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status != domain.StatusCancelled {
			reverted, err = s.ledger.Revert(ctx, tx, *doc, items)
			if err != nil {
				return err
			}
		}
		if err := tx.DeleteItems(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteDocument(ctx, id); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "supplier_transaction_delete", doc.ID,
			fmt.Sprintf("doc_no=%s,items=%d", doc.DocNo, len(items)))
	})
	if err != nil {
		s.logFailure("delete", id, err)
		return err
	}

	s.logger.Info("supplier transaction deleted",
		zap.String("transaction_id", doc.ID),
		zap.String("doc_no", doc.DocNo),
		zap.String("actor", actor.Username))
	s.publish(ctx, events.TypeDeleted, *doc, reverted, actor)
	return nil
}
