package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/events"
	"gudang/backend/internal/ledger"
	"gudang/backend/internal/store"
)

var transitions = map[domain.DocumentStatus][]domain.DocumentStatus{
	domain.StatusDraft:   {domain.StatusPending, domain.StatusCancelled},
	domain.StatusPending: {domain.StatusDraft, domain.StatusPaid, domain.StatusCancelled},
}

func canTransition(from domain.DocumentStatus, to domain.DocumentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SetStatus moves a document through draft, pending, paid and cancelled.
// Cancelling reverts the stock effects but keeps the items for reference.
func (s *Service) SetStatus(ctx context.Context, id string, status domain.DocumentStatus) (*domain.TransactionDocument, error) {
	actor := actorFrom(ctx)
	if err := requireRole(actor, "change transaction status", domain.RoleAdmin, domain.RoleStaff, domain.RoleAccountant, domain.RoleSystem); err != nil {
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

	status = domain.DocumentStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, domain.Validation(0, "status", "status must be draft, pending, paid or cancelled")
	}
	if status == domain.StatusPaid {
		if err := requireRole(actor, "mark transactions paid", domain.RoleAdmin, domain.RoleAccountant, domain.RoleSystem); err != nil {
			return nil, err
		}
	}

	var (
		doc      *domain.TransactionDocument
		from     domain.DocumentStatus
		reverted []domain.LotDelta
	)
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = lockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from = doc.Status
		if !canTransition(from, status) {
			return domain.InvalidState(fmt.Sprintf("cannot move transaction from %s to %s", from, status))
		}

		if status == domain.StatusCancelled {
			items, err := tx.ListItems(ctx, id)
			if err != nil {
				return err
			}
			reverted, err = s.ledger.Revert(ctx, tx, *doc, items)
			if err != nil {
				return err
			}
		}
		if status == domain.StatusPaid {
			doc.PaidAmount = doc.TotalAmount
		}
		doc.Status = status
		doc.UpdatedAt = s.now()
		if err := tx.UpdateDocument(ctx, *doc); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "supplier_transaction_status", doc.ID, fmt.Sprintf("from=%s,to=%s", from, status))
	})
	if err != nil {
		s.logFailure("set_status", id, err)
		return nil, err
	}

	s.logger.Info("supplier transaction status changed",
		zap.String("transaction_id", doc.ID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.String("actor", actor.Username))
	s.publish(ctx, events.TypeStatusChanged, *doc, reverted, actor)
	return s.withItems(ctx, doc)
}

// RecordPayment adds to the paid amount of a pending document. A document
// paid in full becomes paid.
func (s *Service) RecordPayment(ctx context.Context, id string, amount decimal.Decimal) (*domain.TransactionDocument, error) {
	actor := actorFrom(ctx)
	if err := requireRole(actor, "record payments", domain.RoleAdmin, domain.RoleAccountant, domain.RoleSystem); err != nil {
		return nil, err
	}
	amount = amount.Round(ledger.MoneyScale)
	if !amount.IsPositive() {
		return nil, domain.Validation(0, "amount", "payment amount must be positive")
	}

	release, err := s.lockDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var doc *domain.TransactionDocument
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = lockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc.Status != domain.StatusPending {
			return domain.InvalidState(fmt.Sprintf("payments are only recorded on pending transactions, this one is %s", doc.Status))
		}
		outstanding := doc.TotalAmount.Sub(doc.PaidAmount)
		if amount.GreaterThan(outstanding) {
			return domain.Validation(0, "amount", fmt.Sprintf("payment exceeds outstanding balance of %s", outstanding.StringFixed(ledger.MoneyScale)))
		}
		doc.PaidAmount = doc.PaidAmount.Add(amount)
		if doc.PaidAmount.Equal(doc.TotalAmount) {
			doc.Status = domain.StatusPaid
		}
		doc.UpdatedAt = s.now()
		if err := tx.UpdateDocument(ctx, *doc); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "supplier_transaction_payment", doc.ID,
			fmt.Sprintf("amount=%s,paid=%s,total=%s", amount.StringFixed(ledger.MoneyScale), doc.PaidAmount.StringFixed(ledger.MoneyScale), doc.TotalAmount.StringFixed(ledger.MoneyScale)))
	})
	if err != nil {
		s.logFailure("record_payment", id, err)
		return nil, err
	}

	s.logger.Info("supplier transaction payment recorded",
		zap.String("transaction_id", doc.ID),
		zap.String("amount", amount.String()),
		zap.String("status", string(doc.Status)))
	s.publish(ctx, events.TypePaid, *doc, nil, actor)
	return s.withItems(ctx, doc)
}

// SetAdminLock freezes or unfreezes a document against edits.
func (s *Service) SetAdminLock(ctx context.Context, id string, locked bool) (*domain.TransactionDocument, error) {
	actor := actorFrom(ctx)
	if err := requireRole(actor, "lock transactions", domain.RoleAdmin, domain.RoleSystem); err != nil {
		return nil, err
	}

	release, err := s.lockDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var doc *domain.TransactionDocument
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = tx.LockDocument(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("transaction", id)
		}
		if err != nil {
			return err
		}
		doc.AdminLocked = locked
		doc.UpdatedAt = s.now()
		if err := tx.UpdateDocument(ctx, *doc); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "supplier_transaction_lock", doc.ID, fmt.Sprintf("locked=%t", locked))
	})
	if err != nil {
		s.logFailure("set_admin_lock", id, err)
		return nil, err
	}

	s.logger.Info("supplier transaction lock changed",
		zap.String("transaction_id", doc.ID),
		zap.Bool("locked", locked),
		zap.String("actor", actor.Username))
	s.publish(ctx, events.TypeLockChanged, *doc, nil, actor)
	return s.withItems(ctx, doc)
}

func (s *Service) withItems(ctx context.Context, doc *domain.TransactionDocument) (*domain.TransactionDocument, error) {
	full, err := s.repo.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return full, nil
}
