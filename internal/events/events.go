package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
)

const (
	TypeCreated       = "supplier_transaction.created"
	TypeUpdated       = "supplier_transaction.updated"
	TypePricesUpdated = "supplier_transaction.prices_updated"
	TypeDeleted       = "supplier_transaction.deleted"
	TypeStatusChanged = "supplier_transaction.status_changed"
	TypePaid          = "supplier_transaction.payment_recorded"
	TypeLockChanged   = "supplier_transaction.lock_changed"
)

// LedgerEvent is published after a unit of work has committed.
type LedgerEvent struct {
	EventID       string                `json:"eventId"`
	Type          string                `json:"type"`
	TransactionID string                `json:"transactionId"`
	DocNo         string                `json:"docNo"`
	DocType       domain.DocumentType   `json:"docType"`
	Status        domain.DocumentStatus `json:"status"`
	DepartmentID  string                `json:"departmentId"`
	TotalAmount   decimal.Decimal       `json:"totalAmount"`
	LotDeltas     []domain.LotDelta     `json:"lotDeltas,omitempty"`
	Actor         string                `json:"actor"`
	OccurredAt    time.Time             `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ LedgerEvent) error { return nil }
func (NoopPublisher) Close() error                                  { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []LedgerEvent
}

func (r *Recorder) Publish(_ context.Context, event LedgerEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []LedgerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerEvent, len(r.events))
	copy(out, r.events)
	return out
}
