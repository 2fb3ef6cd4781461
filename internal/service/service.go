package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gudang/backend/internal/cache"
	"gudang/backend/internal/domain"
	"gudang/backend/internal/events"
	"gudang/backend/internal/inventory"
	"gudang/backend/internal/ledger"
	"gudang/backend/internal/locker"
	"gudang/backend/internal/logger"
	"gudang/backend/internal/store"
	"gudang/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Dependencies struct {
	ProductCache    cache.ProductCache
	ProductCacheTTL time.Duration
	Locker          locker.Locker
	Publisher       events.Publisher
	Logger          *zap.Logger
	QtyScale        int32
	Clock           func() time.Time
}

type Service struct {
	repo       store.Repository
	processor  *ledger.Processor
	ledger     *ledger.Ledger
	products   cache.ProductCache
	productTTL time.Duration
	locker     locker.Locker
	publisher  events.Publisher
	logger     *zap.Logger
	now        func() time.Time
}

func New(repo store.Repository, deps Dependencies) *Service {
	if deps.ProductCache == nil {
		deps.ProductCache = cache.NoopProductCache{}
	}
	if deps.ProductCacheTTL <= 0 {
		deps.ProductCacheTTL = 5 * time.Minute
	}
	if deps.Locker == nil {
		deps.Locker = locker.NewLocal()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	log := logger.Named(deps.Logger, "service")

	return &Service{
		repo:       repo,
		processor:  ledger.NewProcessor(deps.QtyScale, log),
		ledger:     ledger.New(log),
		products:   deps.ProductCache,
		productTTL: deps.ProductCacheTTL,
		locker:     deps.Locker,
		publisher:  deps.Publisher,
		logger:     log,
		now:        deps.Clock,
	}
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == "" {
		return domain.Actor{Username: "system", Role: domain.RoleSystem}
	}
	return actor
}

func requireRole(actor domain.Actor, action string, roles ...string) error {
	if slices.Contains(roles, actor.Role) {
		return nil
	}
	return domain.Forbidden(fmt.Sprintf("role %q cannot %s", actor.Role, action))
}

// lockDocument serializes mutations of one document across callers.
func (s *Service) lockDocument(ctx context.Context, id string) (func(), error) {
	if !xid.Valid(id) {
		return nil, domain.NotFound("transaction", id)
	}
	release, err := s.locker.Obtain(ctx, "supplier-transaction:"+id)
	if errors.Is(err, locker.ErrNotObtained) {
		return nil, domain.InvalidState("transaction is being modified, retry later")
	}
	if err != nil {
		return nil, fmt.Errorf("obtain document lock: %w", err)
	}
	return release, nil
}

func (s *Service) loadDocument(ctx context.Context, id string) (*domain.TransactionDocument, error) {
	if !xid.Valid(id) {
		return nil, domain.NotFound("transaction", id)
	}
	doc, err := s.repo.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("transaction", id)
	}
	return doc, err
}

func lockForUpdate(ctx context.Context, tx store.Tx, id string) (*domain.TransactionDocument, error) {
	doc, err := tx.LockDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("transaction", id)
	}
	if err != nil {
		return nil, err
	}
	if doc.AdminLocked {
		return nil, domain.DocumentLocked(id)
	}
	return doc, nil
}

func ensureEditable(doc *domain.TransactionDocument) error {
	switch doc.Status {
	case domain.StatusCancelled, domain.StatusPaid:
		return domain.InvalidState(fmt.Sprintf("transaction is %s and its items can no longer change", doc.Status))
	}
	return nil
}

type header struct {
	supplierID   string
	departmentID string
	docType      domain.DocumentType
	status       domain.DocumentStatus
	transDate    time.Time
	dueDate      *time.Time
	note         string
}

func (s *Service) parseHeader(in domain.DocumentInput, current *domain.TransactionDocument) (header, error) {
	h := header{
		supplierID:   strings.TrimSpace(in.SupplierID),
		departmentID: strings.TrimSpace(in.DepartmentID),
		docType:      domain.DocumentType(strings.ToLower(strings.TrimSpace(string(in.Type)))),
		status:       domain.DocumentStatus(strings.ToLower(strings.TrimSpace(string(in.Status)))),
		note:         strings.TrimSpace(in.Note),
	}

	if h.supplierID == "" || !xid.Valid(h.supplierID) {
		return header{}, domain.Validation(0, "supplierId", "a valid supplier is required")
	}
	if h.departmentID == "" || !xid.Valid(h.departmentID) {
		return header{}, domain.Validation(0, "departmentId", "a valid department is required")
	}

	if current != nil {
		if h.docType == "" {
			h.docType = current.Type
		}
		if h.docType != current.Type {
			return header{}, domain.Validation(0, "type", "type cannot change once created")
		}
		if h.status != "" && h.status != current.Status {
			return header{}, domain.Validation(0, "status", "use the status operation to change status")
		}
		h.status = current.Status
	} else {
		if !h.docType.Valid() {
			return header{}, domain.Validation(0, "type", "type must be in or out")
		}
		switch h.status {
		case "":
			h.status = domain.StatusDraft
		case domain.StatusDraft, domain.StatusPending:
		default:
			return header{}, domain.Validation(0, "status", "new transactions start as draft or pending")
		}
	}

	h.transDate = inventory.DateOnly(s.now())
	if raw := strings.TrimSpace(in.TransDate); raw != "" {
		parsed, err := ledger.ParseDate(raw)
		if err != nil {
			return header{}, domain.Validation(0, "transDate", "transaction date must be YYYY-MM-DD")
		}
		h.transDate = parsed
	} else if current != nil {
		h.transDate = current.TransDate
	}
	if raw := strings.TrimSpace(in.DueDate); raw != "" {
		parsed, err := ledger.ParseDate(raw)
		if err != nil {
			return header{}, domain.Validation(0, "dueDate", "due date must be YYYY-MM-DD")
		}
		if parsed.Before(h.transDate) {
			return header{}, domain.Validation(0, "dueDate", "due date cannot be before the transaction date")
		}
		h.dueDate = &parsed
	}
	if len(h.note) > 500 {
		return header{}, domain.Validation(0, "note", "note must be at most 500 characters")
	}
	return h, nil
}

// applyPricePolicy zeroes prices for roles that may not set them.
func applyPricePolicy(actor domain.Actor, items []domain.ItemInput) []domain.ItemInput {
	if actor.Role != domain.RoleManager {
		return items
	}
	out := make([]domain.ItemInput, len(items))
	copy(out, items)
	for i := range out {
		zero := decimal.Zero
		out[i].UnitPrice = &zero
	}
	return out
}

func (s *Service) resolveReferences(ctx context.Context, h header, lines []ledger.Line) (map[string]domain.Product, error) {
	if _, err := s.repo.GetSupplier(ctx, h.supplierID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("supplier", h.supplierID)
		}
		return nil, err
	}
	if _, err := s.repo.GetDepartment(ctx, h.departmentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("department", h.departmentID)
		}
		return nil, err
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if !slices.Contains(ids, line.ProductID) {
			ids = append(ids, line.ProductID)
		}
	}
	products, err := s.lookupProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			return nil, domain.NotFound("product", line.ProductID).AtItem(line.Index)
		}
	}
	return products, nil
}

// lookupProducts reads through the product cache. Cache failures only cost a
// database round trip.
func (s *Service) lookupProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	missing := make([]string, 0)
	for _, id := range ids {
		product, ok, err := s.products.Get(ctx, id)
		if err != nil {
			s.logger.Warn("product cache read failed", zap.String("product_id", id), zap.Error(err))
		}
		if ok && product != nil {
			result[id] = *product
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	loaded, err := s.repo.GetProductsByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, product := range loaded {
		result[id] = product
		if err := s.products.Set(ctx, product, s.productTTL); err != nil {
			s.logger.Warn("product cache write failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) audit(ctx context.Context, tx store.Tx, actor domain.Actor, action string, entityID string, detail string) error {
	return tx.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New(),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    "supplier_transaction",
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	})
}

func (s *Service) publish(ctx context.Context, eventType string, doc domain.TransactionDocument, deltas []domain.LotDelta, actor domain.Actor) {
	event := events.LedgerEvent{
		EventID:       xid.New(),
		Type:          eventType,
		TransactionID: doc.ID,
		DocNo:         doc.DocNo,
		DocType:       doc.Type,
		Status:        doc.Status,
		DepartmentID:  doc.DepartmentID,
		TotalAmount:   doc.TotalAmount,
		LotDeltas:     deltas,
		Actor:         actor.Username,
		OccurredAt:    s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish ledger event",
			zap.String("type", eventType),
			zap.String("transaction_id", doc.ID),
			zap.Error(err))
	}
}

func (s *Service) logFailure(op string, id string, err error) {
	kind := domain.KindOf(err)
	fields := []zap.Field{zap.String("op", op), zap.String("kind", kind.String()), zap.Error(err)}
	if id != "" {
		fields = append(fields, zap.String("transaction_id", id))
	}
	if kind == domain.KindInternal {
		s.logger.Error("supplier transaction operation failed", fields...)
		return
	}
	s.logger.Warn("supplier transaction operation rejected", fields...)
}
