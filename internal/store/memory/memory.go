package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/inventory"
	"gudang/backend/internal/store"
)

// Store keeps everything in process memory. Units of work run against a
// private copy of the state that replaces the shared one only on success,
// and they are serialized by the write lock.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	products    map[string]domain.Product
	suppliers   map[string]domain.Supplier
	departments map[string]domain.Department
	lots        map[string]domain.InventoryLot
	documents   map[string]domain.TransactionDocument
	items       map[string][]domain.TransactionItem
	docSeq      map[string]int64
	auditLogs   []domain.AuditLog
}

func New() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		products:    make(map[string]domain.Product),
		suppliers:   make(map[string]domain.Supplier),
		departments: make(map[string]domain.Department),
		lots:        make(map[string]domain.InventoryLot),
		documents:   make(map[string]domain.TransactionDocument),
		items:       make(map[string][]domain.TransactionItem),
		docSeq:      make(map[string]int64),
		auditLogs:   make([]domain.AuditLog, 0, 128),
	}
}

func (s *state) clone() *state {
	dup := &state{
		products:    make(map[string]domain.Product, len(s.products)),
		suppliers:   make(map[string]domain.Supplier, len(s.suppliers)),
		departments: make(map[string]domain.Department, len(s.departments)),
		lots:        make(map[string]domain.InventoryLot, len(s.lots)),
		documents:   make(map[string]domain.TransactionDocument, len(s.documents)),
		items:       make(map[string][]domain.TransactionItem, len(s.items)),
		docSeq:      make(map[string]int64, len(s.docSeq)),
		auditLogs:   slices.Clone(s.auditLogs),
	}
	for k, v := range s.products {
		dup.products[k] = v
	}
	for k, v := range s.suppliers {
		dup.suppliers[k] = v
	}
	for k, v := range s.departments {
		dup.departments[k] = v
	}
	for k, v := range s.lots {
		dup.lots[k] = v
	}
	for k, v := range s.documents {
		dup.documents[k] = cloneDocument(v)
	}
	for k, v := range s.items {
		dup.items[k] = cloneItems(v)
	}
	for k, v := range s.docSeq {
		dup.docSeq[k] = v
	}
	return dup
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) AddProduct(product domain.Product) {
	s.mu.Lock()
	s.st.products[product.ID] = product
	s.mu.Unlock()
}

func (s *Store) AddSupplier(supplier domain.Supplier) {
	s.mu.Lock()
	s.st.suppliers[supplier.ID] = supplier
	s.mu.Unlock()
}

func (s *Store) AddDepartment(department domain.Department) {
	s.mu.Lock()
	s.st.departments[department.ID] = department
	s.mu.Unlock()
}

// SeedLot stores a lot as-is, outside of any document.
func (s *Store) SeedLot(lot domain.InventoryLot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = now
	}
	lot.UpdatedAt = now
	s.st.lots[lot.ID] = lot
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.st.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	supplier, ok := s.st.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) GetDepartment(_ context.Context, id string) (*domain.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	department, ok := s.st.departments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &department, nil
}

func (s *Store) FindAvailableLots(_ context.Context, productID string, departmentID string) ([]domain.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.findAvailableLots(productID, departmentID), nil
}

func (s *Store) GetLot(_ context.Context, id string) (*domain.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getLot(id)
}

func (s *Store) ListOpenLots(_ context.Context, filter domain.LotFilter) ([]domain.LotView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LotView, 0)
	for _, lot := range s.st.lots {
		if !lot.QtyOnHand.IsPositive() {
			continue
		}
		if filter.ProductID != "" && lot.ProductID != filter.ProductID {
			continue
		}
		if filter.DepartmentID != "" && lot.DepartmentID != filter.DepartmentID {
			continue
		}
		product := s.st.products[lot.ProductID]
		result = append(result, domain.LotView{
			InventoryLot: lot,
			ProductName:  product.Name,
			MainUnit:     product.MainUnit,
			PackUnit:     product.PackUnit,
		})
	}
	slices.SortFunc(result, func(a, b domain.LotView) int {
		if c := inventory.CompareFEFO(a.InventoryLot, b.InventoryLot); c != 0 {
			return c
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})
	limit := clampLimit(filter.Limit, 200, 1000)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*domain.TransactionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.st.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneDocument(doc)
	dup.Items = cloneItems(s.st.items[id])
	return &dup, nil
}

func (s *Store) ListDocuments(_ context.Context, filter domain.DocumentFilter) ([]domain.TransactionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.TransactionDocument, 0)
	for _, doc := range s.st.documents {
		if filter.SupplierID != "" && doc.SupplierID != filter.SupplierID {
			continue
		}
		if filter.DepartmentID != "" && doc.DepartmentID != filter.DepartmentID {
			continue
		}
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.From != nil && doc.TransDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && doc.TransDate.After(*filter.To) {
			continue
		}
		result = append(result, cloneDocument(doc))
	}
	slices.SortFunc(result, func(a, b domain.TransactionDocument) int {
		if c := b.TransDate.Compare(a.TransDate); c != 0 {
			return c
		}
		return strings.Compare(b.DocNo, a.DocNo)
	})
	limit := clampLimit(filter.Limit, 50, 500)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListAuditLogs(_ context.Context, entityID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit, 100, 1000)
	result := make([]domain.AuditLog, 0)
	for i := len(s.st.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.st.auditLogs[i]
		if entityID != "" && entry.EntityID != entityID {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

type memTx struct {
	st *state
}

func (t *memTx) FindAvailableLots(_ context.Context, productID string, departmentID string) ([]domain.InventoryLot, error) {
	return t.st.findAvailableLots(productID, departmentID), nil
}

func (t *memTx) GetLot(_ context.Context, id string) (*domain.InventoryLot, error) {
	return t.st.getLot(id)
}

func (t *memTx) FindOpenLot(_ context.Context, productID string, departmentID string, expiry time.Time) (*domain.InventoryLot, error) {
	for _, lot := range t.st.findAvailableLots(productID, departmentID) {
		if sameDay(lot.ExpiryDate, expiry) {
			return &lot, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) InsertLot(_ context.Context, lot domain.InventoryLot) (*domain.InventoryLot, error) {
	if _, exists := t.st.lots[lot.ID]; exists {
		return nil, store.ErrDuplicate
	}
	for _, existing := range t.st.lots {
		if existing.LotNo == lot.LotNo {
			return nil, store.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	lot.CreatedAt = now
	lot.UpdatedAt = now
	t.st.lots[lot.ID] = lot
	return &lot, nil
}

func (t *memTx) IncrementLot(_ context.Context, lotID string, qty decimal.Decimal) (*domain.InventoryLot, error) {
	lot, ok := t.st.lots[lotID]
	if !ok {
		return nil, store.ErrNotFound
	}
	lot.QtyOnHand = lot.QtyOnHand.Add(qty)
	lot.UpdatedAt = time.Now().UTC()
	t.st.lots[lotID] = lot
	return &lot, nil
}

func (t *memTx) DecrementLot(_ context.Context, lotID string, qty decimal.Decimal) (*domain.InventoryLot, error) {
	lot, ok := t.st.lots[lotID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if lot.QtyOnHand.LessThan(qty) {
		return nil, store.ErrInsufficientStock
	}
	lot.QtyOnHand = lot.QtyOnHand.Sub(qty)
	lot.UpdatedAt = time.Now().UTC()
	t.st.lots[lotID] = lot
	return &lot, nil
}

func (t *memTx) DeleteLot(_ context.Context, lotID string) error {
	if _, ok := t.st.lots[lotID]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.lots, lotID)
	for docID, items := range t.st.items {
		for i := range items {
			if items[i].LotID == lotID {
				items[i].LotID = ""
			}
		}
		t.st.items[docID] = items
	}
	return nil
}

func (t *memTx) CountLotReferences(_ context.Context, lotID string, excludeTransactionID string) (int, error) {
	count := 0
	for docID, items := range t.st.items {
		if docID == excludeTransactionID {
			continue
		}
		for _, item := range items {
			if item.LotID == lotID {
				count++
			}
		}
	}
	return count, nil
}

func (t *memTx) LockDocument(_ context.Context, id string) (*domain.TransactionDocument, error) {
	doc, ok := t.st.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneDocument(doc)
	return &dup, nil
}

func (t *memTx) ListItems(_ context.Context, transactionID string) ([]domain.TransactionItem, error) {
	return cloneItems(t.st.items[transactionID]), nil
}

func (t *memTx) NextDocumentSeq(_ context.Context, docType domain.DocumentType, day time.Time) (int64, error) {
	key := fmt.Sprintf("%s:%s", docType, day.UTC().Format("20060102"))
	t.st.docSeq[key]++
	return t.st.docSeq[key], nil
}

func (t *memTx) InsertDocument(_ context.Context, doc domain.TransactionDocument) error {
	if _, exists := t.st.documents[doc.ID]; exists {
		return store.ErrDuplicate
	}
	for _, existing := range t.st.documents {
		if existing.DocNo == doc.DocNo {
			return store.ErrDuplicate
		}
	}
	doc.Items = nil
	t.st.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (t *memTx) UpdateDocument(_ context.Context, doc domain.TransactionDocument) error {
	if _, ok := t.st.documents[doc.ID]; !ok {
		return store.ErrNotFound
	}
	doc.Items = nil
	t.st.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (t *memTx) DeleteDocument(_ context.Context, id string) error {
	if _, ok := t.st.documents[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.documents, id)
	delete(t.st.items, id)
	return nil
}

func (t *memTx) InsertItems(_ context.Context, items []domain.TransactionItem) error {
	for _, item := range items {
		if _, ok := t.st.documents[item.TransactionID]; !ok {
			return fmt.Errorf("insert item %s: %w", item.ID, store.ErrNotFound)
		}
		t.st.items[item.TransactionID] = append(t.st.items[item.TransactionID], cloneItem(item))
	}
	return nil
}

func (t *memTx) DeleteItems(_ context.Context, transactionID string) error {
	delete(t.st.items, transactionID)
	return nil
}

func (t *memTx) UpdateItemPrice(_ context.Context, itemID string, unitPrice decimal.Decimal) error {
	for docID, items := range t.st.items {
		for i := range items {
			if items[i].ID == itemID {
				items[i].UnitPrice = unitPrice
				t.st.items[docID] = items
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (t *memTx) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	t.st.auditLogs = append(t.st.auditLogs, entry)
	return nil
}

func (s *state) findAvailableLots(productID string, departmentID string) []domain.InventoryLot {
	result := make([]domain.InventoryLot, 0)
	for _, lot := range s.lots {
		if lot.ProductID != productID || lot.DepartmentID != departmentID {
			continue
		}
		if !lot.QtyOnHand.IsPositive() {
			continue
		}
		result = append(result, lot)
	}
	slices.SortFunc(result, inventory.CompareFEFO)
	return result
}

func (s *state) getLot(id string) (*domain.InventoryLot, error) {
	lot, ok := s.lots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &lot, nil
}

func cloneDocument(src domain.TransactionDocument) domain.TransactionDocument {
	dup := src
	if src.DueDate != nil {
		due := *src.DueDate
		dup.DueDate = &due
	}
	dup.Items = cloneItems(src.Items)
	return dup
}

func cloneItems(src []domain.TransactionItem) []domain.TransactionItem {
	if src == nil {
		return nil
	}
	dup := make([]domain.TransactionItem, len(src))
	for i, item := range src {
		dup[i] = cloneItem(item)
	}
	return dup
}

func cloneItem(src domain.TransactionItem) domain.TransactionItem {
	dup := src
	if src.ExpiryDate != nil {
		expiry := *src.ExpiryDate
		dup.ExpiryDate = &expiry
	}
	if src.Conversion != nil {
		conversion := *src.Conversion
		dup.Conversion = &conversion
	}
	return dup
}

func sameDay(a time.Time, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func clampLimit(limit int, fallback int, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
