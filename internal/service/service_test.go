package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/events"
	"gudang/backend/internal/store"
	"gudang/backend/internal/store/memory"
	"gudang/backend/internal/xid"
)

func newTestService() (*Service, *memory.Store, *events.Recorder) {
	repo := memory.NewSeeded()
	recorder := &events.Recorder{}
	svc := New(repo, Dependencies{Publisher: recorder})
	return svc, repo, recorder
}

func asRole(role string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: role + "-user", Role: role})
}

func dec(raw string) *decimal.Decimal {
	d := decimal.RequireFromString(raw)
	return &d
}

func seedLot(repo *memory.Store, productID string, expiry string, qty int64) domain.InventoryLot {
	exp, _ := time.Parse("2006-01-02", expiry)
	lot := domain.InventoryLot{
		ID:             xid.New(),
		ProductID:      productID,
		DepartmentID:   memory.SeedDepartmentID,
		LotNo:          "L" + strings.ReplaceAll(expiry, "-", "") + "-" + xid.New()[:6],
		ExpiryDate:     exp,
		QtyOnHand:      decimal.NewFromInt(qty),
		ConversionRate: decimal.NewFromInt(1),
	}
	repo.SeedLot(lot)
	return lot
}

func onHand(t *testing.T, repo *memory.Store, lotID string) decimal.Decimal {
	t.Helper()
	lot, err := repo.GetLot(context.Background(), lotID)
	if err != nil {
		t.Fatalf("get lot %s: %v", lotID, err)
	}
	return lot.QtyOnHand
}

func outDoc(items ...domain.ItemInput) domain.DocumentInput {
	return domain.DocumentInput{
		SupplierID:   memory.SeedSupplierID,
		DepartmentID: memory.SeedDepartmentID,
		Type:         domain.DocumentOut,
		Items:        items,
	}
}

func inDoc(items ...domain.ItemInput) domain.DocumentInput {
	doc := outDoc(items...)
	doc.Type = domain.DocumentIn
	return doc
}

func mainItem(productID string, qty string, price string) domain.ItemInput {
	return domain.ItemInput{ProductID: productID, MainQty: dec(qty), UnitPrice: dec(price)}
}

func TestCreateIncomingOpensLotFromPackQuantity(t *testing.T) {
	svc, repo, recorder := newTestService()
	ctx := asRole(domain.RoleStaff)

	doc, err := svc.CreateDocument(ctx, inDoc(domain.ItemInput{
		ProductID:      memory.SeedProductMilkID,
		PackQty:        dec("2"),
		PackUnit:       "box",
		MainUnit:       "can",
		ConversionRate: dec("24"),
		UnitPrice:      dec("5000"),
		ExpiryDate:     "2025-06-30",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(doc.DocNo, "ST-IN-") || doc.Status != domain.StatusDraft {
		t.Fatalf("unexpected header %s %s", doc.DocNo, doc.Status)
	}
	if len(doc.Items) != 1 || !doc.Items[0].Qty.Equal(decimal.NewFromInt(48)) {
		t.Fatalf("expected one item of 48, got %+v", doc.Items)
	}
	if !doc.TotalAmount.Equal(decimal.NewFromInt(240000)) {
		t.Fatalf("expected total 240000, got %s", doc.TotalAmount)
	}
	if doc.Items[0].Conversion == nil || doc.Items[0].Conversion.PackUnit != "box" {
		t.Fatalf("expected conversion info on item")
	}

	lot, err := repo.GetLot(context.Background(), doc.Items[0].LotID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	if !lot.QtyOnHand.Equal(decimal.NewFromInt(48)) || lot.ExpiryDate.Format("2006-01-02") != "2025-06-30" {
		t.Fatalf("unexpected lot %+v", lot)
	}
	if !lot.ConversionRate.Equal(decimal.NewFromInt(24)) {
		t.Fatalf("expected lot rate 24, got %s", lot.ConversionRate)
	}

	got := recorder.Events()
	if len(got) != 1 || got[0].Type != events.TypeCreated || len(got[0].LotDeltas) != 1 {
		t.Fatalf("expected one created event, got %+v", got)
	}
	logs, err := svc.ListAuditLogs(asRole(domain.RoleAdmin), doc.ID, 10)
	if err != nil || len(logs) != 1 || logs[0].Action != "supplier_transaction_create" || logs[0].ActorRole != domain.RoleStaff {
		t.Fatalf("expected create audit entry, got %+v err=%v", logs, err)
	}
}

func packOfMilk(expiry string) domain.ItemInput {
	return domain.ItemInput{
		ProductID:      memory.SeedProductMilkID,
		PackQty:        dec("2"),
		PackUnit:       "box",
		MainUnit:       "can",
		ConversionRate: dec("24"),
		UnitPrice:      dec("5000"),
		ExpiryDate:     expiry,
	}
}

func TestPackCreateThenDeleteRoundTrip(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := asRole(domain.RoleStaff)

	doc, err := svc.CreateDocument(ctx, inDoc(packOfMilk("2025-06-30")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	lotID := doc.Items[0].LotID
	if !onHand(t, repo, lotID).Equal(decimal.NewFromInt(48)) {
		t.Fatalf("expected 48 on hand, got %s", onHand(t, repo, lotID))
	}

	if err := svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetLot(context.Background(), lotID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected created lot removed, got %v", err)
	}
	lots, _ := svc.ListOpenLots(ctx, domain.LotFilter{ProductID: memory.SeedProductMilkID})
	if len(lots) != 0 {
		t.Fatalf("expected no open lots, got %d", len(lots))
	}
	if _, err := svc.GetDocument(ctx, doc.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted document to be gone, got %v", err)
	}

	// augmenting an existing lot is undone to the exact previous balance
	existing := seedLot(repo, memory.SeedProductMilkID, "2025-06-30", 5)
	existingBefore := onHand(t, repo, existing.ID)
	doc, err = svc.CreateDocument(ctx, inDoc(packOfMilk("2025-06-30")))
	if err != nil {
		t.Fatalf("create on existing lot: %v", err)
	}
	if doc.Items[0].LotID != existing.ID || !onHand(t, repo, existing.ID).Equal(decimal.NewFromInt(53)) {
		t.Fatalf("expected existing lot augmented to 53, got %s on %s", onHand(t, repo, existing.ID), doc.Items[0].LotID)
	}
	if err := svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := onHand(t, repo, existing.ID); !got.Equal(existingBefore) || got.String() != existingBefore.String() {
		t.Fatalf("expected exactly %s restored, got %s", existingBefore, got)
	}
}

func TestUpdateIncomingKeepsItsOwnLot(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := asRole(domain.RoleStaff)

	item := mainItem(memory.SeedProductRiceID, "10", "10")
	item.ExpiryDate = "2025-09-01"
	doc, err := svc.CreateDocument(ctx, inDoc(item))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	lotID := doc.Items[0].LotID
	lot, _ := repo.GetLot(context.Background(), lotID)
	lotNo := lot.LotNo

	item.MainQty = dec("12")
	item.LotID = lotID
	updated, err := svc.UpdateDocument(ctx, doc.ID, inDoc(item))
	if err != nil {
		t.Fatalf("update keeping lot id: %v", err)
	}
	if updated.Items[0].LotID != lotID || !updated.Items[0].CreatedLot {
		t.Fatalf("expected item to stay on its own lot, got %+v", updated.Items[0])
	}
	if !onHand(t, repo, lotID).Equal(decimal.NewFromInt(12)) {
		t.Fatalf("expected 12 on hand, got %s", onHand(t, repo, lotID))
	}

	item.MainQty = dec("7")
	item.LotID = ""
	updated, err = svc.UpdateDocument(ctx, doc.ID, inDoc(item))
	if err != nil {
		t.Fatalf("update without lot id: %v", err)
	}
	lot, err = repo.GetLot(context.Background(), lotID)
	if err != nil || updated.Items[0].LotID != lotID || lot.LotNo != lotNo || !lot.QtyOnHand.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected lot %s (%s) to hold 7, got %+v err=%v", lotID, lotNo, lot, err)
	}

	// moving to another expiry opens a new lot and drops the emptied one
	item.ExpiryDate = "2025-10-01"
	updated, err = svc.UpdateDocument(ctx, doc.ID, inDoc(item))
	if err != nil {
		t.Fatalf("update to new expiry: %v", err)
	}
	newLotID := updated.Items[0].LotID
	if newLotID == lotID || !updated.Items[0].CreatedLot {
		t.Fatalf("expected a new created lot, got %+v", updated.Items[0])
	}
	if _, err := repo.GetLot(context.Background(), lotID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected emptied lot removed, got %v", err)
	}

	if err := svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetLot(context.Background(), newLotID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected lot removed on delete, got %v", err)
	}
}

func TestOutSplitsAcrossLotsAndDeleteRestores(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := asRole(domain.RoleStaff)
	early := seedLot(repo, memory.SeedProductMilkID, "2025-01-10", 5)
	late := seedLot(repo, memory.SeedProductMilkID, "2025-02-10", 10)

	doc, err := svc.CreateDocument(ctx, outDoc(mainItem(memory.SeedProductMilkID, "8", "100")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(doc.Items) != 2 || doc.Items[0].LotID != early.ID || doc.Items[1].LotID != late.ID {
		t.Fatalf("expected FEFO split, got %+v", doc.Items)
	}
	if !onHand(t, repo, early.ID).IsZero() || !onHand(t, repo, late.ID).Equal(decimal.NewFromInt(7)) {
		t.Fatalf("unexpected lot balances after out")
	}

	if err := svc.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !onHand(t, repo, early.ID).Equal(decimal.NewFromInt(5)) || !onHand(t, repo, late.ID).Equal(decimal.NewFromInt(10)) {
		t.Fatalf("delete must restore both lots")
	}
}

func TestFailedItemLeavesNoTrace(t *testing.T) {
	svc, repo, recorder := newTestService()
	ctx := asRole(domain.RoleStaff)
	lot := seedLot(repo, memory.SeedProductMilkID, "2025-01-10", 5)

	_, err := svc.CreateDocument(ctx, outDoc(
		mainItem(memory.SeedProductMilkID, "3", "1"),
		mainItem(memory.SeedProductMilkID, "3", "1"),
	))
	de, ok := domain.AsError(err)
	if !ok || de.Kind != domain.KindInsufficientStock || de.Item != 2 || !de.Shortfall.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected shortfall 1 on item 2, got %v", err)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(5)) {
		t.Fatalf("failed create must not move stock")
	}
	docs, _ := svc.ListDocuments(ctx, domain.DocumentFilter{})
	if len(docs) != 0 || len(recorder.Events()) != 0 {
		t.Fatalf("failed create must not persist or publish")
	}

	_, err = svc.CreateDocument(ctx, outDoc(
		mainItem(memory.SeedProductMilkID, "1", "1"),
		domain.ItemInput{ProductID: xid.New(), MainQty: dec("1"), UnitPrice: dec("1")},
	))
	de, ok = domain.AsError(err)
	if !ok || de.Kind != domain.KindNotFound || de.Item != 2 {
		t.Fatalf("expected unknown product on item 2, got %v", err)
	}
}

func TestUpdateRevertsThenReapplies(t *testing.T) {
	svc, repo, recorder := newTestService()
	ctx := asRole(domain.RoleStaff)
	milk := seedLot(repo, memory.SeedProductMilkID, "2025-03-01", 20)
	rice := seedLot(repo, memory.SeedProductRiceID, "2025-03-01", 20)

	doc, err := svc.CreateDocument(ctx, outDoc(mainItem(memory.SeedProductMilkID, "10", "1")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, err := svc.UpdateDocument(ctx, doc.ID, outDoc(
		mainItem(memory.SeedProductMilkID, "4", "1"),
		mainItem(memory.SeedProductRiceID, "6", "2"),
	))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !onHand(t, repo, milk.ID).Equal(decimal.NewFromInt(16)) || !onHand(t, repo, rice.ID).Equal(decimal.NewFromInt(14)) {
		t.Fatalf("unexpected balances milk=%s rice=%s", onHand(t, repo, milk.ID), onHand(t, repo, rice.ID))
	}
	if !updated.TotalAmount.Equal(decimal.NewFromInt(16)) || updated.DocNo != doc.DocNo {
		t.Fatalf("unexpected updated document %+v", updated)
	}

	last := recorder.Events()[len(recorder.Events())-1]
	if last.Type != events.TypeUpdated || len(last.LotDeltas) != 2 {
		t.Fatalf("expected net deltas for two lots, got %+v", last)
	}

	// an update that cannot be covered leaves the previous state in place
	_, err = svc.UpdateDocument(ctx, doc.ID, outDoc(mainItem(memory.SeedProductMilkID, "21", "1")))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !onHand(t, repo, milk.ID).Equal(decimal.NewFromInt(16)) || !onHand(t, repo, rice.ID).Equal(decimal.NewFromInt(14)) {
		t.Fatalf("failed update must not move stock")
	}
}

func TestAdminLockBlocksMutations(t *testing.T) {
	svc, repo, _ := newTestService()
	staff := asRole(domain.RoleStaff)
	admin := asRole(domain.RoleAdmin)
	lot := seedLot(repo, memory.SeedProductMilkID, "2025-03-01", 20)

	doc, err := svc.CreateDocument(staff, outDoc(mainItem(memory.SeedProductMilkID, "5", "1")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.SetAdminLock(staff, doc.ID, true); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("staff must not lock, got %v", err)
	}
	if _, err := svc.SetAdminLock(admin, doc.ID, true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	// invalid items still report the lock first
	if _, err := svc.UpdateDocument(staff, doc.ID, outDoc()); !errors.Is(err, domain.ErrDocumentLocked) {
		t.Fatalf("expected locked on update, got %v", err)
	}
	if err := svc.DeleteDocument(staff, doc.ID); !errors.Is(err, domain.ErrDocumentLocked) {
		t.Fatalf("expected locked on delete, got %v", err)
	}
	if _, err := svc.UpdatePrices(asRole(domain.RoleAccountant), doc.ID, []domain.PriceUpdate{{ItemID: doc.Items[0].ID, UnitPrice: dec("9")}}); !errors.Is(err, domain.ErrDocumentLocked) {
		t.Fatalf("expected locked on price update, got %v", err)
	}
	if _, err := svc.SetStatus(staff, doc.ID, domain.StatusCancelled); !errors.Is(err, domain.ErrDocumentLocked) {
		t.Fatalf("expected locked on status change, got %v", err)
	}
	if _, err := svc.SetStatus(staff, doc.ID, domain.DocumentStatus("archived")); !errors.Is(err, domain.ErrDocumentLocked) {
		t.Fatalf("expected locked before status validation, got %v", err)
	}
	if _, err := svc.SetStatus(staff, doc.ID, domain.StatusPaid); !errors.Is(err, domain.ErrDocumentLocked) {
		t.Fatalf("expected locked before role check for paid, got %v", err)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(15)) {
		t.Fatalf("locked document must not move stock")
	}
	after, _ := svc.GetDocument(staff, doc.ID)
	if !after.TotalAmount.Equal(doc.TotalAmount) || len(after.Items) != 1 {
		t.Fatalf("locked document changed: %+v", after)
	}

	if _, err := svc.SetAdminLock(admin, doc.ID, false); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := svc.DeleteDocument(staff, doc.ID); err != nil {
		t.Fatalf("delete after unlock: %v", err)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(20)) {
		t.Fatalf("delete must restore stock")
	}
}

func TestConcurrentOutsNeverOverdraw(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := asRole(domain.RoleStaff)
	lot := seedLot(repo, memory.SeedProductMilkID, "2025-03-01", 10)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.CreateDocument(ctx, outDoc(mainItem(memory.SeedProductMilkID, "7", "1")))
		}(i)
	}
	wg.Wait()

	succeeded, short := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || short != 1 {
		t.Fatalf("expected one success and one shortfall, got %d/%d", succeeded, short)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected 3 left, got %s", onHand(t, repo, lot.ID))
	}
}

func TestUpdatePricesKeepsStock(t *testing.T) {
	svc, repo, _ := newTestService()
	lot := seedLot(repo, memory.SeedProductMilkID, "2025-03-01", 10)
	doc, err := svc.CreateDocument(asRole(domain.RoleStaff), outDoc(mainItem(memory.SeedProductMilkID, "4", "100")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpdatePrices(asRole(domain.RoleStaff), doc.ID, []domain.PriceUpdate{{ItemID: doc.Items[0].ID, UnitPrice: dec("1")}}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("staff must not change prices, got %v", err)
	}

	accountant := asRole(domain.RoleAccountant)
	updated, err := svc.UpdatePrices(accountant, doc.ID, []domain.PriceUpdate{{ItemID: doc.Items[0].ID, UnitPrice: dec("125.5")}})
	if err != nil {
		t.Fatalf("update prices: %v", err)
	}
	if !updated.TotalAmount.Equal(decimal.NewFromInt(502)) || !updated.Items[0].UnitPrice.Equal(decimal.RequireFromString("125.5")) {
		t.Fatalf("unexpected document %+v", updated)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(6)) {
		t.Fatalf("price update must not move stock")
	}

	_, err = svc.UpdatePrices(accountant, doc.ID, []domain.PriceUpdate{{ItemID: doc.Items[0].ID, UnitPrice: dec("1")}, {ItemID: xid.New(), UnitPrice: dec("1")}})
	de, ok := domain.AsError(err)
	if !ok || de.Kind != domain.KindNotFound || de.Item != 2 {
		t.Fatalf("expected unknown item 2, got %v", err)
	}
	stored, _ := svc.GetDocument(accountant, doc.ID)
	if !stored.TotalAmount.Equal(decimal.NewFromInt(502)) {
		t.Fatalf("failed price update must not persist, total %s", stored.TotalAmount)
	}
}

func TestManagerPricesAreZeroed(t *testing.T) {
	svc, _, _ := newTestService()
	item := mainItem(memory.SeedProductMilkID, "3", "999")
	item.ExpiryDate = "2025-10-01"
	doc, err := svc.CreateDocument(asRole(domain.RoleManager), inDoc(item))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !doc.Items[0].UnitPrice.IsZero() || !doc.TotalAmount.IsZero() {
		t.Fatalf("manager prices must be zero, got %+v", doc.Items[0])
	}
	if _, err := svc.CreateDocument(asRole(domain.RoleAccountant), inDoc(item)); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("accountant must not create, got %v", err)
	}
}

func TestStatusLifecycleAndPayments(t *testing.T) {
	svc, repo, _ := newTestService()
	staff := asRole(domain.RoleStaff)
	accountant := asRole(domain.RoleAccountant)
	lot := seedLot(repo, memory.SeedProductMilkID, "2025-03-01", 10)

	doc, err := svc.CreateDocument(staff, outDoc(mainItem(memory.SeedProductMilkID, "4", "25")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.RecordPayment(accountant, doc.ID, decimal.NewFromInt(10)); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("draft must not take payments, got %v", err)
	}
	if _, err := svc.SetStatus(staff, doc.ID, domain.StatusPending); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if _, err := svc.RecordPayment(accountant, doc.ID, decimal.NewFromInt(101)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("overpayment must fail, got %v", err)
	}
	partial, err := svc.RecordPayment(accountant, doc.ID, decimal.NewFromInt(40))
	if err != nil || partial.Status != domain.StatusPending {
		t.Fatalf("partial payment: %v %+v", err, partial)
	}
	paid, err := svc.RecordPayment(accountant, doc.ID, decimal.NewFromInt(60))
	if err != nil || paid.Status != domain.StatusPaid || !paid.PaidAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("full payment: %v %+v", err, paid)
	}

	if _, err := svc.UpdateDocument(staff, doc.ID, outDoc(mainItem(memory.SeedProductMilkID, "1", "1"))); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("paid document must reject edits, got %v", err)
	}
	if _, err := svc.SetStatus(staff, doc.ID, domain.StatusCancelled); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("paid document must not be cancelled, got %v", err)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(6)) {
		t.Fatalf("unexpected stock %s", onHand(t, repo, lot.ID))
	}
}

func TestCancelRevertsOnceAndDeleteDoesNotRevertAgain(t *testing.T) {
	svc, repo, _ := newTestService()
	staff := asRole(domain.RoleStaff)
	lot := seedLot(repo, memory.SeedProductMilkID, "2025-03-01", 10)

	doc, err := svc.CreateDocument(staff, outDoc(mainItem(memory.SeedProductMilkID, "4", "1")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := svc.SetStatus(staff, doc.ID, domain.StatusCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled || len(cancelled.Items) != 1 {
		t.Fatalf("cancelled document must keep its items, got %+v", cancelled)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(10)) {
		t.Fatalf("cancel must restore stock, got %s", onHand(t, repo, lot.ID))
	}
	if _, err := svc.SetStatus(staff, doc.ID, domain.StatusPending); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("cancelled is terminal, got %v", err)
	}
	if err := svc.DeleteDocument(staff, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(10)) {
		t.Fatalf("delete of cancelled document must not revert twice, got %s", onHand(t, repo, lot.ID))
	}
}

func TestPreviewOutDoesNotReserve(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := asRole(domain.RoleStaff)
	lot := seedLot(repo, memory.SeedProductMilkID, "2025-03-01", 10)

	plan, err := svc.PreviewOut(ctx, memory.SeedProductMilkID, memory.SeedDepartmentID, decimal.NewFromInt(4))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(plan) != 1 || plan[0].LotID != lot.ID || !plan[0].AvailableQty.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if !onHand(t, repo, lot.ID).Equal(decimal.NewFromInt(10)) {
		t.Fatalf("preview must not move stock")
	}

	_, err = svc.PreviewOut(ctx, memory.SeedProductMilkID, memory.SeedDepartmentID, decimal.NewFromInt(12))
	de, ok := domain.AsError(err)
	if !ok || de.Kind != domain.KindInsufficientStock || !de.Shortfall.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected shortfall 2, got %v", err)
	}
}

type stubProductCache struct {
	products map[string]domain.Product
	sets     int
}

func (c *stubProductCache) Get(_ context.Context, id string) (*domain.Product, bool, error) {
	p, ok := c.products[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *stubProductCache) Set(_ context.Context, product domain.Product, _ time.Duration) error {
	c.sets++
	c.products[product.ID] = product
	return nil
}

func TestProductLookupFillsCache(t *testing.T) {
	repo := memory.NewSeeded()
	productCache := &stubProductCache{products: map[string]domain.Product{}}
	svc := New(repo, Dependencies{ProductCache: productCache})

	item := mainItem(memory.SeedProductMilkID, "1", "1")
	item.ExpiryDate = "2025-10-01"
	for i := 0; i < 2; i++ {
		if _, err := svc.CreateDocument(context.Background(), inDoc(item)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if productCache.sets != 1 {
		t.Fatalf("expected one cache fill, got %d", productCache.sets)
	}
}

func TestRejectedOperationsLogAtWarn(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	repo := memory.NewSeeded()
	svc := New(repo, Dependencies{Logger: zap.New(core)})
	seedLot(repo, memory.SeedProductMilkID, "2025-03-01", 5)

	_, err := svc.CreateDocument(asRole(domain.RoleStaff), outDoc(mainItem(memory.SeedProductMilkID, "9", "1")))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	rejected := logs.FilterMessage("supplier transaction operation rejected").All()
	if len(rejected) != 1 {
		t.Fatalf("expected one rejection entry, got %d", len(rejected))
	}
	entry := rejected[0]
	if entry.Level != zapcore.WarnLevel || entry.LoggerName != "service" {
		t.Fatalf("expected warn from service logger, got %s from %q", entry.Level, entry.LoggerName)
	}
	if entry.ContextMap()["kind"] != "insufficient_stock" {
		t.Fatalf("expected kind field, got %v", entry.ContextMap())
	}
}
