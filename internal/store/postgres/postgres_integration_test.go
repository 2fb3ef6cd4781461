package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/service"
	"gudang/backend/internal/store"
	"gudang/backend/internal/xid"
)

type fixture struct {
	store        *Store
	supplierID   string
	departmentID string
	productID    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	databaseURL := os.Getenv("GUDANG_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GUDANG_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := fixture{store: s, supplierID: xid.New(), departmentID: xid.New(), productID: xid.New()}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM supplier_transactions WHERE department_id = $1`, f.departmentID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_lots WHERE department_id = $1`, f.departmentID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, f.productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM departments WHERE id = $1`, f.departmentID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, f.supplierID)
		_ = s.Close()
	})

	for _, stmt := range []struct {
		query string
		args  []any
	}{
		{`INSERT INTO suppliers (id, name) VALUES ($1, 'Supplier IT')`, []any{f.supplierID}},
		{`INSERT INTO departments (id, name) VALUES ($1, 'Department IT')`, []any{f.departmentID}},
		{`INSERT INTO products (id, name, main_unit, pack_unit, conversion_rate) VALUES ($1, 'Produk IT', 'can', 'box', 24)`, []any{f.productID}},
	} {
		if _, err := s.db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return f
}

func (f fixture) input(docType domain.DocumentType, qty string, expiry string) domain.DocumentInput {
	q := decimal.RequireFromString(qty)
	price := decimal.NewFromInt(10)
	return domain.DocumentInput{
		SupplierID:   f.supplierID,
		DepartmentID: f.departmentID,
		Type:         docType,
		Items: []domain.ItemInput{{
			ProductID:  f.productID,
			MainQty:    &q,
			UnitPrice:  &price,
			ExpiryDate: expiry,
		}},
	}
}

func TestDocumentRoundTripRestoresLots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := service.New(f.store, service.Dependencies{})

	in, err := svc.CreateDocument(ctx, f.input(domain.DocumentIn, "48", "2030-01-31"))
	if err != nil {
		t.Fatalf("create in: %v", err)
	}
	lotID := in.Items[0].LotID

	out, err := svc.CreateDocument(ctx, f.input(domain.DocumentOut, "8", ""))
	if err != nil {
		t.Fatalf("create out: %v", err)
	}
	lot, err := f.store.GetLot(ctx, lotID)
	if err != nil || !lot.QtyOnHand.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected 40 on hand, got %v err=%v", lot, err)
	}

	if err := svc.DeleteDocument(ctx, out.ID); err != nil {
		t.Fatalf("delete out: %v", err)
	}
	if err := svc.DeleteDocument(ctx, in.ID); err != nil {
		t.Fatalf("delete in: %v", err)
	}
	if _, err := f.store.GetLot(ctx, lotID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected lot removed, got %v", err)
	}
}

func TestConcurrentDecrementsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := service.New(f.store, service.Dependencies{})

	if _, err := svc.CreateDocument(ctx, f.input(domain.DocumentIn, "10", "2030-01-31")); err != nil {
		t.Fatalf("create in: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.CreateDocument(ctx, f.input(domain.DocumentOut, "7", ""))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one success, got %d", succeeded)
	}

	lots, err := f.store.FindAvailableLots(ctx, f.productID, f.departmentID)
	if err != nil || len(lots) != 1 || !lots[0].QtyOnHand.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected 3 left, got %+v err=%v", lots, err)
	}
}

func TestNextDocumentSeqIncrementsPerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2001, 2, 3, 0, 0, 0, 0, time.UTC)
	t.Cleanup(func() {
		_, _ = f.store.db.ExecContext(ctx, `DELETE FROM supplier_transaction_doc_seq WHERE day = $1`, day)
	})

	var first, second int64
	err := f.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		if first, err = tx.NextDocumentSeq(ctx, domain.DocumentIn, day); err != nil {
			return err
		}
		second, err = tx.NextDocumentSeq(ctx, domain.DocumentIn, day)
		return err
	})
	if err != nil {
		t.Fatalf("seq: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected consecutive numbers, got %d then %d", first, second)
	}
}
