package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/store"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return s
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gudang.db")
	ctx := context.Background()

	s := openTestStore(t, path)
	err := s.Apply(ctx, func(tx store.Tx) error {
		if err := tx.PutWarehouse(domain.Warehouse{ID: "wh-1", Name: "Gudang A", Prefix: "GDA"}); err != nil {
			return err
		}
		if err := tx.PutItem(domain.Item{
			ID:            "item-1",
			Name:          "Pallet Jack",
			WarehouseID:   "wh-1",
			CategoryID:    "cat-1",
			Quantity:      4,
			BaseCostCents: 250000,
			Status:        domain.ItemStatusFinished,
			Barcode:       "GDA-EQP-0001",
			LastUpdated:   time.Now().UTC(),
		}); err != nil {
			return err
		}
		_, err := tx.Enqueue(domain.SyncAction{Type: domain.ActionStockIn, Payload: []byte(`{"x":1}`)})
		return err
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.SetState(ctx, "barcode_seq", "17"); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)
	defer reopened.Close()

	item, err := reopened.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("get item after reopen: %v", err)
	}
	if item.Quantity != 4 || item.Barcode != "GDA-EQP-0001" {
		t.Fatalf("item did not survive reopen: %+v", item)
	}

	pending, err := reopened.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending after reopen: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != domain.ActionStockIn {
		t.Fatalf("queue did not survive reopen: %+v", pending)
	}

	seq, err := reopened.GetState(ctx, "barcode_seq")
	if err != nil || seq != "17" {
		t.Fatalf("app state did not survive reopen: %q %v", seq, err)
	}
}

func TestApplyRollsBackOnError(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "gudang.db"))
	defer s.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Apply(ctx, func(tx store.Tx) error {
		if err := tx.PutWarehouse(domain.Warehouse{ID: "wh-x", Name: "X", Prefix: "XXX"}); err != nil {
			return err
		}
		if _, err := tx.Enqueue(domain.SyncAction{Type: domain.ActionApprove, Payload: []byte(`{}`)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	if _, err := s.GetWarehouse(ctx, "wh-x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rolled-back warehouse is visible: %v", err)
	}
	count, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rolled-back queue entry is visible: %d", count)
	}
}

func TestQueueIDsAreMonotonicAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gudang.db")
	ctx := context.Background()

	s := openTestStore(t, path)
	first, err := s.Enqueue(ctx, domain.SyncAction{Type: domain.ActionStockIn, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)
	defer reopened.Close()
	second, err := reopened.Enqueue(ctx, domain.SyncAction{Type: domain.ActionStockOut, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue after reopen: %v", err)
	}
	if second <= first {
		t.Fatalf("queue ids must stay monotonic across restarts: %d then %d", first, second)
	}
}

func TestListTransactionsOrdersBySubsecondTimestamps(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "gudang.db"))
	defer s.Close()
	ctx := context.Background()

	// .5s versus .55s: trimmed fractional seconds would sort these two
	// backwards as text, fixed-width storage must not.
	earlier := time.Date(2026, 8, 26, 10, 0, 1, 500_000_000, time.UTC)
	later := time.Date(2026, 8, 26, 10, 0, 1, 550_000_000, time.UTC)

	err := s.Apply(ctx, func(tx store.Tx) error {
		if err := tx.PutTransaction(domain.Transaction{
			ID: "tx-earlier", Type: domain.TxTypeStockIn, ItemID: "item-1",
			WarehouseID: "wh-1", Quantity: 1, Status: domain.TxStatusPending,
			StaffName: "Budi", Timestamp: earlier,
		}); err != nil {
			return err
		}
		return tx.PutTransaction(domain.Transaction{
			ID: "tx-later", Type: domain.TxTypeStockIn, ItemID: "item-1",
			WarehouseID: "wh-1", Quantity: 1, Status: domain.TxStatusPending,
			StaffName: "Budi", Timestamp: later,
		})
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	txs, err := s.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].ID != "tx-later" || txs[1].ID != "tx-earlier" {
		t.Fatalf("newest-first order violated: got %s before %s", txs[0].ID, txs[1].ID)
	}
	if !txs[0].Timestamp.Equal(later) {
		t.Fatalf("timestamp did not round-trip: %v", txs[0].Timestamp)
	}
}

func TestMarkLifecycle(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "gudang.db"))
	defer s.Close()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, domain.SyncAction{Type: domain.ActionReject, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := s.MarkFailed(ctx, id); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Retries != 1 {
		t.Fatalf("expected one failed action with retries=1, got %+v", pending)
	}

	if err := s.MarkSynced(ctx, id); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := s.MarkFailed(ctx, id); err != nil {
		t.Fatalf("late mark failed: %v", err)
	}
	count, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 0 {
		t.Fatalf("synced action must be terminal, got %d pending", count)
	}
}
