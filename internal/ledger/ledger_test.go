package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gudangsync/backend/internal/assetcache"
	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/store"
	"gudangsync/backend/internal/store/memory"
)

func newTestService() (*Service, store.Store) {
	durable := memory.NewSeeded()
	svc := New(durable, assetcache.NoopAssetCache{}, nil, "wh-hub")
	return svc, durable
}

func TestRequestStockInCreatesPendingTransactionAndQueueEntry(t *testing.T) {
	svc, durable := newTestService()
	ctx := context.Background()

	trx, err := svc.RequestStockIn(ctx, domain.StockRequest{
		ItemID:    "item-scanner",
		Quantity:  10,
		StaffName: "Budi",
	})
	if err != nil {
		t.Fatalf("request stock-in failed: %v", err)
	}
	if trx.Status != domain.TxStatusPending {
		t.Fatalf("expected PENDING transaction, got %s", trx.Status)
	}
	if trx.Type != domain.TxTypeStockIn {
		t.Fatalf("expected STOCK_IN, got %s", trx.Type)
	}

	item, err := durable.GetItem(ctx, "item-scanner")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Quantity != 40 {
		t.Fatalf("quantity must not change before approval, got %d", item.Quantity)
	}

	pending, err := durable.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued action, got %d", len(pending))
	}
	if pending[0].Type != domain.ActionStockIn {
		t.Fatalf("expected STOCK_IN action, got %s", pending[0].Type)
	}
	var queued domain.Transaction
	if err := unmarshalPayload(pending[0].Payload, &queued); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if queued.ID != trx.ID {
		t.Fatalf("queued payload references %s, want %s", queued.ID, trx.ID)
	}
}

func TestRequestRejectsNonPositiveQuantity(t *testing.T) {
	svc, durable := newTestService()
	ctx := context.Background()

	for _, qty := range []int{0, -3} {
		_, err := svc.RequestStockIn(ctx, domain.StockRequest{ItemID: "item-scanner", Quantity: qty})
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("qty %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}

	// Validation failure must leave no transaction and no queue entry.
	count, err := durable.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty queue after rejected requests, got %d", count)
	}
	txs, err := durable.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(txs))
	}
}

func TestRequestStockOutSoftChecksAvailability(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.RequestStockOut(ctx, domain.StockRequest{ItemID: "item-scanner", Quantity: 41})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if _, err := svc.RequestStockOut(ctx, domain.StockRequest{ItemID: "item-scanner", Quantity: 40}); err != nil {
		t.Fatalf("request at exact availability should pass: %v", err)
	}
}

func TestRequestTransferValidatesTarget(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.RequestTransfer(ctx, domain.TransferRequest{
		ItemID:            "item-scanner",
		TargetWarehouseID: "wh-hub",
		Quantity:          5,
	})
	if !errors.Is(err, ErrInvalidTransfer) {
		t.Fatalf("transfer to own warehouse: expected ErrInvalidTransfer, got %v", err)
	}

	_, err = svc.RequestTransfer(ctx, domain.TransferRequest{
		ItemID:            "item-scanner",
		TargetWarehouseID: "wh-nowhere",
		Quantity:          5,
	})
	if !errors.Is(err, ErrInvalidTransfer) {
		t.Fatalf("transfer to unknown warehouse: expected ErrInvalidTransfer, got %v", err)
	}
}

func TestApproveStockOutDecrementsOnce(t *testing.T) {
	svc, durable := newTestService()
	ctx := context.Background()

	trx, err := svc.RequestStockOut(ctx, domain.StockRequest{ItemID: "item-scanner", Quantity: 15, StaffName: "Budi"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := svc.Approve(ctx, trx.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Second approval of the same transaction must be a no-op.
	if err := svc.Approve(ctx, trx.ID); err != nil {
		t.Fatalf("duplicate approve: %v", err)
	}

	item, err := durable.GetItem(ctx, "item-scanner")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Quantity != 25 {
		t.Fatalf("expected 25 after one 15-unit stock-out, got %d", item.Quantity)
	}

	approved, err := durable.GetTransaction(ctx, trx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if approved.Status != domain.TxStatusApproved {
		t.Fatalf("expected APPROVED, got %s", approved.Status)
	}
}

func TestApproveUnknownTransactionIsNoOp(t *testing.T) {
	svc, _ := newTestService()

	if err := svc.Approve(context.Background(), "tx-does-not-exist"); err != nil {
		t.Fatalf("approve on unknown id must be tolerated, got %v", err)
	}
}

func TestApproveInsufficientStockLeavesTransactionPending(t *testing.T) {
	svc, durable := newTestService()
	ctx := context.Background()

	trx, err := svc.RequestStockOut(ctx, domain.StockRequest{ItemID: "item-scanner", Quantity: 30})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// Drain most of the stock behind the pending transaction's back.
	other, err := svc.RequestStockOut(ctx, domain.StockRequest{ItemID: "item-scanner", Quantity: 25})
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if err := svc.Approve(ctx, other.ID); err != nil {
		t.Fatalf("approve second: %v", err)
	}

	err = svc.Approve(ctx, trx.ID)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	item, err := durable.GetItem(ctx, "item-scanner")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Quantity != 15 {
		t.Fatalf("failed approval must not touch the item, got quantity %d", item.Quantity)
	}
	stillPending, err := durable.GetTransaction(ctx, trx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if stillPending.Status != domain.TxStatusPending {
		t.Fatalf("transaction must stay PENDING for re-decision, got %s", stillPending.Status)
	}
}

func TestTransferMergeVersusCreate(t *testing.T) {
	svc, durable := newTestService()
	ctx := context.Background()

	// item-scanner (ELC) lives only in wh-hub, so the first transfer clones.
	first, err := svc.RequestTransfer(ctx, domain.TransferRequest{
		ItemID:            "item-scanner",
		TargetWarehouseID: "wh-east",
		Quantity:          10,
	})
	if err != nil {
		t.Fatalf("first transfer request: %v", err)
	}
	if err := svc.Approve(ctx, first.ID); err != nil {
		t.Fatalf("approve first transfer: %v", err)
	}

	items, err := durable.ListItems(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	var clone *domain.Item
	for i := range items {
		if items[i].WarehouseID == "wh-east" && items[i].Name == "Handheld Scanner" {
			clone = &items[i]
		}
	}
	if clone == nil {
		t.Fatalf("expected a cloned item in wh-east")
	}
	if clone.Quantity != 10 {
		t.Fatalf("expected clone quantity 10, got %d", clone.Quantity)
	}
	if clone.ID == "item-scanner" {
		t.Fatalf("clone must get a fresh id")
	}
	if !strings.HasPrefix(clone.Barcode, "EST-ELC-") {
		t.Fatalf("expected barcode prefix EST-ELC-, got %s", clone.Barcode)
	}
	if clone.BaseCostCents != 120000 || clone.Status != domain.ItemStatusFinished {
		t.Fatalf("clone must carry the source cost fields and status")
	}

	// The second transfer must merge into the clone, not create a sibling.
	second, err := svc.RequestTransfer(ctx, domain.TransferRequest{
		ItemID:            "item-scanner",
		TargetWarehouseID: "wh-east",
		Quantity:          5,
	})
	if err != nil {
		t.Fatalf("second transfer request: %v", err)
	}
	if err := svc.Approve(ctx, second.ID); err != nil {
		t.Fatalf("approve second transfer: %v", err)
	}

	items, err = durable.ListItems(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	matches := 0
	for _, item := range items {
		if item.WarehouseID == "wh-east" && item.Name == "Handheld Scanner" {
			matches++
			if item.Quantity != 15 {
				t.Fatalf("expected merged quantity 15, got %d", item.Quantity)
			}
		}
	}
	if matches != 1 {
		t.Fatalf("expected exactly one scanner item in wh-east, got %d", matches)
	}

	source, err := durable.GetItem(ctx, "item-scanner")
	if err != nil {
		t.Fatalf("get source item: %v", err)
	}
	if source.Quantity != 25 {
		t.Fatalf("expected source quantity 25 after two transfers, got %d", source.Quantity)
	}
}

func TestApproveEnqueuesApproveAction(t *testing.T) {
	svc, durable := newTestService()
	ctx := context.Background()

	trx, err := svc.RequestStockIn(ctx, domain.StockRequest{ItemID: "item-label", Quantity: 100})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := svc.Approve(ctx, trx.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pending, err := durable.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected request + approve actions, got %d", len(pending))
	}
	if pending[1].Type != domain.ActionApprove {
		t.Fatalf("expected APPROVE action second, got %s", pending[1].Type)
	}
	var payload domain.ApprovalPayload
	if err := unmarshalPayload(pending[1].Payload, &payload); err != nil {
		t.Fatalf("decode approve payload: %v", err)
	}
	if payload.TxID != trx.ID {
		t.Fatalf("approve payload references %s, want %s", payload.TxID, trx.ID)
	}
}

func TestRejectRequiresReasonAndStoresItVerbatim(t *testing.T) {
	svc, durable := newTestService()
	ctx := context.Background()

	trx, err := svc.RequestStockOut(ctx, domain.StockRequest{ItemID: "item-carton", Quantity: 50})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := svc.Reject(ctx, trx.ID, "  "); !errors.Is(err, ErrEmptyReason) {
		t.Fatalf("expected ErrEmptyReason, got %v", err)
	}
	unchanged, err := durable.GetTransaction(ctx, trx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if unchanged.Status != domain.TxStatusPending {
		t.Fatalf("refused reject must not change state, got %s", unchanged.Status)
	}

	if err := svc.Reject(ctx, trx.ID, "Hub Capacity Reached"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	rejected, err := durable.GetTransaction(ctx, trx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if rejected.Status != domain.TxStatusRejected {
		t.Fatalf("expected REJECTED, got %s", rejected.Status)
	}
	if rejected.RejectionReason != "Hub Capacity Reached" {
		t.Fatalf("reason must be stored verbatim, got %q", rejected.RejectionReason)
	}

	item, err := durable.GetItem(ctx, "item-carton")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Quantity != 120 {
		t.Fatalf("reject must not mutate items, got %d", item.Quantity)
	}

	// Reject on a terminal transaction is a tolerated no-op.
	if err := svc.Reject(ctx, trx.ID, "again"); err != nil {
		t.Fatalf("duplicate reject: %v", err)
	}
	final, _ := durable.GetTransaction(ctx, trx.ID)
	if final.RejectionReason != "Hub Capacity Reached" {
		t.Fatalf("duplicate reject overwrote the reason: %q", final.RejectionReason)
	}
}

func TestUpsertCategoryEnforcesCodeAndNesting(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.UpsertCategory(ctx, domain.CategoryUpsertRequest{Name: "Tools", Code: "TOOL"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("4-char code must be refused, got %v", err)
	}

	// cat-pkg-box already has a parent; nesting under it would be two levels.
	_, err := svc.UpsertCategory(ctx, domain.CategoryUpsertRequest{Name: "Small Boxes", Code: "SBX", ParentID: "cat-pkg-box"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("two-level nesting must be refused, got %v", err)
	}

	created, err := svc.UpsertCategory(ctx, domain.CategoryUpsertRequest{Name: "Tools", Code: "tol"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created.Code != "TOL" {
		t.Fatalf("code must be uppercased, got %s", created.Code)
	}
}

func TestUpsertItemGeneratesBarcode(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	item, err := svc.UpsertItem(ctx, domain.ItemUpsertRequest{
		Name:        "Pallet Wrap",
		WarehouseID: "wh-east",
		CategoryID:  "cat-pkg",
		Quantity:    60,
	})
	if err != nil {
		t.Fatalf("upsert item: %v", err)
	}
	// Seed data consumed suffixes 1-3, so the next allocation is 0004.
	if item.Barcode != "EST-PKG-0004" {
		t.Fatalf("expected barcode EST-PKG-0004, got %s", item.Barcode)
	}

	// Updating the same item must keep its barcode.
	updated, err := svc.UpsertItem(ctx, domain.ItemUpsertRequest{
		ID:          item.ID,
		Name:        "Pallet Wrap",
		WarehouseID: "wh-east",
		CategoryID:  "cat-pkg",
		Quantity:    55,
	})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if updated.Barcode != item.Barcode {
		t.Fatalf("update changed the barcode: %s -> %s", item.Barcode, updated.Barcode)
	}
}

func unmarshalPayload(raw []byte, dest any) error {
	return json.Unmarshal(raw, dest)
}
