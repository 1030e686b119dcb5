package syncqueue

import (
	"context"
	"encoding/json"
	"testing"

	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/store"
	"gudangsync/backend/internal/store/memory"
)

func TestEnqueueAndDrainPreservesOrder(t *testing.T) {
	m := New(memory.New())
	ctx := context.Background()

	for _, txID := range []string{"tx-1", "tx-2", "tx-3"} {
		if _, err := m.Enqueue(ctx, domain.ActionApprove, domain.ApprovalPayload{TxID: txID}); err != nil {
			t.Fatalf("enqueue %s: %v", txID, err)
		}
	}

	batch, err := m.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(batch))
	}
	for i, want := range []string{"tx-1", "tx-2", "tx-3"} {
		var payload domain.ApprovalPayload
		if err := json.Unmarshal(batch[i].Payload, &payload); err != nil {
			t.Fatalf("decode payload %d: %v", i, err)
		}
		if payload.TxID != want {
			t.Fatalf("position %d: got %s, want %s", i, payload.TxID, want)
		}
	}

	// Drain must not consume anything.
	count, err := m.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 3 {
		t.Fatalf("drain must leave the queue intact, got %d", count)
	}
}

func TestEnqueueTxIsAtomicWithMutation(t *testing.T) {
	durable := memory.New()
	ctx := context.Background()

	err := durable.Apply(ctx, func(tx store.Tx) error {
		if err := tx.PutWarehouse(domain.Warehouse{ID: "wh-1", Name: "A", Prefix: "AAA"}); err != nil {
			return err
		}
		if _, err := EnqueueTx(tx, domain.ActionStockIn, domain.ApprovalPayload{TxID: "tx-1"}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	m := New(durable)
	count, err := m.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 queued action, got %d", count)
	}
}

func TestNewActionRejectsUnencodablePayload(t *testing.T) {
	if _, err := NewAction(domain.ActionApprove, make(chan int)); err == nil {
		t.Fatalf("expected encode error")
	}
}

func TestEnqueuedActionStartsPendingWithZeroRetries(t *testing.T) {
	m := New(memory.New())
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, domain.ActionReject, domain.RejectionPayload{TxID: "tx-1", Reason: "damaged"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	batch, err := m.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if batch[0].Status != domain.ActionStatusPending || batch[0].Retries != 0 {
		t.Fatalf("fresh action must be PENDING with retries=0, got %s retries=%d", batch[0].Status, batch[0].Retries)
	}
	if batch[0].Timestamp.IsZero() {
		t.Fatalf("fresh action must carry a timestamp")
	}
}
