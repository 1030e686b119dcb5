// Package syncqueue owns the durable outbox of local actions awaiting
// replay against the remote hub. Actions enter the queue in the same store
// transaction as the ledger mutation they describe, so the queue never
// records an action whose local effect was rolled back.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/store"
)

type Manager struct {
	store store.Store
}

func New(s store.Store) *Manager {
	return &Manager{store: s}
}

// NewAction builds a queue entry for the given payload. The identifier is
// assigned by the store on insert; callers must not set one.
func NewAction(actionType domain.ActionType, payload any) (domain.SyncAction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.SyncAction{}, fmt.Errorf("encode %s payload: %w", actionType, err)
	}
	return domain.SyncAction{
		Type:      actionType,
		Payload:   raw,
		Status:    domain.ActionStatusPending,
		Timestamp: time.Now().UTC(),
	}, nil
}

// EnqueueTx appends an action inside an already-open store transaction.
// This is the path the ledger uses: mutation and outbox entry commit
// atomically.
func EnqueueTx(tx store.Tx, actionType domain.ActionType, payload any) (int64, error) {
	action, err := NewAction(actionType, payload)
	if err != nil {
		return 0, err
	}
	return tx.Enqueue(action)
}

// Enqueue appends a standalone action in its own transaction.
func (m *Manager) Enqueue(ctx context.Context, actionType domain.ActionType, payload any) (int64, error) {
	action, err := NewAction(actionType, payload)
	if err != nil {
		return 0, err
	}
	return m.store.Enqueue(ctx, action)
}

// Drain returns every unsynced action in enqueue order. It does not change
// queue state; the caller marks actions synced or failed after replay.
func (m *Manager) Drain(ctx context.Context) ([]domain.SyncAction, error) {
	return m.store.ListPending(ctx)
}

func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.store.PendingCount(ctx)
}

func (m *Manager) MarkSynced(ctx context.Context, id int64) error {
	return m.store.MarkSynced(ctx, id)
}

func (m *Manager) MarkFailed(ctx context.Context, id int64) error {
	return m.store.MarkFailed(ctx, id)
}
