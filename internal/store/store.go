package store

import (
	"context"
	"errors"

	"gudangsync/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Tx is the atomic unit of work. Every mutation performed through a Tx is
// committed together by Apply or not at all; in particular a queued
// SyncAction and the domain mutation it mirrors always land in the same
// commit. Reads through a Tx observe the in-flight writes.
type Tx interface {
	GetItem(id string) (*domain.Item, error)
	ItemsInWarehouse(warehouseID string) ([]domain.Item, error)
	PutItem(item domain.Item) error
	DeleteItem(id string) error

	GetWarehouse(id string) (*domain.Warehouse, error)
	PutWarehouse(warehouse domain.Warehouse) error
	DeleteWarehouse(id string) error

	GetCategory(id string) (*domain.Category, error)
	PutCategory(category domain.Category) error
	DeleteCategory(id string) error

	GetTransaction(id string) (*domain.Transaction, error)
	PutTransaction(tx domain.Transaction) error

	PutNotification(n domain.Notification) error

	// Enqueue appends a PENDING SyncAction and returns its assigned id.
	// Ids are monotonic for the lifetime of the store.
	Enqueue(action domain.SyncAction) (int64, error)

	GetState(key string) (string, error)
	SetState(key string, value string) error
}

// Store is the durable persistence layer: named record collections, a
// key-value app state bucket and a single ordered action queue. Writers to
// the same store are serialized; a failed operation means the state was not
// durably persisted and callers must not advance in-memory status.
type Store interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	ReplaceItems(ctx context.Context, items []domain.Item) error

	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
	ReplaceWarehouses(ctx context.Context, warehouses []domain.Warehouse) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	ReplaceCategories(ctx context.Context, categories []domain.Category) error

	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	ListNotifications(ctx context.Context) ([]domain.Notification, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key string, value string) error

	// Apply runs fn inside one atomic unit of work.
	Apply(ctx context.Context, fn func(tx Tx) error) error

	// Enqueue is the single-action convenience form of Tx.Enqueue.
	Enqueue(ctx context.Context, action domain.SyncAction) (int64, error)

	// ListPending returns not-yet-confirmed actions (PENDING, plus FAILED
	// ones awaiting retry) in enqueue order.
	ListPending(ctx context.Context) ([]domain.SyncAction, error)
	PendingCount(ctx context.Context) (int, error)

	// MarkSynced is idempotent: marking an already-synced action is a
	// no-op, not an error. MarkFailed increments the retry counter and
	// leaves the action eligible for the next drain.
	MarkSynced(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error

	Close() error
}
