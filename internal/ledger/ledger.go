// Package ledger turns requested stock operations into transactions and,
// on approval, into item mutations. Every mutation and its queued sync
// action commit in one store transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"gudangsync/backend/internal/assetcache"
	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/store"
	"gudangsync/backend/internal/syncqueue"
	"gudangsync/backend/internal/xid"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be a positive integer")
	ErrInvalidTransfer   = errors.New("transfer target must differ from source warehouse")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyReason       = errors.New("rejection reason must not be empty")
	ErrInvalidRequest    = errors.New("invalid request")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	barcodeSeqKey   = "barcode_seq"
	itemSnapshotKey = "items:all"
	itemSnapshotTTL = 30 * time.Second
)

type Service struct {
	store              store.Store
	cache              assetcache.AssetCache
	logger             *log.Logger
	defaultWarehouseID string
}

func New(s store.Store, cache assetcache.AssetCache, logger *log.Logger, defaultWarehouseID string) *Service {
	if cache == nil {
		cache = assetcache.NoopAssetCache{}
	}
	if defaultWarehouseID == "" {
		defaultWarehouseID = "wh-hub"
	}
	return &Service{
		store:              s,
		cache:              cache,
		logger:             logger,
		defaultWarehouseID: defaultWarehouseID,
	}
}

// RequestStockIn records a PENDING stock-in transaction and queues it for
// sync. No quantities change until the transaction is approved.
func (s *Service) RequestStockIn(ctx context.Context, req domain.StockRequest) (domain.Transaction, error) {
	return s.request(ctx, domain.TxTypeStockIn, req.ItemID, "", req.Quantity, req.StaffName)
}

// RequestStockOut records a PENDING stock-out transaction. Availability is
// soft-checked here and re-validated at approval, since quantities may
// change in between.
func (s *Service) RequestStockOut(ctx context.Context, req domain.StockRequest) (domain.Transaction, error) {
	return s.request(ctx, domain.TxTypeStockOut, req.ItemID, "", req.Quantity, req.StaffName)
}

func (s *Service) RequestTransfer(ctx context.Context, req domain.TransferRequest) (domain.Transaction, error) {
	if strings.TrimSpace(req.TargetWarehouseID) == "" {
		return domain.Transaction{}, ErrInvalidTransfer
	}
	return s.request(ctx, domain.TxTypeTransfer, req.ItemID, req.TargetWarehouseID, req.Quantity, req.StaffName)
}

func (s *Service) request(ctx context.Context, txType domain.TransactionType, itemID string, targetWarehouseID string, qty int, staffName string) (domain.Transaction, error) {
	if qty < 1 {
		return domain.Transaction{}, ErrInvalidQuantity
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.Transaction{}, ErrInvalidRequest
	}
	staffName = strings.TrimSpace(staffName)
	if staffName == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			staffName = actor.Username
		}
	}

	var created domain.Transaction
	err := s.store.Apply(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem(itemID)
		if err != nil {
			return err
		}

		switch txType {
		case domain.TxTypeStockOut:
			if qty > item.Quantity {
				return ErrInsufficientStock
			}
		case domain.TxTypeTransfer:
			if targetWarehouseID == item.WarehouseID {
				return ErrInvalidTransfer
			}
			if _, err := tx.GetWarehouse(targetWarehouseID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ErrInvalidTransfer
				}
				return err
			}
			if qty > item.Quantity {
				return ErrInsufficientStock
			}
		}

		created = domain.Transaction{
			ID:                xid.New("tx"),
			Type:              txType,
			ItemID:            item.ID,
			WarehouseID:       item.WarehouseID,
			TargetWarehouseID: targetWarehouseID,
			Quantity:          qty,
			Status:            domain.TxStatusPending,
			StaffName:         staffName,
			Timestamp:         time.Now().UTC(),
		}
		if err := tx.PutTransaction(created); err != nil {
			return err
		}
		if _, err := syncqueue.EnqueueTx(tx, actionTypeFor(txType), created); err != nil {
			return err
		}
		return tx.PutNotification(domain.Notification{
			ID:        xid.New("ntf"),
			Title:     fmt.Sprintf("%s requested", txType),
			Message:   fmt.Sprintf("%s requested %d x %s", staffName, qty, item.Name),
			Timestamp: created.Timestamp,
		})
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return created, nil
}

func actionTypeFor(txType domain.TransactionType) domain.ActionType {
	switch txType {
	case domain.TxTypeStockIn:
		return domain.ActionStockIn
	case domain.TxTypeStockOut:
		return domain.ActionStockOut
	default:
		return domain.ActionTransfer
	}
}

// Approve applies a pending transaction against item state. Approving an
// unknown or already-terminal transaction is a no-op, so replayed
// duplicates are harmless. An approval that would drive stock negative
// fails with ErrInsufficientStock and leaves the transaction PENDING for a
// human re-decision.
func (s *Service) Approve(ctx context.Context, txID string) error {
	err := s.store.Apply(ctx, func(tx store.Tx) error {
		trx, err := tx.GetTransaction(txID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if trx.Status != domain.TxStatusPending {
			return nil
		}

		item, err := tx.GetItem(trx.ItemID)
		if err != nil {
			return err
		}
		if trx.Type != domain.TxTypeStockIn && trx.Quantity > item.Quantity {
			return ErrInsufficientStock
		}

		now := time.Now().UTC()
		switch trx.Type {
		case domain.TxTypeStockIn:
			item.Quantity += trx.Quantity
		case domain.TxTypeStockOut:
			item.Quantity -= trx.Quantity
		case domain.TxTypeTransfer:
			item.Quantity -= trx.Quantity
			if err := s.applyTransfer(tx, *trx, *item, now); err != nil {
				return err
			}
		}
		item.LastUpdated = now
		if err := tx.PutItem(*item); err != nil {
			return err
		}

		trx.Status = domain.TxStatusApproved
		if err := tx.PutTransaction(*trx); err != nil {
			return err
		}
		if _, err := syncqueue.EnqueueTx(tx, domain.ActionApprove, domain.ApprovalPayload{TxID: trx.ID}); err != nil {
			return err
		}
		return tx.PutNotification(domain.Notification{
			ID:        xid.New("ntf"),
			Title:     fmt.Sprintf("%s approved", trx.Type),
			Message:   fmt.Sprintf("transaction %s approved: %d x %s", trx.ID, trx.Quantity, item.Name),
			Timestamp: now,
		})
	})
	if err != nil {
		return err
	}
	s.invalidateSnapshot(ctx)
	return nil
}

// applyTransfer lands the moved quantity in the target warehouse, merging
// into an item with the same name and category when one exists and cloning
// the source item with a fresh barcode when one does not.
func (s *Service) applyTransfer(tx store.Tx, trx domain.Transaction, source domain.Item, now time.Time) error {
	targets, err := tx.ItemsInWarehouse(trx.TargetWarehouseID)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if target.CategoryID == source.CategoryID && target.Name == source.Name {
			target.Quantity += trx.Quantity
			target.LastUpdated = now
			return tx.PutItem(target)
		}
	}

	warehouse, err := tx.GetWarehouse(trx.TargetWarehouseID)
	if err != nil {
		return err
	}
	category, err := tx.GetCategory(source.CategoryID)
	if err != nil {
		return err
	}
	barcode, err := nextBarcode(tx, warehouse.Prefix, category.Code)
	if err != nil {
		return err
	}

	clone := source
	clone.ID = xid.New("item")
	clone.WarehouseID = trx.TargetWarehouseID
	clone.Quantity = trx.Quantity
	clone.Barcode = barcode
	clone.LastUpdated = now
	return tx.PutItem(clone)
}

// nextBarcode allocates the next numeric suffix from the store-wide counter
// and renders `{prefix}-{code}-{suffix}`. The counter advances inside the
// caller's transaction, so an aborted approval never burns a suffix.
func nextBarcode(tx store.Tx, prefix string, code string) (string, error) {
	seq := 0
	raw, err := tx.GetState(barcodeSeqKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if err == nil {
		seq, err = strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("corrupt barcode counter %q: %w", raw, err)
		}
	}
	seq++
	if err := tx.SetState(barcodeSeqKey, strconv.Itoa(seq)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, code, seq), nil
}

// Reject marks a pending transaction REJECTED with the given reason stored
// verbatim. No item state changes. Unknown or terminal transactions are a
// no-op, matching Approve.
func (s *Service) Reject(ctx context.Context, txID string, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrEmptyReason
	}
	return s.store.Apply(ctx, func(tx store.Tx) error {
		trx, err := tx.GetTransaction(txID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if trx.Status != domain.TxStatusPending {
			return nil
		}

		now := time.Now().UTC()
		trx.Status = domain.TxStatusRejected
		trx.RejectionReason = reason
		if err := tx.PutTransaction(*trx); err != nil {
			return err
		}
		if _, err := syncqueue.EnqueueTx(tx, domain.ActionReject, domain.RejectionPayload{TxID: trx.ID, Reason: reason}); err != nil {
			return err
		}
		return tx.PutNotification(domain.Notification{
			ID:        xid.New("ntf"),
			Title:     fmt.Sprintf("%s rejected", trx.Type),
			Message:   fmt.Sprintf("transaction %s rejected: %s", trx.ID, reason),
			Timestamp: now,
		})
	})
}

func (s *Service) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.store.ListTransactions(ctx)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// ListItems serves item reads through the asset cache. A cache miss or
// cache error falls back to the durable store; the cache is never
// authoritative.
func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	snap, ok, err := s.cache.Get(ctx, itemSnapshotKey)
	if err != nil && s.logger != nil {
		s.logger.Printf("[ledger] WARN: asset cache read: %v", err)
	}
	if ok {
		return snap.Items, nil
	}

	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, itemSnapshotKey, &assetcache.Snapshot{
		Items:       items,
		GeneratedAt: time.Now().UTC(),
	}, itemSnapshotTTL); err != nil && s.logger != nil {
		s.logger.Printf("[ledger] WARN: asset cache write: %v", err)
	}
	return items, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return s.store.GetItem(ctx, id)
}

func (s *Service) UpsertItem(ctx context.Context, req domain.ItemUpsertRequest) (domain.Item, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Quantity < 0 {
		return domain.Item{}, ErrInvalidRequest
	}
	if req.BaseCostCents < 0 || req.FreightCents < 0 || req.DutiesCents < 0 || req.TaxesCents < 0 {
		return domain.Item{}, ErrInvalidRequest
	}
	if req.WarehouseID == "" {
		req.WarehouseID = s.defaultWarehouseID
	}

	var saved domain.Item
	err := s.store.Apply(ctx, func(tx store.Tx) error {
		warehouse, err := tx.GetWarehouse(req.WarehouseID)
		if err != nil {
			return err
		}
		category, err := tx.GetCategory(req.CategoryID)
		if err != nil {
			return err
		}

		item := domain.Item{
			ID:            req.ID,
			Name:          req.Name,
			WarehouseID:   req.WarehouseID,
			CategoryID:    req.CategoryID,
			Quantity:      req.Quantity,
			BaseCostCents: req.BaseCostCents,
			FreightCents:  req.FreightCents,
			DutiesCents:   req.DutiesCents,
			TaxesCents:    req.TaxesCents,
			Status:        req.Status,
			LastUpdated:   time.Now().UTC(),
		}
		if item.Status == "" {
			item.Status = domain.ItemStatusFinished
		}
		if item.ID == "" {
			item.ID = xid.New("item")
		} else if existing, err := tx.GetItem(item.ID); err == nil {
			item.Barcode = existing.Barcode
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if item.Barcode == "" {
			item.Barcode, err = nextBarcode(tx, warehouse.Prefix, category.Code)
			if err != nil {
				return err
			}
		}

		saved = item
		return tx.PutItem(item)
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.invalidateSnapshot(ctx)
	return saved, nil
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	err := s.store.Apply(ctx, func(tx store.Tx) error {
		if _, err := tx.GetItem(id); err != nil {
			return err
		}
		return tx.DeleteItem(id)
	})
	if err != nil {
		return err
	}
	s.invalidateSnapshot(ctx)
	return nil
}

func (s *Service) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	return s.store.ListWarehouses(ctx)
}

func (s *Service) UpsertWarehouse(ctx context.Context, req domain.WarehouseUpsertRequest) (domain.Warehouse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Prefix = strings.ToUpper(strings.TrimSpace(req.Prefix))
	if req.Name == "" || req.Prefix == "" {
		return domain.Warehouse{}, ErrInvalidRequest
	}

	warehouse := domain.Warehouse{ID: req.ID, Name: req.Name, Prefix: req.Prefix}
	if warehouse.ID == "" {
		warehouse.ID = xid.New("wh")
	}
	err := s.store.Apply(ctx, func(tx store.Tx) error {
		return tx.PutWarehouse(warehouse)
	})
	if err != nil {
		return domain.Warehouse{}, err
	}
	return warehouse, nil
}

func (s *Service) DeleteWarehouse(ctx context.Context, id string) error {
	return s.store.Apply(ctx, func(tx store.Tx) error {
		if _, err := tx.GetWarehouse(id); err != nil {
			return err
		}
		items, err := tx.ItemsInWarehouse(id)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			return fmt.Errorf("%w: warehouse %s still holds %d items", ErrInvalidRequest, id, len(items))
		}
		return tx.DeleteWarehouse(id)
	})
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) UpsertCategory(ctx context.Context, req domain.CategoryUpsertRequest) (domain.Category, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Name == "" || len(req.Code) != 3 {
		return domain.Category{}, ErrInvalidRequest
	}

	category := domain.Category{ID: req.ID, Name: req.Name, Code: req.Code, ParentID: req.ParentID}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	err := s.store.Apply(ctx, func(tx store.Tx) error {
		// Only one level of nesting: a parent must itself be a main
		// category.
		if category.ParentID != "" {
			parent, err := tx.GetCategory(category.ParentID)
			if err != nil {
				return err
			}
			if parent.ParentID != "" {
				return fmt.Errorf("%w: parent category %s is not a main category", ErrInvalidRequest, parent.ID)
			}
		}
		return tx.PutCategory(category)
	})
	if err != nil {
		return domain.Category{}, err
	}
	return category, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	return s.store.Apply(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCategory(id); err != nil {
			return err
		}
		return tx.DeleteCategory(id)
	})
}

func (s *Service) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	return s.store.ListNotifications(ctx)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	notifications, err := s.store.ListNotifications(ctx)
	if err != nil {
		return err
	}
	for _, n := range notifications {
		if n.ID == id {
			n.Read = true
			return s.store.Apply(ctx, func(tx store.Tx) error {
				return tx.PutNotification(n)
			})
		}
	}
	return store.ErrNotFound
}

func (s *Service) invalidateSnapshot(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, itemSnapshotKey); err != nil && s.logger != nil {
		s.logger.Printf("[ledger] WARN: asset cache invalidate: %v", err)
	}
}
