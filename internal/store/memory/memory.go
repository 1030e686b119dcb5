package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/store"
)

// Store keeps every collection in process memory behind one mutex. It is
// the dev/test implementation of the durable store contract; nothing
// survives a restart, but all atomicity and queue-ordering guarantees hold.
type Store struct {
	mu            sync.RWMutex
	items         map[string]domain.Item
	warehouses    map[string]domain.Warehouse
	categories    map[string]domain.Category
	transactions  map[string]domain.Transaction
	notifications []domain.Notification
	queue         []domain.SyncAction
	appState      map[string]string
	nextActionID  int64
	closed        bool
}

func New() *Store {
	return &Store{
		items:         make(map[string]domain.Item),
		warehouses:    make(map[string]domain.Warehouse),
		categories:    make(map[string]domain.Category),
		transactions:  make(map[string]domain.Transaction),
		notifications: make([]domain.Notification, 0, 64),
		queue:         make([]domain.SyncAction, 0, 64),
		appState:      make(map[string]string),
		nextActionID:  1,
	}
}

// NewSeeded returns a store pre-populated with two warehouses, two
// categories and a handful of items, enough to exercise every ledger path
// in dev mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	warehouses := []domain.Warehouse{
		{ID: "wh-hub", Name: "Gudang Pusat", Prefix: "HUB"},
		{ID: "wh-east", Name: "Gudang Timur", Prefix: "EST"},
	}
	categories := []domain.Category{
		{ID: "cat-elc", Name: "Electronics", Code: "ELC"},
		{ID: "cat-pkg", Name: "Packaging", Code: "PKG"},
		{ID: "cat-pkg-box", Name: "Boxes", Code: "BOX", ParentID: "cat-pkg"},
	}
	items := []domain.Item{
		{ID: "item-scanner", Name: "Handheld Scanner", WarehouseID: "wh-hub", CategoryID: "cat-elc", Quantity: 40, BaseCostCents: 120000, FreightCents: 4500, DutiesCents: 2500, TaxesCents: 13200, Status: domain.ItemStatusFinished, Barcode: "HUB-ELC-0001", LastUpdated: now},
		{ID: "item-label", Name: "Label Roll", WarehouseID: "wh-hub", CategoryID: "cat-pkg", Quantity: 500, BaseCostCents: 900, FreightCents: 100, DutiesCents: 0, TaxesCents: 99, Status: domain.ItemStatusRaw, Barcode: "HUB-PKG-0002", LastUpdated: now},
		{ID: "item-carton", Name: "Carton Large", WarehouseID: "wh-east", CategoryID: "cat-pkg-box", Quantity: 120, BaseCostCents: 2400, FreightCents: 300, DutiesCents: 0, TaxesCents: 264, Status: domain.ItemStatusGoodAsNew, Barcode: "EST-BOX-0003", LastUpdated: now},
	}

	for _, w := range warehouses {
		s.warehouses[w.ID] = w
	}
	for _, c := range categories {
		s.categories[c.ID] = c
	}
	for _, i := range items {
		s.items[i.ID] = i
	}
	s.appState["barcode_seq"] = "3"
	return s
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.WarehouseID == b.WarehouseID {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.WarehouseID, b.WarehouseID)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) ReplaceItems(_ context.Context, items []domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]domain.Item, len(items))
	for _, item := range items {
		next[item.ID] = item
	}
	s.items = next
	return nil
}

func (s *Store) ListWarehouses(_ context.Context) ([]domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	warehouses := make([]domain.Warehouse, 0, len(s.warehouses))
	for _, w := range s.warehouses {
		warehouses = append(warehouses, w)
	}
	slices.SortFunc(warehouses, func(a, b domain.Warehouse) int {
		return cmpString(a.Name, b.Name)
	})
	return warehouses, nil
}

func (s *Store) GetWarehouse(_ context.Context, id string) (*domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.warehouses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyW := w
	return &copyW, nil
}

func (s *Store) ReplaceWarehouses(_ context.Context, warehouses []domain.Warehouse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]domain.Warehouse, len(warehouses))
	for _, w := range warehouses {
		next[w.ID] = w
	}
	s.warehouses = next
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyC := c
	return &copyC, nil
}

func (s *Store) ReplaceCategories(_ context.Context, categories []domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		next[c.ID] = c
	}
	s.categories = next
	return nil
}

func (s *Store) ListTransactions(_ context.Context) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]domain.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		txs = append(txs, t)
	}
	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return cmpString(a.ID, b.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})
	return txs, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyT := t
	return &copyT, nil
}

func (s *Store) ListNotifications(_ context.Context) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Notification, len(s.notifications))
	copy(result, s.notifications)
	slices.SortFunc(result, func(a, b domain.Notification) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return cmpString(b.ID, a.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) GetState(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.appState[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return val, nil
}

func (s *Store) SetState(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appState[key] = value
	return nil
}

// memTx stages mutations against copies of the live maps so a failing unit
// of work leaves the store untouched.
type memTx struct {
	s *Store

	items         map[string]domain.Item
	warehouses    map[string]domain.Warehouse
	categories    map[string]domain.Category
	transactions  map[string]domain.Transaction
	notifications []domain.Notification
	queue         []domain.SyncAction
	appState      map[string]string
	nextActionID  int64
}

func (s *Store) Apply(_ context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	tx := &memTx{
		s:             s,
		items:         cloneMap(s.items),
		warehouses:    cloneMap(s.warehouses),
		categories:    cloneMap(s.categories),
		transactions:  cloneMap(s.transactions),
		notifications: slices.Clone(s.notifications),
		queue:         slices.Clone(s.queue),
		appState:      cloneMap(s.appState),
		nextActionID:  s.nextActionID,
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.items = tx.items
	s.warehouses = tx.warehouses
	s.categories = tx.categories
	s.transactions = tx.transactions
	s.notifications = tx.notifications
	s.queue = tx.queue
	s.appState = tx.appState
	s.nextActionID = tx.nextActionID
	return nil
}

func (t *memTx) GetItem(id string) (*domain.Item, error) {
	item, ok := t.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (t *memTx) ItemsInWarehouse(warehouseID string) ([]domain.Item, error) {
	items := make([]domain.Item, 0, 16)
	for _, item := range t.items {
		if item.WarehouseID == warehouseID {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		return cmpString(a.ID, b.ID)
	})
	return items, nil
}

func (t *memTx) PutItem(item domain.Item) error {
	t.items[item.ID] = item
	return nil
}

func (t *memTx) DeleteItem(id string) error {
	delete(t.items, id)
	return nil
}

func (t *memTx) GetWarehouse(id string) (*domain.Warehouse, error) {
	w, ok := t.warehouses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyW := w
	return &copyW, nil
}

func (t *memTx) PutWarehouse(w domain.Warehouse) error {
	t.warehouses[w.ID] = w
	return nil
}

func (t *memTx) DeleteWarehouse(id string) error {
	delete(t.warehouses, id)
	return nil
}

func (t *memTx) GetCategory(id string) (*domain.Category, error) {
	c, ok := t.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyC := c
	return &copyC, nil
}

func (t *memTx) PutCategory(c domain.Category) error {
	t.categories[c.ID] = c
	return nil
}

func (t *memTx) DeleteCategory(id string) error {
	delete(t.categories, id)
	return nil
}

func (t *memTx) GetTransaction(id string) (*domain.Transaction, error) {
	trx, ok := t.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyTrx := trx
	return &copyTrx, nil
}

func (t *memTx) PutTransaction(trx domain.Transaction) error {
	t.transactions[trx.ID] = trx
	return nil
}

func (t *memTx) PutNotification(n domain.Notification) error {
	for i := range t.notifications {
		if t.notifications[i].ID == n.ID {
			t.notifications[i] = n
			return nil
		}
	}
	t.notifications = append(t.notifications, n)
	return nil
}

func (t *memTx) Enqueue(action domain.SyncAction) (int64, error) {
	action.ID = t.nextActionID
	t.nextActionID++
	action.Status = domain.ActionStatusPending
	action.Retries = 0
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	t.queue = append(t.queue, action)
	return action.ID, nil
}

func (t *memTx) GetState(key string) (string, error) {
	val, ok := t.appState[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return val, nil
}

func (t *memTx) SetState(key string, value string) error {
	t.appState[key] = value
	return nil
}

func (s *Store) Enqueue(ctx context.Context, action domain.SyncAction) (int64, error) {
	var id int64
	err := s.Apply(ctx, func(tx store.Tx) error {
		var enqueueErr error
		id, enqueueErr = tx.Enqueue(action)
		return enqueueErr
	})
	return id, err
}

func (s *Store) ListPending(_ context.Context) ([]domain.SyncAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.SyncAction, 0, len(s.queue))
	for _, action := range s.queue {
		if action.Status == domain.ActionStatusSynced {
			continue
		}
		pending = append(pending, action)
	}
	return pending, nil
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	pending, err := s.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (s *Store) MarkSynced(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.queue {
		if s.queue[i].ID != id {
			continue
		}
		if s.queue[i].Status == domain.ActionStatusSynced {
			return nil
		}
		s.queue[i].Status = domain.ActionStatusSynced
		return nil
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.queue {
		if s.queue[i].ID != id {
			continue
		}
		if s.queue[i].Status == domain.ActionStatusSynced {
			return nil
		}
		s.queue[i].Status = domain.ActionStatusFailed
		s.queue[i].Retries++
		return nil
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
