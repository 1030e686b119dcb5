package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/store"
)

// Store implements store.Store against PostgreSQL. Deployments that run the
// engine as a shared hub service point DATABASE_URL here instead of at a
// local SQLite file.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `id, name, warehouse_id, category_id, quantity, base_cost_cents, freight_cents, duties_cents, taxes_cents, status, barcode, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.Name, &item.WarehouseID, &item.CategoryID, &item.Quantity,
		&item.BaseCostCents, &item.FreightCents, &item.DutiesCents, &item.TaxesCents,
		&item.Status, &item.Barcode, &item.LastUpdated)
	if err != nil {
		return domain.Item{}, err
	}
	item.LastUpdated = item.LastUpdated.UTC()
	return item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		ORDER BY warehouse_id, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ReplaceItems(ctx context.Context, items []domain.Item) error {
	return s.Apply(ctx, func(tx store.Tx) error {
		pt := tx.(*pgTx)
		if _, err := pt.tx.ExecContext(pt.ctx, `DELETE FROM items`); err != nil {
			return err
		}
		for _, item := range items {
			if err := pt.PutItem(item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, prefix FROM warehouses ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	warehouses := make([]domain.Warehouse, 0, 16)
	for rows.Next() {
		var w domain.Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.Prefix); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return warehouses, nil
}

func (s *Store) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := s.db.QueryRowContext(ctx, `SELECT id, name, prefix FROM warehouses WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.Prefix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *Store) ReplaceWarehouses(ctx context.Context, warehouses []domain.Warehouse) error {
	return s.Apply(ctx, func(tx store.Tx) error {
		pt := tx.(*pgTx)
		if _, err := pt.tx.ExecContext(pt.ctx, `DELETE FROM warehouses`); err != nil {
			return err
		}
		for _, w := range warehouses {
			if err := pt.PutWarehouse(w); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, code, parent_id FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.ParentID); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `SELECT id, name, code, parent_id FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Code, &c.ParentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ReplaceCategories(ctx context.Context, categories []domain.Category) error {
	return s.Apply(ctx, func(tx store.Tx) error {
		pt := tx.(*pgTx)
		if _, err := pt.tx.ExecContext(pt.ctx, `DELETE FROM categories`); err != nil {
			return err
		}
		for _, c := range categories {
			if err := pt.PutCategory(c); err != nil {
				return err
			}
		}
		return nil
	})
}

const txColumns = `id, type, item_id, warehouse_id, target_warehouse_id, quantity, status, staff_name, created_at, rejection_reason`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.Type, &t.ItemID, &t.WarehouseID, &t.TargetWarehouseID,
		&t.Quantity, &t.Status, &t.StaffName, &t.Timestamp, &t.RejectionReason)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Timestamp = t.Timestamp.UTC()
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 128)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, message, read, created_at
		FROM notifications
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Notification, 0, 64)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &n.Read, &n.Timestamp); err != nil {
			return nil, err
		}
		n.Timestamp = n.Timestamp.UTC()
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *Store) SetState(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

// pgTx implements store.Tx over one serializable database transaction so a
// ledger mutation and its queued action commit or roll back together.
type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (s *Store) Apply(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *pgTx) GetItem(id string) (*domain.Item, error) {
	item, err := scanItem(t.tx.QueryRowContext(t.ctx, `
		SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (t *pgTx) ItemsInWarehouse(warehouseID string) ([]domain.Item, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE warehouse_id = $1
		ORDER BY id
		FOR UPDATE
	`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 16)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (t *pgTx) PutItem(item domain.Item) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name, warehouse_id = EXCLUDED.warehouse_id,
			category_id = EXCLUDED.category_id, quantity = EXCLUDED.quantity,
			base_cost_cents = EXCLUDED.base_cost_cents, freight_cents = EXCLUDED.freight_cents,
			duties_cents = EXCLUDED.duties_cents, taxes_cents = EXCLUDED.taxes_cents,
			status = EXCLUDED.status, barcode = EXCLUDED.barcode, last_updated = EXCLUDED.last_updated
	`, item.ID, item.Name, item.WarehouseID, item.CategoryID, item.Quantity,
		item.BaseCostCents, item.FreightCents, item.DutiesCents, item.TaxesCents,
		item.Status, item.Barcode, normalizeTime(item.LastUpdated))
	return err
}

func (t *pgTx) DeleteItem(id string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM items WHERE id = $1`, id)
	return err
}

func (t *pgTx) GetWarehouse(id string) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := t.tx.QueryRowContext(t.ctx, `SELECT id, name, prefix FROM warehouses WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.Prefix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (t *pgTx) PutWarehouse(w domain.Warehouse) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO warehouses (id, name, prefix)
		VALUES ($1,$2,$3)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, prefix = EXCLUDED.prefix
	`, w.ID, w.Name, w.Prefix)
	return err
}

func (t *pgTx) DeleteWarehouse(id string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM warehouses WHERE id = $1`, id)
	return err
}

func (t *pgTx) GetCategory(id string) (*domain.Category, error) {
	var c domain.Category
	err := t.tx.QueryRowContext(t.ctx, `SELECT id, name, code, parent_id FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Code, &c.ParentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) PutCategory(c domain.Category) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO categories (id, name, code, parent_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code, parent_id = EXCLUDED.parent_id
	`, c.ID, c.Name, c.Code, c.ParentID)
	return err
}

func (t *pgTx) DeleteCategory(id string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM categories WHERE id = $1`, id)
	return err
}

func (t *pgTx) GetTransaction(id string) (*domain.Transaction, error) {
	trx, err := scanTransaction(t.tx.QueryRowContext(t.ctx, `
		SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &trx, nil
}

func (t *pgTx) PutTransaction(trx domain.Transaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id)
		DO UPDATE SET
			type = EXCLUDED.type, item_id = EXCLUDED.item_id,
			warehouse_id = EXCLUDED.warehouse_id, target_warehouse_id = EXCLUDED.target_warehouse_id,
			quantity = EXCLUDED.quantity, status = EXCLUDED.status,
			staff_name = EXCLUDED.staff_name, created_at = EXCLUDED.created_at,
			rejection_reason = EXCLUDED.rejection_reason
	`, trx.ID, trx.Type, trx.ItemID, trx.WarehouseID, trx.TargetWarehouseID,
		trx.Quantity, trx.Status, trx.StaffName, normalizeTime(trx.Timestamp), trx.RejectionReason)
	return err
}

func (t *pgTx) PutNotification(n domain.Notification) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO notifications (id, title, message, read, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id)
		DO UPDATE SET title = EXCLUDED.title, message = EXCLUDED.message, read = EXCLUDED.read
	`, n.ID, n.Title, n.Message, n.Read, normalizeTime(n.Timestamp))
	return err
}

func (t *pgTx) Enqueue(action domain.SyncAction) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO sync_queue (type, payload, status, created_at, retries)
		VALUES ($1,$2,$3,$4,0)
		RETURNING id
	`, action.Type, string(action.Payload), domain.ActionStatusPending, normalizeTime(action.Timestamp)).Scan(&id)
	return id, err
}

func (t *pgTx) GetState(key string) (string, error) {
	var value string
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM app_state WHERE key = $1 FOR UPDATE`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (t *pgTx) SetState(key string, value string) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO app_state (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
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

func (s *Store) ListPending(ctx context.Context) ([]domain.SyncAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, status, created_at, retries
		FROM sync_queue
		WHERE status <> $1
		ORDER BY id
	`, domain.ActionStatusSynced)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := make([]domain.SyncAction, 0, 32)
	for rows.Next() {
		var a domain.SyncAction
		var payload string
		if err := rows.Scan(&a.ID, &a.Type, &payload, &a.Status, &a.Timestamp, &a.Retries); err != nil {
			return nil, err
		}
		a.Payload = []byte(payload)
		a.Timestamp = a.Timestamp.UTC()
		pending = append(pending, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE status <> $1
	`, domain.ActionStatusSynced).Scan(&count)
	return count, err
}

func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = $1 WHERE id = $2 AND status <> $1
	`, domain.ActionStatusSynced, id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = $1, retries = retries + 1
		WHERE id = $2 AND status <> $3
	`, domain.ActionStatusFailed, id, domain.ActionStatusSynced)
	return err
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
