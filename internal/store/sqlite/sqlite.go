package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/store"
)

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	warehouse_id    TEXT NOT NULL,
	category_id     TEXT NOT NULL,
	quantity        INTEGER NOT NULL CHECK (quantity >= 0),
	base_cost_cents INTEGER NOT NULL DEFAULT 0,
	freight_cents   INTEGER NOT NULL DEFAULT 0,
	duties_cents    INTEGER NOT NULL DEFAULT 0,
	taxes_cents     INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	barcode         TEXT NOT NULL,
	last_updated    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS warehouses (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	prefix TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	code      TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transactions (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL,
	item_id             TEXT NOT NULL,
	warehouse_id        TEXT NOT NULL,
	target_warehouse_id TEXT NOT NULL DEFAULT '',
	quantity            INTEGER NOT NULL,
	status              TEXT NOT NULL,
	staff_name          TEXT NOT NULL,
	ts                  TEXT NOT NULL,
	rejection_reason    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notifications (
	id      TEXT PRIMARY KEY,
	title   TEXT NOT NULL,
	message TEXT NOT NULL,
	read    INTEGER NOT NULL DEFAULT 0,
	ts      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	type    TEXT NOT NULL,
	payload TEXT NOT NULL,
	status  TEXT NOT NULL DEFAULT 'PENDING',
	ts      TEXT NOT NULL,
	retries INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS app_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_warehouse ON items(warehouse_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
`

// Store is the local durable store backed by a single SQLite file. It is
// the offline-first default: every commit survives a process restart, and a
// max-open-conns of one serializes writers on top of WAL journaling.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaV1); err != nil {
		return err
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, schemaVersion)
		return err
	}
	if err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}
	return nil
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
	var ts string
	err := row.Scan(&item.ID, &item.Name, &item.WarehouseID, &item.CategoryID, &item.Quantity,
		&item.BaseCostCents, &item.FreightCents, &item.DutiesCents, &item.TaxesCents,
		&item.Status, &item.Barcode, &ts)
	if err != nil {
		return domain.Item{}, err
	}
	item.LastUpdated = parseTime(ts)
	return item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY warehouse_id, name`)
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
	return items, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ReplaceItems(ctx context.Context, items []domain.Item) error {
	return s.Apply(ctx, func(tx store.Tx) error {
		st := tx.(*sqlTx)
		if _, err := st.tx.ExecContext(st.ctx, `DELETE FROM items`); err != nil {
			return err
		}
		for _, item := range items {
			if err := st.PutItem(item); err != nil {
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
	return warehouses, rows.Err()
}

func (s *Store) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := s.db.QueryRowContext(ctx, `SELECT id, name, prefix FROM warehouses WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.Prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) ReplaceWarehouses(ctx context.Context, warehouses []domain.Warehouse) error {
	return s.Apply(ctx, func(tx store.Tx) error {
		st := tx.(*sqlTx)
		if _, err := st.tx.ExecContext(st.ctx, `DELETE FROM warehouses`); err != nil {
			return err
		}
		for _, w := range warehouses {
			if err := st.PutWarehouse(w); err != nil {
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
	return categories, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `SELECT id, name, code, parent_id FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Code, &c.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ReplaceCategories(ctx context.Context, categories []domain.Category) error {
	return s.Apply(ctx, func(tx store.Tx) error {
		st := tx.(*sqlTx)
		if _, err := st.tx.ExecContext(st.ctx, `DELETE FROM categories`); err != nil {
			return err
		}
		for _, c := range categories {
			if err := st.PutCategory(c); err != nil {
				return err
			}
		}
		return nil
	})
}

const txColumns = `id, type, item_id, warehouse_id, target_warehouse_id, quantity, status, staff_name, ts, rejection_reason`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	var ts string
	err := row.Scan(&t.ID, &t.Type, &t.ItemID, &t.WarehouseID, &t.TargetWarehouseID,
		&t.Quantity, &t.Status, &t.StaffName, &ts, &t.RejectionReason)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Timestamp = parseTime(ts)
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions ORDER BY ts DESC, id DESC`)
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
	return txs, rows.Err()
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, message, read, ts FROM notifications ORDER BY ts DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Notification, 0, 64)
	for rows.Next() {
		var n domain.Notification
		var read int
		var ts string
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &read, &ts); err != nil {
			return nil, err
		}
		n.Read = read != 0
		n.Timestamp = parseTime(ts)
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return value, err
}

func (s *Store) SetState(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// sqlTx implements store.Tx on top of one database transaction.
type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (s *Store) Apply(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *sqlTx) GetItem(id string) (*domain.Item, error) {
	item, err := scanItem(t.tx.QueryRowContext(t.ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *sqlTx) ItemsInWarehouse(warehouseID string) ([]domain.Item, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+itemColumns+` FROM items WHERE warehouse_id = ? ORDER BY id`, warehouseID)
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
	return items, rows.Err()
}

func (t *sqlTx) PutItem(item domain.Item) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, warehouse_id = excluded.warehouse_id,
			category_id = excluded.category_id, quantity = excluded.quantity,
			base_cost_cents = excluded.base_cost_cents, freight_cents = excluded.freight_cents,
			duties_cents = excluded.duties_cents, taxes_cents = excluded.taxes_cents,
			status = excluded.status, barcode = excluded.barcode, last_updated = excluded.last_updated
	`, item.ID, item.Name, item.WarehouseID, item.CategoryID, item.Quantity,
		item.BaseCostCents, item.FreightCents, item.DutiesCents, item.TaxesCents,
		item.Status, item.Barcode, formatTime(item.LastUpdated))
	return err
}

func (t *sqlTx) DeleteItem(id string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM items WHERE id = ?`, id)
	return err
}

func (t *sqlTx) GetWarehouse(id string) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := t.tx.QueryRowContext(t.ctx, `SELECT id, name, prefix FROM warehouses WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.Prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *sqlTx) PutWarehouse(w domain.Warehouse) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO warehouses (id, name, prefix) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, prefix = excluded.prefix
	`, w.ID, w.Name, w.Prefix)
	return err
}

func (t *sqlTx) DeleteWarehouse(id string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM warehouses WHERE id = ?`, id)
	return err
}

func (t *sqlTx) GetCategory(id string) (*domain.Category, error) {
	var c domain.Category
	err := t.tx.QueryRowContext(t.ctx, `SELECT id, name, code, parent_id FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Code, &c.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *sqlTx) PutCategory(c domain.Category) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO categories (id, name, code, parent_id) VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, code = excluded.code, parent_id = excluded.parent_id
	`, c.ID, c.Name, c.Code, c.ParentID)
	return err
}

func (t *sqlTx) DeleteCategory(id string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM categories WHERE id = ?`, id)
	return err
}

func (t *sqlTx) GetTransaction(id string) (*domain.Transaction, error) {
	trx, err := scanTransaction(t.tx.QueryRowContext(t.ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

func (t *sqlTx) PutTransaction(trx domain.Transaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, item_id = excluded.item_id,
			warehouse_id = excluded.warehouse_id, target_warehouse_id = excluded.target_warehouse_id,
			quantity = excluded.quantity, status = excluded.status,
			staff_name = excluded.staff_name, ts = excluded.ts,
			rejection_reason = excluded.rejection_reason
	`, trx.ID, trx.Type, trx.ItemID, trx.WarehouseID, trx.TargetWarehouseID,
		trx.Quantity, trx.Status, trx.StaffName, formatTime(trx.Timestamp), trx.RejectionReason)
	return err
}

func (t *sqlTx) PutNotification(n domain.Notification) error {
	read := 0
	if n.Read {
		read = 1
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO notifications (id, title, message, read, ts) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, message = excluded.message, read = excluded.read
	`, n.ID, n.Title, n.Message, read, formatTime(n.Timestamp))
	return err
}

func (t *sqlTx) Enqueue(action domain.SyncAction) (int64, error) {
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO sync_queue (type, payload, status, ts, retries) VALUES (?,?,?,?,0)
	`, action.Type, string(action.Payload), domain.ActionStatusPending, formatTime(action.Timestamp))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *sqlTx) GetState(key string) (string, error) {
	var value string
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return value, err
}

func (t *sqlTx) SetState(key string, value string) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
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

const actionColumns = `id, type, payload, status, ts, retries`

func scanAction(row rowScanner) (domain.SyncAction, error) {
	var a domain.SyncAction
	var payload, ts string
	err := row.Scan(&a.ID, &a.Type, &payload, &a.Status, &ts, &a.Retries)
	if err != nil {
		return domain.SyncAction{}, err
	}
	a.Payload = []byte(payload)
	a.Timestamp = parseTime(ts)
	return a, nil
}

func (s *Store) ListPending(ctx context.Context) ([]domain.SyncAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM sync_queue WHERE status != ? ORDER BY id
	`, domain.ActionStatusSynced)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := make([]domain.SyncAction, 0, 32)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, a)
	}
	return pending, rows.Err()
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE status != ?
	`, domain.ActionStatusSynced).Scan(&count)
	return count, err
}

func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ? WHERE id = ? AND status != ?
	`, domain.ActionStatusSynced, id, domain.ActionStatusSynced)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, retries = retries + 1 WHERE id = ? AND status != ?
	`, domain.ActionStatusFailed, id, domain.ActionStatusSynced)
	return err
}

// timeLayout keeps the fractional seconds zero-padded to nine digits, so
// lexicographic order over the stored text matches chronological order and
// `ORDER BY ts` is safe.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
