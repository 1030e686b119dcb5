package domain

import (
	"encoding/json"
	"time"
)

type ItemStatus string

const (
	ItemStatusRaw       ItemStatus = "RAW"
	ItemStatusFinished  ItemStatus = "FINISHED"
	ItemStatusGoodAsNew ItemStatus = "GOOD_AS_NEW"
	ItemStatusOldUsed   ItemStatus = "OLD_USED"
)

type TransactionType string

const (
	TxTypeStockIn  TransactionType = "STOCK_IN"
	TxTypeStockOut TransactionType = "STOCK_OUT"
	TxTypeTransfer TransactionType = "TRANSFER"
)

type TransactionStatus string

const (
	TxStatusPending  TransactionStatus = "PENDING"
	TxStatusApproved TransactionStatus = "APPROVED"
	TxStatusRejected TransactionStatus = "REJECTED"
)

// IsTerminal reports whether the status admits no further transition.
func (s TransactionStatus) IsTerminal() bool {
	return s == TxStatusApproved || s == TxStatusRejected
}

type ActionType string

const (
	ActionStockIn  ActionType = "STOCK_IN"
	ActionStockOut ActionType = "STOCK_OUT"
	ActionTransfer ActionType = "TRANSFER"
	ActionApprove  ActionType = "APPROVE"
	ActionReject   ActionType = "REJECT"
)

type ActionStatus string

const (
	ActionStatusPending ActionStatus = "PENDING"
	ActionStatusSynced  ActionStatus = "SYNCED"
	ActionStatusFailed  ActionStatus = "FAILED"
)

// Item is one stock line in one warehouse. Monetary amounts are per-unit
// and kept in cents.
type Item struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	WarehouseID   string     `json:"warehouse_id"`
	CategoryID    string     `json:"category_id"`
	Quantity      int        `json:"quantity"`
	BaseCostCents int64      `json:"base_cost_cents"`
	FreightCents  int64      `json:"freight_cents"`
	DutiesCents   int64      `json:"duties_cents"`
	TaxesCents    int64      `json:"taxes_cents"`
	Status        ItemStatus `json:"status"`
	Barcode       string     `json:"barcode"`
	LastUpdated   time.Time  `json:"last_updated"`
}

// TrueUnitCostCents is the landed cost per unit: base + freight + duties + taxes.
func (i Item) TrueUnitCostCents() int64 {
	return i.BaseCostCents + i.FreightCents + i.DutiesCents + i.TaxesCents
}

type Warehouse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

// Category is at most one level deep: ParentID empty means a main category,
// otherwise it points at a main category.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	ParentID string `json:"parent_id,omitempty"`
}

type Transaction struct {
	ID                string            `json:"id"`
	Type              TransactionType   `json:"type"`
	ItemID            string            `json:"item_id"`
	WarehouseID       string            `json:"warehouse_id"`
	TargetWarehouseID string            `json:"target_warehouse_id,omitempty"`
	Quantity          int               `json:"quantity"`
	Status            TransactionStatus `json:"status"`
	StaffName         string            `json:"staff_name"`
	Timestamp         time.Time         `json:"timestamp"`
	RejectionReason   string            `json:"rejection_reason,omitempty"`
}

// Notification is an append-only audit record; never consulted for
// correctness.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncAction is one queued, not-yet-confirmed mutating operation. ID is
// assigned by the durable store and is monotonic for the store's lifetime.
type SyncAction struct {
	ID        int64           `json:"id"`
	Type      ActionType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    ActionStatus    `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Retries   int             `json:"retries"`
}

// ApprovalPayload is the payload of an APPROVE action.
type ApprovalPayload struct {
	TxID string `json:"tx_id"`
}

// RejectionPayload is the payload of a REJECT action.
type RejectionPayload struct {
	TxID   string `json:"tx_id"`
	Reason string `json:"reason"`
}

type StockRequest struct {
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
	StaffName string `json:"staff_name"`
}

type TransferRequest struct {
	ItemID            string `json:"item_id"`
	TargetWarehouseID string `json:"target_warehouse_id"`
	Quantity          int    `json:"quantity"`
	StaffName         string `json:"staff_name"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type ItemUpsertRequest struct {
	ID            string     `json:"id,omitempty"`
	Name          string     `json:"name"`
	WarehouseID   string     `json:"warehouse_id"`
	CategoryID    string     `json:"category_id"`
	Quantity      int        `json:"quantity"`
	BaseCostCents int64      `json:"base_cost_cents"`
	FreightCents  int64      `json:"freight_cents"`
	DutiesCents   int64      `json:"duties_cents"`
	TaxesCents    int64      `json:"taxes_cents"`
	Status        ItemStatus `json:"status"`
}

type WarehouseUpsertRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

type CategoryUpsertRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	ParentID string `json:"parent_id,omitempty"`
}

// SyncStatus is the orchestrator snapshot surfaced for observability; not
// used for control flow.
type SyncStatus struct {
	State        string     `json:"state"`
	Online       bool       `json:"online"`
	PendingCount int        `json:"pending_count"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	FailedCycles int        `json:"failed_cycles"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}
