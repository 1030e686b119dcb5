package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gudangsync/backend/internal/assetcache"
	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/ledger"
	"gudangsync/backend/internal/store/memory"
)

type stubSyncController struct {
	triggered atomic.Int64
	status    domain.SyncStatus
}

func (s *stubSyncController) Trigger() { s.triggered.Add(1) }
func (s *stubSyncController) Status(context.Context) (domain.SyncStatus, error) {
	return s.status, nil
}

type testHarness struct {
	api   *API
	sync  *stubSyncController
	auth  *AuthManager
	admin string
	staff string
}

func newTestAPI(t *testing.T) *testHarness {
	t.Helper()
	svc := ledger.New(memory.NewSeeded(), assetcache.NoopAssetCache{}, nil, "wh-hub")
	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, []Credential{
		{Username: "admin", Password: "admin-pw", Role: "admin"},
		{Username: "staff", Password: "staff-pw", Role: "staff"},
	})
	syn := &stubSyncController{status: domain.SyncStatus{State: "IDLE", Online: true}}
	api := New(svc, syn, auth, "http://127.0.0.1:3000")

	h := &testHarness{api: api, sync: syn, auth: auth}
	h.admin = h.login(t, "admin", "admin-pw")
	h.staff = h.login(t, "staff", "staff-pw")
	return h
}

func (h *testHarness) login(t *testing.T, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func (h *testHarness) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestItemsRequireAuth(t *testing.T) {
	h := newTestAPI(t)

	rec := h.do(t, http.MethodGet, "/api/v1/items", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/items", h.staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with staff token, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Items []domain.Item `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 seeded items, got %d", len(resp.Items))
	}
}

func TestItemCreateIsAdminOnly(t *testing.T) {
	h := newTestAPI(t)
	payload := domain.ItemUpsertRequest{
		Name:        "Strapping Tool",
		WarehouseID: "wh-hub",
		CategoryID:  "cat-elc",
		Quantity:    8,
	}

	rec := h.do(t, http.MethodPost, "/api/v1/items", h.staff, payload)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/items", h.admin, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStockOutRequestAndApproveFlow(t *testing.T) {
	h := newTestAPI(t)

	rec := h.do(t, http.MethodPost, "/api/v1/transactions/stock-out", h.staff, domain.StockRequest{
		ItemID:   "item-scanner",
		Quantity: 5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request stock-out: %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Transaction.StaffName != "staff" {
		t.Fatalf("staff name must default to the actor, got %q", created.Transaction.StaffName)
	}

	// Approval is an admin operation.
	rec = h.do(t, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/approve", h.staff, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff approve, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/approve", h.admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d: %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, "/api/v1/transactions/"+created.Transaction.ID, h.admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get transaction: %d", rec.Code)
	}
	var fetched struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.Transaction.Status != domain.TxStatusApproved {
		t.Fatalf("expected APPROVED, got %s", fetched.Transaction.Status)
	}
}

func TestRejectWithoutReasonIsBadRequest(t *testing.T) {
	h := newTestAPI(t)

	rec := h.do(t, http.MethodPost, "/api/v1/transactions/stock-in", h.staff, domain.StockRequest{
		ItemID:   "item-label",
		Quantity: 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request: %d", rec.Code)
	}
	var created struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/reject", h.admin, domain.RejectRequest{Reason: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty reason, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/reject", h.admin, domain.RejectRequest{Reason: "wrong shipment"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInsufficientStockMapsToConflict(t *testing.T) {
	h := newTestAPI(t)

	rec := h.do(t, http.MethodPost, "/api/v1/transactions/stock-out", h.staff, domain.StockRequest{
		ItemID:   "item-scanner",
		Quantity: 9999,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSyncStatusAndTrigger(t *testing.T) {
	h := newTestAPI(t)

	rec := h.do(t, http.MethodGet, "/api/v1/sync/status", h.staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var status domain.SyncStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != "IDLE" || !status.Online {
		t.Fatalf("unexpected status: %+v", status)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/sync/trigger", h.staff, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger: %d", rec.Code)
	}
	if h.sync.triggered.Load() != 1 {
		t.Fatalf("expected exactly one trigger, got %d", h.sync.triggered.Load())
	}
}

func TestUnknownTransactionActionIs404(t *testing.T) {
	h := newTestAPI(t)
	rec := h.do(t, http.MethodPost, "/api/v1/transactions/tx-x/promote", h.admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
