package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const washerPayload = `{"storeId":"store1","machineId":"wash2","type":"washing","price":35000,"capacity":12}`

type testClock struct {
	now time.Time
}

func (clock *testClock) Now() time.Time { return clock.now }

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, laundry.Notification) error { return nil }

type apiHarness struct {
	router *gin.Engine
	clock  *testClock
	store  *memstore.Store
}

func newHarness(t *testing.T) apiHarness {
	t.Helper()
	store := memstore.New()
	seedCatalog(t, store)
	clock := &testClock{now: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}
	service, err := laundry.NewService(store, clock.Now)
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	notifier, err := laundry.NewThresholdNotifier(discardPublisher{}, laundry.DefaultNotificationSettings())
	if err != nil {
		t.Fatalf("notifier init failed: %v", err)
	}
	handler := NewHandler(zap.NewNop(), service, notifier, time.Second)
	handler.newKey = func() string { return "fixed" }
	router := NewRouter(Config{AllowedOrigins: []string{"http://localhost:8000"}}, handler)
	return apiHarness{router: router, clock: clock, store: store}
}

func seedCatalog(t *testing.T, store *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	for _, laundryStore := range []laundry.LaundryStore{
		{ID: mustStoreID(t, "store1"), Name: "Giặt Sấy 247", Status: laundry.StoreStatusOpen, Rating: 4.9, Latitude: 10.7692, Longitude: 106.6914},
		{ID: mustStoreID(t, "store6"), Name: "Premium Wash", Status: laundry.StoreStatusOpen, Rating: 4.95, Latitude: 10.8031, Longitude: 106.7100},
	} {
		if err := store.UpsertLaundryStore(ctx, laundryStore); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	for _, machine := range []laundry.Machine{
		{ID: mustMachineID(t, "wash2"), StoreID: mustStoreID(t, "store1"), Type: laundry.MachineTypeWashing, Status: laundry.MachineStatusAvailable, Capacity: 12, Price: 35000},
		{ID: mustMachineID(t, "dry11"), StoreID: mustStoreID(t, "store6"), Type: laundry.MachineTypeDrying, Status: laundry.MachineStatusAvailable, Capacity: 20, Price: 45000},
	} {
		if err := store.UpsertMachine(ctx, machine); err != nil {
			t.Fatalf("seed machine: %v", err)
		}
	}
}

func mustStoreID(t *testing.T, raw string) laundry.StoreID {
	t.Helper()
	storeID, err := laundry.NewStoreID(raw)
	if err != nil {
		t.Fatalf("store id: %v", err)
	}
	return storeID
}

func mustMachineID(t *testing.T, raw string) laundry.MachineID {
	t.Helper()
	machineID, err := laundry.NewMachineID(raw)
	if err != nil {
		t.Fatalf("machine id: %v", err)
	}
	return machineID
}

func (harness apiHarness) do(t *testing.T, method string, path string, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		request.Header.Set(headerUserID, userID)
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type reservationEnvelope struct {
	Reservation reservationPayload `json:"reservation"`
}

type walletEnvelope struct {
	Wallet walletResponse `json:"wallet"`
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	harness := newHarness(t)
	recorder := harness.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestActivationLifecycle(t *testing.T) {
	t.Parallel()
	harness := newHarness(t)

	topUp := harness.do(t, http.MethodPost, "/api/wallet/topups", "user1", map[string]any{"amount": 50000, "method": "momo"})
	if topUp.Code != http.StatusOK {
		t.Fatalf("top up failed: %d %s", topUp.Code, topUp.Body.String())
	}

	activation := harness.do(t, http.MethodPost, "/api/activations", "user1", map[string]any{"qr_payload": washerPayload, "payment_method": "wallet"})
	if activation.Code != http.StatusCreated {
		t.Fatalf("activation failed: %d %s", activation.Code, activation.Body.String())
	}
	created := decodeBody[reservationEnvelope](t, activation).Reservation
	if created.Status != "active" || created.PaymentStatus != "paid" || created.RemainingMinutes != 40 || created.TotalAmount != 35000 {
		t.Fatalf("unexpected reservation: %+v", created)
	}

	wallet := decodeBody[walletEnvelope](t, harness.do(t, http.MethodGet, "/api/wallet", "user1", nil)).Wallet
	if wallet.Balance != 15000 || len(wallet.Entries) != 2 || wallet.Entries[0].Type != "debit" {
		t.Fatalf("unexpected wallet: %+v", wallet)
	}
	if string(wallet.Entries[1].Metadata) != `{"method":"momo"}` || wallet.Entries[1].IdempotencyKey != "topup:fixed" {
		t.Fatalf("unexpected top-up entry: %+v", wallet.Entries[1])
	}

	harness.clock.now = harness.clock.now.Add(20 * time.Minute)
	fetched := harness.do(t, http.MethodGet, "/api/reservations/"+created.ReservationID, "user1", nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("get reservation failed: %d", fetched.Code)
	}
	halfway := decodeBody[reservationEnvelope](t, fetched).Reservation
	if halfway.Progress != 50 || halfway.RemainingMinutes != 20 {
		t.Fatalf("expected 50%%/20m, got %d%%/%dm", halfway.Progress, halfway.RemainingMinutes)
	}

	foreign := harness.do(t, http.MethodGet, "/api/reservations/"+created.ReservationID, "user2", nil)
	if foreign.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's reservation, got %d", foreign.Code)
	}

	listed := decodeBody[struct {
		Reservations []reservationPayload `json:"reservations"`
	}](t, harness.do(t, http.MethodGet, "/api/reservations?status=active", "user1", nil))
	if len(listed.Reservations) != 1 {
		t.Fatalf("expected one active reservation, got %d", len(listed.Reservations))
	}
}

func TestActivationErrors(t *testing.T) {
	t.Parallel()
	harness := newHarness(t)

	testCases := []struct {
		name       string
		userID     string
		body       map[string]any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing user header",
			body:       map[string]any{"qr_payload": washerPayload, "payment_method": "wallet"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "insufficient balance",
			userID:     "user1",
			body:       map[string]any{"qr_payload": washerPayload, "payment_method": "wallet"},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   laundry.CodeInsufficientBalance,
		},
		{
			name:       "bad qr payload",
			userID:     "user1",
			body:       map[string]any{"qr_payload": "{", "payment_method": "direct"},
			wantStatus: http.StatusBadRequest,
			wantCode:   laundry.CodeInvalidMachineDescriptor,
		},
		{
			name:       "unknown payment method",
			userID:     "user1",
			body:       map[string]any{"qr_payload": washerPayload, "payment_method": "cash"},
			wantStatus: http.StatusBadRequest,
			wantCode:   laundry.CodeInvalidArgument,
		},
		{
			name:       "missing body fields",
			userID:     "user1",
			body:       map[string]any{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_payload",
		},
	}
	for _, testCase := range testCases {
		recorder := harness.do(t, http.MethodPost, "/api/activations", testCase.userID, testCase.body)
		if recorder.Code != testCase.wantStatus {
			t.Fatalf("%s: expected %d, got %d (%s)", testCase.name, testCase.wantStatus, recorder.Code, recorder.Body.String())
		}
		if code := decodeBody[errorEnvelope](t, recorder).Error.Code; code != testCase.wantCode {
			t.Fatalf("%s: expected code %s, got %s", testCase.name, testCase.wantCode, code)
		}
	}
}

func TestDirectActivationMakesMachineBusy(t *testing.T) {
	t.Parallel()
	harness := newHarness(t)
	body := map[string]any{"qr_payload": washerPayload, "payment_method": "direct"}

	first := harness.do(t, http.MethodPost, "/api/activations", "user1", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("activation failed: %d %s", first.Code, first.Body.String())
	}
	if decodeBody[reservationEnvelope](t, first).Reservation.PaymentStatus != "pending" {
		t.Fatalf("direct payment should be pending")
	}
	second := harness.do(t, http.MethodPost, "/api/activations", "user2", body)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}

	scan := harness.do(t, http.MethodPost, "/api/scan", "", map[string]any{"payload": washerPayload})
	if scan.Code != http.StatusOK {
		t.Fatalf("scan failed: %d", scan.Code)
	}
	scanned := decodeBody[struct {
		Machine   machinePayload `json:"machine"`
		Available bool           `json:"available"`
	}](t, scan)
	if scanned.Available || scanned.Machine.Status != "in-use" {
		t.Fatalf("expected busy machine, got %+v", scanned)
	}

	machines := decodeBody[struct {
		Machines []machinePayload `json:"machines"`
	}](t, harness.do(t, http.MethodGet, "/api/stores/store1/machines", "", nil))
	if len(machines.Machines) != 1 || machines.Machines[0].RemainingMinutes != 40 {
		t.Fatalf("unexpected machines: %+v", machines.Machines)
	}
}

func TestSearchStores(t *testing.T) {
	t.Parallel()
	harness := newHarness(t)

	byRating := decodeBody[struct {
		Stores []storePayload `json:"stores"`
	}](t, harness.do(t, http.MethodGet, "/api/stores", "", nil))
	if len(byRating.Stores) != 2 || byRating.Stores[0].StoreID != "store6" {
		t.Fatalf("expected best rated first, got %+v", byRating.Stores)
	}

	nearby := decodeBody[struct {
		Stores []storePayload `json:"stores"`
	}](t, harness.do(t, http.MethodGet, "/api/stores?lat=10.7692&lng=106.6914&radius_km=2", "", nil))
	if len(nearby.Stores) != 1 || nearby.Stores[0].StoreID != "store1" {
		t.Fatalf("expected only store1 within 2km, got %+v", nearby.Stores)
	}

	dryers := decodeBody[struct {
		Stores []storePayload `json:"stores"`
	}](t, harness.do(t, http.MethodGet, "/api/stores?type=drying", "", nil))
	if len(dryers.Stores) != 1 || dryers.Stores[0].Machines[0].MachineID != "dry11" {
		t.Fatalf("expected the dryer store only, got %+v", dryers.Stores)
	}

	invalid := harness.do(t, http.MethodGet, "/api/stores?lat=abc&lng=1", "", nil)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", invalid.Code)
	}
}

func TestTopUpValidation(t *testing.T) {
	t.Parallel()
	harness := newHarness(t)

	bonus := harness.do(t, http.MethodPost, "/api/wallet/topups", "user1", map[string]any{"amount": 200000, "idempotency_key": "t-1"})
	result := decodeBody[map[string]int64](t, bonus)
	if result["bonus"] != 20000 || result["balance"] != 220000 {
		t.Fatalf("unexpected top-up result: %v", result)
	}
	duplicate := harness.do(t, http.MethodPost, "/api/wallet/topups", "user1", map[string]any{"amount": 200000, "idempotency_key": "t-1"})
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate key, got %d", duplicate.Code)
	}
	tooSmall := harness.do(t, http.MethodPost, "/api/wallet/topups", "user1", map[string]any{"amount": 9999, "idempotency_key": "t-2"})
	if tooSmall.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 below minimum, got %d", tooSmall.Code)
	}
	tooLarge := harness.do(t, http.MethodPost, "/api/wallet/topups", "user1", map[string]any{"amount": int64(1_000_000_000_000_000_000), "idempotency_key": "t-3"})
	if tooLarge.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 above maximum, got %d", tooLarge.Code)
	}
	badMethod := harness.do(t, http.MethodPost, "/api/wallet/topups", "user1", map[string]any{"amount": 50000, "method": "paypal"})
	if badMethod.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported method, got %d", badMethod.Code)
	}
}

func TestNotificationSettings(t *testing.T) {
	t.Parallel()
	harness := newHarness(t)

	current := decodeBody[settingsPayload](t, harness.do(t, http.MethodGet, "/api/notification-settings", "", nil))
	if current.BeforeCompletion != 5 || !current.Enabled {
		t.Fatalf("unexpected defaults: %+v", current)
	}
	updated := decodeBody[settingsPayload](t, harness.do(t, http.MethodPut, "/api/notification-settings", "", map[string]any{"enabled": false}))
	if updated.BeforeCompletion != 5 || updated.Enabled {
		t.Fatalf("unexpected update: %+v", updated)
	}
	invalid := harness.do(t, http.MethodPut, "/api/notification-settings", "", map[string]any{"before_completion": 3})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported threshold, got %d", invalid.Code)
	}
}

func TestFavorites(t *testing.T) {
	t.Parallel()
	harness := newHarness(t)

	for _, path := range []string{"/api/favorites/store6", "/api/favorites/store1", "/api/favorites/store6"} {
		recorder := harness.do(t, http.MethodPut, path, "user1", nil)
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("PUT %s: expected 204, got %d: %s", path, recorder.Code, recorder.Body.String())
		}
	}
	unknown := harness.do(t, http.MethodPut, "/api/favorites/store99", "user1", nil)
	if unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown store, got %d", unknown.Code)
	}
	anonymous := harness.do(t, http.MethodGet, "/api/favorites", "", nil)
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user header, got %d", anonymous.Code)
	}

	saved := decodeBody[struct {
		Stores []storePayload `json:"stores"`
	}](t, harness.do(t, http.MethodGet, "/api/favorites", "user1", nil))
	if len(saved.Stores) != 2 || saved.Stores[0].StoreID != "store1" || saved.Stores[1].StoreID != "store6" {
		t.Fatalf("expected store1,store6, got %+v", saved.Stores)
	}

	removed := harness.do(t, http.MethodDelete, "/api/favorites/store1", "user1", nil)
	if removed.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", removed.Code)
	}
	remaining := decodeBody[struct {
		Stores []storePayload `json:"stores"`
	}](t, harness.do(t, http.MethodGet, "/api/favorites", "user1", nil))
	if len(remaining.Stores) != 1 || remaining.Stores[0].StoreID != "store6" {
		t.Fatalf("expected store6 only, got %+v", remaining.Stores)
	}
	others := decodeBody[struct {
		Stores []storePayload `json:"stores"`
	}](t, harness.do(t, http.MethodGet, "/api/favorites", "user2", nil))
	if len(others.Stores) != 0 {
		t.Fatalf("favorites leaked across users: %+v", others.Stores)
	}
}
