package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
	"github.com/vladislavdragonenkov/orderserver/internal/identity"
	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
	"github.com/vladislavdragonenkov/orderserver/internal/service/catalog"
	"github.com/vladislavdragonenkov/orderserver/internal/service/orders"
	"github.com/vladislavdragonenkov/orderserver/internal/storage/memory"
)

const testToken = "token-1"

var (
	alice = domain.Identity{ID: "user-alice", Name: "Alice", Surname: "Smith", BirthDate: "1990-01-01", Email: "alice@example.com"}
	bob   = domain.Identity{ID: "user-bob", Name: "Bob", Surname: "Jones", BirthDate: "1985-05-05", Email: "bob@example.com"}
)

// identityServer имитирует сервис пользователей.
type identityServer struct {
	*httptest.Server
	failing atomic.Bool
}

func newIdentityServer(t *testing.T) *identityServer {
	t.Helper()

	users := map[string]domain.Identity{alice.Email: alice, bob.Email: bob}
	srv := &identityServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/email/{email}", func(w http.ResponseWriter, r *http.Request) {
		if !srv.authorize(w, r) {
			return
		}
		user, ok := users[r.PathValue("email")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("POST /users/ids", func(w http.ResponseWriter, r *http.Request) {
		if !srv.authorize(w, r) {
			return
		}
		var ids []string
		_ = json.NewDecoder(r.Body).Decode(&ids)
		result := make([]domain.Identity, 0, len(ids))
		for _, id := range ids {
			for _, user := range users {
				if user.ID == id {
					result = append(result, user)
				}
			}
		}
		_ = json.NewEncoder(w).Encode(result)
	})

	srv.Server = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (s *identityServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.failing.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return false
	}
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

type apiFixture struct {
	handler  http.Handler
	identity *identityServer
	registry *prometheus.Registry
	store    *memory.Store
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	identitySrv := newIdentityServer(t)
	store := memory.NewStore()
	registry := prometheus.NewRegistry()
	m := metrics.NewOrderMetricsWithRegisterer(registry)

	orderService := orders.NewService(
		memory.NewOrderRepository(store),
		memory.NewItemRepository(store),
		identity.NewClient(identitySrv.URL, time.Second),
		orders.WithClock(func() time.Time { return fixedNow }),
		orders.WithMetrics(m),
	)
	catalogService := catalog.NewService(memory.NewItemRepository(store), memory.NewOrderLineRepository(store))

	handler := NewRouter(orderService, catalogService, Options{
		Metrics: m,
		Now:     func() time.Time { return fixedNow },
	})
	return &apiFixture{handler: handler, identity: identitySrv, registry: registry, store: store}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, authorized bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, APIPrefix+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *apiFixture) createItem(t *testing.T, name, price string) itemResponse {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/items", map[string]any{"name": name, "price": json.Number(price)}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[itemResponse](t, rec)
}

func (f *apiFixture) createOrder(t *testing.T, email string, lines ...map[string]any) orderResponse {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/orders", map[string]any{
		"status":     "CREATED",
		"userEmail":  email,
		"orderItems": lines,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[orderResponse](t, rec)
}

func TestOrdersAPI_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)

	phone := f.createItem(t, "Phone", "10.50")
	cable := f.createItem(t, "Cable", "5")

	created := f.createOrder(t, alice.Email,
		map[string]any{"itemId": phone.ID, "quantity": 2},
		map[string]any{"itemId": cable.ID, "quantity": 4},
	)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "CREATED", created.Status)
	assert.Equal(t, "2025-03-14", created.CreationDate)
	assert.Empty(t, created.PaymentID)
	require.Len(t, created.OrderItems, 2)
	require.NotNil(t, created.UserInfo)
	assert.Equal(t, alice, *created.UserInfo)

	rec := f.do(t, http.MethodGet, "/orders/"+created.ID+"/"+alice.Email, nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, created.ID, decode[orderResponse](t, rec).ID)

	rec = f.do(t, http.MethodPut, "/orders/"+created.ID+"/"+alice.Email, map[string]any{"status": "in_progress"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "IN_PROGRESS", decode[orderResponse](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/orders/statuses", []string{"IN_PROGRESS"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	byStatus := decode[[]orderResponse](t, rec)
	require.Len(t, byStatus, 1)
	assert.Equal(t, created.ID, byStatus[0].ID)

	rec = f.do(t, http.MethodPost, "/orders/ids", []string{created.ID, "missing"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decode[[]orderResponse](t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/orders/"+created.ID, nil, false)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/orders/"+created.ID, nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Resource not found", body.Error)
	assert.Equal(t, "Order not found", body.Message)
	assert.Equal(t, "14-03-2025 09:26:53", body.Timestamp)
}

func TestOrdersAPI_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	phone := f.createItem(t, "Phone", "10")
	order := f.createOrder(t, alice.Email, map[string]any{"itemId": phone.ID, "quantity": 1})

	cases := []struct {
		name       string
		method     string
		path       string
		body       any
		authorized bool
		status     int
		category   string
		message    string
	}{
		{
			name:     "missing bearer",
			method:   http.MethodGet,
			path:     "/orders/" + order.ID + "/" + alice.Email,
			status:   http.StatusBadRequest,
			category: "Authorization failed",
			message:  "Invalid <Authorization> header",
		},
		{
			name:       "foreign owner",
			method:     http.MethodGet,
			path:       "/orders/" + order.ID + "/" + bob.Email,
			authorized: true,
			status:     http.StatusBadRequest,
			category:   "Inconsistent data",
		},
		{
			name:       "unknown user",
			method:     http.MethodPost,
			path:       "/orders",
			body:       map[string]any{"status": "CREATED", "userEmail": "ghost@example.com", "orderItems": []any{}},
			authorized: true,
			status:     http.StatusNotFound,
			category:   "Resource not found",
			message:    "User not found",
		},
		{
			name:       "unknown item",
			method:     http.MethodPost,
			path:       "/orders",
			body:       map[string]any{"status": "CREATED", "userEmail": alice.Email, "orderItems": []any{map[string]any{"itemId": "ghost", "quantity": 1}}},
			authorized: true,
			status:     http.StatusNotFound,
			category:   "Resource not found",
		},
		{
			name:       "invalid body",
			method:     http.MethodPost,
			path:       "/orders",
			body:       map[string]any{"status": "CREATED", "userEmail": "not-an-email", "orderItems": []any{map[string]any{"itemId": phone.ID, "quantity": 0}}},
			authorized: true,
			status:     http.StatusBadRequest,
			category:   "Validation failed",
			message:    "orderItems[0].quantity: must be greater than 0; userEmail: must be a well-formed email address",
		},
		{
			name:       "malformed json",
			method:     http.MethodPost,
			path:       "/orders",
			body:       "{",
			authorized: true,
			status:     http.StatusBadRequest,
			category:   "Validation failed",
		},
		{
			name:       "unknown status filter",
			method:     http.MethodPost,
			path:       "/orders/statuses",
			body:       []string{"SHIPPED"},
			authorized: true,
			status:     http.StatusBadRequest,
			category:   "Validation failed",
		},
		{
			name:     "unknown route",
			method:   http.MethodGet,
			path:     "/nothing-here",
			status:   http.StatusNotFound,
			category: "Resource not found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.body, tc.authorized)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())

			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tc.status, body.Status)
			assert.Equal(t, tc.category, body.Error)
			if tc.message != "" {
				assert.Equal(t, tc.message, body.Message)
			}
		})
	}
}

func TestOrdersAPI_IdentityUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	phone := f.createItem(t, "Phone", "10")
	f.identity.failing.Store(true)

	rec := f.do(t, http.MethodPost, "/orders", map[string]any{
		"status":     "CREATED",
		"userEmail":  alice.Email,
		"orderItems": []any{map[string]any{"itemId": phone.ID, "quantity": 1}},
	}, true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Server Error", body.Error)
	assert.Equal(t, "User Service unavailable", body.Message)

	rec = f.do(t, http.MethodPost, "/orders/ids", []string{"any"}, true)
	require.Equal(t, http.StatusOK, rec.Code, "empty result makes no identity call")
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestCatalogAPI(t *testing.T) {
	f := newAPIFixture(t)

	item := f.createItem(t, "Phone", "99.90")
	assert.Equal(t, json.Number("99.9"), item.Price)

	rec := f.do(t, http.MethodPut, "/items/"+item.ID, map[string]any{"price": 120}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[itemResponse](t, rec)
	assert.Equal(t, "Phone", updated.Name)
	assert.Equal(t, json.Number("120"), updated.Price)

	rec = f.do(t, http.MethodPost, "/items", map[string]any{"name": "", "price": -1}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name: must not be blank; price: must be greater than 0", decode[ErrorResponse](t, rec).Message)

	order := f.createOrder(t, alice.Email)

	rec = f.do(t, http.MethodPost, "/order-lines/order/"+order.ID, map[string]any{"itemId": item.ID, "quantity": 3}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	line := decode[orderLineResponse](t, rec)
	assert.Equal(t, order.ID, line.OrderID)
	assert.Equal(t, int64(3), line.Quantity)

	rec = f.do(t, http.MethodPut, "/order-lines/"+line.ID, map[string]any{"quantity": 5}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5), decode[orderLineResponse](t, rec).Quantity)

	rec = f.do(t, http.MethodGet, "/order-lines/"+line.ID, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, item.ID, decode[orderLineResponse](t, rec).ItemID)

	rec = f.do(t, http.MethodDelete, "/items/"+item.ID, nil, false)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/order-lines/"+line.ID, nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Order item not found", decode[ErrorResponse](t, rec).Message)

	rec = f.do(t, http.MethodGet, "/items/"+item.ID, nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RecordsRequestMetrics(t *testing.T) {
	f := newAPIFixture(t)

	item := f.createItem(t, "Phone", "1")
	f.do(t, http.MethodGet, "/items/"+item.ID, nil, false)
	f.do(t, http.MethodGet, "/items/missing", nil, false)

	expected := `
# HELP http_requests_total Total number of HTTP requests
# TYPE http_requests_total counter
http_requests_total{method="GET",route="/api/v1/items/{id}",status="200"} 1
http_requests_total{method="GET",route="/api/v1/items/{id}",status="404"} 1
http_requests_total{method="POST",route="/api/v1/items",status="200"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "http_requests_total"))
}

func TestRouter_CORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, APIPrefix+"/orders", nil)
	req.Header.Set("Origin", "http://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
