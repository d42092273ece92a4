package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"frostmart/internal/app"
	"frostmart/internal/config"
	"frostmart/internal/database"
	"frostmart/internal/handlers"
	"frostmart/internal/lalamove"
	"frostmart/internal/models"
	"frostmart/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAPIKey    = "pk_test"
	testAPISecret = "sk_test"
	webhookPath   = "/api/webhooks/lalamove"
)

// fakeLalamove serves the subset of the courier API the service calls.
type fakeLalamove struct {
	mu       sync.Mutex
	status   string
	placed   int
	canceled int
}

func (f *fakeLalamove) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v3/quotations":
		_, _ = io.WriteString(w, `{"data":{"quotationId":"Q-1","expiresAt":"2030-01-01T00:00:00Z",
			"priceBreakdown":{"total":"120.00","currency":"PHP"},
			"stops":[{"stopId":"S-1"},{"stopId":"S-2"}]}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v3/orders":
		f.placed++
		_, _ = io.WriteString(w, `{"data":{"orderId":"LLM-100","status":"ASSIGNING_DRIVER","shareLink":"https://share.example/LLM-100"}}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v3/orders/LLM-100":
		fmt.Fprintf(w, `{"data":{"orderId":"LLM-100","status":%q,"driverId":"drv-7"}}`, f.status)
	case r.Method == http.MethodDelete:
		f.canceled++
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testEnv struct {
	app      *app.App
	store    *database.Store
	courier  *fakeLalamove
	products []models.Product
}

// setupApp builds the full application on an in-memory SQLite database and
// a fake courier API.
func setupApp(t *testing.T) *testEnv {
	t.Helper()

	courier := &fakeLalamove{status: "ON_GOING"}
	srv := httptest.NewServer(courier)
	t.Cleanup(srv.Close)

	v := viper.New()
	config.SetDefaults(v)
	v.Set("DATABASE_DRIVER", "sqlite")
	v.Set("DATABASE_DSN", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	v.Set("JWT_SECRET", "test_jwt_secret")
	v.Set("LALAMOVE_BASE_URL", srv.URL)
	v.Set("LALAMOVE_API_KEY", testAPIKey)
	v.Set("LALAMOVE_API_SECRET", testAPISecret)
	v.Set("STORE_PHONE", "+639170000000")
	v.Set("STORE_ADDRESS", "12 Cold St, Makati")
	v.Set("STORE_LAT", 14.5547)
	v.Set("STORE_LNG", 121.0244)
	v.Set("POLL_INTERVAL", 0)
	cfg := config.FromViper(v)
	require.NoError(t, cfg.Validate())

	store, err := database.Connect(database.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN})
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	a := app.New(cfg, store, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a.Start(ctx)

	require.NoError(t, a.Auth.EnsureAdmin(ctx, "admin", "admin@frostmart.local", "adminpass"))

	env := &testEnv{app: a, store: store, courier: courier}
	for _, p := range []models.Product{
		{Name: "Pork Belly", Unit: "kg", Price: decimal.RequireFromString("320.00"), Stock: 10},
		{Name: "Chicken Wings", Unit: "kg", Price: decimal.RequireFromString("210.50"), Stock: 1},
	} {
		product := p
		require.NoError(t, a.Products.CreateProduct(ctx, &product))
		env.products = append(env.products, product)
	}
	require.NoError(t, repositories.NewGORMCouponRepository(store.DB).Create(ctx,
		&models.Coupon{Code: "COLD10", PercentOff: decimal.NewFromInt(10), Active: true}))
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Fiber.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	_ = json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (e *testEnv) customer(t *testing.T, username string) string {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return e.login(t, username, "password123")
}

func (e *testEnv) checkout(t *testing.T, token string, shipping models.ShippingMethod, qty int) map[string]interface{} {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/orders", token, map[string]interface{}{
		"items":           []map[string]interface{}{{"product_id": e.products[0].ID, "quantity": qty}},
		"shipping_method": shipping,
		"coupon_code":     "cold10",
		"delivery_address": map[string]interface{}{
			"line":            "88 Ayala Ave, Makati",
			"lat":             14.5995,
			"lng":             120.9842,
			"recipient_name":  "Juan",
			"recipient_phone": "+639171234567",
		},
		"payment": map[string]string{"session_id": "cs_test_1", "status": "paid"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body
}

func webhookBody(t *testing.T, eventID, eventType string, data interface{}, sign bool) []byte {
	t.Helper()
	body, _ := webhookEnvelope(t, eventID, eventType, data, sign)
	return body
}

// webhookEnvelope builds a callback body and the signature of its data.
func webhookEnvelope(t *testing.T, eventID, eventType string, data interface{}, inBody bool) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	ts := time.Now().Unix()
	signature := lalamove.Sign(testAPISecret, strconv.FormatInt(ts, 10), "POST", webhookPath, string(raw))
	envelope := map[string]interface{}{
		"apiKey":       testAPIKey,
		"timestamp":    ts,
		"eventId":      eventID,
		"eventType":    eventType,
		"eventVersion": "v3",
		"data":         json.RawMessage(raw),
	}
	if inBody {
		envelope["signature"] = signature
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return body, signature
}

func (e *testEnv) webhook(t *testing.T, body []byte, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, webhookPath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Fiber.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestAuthRegisterAndLogin(t *testing.T) {
	env := setupApp(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "testuser",
		"email":    "test@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "User registered successfully", body["message"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "testuser",
		"email":    "other@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "xy",
		"email":    "not-an-email",
		"password": "1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation failed", body["message"])

	token := env.login(t, "testuser", "password123")
	claims, err := env.app.Auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "testuser", claims.Username)
	assert.Equal(t, models.RoleCustomer, claims.Role)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "testuser",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProductEndpoints(t *testing.T) {
	env := setupApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	resp, err := env.app.Fiber.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var products []models.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&products))
	assert.Len(t, products, 2)

	resp, body := env.do(t, http.MethodGet, "/api/v1/products/"+env.products[0].ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Pork Belly", body["name"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/products/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderEndpointsRequireAuth(t *testing.T) {
	env := setupApp(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/orders/mine", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/orders/mine", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := env.customer(t, "buyer")
	resp, _ = env.do(t, http.MethodGet, "/api/v1/admin/orders", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckout(t *testing.T) {
	env := setupApp(t)
	token := env.customer(t, "buyer")

	order := env.checkout(t, token, models.ShippingPickup, 2)
	assert.Equal(t, string(models.StatusReceived), order["status"])
	assert.Equal(t, "COLD10", order["coupon_code"])
	assert.Equal(t, "576", order["total"])
	assert.Regexp(t, `^FM-\d{8}-[A-Z0-9]{6}$`, order["order_number"])

	resp, body := env.do(t, http.MethodGet, "/api/v1/orders/mine", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])

	product, err := env.app.Products.GetProductByID(context.Background(), env.products[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 8, product.Stock)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/orders", token, map[string]interface{}{
		"items":           []map[string]interface{}{{"product_id": env.products[0].ID, "quantity": 1}},
		"shipping_method": "pickup",
		"payment":         map[string]string{"session_id": "cs_test_2", "status": "unpaid"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/orders", token, map[string]interface{}{
		"items":           []map[string]interface{}{{"product_id": env.products[1].ID, "quantity": 5}},
		"shipping_method": "pickup",
		"payment":         map[string]string{"session_id": "cs_test_3", "status": "paid"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/orders", token, map[string]interface{}{
		"items":           []map[string]interface{}{},
		"shipping_method": "drone",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	other := env.customer(t, "snoop")
	resp, _ = env.do(t, http.MethodGet, "/api/v1/orders/"+order["id"].(string), other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCourierLifecycle(t *testing.T) {
	env := setupApp(t)
	token := env.customer(t, "buyer")
	admin := env.login(t, "admin", "adminpass")

	order := env.checkout(t, token, models.ShippingLalamove, 1)
	orderID := order["id"].(string)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/admin/orders/"+orderID+"/lalamove", admin, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "courier needs a prepared order")

	for _, status := range []string{"preparing", "prepared"} {
		resp, body := env.do(t, http.MethodPatch, "/api/v1/admin/orders/"+orderID+"/status", admin, map[string]string{"status": status})
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
	}

	resp, body := env.do(t, http.MethodPatch, "/api/v1/admin/orders/"+orderID+"/status", admin, map[string]string{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

	resp, body = env.do(t, http.MethodPost, "/api/v1/admin/orders/"+orderID+"/lalamove", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, string(models.StatusPlaced), body["status"])
	details := body["lalamove_details"].(map[string]interface{})
	assert.Equal(t, "LLM-100", details["order_id"])
	assert.Equal(t, string(models.ProviderAssigningDriver), details["status"])

	t.Run("unsigned webhook is rejected", func(t *testing.T) {
		resp, body := env.webhook(t, webhookBody(t, "evt-x", "ORDER_STATUS_CHANGED", map[string]interface{}{
			"order": map[string]string{"orderId": "LLM-100", "status": "COMPLETED"},
		}, false))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Webhook rejected", body["message"])
	})

	t.Run("signed webhook advances the order", func(t *testing.T) {
		payload := webhookBody(t, "evt-1", "ORDER_STATUS_CHANGED", map[string]interface{}{
			"order":     map[string]string{"orderId": "LLM-100", "status": "PICKED_UP"},
			"updatedAt": time.Now().UTC().Format(time.RFC3339),
		}, true)
		resp, body := env.webhook(t, payload)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Equal(t, "event processed", body["message"])
		assert.Equal(t, "applied", body["outcome"])

		resp, body = env.webhook(t, payload)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "duplicate event", body["message"])
	})

	t.Run("stale poll result is ignored", func(t *testing.T) {
		env.courier.mu.Lock()
		env.courier.status = "ON_GOING"
		env.courier.mu.Unlock()

		resp, body := env.do(t, http.MethodPost, "/api/v1/admin/orders/"+orderID+"/refresh", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.Equal(t, "ignored", body["outcome"])

		resp, body = env.do(t, http.MethodGet, "/api/v1/orders/"+orderID, token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(models.StatusPickedUp), body["status"])
	})

	t.Run("signature in header", func(t *testing.T) {
		body, signature := webhookEnvelope(t, "evt-6", "DRIVER_ASSIGNED", map[string]interface{}{
			"order":  map[string]string{"orderId": "LLM-100"},
			"driver": map[string]string{"driverId": "drv-7", "name": "Pedro"},
		}, false)
		resp, decoded := env.webhook(t, body, handlers.SignatureHeader, signature)
		require.Equal(t, http.StatusOK, resp.StatusCode, decoded)
		assert.Equal(t, "applied", decoded["outcome"])
	})

	t.Run("unknown courier order is acknowledged", func(t *testing.T) {
		resp, body := env.webhook(t, webhookBody(t, "evt-2", "ORDER_STATUS_CHANGED", map[string]interface{}{
			"order": map[string]string{"orderId": "LLM-404", "status": "COMPLETED"},
		}, true))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "event acknowledged", body["message"])
	})

	t.Run("malformed webhooks", func(t *testing.T) {
		resp, _ := env.webhook(t, []byte(`{"eventType":`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = env.webhook(t, webhookBody(t, "evt-3", "", map[string]interface{}{}, true))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = env.webhook(t, webhookBody(t, "evt-4", "ORDER_STATUS_CHANGED", map[string]interface{}{
			"order": map[string]string{"status": "COMPLETED"},
		}, true))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("completion is final", func(t *testing.T) {
		resp, body := env.webhook(t, webhookBody(t, "evt-5", "ORDER_STATUS_CHANGED", map[string]interface{}{
			"order":     map[string]string{"orderId": "LLM-100", "status": "COMPLETED"},
			"updatedAt": time.Now().UTC().Add(time.Minute).Format(time.RFC3339),
		}, true))
		require.Equal(t, http.StatusOK, resp.StatusCode, body)

		resp, _ = env.do(t, http.MethodPost, "/api/v1/admin/orders/"+orderID+"/cancel", admin, map[string]string{"notes": "too late"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID+"/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	historyResp, err := env.app.Fiber.Test(req, -1)
	require.NoError(t, err)
	defer historyResp.Body.Close()
	var history []models.StatusHistory
	require.NoError(t, json.NewDecoder(historyResp.Body).Decode(&history))
	require.NotEmpty(t, history)
	assert.Equal(t, models.StatusReceived, history[0].Status)
	assert.Equal(t, models.StatusCompleted, history[len(history)-1].Status)

	require.Eventually(t, func() bool {
		list, err := env.app.Notifications.List(context.Background(), models.AudienceCustomer, "", false, 50)
		return err == nil && len(list) >= 5
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCancelPickupOrderRestocks(t *testing.T) {
	env := setupApp(t)
	token := env.customer(t, "buyer")
	admin := env.login(t, "admin", "adminpass")

	order := env.checkout(t, token, models.ShippingPickup, 3)
	resp, body := env.do(t, http.MethodPost, "/api/v1/admin/orders/"+order["id"].(string)+"/cancel", admin, map[string]string{"notes": "customer called"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	product, err := env.app.Products.GetProductByID(context.Background(), env.products[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 10, product.Stock)

	resp, body = env.do(t, http.MethodGet, "/api/v1/admin/orders?status=cancelled", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/admin/orders/"+order["id"].(string)+"/lalamove", admin, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestNotificationEndpoints(t *testing.T) {
	env := setupApp(t)
	token := env.customer(t, "buyer")
	env.checkout(t, token, models.ShippingPickup, 1)

	var list []models.Notification
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unread=true", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := env.app.Fiber.Test(req, -1)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		list = nil
		return json.NewDecoder(resp.Body).Decode(&list) == nil && len(list) == 1
	}, 2*time.Second, 20*time.Millisecond)

	other := env.customer(t, "snoop")
	id := strconv.FormatUint(uint64(list[0].ID), 10)
	resp, _ := env.do(t, http.MethodPatch, "/api/v1/notifications/"+id+"/read", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPatch, "/api/v1/notifications/"+id+"/read", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPatch, "/api/v1/notifications/abc/read", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	admin := env.login(t, "admin", "adminpass")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	adminResp, err := env.app.Fiber.Test(req, -1)
	require.NoError(t, err)
	defer adminResp.Body.Close()
	var adminList []models.Notification
	require.NoError(t, json.NewDecoder(adminResp.Body).Decode(&adminList))
	require.NotEmpty(t, adminList)
	assert.Equal(t, models.AudienceAdmin, adminList[0].Audience)
}

func TestWebhookHealth(t *testing.T) {
	env := setupApp(t)

	resp, body := env.do(t, http.MethodGet, "/api/webhooks/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	require.NoError(t, env.store.Close())
	resp, body = env.do(t, http.MethodGet, "/api/webhooks/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", body["status"])
}
