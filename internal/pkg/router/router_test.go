package router

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/payments"
)

const listSettingsQuery = "SELECT .* FROM `payment_provider_settings`"

func newTestApp(t *testing.T) (*fiber.App, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Payments{
		EncryptionKey:         "v1:" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{3}, 32)),
		ProviderTimeout:       2 * time.Second,
		IdempotencyTTL:        time.Hour,
		DefaultCountry:        "US",
		PricingFile:           t.TempDir() + "/none.yml",
		TrialDays:             7,
		PublicBaseURL:         "https://payfox.example",
		AdminToken:            "ops-token",
		CheckoutRatePerMinute: 3,
	}
	svc, err := payments.Setup(cfg, db, client, nil)
	require.NoError(t, err)

	app := fiber.New()
	InstallRouter(app, svc, nil)
	return app, mock
}

func send(t *testing.T, app *fiber.App, method, target, body string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestOpsRoutes(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := send(t, app, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	status, body = send(t, app, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "go_goroutines")
}

func TestCapabilitiesRoute(t *testing.T) {
	app, mock := newTestApp(t)
	mock.ExpectQuery(listSettingsQuery).WillReturnRows(sqlmock.NewRows([]string{"id", "provider"}))

	status, body := send(t, app, http.MethodGet, "/gateways/capabilities?country=NG&currency=NGN", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	// Nothing is configured, so every provider is listed but none is available.
	assert.Contains(t, body, `"provider":"flutterwave"`)
	assert.Contains(t, body, `"provider":"paypal"`)
	assert.Contains(t, body, "provider is disabled")
	assert.NotContains(t, body, "secret")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutRoutes(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := send(t, app, http.MethodPost, "/checkout/create-session", `{"planId":"premium","billingInterval":"monthly"}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, `"email":"is required"`)

	status, _ = send(t, app, http.MethodPost, "/checkout/confirm", `{"provider":"moneybags","reference":"x"}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = send(t, app, http.MethodPost, "/checkout/confirm", `{}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	// The limiter allows three calls per minute in this configuration.
	status, body = send(t, app, http.MethodPost, "/checkout/confirm", `{}`, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, status, body)
}

func TestWebhookRoute_UnknownProvider(t *testing.T) {
	app, _ := newTestApp(t)

	status, _ := send(t, app, http.MethodPost, "/webhooks/moneybags", `{}`, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAdminRoutes(t *testing.T) {
	app, mock := newTestApp(t)

	status, _ := send(t, app, http.MethodGet, "/admin/payment-settings", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = send(t, app, http.MethodPost, "/admin/payment-settings/migrate", "", map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	mock.ExpectQuery(listSettingsQuery).WillReturnRows(sqlmock.NewRows([]string{"id", "provider"}))
	status, body := send(t, app, http.MethodGet, "/admin/payment-settings", "", map[string]string{"X-Admin-Token": "ops-token"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"providers":[]}`, body)
	assert.NoError(t, mock.ExpectationsWereMet())

	status, _ = send(t, app, http.MethodPost, "/admin/payments/paystack/pf_abc/reconcile", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	// No job manager was passed to Setup.
	status, _ = send(t, app, http.MethodPost, "/admin/payments/sweep", "", map[string]string{"X-Admin-Token": "ops-token"})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	status, _ = send(t, app, http.MethodGet, "/admin/payments/queue", "", map[string]string{"X-Admin-Token": "ops-token"})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}

// Every API route the router installs is documented in the published OpenAPI file.
func TestOpenAPIDocumentCoversRoutes(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../../public/docs/v1/openapi.yml")
	require.NoError(t, err)
	require.NoError(t, doc.Validate(loader.Context))

	app, _ := newTestApp(t)
	for _, route := range app.GetRoutes(true) {
		if route.Method == http.MethodHead || route.Path == "/metrics" {
			continue
		}
		segments := strings.Split(route.Path, "/")
		for i, seg := range segments {
			if strings.HasPrefix(seg, ":") {
				segments[i] = "{" + seg[1:] + "}"
			}
		}
		path := strings.Join(segments, "/")
		item := doc.Paths.Value(path)
		if !assert.NotNil(t, item, "undocumented path %s", path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(route.Method), "undocumented %s %s", route.Method, path)
	}
}
