package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possync/internal/central"
	"possync/internal/central/memory"
	"possync/internal/httpapi"
)

const testSecret = "reset-me"

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := central.NewService(store, testSecret, nil)
	server := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(svc)))
	t.Cleanup(server.Close)
	return server, store
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var parsed map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return parsed
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncSales_EndToEnd(t *testing.T) {
	server, store := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/sync/sales", map[string]any{
		"sales": []map[string]any{{
			"bill_no":     "BILL-001",
			"username":    "alice",
			"subtotal":    100,
			"tax":         0,
			"discount":    0,
			"grand_total": 100,
			"items": []map[string]any{{
				"barcode":      "4001",
				"product_name": "Espresso Beans 1kg",
				"quantity":     2,
				"unit_price":   50,
				"line_total":   100,
			}},
			"payments": []map[string]any{{"method": "cash", "amount": 100}},
		}},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["stored"])
	assert.Equal(t, float64(1), body["placeholder_users"])
	assert.Equal(t, float64(1), body["placeholder_products"])

	_, ok := store.SaleByBillNo("BILL-001")
	assert.True(t, ok)
}

func TestSyncSales_ValidationFailureIs400(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/sync/sales", map[string]any{
		"sales": []map[string]any{{
			"bill_no":     "",
			"username":    "alice",
			"grand_total": 10,
		}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Contains(t, body["error"], "bill_no")
}

func TestSyncUsers_UnknownFieldRejected(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/sync/users", map[string]any{
		"users":      []map[string]any{{"username": "alice"}},
		"unexpected": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCorrections_EmptyFilterIs400(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/corrections/hide", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMaintenanceReset_StatusCodes(t *testing.T) {
	server, store := newTestServer(t)

	seed := postJSON(t, server.URL+"/api/sync/users", map[string]any{
		"users": []map[string]any{{"username": "alice", "role": "cashier", "is_active": true}},
	})
	require.Equal(t, http.StatusOK, seed.StatusCode)

	resp := postJSON(t, server.URL+"/api/maintenance/reset", map[string]any{
		"secret": "wrong", "confirm": true,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postJSON(t, server.URL+"/api/maintenance/reset", map[string]any{
		"secret": testSecret, "confirm": false,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, server.URL+"/api/maintenance/reset", map[string]any{
		"secret": testSecret, "confirm": true,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Contains(t, body, "before")
	assert.Contains(t, body, "after")

	_, ok := store.UserByUsername("alice")
	assert.True(t, ok, "users survive the reset")
}

func TestCleanupPlaceholders_Endpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/sync/cleanup-placeholders", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(0), body["deleted"])
}
