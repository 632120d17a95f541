package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

func newTestDashboard(t *testing.T) (*harness, http.Handler) {
	t.Helper()
	h := newHarness(t)
	return h, NewDashboard(h.app, NewHub(quietLogger()), quietLogger()).Router()
}

const dashboardURL = "http://127.0.0.1:3491"

// do sends a request the way the local dashboard page does.
func do(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, dashboardURL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", dashboardURL)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDashboardLogin(t *testing.T) {
	h, handler := newTestDashboard(t)
	h.backend.signInErr = model.NewError(model.ErrAuth, "Invalid login credentials")

	rec := do(t, handler, "POST", "/api/login", map[string]string{"email": "a@b.c", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid login credentials"}`, rec.Body.String())

	h.backend.signInErr = nil
	rec = do(t, handler, "POST", "/api/login", map[string]string{"email": "a@b.c", "password": "x"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":{"id":"u1","email":"a@b.c"}}`, rec.Body.String())
}

func TestDashboardRejectsBadBody(t *testing.T) {
	_, handler := newTestDashboard(t)

	req := httptest.NewRequest("POST", dashboardURL+"/api/login", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardRejectsForeignRequests(t *testing.T) {
	doc := `{"document":{"mode":"markup","orderId":"X","widthMm":80,"html":"<p>x</p>"}}`

	tests := []struct {
		name        string
		method      string
		url         string
		origin      string
		contentType string
		want        int
	}{
		{"cross-site page", "POST", dashboardURL + "/api/print", "https://evil.example", "application/json", http.StatusForbidden},
		{"cross-site simple post", "POST", dashboardURL + "/api/logout", "https://evil.example", "text/plain", http.StatusForbidden},
		{"rebound host", "GET", "http://evil.example:3491/api/session", "", "", http.StatusForbidden},
		{"rebound host same origin", "GET", "http://evil.example:3491/api/session", "http://evil.example:3491", "", http.StatusForbidden},
		{"rebound websocket", "GET", "http://evil.example:3491/ws", "http://evil.example:3491", "", http.StatusForbidden},
		{"local form post", "POST", dashboardURL + "/api/print", dashboardURL, "text/plain", http.StatusUnsupportedMediaType},
		{"local without type", "PUT", dashboardURL + "/api/settings", "", "", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, handler := newTestDashboard(t)

			req := httptest.NewRequest(tt.method, tt.url, bytes.NewBufferString(doc))
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, h.dispatcher.Calls())
		})
	}
}

func TestDashboardAcceptsLocalhostNames(t *testing.T) {
	_, handler := newTestDashboard(t)

	for _, host := range []string{"localhost:3491", "127.0.0.1:3491", "[::1]:3491"} {
		req := httptest.NewRequest("GET", "http://"+host+"/api/status", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, host)
	}
}

func TestDashboardSettingsRoundTrip(t *testing.T) {
	_, handler := newTestDashboard(t)

	rec := do(t, handler, "GET", "/api/settings/printer", nil)
	assert.JSONEq(t, `null`, rec.Body.String())

	rec = do(t, handler, "PUT", "/api/settings", map[string]any{"printerName": "Kitchen", "path": "/srv/bills"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = do(t, handler, "GET", "/api/settings/printer", nil)
	assert.JSONEq(t, `"Kitchen"`, rec.Body.String())

	rec = do(t, handler, "GET", "/api/settings/pdf-path", nil)
	assert.JSONEq(t, `"/srv/bills"`, rec.Body.String())
}

func TestDashboardPrintOrder(t *testing.T) {
	h, handler := newTestDashboard(t)
	h.backend.orders[42] = sampleOrder(42, "ORD-42")

	rec := do(t, handler, "POST", "/api/orders/42/print", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res model.PrintResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.True(t, res.PDFSaved)
	assert.Equal(t, "/tmp/bills/x.pdf", res.FilePath)

	rec = do(t, handler, "POST", "/api/orders/abc/print", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardSilentPrint(t *testing.T) {
	h, handler := newTestDashboard(t)

	rec := do(t, handler, "POST", "/api/print", map[string]any{
		"document": map[string]any{"mode": "markup", "orderId": "ORD-9", "widthMm": 80, "html": "<p>x</p>"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	calls := h.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ORD-9", calls[0].orderID)
	assert.Equal(t, "<p>x</p>", calls[0].doc.HTML)
}

func TestDashboardPendingOrders(t *testing.T) {
	h, handler := newTestDashboard(t)

	rec := do(t, handler, "GET", "/api/orders/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	h.backend.pending = []model.Order{sampleOrder(1, "ORD-1")}
	rec = do(t, handler, "GET", "/api/orders/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res OrdersResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Data, 1)
	assert.Equal(t, "250.00", model.FormatMoney(res.Data[0].TotalAmount))
}

func TestDashboardStatusAndHealth(t *testing.T) {
	_, handler := newTestDashboard(t)

	rec := do(t, handler, "GET", "/api/status", nil)
	assert.JSONEq(t, `{"level":"warning","message":"WARNING: Printer not set. New orders will be AUTO-SAVED as PDF."}`, rec.Body.String())

	rec = do(t, handler, "GET", "/health", nil)
	assert.JSONEq(t, `{"status":"ok","dashboards":0,"realtime":"unsubscribed"}`, rec.Body.String())
}
