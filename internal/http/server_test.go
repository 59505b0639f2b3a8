package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grouply/internal/core"
	"grouply/internal/log"
	"grouply/internal/metrics"
	"grouply/internal/services"
	"grouply/internal/storage/memory"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	store := memory.New(
		core.Participant{ID: "A", Name: "Alice"},
		core.Participant{ID: "B", Name: "Bob"},
		core.Participant{ID: "C", Name: "Charlie"},
	)
	svc := services.NewLedgerService(store, services.WithLogger(log.Discard()))
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	srv := NewServer(":0", svc, opts...)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestListUsers(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rr.Code)

	users := decode[[]map[string]string](t, rr)
	require.Len(t, users, 3)
	assert.Equal(t, map[string]string{"id": "A", "name": "Alice"}, users[0])
}

func TestCreateExpenseThenReadViews(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/api/expenses", `{
		"groupId": "trip",
		"payerId": "A",
		"amount": "100.00",
		"description": "Dinner",
		"splitMode": "EQUAL",
		"shares": [{"userId": "A"}, {"userId": "B"}, {"userId": "C"}]
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[map[string]any](t, rr)
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, "100.00", created["amount"])
	shares := created["shares"].([]any)
	require.Len(t, shares, 3)
	assert.Equal(t, "33.34", shares[0].(map[string]any)["amount"])

	rr = do(t, srv, http.MethodGet, "/api/groups/trip/balances", "")
	require.Equal(t, http.StatusOK, rr.Code)
	balances := decode[[]map[string]any](t, rr)
	require.Len(t, balances, 3)
	byID := map[string]map[string]any{}
	for _, b := range balances {
		byID[b["participantId"].(string)] = b
	}
	assert.Equal(t, "-66.66", byID["A"]["balance"])
	assert.Equal(t, "33.33", byID["B"]["balance"])
	assert.Equal(t, "Bob", byID["B"]["name"])
	assert.Equal(t, "B", byID["B"]["userId"])
	assert.Equal(t, false, byID["B"]["settled"])

	rr = do(t, srv, http.MethodGet, "/api/groups/trip/settlements/suggested", "")
	require.Equal(t, http.StatusOK, rr.Code)
	plan := decode[[]map[string]any](t, rr)
	require.Len(t, plan, 2)
	for _, p := range plan {
		assert.Equal(t, "A", p["toUserId"])
		assert.Equal(t, p["fromParticipantId"], p["fromUserId"])
	}

	rr = do(t, srv, http.MethodGet, "/api/events/trip/expenses", "")
	require.Equal(t, http.StatusOK, rr.Code)
	expenses := decode[[]map[string]any](t, rr)
	require.Len(t, expenses, 1)
	assert.Equal(t, "Alice", expenses[0]["payerName"])
	assert.Equal(t, "EQUAL", expenses[0]["splitMode"])
}

func TestCreateExpenseWithWeights(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/api/expenses", `{
		"groupId": "trip", "payerId": "A", "amount": 10, "splitMode": "percentage",
		"shares": [{"userId": "A", "value": "70"}, {"participantId": "B", "value": 30}]
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, srv, http.MethodGet, "/api/groups/trip/expenses", "")
	expenses := decode[[]map[string]any](t, rr)
	require.Len(t, expenses, 1)
	shares := expenses[0]["shares"].([]any)
	first := shares[0].(map[string]any)
	assert.Equal(t, "7.00", first["amount"])
	assert.Equal(t, "70", first["weight"])
	assert.Equal(t, "Alice", first["userName"])
}

func TestCreateExpenseErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		errSub string
	}{
		{"empty body", ``, http.StatusBadRequest, "empty body"},
		{"malformed json", `{"groupId":`, http.StatusBadRequest, "bad request"},
		{"bad amount", `{"groupId":"g","payerId":"A","amount":"12.x","splitMode":"EQUAL","shares":[{"userId":"A"}]}`, http.StatusBadRequest, "invalid amount"},
		{"zero amount", `{"groupId":"g","payerId":"A","amount":"0","splitMode":"EQUAL","shares":[{"userId":"A"}]}`, http.StatusBadRequest, "amount must be positive"},
		{"unknown mode", `{"groupId":"g","payerId":"A","amount":"1","splitMode":"HALVES","shares":[{"userId":"A"}]}`, http.StatusBadRequest, "invalid split"},
		{"missing weight", `{"groupId":"g","payerId":"A","amount":"1","splitMode":"PERCENTAGE","shares":[{"userId":"A","value":"60"},{"userId":"B"}]}`, http.StatusBadRequest, "invalid split"},
		{"weight exponent", `{"groupId":"g","payerId":"A","amount":"10","splitMode":"RATIO","shares":[{"userId":"A","value":"1"},{"userId":"B","value":"1e-200000000"}]}`, http.StatusBadRequest, "invalid split"},
		{"unknown payer", `{"groupId":"g","payerId":"Z","amount":"1","splitMode":"EQUAL","shares":[{"userId":"A"}]}`, http.StatusNotFound, "unknown participant"},
		{"unknown share user", `{"groupId":"g","payerId":"A","amount":"1","splitMode":"EQUAL","shares":[{"userId":"Z"}]}`, http.StatusNotFound, "unknown participant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			rr := do(t, srv, http.MethodPost, "/api/expenses", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			body := decode[map[string]string](t, rr)
			assert.Contains(t, body["error"], tt.errSub)
		})
	}
}

func TestCreatePayment(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/api/payments", `{"groupId":"trip","fromUserId":"B","toUserId":"A","amount":"25.5"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	p := decode[map[string]any](t, rr)
	assert.Equal(t, "25.50", p["amount"])
	assert.Equal(t, "B", p["fromUserId"])

	rr = do(t, srv, http.MethodGet, "/api/groups/trip/balances", "")
	balances := decode[[]map[string]any](t, rr)
	require.Len(t, balances, 2)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"self payment", `{"groupId":"trip","fromUserId":"A","toUserId":"A","amount":"1"}`, http.StatusBadRequest},
		{"negative", `{"groupId":"trip","fromUserId":"B","toUserId":"A","amount":"-1"}`, http.StatusBadRequest},
		{"unknown receiver", `{"groupId":"trip","fromUserId":"B","toUserId":"Q","amount":"1"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/payments", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}
}

func TestEmptyGroupReturnsEmptyArrays(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{
		"/api/groups/none/expenses",
		"/api/groups/none/balances",
		"/api/groups/none/settlements/suggested",
	} {
		rr := do(t, srv, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rr.Code, path)
		assert.JSONEq(t, "[]", rr.Body.String(), path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodGet, "/api/expenses", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodGet, "/api/users", "")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	srv := newTestServer(t, WithRateLimit(1))
	body := `{"groupId":"trip","fromUserId":"B","toUserId":"A","amount":"1"}`

	assert.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/payments", body).Code)
	rr := do(t, srv, http.MethodPost, "/api/payments", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, decode[map[string]string](t, rr)["error"], "rate limit")

	// Reads are not throttled.
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/users", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newTestServer(t, WithMetrics(metrics.New(reg)))

	do(t, srv, http.MethodGet, "/api/users", "")
	rr := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "grouply_http_requests_total")
}

type brokenLedger struct{ Ledger }

func (brokenLedger) ListParticipants(context.Context) ([]core.Participant, error) {
	return nil, errors.New("disk on fire")
}

func (brokenLedger) Ready(context.Context) error { return errors.New("db down") }

func TestInternalErrorsAreHidden(t *testing.T) {
	srv := NewServer(":0", brokenLedger{}, WithLogger(log.Discard()))

	rr := do(t, srv, http.MethodGet, "/api/users", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal error", decode[map[string]string](t, rr)["error"])

	rr = do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrInvalidSplit, http.StatusBadRequest},
		{core.ErrNonPositiveAmount, http.StatusBadRequest},
		{core.ErrInvalidAmount, http.StatusBadRequest},
		{core.ErrSelfPayment, http.StatusBadRequest},
		{core.ErrUnknownParticipant, http.StatusNotFound},
		{errBadRequest, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
