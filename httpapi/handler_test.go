package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billing"
	"github.com/xraph/billing/adapter"
	"github.com/xraph/billing/adapter/echo"
	"github.com/xraph/billing/httpapi"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/types"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	e := billing.New(memory.New(),
		billing.WithAdapter(echo.New("echo", types.USD(10))),
		billing.WithAdapter(&adapter.Func{
			ServiceID: "broken",
			Price:     types.USD(1),
			Fn: func(context.Context, *adapter.Input) (*adapter.Output, error) {
				return nil, errors.New("upstream down")
			},
		}),
	)
	require.NoError(t, e.Start(context.Background()))

	srv := httptest.NewServer(httpapi.New(e, httpapi.WithBasePath("/v1"), httpapi.WithMaxBodyBytes(512)).Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestAccountLifecycle(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, srv, http.MethodPost, "/v1/accounts", `{"id":"alice","balance":"1.00"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "alice", body["id"])

	resp, body = do(t, srv, http.MethodPost, "/v1/accounts/alice/requests/echo", `{"units":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := body["balance"].(map[string]any)
	assert.EqualValues(t, 70, balance["amount"])
	assert.Equal(t, "$0.70", balance["display"])

	resp, body = do(t, srv, http.MethodGet, "/v1/accounts/alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 70, body["balance"].(map[string]any)["amount"])

	resp, body = do(t, srv, http.MethodGet, "/v1/accounts/alice/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	ent := entries[0].(map[string]any)
	assert.Equal(t, "echo", ent["service_id"])
	assert.EqualValues(t, 3, ent["units_used"])
}

func TestErrorStatuses(t *testing.T) {
	srv := newServer(t)
	do(t, srv, http.MethodPost, "/v1/accounts", `{"id":"bob","balance":"0.15"}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown service", http.MethodPost, "/v1/accounts/bob/requests/nope", "", http.StatusNotFound, "adapter_not_found"},
		{"unknown account", http.MethodPost, "/v1/accounts/carol/requests/echo", "", http.StatusNotFound, "account_not_found"},
		{"insufficient funds", http.MethodPost, "/v1/accounts/bob/requests/echo", `{"units":2}`, http.StatusPaymentRequired, "insufficient_funds"},
		{"adapter failure", http.MethodPost, "/v1/accounts/bob/requests/broken", "", http.StatusBadGateway, "adapter_failed"},
		{"duplicate account", http.MethodPost, "/v1/accounts", `{"id":"bob"}`, http.StatusConflict, "account_exists"},
		{"bad amount", http.MethodPost, "/v1/accounts", `{"id":"dave","balance":"1.001"}`, http.StatusBadRequest, "invalid_input"},
		{"unknown field", http.MethodPost, "/v1/accounts", `{"id":"erin","credit":5}`, http.StatusBadRequest, "bad_request"},
		{"missing config", http.MethodGet, "/v1/accounts/bob/secure-config", "", http.StatusNotFound, "config_not_found"},
		{"missing history owner", http.MethodGet, "/v1/accounts/zed/history", "", http.StatusNotFound, "account_not_found"},
		{"oversized body", http.MethodPost, "/v1/accounts/bob/requests/echo", `{"pad":"` + strings.Repeat("x", 600) + `"}`, http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["request_id"])
		})
	}

	_, body := do(t, srv, http.MethodGet, "/v1/accounts/bob", "")
	assert.EqualValues(t, 15, body["balance"].(map[string]any)["amount"], "failed requests leave the balance untouched")
}

func TestSecureConfig(t *testing.T) {
	srv := newServer(t)

	resp, _ := do(t, srv, http.MethodPut, "/v1/accounts/alice/secure-config", `{"api_key":"k-1"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/v1/accounts/alice/secure-config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "k-1", body["api_key"])

	resp, _ = do(t, srv, http.MethodPut, "/v1/accounts/alice/secure-config", `null`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServicesAndHealth(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, srv, http.MethodGet, "/v1/services", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	services := body["services"].([]any)
	require.Len(t, services, 2)
	assert.Equal(t, "broken", services[0].(map[string]any)["id"])
	assert.Equal(t, "echo", services[1].(map[string]any)["id"])

	resp, body = do(t, srv, http.MethodGet, "/v1/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(httpapi.HeaderRequestID, "req-42")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(httpapi.HeaderRequestID))

	resp, _ = do(t, srv, http.MethodGet, "/v1/healthz", "")
	assert.Len(t, resp.Header.Get(httpapi.HeaderRequestID), 36)
}
