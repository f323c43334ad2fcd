package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-works/cortex/pkg/artifacts"
	"github.com/lattice-works/cortex/pkg/config"
	"github.com/lattice-works/cortex/pkg/intent"
	"github.com/lattice-works/cortex/pkg/lifecycle"
	"github.com/lattice-works/cortex/pkg/observability"
	"github.com/lattice-works/cortex/pkg/outbox"
	"github.com/lattice-works/cortex/pkg/registry"
	"github.com/lattice-works/cortex/pkg/state"
	"github.com/lattice-works/cortex/pkg/wal"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine, err := buildPolicyEngine(&config.Config{})
	require.NoError(t, err)
	blobs, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := artifacts.NewCompositeStore(artifacts.NewCatalog(), blobs)

	reg := registry.New()
	registerBuiltins(reg)

	w := wal.NewMemoryWAL()
	manager := lifecycle.NewManager(w, state.NewMemorySurface(),
		outbox.NewMemoryOutbox(nil), reg, engine, store)

	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	srv := httptest.NewServer(routes(manager, w, obs))
	t.Cleanup(srv.Close)
	return srv
}

func postIntent(t *testing.T, srv *httptest.Server, in *intent.Intent) (*http.Response, *intent.ExecutionResult) {
	t.Helper()
	body, err := json.Marshal(in)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/intents", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var result intent.ExecutionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return resp, &result
}

func TestIntentEndpointExecutes(t *testing.T) {
	srv := newTestServer(t)

	in, err := intent.New("ingest_file", "t1", "s1", map[string]interface{}{"ui_name": "a.csv"})
	require.NoError(t, err)

	resp, result := postIntent(t, srv, in)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, result.Success, "error: %s", result.Error)
	assert.NotEmpty(t, result.ExecutionID)
}

func TestIntentEndpointRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/intents", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntentEndpointRejectsInvalidIntent(t *testing.T) {
	srv := newTestServer(t)

	resp, result := postIntent(t, srv, &intent.Intent{IntentType: "ingest_file"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, result.Success)
	assert.Empty(t, result.ExecutionID)
}

func TestAdminBundleEndpoint(t *testing.T) {
	srv := newTestServer(t)

	in, err := intent.New("ingest_file", "t1", "s1", map[string]interface{}{"ui_name": "a.csv"})
	require.NoError(t, err)
	_, result := postIntent(t, srv, in)
	require.True(t, result.Success, "error: %s", result.Error)

	resp, err := http.Get(srv.URL + "/admin/wal/bundle?tenant_id=t1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bundle wal.Bundle
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bundle))
	assert.Equal(t, "t1", bundle.TenantID)
	assert.Equal(t, 3, bundle.EventCount)
	require.NoError(t, wal.VerifyBundle(&bundle))
}

func TestAdminBundleEndpointUnknownTenant(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/admin/wal/bundle?tenant_id=nobody")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminIncompleteEndpoint(t *testing.T) {
	srv := newTestServer(t)

	in, err := intent.New("ingest_file", "t1", "s1", map[string]interface{}{"ui_name": "a.csv"})
	require.NoError(t, err)
	_, result := postIntent(t, srv, in)
	require.True(t, result.Success, "error: %s", result.Error)

	resp, err := http.Get(srv.URL + "/admin/executions/incomplete?tenant_id=t1")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		TenantID     string   `json:"tenant_id"`
		ExecutionIDs []string `json:"execution_ids"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "t1", out.TenantID)
	// The execution completed, so nothing needs recovery.
	assert.Empty(t, out.ExecutionIDs)
}

func TestAdminEndpointsRequireTenant(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/admin/wal/bundle", "/admin/executions/incomplete"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}
