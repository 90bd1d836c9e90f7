package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"xdao.co/routeplane/chaintime"
	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/dispatch"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network/registry"
	"xdao.co/routeplane/observability"
)

func TestParseGrants(t *testing.T) {
	got, err := parseGrants([]string{
		"0x00000000000000000000000000000000000000c1=committer,applier",
		"0x00000000000000000000000000000000000000c1=emergency",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[model.Address{19: 0xc1}]
	require.Equal(t, model.RoleCommitter|model.RoleApplier|model.RoleEmergency, r)

	_, err = parseGrants([]string{"nope"})
	require.Error(t, err)
	_, err = parseGrants([]string{"0x00000000000000000000000000000000000000c1=wizard"})
	require.Error(t, err)
}

func TestParseFlags_FromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "routeplane.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`operator: "0x00000000000000000000000000000000000000aa"
log:
  format: json
networks:
  - id: alpha
    backend: memory
    identity: "0x00000000000000000000000000000000000000d1"
    admin: "0x00000000000000000000000000000000000000ad"
    activation_delay: 30
`), 0o600))

	var errOut bytes.Buffer
	o, ok, code := parseFlags([]string{"--config", cfg, "--network", "alpha", "--require-signed"}, &errOut)
	require.True(t, ok, errOut.String())
	require.Equal(t, 0, code)
	require.True(t, o.signedOnly)
	require.Equal(t, "alpha", o.spec.ID)
	require.Equal(t, "json", o.logFormat)
	require.EqualValues(t, 30, o.spec.Dispatch.ActivationDelay)
	require.Equal(t, model.Address{19: 0xd1}, o.spec.Store.Identity)
	require.Equal(t, 16<<20, o.spec.MaxMsgBytes)

	errOut.Reset()
	_, ok, code = parseFlags([]string{"--config", cfg, "--network", "beta"}, &errOut)
	require.False(t, ok)
	require.Equal(t, 2, code)
	require.Contains(t, errOut.String(), `network "beta" not found`)
}

func TestParseFlags_Rejects(t *testing.T) {
	var errOut bytes.Buffer
	_, ok, code := parseFlags([]string{"--identity", "0x12"}, &errOut)
	require.False(t, ok)
	require.Equal(t, 2, code)
	require.Contains(t, errOut.String(), "invalid --identity")

	errOut.Reset()
	_, ok, code = parseFlags([]string{"--list-backends"}, &errOut)
	require.False(t, ok)
	require.Equal(t, 0, code)
	require.Contains(t, errOut.String(), "badger")
	require.Contains(t, errOut.String(), "memory")
}

func TestHTTPHandler(t *testing.T) {
	ctx := context.Background()
	n, closeFn, err := registry.Open(ctx, registry.Spec{
		ID:       "alpha",
		Backend:  "memory",
		Store:    deploy.Config{Identity: model.Address{19: 0xd1}},
		Dispatch: dispatch.Config{Admin: model.Address{19: 0xad}, ActivationDelay: 45},
		Clock:    chaintime.NewManual(100),
	}, registry.UsageDaemon)
	require.NoError(t, err)
	defer closeFn()

	reg := prometheus.NewRegistry()
	h := newHTTPHandler(n, reg, observability.NewMetrics(reg), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc statusDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "alpha", doc.Network)
	require.EqualValues(t, 45, doc.Dispatcher.ActivationDelay)
	require.EqualValues(t, 100, doc.Dispatcher.Now)
	require.Equal(t, model.Address{19: 0xd1}, doc.Store.Identity)
	require.Equal(t, string(dispatch.PhaseEmpty), doc.Phase)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "routeplane_http_requests_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var errOut bytes.Buffer
	code := run(ctx, []string{
		"--listen", "127.0.0.1:0",
		"--http", "",
		"--log-format", "json",
		"--identity", "0x00000000000000000000000000000000000000d1",
		"--admin", "0x00000000000000000000000000000000000000ad",
		"--grant", "0x00000000000000000000000000000000000000aa=committer",
	}, &errOut)
	require.Equal(t, 0, code, errOut.String())
	require.True(t, strings.Contains(errOut.String(), "routeplaned listening"))
}

func TestRun_BadBackend(t *testing.T) {
	var errOut bytes.Buffer
	code := run(context.Background(), []string{"--backend", "nope", "--log-format", "json"}, &errOut)
	require.Equal(t, 2, code)
	require.Contains(t, errOut.String(), "unknown backend")
}
