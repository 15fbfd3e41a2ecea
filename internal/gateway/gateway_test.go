// ABOUTME: Tests for the Gateway lifecycle: construction, health, run and shutdown
// ABOUTME: Runs real listeners on free ports with a SQLite store and the gRPC health service

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

// freeAddr finds an available loopback address
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testConfig()
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.GRPCAddr = freeAddr(t)
	return cfg
}

type pingFailStore struct {
	*store.MockStore
}

func (pingFailStore) Ping(context.Context) error { return assert.AnError }

func TestGatewayNew(t *testing.T) {
	cfg := runConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.Service())
	assert.NotNil(t, gw.grpcServer, "gRPC health server is created when an address is set")
	assert.NotNil(t, gw.health)
}

func TestGatewayNew_WithoutGRPC(t *testing.T) {
	cfg := testConfig()
	gw, err := NewWithStore(cfg, store.NewMockStore(), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Nil(t, gw.grpcServer)
	assert.Nil(t, gw.health)
}

func TestGatewayNew_RejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"
	_, err := NewWithStore(cfg, store.NewMockStore(), testLogger())
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	env.dial(t, "u1")
	resp, err = http.Get(env.server.URL + "/health/ready")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready (1 live connections)", string(body))
}

func TestReadyEndpoint_StoreDown(t *testing.T) {
	gw, err := NewWithStore(testConfig(), pingFailStore{store.NewMockStore()}, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	resp := serveGet(t, gw, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func serveGet(t *testing.T, gw *Gateway, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec.Result()
}

func TestRefreshHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Server.GRPCAddr = "127.0.0.1:0"

	failing := pingFailStore{store.NewMockStore()}
	gw, err := NewWithStore(cfg, failing, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	ctx := context.Background()
	gw.refreshHealth(ctx)
	resp, err := gw.health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	gw.store = failing.MockStore
	gw.refreshHealth(ctx)
	resp, err = gw.health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGatewayRun(t *testing.T) {
	cfg := runConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(ctx, 3*time.Second)
	defer checkCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: HealthServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	// a live connection is closed with going-away on shutdown
	tokens, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)
	tok, err := tokens.Generate("someone", time.Hour)
	require.NoError(t, err)
	ws, wsResp, err := websocket.DefaultDialer.Dial("ws://"+cfg.Server.HTTPAddr+"/ws?token="+tok, nil)
	require.NoError(t, err)
	wsResp.Body.Close()
	defer ws.Close()

	c := &wsClient{t: t, conn: ws}
	c.next(EventConnected)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestGatewayRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.Server.HTTPAddr = ln.Addr().String()
	gw, err := NewWithStore(cfg, store.NewMockStore(), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	err = gw.Run(context.Background())
	assert.ErrorContains(t, err, "listening on HTTP address")
}

func TestTailnetAuthKey(t *testing.T) {
	key, err := tailnetAuthKey("tskey-configured")
	require.NoError(t, err)
	assert.Equal(t, "tskey-configured", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = tailnetAuthKey("")
	assert.Error(t, err)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = tailnetAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestTailnetStateDir(t *testing.T) {
	dir, err := tailnetStateDir("/var/lib/chat/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/chat/ts", dir)

	t.Setenv("HOME", t.TempDir())
	dir, err = tailnetStateDir("")
	require.NoError(t, err)
	assert.Contains(t, dir, "coven-chat")
}
