// ABOUTME: Shared fixtures for gateway tests
// ABOUTME: Spins up a gateway over MockStore behind httptest and dials live connections

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	gw     *Gateway
	store  *store.MockStore
	server *httptest.Server
	tokens *auth.JWTVerifier
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	st := store.NewMockStore()
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, st.UpsertUser(context.Background(), &store.User{ID: id, FullName: "User " + id}))
	}

	gw, err := NewWithStore(cfg, st, nil)
	require.NoError(t, err)

	tokens, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})

	return &testEnv{gw: gw, store: st, server: srv, tokens: tokens}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.tokens.Generate(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

// do performs a REST call as userID (no auth header when userID is empty)
// and decodes the JSON response into out when out is non-nil
func (e *testEnv) do(t *testing.T, method, path, userID string, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *testEnv) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws" + query
}

// testFrame is the decoded form of any outbound frame
type testFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error *frameError     `json:"error"`
}

func (f testFrame) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v))
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

// dial connects as userID and consumes the connected frame
func (e *testEnv) dial(t *testing.T, userID string) (*wsClient, connectedView) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL("?token="+e.token(t, userID)), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn}
	f := c.next(EventConnected)
	var hello connectedView
	f.decode(t, &hello)
	return c, hello
}

func (c *wsClient) read() testFrame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var f testFrame
	require.NoError(c.t, json.Unmarshal(data, &f))
	return f
}

// next reads one frame and requires it to be the given event
func (c *wsClient) next(event string) testFrame {
	c.t.Helper()
	f := c.read()
	require.Equal(c.t, event, f.Event, "unexpected frame: %+v", f)
	return f
}

func (c *wsClient) send(event, id string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "id": id, "data": data})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, raw))
}

func (c *wsClient) sendRaw(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

// startConversation creates a conversation between a and b over REST
func (e *testEnv) startConversation(t *testing.T, a, b string) conversationView {
	t.Helper()
	var conv conversationView
	resp := e.do(t, http.MethodPost, "/api/chat/conversations", a, CreateConversationRequest{ParticipantID: b}, &conv)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, resp.StatusCode)
	return conv
}
