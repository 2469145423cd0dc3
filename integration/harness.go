package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
	"github.com/kasuganosora/socialgraph/server"
	"github.com/kasuganosora/socialgraph/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with every component wired together.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	App    *server.App
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/ws
	Sec    config.SecurityConfig
}

// NewTestServer creates a fully wired server on an in-memory database and
// the in-process cache and pub/sub.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)

	cfg := &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        72 * time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
			AllowedOrigins: []string{},
		},
		Realtime: config.RealtimeConfig{
			ChannelPrefix:  "user_",
			PublishTimeout: 2 * time.Second,
			KeepAlive:      30 * time.Second,
		},
		Friends: config.FriendsConfig{
			LookupConcurrency: 4,
			PlaceholderPrefix: "/avatars/placeholder/",
		},
	}

	app := server.New(cfg, db, c, pubsub, zap.NewNop())
	srv := httptest.NewServer(app.Engine)
	url := srv.URL

	return &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		App:    app,
		Server: srv,
		URL:    url,
		WSURL:  "ws" + url[len("http"):] + "/ws",
		Sec:    cfg.Security,
	}
}

// Close shuts down the test server.
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// PatchJSON sends a PATCH request with JSON body and optional Bearer token.
func (ts *TestServer) PatchJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPatch, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// ExpectStatus asserts the response status and closes the body.
func ExpectStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", status, resp.StatusCode, string(data))
	}
}

// --- Auth helpers ---

// Login logs in (auto-registers on first call) and returns the token and user ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, userID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	token = result["token"].(string)
	userID = int64(result["user_id"].(float64))
	return
}

// User is a logged-in test user.
type User struct {
	ID    int64
	Token string
}

// NewUser registers a fresh user.
func (ts *TestServer) NewUser(t *testing.T, prefix string) User {
	t.Helper()
	token, id := ts.Login(t, UniqueID(prefix), "pass1234")
	return User{ID: id, Token: token}
}

// Befriend runs request then accept between a and b and returns the relationship id.
func (ts *TestServer) Befriend(t *testing.T, a, b User) int64 {
	t.Helper()
	resp := ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": b.ID}, a.Token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Relationship struct {
			ID int64 `json:"id"`
		} `json:"relationship"`
	}
	ReadJSON(t, resp, &created)

	resp = ts.PostJSON(t, fmt.Sprintf("/api/relationships/requests/%d/respond", created.Relationship.ID),
		map[string]string{"action": "accept"}, b.Token)
	ExpectStatus(t, resp, http.StatusOK)
	return created.Relationship.ID
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop feeds readCh so timeouts never touch the connection.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint with the given JWT token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.Dial(ts.WSURL+"?token="+token, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a JSON packet to the WebSocket.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one message with a timeout.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt map[string]interface{}
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return pkt, nil
	case <-time.After(timeout):
		return nil, &timeoutError{}
	}
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "read timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// RecvField reads messages until one has field == value.
func (wc *WSClient) RecvField(field, value string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			wc.t.Fatalf("timed out waiting for %s %q", field, value)
			return nil
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %s %q: %v", field, value, err)
		}
		if pkt[field] == value {
			return pkt
		}
	}
}

// RecvEvent waits for a notification envelope with the given event name.
func (wc *WSClient) RecvEvent(name string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	return wc.RecvField("event", name, timeout)
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// --- SSE client ---

// SSEClient reads data lines from GET /events.
type SSEClient struct {
	resp  *http.Response
	lines chan string
}

// ConnectSSE opens the event stream and waits for the connected event.
func (ts *TestServer) ConnectSSE(t *testing.T, token string) *SSEClient {
	t.Helper()
	resp, err := http.Get(ts.URL + "/events?token=" + token)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := &SSEClient{resp: resp, lines: make(chan string, 64)}
	go func() {
		defer close(sc.lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			sc.lines <- scanner.Text()
		}
	}()

	select {
	case line := <-sc.lines:
		require.Equal(t, "event: connected", line)
	case <-time.After(5 * time.Second):
		t.Fatal("no connected event")
	}
	return sc
}

// NextData returns the next decoded data line.
func (sc *SSEClient) NextData(t *testing.T, timeout time.Duration) map[string]interface{} {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-sc.lines:
			require.True(t, ok, "stream closed")
			if !strings.HasPrefix(line, `data: {"event"`) {
				continue
			}
			var env map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env))
			return env
		case <-deadline:
			t.Fatal("timed out waiting for SSE data")
			return nil
		}
	}
}

// Close ends the stream.
func (sc *SSEClient) Close() {
	_ = sc.resp.Body.Close()
}

// UniqueID returns a short unique string suitable for usernames.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
