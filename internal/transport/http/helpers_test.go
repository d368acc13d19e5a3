package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/assistant"
	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/docstore/memory"
	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/store"
)

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return "echo: " + prompt, nil
}

type testEnv struct {
	ts  *httptest.Server
	svc Services
	cfg *config.Config
}

func startTestServer(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.ResolveDebounce = 20 * time.Millisecond
	cfg.PublicBaseURL = "http://chat.test"
	cfg.Assistant.APIKey = "test-key"
	for _, m := range mutate {
		m(&cfg)
	}

	docs := memory.New()
	t.Cleanup(func() { _ = docs.Close() })

	disabledLogger := zerolog.New(nil)
	retry := core.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxAttempts: 3}
	hub := core.NewHub(docs, core.Options{Logger: &disabledLogger, Retry: retry})

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
	var gen assistant.Generator
	if cfg.Assistant.APIKey != "" {
		gen = echoGenerator{}
	}
	svc := Services{
		Hub:       hub,
		Auth:      auth.NewService(store.NewUserStore(docs), jwtCfg, &disabledLogger),
		Assistant: assistant.NewService(gen, core.NewMessageStream(docs, core.AssistantMessages, &disabledLogger, retry), &disabledLogger),
	}

	server := NewServer(svc, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, svc: svc, cfg: &cfg}
}

func (e *testEnv) register(t *testing.T, username string) *auth.Session {
	t.Helper()

	session, err := e.svc.Auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return session
}

// do sends a JSON request and decodes the JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := stdhttp.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s (status %d): %v", method, path, resp.StatusCode, err)
		}
	}
	return resp.StatusCode
}

// frame mirrors proto.Outbound with the payload left undecoded.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (f frame) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("decode %s payload: %v", f.Event, err)
	}
}

type wsClient struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return &wsClient{t: t, ctx: ctx, conn: conn}
}

func (c *wsClient) send(typ string, data any) {
	c.t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(c.ctx, c.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		c.t.Fatalf("send %s: %v", typ, err)
	}
}

func (c *wsClient) read() frame {
	c.t.Helper()

	var f frame
	if err := wsjson.Read(c.ctx, c.conn, &f); err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	return f
}

// until reads frames, discarding those that do not match.
func (c *wsClient) until(match func(frame) bool) frame {
	c.t.Helper()

	for {
		if f := c.read(); match(f) {
			return f
		}
	}
}

func (c *wsClient) event(name string) frame {
	c.t.Helper()
	return c.until(func(f frame) bool { return f.Type == proto.OutboundTypeEvent && f.Event == name })
}

func (c *wsClient) errorFrame() *proto.Error {
	c.t.Helper()
	return c.until(func(f frame) bool { return f.Type == proto.OutboundTypeError }).Error
}

// message waits for a chat message whose text satisfies match.
func (c *wsClient) message(match func(proto.EventMessage) bool) proto.EventMessage {
	c.t.Helper()

	for {
		f := c.event(proto.EventTypeMessage)
		var m proto.EventMessage
		f.decode(c.t, &m)
		if match(m) {
			return m
		}
	}
}

func (c *wsClient) hello(token string) proto.EventReadyData {
	c.t.Helper()

	c.send(proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion})
	var ready proto.EventReadyData
	c.event(proto.EventReady).decode(c.t, &ready)
	return ready
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
