package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/cmd/internal/notify"
)

func testAuth(_ context.Context, token string) (Peer, error) {
	if token != "good" {
		return Peer{}, ErrUnauthenticated
	}
	return Peer{AccountID: 42, DeviceID: "dev-1"}, nil
}

func newTestGateway(t *testing.T) (*WSGateway, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	g, err := NewWSGateway(nil, nil, cfg, testAuth)
	require.NoError(t, err)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts" + query
}

func readEnv(t *testing.T, ctx context.Context, c *websocket.Conn) Envelope {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeEnv(t *testing.T, ctx context.Context, c *websocket.Conn, env Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, b))
}

func TestWSGateway_RejectsMissingToken(t *testing.T) {
	_, srv := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv, ""), &websocket.DialOptions{Subprotocols: []string{wsSubprotocolV1}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSGateway_RejectsDisallowedOrigin(t *testing.T) {
	cfg := DefaultConfig()
	g, err := NewWSGateway(nil, nil, cfg, testAuth)
	require.NoError(t, err)
	srv := httptest.NewServer(g)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.Dial(ctx, wsURL(srv, "?token=good"), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   h,
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWSGateway_HelloThenAlert(t *testing.T) {
	g, srv := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer good")
	c, _, err := websocket.Dial(ctx, wsURL(srv, ""), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   h,
	})
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "done")

	writeEnv(t, ctx, c, Envelope{V: Version, Type: TypeHello})
	ack := readEnv(t, ctx, c)
	require.Equal(t, TypeHelloAck, ack.Type)
	var p HelloAckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &p))
	assert.NotEmpty(t, p.SessionID)
	assert.Equal(t, "dev-1", p.DeviceID)
	require.Equal(t, 1, g.Hub().Count(42))

	require.NoError(t, g.Hub().SendSecurityAlert(ctx, notify.Alert{
		AccountID: 42,
		Kind:      notify.AlertPasswordChange,
		Message:   "password changed",
	}))
	alert := readEnv(t, ctx, c)
	require.Equal(t, TypeSecurityAlert, alert.Type)
	var ap AlertPayload
	require.NoError(t, json.Unmarshal(alert.Payload, &ap))
	assert.Equal(t, string(notify.AlertPasswordChange), ap.Kind)

	writeEnv(t, ctx, c, Envelope{V: Version, Type: TypePing})
	assert.Equal(t, TypePong, readEnv(t, ctx, c).Type)

	writeEnv(t, ctx, c, Envelope{V: Version, Type: "message.send"})
	assert.Equal(t, TypeError, readEnv(t, ctx, c).Type)
}

func TestWSGateway_LeavesHubOnClose(t *testing.T) {
	g, srv := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(srv, "?token=good"), &websocket.DialOptions{Subprotocols: []string{wsSubprotocolV1}})
	require.NoError(t, err)
	writeEnv(t, ctx, c, Envelope{V: Version, Type: TypeHello})
	readEnv(t, ctx, c)
	require.NoError(t, c.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool { return g.Hub().Count(42) == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestOriginPatterns(t *testing.T) {
	got := deriveOriginPatternsFromAllowedOrigins([]string{"http://localhost:3000", "https://app.example.com", "*", "http://localhost"})
	assert.Equal(t, []string{"app.example.com", "localhost"}, got)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.HeartbeatTimeout = cfg.HeartbeatInterval
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
	_, err := NewWSGateway(nil, nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrConfig)
}
