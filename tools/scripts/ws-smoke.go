// Package main provides a CI-friendly smoke test for the trustcore alert channel.
//
// It validates:
//   - register (or login) over HTTP
//   - handshake + subprotocol selection on /ws/alerts
//   - hello/ack and ping/pong
//   - a security_alert arrives after logout-all
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "trustcore.alerts.v1"
	maxReadBytes = 1 << 16
)

type envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	var (
		base     = flag.String("url", "http://127.0.0.1:8080", "server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano()), "account email")
		password = flag.String("password", "Smoke-test-passw0rd", "account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*base); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	access := mustSignIn(root, *base, *email, *password, *timeout)
	if *verbose {
		fmt.Printf("signed in: email=%s\n", *email)
	}

	conn := mustConnect(root, wsURL(*base), access, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	mustWrite(root, conn, envelope{V: "v1", Type: "hello"}, *timeout)
	mustReadType(root, conn, "hello_ack", *timeout)

	mustWrite(root, conn, envelope{V: "v1", Type: "ping"}, *timeout)
	mustReadType(root, conn, "pong", *timeout)

	status, _ := mustPost(root, *base+"/v1/auth/logout-all", access, nil, *timeout)
	if status != http.StatusOK && status != http.StatusNoContent {
		fatalf("logout-all: status %d", status)
	}
	alert := mustReadType(root, conn, "security_alert", *timeout)

	fmt.Printf("OK: email=%s alert=%s\n", *email, string(alert.Payload))
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws/alerts"
	}
	return "ws://" + strings.TrimPrefix(base, "http://") + "/ws/alerts"
}

// mustSignIn registers the account, falling back to login when it already exists.
func mustSignIn(ctx context.Context, base, email, password string, timeout time.Duration) string {
	body := map[string]any{"email": email, "password": password, "device_id": "smoke-device", "platform": "android"}

	status, out := mustPost(ctx, base+"/v1/auth/register", "", body, timeout)
	if status == http.StatusConflict {
		status, out = mustPost(ctx, base+"/v1/auth/login", "", body, timeout)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		fatalf("sign in: status %d body %s", status, out)
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(out, &res); err != nil || res.AccessToken == "" {
		fatalf("sign in: no access token in %s", out)
	}
	return res.AccessToken
}

func mustPost(parent context.Context, url, bearer string, body any, timeout time.Duration) (int, []byte) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rd)
	if err != nil {
		fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, out
}

func mustConnect(parent context.Context, wsURL, access, origin string, timeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustWrite(parent context.Context, conn *websocket.Conn, env envelope, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	env.TS = time.Now().UTC()
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

// mustReadType reads until an envelope of type want arrives. An error envelope fails the run.
func mustReadType(parent context.Context, conn *websocket.Conn, want string, timeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			fatalf("waiting for %s: %v", want, err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fatalf("decode envelope: %v", err)
		}
		switch env.Type {
		case want:
			return env
		case "error":
			fatalf("server error while waiting for %s: %s", want, string(env.Payload))
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
