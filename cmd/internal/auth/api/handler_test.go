package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trustcore/cmd/identity"
	"trustcore/cmd/internal/audit"
	"trustcore/cmd/internal/auth/authn"
	"trustcore/cmd/internal/auth/guard"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/internal/notify"
	"trustcore/cmd/security/password"
	"trustcore/cmd/security/token"
)

type mailbox struct {
	notify.Noop
	mu     sync.Mutex
	verify []string
}

func (m *mailbox) SendVerificationEmail(_ context.Context, msg notify.VerificationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verify = append(m.verify, msg.Token)
	return nil
}

type testServer struct {
	*httptest.Server
	tokens   *tokens.Manager
	mail     *mailbox
	dispatch *notify.Dispatcher
	audit    *audit.Memory
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	accounts := identity.NewMemoryStore()
	seed, err := tokens.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	key, err := tokens.ParseSigningKey(seed)
	if err != nil {
		t.Fatalf("ParseSigningKey: %v", err)
	}
	tm, err := tokens.NewManager(tokens.DefaultConfig(), key)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	reg, err := session.NewRegistry(session.DefaultConfig(), session.NewMemoryStore(accounts), tm, token.Hasher{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	pw := password.DefaultConfig()
	pw.BcryptCost = bcrypt.MinCost
	g, err := guard.New(guard.DefaultConfig(), accounts, pw, token.Hasher{}, reg)
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}

	mail := &mailbox{}
	dispatch := notify.NewDispatcher(notify.DefaultConfig(), mail, nil)
	rec := &audit.Memory{}
	svc, err := authn.New(authn.Deps{
		Accounts: accounts, Guard: g, Sessions: reg, Tokens: tm, Notify: dispatch, Audit: rec,
	})
	if err != nil {
		t.Fatalf("authn.New: %v", err)
	}

	h, err := NewHandler(nil, cfg, svc, tm)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, tokens: tm, mail: mail, dispatch: dispatch, audit: rec}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CookieSecure = false
	return cfg
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, header map[string]string) (int, []byte, *http.Response) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer res.Body.Close()
	out, _ := io.ReadAll(res.Body)
	return res.StatusCode, out, res
}

func bearer(tok string) map[string]string { return map[string]string{"Authorization": "Bearer " + tok} }

func (ts *testServer) registerAndVerify(t *testing.T, email string) authResponse {
	t.Helper()
	status, body, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/register",
		map[string]any{"email": email, "password": "Sup3r-secret-pass", "platform": "ios"},
		map[string]string{DeviceHeader: "dev-1"})
	if status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, body)
	}
	var res authResponse
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ts.dispatch.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	ts.mail.mu.Lock()
	secret := ts.mail.verify[len(ts.mail.verify)-1]
	ts.mail.mu.Unlock()

	status, body, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/verify-email", map[string]any{"token": secret}, nil)
	if status != http.StatusOK {
		t.Fatalf("verify-email: %d %s", status, body)
	}
	return res
}

func TestRegisterLoginRefreshMe(t *testing.T) {
	ts := newTestServer(t, testConfig())
	reg := ts.registerAndVerify(t, "ana@example.com")

	if reg.TokenType != "Bearer" || reg.RefreshToken == "" || reg.DeviceID != "dev-1" {
		t.Fatalf("unexpected register response: %+v", reg)
	}
	if reg.Account.Status != string(identity.StatusPending) {
		t.Fatalf("expected pending status, got %q", reg.Account.Status)
	}

	status, body, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/users/me", nil, bearer(reg.AccessToken))
	if status != http.StatusOK {
		t.Fatalf("me: %d %s", status, body)
	}
	var me accountResponse
	_ = json.Unmarshal(body, &me)
	if me.Status != string(identity.StatusActive) || !me.EmailVerified {
		t.Fatalf("expected active verified account, got %+v", me)
	}

	status, body, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/refresh",
		refreshRequest{RefreshToken: reg.RefreshToken}, nil)
	if status != http.StatusOK {
		t.Fatalf("refresh: %d %s", status, body)
	}
	status, body, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/refresh",
		refreshRequest{RefreshToken: reg.RefreshToken}, nil)
	if status != http.StatusUnauthorized || !strings.Contains(string(body), "invalid_token") {
		t.Fatalf("expected rotated token to be rejected, got %d %s", status, body)
	}
}

func TestLogin_NoEnumeration(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.registerAndVerify(t, "bob@example.com")

	statusA, bodyA, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/login",
		map[string]any{"email": "nobody@example.com", "password": "Sup3r-secret-pass"}, nil)
	statusB, bodyB, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/login",
		map[string]any{"email": "bob@example.com", "password": "Wrong-secret-pass"}, nil)

	if statusA != http.StatusUnauthorized || statusB != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", statusA, statusB)
	}
	if !bytes.Equal(bodyA, bodyB) {
		t.Fatalf("responses differ: %s vs %s", bodyA, bodyB)
	}
}

func TestRegister_DuplicateEmailIsConflict(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.registerAndVerify(t, "dup@example.com")

	status, body, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/register",
		map[string]any{"email": "dup@example.com", "password": "Sup3r-secret-pass"}, nil)
	if status != http.StatusConflict || !strings.Contains(string(body), "email_exists") {
		t.Fatalf("expected 409 email_exists, got %d %s", status, body)
	}
}

func TestLogin_LockedIs423(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.registerAndVerify(t, "lock@example.com")

	for range 5 {
		doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/login",
			map[string]any{"email": "lock@example.com", "password": "Wrong-secret-pass"}, nil)
	}
	status, body, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/login",
		map[string]any{"email": "lock@example.com", "password": "Sup3r-secret-pass"}, nil)
	if status != http.StatusLocked || !strings.Contains(string(body), "account_locked") {
		t.Fatalf("expected 423 account_locked, got %d %s", status, body)
	}
}

func TestBearer_RejectsRefreshAndAcceptsServiceTokens(t *testing.T) {
	ts := newTestServer(t, testConfig())
	reg := ts.registerAndVerify(t, "svc@example.com")

	status, _, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/users/me", nil, bearer(reg.RefreshToken))
	if status != http.StatusUnauthorized {
		t.Fatalf("refresh token as bearer: expected 401, got %d", status)
	}
	status, _, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/users/me", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", status)
	}

	svc, err := ts.tokens.IssueService("billing", []string{"accounts:read"}, time.Now())
	if err != nil {
		t.Fatalf("IssueService: %v", err)
	}
	// Service callers authenticate, but account routes need an account.
	status, _, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/users/me", nil, bearer(svc.Token))
	if status != http.StatusForbidden {
		t.Fatalf("service token on account route: expected 403, got %d", status)
	}
}

func TestSessions_ListAndRevoke(t *testing.T) {
	ts := newTestServer(t, testConfig())
	reg := ts.registerAndVerify(t, "sess@example.com")

	status, body, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/login",
		map[string]any{"email": "sess@example.com", "password": "Sup3r-secret-pass", "device_id": "dev-2"}, nil)
	if status != http.StatusOK {
		t.Fatalf("login: %d %s", status, body)
	}
	var second authResponse
	_ = json.Unmarshal(body, &second)

	status, body, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/users/me/sessions", nil, bearer(reg.AccessToken))
	if status != http.StatusOK {
		t.Fatalf("sessions: %d %s", status, body)
	}
	var list []sessionResponse
	_ = json.Unmarshal(body, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	var target int64
	for _, s := range list {
		if s.DeviceID == "dev-2" {
			target = s.ID
		}
		if s.DeviceID == "dev-1" && !s.Current {
			t.Fatalf("dev-1 should be current")
		}
	}

	url := ts.URL + "/v1/users/me/sessions/" + itoa(target)
	status, _, _ = doJSON(t, ts.Client(), http.MethodDelete, url, nil, bearer(reg.AccessToken))
	if status != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d", status)
	}
	status, _, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/refresh", refreshRequest{RefreshToken: second.RefreshToken}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("revoked device refresh: expected 401, got %d", status)
	}
	status, _, _ = doJSON(t, ts.Client(), http.MethodDelete, ts.URL+"/v1/users/me/sessions/abc", nil, bearer(reg.AccessToken))
	if status != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", status)
	}
}

func TestWebCookieRefresh(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.registerAndVerify(t, "web@example.com")

	status, body, res := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/login",
		map[string]any{"email": "web@example.com", "password": "Sup3r-secret-pass", "platform": "web"}, nil)
	if status != http.StatusOK {
		t.Fatalf("login: %d %s", status, body)
	}
	var login authResponse
	_ = json.Unmarshal(body, &login)
	if login.RefreshToken != "" || login.CSRFToken == "" {
		t.Fatalf("web login must move the refresh token into a cookie: %+v", login)
	}
	cookies := res.Cookies()

	refresh := func(csrf string) int {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/auth/refresh", nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		if csrf != "" {
			req.Header.Set("X-CSRF-Token", csrf)
		}
		res, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		res.Body.Close()
		return res.StatusCode
	}

	if got := refresh(""); got != http.StatusForbidden {
		t.Fatalf("missing csrf: expected 403, got %d", got)
	}
	if got := refresh(login.CSRFToken); got != http.StatusOK {
		t.Fatalf("cookie refresh: expected 200, got %d", got)
	}
}

func TestForgotPassword_AlwaysAccepted(t *testing.T) {
	ts := newTestServer(t, testConfig())
	for _, email := range []string{"nobody@example.com", "not-an-email"} {
		status, _, _ := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/forgot-password", emailRequest{Email: email}, nil)
		if status != http.StatusAccepted {
			t.Fatalf("forgot-password(%q): expected 202, got %d", email, status)
		}
	}
}

func TestBiometric_DisabledIs503(t *testing.T) {
	ts := newTestServer(t, testConfig())
	reg := ts.registerAndVerify(t, "bio@example.com")

	status, _, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/biometric/status", nil, bearer(reg.AccessToken))
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestKeysAndBadJSON(t *testing.T) {
	ts := newTestServer(t, testConfig())

	status, body, _ := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/auth/keys", nil, nil)
	if status != http.StatusOK || !strings.Contains(string(body), ts.tokens.PublicKeyBase64()) {
		t.Fatalf("keys: %d %s", status, body)
	}

	status, _, _ = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v1/auth/login",
		map[string]any{"email": "a@example.com", "password": "x", "extra": true}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", status)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
