package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trustcore/cmd/identity"
	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/security/token"
)

// fixture is what each backend provides to the shared registry contract.
type fixture struct {
	store    Store
	accounts identity.Store
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, st Store, cfg Config, clock *testClock) *Registry {
	t.Helper()

	seed, err := tokens.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	key, err := tokens.ParseSigningKey(seed)
	if err != nil {
		t.Fatalf("ParseSigningKey: %v", err)
	}
	tm, err := tokens.NewManager(tokens.DefaultConfig(), key, tokens.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	reg, err := NewRegistry(cfg, st, tm, token.Hasher{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

var accountSeq atomic.Int64

func mustActiveAccount(t *testing.T, ids identity.Store, now time.Time) identity.Account {
	t.Helper()
	ctx := context.Background()

	acc, err := ids.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        fmt.Sprintf("user%d@example.com", accountSeq.Add(1)),
		PasswordHash: "hash",
		Now:          now,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	acc, err = ids.MarkEmailVerified(ctx, acc.ID, now)
	if err != nil {
		t.Fatalf("MarkEmailVerified: %v", err)
	}
	return acc
}

func runRegistryContract(t *testing.T, newFixture func(t *testing.T) fixture) {
	ctx := context.Background()
	web := func(id string) Device {
		return Device{ID: id, Name: "browser", Platform: PlatformWeb, IP: "203.0.113.7", UserAgent: "tc-test/1.0"}
	}

	setup := func(t *testing.T, cfg Config) (*Registry, identity.Store, *testClock) {
		f := newFixture(t)
		clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
		return newTestRegistry(t, f.store, cfg, clock), f.accounts, clock
	}

	t.Run("login then rotate", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())

		first, err := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())
		if err != nil {
			t.Fatalf("IssueForLogin: %v", err)
		}

		clock.Advance(time.Minute)
		rot, err := reg.Rotate(ctx, first.Token, clock.Now())
		if err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		if rot.AccountID != acc.ID || rot.DeviceID != "dev-a" || rot.Subject != acc.UUID.String() {
			t.Fatalf("unexpected rotation: %+v", rot)
		}
		if rot.Refresh.Token == first.Token {
			t.Fatalf("expected a new refresh token")
		}

		// Single use: the old token is dead, reported as reuse.
		_, err = reg.Rotate(ctx, first.Token, clock.Now())
		if !errors.Is(err, ErrInvalidToken) || !errors.Is(err, ErrRefreshReuseDetected) {
			t.Fatalf("expected reuse detection, got %v", err)
		}

		// Reuse without RevokeOnReuse leaves the new token intact.
		if _, err := reg.Rotate(ctx, rot.Refresh.Token, clock.Now()); err != nil {
			t.Fatalf("Rotate new token: %v", err)
		}
	})

	t.Run("new login revokes same device", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())

		a, err := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())
		if err != nil {
			t.Fatalf("login a: %v", err)
		}
		other, err := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-b"), clock.Now())
		if err != nil {
			t.Fatalf("login other: %v", err)
		}
		clock.Advance(time.Second)
		if _, err := reg.Rotate(ctx, other.Token, clock.Now()); err != nil {
			t.Fatalf("other device: %v", err)
		}
		clock.Advance(time.Second)
		if _, err := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now()); err != nil {
			t.Fatalf("login a again: %v", err)
		}

		_, err = reg.Rotate(ctx, a.Token, clock.Now())
		if !errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrRefreshReuseDetected) {
			t.Fatalf("expected plain invalid token, got %v", err)
		}

		list, err := reg.ListDevices(ctx, acc.ID, "dev-a")
		if err != nil {
			t.Fatalf("ListDevices: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 devices, got %d", len(list))
		}
		if list[0].DeviceID != "dev-a" || !list[0].Current || list[1].Current {
			t.Fatalf("expected dev-a first and current: %+v", list)
		}
	})

	t.Run("pending account cannot refresh", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc, err := ids.CreateAccount(ctx, identity.CreateAccountInput{
			Email:        fmt.Sprintf("pending%d@example.com", accountSeq.Add(1)),
			PasswordHash: "hash",
			Now:          clock.Now(),
		})
		if err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		iss, err := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())
		if err != nil {
			t.Fatalf("pending accounts may log in: %v", err)
		}
		if _, err := reg.Rotate(ctx, iss.Token, clock.Now()); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired refresh rejected", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())

		iss, err := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())
		if err != nil {
			t.Fatalf("IssueForLogin: %v", err)
		}
		clock.Advance(DefaultConfig().RefreshTTLWeb + time.Hour)
		if _, err := reg.Rotate(ctx, iss.Token, clock.Now()); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		reg, _, clock := setup(t, DefaultConfig())
		for _, tok := range []string{"", "   ", "nope", "a.b.c"} {
			if _, err := reg.Rotate(ctx, tok, clock.Now()); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
			}
		}
	})

	t.Run("logout device", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())

		a, _ := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())
		b, _ := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-b"), clock.Now())

		if err := reg.LogoutDevice(ctx, acc.ID, "dev-a", clock.Now()); err != nil {
			t.Fatalf("LogoutDevice: %v", err)
		}
		if _, err := reg.Rotate(ctx, a.Token, clock.Now()); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
		if _, err := reg.Rotate(ctx, b.Token, clock.Now()); err != nil {
			t.Fatalf("dev-b must survive: %v", err)
		}

		list, _ := reg.ListDevices(ctx, acc.ID, "")
		if len(list) != 1 || list[0].DeviceID != "dev-b" {
			t.Fatalf("expected only dev-b, got %+v", list)
		}
	})

	t.Run("revoke all is exhaustive", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())

		var issued []tokens.Issued
		for _, d := range []string{"dev-a", "dev-b", "dev-c"} {
			iss, err := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web(d), clock.Now())
			if err != nil {
				t.Fatalf("login %s: %v", d, err)
			}
			issued = append(issued, iss)
		}

		n, err := reg.RevokeAll(ctx, acc.ID, ReasonPasswordChange, clock.Now())
		if err != nil {
			t.Fatalf("RevokeAll: %v", err)
		}
		if n != 3 {
			t.Fatalf("expected 3 revoked tokens, got %d", n)
		}
		for _, iss := range issued {
			if _, err := reg.Rotate(ctx, iss.Token, clock.Now()); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		}
		list, _ := reg.ListDevices(ctx, acc.ID, "")
		if len(list) != 0 {
			t.Fatalf("expected no live devices, got %d", len(list))
		}
	})

	t.Run("revoke session by id", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())
		intruder := mustActiveAccount(t, ids, clock.Now())

		iss, _ := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())
		list, _ := reg.ListDevices(ctx, acc.ID, "")
		if len(list) != 1 {
			t.Fatalf("expected 1 device, got %d", len(list))
		}

		if _, err := reg.RevokeSession(ctx, intruder.ID, list[0].ID, clock.Now()); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound for foreign account, got %v", err)
		}
		dev, err := reg.RevokeSession(ctx, acc.ID, list[0].ID, clock.Now())
		if err != nil || dev != "dev-a" {
			t.Fatalf("RevokeSession: dev=%q err=%v", dev, err)
		}
		if _, err := reg.Rotate(ctx, iss.Token, clock.Now()); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("trust and touch", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())
		_, _ = reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())

		if err := reg.SetTrusted(ctx, acc.ID, "dev-a", true); err != nil {
			t.Fatalf("SetTrusted: %v", err)
		}
		if err := reg.SetTrusted(ctx, acc.ID, "missing", true); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}

		clock.Advance(time.Hour)
		reg.Touch(ctx, acc.ID, Device{ID: "dev-a", IP: "198.51.100.1"}, clock.Now())

		list, _ := reg.ListDevices(ctx, acc.ID, "")
		if len(list) != 1 || !list[0].Trusted || list[0].IP != "198.51.100.1" {
			t.Fatalf("unexpected device: %+v", list)
		}
		if !list[0].LastActiveAt.Equal(clock.Now()) {
			t.Fatalf("last active not touched: %v", list[0].LastActiveAt)
		}
	})

	t.Run("revoke on reuse", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RevokeOnReuse = true
		reg, ids, clock := setup(t, cfg)
		acc := mustActiveAccount(t, ids, clock.Now())

		first, _ := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())
		rot, err := reg.Rotate(ctx, first.Token, clock.Now())
		if err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		if _, err := reg.Rotate(ctx, first.Token, clock.Now()); !errors.Is(err, ErrRefreshReuseDetected) {
			t.Fatalf("expected reuse, got %v", err)
		}
		if _, err := reg.Rotate(ctx, rot.Refresh.Token, clock.Now()); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("replay must burn the whole account, got %v", err)
		}
	})

	t.Run("concurrent rotation succeeds once", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())
		iss, _ := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())

		const workers = 8
		var ok atomic.Int32
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := reg.Rotate(ctx, iss.Token, clock.Now()); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		if ok.Load() != 1 {
			t.Fatalf("expected exactly one successful rotation, got %d", ok.Load())
		}
	})

	t.Run("revoke all racing rotation", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())
		iss, _ := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())

		var wg sync.WaitGroup
		var rot Rotation
		var rotErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			rot, rotErr = reg.Rotate(ctx, iss.Token, clock.Now())
		}()
		go func() {
			defer wg.Done()
			if _, err := reg.RevokeAll(ctx, acc.ID, ReasonLogoutAll, clock.Now()); err != nil {
				t.Errorf("RevokeAll: %v", err)
			}
		}()
		wg.Wait()

		// Whichever won, nothing may survive the committed logout-all.
		if rotErr == nil {
			if _, err := reg.Rotate(ctx, rot.Refresh.Token, clock.Now()); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("token minted during logout-all survived: %v", err)
			}
		} else if !errors.Is(rotErr, ErrInvalidToken) {
			t.Fatalf("unexpected rotation error: %v", rotErr)
		}
	})

	t.Run("purge expired", func(t *testing.T) {
		reg, ids, clock := setup(t, DefaultConfig())
		acc := mustActiveAccount(t, ids, clock.Now())

		old, _ := reg.IssueForLogin(ctx, acc.ID, acc.UUID.String(), web("dev-a"), clock.Now())
		if _, err := reg.Rotate(ctx, old.Token, clock.Now()); err != nil {
			t.Fatalf("Rotate: %v", err)
		}

		clock.Advance(DefaultConfig().PurgeRetention + time.Hour)
		n, err := reg.PurgeExpired(ctx, clock.Now())
		if err != nil {
			t.Fatalf("PurgeExpired: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 purged row (the rotated token), got %d", n)
		}
	})
}

func TestMemoryRegistry_Contract(t *testing.T) {
	runRegistryContract(t, func(t *testing.T) fixture {
		ids := identity.NewMemoryStore()
		return fixture{store: NewMemoryStore(ids), accounts: ids}
	})
}

func TestNewRegistry_RejectsBadInput(t *testing.T) {
	if _, err := NewRegistry(DefaultConfig(), nil, nil, token.Hasher{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.RefreshTTLNativeShort = cfg.RefreshTTLNative + time.Hour
	if _, err := NewRegistry(cfg, NewMemoryStore(nil), nil, token.Hasher{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestRegistry_IssueRequiresDevice(t *testing.T) {
	clock := &testClock{now: time.Now().UTC()}
	reg := newTestRegistry(t, NewMemoryStore(nil), DefaultConfig(), clock)
	if _, err := reg.IssueForLogin(context.Background(), 1, "sub", Device{}, clock.Now()); !errors.Is(err, ErrDeviceRequired) {
		t.Fatalf("expected ErrDeviceRequired, got %v", err)
	}
}

func TestConfig_RefreshTTLByPlatform(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		dev  Device
		want time.Duration
	}{
		{Device{Platform: PlatformWeb}, cfg.RefreshTTLWeb},
		{Device{Platform: PlatformIOS, RememberMe: true}, cfg.RefreshTTLNative},
		{Device{Platform: PlatformAndroid}, cfg.RefreshTTLNativeShort},
		{Device{Platform: PlatformUnknown, RememberMe: true}, cfg.RefreshTTLWeb},
	}
	for _, c := range cases {
		if got := cfg.refreshTTL(c.dev); got != c.want {
			t.Fatalf("%+v: got %v want %v", c.dev, got, c.want)
		}
	}
}

func TestParsePlatform(t *testing.T) {
	if ParsePlatform(" iOS ") != PlatformIOS {
		t.Fatalf("expected ios")
	}
	if ParsePlatform("smart-fridge") != PlatformUnknown {
		t.Fatalf("expected unknown")
	}
}
