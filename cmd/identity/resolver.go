package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// AccountLookup is the authoritative source the Resolver reads through.
type AccountLookup interface {
	GetAccountByUUID(ctx context.Context, id uuid.UUID) (Account, error)
}

// Resolver maps external account UUIDs to internal keys.
//
// Security contract:
//   - Every answer comes from the account store; nothing is derived from the UUID itself.
//   - Positive entries live for TTL; "not found" answers live for NegativeTTL.
//   - Concurrent misses for the same UUID share one store round-trip.
//   - Store failures are returned and never cached.
type Resolver struct {
	lookup      AccountLookup
	ttl         time.Duration
	negativeTTL time.Duration
	maxEntries  int
	now         func() time.Time

	mu      sync.Mutex
	entries map[uuid.UUID]resolverEntry
	group   singleflight.Group
}

type resolverEntry struct {
	id        int64
	found     bool
	expiresAt time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverTTL sets positive and negative cache lifetimes.
func WithResolverTTL(ttl, negativeTTL time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
		if negativeTTL > 0 {
			r.negativeTTL = negativeTTL
		}
	}
}

// WithResolverMaxEntries bounds the cache size.
func WithResolverMaxEntries(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxEntries = n
		}
	}
}

// WithResolverClock overrides the clock (tests).
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver constructs a Resolver with a 5m TTL, 30s negative TTL and 10k entries.
func NewResolver(lookup AccountLookup, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookup:      lookup,
		ttl:         5 * time.Minute,
		negativeTTL: 30 * time.Second,
		maxEntries:  10_000,
		now:         time.Now,
		entries:     make(map[uuid.UUID]resolverEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the internal key for id, or a NotFoundError.
func (r *Resolver) Resolve(ctx context.Context, id uuid.UUID) (int64, error) {
	const op = "identity.Resolve"

	if id == uuid.Nil {
		return 0, pgInvalid(op, "nil uuid")
	}
	if e, ok := r.cached(id); ok {
		if !e.found {
			return 0, NotFoundError{Op: op, Resource: "account"}
		}
		return e.id, nil
	}

	ch := r.group.DoChan(id.String(), func() (any, error) {
		// Detached from the first caller's cancellation so waiters are not failed by it.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		acc, err := r.lookup.GetAccountByUUID(lctx, id)
		switch {
		case err == nil:
			r.store(id, resolverEntry{id: acc.ID, found: true, expiresAt: r.now().Add(r.ttl)})
			return acc.ID, nil
		case IsNotFound(err):
			r.store(id, resolverEntry{expiresAt: r.now().Add(r.negativeTTL)})
			return int64(0), err
		default:
			return int64(0), err
		}
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if IsNotFound(res.Err) {
				return 0, NotFoundError{Op: op, Resource: "account"}
			}
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// Invalidate drops any cached answer for id (e.g. after deletion).
func (r *Resolver) Invalidate(id uuid.UUID) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	r.group.Forget(id.String())
}

func (r *Resolver) cached(id uuid.UUID) (resolverEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return resolverEntry{}, false
	}
	if !r.now().Before(e.expiresAt) {
		delete(r.entries, id)
		return resolverEntry{}, false
	}
	return e, true
}

func (r *Resolver) store(id uuid.UUID, e resolverEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.maxEntries {
		now := r.now()
		for k, v := range r.entries {
			if !now.Before(v.expiresAt) {
				delete(r.entries, k)
			}
		}
		// Still full: evict an arbitrary entry; map iteration order is random.
		for k := range r.entries {
			if len(r.entries) < r.maxEntries {
				break
			}
			delete(r.entries, k)
		}
	}
	r.entries[id] = e
}
