package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	calls atomic.Int32
	gate  chan struct{}
	accs  map[uuid.UUID]Account
	err   error
}

func (c *countingLookup) GetAccountByUUID(_ context.Context, id uuid.UUID) (Account, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return Account{}, c.err
	}
	a, ok := c.accs[id]
	if !ok {
		return Account{}, NotFoundError{Op: "test", Resource: "account"}
	}
	return a, nil
}

func TestResolver_CachesPositiveAndNegative(t *testing.T) {
	known := uuid.New()
	lk := &countingLookup{accs: map[uuid.UUID]Account{known: {ID: 42, UUID: known}}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewResolver(lk,
		WithResolverTTL(time.Minute, 10*time.Second),
		WithResolverClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(ctx, known)
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	}
	assert.Equal(t, int32(1), lk.calls.Load())

	unknown := uuid.New()
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(ctx, unknown)
		assert.True(t, IsNotFound(err))
	}
	assert.Equal(t, int32(2), lk.calls.Load())

	// Negative entry expires before the positive one.
	now = now.Add(11 * time.Second)
	_, _ = r.Resolve(ctx, unknown)
	_, _ = r.Resolve(ctx, known)
	assert.Equal(t, int32(3), lk.calls.Load())

	now = now.Add(time.Minute)
	_, _ = r.Resolve(ctx, known)
	assert.Equal(t, int32(4), lk.calls.Load())
}

func TestResolver_SingleflightCollapsesMisses(t *testing.T) {
	id := uuid.New()
	lk := &countingLookup{gate: make(chan struct{}), accs: map[uuid.UUID]Account{id: {ID: 7}}}
	r := NewResolver(lk)

	var wg sync.WaitGroup
	results := make([]int64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.Resolve(context.Background(), id)
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(lk.gate)
	wg.Wait()

	assert.Equal(t, int32(1), lk.calls.Load())
	for _, v := range results {
		assert.Equal(t, int64(7), v)
	}
}

func TestResolver_StoreErrorsNotCached(t *testing.T) {
	boom := errors.New("db down")
	lk := &countingLookup{err: boom}
	r := NewResolver(lk)
	id := uuid.New()

	_, err := r.Resolve(context.Background(), id)
	assert.ErrorIs(t, err, boom)
	_, err = r.Resolve(context.Background(), id)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), lk.calls.Load())
}

func TestResolver_InvalidateAndNil(t *testing.T) {
	id := uuid.New()
	lk := &countingLookup{accs: map[uuid.UUID]Account{id: {ID: 1}}}
	r := NewResolver(lk)

	_, err := r.Resolve(context.Background(), uuid.Nil)
	assert.True(t, IsInvalidInput(err))

	_, _ = r.Resolve(context.Background(), id)
	r.Invalidate(id)
	_, _ = r.Resolve(context.Background(), id)
	assert.Equal(t, int32(2), lk.calls.Load())
}

func TestResolver_BoundedEntries(t *testing.T) {
	accs := map[uuid.UUID]Account{}
	for i := 0; i < 10; i++ {
		id := uuid.New()
		accs[id] = Account{ID: int64(i)}
	}
	r := NewResolver(&countingLookup{accs: accs}, WithResolverMaxEntries(4))
	for id := range accs {
		_, err := r.Resolve(context.Background(), id)
		require.NoError(t, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.LessOrEqual(t, len(r.entries), 4)
}
