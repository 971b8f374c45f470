package identity

import (
	"testing"

	"trustcore/cmd/internal/schema/schematest"
)

// Integration tests are opt-in and require TRUSTCORE_DATABASE_URL.

func TestPostgresStore_Contract(t *testing.T) {
	pool := schematest.Pool(t)

	runStoreContract(t, func(t *testing.T) Store {
		name := schematest.Fresh(t, pool)
		st, err := NewPostgresStore(pool, WithSchema(name))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return st
	})
}

func TestNewPostgresStore_RejectsBadSchema(t *testing.T) {
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
	if _, err := NewPostgresStore(nil, WithSchema(`bad"name`)); err == nil {
		t.Fatalf("expected schema error")
	}
}
