// Package schematest provisions throwaway Postgres schemas for integration tests.
//
// Tests are opt-in: without TRUSTCORE_DATABASE_URL they are skipped, and an unreachable
// database skips rather than fails outside CI.
package schematest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustcore/cmd/identity/ids"
	"trustcore/cmd/internal/schema"
)

// EnvDatabaseURL names the variable that enables integration tests.
const EnvDatabaseURL = "TRUSTCORE_DATABASE_URL"

// Pool opens a pool against TRUSTCORE_DATABASE_URL or skips the test.
// The pool is closed on test cleanup.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

// Fresh creates a uniquely named schema, migrates it and drops it on cleanup.
func Fresh(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	name := "tc_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := schema.Migrate(ctx, pool, name); err != nil {
		t.Fatalf("migrate %s: %v", name, err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{name}.Sanitize()+` CASCADE`)
	})
	return name
}

func shouldSkip(err error) bool {
	if strings.EqualFold(os.Getenv("CI"), "true") {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}
