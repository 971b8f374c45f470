// Package schema owns the embedded Postgres migrations for trustcore.
//
// Tables are created unqualified inside a single schema selected through search_path,
// so the same migrations serve the default "trustcore" schema and per-test schemas.
package schema

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DefaultName is the schema used when none is configured.
const DefaultName = "trustcore"

//go:embed migrations/*.sql
var migrationsFS embed.FS

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidName reports whether s is a safe Postgres identifier for a schema name.
func ValidName(s string) bool { return identRe.MatchString(s) }

// Migrate creates the schema if needed and applies all pending migrations inside it.
// It returns the number of migrations applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool, name string) (int, error) {
	const op = "schema.Migrate"

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	if !ValidName(name) {
		return 0, fmt.Errorf("%s: invalid schema identifier", op)
	}
	if pool == nil {
		return 0, fmt.Errorf("%s: nil pool", op)
	}

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{name}.Sanitize()); err != nil {
		return 0, fmt.Errorf("%s: create schema: %w", op, err)
	}

	// goose speaks database/sql; bridge through pgx stdlib with search_path pinned to the schema.
	connCfg := pool.Config().ConnConfig.Copy()
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}
	connCfg.RuntimeParams["search_path"] = name
	db := stdlib.OpenDB(*connCfg)
	defer func() { _ = db.Close() }()

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return 0, fmt.Errorf("%s: new provider: %w", op, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: up: %w", op, err)
	}
	return len(results), nil
}
