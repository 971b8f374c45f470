package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresWriter appends events to audit_events.
type PostgresWriter struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresWriter returns a writer for schema (default "trustcore").
func NewPostgresWriter(pool *pgxpool.Pool, schema string) (*PostgresWriter, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "trustcore"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("audit: invalid schema identifier")
	}
	if pool == nil {
		return nil, fmt.Errorf("audit: nil pool")
	}
	return &PostgresWriter{pool: pool, table: pgx.Identifier{schema, "audit_events"}.Sanitize()}, nil
}

// WriteEvents inserts the batch in one round trip.
// A malformed detail map is stored as NULL rather than failing the batch.
func (w *PostgresWriter) WriteEvents(ctx context.Context, events []Event) error {
	const op = "audit.WriteEvents"
	if len(events) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, e := range events {
		var detail any
		if len(e.Detail) > 0 {
			if raw, err := json.Marshal(e.Detail); err == nil {
				detail = string(raw)
			}
		}
		var ip any
		if e.Meta.IP != nil {
			ip = e.Meta.IP.String()
		}
		b.Queue(`
			INSERT INTO `+w.table+` (
				event_id, actor_id, subject_id, action, resource_type, resource_id,
				outcome, reason, detail, ip, user_agent, device_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
		`, e.ID, e.ActorID, e.SubjectID, e.Action, nullIfEmpty(e.ResourceType), nullIfEmpty(e.ResourceID),
			string(e.Outcome), nullIfEmpty(e.Reason), detail, ip, nullIfEmpty(e.Meta.UserAgent),
			nullIfEmpty(e.Meta.DeviceID), e.At)
	}

	if err := w.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
