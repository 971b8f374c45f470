package audit

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/cmd/internal/schema/schematest"
)

func TestPostgresWriter_WriteEvents(t *testing.T) {
	pool := schematest.Pool(t)
	name := schematest.Fresh(t, pool)

	w, err := NewPostgresWriter(pool, name)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = w.WriteEvents(context.Background(), []Event{
		{ID: "01HZX0000000000000000000A1", Action: ActionLogin, Outcome: OutcomeFailure, Reason: "bad password",
			Detail: map[string]any{"attempts": 2}, Meta: Meta{IP: net.ParseIP("203.0.113.1"), UserAgent: "ua", DeviceID: "dev"}, At: at},
		{ID: "01HZX0000000000000000000A2", Action: ActionLogout, Outcome: OutcomeSuccess, At: at},
	})
	require.NoError(t, err)

	var (
		n       int
		outcome string
		attempt int
		ip      string
	)
	tbl := pgx.Identifier{name, "audit_events"}.Sanitize()
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT count(*) FROM `+tbl).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT outcome, (detail->>'attempts')::int, ip FROM `+tbl+` WHERE event_id = $1`, "01HZX0000000000000000000A1",
	).Scan(&outcome, &attempt, &ip))
	assert.Equal(t, "failure", outcome)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, "203.0.113.1", ip)
}

func TestNewPostgresWriter_RejectsBadSchema(t *testing.T) {
	_, err := NewPostgresWriter(nil, "bad-name;")
	require.Error(t, err)
}
