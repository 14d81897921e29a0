package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. All statements are idempotent so restarting
// the service against an existing database is safe.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id                  UUID PRIMARY KEY,
    name                TEXT NOT NULL,
    description         TEXT NOT NULL DEFAULT '',
    capacity            INTEGER NOT NULL CHECK (capacity > 0),
    price               NUMERIC(10,2) NOT NULL CHECK (price >= 0),
    currency            CHAR(3) NOT NULL,
    cancelled           BOOLEAN NOT NULL DEFAULT FALSE,
    cancellation_reason TEXT,
    created_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS participations (
    id             UUID PRIMARY KEY,
    event_id       UUID NOT NULL REFERENCES events(id),
    member_id      TEXT NOT NULL,
    status         TEXT NOT NULL,
    payment_status TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

-- At most one non-cancelled participation per (event, member).
CREATE UNIQUE INDEX IF NOT EXISTS ux_participations_active
    ON participations (event_id, member_id)
    WHERE status <> 'CANCELLED';

CREATE TABLE IF NOT EXISTS payments (
    id                  UUID PRIMARY KEY,
    event_id            UUID NOT NULL REFERENCES events(id),
    member_id           TEXT NOT NULL,
    amount              NUMERIC(10,2) NOT NULL,
    currency            CHAR(3) NOT NULL,
    status              TEXT NOT NULL,
    external_session_id TEXT UNIQUE,
    external_payment_id TEXT,
    external_refund_id  TEXT,
    failure_reason      TEXT,
    created_at          TIMESTAMPTZ NOT NULL,
    completed_at        TIMESTAMPTZ,
    refunded_at         TIMESTAMPTZ
);

-- At most one open payment attempt per (event, member).
CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_pending
    ON payments (event_id, member_id)
    WHERE status = 'PENDING';

CREATE INDEX IF NOT EXISTS ix_payments_external_payment_id
    ON payments (external_payment_id);
`

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
