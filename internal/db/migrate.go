package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		role          TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		id            BIGSERIAL PRIMARY KEY,
		counsellor_id BIGINT NOT NULL REFERENCES users(id),
		student_id    BIGINT REFERENCES users(id),
		start_time    TIMESTAMPTZ NOT NULL,
		end_time      TIMESTAMPTZ NOT NULL,
		price         BIGINT NOT NULL,
		booked        BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled     BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (counsellor_id, start_time, end_time)
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id               BIGSERIAL PRIMARY KEY,
		student_id       BIGINT NOT NULL REFERENCES users(id),
		counsellor_id    BIGINT NOT NULL REFERENCES users(id),
		slot_id          BIGINT REFERENCES slots(id),
		appointment_time TIMESTAMPTZ NOT NULL,
		status           TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at       TIMESTAMPTZ NOT NULL,
		version          BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id                 BIGSERIAL PRIMARY KEY,
		appointment_id     BIGINT NOT NULL REFERENCES appointments(id),
		amount             BIGINT NOT NULL,
		status             TEXT NOT NULL,
		gateway_order_id   TEXT NOT NULL UNIQUE,
		gateway_payment_id TEXT,
		gateway_name       TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_status_created
		ON appointments (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_counsellor_end
		ON slots (counsellor_id, end_time)`,
}

// Migrate bootstraps the schema. Statements are idempotent so every binary
// can run this at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
