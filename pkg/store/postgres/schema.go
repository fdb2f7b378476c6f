package postgres

import (
	"context"
	"fmt"
)

// Amounts are NUMERIC(78,0) so any uint256 fits; they cross the wire as text.
const schema = `
CREATE TABLE IF NOT EXISTS intents (
	id           BIGINT PRIMARY KEY,
	owner        TEXT NOT NULL,
	payload      BYTEA NOT NULL,
	payload_hash BYTEA NOT NULL,
	token_in     TEXT NOT NULL,
	token_out    TEXT NOT NULL,
	min_output   NUMERIC(78, 0) NOT NULL CHECK (min_output >= 0),
	status       TEXT NOT NULL,
	batch_id     BIGINT,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS intents_status_id_idx ON intents (status, id);

CREATE TABLE IF NOT EXISTS batches (
	id            BIGINT PRIMARY KEY,
	intent_ids    BIGINT[] NOT NULL,
	intent_count  INTEGER NOT NULL,
	total_volume  NUMERIC(78, 0) NOT NULL,
	route         TEXT NOT NULL,
	ordering_rule TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	executed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS batch_results (
	batch_id            BIGINT PRIMARY KEY REFERENCES batches (id),
	success             BOOLEAN NOT NULL,
	total_input_amount  NUMERIC(78, 0) NOT NULL,
	total_output_amount NUMERIC(78, 0) NOT NULL,
	execution_price     NUMERIC NOT NULL,
	failure_reason      TEXT NOT NULL DEFAULT '',
	executed_at         TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the ledger tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Ledger schema is up to date")
	return nil
}
