package postgres

import (
	"context"

	"github.com/pkg/errors"
)

// Admission correctness leans on three constraints here: vote_events PK for
// event idempotency, one_base_vote_per_day for the base-vote rule, and
// one_event_per_receipt for receipt conservation.
const schema = `
CREATE TYPE vote_kind AS ENUM ('base', 'burn');
CREATE TYPE moderation_state AS ENUM ('pending', 'approved', 'removed');
CREATE TYPE period_state AS ENUM ('open', 'closed', 'settled');

CREATE TABLE contents (
	content_id TEXT PRIMARY KEY,
	submitter TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	moderation moderation_state NOT NULL DEFAULT 'pending'
);

CREATE TABLE vote_events (
	event_id TEXT PRIMARY KEY,
	voter TEXT NOT NULL,
	content TEXT NOT NULL,
	kind vote_kind NOT NULL,
	burn_amount BIGINT NOT NULL DEFAULT 0,
	day_key TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	receipt_ref TEXT
);
CREATE UNIQUE INDEX one_base_vote_per_day ON vote_events (voter, content, day_key) WHERE kind = 'base';
CREATE UNIQUE INDEX one_event_per_receipt ON vote_events (receipt_ref) WHERE receipt_ref IS NOT NULL;
CREATE INDEX vote_events_voter_day ON vote_events (voter, day_key, ts);
CREATE INDEX vote_events_day ON vote_events (day_key, ts);
CREATE INDEX vote_events_content_ts ON vote_events (content, ts);

CREATE TABLE burn_receipts (
	receipt_id TEXT PRIMARY KEY,
	voter TEXT NOT NULL,
	amount BIGINT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	block_ref TEXT NOT NULL DEFAULT '',
	claimed_by TEXT
);
CREATE INDEX burn_receipts_voter_observed ON burn_receipts (voter, observed_at);

CREATE TABLE burn_txs (
	tx_id TEXT PRIMARY KEY,
	voter TEXT NOT NULL,
	amount BIGINT NOT NULL,
	block_hash TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE periods (
	period_id TEXT PRIMARY KEY,
	opens_at TIMESTAMPTZ NOT NULL,
	closes_at TIMESTAMPTZ NOT NULL,
	state period_state NOT NULL DEFAULT 'open',
	reward_pool BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE reward_shares (
	period_id TEXT NOT NULL,
	voter TEXT NOT NULL,
	weight BIGINT NOT NULL,
	amount BIGINT NOT NULL,
	PRIMARY KEY (period_id, voter)
);

CREATE TABLE day_taints (
	voter TEXT NOT NULL,
	day_key TEXT NOT NULL,
	reason TEXT NOT NULL,
	at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (voter, day_key)
);
`

func CreateSchema(ctx context.Context) error {
	if err := DoExec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed creating schema")
	}
	return nil
}
