package crdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is idempotent and runs at startup.
const Schema = `
CREATE SEQUENCE IF NOT EXISTS events_id_seq;
CREATE SEQUENCE IF NOT EXISTS ticket_types_id_seq;
CREATE SEQUENCE IF NOT EXISTS purchases_id_seq;
CREATE SEQUENCE IF NOT EXISTS attendees_id_seq;
CREATE SEQUENCE IF NOT EXISTS tickets_id_seq;

CREATE TABLE IF NOT EXISTS events (
	id INT8 PRIMARY KEY DEFAULT nextval('events_id_seq'),
	promoter_id INT8 NOT NULL,
	title STRING NOT NULL,
	description STRING NOT NULL DEFAULT '',
	location STRING NOT NULL DEFAULT '',
	venue STRING NOT NULL DEFAULT '',
	category STRING NOT NULL DEFAULT '',
	start_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ NOT NULL,
	status STRING NOT NULL CHECK (status IN ('draft', 'published', 'cancelled', 'completed')),
	max_capacity INT8 NOT NULL DEFAULT 0,
	promoter_name STRING NOT NULL DEFAULT '',
	promoter_email STRING NOT NULL DEFAULT '',
	promoter_phone STRING NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (start_date < end_date),
	INDEX (status, end_date)
);

CREATE TABLE IF NOT EXISTS ticket_types (
	id INT8 PRIMARY KEY DEFAULT nextval('ticket_types_id_seq'),
	event_id INT8 NOT NULL REFERENCES events (id),
	name STRING NOT NULL,
	description STRING NOT NULL DEFAULT '',
	price DECIMAL(14,2) NOT NULL CHECK (price >= 0),
	quantity INT8 NOT NULL CHECK (quantity >= 1),
	remaining INT8 NOT NULL,
	sale_start TIMESTAMPTZ NOT NULL,
	sale_end TIMESTAMPTZ NOT NULL,
	active BOOL NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (remaining >= 0 AND remaining <= quantity),
	CHECK (sale_start < sale_end),
	INDEX (event_id)
);

CREATE TABLE IF NOT EXISTS purchases (
	id INT8 PRIMARY KEY DEFAULT nextval('purchases_id_seq'),
	ticket_type_id INT8 NOT NULL REFERENCES ticket_types (id),
	user_id INT8 NULL,
	quantity INT8 NOT NULL CHECK (quantity >= 1),
	total_amount DECIMAL(14,2) NOT NULL,
	status STRING NOT NULL CHECK (status IN ('pending', 'completed', 'failed', 'refunded')),
	payment_method STRING NOT NULL DEFAULT '',
	transaction_reference STRING NOT NULL DEFAULT '',
	purchaser_email STRING NOT NULL,
	purchaser_phone STRING NOT NULL,
	payment_proof_url STRING NOT NULL DEFAULT '',
	approved_by INT8 NULL,
	approval_date TIMESTAMPTZ NULL,
	ticket_document_url STRING NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK ((status = 'completed') = (approval_date IS NOT NULL) OR status = 'refunded'),
	INDEX (status, created_at),
	INDEX (ticket_type_id)
);

CREATE TABLE IF NOT EXISTS attendees (
	id INT8 PRIMARY KEY DEFAULT nextval('attendees_id_seq'),
	first_name STRING NOT NULL,
	last_name STRING NOT NULL DEFAULT '',
	email STRING NOT NULL,
	phone STRING NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS purchase_attendees (
	purchase_id INT8 NOT NULL REFERENCES purchases (id),
	attendee_id INT8 NOT NULL REFERENCES attendees (id),
	PRIMARY KEY (purchase_id, attendee_id)
);

CREATE TABLE IF NOT EXISTS tickets (
	id INT8 PRIMARY KEY DEFAULT nextval('tickets_id_seq'),
	purchase_id INT8 NOT NULL REFERENCES purchases (id),
	attendee_id INT8 NOT NULL REFERENCES attendees (id),
	document_url STRING NOT NULL DEFAULT '',
	state STRING NOT NULL CHECK (state IN ('issued', 'entered', 'exited')),
	used_at TIMESTAMPTZ NULL,
	entry_by STRING NOT NULL DEFAULT '',
	exit_time TIMESTAMPTZ NULL,
	exit_by STRING NOT NULL DEFAULT '',
	exit_reason STRING NOT NULL DEFAULT '',
	injury_notes STRING NOT NULL DEFAULT '',
	time_spent_us INT8 NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (purchase_id, attendee_id),
	CHECK (exit_time IS NULL OR used_at IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id STRING NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ NULL,
	status STRING NOT NULL CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key STRING NOT NULL DEFAULT '',
	INDEX (status, created_at)
);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
