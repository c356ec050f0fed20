package postgres

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_executions (
	id               UUID PRIMARY KEY,
	workflow_name    TEXT NOT NULL,
	workflow_version TEXT NOT NULL,
	status           TEXT NOT NULL,
	context_id       UUID NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ,
	error_details    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS task_executions (
	id                    UUID PRIMARY KEY,
	pipeline_execution_id UUID NOT NULL REFERENCES pipeline_executions(id) ON DELETE CASCADE,
	task_name             TEXT NOT NULL,
	status                TEXT NOT NULL,
	sub_status            TEXT NOT NULL DEFAULT '',
	attempt               INTEGER NOT NULL DEFAULT 1,
	max_attempts          INTEGER NOT NULL DEFAULT 3,
	started_at            TIMESTAMPTZ,
	completed_at          TIMESTAMPTZ,
	retry_at              TIMESTAMPTZ,
	last_error            TEXT NOT NULL DEFAULT '',
	error_details         TEXT NOT NULL DEFAULT '',
	recovery_attempts     INTEGER NOT NULL DEFAULT 0,
	last_recovery_at      TIMESTAMPTZ,
	trigger_rules         TEXT NOT NULL DEFAULT '',
	task_configuration    TEXT NOT NULL DEFAULT '',
	context_id            UUID,
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL,
	UNIQUE(pipeline_execution_id, task_name)
);
CREATE INDEX IF NOT EXISTS idx_task_executions_status_retry ON task_executions(status, retry_at);

CREATE TABLE IF NOT EXISTS contexts (
	id         UUID PRIMARY KEY,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS task_outbox (
	task_execution_id UUID PRIMARY KEY REFERENCES task_executions(id) ON DELETE CASCADE,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_events (
	id                    UUID PRIMARY KEY,
	pipeline_execution_id UUID,
	task_execution_id     UUID,
	event_type            TEXT NOT NULL,
	event_data            JSONB NOT NULL DEFAULT '{}',
	worker_id             TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL
);

-- Pushed on every Ready-transition insert; LISTEN fluxion_task_ready picks
-- these up per §4.1's push option.
CREATE OR REPLACE FUNCTION fluxion_notify_outbox() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('fluxion_task_ready', NEW.task_execution_id::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS fluxion_outbox_notify ON task_outbox;
CREATE TRIGGER fluxion_outbox_notify AFTER INSERT ON task_outbox
	FOR EACH ROW EXECUTE FUNCTION fluxion_notify_outbox();
`
