package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_executions (
	id              TEXT PRIMARY KEY,
	workflow_name   TEXT NOT NULL,
	workflow_version TEXT NOT NULL,
	status          TEXT NOT NULL,
	context_id      TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	completed_at    TEXT,
	error_details   TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_executions (
	id                 TEXT PRIMARY KEY,
	pipeline_execution_id TEXT NOT NULL REFERENCES pipeline_executions(id) ON DELETE CASCADE,
	task_name          TEXT NOT NULL,
	status             TEXT NOT NULL,
	sub_status         TEXT NOT NULL DEFAULT '',
	attempt            INTEGER NOT NULL DEFAULT 1,
	max_attempts       INTEGER NOT NULL DEFAULT 3,
	started_at         TEXT,
	completed_at       TEXT,
	retry_at           TEXT,
	last_error         TEXT NOT NULL DEFAULT '',
	error_details      TEXT NOT NULL DEFAULT '',
	recovery_attempts  INTEGER NOT NULL DEFAULT 0,
	last_recovery_at   TEXT,
	trigger_rules      TEXT NOT NULL DEFAULT '',
	task_configuration TEXT NOT NULL DEFAULT '',
	context_id         TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	UNIQUE(pipeline_execution_id, task_name)
);
CREATE INDEX IF NOT EXISTS idx_task_executions_status_retry ON task_executions(status, retry_at);

CREATE TABLE IF NOT EXISTS contexts (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_outbox (
	task_execution_id TEXT PRIMARY KEY REFERENCES task_executions(id) ON DELETE CASCADE,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_events (
	id                     TEXT PRIMARY KEY,
	pipeline_execution_id  TEXT,
	task_execution_id      TEXT,
	event_type             TEXT NOT NULL,
	event_data             TEXT NOT NULL DEFAULT '{}',
	worker_id              TEXT NOT NULL DEFAULT '',
	created_at             TEXT NOT NULL
);
`
