package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS workflow_packages (
	id TEXT PRIMARY KEY,
	registry_id TEXT NOT NULL,
	tenant TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	description TEXT NOT NULL,
	author TEXT NOT NULL,
	metadata TEXT NOT NULL,
	storage_type TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(name, version)
);
`
