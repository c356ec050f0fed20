package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS signing_keys (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	key_name TEXT NOT NULL,
	encrypted_private_key BLOB NOT NULL,
	public_key BLOB NOT NULL,
	key_fingerprint TEXT NOT NULL,
	created_at TEXT NOT NULL,
	revoked_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_signing_keys_org ON signing_keys(org_id);

CREATE TABLE IF NOT EXISTS trusted_keys (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	key_fingerprint TEXT NOT NULL,
	public_key BLOB NOT NULL,
	key_name TEXT NOT NULL,
	trusted_at TEXT NOT NULL,
	revoked_at TEXT,
	UNIQUE(org_id, key_fingerprint)
);

CREATE TABLE IF NOT EXISTS trust_acl (
	parent_org_id TEXT NOT NULL,
	child_org_id TEXT NOT NULL,
	granted_at TEXT NOT NULL,
	revoked_at TEXT,
	PRIMARY KEY (parent_org_id, child_org_id)
);
`
