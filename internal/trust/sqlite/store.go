// Package sqlite implements trust.Store on database/sql + mattn/go-sqlite3,
// mirroring internal/storage/sqlite's WAL-mode, idempotent-migrate shape but
// against trust's own, much smaller schema (keys outlive pipelines and have
// no claim/contention story, so no BEGIN IMMEDIATE dance is needed here).
package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/trust"
)

// Store is a SQLite-backed trust.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and applies
// the trust schema migration.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func (s *Store) CreateSigningKey(ctx context.Context, key *model.SigningKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_keys (id, org_id, key_name, encrypted_private_key, public_key, key_fingerprint, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID.String(), key.OrgID, key.KeyName, key.EncryptedPrivateKey, key.PublicKey[:], key.KeyFingerprint,
		formatTime(key.CreatedAt), formatTimePtr(key.RevokedAt))
	return err
}

func scanSigningKey(scan func(dest ...any) error) (*model.SigningKey, error) {
	var (
		id, orgID, keyName, fingerprint string
		encPriv, pub                    []byte
		createdAt                       string
		revokedAt                       sql.NullString
	)
	if err := scan(&id, &orgID, &keyName, &encPriv, &pub, &fingerprint, &createdAt, &revokedAt); err != nil {
		return nil, err
	}
	parsedID, err := model.ParseID(id)
	if err != nil {
		return nil, err
	}
	key := &model.SigningKey{
		ID: parsedID, OrgID: orgID, KeyName: keyName, EncryptedPrivateKey: encPriv,
		KeyFingerprint: fingerprint, CreatedAt: parseTime(createdAt), RevokedAt: parseTimePtr(revokedAt),
	}
	copy(key.PublicKey[:], pub)
	return key, nil
}

func (s *Store) GetSigningKey(ctx context.Context, id model.ID) (*model.SigningKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, key_name, encrypted_private_key, public_key, key_fingerprint, created_at, revoked_at
		FROM signing_keys WHERE id = ?`, id.String())
	key, err := scanSigningKey(row.Scan)
	if err == sql.ErrNoRows {
		return nil, trust.NewNotFoundError("signing key not found: " + id.String())
	}
	return key, err
}

func (s *Store) RevokeSigningKey(ctx context.Context, id model.ID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signing_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(time.Now()), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trust.NewNotFoundError("signing key not found or already revoked: " + id.String())
	}
	return nil
}

func (s *Store) ListSigningKeys(ctx context.Context, orgID string) ([]*model.SigningKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, key_name, encrypted_private_key, public_key, key_fingerprint, created_at, revoked_at
		FROM signing_keys WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.SigningKey
	for rows.Next() {
		key, err := scanSigningKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *Store) CreateTrustedKey(ctx context.Context, tk *model.TrustedKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trusted_keys (id, org_id, key_fingerprint, public_key, key_name, trusted_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tk.ID.String(), tk.OrgID, tk.KeyFingerprint, tk.PublicKey[:], tk.KeyName, formatTime(tk.TrustedAt), formatTimePtr(tk.RevokedAt))
	return err
}

func (s *Store) GetTrustedKey(ctx context.Context, orgID, fingerprint string) (*model.TrustedKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, key_fingerprint, public_key, key_name, trusted_at, revoked_at
		FROM trusted_keys WHERE org_id = ? AND key_fingerprint = ? AND revoked_at IS NULL`, orgID, fingerprint)
	var (
		id, oID, fp, name string
		pub               []byte
		trustedAt         string
		revokedAt         sql.NullString
	)
	if err := row.Scan(&id, &oID, &fp, &pub, &name, &trustedAt, &revokedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, trust.NewNotFoundError("no trusted key for org " + orgID + " fingerprint " + fingerprint)
		}
		return nil, err
	}
	parsedID, err := model.ParseID(id)
	if err != nil {
		return nil, err
	}
	tk := &model.TrustedKey{ID: parsedID, OrgID: oID, KeyFingerprint: fp, KeyName: name, TrustedAt: parseTime(trustedAt), RevokedAt: parseTimePtr(revokedAt)}
	copy(tk.PublicKey[:], pub)
	return tk, nil
}

func (s *Store) RevokeTrustedKey(ctx context.Context, id model.ID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trusted_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(time.Now()), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trust.NewNotFoundError("trusted key not found or already revoked: " + id.String())
	}
	return nil
}

func (s *Store) GrantTrust(ctx context.Context, acl *model.TrustAcl) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_acl (parent_org_id, child_org_id, granted_at, revoked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(parent_org_id, child_org_id) DO UPDATE SET granted_at = excluded.granted_at, revoked_at = NULL`,
		acl.ParentOrgID, acl.ChildOrgID, formatTime(acl.GrantedAt), formatTimePtr(acl.RevokedAt))
	return err
}

func (s *Store) RevokeTrust(ctx context.Context, parentOrgID, childOrgID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trust_acl SET revoked_at = ? WHERE parent_org_id = ? AND child_org_id = ? AND revoked_at IS NULL`,
		formatTime(time.Now()), parentOrgID, childOrgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trust.NewNotFoundError("trust ACL not found or already revoked: " + parentOrgID + " -> " + childOrgID)
	}
	return nil
}

func (s *Store) ListTrustedChildren(ctx context.Context, parentOrgID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT child_org_id FROM trust_acl WHERE parent_org_id = ? AND revoked_at IS NULL`, parentOrgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, rows.Err()
}

var _ trust.Store = (*Store)(nil)
