// Package trust implements §4.6: signing-key lifecycle, trust ACLs, and
// single-hop trust resolution. Grounded on the example pack's AES-256-GCM
// envelope pattern (evalgo-org-eve/security) for the key-encryption-at-rest
// half, and on the teacher's audit-log discipline (every state mutation in
// the teacher's services appends an event) for trust's own audit trail,
// which reuses the scheduler's ExecutionEvent sink rather than inventing a
// parallel one.
package trust

import (
	"context"
	"log/slog"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

// Manager is the §4.6 component: key lifecycle, trust grants, and
// resolution, backed by a Store for persistence and an audit sink for the
// mutation log.
type Manager struct {
	store  Store
	audit  storage.Store
	logger *slog.Logger
}

// New constructs a Manager. audit may be the same storage.Store the
// scheduler and executor use; trust events land in the same
// execution_events table, distinguished by their event_type.
func New(store Store, audit storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, audit: audit, logger: logger.With("component", "trust")}
}

// CreateSigningKey generates an Ed25519 keypair for org, encrypts the
// private key under masterKey, and persists it, per §4.6.
func (m *Manager) CreateSigningKey(ctx context.Context, org, name string, masterKey []byte) (*model.SigningKey, error) {
	pub, priv, err := GenerateEd25519KeyPair()
	if err != nil {
		return nil, err
	}
	fp := Fingerprint(pub)
	sealed, err := EncryptPrivateKey(priv, masterKey, fp)
	if err != nil {
		return nil, err
	}
	key := &model.SigningKey{
		ID: model.NewID(), OrgID: org, KeyName: name,
		EncryptedPrivateKey: sealed, PublicKey: pub, KeyFingerprint: fp,
		CreatedAt: model.Now(),
	}
	if err := m.store.CreateSigningKey(ctx, key); err != nil {
		return nil, err
	}
	m.emitAudit(ctx, model.EventKeyCreated, map[string]any{"org_id": org, "key_id": key.ID.String(), "fingerprint": fp})
	return key, nil
}

// GetSigningKey decrypts and returns the private key material for id under
// masterKey. Revoked keys are refused per §4.6 ("revoked keys cannot be
// retrieved for use").
func (m *Manager) GetSigningKey(ctx context.Context, id model.ID, masterKey []byte) (*model.SigningKey, []byte, error) {
	key, err := m.store.GetSigningKey(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if key.RevokedAt != nil {
		return nil, nil, errRevoked("signing key revoked: " + id.String())
	}
	priv, err := DecryptPrivateKey(key.EncryptedPrivateKey, masterKey, key.KeyFingerprint)
	if err != nil {
		return nil, nil, err
	}
	m.emitAudit(ctx, model.EventKeyExported, map[string]any{"org_id": key.OrgID, "key_id": key.ID.String()})
	return key, priv, nil
}

// RevokeSigningKey soft-revokes a signing key.
func (m *Manager) RevokeSigningKey(ctx context.Context, id model.ID) error {
	if err := m.store.RevokeSigningKey(ctx, id); err != nil {
		return err
	}
	m.emitAudit(ctx, model.EventKeyRevoked, map[string]any{"key_id": id.String()})
	return nil
}

// TrustPublicKey records that org trusts publicKey, per §4.6.
func (m *Manager) TrustPublicKey(ctx context.Context, org string, publicKey [32]byte, name string) (*model.TrustedKey, error) {
	fp := Fingerprint(publicKey)
	tk := &model.TrustedKey{
		ID: model.NewID(), OrgID: org, KeyFingerprint: fp, PublicKey: publicKey,
		KeyName: name, TrustedAt: model.Now(),
	}
	if err := m.store.CreateTrustedKey(ctx, tk); err != nil {
		return nil, err
	}
	m.emitAudit(ctx, model.EventTrustedKeyAdded, map[string]any{"org_id": org, "fingerprint": fp})
	return tk, nil
}

// RevokeTrustedKey soft-revokes a trusted-key record.
func (m *Manager) RevokeTrustedKey(ctx context.Context, id model.ID) error {
	if err := m.store.RevokeTrustedKey(ctx, id); err != nil {
		return err
	}
	m.emitAudit(ctx, model.EventTrustedKeyRevoked, map[string]any{"trusted_key_id": id.String()})
	return nil
}

// GrantTrust declares that parentOrg inherits childOrg's trusted keys
// (one hop only), per §4.6.
func (m *Manager) GrantTrust(ctx context.Context, parentOrg, childOrg string) error {
	if parentOrg == childOrg {
		return errInvalidArgument("an org cannot grant trust to itself")
	}
	acl := &model.TrustAcl{ParentOrgID: parentOrg, ChildOrgID: childOrg, GrantedAt: model.Now()}
	if err := m.store.GrantTrust(ctx, acl); err != nil {
		return err
	}
	m.emitAudit(ctx, model.EventTrustGranted, map[string]any{"parent_org_id": parentOrg, "child_org_id": childOrg})
	return nil
}

// RevokeTrust soft-revokes a trust ACL edge.
func (m *Manager) RevokeTrust(ctx context.Context, parentOrg, childOrg string) error {
	if err := m.store.RevokeTrust(ctx, parentOrg, childOrg); err != nil {
		return err
	}
	m.emitAudit(ctx, model.EventTrustRevoked, map[string]any{"parent_org_id": parentOrg, "child_org_id": childOrg})
	return nil
}

// FindTrustedKey resolves (org, fingerprint) per §4.6's find_trusted_key:
//  1. org's own non-revoked TrustedKey with that fingerprint, if any.
//  2. otherwise each non-revoked ACL child of org, checked one level deep.
//  3. otherwise not found.
//
// Trust is explicitly non-transitive: a child's own ACL children are never
// consulted, matching §4.6's "A does not inherit C's trusted keys."
func (m *Manager) FindTrustedKey(ctx context.Context, org, fingerprint string) (*model.TrustedKey, error) {
	if tk, err := m.store.GetTrustedKey(ctx, org, fingerprint); err == nil {
		return tk, nil
	}
	children, err := m.store.ListTrustedChildren(ctx, org)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if tk, err := m.store.GetTrustedKey(ctx, child, fingerprint); err == nil {
			return tk, nil
		}
	}
	return nil, errNotFound("no trusted key resolves for org " + org + " fingerprint " + fingerprint)
}

func (m *Manager) emitAudit(ctx context.Context, eventType string, data map[string]any) {
	if m.audit == nil {
		return
	}
	ev := &model.ExecutionEvent{ID: model.NewID(), EventType: eventType, EventData: data, CreatedAt: model.Now()}
	if err := m.audit.AppendEvent(ctx, ev); err != nil {
		m.logger.Warn("failed to append trust audit event", "event_type", eventType, "error", err)
	}
}
