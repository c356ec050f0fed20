package trust

import (
	"context"
	"path/filepath"
	"testing"

	trustsqlite "github.com/swarmguard/fluxion/internal/trust/sqlite"
)

func openManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	store, err := trustsqlite.Open(filepath.Join(dir, "trust.db"))
	if err != nil {
		t.Fatalf("open trust store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, nil, nil)
}

func TestCreateAndGetSigningKeyRoundTrip(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()
	masterKey := []byte("super-secret-master-key")

	key, err := m.CreateSigningKey(ctx, "org-a", "primary", masterKey)
	if err != nil {
		t.Fatalf("create signing key: %v", err)
	}
	_, priv, err := m.GetSigningKey(ctx, key.ID, masterKey)
	if err != nil {
		t.Fatalf("get signing key: %v", err)
	}
	if len(priv) == 0 {
		t.Fatalf("expected non-empty private key")
	}
}

func TestGetSigningKeyWrongMasterKeyFailsDecryption(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()
	key, err := m.CreateSigningKey(ctx, "org-a", "primary", []byte("right-key"))
	if err != nil {
		t.Fatalf("create signing key: %v", err)
	}
	_, _, err = m.GetSigningKey(ctx, key.ID, []byte("wrong-key"))
	if e, ok := err.(*Error); !ok || e.Kind() != KindDecryption {
		t.Fatalf("expected KindDecryption, got %v", err)
	}
}

func TestRevokedSigningKeyCannotBeRetrieved(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()
	key, err := m.CreateSigningKey(ctx, "org-a", "primary", []byte("k"))
	if err != nil {
		t.Fatalf("create signing key: %v", err)
	}
	if err := m.RevokeSigningKey(ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, _, err = m.GetSigningKey(ctx, key.ID, []byte("k"))
	if e, ok := err.(*Error); !ok || e.Kind() != KindRevoked {
		t.Fatalf("expected KindRevoked, got %v", err)
	}
}

func TestFindTrustedKeyDirect(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()
	pub, _, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	if _, err := m.TrustPublicKey(ctx, "org-a", pub, "ci-key"); err != nil {
		t.Fatalf("trust public key: %v", err)
	}
	fp := Fingerprint(pub)
	tk, err := m.FindTrustedKey(ctx, "org-a", fp)
	if err != nil {
		t.Fatalf("find trusted key: %v", err)
	}
	if tk.KeyFingerprint != fp {
		t.Fatalf("expected fingerprint %q, got %q", fp, tk.KeyFingerprint)
	}
}

func TestFindTrustedKeyViaSingleHopACL(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()
	pub, _, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	if _, err := m.TrustPublicKey(ctx, "org-child", pub, "child-key"); err != nil {
		t.Fatalf("trust public key: %v", err)
	}
	if err := m.GrantTrust(ctx, "org-parent", "org-child"); err != nil {
		t.Fatalf("grant trust: %v", err)
	}
	fp := Fingerprint(pub)
	tk, err := m.FindTrustedKey(ctx, "org-parent", fp)
	if err != nil {
		t.Fatalf("expected resolution via single-hop ACL, got error: %v", err)
	}
	if tk.OrgID != "org-child" {
		t.Fatalf("expected resolved key to belong to org-child, got %q", tk.OrgID)
	}
}

func TestFindTrustedKeyNonTransitive(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()
	pub, _, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	if _, err := m.TrustPublicKey(ctx, "org-c", pub, "c-key"); err != nil {
		t.Fatalf("trust public key: %v", err)
	}
	// A grants to B, B grants to C: A must not inherit C's trusted keys.
	if err := m.GrantTrust(ctx, "org-b", "org-c"); err != nil {
		t.Fatalf("grant trust b->c: %v", err)
	}
	if err := m.GrantTrust(ctx, "org-a", "org-b"); err != nil {
		t.Fatalf("grant trust a->b: %v", err)
	}
	fp := Fingerprint(pub)
	if _, err := m.FindTrustedKey(ctx, "org-a", fp); err == nil {
		t.Fatalf("expected org-a to NOT inherit org-c's trusted key transitively")
	}
}

func TestRevokedACLStopsResolution(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()
	pub, _, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	if _, err := m.TrustPublicKey(ctx, "org-child", pub, "child-key"); err != nil {
		t.Fatalf("trust public key: %v", err)
	}
	if err := m.GrantTrust(ctx, "org-parent", "org-child"); err != nil {
		t.Fatalf("grant trust: %v", err)
	}
	if err := m.RevokeTrust(ctx, "org-parent", "org-child"); err != nil {
		t.Fatalf("revoke trust: %v", err)
	}
	fp := Fingerprint(pub)
	if _, err := m.FindTrustedKey(ctx, "org-parent", fp); err == nil {
		t.Fatalf("expected resolution to fail after ACL revocation")
	}
}
