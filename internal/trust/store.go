package trust

import (
	"context"
	"io"

	"github.com/swarmguard/fluxion/internal/model"
)

// Store persists signing keys, trusted-key records, and the trust ACL
// graph for §4.6. Kept separate from storage.Store because trust data has
// its own lifecycle (keys outlive any pipeline) and its own backend choice
// independent of where pipeline state lives.
type Store interface {
	io.Closer

	CreateSigningKey(ctx context.Context, key *model.SigningKey) error
	GetSigningKey(ctx context.Context, id model.ID) (*model.SigningKey, error)
	RevokeSigningKey(ctx context.Context, id model.ID) error
	ListSigningKeys(ctx context.Context, orgID string) ([]*model.SigningKey, error)

	CreateTrustedKey(ctx context.Context, tk *model.TrustedKey) error
	// GetTrustedKey returns the non-revoked TrustedKey for (orgID,
	// fingerprint), KindNotFound if absent or revoked.
	GetTrustedKey(ctx context.Context, orgID, fingerprint string) (*model.TrustedKey, error)
	RevokeTrustedKey(ctx context.Context, id model.ID) error

	GrantTrust(ctx context.Context, acl *model.TrustAcl) error
	RevokeTrust(ctx context.Context, parentOrgID, childOrgID string) error
	// ListTrustedChildren returns org ids child of parentOrgID via a
	// non-revoked ACL edge, per §4.6's single-hop resolution.
	ListTrustedChildren(ctx context.Context, parentOrgID string) ([]string, error)
}
