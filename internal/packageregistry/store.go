package packageregistry

import (
	"context"
	"io"

	"github.com/swarmguard/fluxion/internal/model"
)

// Store persists WorkflowPackage metadata rows, per §4.7's "insert the
// metadata row" / "look up metadata" / "delete metadata" steps. Archive
// bytes themselves live in a separate blobstore.Store, addressed by the
// registry_id this Store records.
type Store interface {
	io.Closer
	CreatePackage(ctx context.Context, pkg *model.WorkflowPackage) error
	// GetPackage returns KindNotFound if no (name, version) row exists.
	GetPackage(ctx context.Context, name, version string) (*model.WorkflowPackage, error)
	Exists(ctx context.Context, name, version string) (bool, error)
	// DeletePackage is idempotent: deleting an absent row succeeds.
	DeletePackage(ctx context.Context, name, version string) error
	// ListPackages returns every stored package row, for the boot-time
	// reload scheduler.Workflows needs since workflow definitions
	// themselves aren't persisted (§3): the package registry is their
	// durable source of truth across restarts.
	ListPackages(ctx context.Context) ([]*model.WorkflowPackage, error)
}
