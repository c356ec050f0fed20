package packageregistry

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"log/slog"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/registry"
	"github.com/swarmguard/fluxion/internal/trust"
	"github.com/swarmguard/fluxion/internal/workflow"
)

// BlobStore is the §4.7 storage-backend contract: store/retrieve/delete
// archive bytes, addressed by an opaque id. Satisfied by
// packageregistry/blobstore.Store.
type BlobStore interface {
	Store(ctx context.Context, data []byte) (string, error)
	Retrieve(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// Signature carries a detached Ed25519 signature over an archive's raw
// bytes plus the signing org and public key needed to resolve trust. The
// wire archive format (§6) doesn't itself carry a signature envelope, so
// fluxion's register_workflow accepts it alongside the archive bytes,
// the way an artifact registry accepts a companion .sig file.
type Signature struct {
	SignerOrg string
	PublicKey [32]byte
	Signature []byte
}

// Config tunes a PackageRegistry.
type Config struct {
	// StrictMode refuses unsigned or unknown-signer packages, per §4.7
	// step 3's "validator has a strict mode."
	StrictMode bool
}

// PackageRegistry is the §4.7 component.
type PackageRegistry struct {
	metadata Store
	blobs    BlobStore
	tasks    *registry.Registry
	trustMgr *trust.Manager
	cfg      Config
	logger   *slog.Logger
}

// New constructs a PackageRegistry. trustMgr may be nil: a supplied
// signature is still checked against the archive bytes, but the signer is
// never looked up as trusted, so under StrictMode every registration is
// refused.
func New(metadata Store, blobs BlobStore, tasks *registry.Registry, trustMgr *trust.Manager, cfg Config, logger *slog.Logger) *PackageRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PackageRegistry{metadata: metadata, blobs: blobs, tasks: tasks, trustMgr: trustMgr, cfg: cfg, logger: logger.With("component", "packageregistry")}
}

// RegisterWorkflow ingests a signed archive per §4.7's register_workflow:
// detect, extract, validate, existence-check, persist bytes, persist
// metadata, register tasks. sig may be nil for an unsigned package (refused
// outright under StrictMode).
func (r *PackageRegistry) RegisterWorkflow(ctx context.Context, tenant string, archive []byte, sig *Signature) (*model.WorkflowPackage, error) {
	extracted, err := extractArchive(archive)
	if err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(extracted.manifestJSON)
	if err != nil {
		return nil, err
	}
	if manifest.Library.Filename != "" && manifest.Library.Filename != extracted.libraryFilename {
		return nil, errManifestMismatch("manifest library.filename " + manifest.Library.Filename + " does not match archive entry " + extracted.libraryFilename)
	}
	if err := CheckCompatVersion(manifest); err != nil {
		return nil, err
	}
	if err := r.verifySignature(ctx, archive, sig); err != nil {
		return nil, err
	}

	builder, ok := lookupBuilder(manifest.Package.Name)
	if !ok {
		return nil, errLibraryInvalid("no task builder registered for package " + manifest.Package.Name + " (required entry point not exported)")
	}
	built := builder()
	if err := checkManifestDrift(manifest, built); err != nil {
		return nil, err
	}

	exists, err := r.metadata.Exists(ctx, manifest.Package.Name, manifest.Package.Version)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errPackageExists(manifest.Package.Name, manifest.Package.Version)
	}

	registryID, err := r.blobs.Store(ctx, archive)
	if err != nil {
		return nil, err
	}

	metaJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, err
	}
	pkg := &model.WorkflowPackage{
		ID: model.NewID(), RegistryID: registryID, Tenant: tenant, Name: manifest.Package.Name, Version: manifest.Package.Version,
		Description: manifest.Package.Description, Metadata: string(metaJSON), StorageType: "blobstore",
		CreatedAt: model.Now(), UpdatedAt: model.Now(),
	}
	if sig != nil {
		pkg.Author = sig.SignerOrg
	}
	if err := r.metadata.CreatePackage(ctx, pkg); err != nil {
		_ = r.blobs.Delete(ctx, registryID)
		return nil, err
	}

	wf, err := buildWorkflow(manifest, built)
	if err != nil {
		_ = r.metadata.DeletePackage(ctx, manifest.Package.Name, manifest.Package.Version)
		_ = r.blobs.Delete(ctx, registryID)
		return nil, err
	}
	if err := r.tasks.RegisterWorkflow(tenant, manifest.Package.Name, pkg.ID.String(), wf); err != nil {
		_ = r.metadata.DeletePackage(ctx, manifest.Package.Name, manifest.Package.Version)
		_ = r.blobs.Delete(ctx, registryID)
		return nil, err
	}
	r.logger.Info("package registered", "name", pkg.Name, "version", pkg.Version, "registry_id", registryID)
	return pkg, nil
}

// GetWorkflow retrieves a package's metadata and archive bytes, per §4.7's
// get_workflow.
func (r *PackageRegistry) GetWorkflow(ctx context.Context, name, version string) (*model.WorkflowPackage, []byte, error) {
	pkg, err := r.metadata.GetPackage(ctx, name, version)
	if err != nil {
		return nil, nil, err
	}
	data, err := r.blobs.Retrieve(ctx, pkg.RegistryID)
	if err != nil {
		return nil, nil, err
	}
	if data == nil {
		return nil, nil, errBinaryMissing("package " + name + "@" + version + " has metadata but no stored archive")
	}
	return pkg, data, nil
}

// Deregister reverses registration: unregister namespaces, delete
// metadata, delete archive bytes. Idempotent (§4.7: "missing packages
// succeed silently").
func (r *PackageRegistry) Deregister(ctx context.Context, name, version string) error {
	pkg, err := r.metadata.GetPackage(ctx, name, version)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind() == KindNotFound {
			return nil
		}
		return err
	}
	r.tasks.BulkUnregister(pkg.ID.String())
	if err := r.metadata.DeletePackage(ctx, name, version); err != nil {
		return err
	}
	return r.blobs.Delete(ctx, pkg.RegistryID)
}

// Reload rebuilds every stored package's workflow definition and
// re-registers its tasks, for use at process startup: workflow
// definitions themselves are never persisted (§3), so the in-memory
// scheduler.Workflows cache and the task registry both start empty and
// must be repopulated from the package registry's durable metadata.
// Packages whose builder isn't compiled into this binary are skipped
// with a warning rather than failing the whole reload.
func (r *PackageRegistry) Reload(ctx context.Context) ([]*workflow.Workflow, error) {
	pkgs, err := r.metadata.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	var out []*workflow.Workflow
	for _, pkg := range pkgs {
		var manifest Manifest
		if err := json.Unmarshal([]byte(pkg.Metadata), &manifest); err != nil {
			r.logger.Warn("skipping package with unreadable manifest", "name", pkg.Name, "version", pkg.Version, "error", err)
			continue
		}
		builder, ok := lookupBuilder(manifest.Package.Name)
		if !ok {
			r.logger.Warn("skipping package with no registered builder", "name", pkg.Name, "version", pkg.Version)
			continue
		}
		wf, err := buildWorkflow(&manifest, builder())
		if err != nil {
			r.logger.Warn("skipping package that failed to rebuild", "name", pkg.Name, "version", pkg.Version, "error", err)
			continue
		}
		if err := r.tasks.RegisterWorkflow(pkg.Tenant, pkg.Name, pkg.ID.String(), wf); err != nil {
			r.logger.Warn("skipping package that failed task registration", "name", pkg.Name, "version", pkg.Version, "error", err)
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

func (r *PackageRegistry) verifySignature(ctx context.Context, archive []byte, sig *Signature) error {
	if sig == nil || len(sig.Signature) == 0 {
		if r.cfg.StrictMode {
			return errUnsignedRejected("strict mode refuses unsigned packages")
		}
		return nil
	}
	if !ed25519.Verify(sig.PublicKey[:], archive, sig.Signature) {
		return errUnsignedRejected("signature does not verify against archive bytes")
	}
	if r.trustMgr == nil {
		if r.cfg.StrictMode {
			return errUnsignedRejected("strict mode refuses packages from unknown signers (no trust manager configured)")
		}
		return nil
	}
	fp := trust.Fingerprint(sig.PublicKey)
	if _, err := r.trustMgr.FindTrustedKey(ctx, sig.SignerOrg, fp); err != nil {
		if r.cfg.StrictMode {
			return errUnsignedRejected("strict mode refuses packages from unknown signers: " + err.Error())
		}
	}
	return nil
}

// checkManifestDrift rejects a package whose manifest task-id set disagrees
// with what its builder actually registers, per the Design Note's
// manifest-to-registered-task drift check.
func checkManifestDrift(m *Manifest, built map[string]workflow.Task) error {
	declared := m.taskIDSet()
	if len(declared) != len(built) {
		return errManifestMismatch("manifest declares a different task count than the registered library provides")
	}
	for id := range declared {
		if _, ok := built[id]; !ok {
			return errManifestMismatch("manifest task " + id + " is not provided by the registered library")
		}
	}
	return nil
}

func buildWorkflow(m *Manifest, built map[string]workflow.Task) (*workflow.Workflow, error) {
	wf := workflow.New(m.Package.Name, m.Package.Description, nil)
	for _, mt := range m.Tasks {
		task, ok := built[mt.ID]
		if !ok {
			return nil, errManifestMismatch("manifest task " + mt.ID + " has no registered implementation")
		}
		task.ID = mt.ID
		task.Dependencies = mt.Dependencies
		if err := wf.AddTask(task); err != nil {
			return nil, err
		}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}
