package packageregistry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/swarmguard/fluxion/internal/packageregistry/blobstore"
	pkgsqlite "github.com/swarmguard/fluxion/internal/packageregistry/sqlite"
	"github.com/swarmguard/fluxion/internal/registry"
	"github.com/swarmguard/fluxion/internal/trust"
	trustsqlite "github.com/swarmguard/fluxion/internal/trust/sqlite"
	"github.com/swarmguard/fluxion/internal/workflow"
)

func buildTestArchive(t *testing.T, manifest Manifest) []byte {
	t.Helper()
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "manifest.json", Size: int64(len(manifestJSON)), Mode: 0o600, Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("write manifest header: %v", err)
	}
	if _, err := tw.Write(manifestJSON); err != nil {
		t.Fatalf("write manifest body: %v", err)
	}
	libBytes := []byte("not a real shared library, just archive filler")
	if err := tw.WriteHeader(&tar.Header{Name: manifest.Library.Filename, Size: int64(len(libBytes)), Mode: 0o600, Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("write library header: %v", err)
	}
	if _, err := tw.Write(libBytes); err != nil {
		t.Fatalf("write library body: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func sampleManifest(name, version string) Manifest {
	return Manifest{
		Package: ManifestPackage{Name: name, Version: version, Description: "test pkg", ABIVersion: 1, CompatVersion: "1.0.0"},
		Library: ManifestLibrary{Filename: "lib" + name + ".so", Architecture: "amd64"},
		Tasks: []ManifestTask{
			{Index: 0, ID: "step1"},
			{Index: 1, ID: "step2", Dependencies: []string{"step1"}},
		},
		ExecutionOrder: []string{"step1", "step2"},
	}
}

func newTestPackageRegistry(t *testing.T, cfg Config, trustMgr *trust.Manager) *PackageRegistry {
	t.Helper()
	dir := t.TempDir()
	metaStore, err := pkgsqlite.Open(filepath.Join(dir, "packages.db"))
	if err != nil {
		t.Fatalf("open package metadata store: %v", err)
	}
	t.Cleanup(func() { metaStore.Close() })
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs.db"))
	if err != nil {
		t.Fatalf("open blobstore: %v", err)
	}
	t.Cleanup(func() { blobs.Close() })
	return New(metaStore, blobs, registry.New(), trustMgr, cfg, nil)
}

func TestRegisterWorkflowEndToEnd(t *testing.T) {
	manifest := sampleManifest("demo", "1.0.0")
	archive := buildTestArchive(t, manifest)
	RegisterBuilder("demo", func() map[string]workflow.Task {
		return map[string]workflow.Task{
			"step1": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
			"step2": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
		}
	})

	pr := newTestPackageRegistry(t, Config{}, nil)
	ctx := context.Background()
	pkg, err := pr.RegisterWorkflow(ctx, "public", archive, nil)
	if err != nil {
		t.Fatalf("register workflow: %v", err)
	}
	if pkg.Name != "demo" || pkg.Version != "1.0.0" {
		t.Fatalf("unexpected package row: %+v", pkg)
	}

	got, bytes2, err := pr.GetWorkflow(ctx, "demo", "1.0.0")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got.RegistryID != pkg.RegistryID {
		t.Fatalf("registry id mismatch")
	}
	if len(bytes2) != len(archive) {
		t.Fatalf("archive byte length mismatch: got %d want %d", len(bytes2), len(archive))
	}

	if err := pr.Deregister(ctx, "demo", "1.0.0"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if err := pr.Deregister(ctx, "demo", "1.0.0"); err != nil {
		t.Fatalf("deregister should be idempotent, got: %v", err)
	}
	if _, _, err := pr.GetWorkflow(ctx, "demo", "1.0.0"); err == nil {
		t.Fatalf("expected NotFound after deregistration")
	}
}

func TestRegisterWorkflowDuplicateRejected(t *testing.T) {
	manifest := sampleManifest("dup", "1.0.0")
	archive := buildTestArchive(t, manifest)
	RegisterBuilder("dup", func() map[string]workflow.Task {
		return map[string]workflow.Task{
			"step1": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
			"step2": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
		}
	})
	pr := newTestPackageRegistry(t, Config{}, nil)
	ctx := context.Background()
	if _, err := pr.RegisterWorkflow(ctx, "public", archive, nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := pr.RegisterWorkflow(ctx, "public", archive, nil)
	if e, ok := err.(*Error); !ok || e.Kind() != KindPackageExists {
		t.Fatalf("expected PackageExists, got %v", err)
	}
}

func TestRegisterWorkflowManifestDriftRejected(t *testing.T) {
	manifest := sampleManifest("drift", "1.0.0")
	archive := buildTestArchive(t, manifest)
	RegisterBuilder("drift", func() map[string]workflow.Task {
		return map[string]workflow.Task{
			"step1": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
			// step2 intentionally missing: builder disagrees with manifest.
		}
	})
	pr := newTestPackageRegistry(t, Config{}, nil)
	_, err := pr.RegisterWorkflow(context.Background(), "public", archive, nil)
	if e, ok := err.(*Error); !ok || e.Kind() != KindManifestMismatch {
		t.Fatalf("expected ManifestMismatch, got %v", err)
	}
}

func TestStrictModeRejectsUnsigned(t *testing.T) {
	manifest := sampleManifest("strict", "1.0.0")
	archive := buildTestArchive(t, manifest)
	RegisterBuilder("strict", func() map[string]workflow.Task {
		return map[string]workflow.Task{
			"step1": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
			"step2": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
		}
	})
	pr := newTestPackageRegistry(t, Config{StrictMode: true}, nil)
	_, err := pr.RegisterWorkflow(context.Background(), "public", archive, nil)
	if e, ok := err.(*Error); !ok || e.Kind() != KindUnsignedRejected {
		t.Fatalf("expected UnsignedRejected, got %v", err)
	}
}

func TestReloadRebuildsWorkflowsFromStoredPackages(t *testing.T) {
	manifest := sampleManifest("reload-demo", "1.0.0")
	archive := buildTestArchive(t, manifest)
	RegisterBuilder("reload-demo", func() map[string]workflow.Task {
		return map[string]workflow.Task{
			"step1": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
			"step2": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
		}
	})

	dir := t.TempDir()
	metaStore, err := pkgsqlite.Open(filepath.Join(dir, "packages.db"))
	if err != nil {
		t.Fatalf("open package metadata store: %v", err)
	}
	t.Cleanup(func() { metaStore.Close() })
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs.db"))
	if err != nil {
		t.Fatalf("open blobstore: %v", err)
	}
	t.Cleanup(func() { blobs.Close() })

	ctx := context.Background()
	pr := New(metaStore, blobs, registry.New(), nil, Config{}, nil)
	if _, err := pr.RegisterWorkflow(ctx, "acme", archive, nil); err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	// Simulate a restart: fresh task registry, same metadata/blob stores.
	restarted := New(metaStore, blobs, registry.New(), nil, Config{}, nil)
	workflows, err := restarted.Reload(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(workflows) != 1 || workflows[0].Name != "reload-demo" {
		t.Fatalf("expected one reloaded workflow named reload-demo, got %+v", workflows)
	}
	if _, err := restarted.tasks.ResolveTask("reload-demo", "step1"); err != nil {
		t.Fatalf("expected step1 task resolvable after reload: %v", err)
	}
}

func TestSignedPackageFromTrustedOrgAccepted(t *testing.T) {
	dir := t.TempDir()
	trustStore, err := trustsqlite.Open(filepath.Join(dir, "trust.db"))
	if err != nil {
		t.Fatalf("open trust store: %v", err)
	}
	t.Cleanup(func() { trustStore.Close() })
	trustMgr := trust.New(trustStore, nil, nil)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	var pubArr [32]byte
	copy(pubArr[:], pub)
	if _, err := trustMgr.TrustPublicKey(context.Background(), "trusted-org", pubArr, "ci"); err != nil {
		t.Fatalf("trust public key: %v", err)
	}

	manifest := sampleManifest("signed", "1.0.0")
	archive := buildTestArchive(t, manifest)
	RegisterBuilder("signed", func() map[string]workflow.Task {
		return map[string]workflow.Task{
			"step1": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
			"step2": {Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }},
		}
	})
	sig := ed25519.Sign(priv, archive)

	pr := newTestPackageRegistry(t, Config{StrictMode: true}, trustMgr)
	_, err = pr.RegisterWorkflow(context.Background(), "public", archive, &Signature{SignerOrg: "trusted-org", PublicKey: pubArr, Signature: sig})
	if err != nil {
		t.Fatalf("expected signed package from trusted org to be accepted, got: %v", err)
	}
}
