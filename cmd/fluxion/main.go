// Command fluxion runs the scheduler, executor, trust manager, and package
// registry as one process, fronted by a small HTTP API, grounded on the
// teacher's services/orchestrator/main.go (signal-driven lifecycle, mux
// handlers, OTLP tracing/metrics init, graceful shutdown) but generalized
// from orchestrator's single in-process DAG runner to the durable,
// claim-based scheduler+executor split described by SPEC_FULL.md.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/swarmguard/fluxion/internal/executor"
	"github.com/swarmguard/fluxion/internal/logging"
	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/notify"
	"github.com/swarmguard/fluxion/internal/otelinit"
	"github.com/swarmguard/fluxion/internal/packageregistry"
	"github.com/swarmguard/fluxion/internal/packageregistry/blobstore"
	pkgsqlite "github.com/swarmguard/fluxion/internal/packageregistry/sqlite"
	"github.com/swarmguard/fluxion/internal/registry"
	"github.com/swarmguard/fluxion/internal/scheduler"
	"github.com/swarmguard/fluxion/internal/storage"
	"github.com/swarmguard/fluxion/internal/storage/postgres"
	"github.com/swarmguard/fluxion/internal/storage/sqlite"
	"github.com/swarmguard/fluxion/internal/trust"
	trustsqlite "github.com/swarmguard/fluxion/internal/trust/sqlite"
)

func main() {
	const service = "fluxion"
	logging.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, service)
	meter := otel.GetMeterProvider().Meter(service)
	tracer := otel.Tracer(service)

	store, closeStore := openStore(ctx)
	defer closeStore()

	workflows := scheduler.NewWorkflows()
	taskRegistry := registry.New()

	trustMgr := openTrustManager(store)
	pkgRegistry := openPackageRegistry(taskRegistry, trustMgr)

	if reloaded, err := pkgRegistry.Reload(ctx); err != nil {
		slog.Error("package registry reload failed", "error", err)
	} else {
		for _, wf := range reloaded {
			workflows.Put(wf)
		}
		slog.Info("reloaded workflow definitions from package registry", "count", len(reloaded))
	}

	sched := scheduler.New(store, workflows, scheduler.Config{
		PollInterval:        envDuration("FLUXION_SCHEDULER_POLL_INTERVAL", 100*time.Millisecond),
		LivenessBound:       envDuration("FLUXION_TASK_LIVENESS_BOUND", 5*time.Minute),
		MaxRecoveryAttempts: envInt("FLUXION_MAX_RECOVERY_ATTEMPTS", 3),
	}, slog.Default(), meter)

	exec := executor.New(store, taskRegistry, workflows, executor.Config{
		MaxConcurrentTasks: envInt("FLUXION_MAX_CONCURRENT_TASKS", 8),
		TaskTimeout:        envDuration("FLUXION_TASK_TIMEOUT", 30*time.Second),
		PollInterval:       envDuration("FLUXION_EXECUTOR_POLL_INTERVAL", 100*time.Millisecond),
		WorkerID:           os.Getenv("FLUXION_WORKER_ID"),
	}, slog.Default(), meter, tracer)

	var wg waitGroup
	wg.Go(func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("scheduler loop exited", "error", err)
		}
	})
	wg.Go(func() {
		if err := exec.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("executor loop exited", "error", err)
		}
	})

	if nc := openNATS(); nc != nil {
		defer nc.Close()
		wg.Go(func() { watchWorkflowRegistryChanges(ctx, nc, pkgRegistry, workflows) })
	}

	api := &apiServer{sched: sched, pkgRegistry: pkgRegistry, workflows: workflows, logger: slog.Default().With("component", "api")}
	srv := &http.Server{Addr: envString("FLUXION_HTTP_ADDR", ":8080"), Handler: api.routes()}
	wg.Go(func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	})

	slog.Info("fluxion started", "addr", srv.Addr)
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("shutdown complete")
}

// openStore selects the storage backend from FLUXION_STORAGE_BACKEND,
// defaulting to the embedded sqlite backend for single-node/dev use;
// "postgres" is the durable, multi-replica-safe choice for production,
// per §4.1.
func openStore(ctx context.Context) (storage.Store, func()) {
	switch strings.ToLower(envString("FLUXION_STORAGE_BACKEND", "sqlite")) {
	case "postgres":
		dsn := os.Getenv("FLUXION_POSTGRES_DSN")
		if dsn == "" {
			slog.Error("FLUXION_POSTGRES_DSN is required when FLUXION_STORAGE_BACKEND=postgres")
			os.Exit(1)
		}
		st, err := postgres.Open(ctx, dsn)
		if err != nil {
			slog.Error("open postgres store", "error", err)
			os.Exit(1)
		}
		return st, func() { _ = st.Close() }
	default:
		path := envString("FLUXION_SQLITE_PATH", "fluxion.db")
		st, err := sqlite.Open(path)
		if err != nil {
			slog.Error("open sqlite store", "error", err, "path", path)
			os.Exit(1)
		}
		return st, func() { _ = st.Close() }
	}
}

// openTrustManager wires the trust subsystem (§4.6) over its own sqlite
// store, sharing the main store as its audit-event sink. Signing-key
// creation and decryption each take their master key as a call parameter
// rather than storing one on the Manager, so key custody is entirely the
// caller's responsibility; this process only resolves trust ACLs for
// package-registry signature verification, which needs no master key.
func openTrustManager(audit storage.Store) *trust.Manager {
	path := envString("FLUXION_TRUST_SQLITE_PATH", "fluxion-trust.db")
	trustStore, err := trustsqlite.Open(path)
	if err != nil {
		slog.Error("open trust store", "error", err, "path", path)
		os.Exit(1)
	}
	return trust.New(trustStore, audit, slog.Default())
}

func openPackageRegistry(tasks *registry.Registry, trustMgr *trust.Manager) *packageregistry.PackageRegistry {
	metaPath := envString("FLUXION_PACKAGE_SQLITE_PATH", "fluxion-packages.db")
	metaStore, err := pkgsqlite.Open(metaPath)
	if err != nil {
		slog.Error("open package metadata store", "error", err, "path", metaPath)
		os.Exit(1)
	}
	blobPath := envString("FLUXION_BLOBSTORE_PATH", "fluxion-blobs.db")
	blobs, err := blobstore.Open(blobPath)
	if err != nil {
		slog.Error("open blob store", "error", err, "path", blobPath)
		os.Exit(1)
	}
	cfg := packageregistry.Config{StrictMode: envBool("FLUXION_STRICT_MODE", false)}
	return packageregistry.New(metaStore, blobs, tasks, trustMgr, cfg, slog.Default())
}

// openNATS connects to FLUXION_NATS_URL if set, for cross-replica
// workflow-registry change notifications; returns nil (disabled) if unset
// or unreachable, since NATS is an optional convenience, not a dependency
// the core contract requires (§4.1 storage backends already provide their
// own push path for scheduler/executor wakeups).
func openNATS() *nats.Conn {
	url := os.Getenv("FLUXION_NATS_URL")
	if url == "" {
		return nil
	}
	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("nats connect failed, continuing without cross-replica workflow refresh", "error", err)
		return nil
	}
	return nc
}

func watchWorkflowRegistryChanges(ctx context.Context, nc *nats.Conn, pkgRegistry *packageregistry.PackageRegistry, workflows *scheduler.Workflows) {
	n, err := notify.NewNATSNotifier(nc, notify.WorkflowRegistrySubject, slog.Default())
	if err != nil {
		slog.Warn("subscribe to workflow registry changes failed", "error", err)
		return
	}
	ch, _ := n.Notify(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			reloaded, err := pkgRegistry.Reload(ctx)
			if err != nil {
				slog.Error("workflow reload after registry-change notification failed", "error", err)
				continue
			}
			for _, wf := range reloaded {
				workflows.Put(wf)
			}
		}
	}
}

// apiServer exposes the minimal HTTP surface over the scheduler and
// package registry: schedule/status/cancel a pipeline, and
// register/deregister a signed workflow package.
type apiServer struct {
	sched       *scheduler.Scheduler
	pkgRegistry *packageregistry.PackageRegistry
	workflows   *scheduler.Workflows
	logger      *slog.Logger
}

func (a *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /v1/pipelines", a.handleSchedule)
	mux.HandleFunc("GET /v1/pipelines/{id}", a.handleStatus)
	mux.HandleFunc("POST /v1/pipelines/{id}/cancel", a.handleCancel)
	mux.HandleFunc("POST /v1/packages/{tenant}", a.handleRegisterPackage)
	mux.HandleFunc("DELETE /v1/packages/{name}/{version}", a.handleDeregisterPackage)
	return mux
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type scheduleRequest struct {
	Workflow string         `json:"workflow"`
	Context  map[string]any `json:"context"`
}

func (a *apiServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	pipelineID, err := a.sched.ScheduleWorkflow(r.Context(), req.Workflow, req.Context)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pipeline_execution_id": pipelineID.String()})
}

func (a *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseID(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	status, err := a.sched.Status(r.Context(), id)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseID(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sched.Cancel(r.Context(), id); err != nil {
		writeModelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegisterPackage accepts the raw archive bytes as the request body.
// An optional detached signature is carried in headers, mirroring how an
// artifact registry accepts a companion .sig file alongside the payload:
// X-Signer-Org, X-Public-Key (hex, 32 bytes), X-Signature (hex, 64 bytes).
func (a *apiServer) handleRegisterPackage(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	archive, err := io.ReadAll(io.LimitReader(r.Body, 256<<20))
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := signatureFromHeaders(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	pkg, err := a.pkgRegistry.RegisterWorkflow(r.Context(), tenant, archive, sig)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (a *apiServer) handleDeregisterPackage(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	if err := a.pkgRegistry.Deregister(r.Context(), name, version); err != nil {
		writeModelError(w, err)
		return
	}
	a.workflows.Remove(name)
	w.WriteHeader(http.StatusNoContent)
}

func signatureFromHeaders(r *http.Request) (*packageregistry.Signature, error) {
	pubHex := r.Header.Get("X-Public-Key")
	sigHex := r.Header.Get("X-Signature")
	if pubHex == "" && sigHex == "" {
		return nil, nil
	}
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil || len(pubBytes) != 32 {
		return nil, errors.New("X-Public-Key must be 32 bytes of hex")
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, errors.New("X-Signature must be hex-encoded")
	}
	var pub [32]byte
	copy(pub[:], pubBytes)
	return &packageregistry.Signature{SignerOrg: r.Header.Get("X-Signer-Org"), PublicKey: pub, Signature: sigBytes}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeModelError maps a subsystem's model.Error.Kind() to an HTTP status,
// since the scheduler, storage, trust, and packageregistry packages each
// define their own Kind constants rather than sharing an enum (Design Note
// "Error taxonomy leakage").
func writeModelError(w http.ResponseWriter, err error) {
	var merr model.Error
	if !model.As(err, &merr) {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	switch merr.Kind() {
	case storage.KindNotFound:
		httpError(w, http.StatusNotFound, err)
	case storage.KindAlreadyExists, packageregistry.KindPackageExists:
		httpError(w, http.StatusConflict, err)
	case scheduler.KindUnknownWorkflow, packageregistry.KindInvalidArchive, packageregistry.KindManifestMismatch, packageregistry.KindLibraryInvalid, packageregistry.KindVersionIncompatible:
		httpError(w, http.StatusBadRequest, err)
	case packageregistry.KindUnsignedRejected:
		httpError(w, http.StatusForbidden, err)
	default:
		httpError(w, http.StatusInternalServerError, err)
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

// waitGroup is a tiny sync.WaitGroup wrapper so main's goroutine fan-out
// above reads as a flat list of `wg.Go(func() {...})` calls.
type waitGroup struct{ inner sync.WaitGroup }

func (w *waitGroup) Go(fn func()) {
	w.inner.Add(1)
	go func() {
		defer w.inner.Done()
		fn()
	}()
}

func (w *waitGroup) Wait() { w.inner.Wait() }
