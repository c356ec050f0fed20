package notify

import (
	"context"
	"log/slog"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// OutboxSubject is the subject PublishOutboxReady publishes to. No code
// in fluxion calls PublishOutboxReady or subscribes to this subject; the
// scheduler and executor loops wake through storage.Store.Notify instead.
const OutboxSubject = "fluxion.outbox.ready"

// WorkflowRegistrySubject is the subject cmd/fluxion subscribes to so that
// a scheduler replica can refresh its in-memory scheduler.Workflows cache
// without a restart. PublishWorkflowsChanged publishes to it; no code path
// in fluxion (including the package registry) calls that function, so a
// refresh happens only when some other publisher sends on this subject.
const WorkflowRegistrySubject = "fluxion.workflows.changed"

var propagator = propagation.TraceContext{}

// PublishOutboxReady injects trace context into the message headers and
// publishes an empty-bodied notification, adapted from the teacher's
// natsctx.Publish. Nothing in fluxion calls it, including the storage
// backends' outbox inserts; the subject has no payload contract beyond
// "something may be ready," matching the outbox's own "hint, never a
// source of truth" role.
func PublishOutboxReady(ctx context.Context, nc *nats.Conn) error {
	return publish(ctx, nc, OutboxSubject)
}

// PublishWorkflowsChanged signals WorkflowRegistrySubject after a package
// registry mutation (register or deregister) commits.
func PublishWorkflowsChanged(ctx context.Context, nc *nats.Conn) error {
	return publish(ctx, nc, WorkflowRegistrySubject)
}

func publish(ctx context.Context, nc *nats.Conn, subject string) error {
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return nc.PublishMsg(&nats.Msg{Subject: subject, Header: hdr})
}

// NATSNotifier subscribes to one subject and forwards each delivery as a
// non-blocking signal on a buffered channel, adapted from the teacher's
// natsctx.Subscribe trace-propagating consumer.
type NATSNotifier struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	ch     chan struct{}
	logger *slog.Logger
}

// NewNATSNotifier subscribes nc to subject, forwarding each delivery as a
// wakeup signal. cmd/fluxion passes WorkflowRegistrySubject for a
// workflow-definition cache refresh; nothing subscribes with OutboxSubject.
func NewNATSNotifier(nc *nats.Conn, subject string, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &NATSNotifier{nc: nc, ch: make(chan struct{}, 1), logger: logger.With("component", "nats_notifier", "subject", subject)}
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		spanCtx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("fluxion")
		_, span := tr.Start(spanCtx, "notify.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		select {
		case n.ch <- struct{}{}:
		default: // a pending wakeup already covers this one
		}
	})
	if err != nil {
		return nil, err
	}
	n.sub = sub
	return n, nil
}

// Notify returns the forwarding channel; ctx cancellation unsubscribes in a
// background goroutine. The channel itself is never closed.
func (n *NATSNotifier) Notify(ctx context.Context) (<-chan struct{}, error) {
	go func() {
		<-ctx.Done()
		_ = n.Close()
	}()
	return n.ch, nil
}

func (n *NATSNotifier) Close() error {
	if n.sub != nil {
		if err := n.sub.Unsubscribe(); err != nil {
			n.logger.Warn("unsubscribe failed", "error", err)
		}
	}
	return nil
}
