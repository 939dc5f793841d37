// Package pubsub abstracts the publish/subscribe bus that connects the hub
// to its fleet of nodes. spec.md treats the broker itself as an external,
// commodity, at-least-once delivery system; this package defines the
// client surface both the hub and node runtimes program against, so a
// production deployment can swap the in-memory/websocket implementations
// here for a real broker adapter without touching either side.
package pubsub

import "context"

// Message is a single pub/sub delivery.
type Message struct {
	Topic   string
	Payload []byte
	QoS     int
	Retain  bool
}

// Handler processes one inbound message. Handlers for a given Client are
// invoked sequentially, in delivery order, from a single dispatch
// goroutine — callers must not block for long inside a Handler.
type Handler func(Message)

// PublishOption configures a single Publish call.
type PublishOption func(*publishOpts)

type publishOpts struct {
	qos    int
	retain bool
}

// WithQoS sets the QoS level for a publish.
func WithQoS(qos int) PublishOption {
	return func(o *publishOpts) { o.qos = qos }
}

// WithRetain marks a publish as retained: a broker supporting retain
// semantics delivers the last retained message on that topic to any new
// subscriber, immediately upon subscription.
func WithRetain() PublishOption {
	return func(o *publishOpts) { o.retain = true }
}

func resolveOpts(opts []PublishOption) publishOpts {
	var o publishOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ResolveOptions applies opts and returns the resulting (qos, retain) pair.
// It exists so Client implementations living outside this package (e.g. a
// websocket-transported broker client) can inspect PublishOptions without
// reaching into unexported state.
func ResolveOptions(opts []PublishOption) (qos int, retain bool) {
	o := resolveOpts(opts)
	return o.qos, o.retain
}

// Client is the pub/sub surface the hub and node runtimes depend on.
type Client interface {
	// Connect establishes the underlying transport and starts delivering
	// inbound messages to handlers. The in-memory bus has no transport;
	// its Connect starts the client's dispatch goroutine, and no handler
	// runs until it has been called.
	Connect(ctx context.Context) error

	// Publish sends payload on topic. Filter-style publish targets (e.g.
	// the trailing "+" in a subscription) are never valid publish topics.
	Publish(topic string, payload []byte, opts ...PublishOption) error

	// Subscribe registers handler for every topic matching filter.
	// Filters support a single trailing "+" wildcard segment
	// ("ECHOTRACE/health/+") or an exact topic. If a retained message
	// exists for a filter that resolves to an exact topic, it is queued
	// for delivery to handler on the client's dispatch goroutine; the
	// handler may run after Subscribe returns.
	Subscribe(filter string, handler Handler) error

	// Close disconnects the client and releases its resources. Close
	// does not drain in-flight handler invocations beyond best effort.
	Close() error
}
