package pubsub

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("pubsub: client closed")

// Broker is an in-process, topic-routed message bus. It is the reference
// implementation used for tests and for single-process demos; the register/
// unregister/sequential-dispatch shape is the same one used by the
// teacher's channel-select connection hub, generalized from "one PTY's
// listeners" to "topic-routed subscribers with retained replay."
type Broker struct {
	mu       sync.Mutex
	subs     map[string]map[string]subscription // filter -> subscriber id -> subscription
	retained map[string]Message                 // topic -> last retained message
}

type subscription struct {
	client  *MemoryClient
	handler Handler
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[string]map[string]subscription),
		retained: make(map[string]Message),
	}
}

// NewClient returns a new Client attached to this broker.
func (b *Broker) NewClient() *MemoryClient {
	return &MemoryClient{
		id:     uuid.NewString(),
		broker: b,
		inbox:  make(chan Message, 256),
		done:   make(chan struct{}),
	}
}

func (b *Broker) subscribe(filter string, sub subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[filter]
	if !ok {
		set = make(map[string]subscription)
		b.subs[filter] = set
	}
	set[sub.client.id] = sub

	if topic, ok := literalTopic(filter); ok {
		if msg, retained := b.retained[topic]; retained {
			select {
			case sub.client.inbox <- msg:
			default:
			}
		}
	}
}

func (b *Broker) unsubscribeAll(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for filter, set := range b.subs {
		delete(set, clientID)
		if len(set) == 0 {
			delete(b.subs, filter)
		}
	}
}

func (b *Broker) publish(msg Message) {
	b.mu.Lock()
	if msg.Retain {
		b.retained[msg.Topic] = msg
	}
	seen := make(map[string]*MemoryClient)
	for filter, set := range b.subs {
		if !topicMatches(filter, msg.Topic) {
			continue
		}
		for id, sub := range set {
			seen[id] = sub.client
		}
	}
	b.mu.Unlock()

	for _, client := range seen {
		select {
		case client.inbox <- msg:
		default:
			// Slow subscriber: drop rather than block the publisher,
			// consistent with at-least-once-but-not-guaranteed delivery.
		}
	}
}

// literalTopic reports whether filter names an exact topic (no wildcard)
// and returns it.
func literalTopic(filter string) (string, bool) {
	if strings.HasSuffix(filter, "/+") || filter == "+" {
		return "", false
	}
	return filter, true
}

// topicMatches implements single-level "+" wildcard matching, e.g. filter
// "ECHOTRACE/health/+" matches topic "ECHOTRACE/health/object1" but not
// "ECHOTRACE/health/object1/extra".
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.HasSuffix(filter, "/+") {
		return false
	}
	prefix := strings.TrimSuffix(filter, "+")
	if !strings.HasPrefix(topic, prefix) {
		return false
	}
	rest := strings.TrimPrefix(topic, prefix)
	return rest != "" && !strings.Contains(rest, "/")
}

// MemoryClient is a pubsub.Client backed by a Broker.
type MemoryClient struct {
	id     string
	broker *Broker

	inbox chan Message
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ Client = (*MemoryClient)(nil)

// Connect starts the client's sequential dispatch loop.
func (c *MemoryClient) Connect(ctx context.Context) error {
	go c.dispatchLoop()
	return nil
}

func (c *MemoryClient) dispatchLoop() {
	for {
		select {
		case msg := <-c.inbox:
			// Handlers are looked up per-message via the broker-held
			// subscription table, not cached here, so late Subscribe
			// calls take effect immediately. We re-deliver by iterating
			// over the broker's current filters matching this message's
			// topic but constrained to this client id.
			c.broker.dispatchTo(c, msg)
		case <-c.done:
			return
		}
	}
}

func (b *Broker) dispatchTo(c *MemoryClient, msg Message) {
	b.mu.Lock()
	var handlers []Handler
	for filter, set := range b.subs {
		if !topicMatches(filter, msg.Topic) {
			continue
		}
		if sub, ok := set[c.id]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Publish sends payload on topic through the shared broker.
func (c *MemoryClient) Publish(topic string, payload []byte, opts ...PublishOption) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	o := resolveOpts(opts)
	c.broker.publish(Message{Topic: topic, Payload: payload, QoS: o.qos, Retain: o.retain})
	return nil
}

// Subscribe registers handler for filter.
func (c *MemoryClient) Subscribe(filter string, handler Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.broker.subscribe(filter, subscription{client: c, handler: handler})
	return nil
}

// Close stops the dispatch loop and unregisters all subscriptions.
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.broker.unsubscribeAll(c.id)
	return nil
}
