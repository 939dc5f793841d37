package wsbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/watrall/echotrace-whispering-objects/internal/pubsub"
)

// Client dials a wsbroker Server and implements pubsub.Client over the
// connection.
type Client struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string][]pubsub.Handler // filter -> handlers
	closed   bool
	writeMu  sync.Mutex
}

var _ pubsub.Client = (*Client)(nil)

// New creates a Client that will dial the given ws:// URL on Connect.
func New(url string) *Client {
	return &Client{url: url, handlers: make(map[string][]pubsub.Handler)}
}

// Connect dials the broker and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("wsbroker: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != frameMessage {
			continue
		}

		c.mu.Lock()
		var matched []pubsub.Handler
		for filter, hs := range c.handlers {
			if topicMatches(filter, frame.Topic) {
				matched = append(matched, hs...)
			}
		}
		c.mu.Unlock()

		msg := pubsub.Message{
			Topic:   frame.Topic,
			Payload: []byte(frame.Payload),
			QoS:     frame.QoS,
			Retain:  frame.Retain,
		}
		for _, h := range matched {
			h(msg)
		}
	}
}

// Publish sends a publish frame to the broker.
func (c *Client) Publish(topic string, payload []byte, opts ...pubsub.PublishOption) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return pubsub.ErrClosed
	}

	qos, retain := pubsub.ResolveOptions(opts)

	frame := wireFrame{
		Type:    framePublish,
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// Subscribe registers handler for filter and tells the broker to start
// routing matching publishes (and any retained message) to this client.
func (c *Client) Subscribe(filter string, handler pubsub.Handler) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	if !closed {
		c.handlers[filter] = append(c.handlers[filter], handler)
	}
	c.mu.Unlock()
	if closed || conn == nil {
		return pubsub.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(wireFrame{Type: frameSubscribe, Filter: filter})
}

// Close disconnects the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
