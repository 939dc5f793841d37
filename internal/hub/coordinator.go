// Package hub implements the hub coordinator: pub/sub ingest routing,
// narrative state mutation, health tracking, config-push with
// ack-or-timeout, and event-log recording, per spec.md §4.6.
//
// The dispatch-loop and guarded-map shape is grounded on
// internal/pty/hub.go's single-loop broadcast pattern and
// internal/sessions/manager.go's mutex-guarded registry; the
// ack-wait-with-timeout race is grounded on internal/pty/turn.go's use
// of time.AfterFunc-style deadlines. logrus provides structured
// logging, matching the stack aldrin-isaac-newtron uses for its audit
// trail.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watrall/echotrace-whispering-objects/internal/eventlog"
	"github.com/watrall/echotrace-whispering-objects/internal/narrative"
	"github.com/watrall/echotrace-whispering-objects/internal/pubsub"
	"github.com/watrall/echotrace-whispering-objects/internal/topics"
)

// Coordinator is the hub's central state and pub/sub routing surface.
type Coordinator struct {
	client pubsub.Client
	log    *eventlog.FileLogger
	logger *logrus.Logger

	narr *narrative.State

	healthMu sync.Mutex
	health   map[string]time.Time

	waiters *waiterTable
}

// New creates a Coordinator over client, with required distinct
// triggers to unlock, writing events to logger.
func New(client pubsub.Client, logger *eventlog.FileLogger, requiredFragments int, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	return &Coordinator{
		client:  client,
		log:     logger,
		logger:  log,
		narr:    narrative.New(requiredFragments),
		health:  make(map[string]time.Time),
		waiters: newWaiterTable(),
	}
}

// Start subscribes to the ingest wildcards and publishes the initial
// retained state/hub snapshot. It does not connect the client; the
// caller connects it before calling Start.
func (c *Coordinator) Start() error {
	if err := c.client.Subscribe(topics.HealthWildcard, c.handleHealth); err != nil {
		return fmt.Errorf("hub: subscribing to health: %w", err)
	}
	if err := c.client.Subscribe(topics.TriggerWildcard, c.handleTrigger); err != nil {
		return fmt.Errorf("hub: subscribing to trigger: %w", err)
	}
	if err := c.client.Subscribe(topics.AckWildcard, c.handleAck); err != nil {
		return fmt.Errorf("hub: subscribing to ack: %w", err)
	}
	return c.publishState()
}

// Stop closes the event log. The pub/sub client's lifecycle is owned by
// the caller (cmd/hub), matching spec.md §5's shutdown discipline.
func (c *Coordinator) Stop() error {
	return c.log.Close()
}

type healthPayload struct {
	NodeID string  `json:"node_id"`
	Role   string  `json:"role"`
	TS     float64 `json:"ts"`
}

func (c *Coordinator) handleHealth(msg pubsub.Message) {
	nodeID := topics.ParseHealth(msg.Topic)
	if nodeID == "" {
		return
	}

	var payload healthPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.recordEvent(eventlog.KindHeartbeatReceived, nodeID, "invalid_json")
		return
	}

	seen := time.Now().UTC()
	if payload.TS > 0 {
		seen = time.Unix(0, int64(payload.TS*float64(time.Second))).UTC()
	}

	c.healthMu.Lock()
	c.health[nodeID] = seen
	c.healthMu.Unlock()

	c.recordEvent(eventlog.KindHeartbeatReceived, nodeID, string(msg.Payload))
}

type triggerPayload struct {
	NodeID string  `json:"node_id"`
	Role   string  `json:"role"`
	TS     float64 `json:"ts"`
}

func (c *Coordinator) handleTrigger(msg pubsub.Message) {
	nodeID := topics.ParseTrigger(msg.Topic)
	if nodeID == "" {
		return
	}

	var payload triggerPayload
	_ = json.Unmarshal(msg.Payload, &payload) // malformed payload still records the raw trigger, per spec.md §4.6

	c.recordEvent(eventlog.KindFragmentTriggered, nodeID, string(msg.Payload))

	wasUnlocked := c.narr.Unlocked()
	c.narr.RegisterTrigger(nodeID)
	nowUnlocked := c.narr.Unlocked()

	if nowUnlocked && !wasUnlocked {
		c.recordEvent(eventlog.KindNarrativeUnlocked, "", "")
	}

	if err := c.publishState(); err != nil {
		c.logger.WithError(err).Warn("hub: failed to republish state/hub after trigger")
	}
}

type ackPayload struct {
	NodeID  string   `json:"node_id"`
	Status  string   `json:"status"`
	Applied []string `json:"applied"`
}

func (c *Coordinator) handleAck(msg pubsub.Message) {
	nodeID := topics.ParseAck(msg.Topic)
	if nodeID == "" {
		return
	}

	c.recordEvent(eventlog.KindConfigAck, nodeID, string(msg.Payload))

	if !c.waiters.resolve(nodeID, true) {
		c.logger.WithField("node", nodeID).Warn("hub: unexpected ack with no outstanding push")
	}
}

// PushNodeConfig publishes payload to config/<nodeID> at QoS 1 and
// blocks up to timeout waiting for a matching ack. Exactly one
// outstanding push per node is permitted; a second call while one is
// pending preempts the first, which resolves false.
func (c *Coordinator) PushNodeConfig(nodeID string, payload any, timeout time.Duration) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.WithError(err).Warn("hub: failed to marshal config payload")
		return false
	}

	waiter := c.waiters.register(nodeID)

	if err := c.client.Publish(topics.Config(nodeID), body, pubsub.WithQoS(1)); err != nil {
		c.waiters.discard(nodeID, waiter)
		c.logger.WithError(err).Warn("hub: failed to publish config push")
		return false
	}

	select {
	case ok := <-waiter:
		if ok {
			c.recordEvent(eventlog.KindConfigPushOK, nodeID, "")
		}
		return ok
	case <-time.After(timeout):
		c.waiters.discard(nodeID, waiter)
		c.recordEvent(eventlog.KindConfigPushTimeout, nodeID, "")
		return false
	}
}

// ResetState clears the narrative state, republishes state/hub, and
// records an admin_action event.
func (c *Coordinator) ResetState() error {
	c.narr.Reset()
	c.recordEvent(eventlog.KindAdminAction, "", "reset_state")
	return c.publishState()
}

// GetStateSnapshot returns the current narrative snapshot.
func (c *Coordinator) GetStateSnapshot() narrative.Snapshot {
	return c.narr.Snapshot()
}

// GetHealthSnapshot maps node-id to seconds elapsed since its last
// heartbeat, observed at call time.
func (c *Coordinator) GetHealthSnapshot() map[string]float64 {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	now := time.Now().UTC()
	snapshot := make(map[string]float64, len(c.health))
	for node, last := range c.health {
		snapshot[node] = now.Sub(last).Seconds()
	}
	return snapshot
}

// Summary returns the analytics summary derived from the latest event
// log file, for the operator HTTP surface's export/summary endpoints.
func (c *Coordinator) Summary() (eventlog.Summary, error) {
	return c.log.Summarize()
}

// LatestLogPath returns the path of the latest dated event log file, if
// any has been written yet.
func (c *Coordinator) LatestLogPath() (string, bool) {
	return c.log.Latest()
}

func (c *Coordinator) publishState() error {
	snapshot := c.narr.Snapshot()
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("hub: marshaling state snapshot: %w", err)
	}
	return c.client.Publish(topics.HubState, body, pubsub.WithQoS(1), pubsub.WithRetain())
}

func (c *Coordinator) recordEvent(kind eventlog.Kind, nodeID, detail string) {
	if err := c.log.Record(kind, nodeID, detail); err != nil {
		c.logger.WithError(err).WithField("event", kind).Fatal("hub: event log write failed")
	}
}
