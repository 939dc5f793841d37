// Package topics defines the canonical pub/sub topic strings shared by the
// hub and every node.
package topics

import "strings"

// Prefix is the fixed namespace root for every EchoTrace topic.
const Prefix = "ECHOTRACE"

// Wildcards the hub subscribes to on startup.
const (
	HealthWildcard  = Prefix + "/health/+"
	TriggerWildcard = Prefix + "/trigger/+"
	AckWildcard     = Prefix + "/ack/+"
)

// HubState is the single retained topic carrying the narrative snapshot.
const HubState = Prefix + "/state/hub"

// Health returns the liveness topic for a node.
func Health(nodeID string) string {
	return Prefix + "/health/" + nodeID
}

// Trigger returns the fragment-trigger topic for a node.
func Trigger(nodeID string) string {
	return Prefix + "/trigger/" + nodeID
}

// Config returns the configuration-push topic for a node.
func Config(nodeID string) string {
	return Prefix + "/config/" + nodeID
}

// Ack returns the configuration-acknowledgement topic for a node.
func Ack(nodeID string) string {
	return Prefix + "/ack/" + nodeID
}

// NodeFromTopic extracts the node-id suffix from a single-level wildcard
// match such as "ECHOTRACE/health/object1", given the literal family
// prefix ("ECHOTRACE/health/"). Returns "" if topic doesn't match family.
func NodeFromTopic(topic, family string) string {
	if !strings.HasPrefix(topic, family) {
		return ""
	}
	return strings.TrimPrefix(topic, family)
}

const (
	healthFamily  = Prefix + "/health/"
	triggerFamily = Prefix + "/trigger/"
	ackFamily     = Prefix + "/ack/"
)

// ParseHealth returns the node id for a health topic, or "" if not one.
func ParseHealth(topic string) string { return NodeFromTopic(topic, healthFamily) }

// ParseTrigger returns the node id for a trigger topic, or "" if not one.
func ParseTrigger(topic string) string { return NodeFromTopic(topic, triggerFamily) }

// ParseAck returns the node id for an ack topic, or "" if not one.
func ParseAck(topic string) string { return NodeFromTopic(topic, ackFamily) }
