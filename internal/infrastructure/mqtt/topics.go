package mqtt

import "strings"

// Topic prefixes for service-owned topics.
// Node topics are not prefixed: inbound telemetry arrives on each node's
// own subscribe topic and commands go to {nodeID}/{subDevice}.
const (
	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "nodelink/system"
)

// Topics provides builders for NodeLink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmd := topics.NodeCommand("3f2c7a1e-...", "relay1")
//	// Returns: "3f2c7a1e-.../relay1"
type Topics struct{}

// NodeCommand returns the topic a command for one sub-device of a node is
// published on.
//
// Example: 3f2c7a1e-5b7d-4c1e-9a0f-2d6b8e4f1a3c/relay1
func (Topics) NodeCommand(nodeID, subDevice string) string {
	return nodeID + "/" + subDevice
}

// NodeInbound returns the topic telemetry from a node is read from: the
// configured subscribe topic, or the node id when none is set.
func (Topics) NodeInbound(nodeID, topicSub string) string {
	if strings.TrimSpace(topicSub) != "" {
		return topicSub
	}
	return nodeID
}

// SystemStatus returns the topic for service online/offline status.
// Used for LWT (Last Will and Testament).
//
// Example: nodelink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
