// Package dispatch turns a logical command for a node's sub-device into an
// MQTT publish and a localized acknowledgement.
//
// A command "turn_on" for sub-device "relay1" of node 3f2c... is published
// as TURN_ON on topic 3f2c.../relay1 at QoS 1, not retained. The caller
// receives an Acknowledgement whose message is read back to the user, in
// English or Vietnamese when the command is known:
//
//	ack, err := d.SendMessage(ctx, nodeID, "relay1", "turn_on", "vi")
//	// ack.Message == "Thiết bị đã được bật."
//
// Nothing is published when the node or the sub-device does not exist.
package dispatch
