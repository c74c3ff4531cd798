// Package bridge connects the node registry to the MQTT transport.
//
// On Start the bridge lists every registered node and subscribes to each
// node's inbound topic (topic_sub). Messages arriving on that topic are
// written back to the registry as the node's last message and last-seen
// time, and optionally fanned out to a telemetry sink and a live event
// broadcaster.
//
//	┌──────────┐  ListAll   ┌────────┐  Subscribe(topic_sub)  ┌───────────┐
//	│ Registry │◀───────────│ Bridge │───────────────────────▶│ Transport │
//	│          │◀───────────│        │◀───────────────────────│  (MQTT)   │
//	└──────────┘ RecordMsg  └───┬────┘     inbound payload    └───────────┘
//	                            │
//	                            ├──▶ Telemetry (InfluxDB node_messages)
//	                            └──▶ Broadcaster (WebSocket node.message)
//
// Several nodes may share one inbound topic; a message on it is recorded
// against each of them. Subscriptions are restored by the transport after
// a reconnect, so the bridge subscribes once per topic.
//
// Nodes created after Start are added with Watch.
package bridge
