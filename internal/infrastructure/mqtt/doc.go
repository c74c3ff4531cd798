// Package mqtt provides MQTT client connectivity for NodeLink Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - One on-demand reconnect attempt before publish and subscribe
//   - Topic subscriptions that survive reconnects
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// Nodes publish telemetry on their own topic and receive commands on
// {nodeID}/{subDevice}. The broker decouples the service from the hardware.
//
//	NodeLink Core ↔ MQTT Broker ↔ Nodes
//
// # Errors
//
// Every error returned here wraps ErrTransport, so callers can separate
// broker failures from registry failures with errors.Is.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    logger.Warn("broker unavailable, continuing", "error", err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(node.TopicSub, 1,
//	    func(topic string, payload []byte) error {
//	        return registry.RecordMessage(ctx, node.ID, string(payload), time.Now())
//	    })
//
//	client.Publish(mqtt.Topics{}.NodeCommand(node.ID, "relay1"), []byte("ON"), 1, false)
package mqtt
