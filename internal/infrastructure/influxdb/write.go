package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementNodeMessages is the measurement inbound node messages are stored under.
const MeasurementNodeMessages = "node_messages"

// WriteNodeMessage queues one inbound node message as a point.
//
// node_id and topic are tags. The raw payload is stored verbatim in the
// payload field, its length in bytes. at is the time the message was seen.
func (c *Client) WriteNodeMessage(nodeID, topic, payload string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPointWithMeasurement(MeasurementNodeMessages).
		AddTag("node_id", nodeID).
		AddTag("topic", topic).
		AddField("payload", payload).
		AddField("bytes", len(payload)).
		SetTime(at)

	c.writer.WritePoint(point)
	c.queued.Add(1)
}
