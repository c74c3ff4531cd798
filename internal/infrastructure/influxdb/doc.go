// Package influxdb is NodeLink's optional telemetry sink.
//
// Every inbound node message the bridge records can also be stored as a
// point in the node_messages measurement of an InfluxDB v2 bucket. The
// package wraps influxdb-client-go's batching write API; writes never
// block the MQTT delivery goroutine.
//
//	sink, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	switch {
//	case errors.Is(err, influxdb.ErrDisabled):
//	    // run without telemetry
//	case err != nil:
//	    return err
//	}
//	defer sink.Close()
//
//	sink.WriteNodeMessage(nodeID, topic, string(payload), seenAt)
//
// Failed batches are reported through SetOnError and counted in Stats.
package influxdb
