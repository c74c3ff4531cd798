// Package logging builds the slog-based logger shared by every NodeLink
// component.
//
// Each entry carries service and version attributes. Components add their
// own name with Component, so registry, bridge and transport lines can be
// told apart in one stream:
//
//	log := logging.New(cfg.Logging, version)
//	registry.SetLogger(log.Component("registry"))
//	log.Component("bridge").Info("node subscribed", "node_id", id)
//
// Format is json (default) or text; output is stdout (default) or stderr;
// level is debug, info (default), warn or error.
//
// Broker passwords, Redis passwords and database DSNs are never logged.
package logging
