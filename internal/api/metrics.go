package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/influxdb"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Nodes         NodeMetrics     `json:"nodes"`
	Database      DatabaseMetrics `json:"database"`

	// Telemetry is omitted when no sink is configured.
	Telemetry *influxdb.Stats `json:"telemetry,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client and bridge statistics.
type MQTTMetrics struct {
	Connected        bool `json:"connected"`
	SubscribedTopics int  `json:"subscribed_topics"`
}

// NodeMetrics contains node registry statistics.
type NodeMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// Optional capabilities of the injected dependencies.
type (
	connectionReporter interface{ IsConnected() bool }
	topicCounter       interface{ TopicCount() int }
	poolReporter       interface{ Stats() sql.DBStats }
	sinkReporter       interface{ Stats() influxdb.Stats }
)

// handleMetrics returns runtime, transport and registry metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Nodes: NodeMetrics{ByStatus: make(map[string]int)},
	}

	if c, ok := s.mqtt.(connectionReporter); ok {
		metrics.MQTT.Connected = c.IsConnected()
	}
	if b, ok := s.bridge.(topicCounter); ok {
		metrics.MQTT.SubscribedTopics = b.TopicCount()
	}
	if t, ok := s.telemetry.(sinkReporter); ok {
		stats := t.Stats()
		metrics.Telemetry = &stats
	}

	nodes, err := s.registry.ListAll(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	metrics.Nodes.Total = len(nodes)
	for i := range nodes {
		metrics.Nodes.ByStatus[nodes[i].Status.Text()]++
	}

	if d, ok := s.db.(poolReporter); ok {
		dbStats := d.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
