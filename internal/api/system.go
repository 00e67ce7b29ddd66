package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/propertyhub-core/internal/process"
)

// SystemStatus is the response of GET /api/v1/system.
type SystemStatus struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Realtime      RealtimeMetrics `json:"realtime"`
	Broker        BrokerMetrics   `json:"broker"`
	Loops         []process.Stats `json:"loops"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// RealtimeMetrics contains hub statistics.
type RealtimeMetrics struct {
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
}

// BrokerMetrics contains broker client statistics.
type BrokerMetrics struct {
	Connected bool `json:"connected"`
}

const bytesPerMB = 1024 * 1024

// handleSystem returns runtime, hub, broker and background loop statistics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     s.now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		Realtime: RealtimeMetrics{Rooms: map[string]int{}},
		Loops:    make([]process.Stats, 0, len(s.loops)),
	}

	if s.hub != nil {
		status.Realtime.Connections = s.hub.ConnectionCount()
		status.Realtime.Rooms = s.hub.Rooms()
	}
	if s.broker != nil {
		status.Broker.Connected = s.broker.IsConnected()
	}
	for _, l := range s.loops {
		status.Loops = append(status.Loops, l.Stats())
	}

	writeJSON(w, http.StatusOK, status)
}

// handleWatchdog returns the broker watchdog state.
func (s *Server) handleWatchdog(w http.ResponseWriter, _ *http.Request) {
	if s.watchdog == nil {
		writeUnavailable(w, "watchdog not running")
		return
	}
	writeJSON(w, http.StatusOK, s.watchdog.Status())
}
