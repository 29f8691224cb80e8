package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/targetd/internal/process"
)

// SystemMetrics is the response of GET /system.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Devices       DeviceMetrics   `json:"devices"`
	RunConfig     string          `json:"active_run_config"`
	Processes     []process.Stats `json:"processes"`
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

// DeviceMetrics summarises the aggregated device list. Tracked also counts
// templates hidden behind a running instance.
type DeviceMetrics struct {
	Loaded    bool `json:"loaded"`
	Online    int  `json:"online"`
	Offline   int  `json:"offline"`
	Templates int  `json:"templates"`
	Tracked   int  `json:"tracked"`
}

// handleSystem returns runtime and service statistics.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := SystemMetrics{
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
			ConnectedClients: s.Hub().ClientCount(),
		},
		RunConfig: s.runConfigs.Active().Get(),
		Processes: []process.Stats{},
	}

	l := s.devices.Devices().Get()
	m.Devices.Loaded = l.Loaded
	for _, d := range l.Devices {
		switch {
		case d.IsTemplate:
			m.Devices.Templates++
		case d.Online:
			m.Devices.Online++
		default:
			m.Devices.Offline++
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	known, err := s.devices.Known(ctx)
	cancel()
	if err != nil {
		s.logger.Debug("device aggregator not answering", "error", err)
	}
	m.Devices.Tracked = len(known)

	if s.processes != nil {
		m.Processes = s.processes()
	}

	writeJSON(w, http.StatusOK, m)
}
