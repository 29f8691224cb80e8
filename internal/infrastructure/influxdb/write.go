package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTargetSelection  = "target_selection"
	MeasurementDeviceConnection = "device_connection"
)

// WriteTargetSelection records the selected targets of a run configuration.
// The write is non-blocking; points are batched and sent asynchronously.
func (h *History) WriteTargetSelection(runConfig string, multiSelect bool, targetIDs []string, at time.Time) {
	if h.closed.Load() {
		return
	}
	h.writeAPI.WritePoint(newSelectionPoint(runConfig, multiSelect, targetIDs, at))
}

// WriteDeviceConnection records a device going online or offline.
func (h *History) WriteDeviceConnection(deviceID, kind string, online bool, at time.Time) {
	if h.closed.Load() {
		return
	}
	h.writeAPI.WritePoint(newConnectionPoint(deviceID, kind, online, at))
}

func newSelectionPoint(runConfig string, multiSelect bool, targetIDs []string, at time.Time) *write.Point {
	mode := "dropdown"
	if multiSelect {
		mode = "dialog"
	}
	fields := map[string]interface{}{
		"count": len(targetIDs),
	}
	if len(targetIDs) > 0 {
		// Only the primary target is a useful series; the full set goes to MQTT.
		fields["primary"] = targetIDs[0]
	}
	return write.NewPoint(
		MeasurementTargetSelection,
		map[string]string{
			"run_config": runConfig,
			"mode":       mode,
		},
		fields,
		at,
	)
}

func newConnectionPoint(deviceID, kind string, online bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDeviceConnection,
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
		},
		map[string]interface{}{
			"online": online,
		},
		at,
	)
}
