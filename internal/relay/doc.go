// Package relay forwards reconciliation results to the outside world.
//
// A Relay watches the reconciler's published snapshot and the aggregator's
// device list and delivers changes to optional sinks:
//
//   - WebSocket clients ("targets.changed", "devices.changed")
//   - MQTT, as a retained message per run configuration on
//     targetd/core/selection/{run_config}
//   - InfluxDB, as target_selection and device_connection points
//
// MQTT and InfluxDB selection updates follow the reconciler's de-duplicated
// target list: a run configuration switch or device churn that leaves the
// resolved targets unchanged is not republished.
//
// Sink failures are logged and counted; they never stall reconciliation.
package relay
