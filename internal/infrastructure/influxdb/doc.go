// Package influxdb records targetd history in InfluxDB.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API and
// two measurements:
//
//	target_selection   tags: run_config, mode      fields: count, primary
//	device_connection  tags: device_id, kind       fields: online
//
// The integration is optional (influxdb.enabled); Connect returns
// ErrDisabled otherwise. Connect also refuses to start when the bucket is
// missing, since every point would be rejected. Write failures are delivered asynchronously to the
// SetOnError callback and never reach the caller.
package influxdb
