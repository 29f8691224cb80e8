// Package discovery fuses device handles and templates from provisioning
// sources into one sorted device list.
//
// # Concurrency
//
// The Aggregator runs a single coordinating goroutine that owns all handle
// and template bookkeeping and the connection-time table. Each handle and
// template gets its own cancellable worker that follows its state stream,
// evaluates compatibility for the active run configuration and reports the
// result back to the coordinator. The coordinator rebuilds only the device
// that changed and republishes the full sorted list.
//
//	Source ──handle/template sets──▶ coordinator ◀──reports── workers
//	                                     │
//	                                     ▼
//	                          watch.Value[DeviceList]
//
// A device enters the list once its first compatibility verdict is known.
// Templates are hidden while a handle instantiated from them is present.
package discovery
