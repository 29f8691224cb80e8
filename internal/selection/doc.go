// Package selection decides which target(s) each run configuration deploys to.
//
// Every run configuration owns a State holding what the user picked, either a
// single dropdown target with the time it was picked or a list of dialog
// targets. The Reconciler joins that intent with the live device list and
// publishes the result:
//
//	device list ──┐
//	              ├──▶ Reconcile ──▶ Output / SelectedTargets
//	run config ───┤
//	user action ──┘         │
//	                        └──▶ persister ──▶ Gateway (SQLite)
//
// The single-selection policy follows newly connected devices unless the user
// confirmed a choice after the device connected. An exact tie between the two
// timestamps goes to the new connection.
//
// A dialog selection none of whose targets resolve falls back to the dropdown
// policy. The fallback changes the in-memory mode only; stored state is
// written on user actions alone.
package selection
