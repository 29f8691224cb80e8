// Package provision supplies the device aggregator with handles and
// templates.
//
// MQTTSource follows retained announcements from device agents on the
// broker. LocalSource exposes emulators configured on this machine and
// launches them as child processes. Merge combines several sources into one.
//
// A handle's template and whether it can be booted are fixed when it is
// first announced; an agent that needs to change them withdraws the handle
// and announces it again.
package provision
