// Package device holds the value types shared by the discovery, target and
// selection packages.
//
// A Device is an immutable snapshot. Producers build a fresh value whenever
// any input changes and publish whole lists; consumers never mutate what they
// receive.
//
// # Identity
//
// A TargetID names what the user picked: a concrete device, a template, or a
// device that was launched from a template. It survives restarts and device
// recreation, so it is the value that gets persisted. Resolving a TargetID
// against the current device list yields a Target.
//
//	TargetID{DeviceID: "pixel_9", TemplateID: "pixel_9"}            template
//	TargetID{DeviceID: "emulator-5554", TemplateID: "pixel_9"}      instance
//	TargetID{DeviceID: "R58M12ABCDE"}                                physical
//
// # Ordering
//
// Sort orders devices by compatibility severity, then most recent connection,
// then name. The order is total, so the result does not depend on input order.
package device
