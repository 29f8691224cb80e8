package discovery

import (
	"context"
	"fmt"

	"github.com/nerrad567/targetd/internal/device"
)

// LaunchableHandle returns a handle the launch subsystem can deploy to.
//
// An online handle is returned as is. An offline handle is booted with the
// target's boot option when it supports booting; otherwise the call fails
// with ErrDeviceDisconnected. A template is instantiated. Failures are
// returned to the caller and never retried.
func (a *Aggregator) LaunchableHandle(ctx context.Context, t device.Target) (Handle, error) {
	var (
		h      Handle
		online bool
		tmpl   Template
		known  *device.Device
	)
	err := a.do(ctx, func() {
		if e, ok := a.handles[t.Device.ID]; ok {
			h = e.handle
			online = e.device != nil && e.device.Online
			known = e.device
			return
		}
		if e, ok := a.templates[t.Device.ID]; ok {
			tmpl = e.template
			known = e.device
		}
	})
	if err != nil {
		return nil, err
	}
	if !online && known != nil && t.Boot.Kind == device.BootKindSnapshot && !known.HasSnapshot(t.Boot.SnapshotID) {
		a.metrics.IncLaunch("unknown_snapshot")
		return nil, fmt.Errorf("%w: %s has no snapshot %q", ErrUnknownSnapshot, t.Device.ID, t.Boot.SnapshotID)
	}

	switch {
	case h != nil && online:
		a.metrics.IncLaunch("online")
		return h, nil

	case h != nil:
		actions, ok := h.(device.BootActions)
		if !ok {
			a.metrics.IncLaunch("disconnected")
			return nil, fmt.Errorf("%w: %s", ErrDeviceDisconnected, t.Device.ID)
		}
		a.logger.Info("booting offline device", "device", t.Device.ID, "boot", t.Boot.String())
		if err := device.Boot(ctx, actions, t.Boot); err != nil {
			a.metrics.IncLaunch("boot_failed")
			return nil, fmt.Errorf("booting %s: %w", t.Device.ID, err)
		}
		a.metrics.IncLaunch("booted")
		return h, nil

	case tmpl != nil:
		if err := t.Boot.Validate(); err != nil {
			a.metrics.IncLaunch("instantiate_failed")
			return nil, err
		}
		a.logger.Info("instantiating template", "template", t.Device.ID, "boot", t.Boot.String())
		inst, err := tmpl.Instantiate(ctx, t.Boot)
		if err != nil {
			a.metrics.IncLaunch("instantiate_failed")
			return nil, fmt.Errorf("instantiating %s: %w", t.Device.ID, err)
		}
		a.metrics.IncLaunch("instantiated")
		return inst, nil

	default:
		a.metrics.IncLaunch("not_found")
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, t.Device.ID)
	}
}
