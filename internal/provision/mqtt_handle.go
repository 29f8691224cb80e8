package provision

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/watch"
)

// mqttHandle is a handle announced on the broker.
type mqttHandle struct {
	source     *MQTTSource
	id         string
	templateID string
	bootable   bool

	// placeholder is set for instances requested by targetd but not yet
	// announced by their agent; expiry withdraws it. Guarded by source.mu.
	placeholder bool
	expiry      *time.Timer

	state *watch.Value[discovery.HandleState]
}

func newMQTTHandle(s *MQTTSource, id, templateID string, bootable bool, initial discovery.HandleState) *mqttHandle {
	if initial.Name == "" {
		initial.Name = id
	}
	return &mqttHandle{
		source:     s,
		id:         id,
		templateID: templateID,
		bootable:   bootable,
		state:      watch.NewValue(initial, discovery.HandleState.Equal),
	}
}

func (h *mqttHandle) stopExpiry() {
	if h.expiry != nil {
		h.expiry.Stop()
	}
}

func (h *mqttHandle) ID() string         { return h.id }
func (h *mqttHandle) TemplateID() string { return h.templateID }

func (h *mqttHandle) States(ctx context.Context) <-chan discovery.HandleState {
	return h.state.Subscribe(ctx)
}

// asHandle returns h, wrapped so it implements device.BootActions when the
// agent accepts boot commands.
func (h *mqttHandle) asHandle() discovery.Handle {
	if h.bootable {
		return bootableMQTTHandle{h}
	}
	return h
}

// bootableMQTTHandle forwards boot requests to the handle's agent. Boot
// commands are fire-and-forget: the handle comes online when the agent
// reports it.
type bootableMQTTHandle struct {
	*mqttHandle
}

func (h bootableMQTTHandle) BootDefault(context.Context) error {
	return h.boot(device.DefaultBoot())
}

func (h bootableMQTTHandle) ColdBoot(context.Context) error {
	return h.boot(device.ColdBoot())
}

func (h bootableMQTTHandle) BootSnapshot(_ context.Context, snapshotID string) error {
	return h.boot(device.SnapshotBoot(snapshotID))
}

func (h bootableMQTTHandle) boot(opt device.BootOption) error {
	return h.source.publish(h.source.topics.HandleBoot(h.id), bootCommand{Boot: opt})
}

// mqttTemplate is a template announced on the broker.
type mqttTemplate struct {
	source     *MQTTSource
	id         string
	name       string
	properties map[string]string
	snapshots  []device.Snapshot
}

func (t *mqttTemplate) ID() string                    { return t.id }
func (t *mqttTemplate) Name() string                  { return t.name }
func (t *mqttTemplate) Properties() map[string]string { return maps.Clone(t.properties) }
func (t *mqttTemplate) Snapshots() []device.Snapshot  { return slices.Clone(t.snapshots) }

func (t *mqttTemplate) Instantiate(ctx context.Context, boot device.BootOption) (discovery.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := boot.Validate(); err != nil {
		return nil, err
	}
	return t.source.instantiate(t, boot)
}
