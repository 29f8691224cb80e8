package provision

import (
	"context"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/mqtt"
	"github.com/nerrad567/targetd/internal/watch"
)

// Broker is the part of *mqtt.Client the MQTT source needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the sources.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// handleAnnouncement is the retained payload on targetd/provision/handle/{id}.
type handleAnnouncement struct {
	TemplateID string `json:"template_id,omitempty"`

	// Bootable handles accept targetd/command/{id}/boot while offline.
	Bootable bool `json:"bootable,omitempty"`

	// Name is shown until the first state message arrives.
	Name string `json:"name,omitempty"`
}

// templateAnnouncement is the retained payload on targetd/provision/template/{id}.
type templateAnnouncement struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
	Snapshots  []device.Snapshot `json:"snapshots,omitempty"`
}

// bootCommand is published to targetd/command/{id}/boot.
type bootCommand struct {
	Boot device.BootOption `json:"boot"`
}

// instantiateCommand is published to targetd/command/template/{id}/instantiate.
type instantiateCommand struct {
	InstanceID string            `json:"instance_id"`
	Boot       device.BootOption `json:"boot"`
}

func sameHandles(a, b []discovery.Handle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameTemplates(a, b []discovery.Template) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// forwardWhenReady streams v once ready holds true, until ctx is done.
func forwardWhenReady[T any](ctx context.Context, ready *watch.Value[bool], v *watch.Value[T]) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		if _, err := ready.WaitFor(ctx, func(b bool) bool { return b }); err != nil {
			return
		}
		for x := range v.Subscribe(ctx) {
			select {
			case out <- x:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
