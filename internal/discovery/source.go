package discovery

import (
	"context"
	"maps"
	"slices"

	"github.com/nerrad567/targetd/internal/device"
)

// HandleState is one observation of a device handle.
type HandleState struct {
	Online        bool              `json:"online"`
	Name          string            `json:"name"`
	Disambiguator string            `json:"disambiguator,omitempty"`
	Kind          device.Kind       `json:"kind,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	Snapshots     []device.Snapshot `json:"snapshots,omitempty"`
}

// Equal compares two observations.
func (s HandleState) Equal(o HandleState) bool {
	return s.Online == o.Online &&
		s.Name == o.Name &&
		s.Disambiguator == o.Disambiguator &&
		s.Kind == o.Kind &&
		maps.Equal(s.Properties, o.Properties) &&
		slices.Equal(s.Snapshots, o.Snapshots)
}

// Handle is a live connection to a physical device or a virtual device
// instance. Handles that can be started while offline also implement
// device.BootActions. A source replaces a handle by publishing a different
// value under the same ID, so handles should be pointers or other
// comparable values.
type Handle interface {
	ID() string

	// TemplateID is the template the handle was instantiated from, or "".
	TemplateID() string

	// States streams observations until ctx is done. The first value should be
	// the current state.
	States(ctx context.Context) <-chan HandleState
}

// Template describes a virtual device that can be instantiated on demand.
// Templates are static: a changed template is withdrawn and announced again.
type Template interface {
	ID() string
	Name() string
	Properties() map[string]string
	Snapshots() []device.Snapshot

	// Instantiate starts a new instance and returns its handle.
	Instantiate(ctx context.Context, boot device.BootOption) (Handle, error)
}

// Source publishes the complete current set of handles and templates each
// time either changes. A nil channel means the source provides none.
type Source interface {
	Handles(ctx context.Context) <-chan []Handle
	Templates(ctx context.Context) <-chan []Template
}

// Evaluator decides whether a device can run the given run configuration.
type Evaluator interface {
	Evaluate(ctx context.Context, d device.Device, runConfig string) (device.Compatibility, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, d device.Device, runConfig string) (device.Compatibility, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, d device.Device, runConfig string) (device.Compatibility, error) {
	return f(ctx, d, runConfig)
}
