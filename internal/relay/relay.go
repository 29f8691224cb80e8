package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/metrics"
	"github.com/nerrad567/targetd/internal/infrastructure/mqtt"
	"github.com/nerrad567/targetd/internal/selection"
	"github.com/nerrad567/targetd/internal/watch"
)

// WebSocket channels.
const (
	ChannelTargets = "targets.changed"
	ChannelDevices = "devices.changed"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("relay: already running")

// Broadcaster delivers events to WebSocket subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Publisher publishes JSON to the MQTT broker.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// PointWriter records time-series points.
type PointWriter interface {
	WriteTargetSelection(runConfig string, multiSelect bool, targetIDs []string, at time.Time)
	WriteDeviceConnection(deviceID, kind string, online bool, at time.Time)
}

// Logger defines the logging interface used by the relay.
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

// Options configures a Relay. Every sink is optional.
type Options struct {
	Output  *watch.Value[selection.Snapshot]
	Devices *watch.Value[discovery.DeviceList]

	// Selected is the reconciler's de-duplicated target list. Each change is
	// published to MQTT and InfluxDB for the run configuration of Output.
	Selected *watch.Value[[]device.Target]

	Hub    Broadcaster
	MQTT   Publisher
	Influx PointWriter

	// Clock timestamps points. Defaults to time.Now.
	Clock   func() time.Time
	Logger  Logger
	Metrics *metrics.Metrics
}

// SelectionMessage is the retained MQTT payload and the WebSocket event for a
// run configuration's selection.
type SelectionMessage struct {
	RunConfig     string            `json:"run_config"`
	IsMultiSelect bool              `json:"is_multi_select"`
	Targets       []device.TargetID `json:"targets"`
}

// TargetsEvent is broadcast on ChannelTargets.
type TargetsEvent struct {
	SelectionMessage
	AllDevices []device.Device `json:"all_devices"`
}

// NewTargetsEvent builds the ChannelTargets payload for a snapshot.
func NewTargetsEvent(s selection.Snapshot) TargetsEvent {
	return TargetsEvent{
		SelectionMessage: SelectionMessage{
			RunConfig:     s.RunConfig,
			IsMultiSelect: s.IsMultiSelect,
			Targets:       s.TargetIDs(),
		},
		AllDevices: s.AllDevices,
	}
}

// Relay fans reconciliation output out to sinks.
type Relay struct {
	opts   Options
	logger Logger
	clock  func() time.Time
	topics mqtt.Topics

	running atomic.Bool

	// Owned by Run.
	lastOnline map[string]bool
}

// New creates a relay. Start it with Run.
func New(opts Options) *Relay {
	r := &Relay{
		opts:       opts,
		logger:     opts.Logger,
		clock:      opts.Clock,
		lastOnline: make(map[string]bool),
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	return r
}

// Run forwards changes until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var outCh <-chan selection.Snapshot
	if r.opts.Output != nil {
		outCh = r.opts.Output.Subscribe(ctx)
	}
	var selCh <-chan []device.Target
	if r.opts.Selected != nil && r.opts.Output != nil {
		selCh = r.opts.Selected.Subscribe(ctx)
	}
	var devCh <-chan discovery.DeviceList
	if r.opts.Devices != nil {
		devCh = r.opts.Devices.Subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-outCh:
			if !ok {
				return nil
			}
			if s.Ready && r.opts.Hub != nil {
				r.opts.Hub.Broadcast(ChannelTargets, NewTargetsEvent(s))
			}
		case _, ok := <-selCh:
			if !ok {
				return nil
			}
			r.relaySelection()
		case l, ok := <-devCh:
			if !ok {
				return nil
			}
			if l.Loaded {
				r.relayDevices(l.Devices)
			}
		}
	}
}

// relaySelection publishes the selection of the latest snapshot. The
// reconciler sets Output before Selected, so the snapshot is never older than
// the target list that triggered the call.
func (r *Relay) relaySelection() {
	s := r.opts.Output.Get()
	if !s.Ready {
		return
	}
	msg := NewTargetsEvent(s).SelectionMessage
	r.logger.Debug("selection changed", "run_config", s.RunConfig, "targets", len(msg.Targets))

	if r.opts.MQTT != nil {
		if err := r.opts.MQTT.PublishJSON(r.topics.CoreSelection(s.RunConfig), msg, true); err != nil {
			r.opts.Metrics.IncRelayFailure("mqtt")
			r.logger.Warn("publishing selection failed", "run_config", s.RunConfig, "error", err)
		}
	}
	if r.opts.Influx != nil {
		ids := make([]string, len(msg.Targets))
		for i, id := range msg.Targets {
			ids[i] = id.String()
		}
		r.opts.Influx.WriteTargetSelection(s.RunConfig, msg.IsMultiSelect, ids, r.clock())
	}
}

func (r *Relay) relayDevices(devices []device.Device) {
	if r.opts.Hub != nil {
		r.opts.Hub.Broadcast(ChannelDevices, devices)
	}

	now := r.clock()
	present := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.IsTemplate {
			continue
		}
		present[d.ID] = true
		was, known := r.lastOnline[d.ID]
		r.lastOnline[d.ID] = d.Online
		if (known && was == d.Online) || (!known && !d.Online) {
			continue
		}
		r.writeConnection(d.ID, d.Kind, d.Online, now)
	}
	for id, online := range r.lastOnline {
		if present[id] {
			continue
		}
		delete(r.lastOnline, id)
		if online {
			r.writeConnection(id, "", false, now)
		}
	}
}

func (r *Relay) writeConnection(id string, kind device.Kind, online bool, at time.Time) {
	r.logger.Debug("device connection changed", "id", id, "online", online)
	if r.opts.Influx != nil {
		r.opts.Influx.WriteDeviceConnection(id, string(kind), online, at)
	}
}
