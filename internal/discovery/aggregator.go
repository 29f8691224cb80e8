package discovery

import (
	"context"
	"reflect"
	"slices"
	"sync/atomic"
	"time"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/infrastructure/metrics"
	"github.com/nerrad567/targetd/internal/watch"
)

// DefaultCompatTimeout bounds a single compatibility evaluation.
const DefaultCompatTimeout = 5 * time.Second

// Logger defines the logging interface used by the Aggregator.
// This allows for dependency injection and testing.
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

// DeviceList is the aggregator's published output. Until both the first
// handle set and the first template set have arrived, Loaded is false and
// Devices is empty.
type DeviceList struct {
	Loaded  bool
	Devices []device.Device
}

// Equal compares two lists element by element.
func (l DeviceList) Equal(o DeviceList) bool {
	return l.Loaded == o.Loaded && device.EqualDevices(l.Devices, o.Devices)
}

// Options configures an Aggregator.
type Options struct {
	Source Source

	// Evaluator may be nil, in which case every device is compatible.
	Evaluator Evaluator

	// ConnectionTimes defaults to a fresh MemoryConnectionTimes.
	ConnectionTimes ConnectionTimes

	// Clock defaults to time.Now.
	Clock func() time.Time

	// RunConfig is the run configuration active at start.
	RunConfig string

	Logger  Logger
	Metrics *metrics.Metrics

	// CompatTimeout defaults to DefaultCompatTimeout.
	CompatTimeout time.Duration
}

// Aggregator maintains the sorted device list. Create with New and start with Run.
type Aggregator struct {
	source        Source
	evaluator     Evaluator
	times         ConnectionTimes
	clock         func() time.Time
	logger        Logger
	metrics       *metrics.Metrics
	compatTimeout time.Duration

	devices    *watch.Value[DeviceList]
	runConfigs *watch.Mailbox[string]
	reevals    *watch.Mailbox[struct{}]
	ops        chan func()
	stopped    chan struct{}
	running    atomic.Bool

	// Owned by the Run goroutine.
	runConfig       string
	handles         map[string]*handleEntry
	templates       map[string]*templateEntry
	handlesLoaded   bool
	templatesLoaded bool
	gen             uint64
}

// New creates an aggregator. It publishes the loading sentinel until Run has
// received the first sets from the source.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		source:        opts.Source,
		evaluator:     opts.Evaluator,
		times:         opts.ConnectionTimes,
		clock:         opts.Clock,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		compatTimeout: opts.CompatTimeout,
		devices:       watch.NewValue(DeviceList{}, DeviceList.Equal),
		runConfigs:    watch.NewMailbox[string](),
		reevals:       watch.NewMailbox[struct{}](),
		ops:           make(chan func()),
		stopped:       make(chan struct{}),
		runConfig:     opts.RunConfig,
		handles:       make(map[string]*handleEntry),
		templates:     make(map[string]*templateEntry),
	}
	if a.times == nil {
		a.times = NewMemoryConnectionTimes()
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	if a.logger == nil {
		a.logger = noopLogger{}
	}
	if a.compatTimeout <= 0 {
		a.compatTimeout = DefaultCompatTimeout
	}
	return a
}

// SetLogger sets the logger. Must be called before Run.
func (a *Aggregator) SetLogger(logger Logger) {
	a.logger = logger
}

// Devices returns the published device list.
func (a *Aggregator) Devices() *watch.Value[DeviceList] {
	return a.devices
}

// SetRunConfig switches the active run configuration and re-evaluates every
// device against it. It never blocks.
func (a *Aggregator) SetRunConfig(name string) {
	a.runConfigs.Put(name)
}

// Reevaluate re-runs compatibility evaluation for every device, for example
// after the rules behind the evaluator changed. It never blocks.
func (a *Aggregator) Reevaluate() {
	a.reevals.Put(struct{}{})
}

// Run drives the aggregator until ctx is done. Workers are stopped and
// awaited before Run returns.
func (a *Aggregator) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(a.stopped)
	defer a.stopAll()

	handleSets := a.source.Handles(ctx)
	templateSets := a.source.Templates(ctx)
	a.handlesLoaded = handleSets == nil
	a.templatesLoaded = templateSets == nil
	a.publish()

	a.logger.Info("device aggregator started", "run_config", a.runConfig)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("device aggregator stopping")
			return nil

		case set, ok := <-handleSets:
			if !ok {
				handleSets = nil
				continue
			}
			a.syncHandles(ctx, set)

		case set, ok := <-templateSets:
			if !ok {
				templateSets = nil
				continue
			}
			a.syncTemplates(ctx, set)

		case name := <-a.runConfigs.C():
			if name == a.runConfig {
				continue
			}
			a.logger.Debug("run configuration changed", "from", a.runConfig, "to", name)
			a.runConfig = name
			a.reevaluateAll()

		case <-a.reevals.C():
			a.reevaluateAll()

		case op := <-a.ops:
			op()
		}
	}
}

// do runs fn on the coordinating goroutine and waits for it to finish.
func (a *Aggregator) do(ctx context.Context, fn func()) error {
	if !a.running.Load() {
		return ErrNotRunning
	}
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case a.ops <- op:
	case <-a.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// report hands a worker result to the coordinator. It gives up when the
// worker is cancelled.
func (a *Aggregator) report(ctx context.Context, fn func()) {
	select {
	case a.ops <- fn:
	case <-ctx.Done():
	case <-a.stopped:
	}
}

func (a *Aggregator) syncHandles(ctx context.Context, set []Handle) {
	seen := make(map[string]struct{}, len(set))
	for _, h := range set {
		id := h.ID()
		if err := device.ValidateID(id); err != nil {
			a.logger.Warn("ignoring handle with invalid id", "id", id, "error", err)
			continue
		}
		seen[id] = struct{}{}
		if e, ok := a.handles[id]; ok {
			if sameHandle(e.handle, h) {
				continue
			}
			// Same ID, new connection: the old worker's results are dropped
			// by generation.
			e.stop()
			a.times.Clear(id)
			a.handles[id] = a.startHandle(ctx, h)
			a.logger.Debug("handle replaced", "id", id, "template_id", h.TemplateID())
			continue
		}
		a.handles[id] = a.startHandle(ctx, h)
		a.logger.Debug("handle added", "id", id, "template_id", h.TemplateID())
	}

	for id, e := range a.handles {
		if _, ok := seen[id]; ok {
			continue
		}
		e.stop()
		delete(a.handles, id)
		a.times.Clear(id)
		a.logger.Debug("handle removed", "id", id)
	}

	a.handlesLoaded = true
	a.publish()
}

func (a *Aggregator) syncTemplates(ctx context.Context, set []Template) {
	seen := make(map[string]struct{}, len(set))
	for _, t := range set {
		id := t.ID()
		if err := device.ValidateID(id); err != nil {
			a.logger.Warn("ignoring template with invalid id", "id", id, "error", err)
			continue
		}
		seen[id] = struct{}{}
		if _, ok := a.templates[id]; ok {
			continue
		}
		a.templates[id] = a.startTemplate(ctx, t)
		a.logger.Debug("template added", "id", id)
	}

	for id, e := range a.templates {
		if _, ok := seen[id]; ok {
			continue
		}
		e.stop()
		delete(a.templates, id)
		a.logger.Debug("template removed", "id", id)
	}

	a.templatesLoaded = true
	a.publish()
}

func (a *Aggregator) reevaluateAll() {
	for _, e := range a.handles {
		e.reeval.Put(a.runConfig)
	}
	for _, e := range a.templates {
		e.reeval.Put(a.runConfig)
	}
}

func (a *Aggregator) stopAll() {
	for id, e := range a.handles {
		e.stop()
		delete(a.handles, id)
	}
	for id, e := range a.templates {
		e.stop()
		delete(a.templates, id)
	}
}

// applyHandle records a worker's verdict for one handle state.
func (a *Aggregator) applyHandle(id string, gen uint64, runConfig string, state HandleState, compat device.Compatibility) {
	e, ok := a.handles[id]
	if !ok || e.gen != gen || runConfig != a.runConfig {
		return
	}

	d := device.Device{
		ID:            id,
		TemplateID:    e.handle.TemplateID(),
		Kind:          state.Kind,
		Name:          state.Name,
		Disambiguator: state.Disambiguator,
		Online:        state.Online,
		Properties:    state.Properties,
		Snapshots:     state.Snapshots,
		Compatibility: compat,
	}
	if d.Kind == "" {
		d.Kind = device.KindPhysical
		if d.TemplateID != "" {
			d.Kind = device.KindVirtual
		}
	}
	if d.Name == "" {
		d.Name = id
	}
	if err := device.ValidateDevice(d); err != nil {
		a.logger.Warn("ignoring invalid handle state", "id", id, "error", err)
		return
	}
	if d.Online {
		t := a.times.Observe(id, a.clock())
		d.ConnectionTime = &t
	} else {
		a.times.Clear(id)
	}

	e.device = &d
	a.publish()
}

func (a *Aggregator) applyTemplate(id string, gen uint64, runConfig string, compat device.Compatibility) {
	e, ok := a.templates[id]
	if !ok || e.gen != gen || runConfig != a.runConfig {
		return
	}
	d := device.Device{
		ID:            id,
		TemplateID:    id,
		IsTemplate:    true,
		Kind:          device.KindVirtual,
		Name:          e.template.Name(),
		Properties:    e.template.Properties(),
		Snapshots:     e.template.Snapshots(),
		Compatibility: compat,
	}
	if d.Name == "" {
		d.Name = id
	}
	e.device = &d
	a.publish()
}

// publish rebuilds the sorted list from the current entries.
func (a *Aggregator) publish() {
	if !a.handlesLoaded || !a.templatesLoaded {
		return
	}

	instantiated := make(map[string]struct{})
	devices := make([]device.Device, 0, len(a.handles)+len(a.templates))
	var online, offline, templates int
	for _, e := range a.handles {
		if e.device == nil {
			continue
		}
		if e.device.TemplateID != "" {
			instantiated[e.device.TemplateID] = struct{}{}
		}
		if e.device.Online {
			online++
		} else {
			offline++
		}
		devices = append(devices, e.device.Clone())
	}
	for id, e := range a.templates {
		if e.device == nil {
			continue
		}
		if _, ok := instantiated[id]; ok {
			continue
		}
		templates++
		devices = append(devices, e.device.Clone())
	}
	device.Sort(devices)

	if a.devices.Set(DeviceList{Loaded: true, Devices: devices}) {
		a.metrics.ObserveDeviceList(online, offline, templates)
		a.logger.Debug("device list published", "devices", len(devices))
	}
}

// snapshotDevices returns the devices the coordinator currently knows,
// including templates hidden behind their instances.
func (a *Aggregator) snapshotDevices() []device.Device {
	var out []device.Device
	for _, e := range a.handles {
		if e.device != nil {
			out = append(out, e.device.Clone())
		}
	}
	for _, e := range a.templates {
		if e.device != nil {
			out = append(out, e.device.Clone())
		}
	}
	slices.SortFunc(out, device.Compare)
	return out
}

// Known returns every device the aggregator tracks, templates included even
// when an instance hides them from the published list.
func (a *Aggregator) Known(ctx context.Context) ([]device.Device, error) {
	var out []device.Device
	err := a.do(ctx, func() { out = a.snapshotDevices() })
	return out, err
}

// sameHandle reports whether a source republished the handle it already
// had. Handle values of a non-comparable type cannot be told apart and count
// as the same.
func sameHandle(a, b Handle) bool {
	if t := reflect.TypeOf(a); t == reflect.TypeOf(b) && !t.Comparable() {
		return true
	}
	return a == b
}
