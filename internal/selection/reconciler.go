package selection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/metrics"
	"github.com/nerrad567/targetd/internal/watch"
)

// Logger defines the logging interface used by the Reconciler.
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

// Snapshot is one published reconciliation result.
type Snapshot struct {
	// Ready is false until the first reconciliation completes.
	Ready     bool
	RunConfig string
	DevicesAndTargets
}

// Equal compares two snapshots in full.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Ready == o.Ready && s.RunConfig == o.RunConfig && s.DevicesAndTargets.Equal(o.DevicesAndTargets)
}

// Options configures a Reconciler.
type Options struct {
	// Devices is the aggregator's published list.
	Devices *watch.Value[discovery.DeviceList]

	// RunConfig is the active run configuration name.
	RunConfig *watch.Value[string]

	// Gateway may be nil, in which case state lives in memory only.
	Gateway Gateway

	// Clock timestamps user selections. Defaults to time.Now.
	Clock func() time.Time

	Logger  Logger
	Metrics *metrics.Metrics

	// PersistTimeout defaults to DefaultPersistTimeout.
	PersistTimeout time.Duration
}

// entry is the in-memory selection of one run configuration.
type entry struct {
	state   State
	loaded  bool
	loading bool
}

type loadResult struct {
	runConfig string
	state     State
}

// Reconciler combines the device list with per-run-configuration selection
// intent and publishes the selected targets.
//
// User operations update memory synchronously and never block on storage.
// Stored state is loaded by the Run goroutine the first time a run
// configuration becomes active; a user action taken before the load finishes
// wins over the stored value.
type Reconciler struct {
	devices    *watch.Value[discovery.DeviceList]
	runConfigs *watch.Value[string]
	gateway    Gateway
	clock      func() time.Time
	logger     Logger
	metrics    *metrics.Metrics
	persist    *persister

	mu     sync.Mutex
	states map[string]*entry

	nudge    *watch.Mailbox[struct{}]
	loads    chan loadResult
	output   *watch.Value[Snapshot]
	selected *watch.Value[[]device.Target]
	running  atomic.Bool
}

// New creates a reconciler. Start it with Run.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		devices:    opts.Devices,
		runConfigs: opts.RunConfig,
		gateway:    opts.Gateway,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		states:     make(map[string]*entry),
		nudge:      watch.NewMailbox[struct{}](),
		loads:      make(chan loadResult),
		output:     watch.NewValue(Snapshot{}, Snapshot.Equal),
		selected:   watch.NewValue([]device.Target{}, sameTargets),
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	timeout := opts.PersistTimeout
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	r.persist = newPersister(r.gateway, r.logger, r.metrics, timeout)
	return r
}

func sameTargets(a, b []device.Target) bool {
	return slices.Equal(targetIDs(a), targetIDs(b))
}

// Output returns the published reconciliation result, de-duplicated by value.
func (r *Reconciler) Output() *watch.Value[Snapshot] {
	return r.output
}

// SelectedTargets returns the selected targets, de-duplicated by their
// references so device churn that leaves the answer unchanged is not
// republished.
func (r *Reconciler) SelectedTargets() *watch.Value[[]device.Target] {
	return r.selected
}

// Current returns the latest result without blocking. The boolean is false
// until the first reconciliation.
func (r *Reconciler) Current() (DevicesAndTargets, bool) {
	s := r.output.Get()
	return s.DevicesAndTargets, s.Ready
}

// Wait blocks until a result exists. For cold start and tests only.
func (r *Reconciler) Wait(ctx context.Context) (DevicesAndTargets, error) {
	s, err := r.output.WaitFor(ctx, func(s Snapshot) bool { return s.Ready })
	return s.DevicesAndTargets, err
}

// Subscribe streams results, starting with the current one once ready.
func (r *Reconciler) Subscribe(ctx context.Context) <-chan DevicesAndTargets {
	out := make(chan DevicesAndTargets)
	go func() {
		defer close(out)
		for s := range r.output.Subscribe(ctx) {
			if !s.Ready {
				continue
			}
			select {
			case out <- s.DevicesAndTargets:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SelectTarget makes id the single selected target of runConfig, timestamped now.
func (r *Reconciler) SelectTarget(runConfig string, id device.TargetID) error {
	if runConfig == "" {
		return ErrInvalidRunConfig
	}
	if err := id.Validate(); err != nil {
		return err
	}
	now := r.clock()
	r.update(runConfig, func(s *State) {
		s.Mode = ModeDropdown
		s.Dropdown = &DropdownSelection{Target: id, Timestamp: &now}
	})
	r.logger.Info("target selected", "run_config", runConfig, "target", id.String())
	return nil
}

// SelectTargets switches runConfig to a multi-selection of ids.
func (r *Reconciler) SelectTargets(runConfig string, ids []device.TargetID) error {
	if runConfig == "" {
		return ErrInvalidRunConfig
	}
	for i, id := range ids {
		if err := id.Validate(); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
	}
	refs := slices.Clone(ids)
	r.update(runConfig, func(s *State) {
		s.Mode = ModeDialog
		s.Dialog = refs
	})
	r.logger.Info("targets selected", "run_config", runConfig, "count", len(ids))
	return nil
}

func (r *Reconciler) update(runConfig string, fn func(*State)) {
	r.mu.Lock()
	e := r.entryLocked(runConfig)
	fn(&e.state)
	e.loaded = true
	saved := e.state.Clone()
	r.mu.Unlock()

	r.metrics.IncSelectionChange("user")
	r.persist.save(runConfig, saved)
	r.nudge.Put(struct{}{})
}

// DeleteRunConfig forgets the selection of runConfig and removes it from storage.
func (r *Reconciler) DeleteRunConfig(runConfig string) {
	r.mu.Lock()
	delete(r.states, runConfig)
	if r.runConfigs != nil && r.runConfigs.Get() == runConfig {
		// Still active: start over empty rather than reloading what is being deleted.
		r.states[runConfig] = &entry{state: State{Mode: ModeDropdown}, loaded: true}
	}
	r.mu.Unlock()

	r.persist.delete(runConfig)
	r.nudge.Put(struct{}{})
	r.logger.Info("selection deleted", "run_config", runConfig)
}

// Selection returns the in-memory state of runConfig, creating it empty if needed.
func (r *Reconciler) Selection(runConfig string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryLocked(runConfig).state.Clone()
}

func (r *Reconciler) entryLocked(runConfig string) *entry {
	e, ok := r.states[runConfig]
	if !ok {
		e = &entry{state: State{Mode: ModeDropdown}}
		r.states[runConfig] = e
	}
	return e
}

// Flush waits until every requested write has reached the gateway.
func (r *Reconciler) Flush(ctx context.Context) error {
	return r.persist.flushed(ctx)
}

// Run reconciles until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.persist.run(ctx)
	}()
	defer wg.Wait()

	devCh := r.devices.Subscribe(ctx)
	rcCh := r.runConfigs.Subscribe(ctx)

	var (
		devices   discovery.DeviceList
		runConfig string
		haveRC    bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-devCh:
			if !ok {
				return nil
			}
			devices = l
		case rc, ok := <-rcCh:
			if !ok {
				return nil
			}
			runConfig, haveRC = rc, true
			r.ensureLoaded(ctx, rc)
		case res := <-r.loads:
			r.applyLoad(res)
		case <-r.nudge.C():
			if haveRC {
				r.ensureLoaded(ctx, runConfig)
			}
		}

		if !haveRC || !devices.Loaded {
			continue
		}
		r.reconcile(runConfig, devices.Devices)
	}
}

// ensureLoaded starts loading the stored state of runConfig if nothing is
// known about it yet.
func (r *Reconciler) ensureLoaded(ctx context.Context, runConfig string) {
	r.mu.Lock()
	e := r.entryLocked(runConfig)
	if e.loaded || e.loading {
		r.mu.Unlock()
		return
	}
	if r.gateway == nil || runConfig == "" {
		e.loaded = true
		r.mu.Unlock()
		return
	}
	e.loading = true
	r.mu.Unlock()

	go func() {
		lctx, cancel := context.WithTimeout(ctx, r.persist.timeout)
		defer cancel()

		s, err := r.gateway.Load(lctx, runConfig)
		switch {
		case err == nil:
		case errors.Is(err, ErrStateNotFound):
			s = State{Mode: ModeDropdown}
		case errors.Is(err, ErrCorruptState):
			r.logger.Warn("discarding corrupt selection state", "run_config", runConfig, "error", err)
			s = State{Mode: ModeDropdown}
		default:
			r.logger.Error("loading selection state failed", "run_config", runConfig, "error", err)
			s = State{Mode: ModeDropdown}
		}

		select {
		case r.loads <- loadResult{runConfig: runConfig, state: s}:
		case <-ctx.Done():
		}
	}()
}

func (r *Reconciler) applyLoad(res loadResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.states[res.runConfig]
	if !ok {
		// Deleted while loading.
		return
	}
	e.loading = false
	if e.loaded {
		r.logger.Debug("ignoring stored selection superseded by user action", "run_config", res.runConfig)
		return
	}
	e.state = res.state
	e.loaded = true
}

func (r *Reconciler) reconcile(runConfig string, devices []device.Device) {
	r.mu.Lock()
	e := r.entryLocked(runConfig)
	if !e.loaded {
		r.mu.Unlock()
		return
	}
	state := e.state.Clone()
	r.mu.Unlock()

	dt, next := Reconcile(devices, state)

	if next.Mode != state.Mode {
		r.mu.Lock()
		if cur, ok := r.states[runConfig]; ok && cur.state.Equal(state) {
			cur.state = next
			r.metrics.IncSelectionChange("reconcile")
			r.logger.Info("no dialog targets available, switched to single selection", "run_config", runConfig)
		}
		r.mu.Unlock()
	}

	r.output.Set(Snapshot{Ready: true, RunConfig: runConfig, DevicesAndTargets: dt})
	r.selected.Set(dt.SelectedTargets)
}
