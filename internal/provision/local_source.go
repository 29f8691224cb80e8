package provision

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/config"
	"github.com/nerrad567/targetd/internal/process"
	"github.com/nerrad567/targetd/internal/watch"
)

// LocalSource launches configured emulator templates as child processes.
// Each instance is a handle that is online while its process runs and is
// removed when the process exits.
type LocalSource struct {
	binary      string
	stopTimeout time.Duration
	logger      Logger
	templates   []discovery.Template

	mu        sync.Mutex
	instances map[string]*localInstance
	handleSet *watch.Value[[]discovery.Handle]
}

// NewLocalSource creates a source for the templates in cfg.
func NewLocalSource(cfg config.EmulatorConfig, logger Logger) *LocalSource {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &LocalSource{
		binary:      cfg.Binary,
		stopTimeout: time.Duration(cfg.StopTimeout) * time.Second,
		logger:      logger,
		instances:   make(map[string]*localInstance),
		handleSet:   watch.NewValue([]discovery.Handle{}, sameHandles),
	}
	for _, tc := range cfg.Templates {
		t := &localTemplate{source: s, config: tc}
		for _, snap := range tc.Snapshots {
			t.snapshots = append(t.snapshots, device.Snapshot{ID: snap.ID, Name: snap.Name})
		}
		s.templates = append(s.templates, t)
	}
	return s
}

// Handles implements discovery.Source.
func (s *LocalSource) Handles(ctx context.Context) <-chan []discovery.Handle {
	return s.handleSet.Subscribe(ctx)
}

// Templates implements discovery.Source. The template set never changes.
func (s *LocalSource) Templates(ctx context.Context) <-chan []discovery.Template {
	out := make(chan []discovery.Template, 1)
	out <- slices.Clone(s.templates)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}

// Processes reports the running instances, sorted by name.
func (s *LocalSource) Processes() []process.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make([]process.Stats, 0, len(s.instances))
	for _, id := range slices.Sorted(maps.Keys(s.instances)) {
		stats = append(stats, s.instances[id].runner.Stats())
	}
	return stats
}

// Stop terminates every running instance and waits for them to exit.
func (s *LocalSource) Stop() {
	s.mu.Lock()
	instances := slices.Collect(maps.Values(s.instances))
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Go(func() {
			if inst.runner.IsRunning() {
				if err := inst.runner.Stop(); err != nil {
					s.logger.Warn("stopping emulator failed", "id", inst.id, "error", err)
				}
			}
			<-inst.runner.Done()
		})
	}
	wg.Wait()
}

func (s *LocalSource) launch(ctx context.Context, t *localTemplate, boot device.BootOption) (discovery.Handle, error) {
	if err := boot.Validate(); err != nil {
		return nil, err
	}
	bootArgs, err := t.bootArgs(boot)
	if err != nil {
		return nil, err
	}

	id := t.config.ID + "-" + uuid.NewString()[:8]
	inst := &localInstance{
		id:         id,
		templateID: t.config.ID,
		state: watch.NewValue(discovery.HandleState{
			Online:     true,
			Name:       t.Name(),
			Kind:       device.KindVirtual,
			Properties: t.Properties(),
			Snapshots:  t.Snapshots(),
		}, discovery.HandleState.Equal),
	}
	inst.runner = process.New(process.Config{
		Name:            id,
		Binary:          s.binary,
		Args:            append(slices.Clone(t.config.Args), bootArgs...),
		GracefulTimeout: s.stopTimeout,
		OnExit:          func(err error) { s.exited(inst, err) },
	})
	inst.runner.SetLogger(s.logger)

	if err := inst.runner.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting emulator %s: %w", t.config.ID, err)
	}

	// A process that exits at once can reach exited before this point.
	s.mu.Lock()
	if !inst.gone {
		s.instances[id] = inst
	}
	s.mu.Unlock()
	s.publishHandles()
	s.logger.Info("emulator started", "id", id, "template", t.config.ID, "boot", boot.String(), "pid", inst.runner.PID())
	return inst, nil
}

func (s *LocalSource) exited(inst *localInstance, err error) {
	inst.state.Update(func(st discovery.HandleState) discovery.HandleState {
		st.Online = false
		return st
	})

	s.mu.Lock()
	inst.gone = true
	delete(s.instances, inst.id)
	s.mu.Unlock()
	s.publishHandles()

	if err != nil {
		s.logger.Warn("emulator exited", "id", inst.id, "error", err)
		return
	}
	s.logger.Info("emulator exited", "id", inst.id)
}

func (s *LocalSource) publishHandles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Sorted(maps.Keys(s.instances))
	set := make([]discovery.Handle, 0, len(ids))
	for _, id := range ids {
		set = append(set, s.instances[id])
	}
	s.handleSet.Set(set)
}

type localTemplate struct {
	source    *LocalSource
	config    config.TemplateConfig
	snapshots []device.Snapshot
}

func (t *localTemplate) ID() string { return t.config.ID }

func (t *localTemplate) Name() string {
	if t.config.Name == "" {
		return t.config.ID
	}
	return t.config.Name
}

func (t *localTemplate) Properties() map[string]string { return maps.Clone(t.config.Properties) }
func (t *localTemplate) Snapshots() []device.Snapshot  { return slices.Clone(t.snapshots) }

func (t *localTemplate) Instantiate(ctx context.Context, boot device.BootOption) (discovery.Handle, error) {
	return t.source.launch(ctx, t, boot)
}

// bootArgs maps a boot option to emulator flags.
func (t *localTemplate) bootArgs(boot device.BootOption) ([]string, error) {
	switch boot.Kind {
	case device.BootKindCold:
		return []string{"-no-snapshot-load"}, nil
	case device.BootKindSnapshot:
		if !slices.ContainsFunc(t.snapshots, func(s device.Snapshot) bool { return s.ID == boot.SnapshotID }) {
			return nil, fmt.Errorf("%w: %s has no snapshot %q", ErrUnknownSnapshot, t.config.ID, boot.SnapshotID)
		}
		return []string{"-snapshot", boot.SnapshotID}, nil
	default:
		return nil, nil
	}
}

// localInstance is a running emulator process.
type localInstance struct {
	id         string
	templateID string
	runner     *process.Runner
	state      *watch.Value[discovery.HandleState]

	gone bool // guarded by LocalSource.mu
}

func (i *localInstance) ID() string         { return i.id }
func (i *localInstance) TemplateID() string { return i.templateID }

func (i *localInstance) States(ctx context.Context) <-chan discovery.HandleState {
	return i.state.Subscribe(ctx)
}
