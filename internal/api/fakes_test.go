package api

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/nerrad567/targetd/internal/audit"
	"github.com/nerrad567/targetd/internal/auth"
	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/config"
	"github.com/nerrad567/targetd/internal/infrastructure/logging"
	"github.com/nerrad567/targetd/internal/runconfig"
	"github.com/nerrad567/targetd/internal/selection"
	"github.com/nerrad567/targetd/internal/watch"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

var testLogConfig = config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}

// fakeSelector records selection calls and publishes whatever the test sets.
type fakeSelector struct {
	output *watch.Value[selection.Snapshot]

	mu     sync.Mutex
	states map[string]selection.State
	err    error
}

func newFakeSelector() *fakeSelector {
	return &fakeSelector{
		output: watch.NewValue(selection.Snapshot{}, selection.Snapshot.Equal),
		states: make(map[string]selection.State),
	}
}

func (f *fakeSelector) Output() *watch.Value[selection.Snapshot] { return f.output }

func (f *fakeSelector) Current() (selection.DevicesAndTargets, bool) {
	s := f.output.Get()
	return s.DevicesAndTargets, s.Ready
}

func (f *fakeSelector) SelectTarget(runConfig string, id device.TargetID) error {
	if f.err != nil {
		return f.err
	}
	if err := id.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[runConfig] = selection.State{
		Mode:     selection.ModeDropdown,
		Dropdown: &selection.DropdownSelection{Target: id},
	}
	return nil
}

func (f *fakeSelector) SelectTargets(runConfig string, ids []device.TargetID) error {
	if f.err != nil {
		return f.err
	}
	for _, id := range ids {
		if err := id.Validate(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[runConfig] = selection.State{Mode: selection.ModeDialog, Dialog: ids}
	return nil
}

func (f *fakeSelector) Selection(runConfig string) selection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[runConfig]; ok {
		return s
	}
	return selection.State{Mode: selection.ModeDropdown}
}

func (f *fakeSelector) snapshot() map[string]selection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.states)
}

// fakeDevices serves a fixed device list and launches through launch.
type fakeDevices struct {
	list   *watch.Value[discovery.DeviceList]
	hidden []device.Device
	launch func(device.Target) (discovery.Handle, error)
}

func newFakeDevices(devices ...device.Device) *fakeDevices {
	return &fakeDevices{
		list: watch.NewValue(discovery.DeviceList{Loaded: true, Devices: devices}, discovery.DeviceList.Equal),
	}
}

func (f *fakeDevices) Devices() *watch.Value[discovery.DeviceList] { return f.list }

// Known returns the published devices plus hidden.
func (f *fakeDevices) Known(context.Context) ([]device.Device, error) {
	return append(slices.Clone(f.list.Get().Devices), f.hidden...), nil
}

func (f *fakeDevices) LaunchableHandle(_ context.Context, t device.Target) (discovery.Handle, error) {
	if f.launch == nil {
		return nil, errors.New("launch not configured")
	}
	return f.launch(t)
}

type stubHandle struct{ id string }

func (h stubHandle) ID() string         { return h.id }
func (h stubHandle) TemplateID() string { return "" }
func (h stubHandle) States(ctx context.Context) <-chan discovery.HandleState {
	ch := make(chan discovery.HandleState)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

type fakeCheck struct{ err error }

func (c fakeCheck) HealthCheck(context.Context) error { return c.err }

// fakeAudit keeps entries in memory.
type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Record(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []audit.Entry{}
	for i := len(f.entries) - 1; i >= 0; i-- {
		if filter.Action == "" || f.entries[i].Action == filter.Action {
			out = append(out, f.entries[i])
		}
	}
	return &audit.ListResult{Entries: out, Total: len(out), Limit: filter.Limit}, nil
}

type testEnv struct {
	srv        *Server
	selector   *fakeSelector
	devices    *fakeDevices
	runConfigs *runconfig.Registry
	audit      *fakeAudit
}

type envOption func(*Deps)

func withSecret(d *Deps) {
	d.Security.JWT.Secret = testSecret
}

func withCheck(name string, err error) envOption {
	return func(d *Deps) {
		if d.Checks == nil {
			d.Checks = make(map[string]HealthChecker)
		}
		d.Checks[name] = fakeCheck{err: err}
	}
}

// testServer creates a Server over fakes and a real run configuration
// registry holding "app" (active) and "wear-app".
func testServer(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	reg, err := runconfig.NewRegistry([]runconfig.RunConfig{{Name: "app"}, {Name: "wear-app"}}, "app")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	env := &testEnv{
		selector:   newFakeSelector(),
		devices:    newFakeDevices(),
		runConfigs: reg,
		audit:      &fakeAudit{},
	}

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     logging.New(testLogConfig, "test", "test"),
		Selector:   env.selector,
		Devices:    env.devices,
		RunConfigs: reg,
		Audit:      env.audit,
		Version:    "test",
	}
	for _, o := range opts {
		o(&deps)
	}

	env.srv, err = New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return env
}

func bearer(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("tester", role, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return "Bearer " + tok
}
