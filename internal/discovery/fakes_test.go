package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/targetd/internal/device"
)

// fakeSource lets tests push handle and template sets.
type fakeSource struct {
	handles   chan []Handle
	templates chan []Template
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		handles:   make(chan []Handle),
		templates: make(chan []Template),
	}
}

func (s *fakeSource) Handles(context.Context) <-chan []Handle { return s.handles }

func (s *fakeSource) Templates(context.Context) <-chan []Template {
	if s.templates == nil {
		return nil
	}
	return s.templates
}

// fakeHandle is a handle whose states are pushed by the test. It keeps the
// context of the last States call so tests can see the subscription end.
type fakeHandle struct {
	id         string
	templateID string
	states     chan HandleState

	mu        sync.Mutex
	streamCtx context.Context
}

func newFakeHandle(id, templateID string) *fakeHandle {
	return &fakeHandle{id: id, templateID: templateID, states: make(chan HandleState, 16)}
}

func (h *fakeHandle) ID() string         { return h.id }
func (h *fakeHandle) TemplateID() string { return h.templateID }

func (h *fakeHandle) States(ctx context.Context) <-chan HandleState {
	h.mu.Lock()
	h.streamCtx = ctx
	h.mu.Unlock()
	return h.states
}

// subscribed reports whether States has been called.
func (h *fakeHandle) subscribed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streamCtx != nil
}

// waitUnsubscribed fails the test unless the States context is cancelled in time.
func (h *fakeHandle) waitUnsubscribed(t *testing.T) {
	t.Helper()
	h.mu.Lock()
	ctx := h.streamCtx
	h.mu.Unlock()
	if ctx == nil {
		t.Fatalf("handle %s was never subscribed", h.id)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("state subscription of %s still live", h.id)
	}
}

func (h *fakeHandle) push(online bool) {
	h.states <- HandleState{Online: online, Name: h.id}
}

// bootableHandle records boot calls.
type bootableHandle struct {
	*fakeHandle
	mu    sync.Mutex
	boots []device.BootOption
	err   error
}

func (h *bootableHandle) record(opt device.BootOption) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.boots = append(h.boots, opt)
	return h.err
}

func (h *bootableHandle) BootDefault(context.Context) error { return h.record(device.DefaultBoot()) }
func (h *bootableHandle) ColdBoot(context.Context) error    { return h.record(device.ColdBoot()) }
func (h *bootableHandle) BootSnapshot(_ context.Context, id string) error {
	return h.record(device.SnapshotBoot(id))
}

func (h *bootableHandle) bootCalls() []device.BootOption {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]device.BootOption(nil), h.boots...)
}

// fakeTemplate instantiates fake handles.
type fakeTemplate struct {
	id    string
	props map[string]string
	inst  Handle
	err   error

	mu    sync.Mutex
	boots []device.BootOption
}

func (t *fakeTemplate) ID() string                    { return t.id }
func (t *fakeTemplate) Name() string                  { return t.id }
func (t *fakeTemplate) Properties() map[string]string { return t.props }
func (t *fakeTemplate) Snapshots() []device.Snapshot  { return nil }

func (t *fakeTemplate) Instantiate(_ context.Context, boot device.BootOption) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.boots = append(t.boots, boot)
	return t.inst, t.err
}

// fakeClock returns a settable time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// startAggregator runs a until the test ends.
func startAggregator(t *testing.T, a *Aggregator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("aggregator did not stop")
		}
	})
}

// waitList waits until the published list satisfies ok.
func waitList(t *testing.T, a *Aggregator, what string, ok func(DeviceList) bool) DeviceList {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l, err := a.Devices().WaitFor(ctx, ok)
	if err != nil {
		t.Fatalf("timed out waiting for %s; last list: %+v", what, a.Devices().Get())
	}
	return l
}

func findDevice(l DeviceList, id string) (device.Device, bool) {
	for _, d := range l.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return device.Device{}, false
}

func hasOnline(id string) func(DeviceList) bool {
	return func(l DeviceList) bool {
		d, ok := findDevice(l, id)
		return ok && d.Online
	}
}

func hasOffline(id string) func(DeviceList) bool {
	return func(l DeviceList) bool {
		d, ok := findDevice(l, id)
		return ok && !d.Online
	}
}

func ids(l DeviceList) []string {
	out := make([]string, 0, len(l.Devices))
	for _, d := range l.Devices {
		out = append(out, d.ID)
	}
	return out
}
