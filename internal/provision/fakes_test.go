package provision

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/mqtt"
)

type published struct {
	topic   string
	payload []byte
}

// fakeBroker routes delivered messages to subscribed handlers and records
// publishes.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
	pubErr    error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubErr != nil {
		return b.pubErr
	}
	b.published = append(b.published, published{topic: topic, payload: payload})
	return nil
}

func (b *fakeBroker) publishes() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

// deliver invokes the handler whose single-level wildcard matches topic.
func (b *fakeBroker) deliver(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	b.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range b.handlers {
		if matchTopic(filter, topic) {
			handler = h
		}
	}
	b.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription matches %s", topic)
	}
	return handler(topic, payload)
}

func (b *fakeBroker) deliverJSON(t *testing.T, topic string, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := b.deliver(t, topic, payload); err != nil {
		t.Fatalf("deliver %s: %v", topic, err)
	}
}

func matchTopic(filter, topic string) bool {
	f := strings.Split(filter, "/")
	p := strings.Split(topic, "/")
	if len(f) != len(p) {
		return false
	}
	for i := range f {
		if f[i] != "+" && f[i] != p[i] {
			return false
		}
	}
	return true
}

// next reads from ch or fails after a second.
func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a value")
	}
	var zero T
	return zero
}

// waitHandles reads handle sets until ok holds.
func waitHandles(t *testing.T, ch <-chan []discovery.Handle, ok func([]discovery.Handle) bool) []discovery.Handle {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case set, open := <-ch:
			if !open {
				t.Fatal("handle stream closed")
			}
			if ok(set) {
				return set
			}
		case <-deadline:
			t.Fatal("timed out waiting for handle set")
		}
	}
}

func handleIDs(set []discovery.Handle) []string {
	ids := make([]string, len(set))
	for i, h := range set {
		ids[i] = h.ID()
	}
	return ids
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// staticSource publishes fixed sets once.
type staticSource struct {
	handles   []discovery.Handle
	templates []discovery.Template
	noHandles bool
}

func (s staticSource) Handles(context.Context) <-chan []discovery.Handle {
	if s.noHandles {
		return nil
	}
	ch := make(chan []discovery.Handle, 1)
	ch <- s.handles
	return ch
}

func (s staticSource) Templates(context.Context) <-chan []discovery.Template {
	ch := make(chan []discovery.Template, 1)
	ch <- s.templates
	return ch
}

type stubHandle string

func (h stubHandle) ID() string         { return string(h) }
func (h stubHandle) TemplateID() string { return "" }
func (h stubHandle) States(context.Context) <-chan discovery.HandleState {
	return nil
}

// chanSource publishes whatever the test sends on its handle channel.
type chanSource chan []discovery.Handle

func (s chanSource) Handles(context.Context) <-chan []discovery.Handle     { return s }
func (s chanSource) Templates(context.Context) <-chan []discovery.Template { return nil }
