package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/metrics"
	"github.com/nerrad567/targetd/internal/infrastructure/mqtt"
	"github.com/nerrad567/targetd/internal/watch"
)

// DefaultSettleDelay is how long the MQTT source waits after subscribing
// before it reports its first sets, so retained announcements are included.
const DefaultSettleDelay = 500 * time.Millisecond

// DefaultPlaceholderTTL is how long a requested template instance stays
// listed without its agent announcing it.
const DefaultPlaceholderTTL = 2 * time.Minute

// MQTTOptions configures an MQTTSource.
type MQTTOptions struct {
	QoS byte

	// SettleDelay defaults to DefaultSettleDelay. Negative means no delay.
	SettleDelay time.Duration

	// PlaceholderTTL defaults to DefaultPlaceholderTTL. Negative keeps
	// placeholders until withdrawn.
	PlaceholderTTL time.Duration

	// NewID generates template instance IDs. Defaults to uuid.NewString.
	NewID func() string

	Logger  Logger
	Metrics *metrics.Metrics
}

// MQTTSource is a discovery.Source fed by device agents over MQTT.
type MQTTSource struct {
	broker  Broker
	qos     byte
	settle  time.Duration
	ttl     time.Duration
	newID   func() string
	logger  Logger
	metrics *metrics.Metrics
	topics  mqtt.Topics

	mu        sync.Mutex
	started   bool
	handles   map[string]*mqttHandle
	templates map[string]*mqttTemplate
	// states holds the latest state per handle ID, including states that
	// arrived before their handle's announcement.
	states map[string]discovery.HandleState

	ready       *watch.Value[bool]
	handleSet   *watch.Value[[]discovery.Handle]
	templateSet *watch.Value[[]discovery.Template]
}

// NewMQTTSource creates a source. Call Start once the broker is connected.
func NewMQTTSource(b Broker, opts MQTTOptions) *MQTTSource {
	s := &MQTTSource{
		broker:      b,
		qos:         opts.QoS,
		settle:      opts.SettleDelay,
		ttl:         opts.PlaceholderTTL,
		newID:       opts.NewID,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		handles:     make(map[string]*mqttHandle),
		templates:   make(map[string]*mqttTemplate),
		states:      make(map[string]discovery.HandleState),
		ready:       watch.NewValue(false, func(a, b bool) bool { return a == b }),
		handleSet:   watch.NewValue([]discovery.Handle{}, sameHandles),
		templateSet: watch.NewValue([]discovery.Template{}, sameTemplates),
	}
	if s.settle == 0 {
		s.settle = DefaultSettleDelay
	}
	if s.ttl == 0 {
		s.ttl = DefaultPlaceholderTTL
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

// Start subscribes to the provisioning and state topics.
func (s *MQTTSource) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{s.topics.AllHandleStates(), s.onState},
		{s.topics.AllProvisionHandles(), s.onHandle},
		{s.topics.AllProvisionTemplates(), s.onTemplate},
	}
	for _, sub := range subs {
		if err := s.broker.Subscribe(sub.topic, s.qos, sub.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", sub.topic, err)
		}
	}

	if s.settle < 0 {
		s.ready.Set(true)
	} else {
		time.AfterFunc(s.settle, func() { s.ready.Set(true) })
	}
	s.logger.Info("MQTT provisioning started")
	return nil
}

// Stop unsubscribes from the broker. Handles and templates stay as they are.
func (s *MQTTSource) Stop() {
	for _, topic := range []string{s.topics.AllHandleStates(), s.topics.AllProvisionHandles(), s.topics.AllProvisionTemplates()} {
		if err := s.broker.Unsubscribe(topic); err != nil {
			s.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// Handles implements discovery.Source.
func (s *MQTTSource) Handles(ctx context.Context) <-chan []discovery.Handle {
	return forwardWhenReady(ctx, s.ready, s.handleSet)
}

// Templates implements discovery.Source.
func (s *MQTTSource) Templates(ctx context.Context) <-chan []discovery.Template {
	return forwardWhenReady(ctx, s.ready, s.templateSet)
}

func (s *MQTTSource) onHandle(topic string, payload []byte) error {
	id, ok := mqtt.LastSegment(topic)
	if !ok {
		return s.reject("handle", fmt.Errorf("%w: no id in %s", ErrInvalidAnnouncement, topic))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) == 0 {
		if h, ok := s.handles[id]; ok {
			h.stopExpiry()
			delete(s.handles, id)
			delete(s.states, id)
			s.logger.Info("handle withdrawn", "id", id)
			s.publishHandlesLocked()
		}
		s.metrics.IncProvisionMessage("handle", "withdrawn")
		return nil
	}

	var ann handleAnnouncement
	if err := json.Unmarshal(payload, &ann); err != nil {
		return s.reject("handle", fmt.Errorf("%w: handle %s: %w", ErrInvalidAnnouncement, id, err))
	}
	if err := device.ValidateID(id); err != nil {
		return s.reject("handle", err)
	}

	state, ok := s.states[id]
	if existing, found := s.handles[id]; found {
		if !existing.placeholder {
			if existing.templateID != ann.TemplateID || existing.bootable != ann.Bootable {
				s.logger.Warn("ignoring changed handle announcement; withdraw it first", "id", id)
			}
			s.metrics.IncProvisionMessage("handle", "unchanged")
			return nil
		}
		// The agent's announcement supersedes the placeholder targetd made
		// when it requested the instance. Subscribers see a new handle.
		existing.stopExpiry()
		if !ok {
			state = existing.state.Get()
		}
		delete(s.handles, id)
		s.publishHandlesLocked()
	}
	if !ok && ann.Name != "" {
		state.Name = ann.Name
	}
	s.handles[id] = newMQTTHandle(s, id, ann.TemplateID, ann.Bootable, state)
	s.logger.Info("handle announced", "id", id, "template_id", ann.TemplateID, "bootable", ann.Bootable)
	s.publishHandlesLocked()
	s.metrics.IncProvisionMessage("handle", "announced")
	return nil
}

func (s *MQTTSource) onTemplate(topic string, payload []byte) error {
	id, ok := mqtt.LastSegment(topic)
	if !ok {
		return s.reject("template", fmt.Errorf("%w: no id in %s", ErrInvalidAnnouncement, topic))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) == 0 {
		if _, ok := s.templates[id]; ok {
			delete(s.templates, id)
			s.logger.Info("template withdrawn", "id", id)
			s.publishTemplatesLocked()
		}
		s.metrics.IncProvisionMessage("template", "withdrawn")
		return nil
	}

	var ann templateAnnouncement
	if err := json.Unmarshal(payload, &ann); err != nil {
		return s.reject("template", fmt.Errorf("%w: template %s: %w", ErrInvalidAnnouncement, id, err))
	}
	if err := device.ValidateID(id); err != nil {
		return s.reject("template", err)
	}
	if _, ok := s.templates[id]; ok {
		s.metrics.IncProvisionMessage("template", "unchanged")
		return nil
	}

	s.templates[id] = &mqttTemplate{
		source:     s,
		id:         id,
		name:       ann.Name,
		properties: ann.Properties,
		snapshots:  ann.Snapshots,
	}
	s.logger.Info("template announced", "id", id, "name", ann.Name)
	s.publishTemplatesLocked()
	s.metrics.IncProvisionMessage("template", "announced")
	return nil
}

func (s *MQTTSource) onState(topic string, payload []byte) error {
	id, ok := mqtt.LastSegment(topic)
	if !ok || len(payload) == 0 {
		return nil
	}

	var state discovery.HandleState
	if err := json.Unmarshal(payload, &state); err != nil {
		return s.reject("state", fmt.Errorf("%w: state of %s: %w", ErrInvalidAnnouncement, id, err))
	}

	s.mu.Lock()
	s.states[id] = state
	h := s.handles[id]
	s.mu.Unlock()

	if h != nil {
		h.state.Set(state)
	}
	s.metrics.IncProvisionMessage("state", "accepted")
	return nil
}

func (s *MQTTSource) reject(kind string, err error) error {
	s.metrics.IncProvisionMessage(kind, "rejected")
	return err
}

func (s *MQTTSource) publishHandlesLocked() {
	ids := slices.Sorted(maps.Keys(s.handles))
	set := make([]discovery.Handle, 0, len(ids))
	for _, id := range ids {
		set = append(set, s.handles[id].asHandle())
	}
	s.handleSet.Set(set)
}

func (s *MQTTSource) publishTemplatesLocked() {
	ids := slices.Sorted(maps.Keys(s.templates))
	set := make([]discovery.Template, 0, len(ids))
	for _, id := range ids {
		set = append(set, s.templates[id])
	}
	s.templateSet.Set(set)
}

func (s *MQTTSource) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.broker.Publish(topic, payload, s.qos, false)
}

// instantiate asks the agent owning template t for a new instance and
// registers an offline placeholder handle for it, so the instance is
// selectable before the agent announces it.
func (s *MQTTSource) instantiate(t *mqttTemplate, boot device.BootOption) (discovery.Handle, error) {
	id := s.newID()
	cmd := instantiateCommand{InstanceID: id, Boot: boot}
	if err := s.publish(s.topics.TemplateInstantiate(t.id), cmd); err != nil {
		return nil, fmt.Errorf("publishing instantiate command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[id]; ok {
		return h.asHandle(), nil
	}
	h := newMQTTHandle(s, id, t.id, false, discovery.HandleState{Name: t.name, Kind: device.KindVirtual})
	h.placeholder = true
	if s.ttl > 0 {
		h.expiry = time.AfterFunc(s.ttl, func() { s.expirePlaceholder(h) })
	}
	s.handles[id] = h
	s.publishHandlesLocked()
	s.logger.Info("template instance requested", "template", t.id, "instance", id, "boot", boot.String())
	return h, nil
}

// expirePlaceholder drops h if its agent never announced it.
func (s *MQTTSource) expirePlaceholder(h *mqttHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[h.id] != h || !h.placeholder {
		return
	}
	delete(s.handles, h.id)
	delete(s.states, h.id)
	s.publishHandlesLocked()
	s.metrics.IncProvisionMessage("handle", "expired")
	s.logger.Warn("template instance was never announced", "instance", h.id, "template", h.templateID, "after", s.ttl)
}
