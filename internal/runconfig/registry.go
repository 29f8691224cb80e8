package runconfig

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/targetd/internal/infrastructure/config"
	"github.com/nerrad567/targetd/internal/watch"
)

// RunConfig is a named build/launch profile and its device requirements.
type RunConfig struct {
	Name string `json:"name"`

	// MinAPILevel is the lowest device API level that can run the build; 0
	// means any.
	MinAPILevel int `json:"min_api_level,omitempty"`

	// RequiredABI is the native ABI the build ships, or "" for ABI-neutral builds.
	RequiredABI string `json:"required_abi,omitempty"`
}

// Validate checks the name and requirements.
func (rc RunConfig) Validate() error {
	if strings.TrimSpace(rc.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.ContainsRune(rc.Name, '/') {
		// Names are used as MQTT topic levels and URL path segments.
		return fmt.Errorf("%w: name %q contains '/'", ErrInvalid, rc.Name)
	}
	if rc.MinAPILevel < 0 {
		return fmt.Errorf("%w: min_api_level must not be negative", ErrInvalid)
	}
	return nil
}

// FromConfig converts the run_configs section of the configuration file.
func FromConfig(cfgs []config.RunConfigConfig) []RunConfig {
	out := make([]RunConfig, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, RunConfig{Name: c.Name, MinAPILevel: c.MinAPILevel, RequiredABI: c.RequiredABI})
	}
	return out
}

// Registry holds the known run configurations in registration order and
// publishes the active one.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	configs  []RunConfig
	active   *watch.Value[string]
	onDelete []func(name string)
	onChange []func()
}

// NewRegistry creates a registry. active must name one of configs, or be
// empty to pick the first.
func NewRegistry(configs []RunConfig, active string) (*Registry, error) {
	r := &Registry{active: watch.NewValue("", func(a, b string) bool { return a == b })}
	for _, rc := range configs {
		if err := r.Add(rc); err != nil {
			return nil, err
		}
	}
	if active != "" {
		if err := r.SetActive(active); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Active publishes the active run configuration name, "" when none.
func (r *Registry) Active() *watch.Value[string] {
	return r.active
}

// SetActive switches the active run configuration.
func (r *Registry) SetActive(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.indexLocked(name) < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	r.active.Set(name)
	return nil
}

// Get returns the run configuration called name.
func (r *Registry) Get(name string) (RunConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(name)
	if i < 0 {
		return RunConfig{}, false
	}
	return r.configs[i], true
}

// List returns all run configurations in registration order.
func (r *Registry) List() []RunConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.configs)
}

// Add registers rc and runs the OnChange callbacks. The first configuration
// added to an empty registry becomes active.
func (r *Registry) Add(rc RunConfig) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.indexLocked(rc.Name) >= 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicate, rc.Name)
	}
	r.configs = append(r.configs, rc)
	if r.active.Get() == "" {
		r.active.Set(rc.Name)
	}
	changed := slices.Clone(r.onChange)
	r.mu.Unlock()

	for _, fn := range changed {
		fn()
	}
	return nil
}

// Delete removes the run configuration called name and runs the OnDelete
// and OnChange callbacks. Deleting the active configuration activates the first
// remaining one.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	i := r.indexLocked(name)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	r.configs = slices.Delete(r.configs, i, i+1)
	if r.active.Get() == name {
		next := ""
		if len(r.configs) > 0 {
			next = r.configs[0].Name
		}
		r.active.Set(next)
	}
	callbacks := slices.Clone(r.onDelete)
	changed := slices.Clone(r.onChange)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(name)
	}
	for _, fn := range changed {
		fn()
	}
	return nil
}

// OnDelete registers fn to run after a run configuration is deleted.
func (r *Registry) OnDelete(fn func(name string)) {
	r.mu.Lock()
	r.onDelete = append(r.onDelete, fn)
	r.mu.Unlock()
}

// OnChange registers fn to run after a run configuration is added or
// deleted. A name can come back with different rules, so verdicts computed
// against the old rules are stale even when the active name is unchanged.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

func (r *Registry) indexLocked(name string) int {
	return slices.IndexFunc(r.configs, func(rc RunConfig) bool { return rc.Name == name })
}
