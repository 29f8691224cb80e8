package runconfig

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/targetd/internal/device"
)

// Evaluator judges devices against the requirements of the registered run
// configurations:
//
//   - API level below MinAPILevel is an error: the build cannot install.
//   - A device that does not list RequiredABI gets a warning: the build may
//     still run under translation.
//   - Unknown properties get a warning when the configuration needs them.
//
// An empty or unregistered run configuration name is compatible with every
// device. Evaluator implements discovery.Evaluator.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator creates an evaluator reading rules from r.
func NewEvaluator(r *Registry) *Evaluator {
	return &Evaluator{registry: r}
}

// Evaluate returns the compatibility of d with the run configuration runConfig.
func (e *Evaluator) Evaluate(ctx context.Context, d device.Device, runConfig string) (device.Compatibility, error) {
	if err := ctx.Err(); err != nil {
		return device.Compatibility{}, err
	}
	rc, ok := e.registry.Get(runConfig)
	if !ok {
		return device.Compatible, nil
	}
	return Check(rc, d), nil
}

// Check applies the rules of rc to d.
func Check(rc RunConfig, d device.Device) device.Compatibility {
	verdict := device.Compatible

	if rc.MinAPILevel > 0 {
		level, err := strconv.Atoi(strings.TrimSpace(d.Properties[device.PropAPILevel]))
		switch {
		case err != nil:
			verdict = worst(verdict, device.Compatibility{
				State:  device.CompatibilityWarning,
				Reason: "device API level unknown",
			})
		case level < rc.MinAPILevel:
			return device.Compatibility{
				State:  device.CompatibilityError,
				Reason: fmt.Sprintf("requires API level %d, device has %d", rc.MinAPILevel, level),
			}
		}
	}

	if rc.RequiredABI != "" {
		abis := splitList(d.Properties[device.PropABI])
		switch {
		case len(abis) == 0:
			verdict = worst(verdict, device.Compatibility{
				State:  device.CompatibilityWarning,
				Reason: "device ABI unknown",
			})
		case !slices.Contains(abis, rc.RequiredABI):
			verdict = worst(verdict, device.Compatibility{
				State:  device.CompatibilityWarning,
				Reason: fmt.Sprintf("build targets %s, device supports %s", rc.RequiredABI, strings.Join(abis, ", ")),
			})
		}
	}

	return verdict
}

// worst keeps the first verdict of the highest severity.
func worst(a, b device.Compatibility) device.Compatibility {
	if b.State > a.State {
		return b
	}
	return a
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
