package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/watch"
)

// handleEntry is the coordinator's record of one handle and its worker.
type handleEntry struct {
	handle Handle
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	reeval *watch.Mailbox[string]
	device *device.Device
}

func (e *handleEntry) stop() {
	e.cancel()
	<-e.done
}

type templateEntry struct {
	template Template
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	reeval   *watch.Mailbox[string]
	device   *device.Device
}

func (e *templateEntry) stop() {
	e.cancel()
	<-e.done
}

func (a *Aggregator) nextGen() uint64 {
	a.gen++
	return a.gen
}

func (a *Aggregator) startHandle(parent context.Context, h Handle) *handleEntry {
	ctx, cancel := context.WithCancel(parent)
	e := &handleEntry{
		handle: h,
		gen:    a.nextGen(),
		cancel: cancel,
		done:   make(chan struct{}),
		reeval: watch.NewMailbox[string](),
	}
	go a.handleWorker(ctx, e.handle, e.gen, a.runConfig, e.reeval, e.done)
	return e
}

// handleWorker follows one handle's state stream. Every new state, and every
// run configuration change once a state is known, is evaluated and reported.
func (a *Aggregator) handleWorker(ctx context.Context, h Handle, gen uint64, runConfig string, reeval *watch.Mailbox[string], done chan struct{}) {
	defer close(done)

	id := h.ID()
	states := h.States(ctx)
	var (
		state HandleState
		known bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if known && s.Equal(state) {
				continue
			}
			state, known = s, true
		case runConfig = <-reeval.C():
			if !known {
				continue
			}
		}

		candidate := device.Device{
			ID:         id,
			TemplateID: h.TemplateID(),
			Kind:       state.Kind,
			Name:       state.Name,
			Online:     state.Online,
			Properties: state.Properties,
			Snapshots:  state.Snapshots,
		}
		compat, ok := a.evaluate(ctx, candidate, runConfig)
		if !ok {
			return
		}
		s, rc := state, runConfig
		a.report(ctx, func() { a.applyHandle(id, gen, rc, s, compat) })
	}
}

func (a *Aggregator) startTemplate(parent context.Context, t Template) *templateEntry {
	ctx, cancel := context.WithCancel(parent)
	e := &templateEntry{
		template: t,
		gen:      a.nextGen(),
		cancel:   cancel,
		done:     make(chan struct{}),
		reeval:   watch.NewMailbox[string](),
	}
	go a.templateWorker(ctx, t, e.gen, a.runConfig, e.reeval, e.done)
	return e
}

// templateWorker evaluates a template once and again on every run
// configuration change.
func (a *Aggregator) templateWorker(ctx context.Context, t Template, gen uint64, runConfig string, reeval *watch.Mailbox[string], done chan struct{}) {
	defer close(done)

	id := t.ID()
	candidate := device.Device{
		ID:         id,
		TemplateID: id,
		IsTemplate: true,
		Kind:       device.KindVirtual,
		Name:       t.Name(),
		Properties: t.Properties(),
		Snapshots:  t.Snapshots(),
	}
	for {
		compat, ok := a.evaluate(ctx, candidate, runConfig)
		if !ok {
			return
		}
		rc := runConfig
		a.report(ctx, func() { a.applyTemplate(id, gen, rc, compat) })

		select {
		case <-ctx.Done():
			return
		case runConfig = <-reeval.C():
		}
	}
}

// evaluate runs the evaluator with a timeout. A failed evaluation yields a
// warning verdict carrying the error. The boolean is false only when ctx was
// cancelled, in which case the worker should exit.
func (a *Aggregator) evaluate(ctx context.Context, d device.Device, runConfig string) (device.Compatibility, bool) {
	if a.evaluator == nil {
		return device.Compatible, true
	}

	ectx, cancel := context.WithTimeout(ctx, a.compatTimeout)
	defer cancel()

	type result struct {
		compat device.Compatibility
		err    error
	}
	results := make(chan result, 1)
	start := time.Now()
	go func() {
		c, err := a.evaluator.Evaluate(ectx, d, runConfig)
		results <- result{c, err}
	}()

	var r result
	select {
	case r = <-results:
	case <-ectx.Done():
		r.err = ectx.Err()
	}
	if ctx.Err() != nil {
		return device.Compatibility{}, false
	}

	if r.err != nil {
		a.metrics.ObserveEvaluation("failed", time.Since(start))
		a.logger.Warn("compatibility evaluation failed",
			"device", d.ID, "run_config", runConfig, "error", r.err)
		return device.Compatibility{
			State:  device.CompatibilityWarning,
			Reason: fmt.Sprintf("compatibility check failed: %v", r.err),
		}, true
	}
	a.metrics.ObserveEvaluation(r.compat.State.String(), time.Since(start))
	return r.compat, true
}
