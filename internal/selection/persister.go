package selection

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/targetd/internal/infrastructure/metrics"
	"github.com/nerrad567/targetd/internal/watch"
)

// DefaultPersistTimeout bounds a single gateway write.
const DefaultPersistTimeout = 5 * time.Second

// persistOp is a pending write. A nil state means delete.
type persistOp struct {
	state *State
}

// persister writes selection state in the background. Only the latest
// pending operation per run configuration is kept; failures are logged and
// counted and never reach the caller.
type persister struct {
	gateway Gateway
	logger  Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]persistOp
	wake    *watch.Mailbox[struct{}]
	idle    *watch.Value[bool]
}

func newPersister(gw Gateway, logger Logger, m *metrics.Metrics, timeout time.Duration) *persister {
	return &persister{
		gateway: gw,
		logger:  logger,
		metrics: m,
		timeout: timeout,
		pending: make(map[string]persistOp),
		wake:    watch.NewMailbox[struct{}](),
		idle:    watch.NewValue(true, func(a, b bool) bool { return a == b }),
	}
}

func (p *persister) save(runConfig string, s State) {
	p.enqueue(runConfig, persistOp{state: &s})
}

func (p *persister) delete(runConfig string) {
	p.enqueue(runConfig, persistOp{})
}

func (p *persister) enqueue(runConfig string, op persistOp) {
	if p.gateway == nil {
		return
	}
	p.mu.Lock()
	p.pending[runConfig] = op
	p.idle.Set(false)
	p.mu.Unlock()
	p.wake.Put(struct{}{})
}

// run drains pending writes until ctx is done, then makes one last
// best-effort pass.
func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain(context.Background())
			return
		case <-p.wake.C():
			p.drain(ctx)
		}
	}
}

func (p *persister) drain(ctx context.Context) {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.idle.Set(true)
			p.mu.Unlock()
			return
		}
		batch := p.pending
		p.pending = make(map[string]persistOp)
		p.mu.Unlock()

		for runConfig, op := range batch {
			p.write(ctx, runConfig, op)
		}
	}
}

func (p *persister) write(ctx context.Context, runConfig string, op persistOp) {
	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var err error
	name := "save"
	if op.state == nil {
		name = "delete"
		err = p.gateway.Delete(wctx, runConfig)
	} else {
		err = p.gateway.Save(wctx, runConfig, *op.state)
	}
	p.metrics.ObservePersist(name, err)
	if err != nil {
		p.logger.Error("persisting selection state failed",
			"op", name, "run_config", runConfig, "error", err)
		return
	}
	p.logger.Debug("selection state persisted", "op", name, "run_config", runConfig)
}

// flushed waits until no writes are pending.
func (p *persister) flushed(ctx context.Context) error {
	_, err := p.idle.WaitFor(ctx, func(idle bool) bool { return idle })
	return err
}
