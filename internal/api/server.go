package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/targetd/internal/audit"
	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/config"
	"github.com/nerrad567/targetd/internal/infrastructure/logging"
	"github.com/nerrad567/targetd/internal/infrastructure/metrics"
	"github.com/nerrad567/targetd/internal/process"
	"github.com/nerrad567/targetd/internal/relay"
	"github.com/nerrad567/targetd/internal/runconfig"
	"github.com/nerrad567/targetd/internal/selection"
	"github.com/nerrad567/targetd/internal/watch"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Selector is the part of *selection.Reconciler the server uses.
type Selector interface {
	Output() *watch.Value[selection.Snapshot]
	Current() (selection.DevicesAndTargets, bool)
	SelectTarget(runConfig string, id device.TargetID) error
	SelectTargets(runConfig string, ids []device.TargetID) error
	Selection(runConfig string) selection.State
}

// Devices is the part of *discovery.Aggregator the server uses.
type Devices interface {
	Devices() *watch.Value[discovery.DeviceList]
	Known(ctx context.Context) ([]device.Device, error)
	LaunchableHandle(ctx context.Context, t device.Target) (discovery.Handle, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	Selector   Selector
	Devices    Devices
	RunConfigs *runconfig.Registry

	// Processes lists locally launched emulators. Optional.
	Processes func() []process.Stats

	// Checks are reported by the health endpoint, keyed by name. Optional.
	Checks map[string]HealthChecker

	// Audit records selection, launch and run configuration changes. Optional.
	Audit audit.Repository

	// LaunchTimeout bounds one target launch. Defaults to 30 seconds.
	LaunchTimeout time.Duration

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for targetd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	secCfg        config.SecurityConfig
	logger        *logging.Logger
	metrics       *metrics.Metrics
	selector      Selector
	devices       Devices
	runConfigs    *runconfig.Registry
	processes     func() []process.Stats
	checks        map[string]HealthChecker
	audit         audit.Repository
	launchTimeout time.Duration
	version       string
	startTime     time.Time
	tickets       *ticketStore
	server        *http.Server
	hub           *Hub
	cancel        context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Selector == nil {
		return nil, fmt.Errorf("selector is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("devices are required")
	}
	if deps.RunConfigs == nil {
		return nil, fmt.Errorf("run configuration registry is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		secCfg:        deps.Security,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		selector:      deps.Selector,
		devices:       deps.Devices,
		runConfigs:    deps.RunConfigs,
		processes:     deps.Processes,
		checks:        deps.Checks,
		audit:         deps.Audit,
		launchTimeout: deps.LaunchTimeout,
		version:       deps.Version,
		startTime:     time.Now(),
		tickets:       newTicketStore(),
		hub:           deps.ExternalHub,
	}
	if s.launchTimeout <= 0 {
		s.launchTimeout = 30 * time.Second
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger, s.metrics)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for relaying events to clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub.SetReplay(relay.ChannelTargets, s.targetsEvent)
	go s.hub.Run(srvCtx)

	// Start periodic ticket cleanup to prevent memory leaks
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
