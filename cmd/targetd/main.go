// targetd - deployment target reconciliation service.
//
// targetd aggregates physical devices and virtual device templates from
// provisioning sources, resolves the user's stored target selection against
// the live device list per run configuration, and serves the result over
// HTTP, WebSocket and MQTT.
//
// Usage:
//
//	targetd serve --config configs/config.yaml
//	targetd token --subject alice --role operator
//	targetd migrate status
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/targetd/internal/api"
	"github.com/nerrad567/targetd/internal/audit"
	"github.com/nerrad567/targetd/internal/auth"
	"github.com/nerrad567/targetd/internal/discovery"
	"github.com/nerrad567/targetd/internal/infrastructure/config"
	"github.com/nerrad567/targetd/internal/infrastructure/database"
	"github.com/nerrad567/targetd/internal/infrastructure/influxdb"
	"github.com/nerrad567/targetd/internal/infrastructure/logging"
	"github.com/nerrad567/targetd/internal/infrastructure/metrics"
	"github.com/nerrad567/targetd/internal/infrastructure/mqtt"
	"github.com/nerrad567/targetd/internal/provision"
	"github.com/nerrad567/targetd/internal/relay"
	"github.com/nerrad567/targetd/internal/runconfig"
	"github.com/nerrad567/targetd/internal/selection"
	"github.com/nerrad567/targetd/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

var configPath string

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "targetd",
		Short: "targetd - deployment target reconciliation service",
		Long: `targetd tracks connected devices and launchable virtual device templates
and keeps the selected deployment targets of every run configuration up to date.

Run the service:
  targetd serve

Issue an API token:
  targetd token --subject alice --role operator`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default $TARGETD_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(newServeCmd(), newTokenCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the targetd service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed API access token",
		Long: `Print a signed API access token for the JWT secret in the configuration.

Roles:
  viewer    read devices, targets and run configurations
  operator  viewer, plus change selections and launch targets
  admin     operator, plus add and delete run configurations`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(getConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set; authentication is disabled")
			}
			if ttl <= 0 {
				ttl = cfg.GetAccessTokenTTL()
			}
			token, err := auth.GenerateAccessToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (user or CI job name)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "role: viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	//nolint:errcheck // flag is defined above
	cmd.MarkFlagRequired("subject")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Manage the database schema. serve applies pending migrations on start;
these commands exist for inspecting and rolling back a deployment.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), func(ctx context.Context, db *database.DB) error {
					return db.Migrate(ctx, migrations.FS)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recently applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), func(ctx context.Context, db *database.DB) error {
					return db.MigrateDown(ctx, migrations.FS)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), func(ctx context.Context, db *database.DB) error {
					applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					for _, r := range applied {
						fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
					}
					for _, m := range pending {
						fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

// withDatabase opens the configured database for a one-shot command.
func withDatabase(ctx context.Context, fn func(context.Context, *database.DB) error) (err error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing database: %w", closeErr)
		}
	}()
	return fn(ctx, db)
}

// run is the service, separated from the command for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting targetd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, cfg.Service.Name, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	m := metrics.New()
	checks := map[string]api.HealthChecker{"database": db}

	registry, err := runconfig.NewRegistry(runconfig.FromConfig(cfg.RunConfig), cfg.ActiveRunConfig)
	if err != nil {
		return fmt.Errorf("loading run configurations: %w", err)
	}
	log.Info("run configurations loaded",
		"count", len(registry.List()),
		"active", registry.Active().Get(),
	)

	gateway := selection.NewSQLiteRepository(db.DB)
	pruneSelections(ctx, gateway, registry, log)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var history *influxdb.History
	if cfg.InfluxDB.Enabled {
		history, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := history.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		history.SetOnError(func(err error) {
			m.IncRelayFailure("influxdb")
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = history
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Provisioning sources
	local := provision.NewLocalSource(cfg.Discovery.Emulator, log.Component("emulator"))
	defer func() {
		log.Info("stopping emulators")
		local.Stop()
	}()
	sources := []discovery.Source{local}
	if cfg.Discovery.MQTTProvisioning {
		if mqttClient == nil {
			return errors.New("discovery.mqtt_provisioning requires mqtt.enabled")
		}
		remote := provision.NewMQTTSource(mqttClient, provision.MQTTOptions{
			QoS:     byte(cfg.MQTT.QoS),
			Logger:  log.Component("provision"),
			Metrics: m,
		})
		if startErr := remote.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT provisioning: %w", startErr)
		}
		defer remote.Stop()
		sources = append(sources, remote)
		log.Info("MQTT provisioning enabled", "subscriptions", mqttClient.SubscriptionCount())
	}

	aggregator := discovery.New(discovery.Options{
		Source:        provision.Merge(sources...),
		Evaluator:     runconfig.NewEvaluator(registry),
		RunConfig:     registry.Active().Get(),
		Logger:        log.Component("discovery"),
		Metrics:       m,
		CompatTimeout: cfg.GetCompatTimeout(),
	})

	reconciler := selection.New(selection.Options{
		Devices:        aggregator.Devices(),
		RunConfig:      registry.Active(),
		Gateway:        gateway,
		Logger:         log.Component("selection"),
		Metrics:        m,
		PersistTimeout: cfg.GetPersistTimeout(),
	})
	registry.OnDelete(reconciler.DeleteRunConfig)
	registry.OnChange(aggregator.Reevaluate)

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Metrics:    m,
		Selector:   reconciler,
		Devices:    aggregator,
		RunConfigs: registry,
		Processes:  local.Processes,
		Checks:     checks,
		Audit:      audit.NewSQLiteRepository(db.DB),
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	relayOpts := relay.Options{
		Output:   reconciler.Output(),
		Selected: reconciler.SelectedTargets(),
		Devices:  aggregator.Devices(),
		Hub:      server.Hub(),
		Logger:   log.Component("relay"),
		Metrics:  m,
	}
	if mqttClient != nil {
		relayOpts.MQTT = mqttClient
	}
	if history != nil {
		relayOpts.Influx = history
	}
	out := relay.New(relayOpts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return aggregator.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return out.Run(gctx) })
	g.Go(func() error {
		// The aggregator reads the run configuration for compatibility checks.
		for name := range registry.Active().Subscribe(gctx) {
			aggregator.SetRunConfig(name)
		}
		return nil
	})

	if startErr := server.Start(gctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	log.Info("targetd stopped")
	return nil
}

// pruneSelections removes stored selections of run configurations that are no
// longer configured. Failures are logged; stale rows are harmless.
func pruneSelections(ctx context.Context, gw *selection.SQLiteRepository, registry *runconfig.Registry, log *logging.Logger) {
	stored, err := gw.List(ctx)
	if err != nil {
		log.Warn("listing stored selections failed", "error", err)
		return
	}
	known := registry.List()
	for _, name := range stored {
		if slices.ContainsFunc(known, func(rc runconfig.RunConfig) bool { return rc.Name == name }) {
			continue
		}
		if err := gw.Delete(ctx, name); err != nil {
			log.Warn("pruning stored selection failed", "run_config", name, "error", err)
			continue
		}
		log.Info("pruned selection of removed run configuration", "run_config", name)
	}
}

// getConfigPath returns the configuration file path: the --config flag, then
// the TARGETD_CONFIG environment variable, then the default.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv("TARGETD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
