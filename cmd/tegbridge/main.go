// tegbridge serves the legacy local JSON API of a battery gateway by
// talking to the gateway's TEDAPI interface.
//
// Subcommands:
//   - serve: run the HTTP front door with optional MQTT, InfluxDB and
//     snapshot persistence (default)
//   - poll: answer one legacy endpoint and print it as JSON
//   - decode: dump a captured protobuf message as text
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-teg/internal/api"
	"github.com/nerrad567/gray-logic-teg/internal/audit"
	"github.com/nerrad567/gray-logic-teg/internal/control"
	"github.com/nerrad567/gray-logic-teg/internal/exporter"
	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-teg/internal/legacy"
	"github.com/nerrad567/gray-logic-teg/internal/metrics"
	"github.com/nerrad567/gray-logic-teg/internal/snapshot"
	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
	"github.com/nerrad567/gray-logic-teg/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errNoData is returned by poll when the gateway produced nothing.
var errNoData = errors.New("no data returned (gateway unreachable or in cooldown)")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. Running the root with no
// subcommand serves.
func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tegbridge",
		Short:         "Legacy local API bridge for TEDAPI battery gateways",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"path to YAML config (empty: environment only)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the legacy API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.RunE = serve.RunE

	var opts legacy.Options
	poll := &cobra.Command{
		Use:   "poll <endpoint>",
		Short: "Answer one legacy endpoint and print the JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(cmd.Context(), configPath, args[0], opts, cmd.OutOrStdout())
		},
	}
	poll.Flags().BoolVar(&opts.Force, "force", false, "bypass the document cache")
	poll.Flags().BoolVar(&opts.Raw, "raw", false, "print the source TEDAPI document")

	decode := &cobra.Command{
		Use:   "decode <file>",
		Short: "Dump a captured TEDAPI protobuf message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading message: %w", err)
			}
			return tedapi.Dump(cmd.OutOrStdout(), data)
		},
	}

	root.AddCommand(serve, poll, decode)
	return root
}

// getConfigPath returns the configuration file path from TEGBRIDGE_CONFIG.
// The empty default loads configuration from the environment alone.
func getConfigPath() string {
	return os.Getenv("TEGBRIDGE_CONFIG")
}

// loadConfig loads configuration and builds the configured logger.
func loadConfig(configPath string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	for _, w := range cfg.Warnings() {
		log.Warn("configuration warning", "detail", w)
	}
	return cfg, log, nil
}

// newGatewayClient builds the TEDAPI client from configuration.
//
// Parameters:
//   - cfg: Application configuration
//   - log: Logger for the client
//
// Returns:
//   - *tedapi.Client: Client ready to connect
//   - error: If a query signature cannot be decoded or the config is invalid
func newGatewayClient(cfg *config.Config, log *logging.Logger) (*tedapi.Client, error) {
	queries, err := gatewayQueries(cfg.Gateway.Queries)
	if err != nil {
		return nil, err
	}

	client, err := tedapi.NewClient(tedapi.Config{
		Host:     cfg.Gateway.Host,
		Password: cfg.Gateway.Password,
		Timeout:  cfg.GatewayTimeout(),
		TTL: tedapi.TTLPolicy{
			Status: cfg.StatusTTL(),
			Config: cfg.ConfigTTL(),
		},
		Cooldown: cfg.Cooldown(),
		Queries:  queries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway client: %w", err)
	}
	client.SetLogger(log.Component("tedapi"))
	return client, nil
}

func gatewayQueries(qc config.QueriesConfig) (tedapi.Queries, error) {
	convert := func(name string, q config.QueryConfig) (tedapi.Query, error) {
		sig, err := q.SignatureBytes()
		if err != nil {
			return tedapi.Query{}, fmt.Errorf("gateway.queries.%s: %w", name, err)
		}
		return tedapi.Query{Text: q.Text, Signature: sig, Vars: q.Vars}, nil
	}

	var out tedapi.Queries
	var err error
	if out.Status, err = convert("status", qc.Status); err != nil {
		return out, err
	}
	if out.Components, err = convert("components", qc.Components); err != nil {
		return out, err
	}
	if out.Controller, err = convert("controller", qc.Controller); err != nil {
		return out, err
	}
	if out.Battery, err = convert("battery", qc.Battery); err != nil {
		return out, err
	}
	return out, nil
}

// connectGateway resolves the gateway identity. Failure is not fatal:
// every read retries, and restored snapshots can answer in the meantime.
func connectGateway(ctx context.Context, client *tedapi.Client, log *logging.Logger) {
	din, err := client.Connect(ctx)
	if err != nil {
		log.Warn("gateway not reachable at startup", "host", client.Host(), "error", err)
		return
	}
	log.Info("gateway connected", "host", client.Host(), "din", din, "gen3", client.Gen3())
}

// run is the serve command, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML config path, or "" for environment only
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log.Info("starting tegbridge", "version", version, "commit", commit, "build_date", date)

	client, err := newGatewayClient(cfg, log)
	if err != nil {
		return err
	}
	m := metrics.New()
	client.SetMetrics(m)

	checks := make(map[string]api.HealthChecker)

	// Snapshot store and control audit (optional)
	var auditor api.Auditor
	if cfg.Database.Enabled {
		db, closeDB, dbErr := openSnapshots(ctx, cfg, client, log)
		if dbErr != nil {
			return dbErr
		}
		defer closeDB()
		checks["database"] = db
		auditor = audit.NewSQLiteRepository(db.DB)
	} else {
		log.Info("snapshot store disabled")
	}

	connectGateway(ctx, client, log)

	// MQTT (optional): control operator and refresh commands
	var mqttClient *mqtt.Client
	var operator legacy.Operator
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", mqttClient.Topics().Prefix(),
		)

		op := control.NewMQTTOperator(mqttClient, mqttClient.Topics())
		op.SetLogger(log.Component("control"))
		operator = op

		refreshTopic := mqttClient.Topics().Command(mqtt.CommandRefresh)
		if subErr := mqttClient.Subscribe(refreshTopic, byte(cfg.MQTT.QoS), exporter.RefreshHandler(client, log.Component("refresh"))); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", refreshTopic, subErr)
		}
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	dispatcher := legacy.NewDispatcher(client, legacy.Config{
		ControlSecret: cfg.Control.Secret,
		Operator:      operator,
		Logger:        log.Component("legacy"),
	})

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Telemetry exporter (optional)
	if cfg.Exporter.Enabled {
		exp := exporter.New(dispatcher, exporterConfig(cfg, mqttClient, influxClient, m, log))
		exp.Start(ctx)
		defer func() {
			log.Info("stopping exporter")
			exp.Stop()
		}()
		log.Info("exporter started", "interval", cfg.ExporterInterval())
	}

	srv, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log.Component("api"),
		Dispatcher: dispatcher,
		Gateway:    client,
		Metrics:    m.Handler(),
		Polls:      m,
		Checks:     checks,
		Audit:      auditor,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"control_enabled", dispatcher.ControlEnabled(),
	)
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API, exporter, InfluxDB,
	// MQTT, database.
	return nil
}

// openSnapshots opens the database, applies migrations, restores the last
// persisted documents into the cache and persists every later commit.
func openSnapshots(ctx context.Context, cfg *config.Config, client *tedapi.Client, log *logging.Logger) (*database.DB, func(), error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	closeDB := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	repo := snapshot.NewSQLiteRepository(db.DB)
	repo.SetLogger(log.Component("snapshot"))
	restored, err := repo.Restore(ctx, client.Cache())
	if err != nil {
		log.Warn("restoring snapshots failed", "error", err)
	}
	repo.Attach(client.Cache())
	log.Info("snapshot store ready", "path", db.Path(), "restored", restored)
	return db, closeDB, nil
}

// exporterConfig wires whichever sinks are connected. Nil clients are left
// as nil interfaces.
func exporterConfig(cfg *config.Config, mqttClient *mqtt.Client, influxClient *influxdb.Client, m *metrics.Metrics, log *logging.Logger) exporter.Config {
	ec := exporter.Config{
		Interval: cfg.ExporterInterval(),
		Observer: m,
		Logger:   log.Component("exporter"),
	}
	if mqttClient != nil {
		ec.Topics = mqttClient.Topics()
		ec.Publisher = mqttClient
	}
	if influxClient != nil {
		ec.Points = influxClient
	}
	return ec
}

// runPoll answers one legacy endpoint without starting any service.
func runPoll(ctx context.Context, configPath, endpoint string, opts legacy.Options, out io.Writer) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newGatewayClient(cfg, log)
	if err != nil {
		return err
	}
	connectGateway(ctx, client, log)

	dispatcher := legacy.NewDispatcher(client, legacy.Config{Logger: log.Component("legacy")})
	res := dispatcher.Poll(ctx, endpoint, opts)
	if res.Err != nil {
		return res.Err
	}
	if res.Value == nil {
		return errNoData
	}
	return writeIndented(out, res.Value)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return nil
}
