package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/rishi925-eng/Vital-Trace/internal/alerter"
	"github.com/rishi925-eng/Vital-Trace/internal/api"
	"github.com/rishi925-eng/Vital-Trace/internal/config"
	"github.com/rishi925-eng/Vital-Trace/internal/evaluator"
	"github.com/rishi925-eng/Vital-Trace/internal/events"
	"github.com/rishi925-eng/Vital-Trace/internal/ingest"
	"github.com/rishi925-eng/Vital-Trace/internal/notifier"
	"github.com/rishi925-eng/Vital-Trace/internal/realtime"
	"github.com/rishi925-eng/Vital-Trace/internal/store"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
	"github.com/rishi925-eng/Vital-Trace/internal/version"
)

func main() {
	configDir := flag.String("config", "/config", "Directory holding vitaltrace.yaml, devices.yaml and alerts.yaml")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	info := version.Get()
	if *showVersion {
		fmt.Println(info.String())
		return
	}

	// Capture recent log lines for /api/logs
	logBuffer := api.NewLogBuffer(1000)

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(io.MultiWriter(os.Stdout, logBuffer)).With().
		Timestamp().
		Str("version", info.Version).
		Str("commit", info.Commit).
		Logger()

	logger.Info().Msg("Starting Vital-Trace")

	cfg, err := config.LoadConfigDir(*configDir)
	if err != nil {
		logger.Fatal().Err(err).Str("config_dir", *configDir).Msg("Failed to load configuration")
	}
	logger.Info().Int("device_count", len(cfg.Devices)).Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cannot fail: ValidateConfig already built the catalog and routing.
	catalog, _ := cfg.Catalog()
	routing, _ := cfg.Routing()

	static := store.NewStaticDirectory(cfg.Devices)
	alertStore, devices, closeStore := openStore(ctx, cfg, static, logger)
	defer closeStore()

	hub := realtime.NewHub(logger, originChecker(cfg.Service.Server.AllowedOrigins))
	defer hub.Close()

	dispatcher := notifier.NewDispatcher(notifier.DispatcherConfig{
		Senders: []notifier.Sender{
			notifier.NewRealtimeSender(hub),
			notifier.NewEmailSender(cfg.EmailConfig(), nil),
			notifier.NewSMSSender(cfg.SMSConfig()),
			notifier.NewChatSender(cfg.ChatURL()),
			notifier.NewWebhookSender(cfg.WebhookURL(), cfg.Alerts.Channels.Webhook.Headers),
		},
		Routing:        routing,
		Resolver:       notifier.NewContactBook(cfg.Alerts.Recipients),
		ChannelTimeout: cfg.Service.Dispatch.ChannelTimeout,
	}, logger)

	sup := cfg.Service.Suppression
	engineCfg := alerter.Config{
		Store:      alertStore,
		Devices:    devices,
		Evaluator:  evaluator.NewEvaluator(catalog, logger),
		Tracker:    alerter.NewSuppressionTracker(logger, catalog, sup.FrequencyWindow, sup.FrequencyCap),
		Dispatcher: dispatcher,
	}

	var eventPool *events.Pool
	if ev := cfg.Service.Events; ev.Enabled {
		producer, err := events.NewKafkaProducer(events.KafkaConfig{
			Brokers:      ev.Kafka.Brokers,
			Topic:        ev.Kafka.Topic,
			BatchSize:    ev.BatchSize,
			BatchTimeout: ev.BatchTimeout,
			RequiredAcks: ev.Kafka.RequiredAcks,
			Compression:  ev.Kafka.Compression,
			MaxRetries:   ev.Kafka.MaxRetries,
			RetryBackoff: ev.Kafka.RetryBackoff,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Kafka producer")
		}
		eventPool = events.NewPool(events.PoolConfig{
			Publisher:    producer,
			QueueSize:    ev.QueueSize,
			Workers:      ev.Workers,
			BatchSize:    ev.BatchSize,
			BatchTimeout: ev.BatchTimeout,
		}, logger)
		eventPool.Start()
		dispatcher.AddObserver(eventPool)
		engineCfg.Events = eventPool
		logger.Info().Strs("brokers", ev.Kafka.Brokers).Str("topic", ev.Kafka.Topic).Msg("Publishing alert events")
	}

	engine, err := alerter.NewEngine(engineCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create alert engine")
	}

	// Readings from the bus go through the sharded pool so each device is
	// evaluated serially.
	pool := ingest.NewPool(engine, ingest.PoolConfig{
		Workers:   cfg.Service.Ingest.Workers,
		QueueSize: cfg.Service.Ingest.QueueSize,
	}, logger)
	pool.Start()

	var sub *ingest.Subscriber
	if n := cfg.Service.Ingest.NATS; n.Enabled {
		sub, err = ingest.NewSubscriber(cfg.NATSURL(), pool, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		if err := sub.Subscribe(n.Subject, n.QueueGroup); err != nil {
			logger.Fatal().Err(err).Str("subject", n.Subject).Msg("Failed to subscribe")
		}
	}

	var grpcServer *grpc.Server
	if addr := cfg.Service.Server.GRPCListen; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Fatal().Err(err).Str("address", addr).Msg("Failed to listen for gRPC")
		}
		grpcServer = ingest.NewGRPCServer(engine, logger)
		go func() {
			logger.Info().Str("address", addr).Msg("Starting gRPC ingest server")
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("gRPC server error")
			}
		}()
	}

	apiServer := api.NewServer(api.Options{
		Alerts:      engine,
		Realtime:    hub,
		Logs:        logBuffer,
		DeviceCount: len(cfg.Devices),
		Version:     info.Version,
		Commit:      info.Commit,
		BuildDate:   info.BuildDate,
	}, logger)
	go func() {
		if err := apiServer.Start(cfg.Service.Server.Listen); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	go housekeeping(ctx, engine.Tracker(), sup.EvictInterval, sup.EvictAfter, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	logger.Info().Str("listen", cfg.Service.Server.Listen).Msg("Vital-Trace running, press Ctrl+C to stop")

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		reloadDevices(ctx, *configDir, static, devices, logger)
	}
	logger.Info().Msg("Shutting down...")

	// Stop intake first, then drain evaluation, then the outbound side.
	if sub != nil {
		sub.Close()
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down API server")
	}
	pool.Stop()
	engine.Stop()
	if eventPool != nil {
		eventPool.Stop()
	}

	cancel()
	logger.Info().Msg("Vital-Trace stopped")
}

// openStore selects the alert store and device directory. With postgres the
// configured devices are upserted so the devices table tracks devices.yaml.
func openStore(ctx context.Context, cfg *config.Config, static *store.StaticDirectory, logger zerolog.Logger) (store.AlertStore, store.DeviceDirectory, func()) {
	if cfg.Service.Storage.Driver != "postgres" {
		return store.NewMemoryStore(), static, func() {}
	}

	dsn := cfg.DatabaseURL()
	if dsn == "" {
		logger.Fatal().Str("env", cfg.Service.Storage.DSNEnv).Msg("Database URL environment variable is required")
	}
	db, err := store.NewPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to apply schema")
	}

	dir := store.NewPostgresDirectory(db)
	if err := upsertDevices(ctx, dir, cfg.Devices); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register devices")
	}
	logger.Info().Msg("Using Postgres alert store")
	return store.NewPostgresStore(db), dir, db.Close
}

func upsertDevices(ctx context.Context, dir *store.PostgresDirectory, devices map[string]types.DeviceProfile) error {
	for _, d := range devices {
		if err := dir.Upsert(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// reloadDevices re-reads the configuration on SIGHUP and swaps in the new
// device profiles. Rules, routing and channels need a restart.
func reloadDevices(ctx context.Context, dir string, static *store.StaticDirectory, active store.DeviceDirectory, logger zerolog.Logger) {
	logger.Info().Str("config_dir", dir).Msg("Reloading device profiles")
	cfg, err := config.LoadConfigDir(dir)
	if err != nil {
		logger.Error().Err(err).Msg("Reload failed, keeping current devices")
		return
	}
	static.Replace(cfg.Devices)
	if pg, ok := active.(*store.PostgresDirectory); ok {
		if err := upsertDevices(ctx, pg, cfg.Devices); err != nil {
			logger.Error().Err(err).Msg("Failed to register reloaded devices")
			return
		}
	}
	logger.Info().Int("device_count", len(cfg.Devices)).Msg("Device profiles reloaded")
}

// housekeeping evicts idle suppression state.
func housekeeping(ctx context.Context, tracker *alerter.SuppressionTracker, every, idle time.Duration, logger zerolog.Logger) {
	if tracker == nil || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tracker.Evict(time.Now().Add(-idle)); n > 0 {
				logger.Debug().Int("evicted", n).Msg("Evicted idle suppression state")
			}
		}
	}
}

// originChecker allows the listed websocket origins. An empty list keeps the
// hub's same-origin default.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return slices.Contains(allowed, "*") || slices.Contains(allowed, r.Header.Get("Origin"))
	}
}
