// Command podwork serves interruptible CPU work over HTTP and shuts down
// gracefully on SIGTERM or SIGINT.
//
// Usage:
//
//	podwork [-config podwork.toml]
//
// PORT, LOG_LEVEL, OTEL_EXPORTER_OTLP_ENDPOINT and NATS_URL override the
// file. Exit status is 0 after a graceful stop and 1 when the configuration
// is invalid, the listener cannot start or stops with an error, or the HTTP
// server cannot drain in time. Failures of later teardown steps are logged
// and do not change the exit status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/vinayprograms/podwork/bus"
	"github.com/vinayprograms/podwork/config"
	"github.com/vinayprograms/podwork/errors"
	"github.com/vinayprograms/podwork/heartbeat"
	"github.com/vinayprograms/podwork/logging"
	"github.com/vinayprograms/podwork/server"
	"github.com/vinayprograms/podwork/shutdown"
	"github.com/vinayprograms/podwork/telemetry"
	"github.com/vinayprograms/podwork/work"
)

var version = "dev"

const httpServerHandler = "http-server"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a TOML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("podwork", version)
		return 0
	}

	root := logging.New()
	logger := root.WithComponent("podwork")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config_invalid", logging.Fields{"error": err.Error(), "code": errors.Code(err).String()})
		return 1
	}
	root.SetLevel(cfg.LogLevel())

	host := instanceHost(cfg)
	ctx := context.Background()

	shutdownCfg := shutdown.Config{
		DefaultTimeout:  cfg.Shutdown.Timeout.Duration,
		DrainDelay:      cfg.Shutdown.DrainDelay.Duration,
		ContinueOnError: true,
		Logger:          root.WithComponent("shutdown"),
	}
	if err := shutdownCfg.Validate(); err != nil {
		logger.Error("config_invalid", logging.Fields{"error": err.Error()})
		return 1
	}
	coord := shutdown.NewCoordinator(shutdownCfg)

	tracer := telemetry.GetTracer()
	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			InstanceID:     host,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
			Headers:        cfg.Telemetry.Headers,
			BatchTimeout:   cfg.Telemetry.BatchTimeout.Duration,
			ExportTimeout:  cfg.Telemetry.ExportTimeout.Duration,
		})
		if err != nil {
			logger.Warn("tracing_disabled", logging.Fields{"error": err.Error()})
		} else {
			tracer = provider.Tracer()
			coord.RegisterWithPhase("tracing", provider, shutdown.PhaseTelemetry)
		}
	}

	events, err := telemetry.NewExporter(cfg.Telemetry.EventsProtocol, cfg.Telemetry.EventsEndpoint,
		telemetry.WithFlushInterval(cfg.Telemetry.EventsFlushInterval.Duration),
		telemetry.WithMaxBuffer(cfg.Telemetry.EventsBuffer),
		telemetry.WithExporterLogger(root),
	)
	if err != nil {
		logger.Error("events_invalid", logging.Fields{"error": err.Error()})
		return 1
	}
	coord.RegisterFuncWithPhase("events", func(context.Context) error {
		return events.Close()
	}, shutdown.PhaseTelemetry)

	handler, err := server.NewHandler(server.HandlerConfig{
		Gate:       coord,
		Executor:   work.NewExecutor(),
		Host:       host,
		Iterations: cfg.Server.Iterations,
		Logger:     root,
		Tracer:     tracer,
		Events:     events,
	})
	if err != nil {
		logger.Error("handler_invalid", logging.Fields{"error": err.Error()})
		return 1
	}

	srv, err := server.New(server.Config{
		Addr:              cfg.Addr(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration,
		Handler:           handler,
		Gate:              coord,
		Logger:            root,
	})
	if err != nil {
		logger.Error("server_invalid", logging.Fields{"error": err.Error()})
		return 1
	}
	ln, err := srv.Listen()
	if err != nil {
		logger.Error("listen_failed", logging.Fields{"error": err.Error(), "code": errors.Code(err).String()})
		return 1
	}
	coord.RegisterWithPhase(httpServerHandler, srv, shutdown.PhaseFrontend)

	if cfg.Heartbeat.NATSURL != "" {
		startHeartbeat(ctx, cfg, coord, handler, host, root)
	}

	go func() {
		<-coord.Draining()
		events.LogEvent(telemetry.EventShutdown, map[string]interface{}{
			"host":      host,
			"reason":    coord.Reason(),
			"in_flight": handler.InFlight(),
		})
	}()

	coord.HandleSignals()
	defer coord.StopSignals()

	logger.ServerStarting(cfg.Server.Port)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server_failed", logging.Fields{"error": err.Error()})
			stopAfterFailure(coord, cfg.Shutdown.Timeout.Duration, logger)
			return 1
		}
		<-coord.Done()
	case <-coord.Done():
	}

	return exitStatus(coord.Result(), logger)
}

// stopAfterFailure tears down what was started when the listener stops on
// its own.
func stopAfterFailure(coord *shutdown.Coordinator, timeout time.Duration, logger *logging.Logger) {
	err := coord.ShutdownWithTimeout(timeout)
	if err == nil {
		return
	}
	fields := logging.Fields{"error": err.Error()}
	if result := coord.Result(); result != nil {
		fields["failed"] = fmt.Sprint(result.FailedHandlers())
	}
	logger.Error("shutdown_incomplete", fields)
}

// exitStatus logs the teardown outcome. Only a failed HTTP server drain
// makes the stop non-graceful.
func exitStatus(result *shutdown.ShutdownResult, logger *logging.Logger) int {
	if result == nil {
		return 0
	}
	logger.ServerStopped(result.TotalDuration)
	if !result.Failed() {
		return 0
	}
	logger.Error("shutdown_incomplete", logging.Fields{
		"failed": fmt.Sprint(result.FailedHandlers()),
		"error":  result.Err.Error(),
	})
	if result.HandlerErr(httpServerHandler) != nil {
		return 1
	}
	return 0
}

// startHeartbeat announces this instance on NATS. A bus that cannot be
// reached disables heartbeats without stopping the server.
func startHeartbeat(ctx context.Context, cfg *config.Config, coord *shutdown.Coordinator, handler *server.Handler, host string, root *logging.Logger) {
	logger := root.WithComponent("heartbeat")

	natsCfg := bus.DefaultNATSConfig()
	natsCfg.URL = cfg.Heartbeat.NATSURL
	natsCfg.Name = "podwork-" + host
	nb, err := bus.NewNATSBus(natsCfg)
	if err != nil {
		err = errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "heartbeat bus")
		logger.Warn("heartbeat_disabled", logging.Fields{"error": err.Error()})
		return
	}

	capacity := float64(runtime.GOMAXPROCS(0))
	sender, err := heartbeat.NewBusSender(heartbeat.SenderConfig{
		Bus:        nb,
		InstanceID: host,
		Interval:   cfg.Heartbeat.Interval.Duration,
		Sample: func(hb *heartbeat.Heartbeat) {
			hb.InFlight = handler.InFlight()
			hb.Load = float64(hb.InFlight) / capacity
		},
		Logger: root,
	})
	if err != nil {
		logger.Warn("heartbeat_disabled", logging.Fields{"error": err.Error()})
		nb.Close()
		return
	}
	sender.SetMetadata("version", version)
	sender.Start(ctx)

	go func() {
		<-coord.Draining()
		sender.Drain()
	}()

	coord.RegisterWithPhase("heartbeat", sender, shutdown.PhaseAnnounce)
	coord.RegisterWithPhase("bus", nb, shutdown.PhaseBackend)
}

func instanceHost(cfg *config.Config) string {
	if cfg.Server.Host != "" {
		return cfg.Server.Host
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}
