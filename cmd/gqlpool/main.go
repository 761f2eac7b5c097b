// Package main runs the gqlpool gateway: it loads the configuration and the
// table schema, connects to the backend store, and serves the frame socket
// plus the optional HTTP and NATS front-ends until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/gqlpool/backend"
	"github.com/c360/gqlpool/config"
	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/frontend/httpfe"
	"github.com/c360/gqlpool/frontend/natsfe"
	"github.com/c360/gqlpool/gateway"
	"github.com/c360/gqlpool/metric"
	"github.com/c360/gqlpool/natsclient"
	"github.com/c360/gqlpool/schema"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "gqlpool"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Gateway failed", "error", err, "exit_code", 1)
		stop()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. It returns early for the one-shot
// modes selected by flags.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cli, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		fs.SetOutput(stdout)
		fs.Usage()
		return nil
	}

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.PrintConfig {
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return nil
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	logger := setupLogger(stdout, level, format)
	slog.SetDefault(logger)

	h, err := loadSchema(cfg)
	if err != nil {
		return err
	}
	if cli.Validate {
		logger.Info("Configuration is valid", "tables", len(h.Tables))
		return nil
	}

	logger.Info("Starting gqlpool",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"driver", cfg.Database.Driver)

	store, err := backend.Open(ctx, backend.Config{
		Driver:         backend.Dialect(cfg.Database.Driver),
		DSN:            cfg.Database.DSN,
		Database:       cfg.Database.Name,
		CreateDatabase: cfg.Database.CreateDatabase,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}()

	registry := metric.NewMetricsRegistry()
	gw, err := gateway.New(gateway.Config{
		Listen:              cfg.Listen,
		LoopbackConnections: cfg.LoopbackConnections,
		OutboundBuffer:      cfg.OutboundBuffer,
		SubmitBuffer:        cfg.SubmitBuffer,
		Bootstrap:           cfg.Bootstrap,
	}, gateway.Deps{
		Schema:  h,
		Store:   store,
		Logger:  logger,
		Metrics: registry.CoreMetrics(),
	})
	if err != nil {
		return err
	}

	if cli.Destroy {
		if err := gw.DestroyDatabase(ctx); err != nil {
			return err
		}
		logger.Info("Database destroyed", "database", h.Database)
		return nil
	}

	return serve(ctx, cfg, gw, registry, logger)
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

func loadSchema(cfg *config.Config) (*schema.Handle, error) {
	var (
		h   *schema.Handle
		err error
	)
	switch cfg.Schema.Format {
	case config.SchemaFormatSDL:
		h, err = schema.LoadSDL(cfg.Schema.File, cfg.Database.Name)
	default:
		h, err = schema.LoadFile(cfg.Schema.File, cfg.Database.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", cfg.Schema.File, err)
	}
	return h, nil
}

// stopper is a started component, stopped in reverse start order.
type stopper struct {
	name string
	stop func(timeout time.Duration) error
}

func serve(ctx context.Context, cfg *config.Config, gw *gateway.Gateway, registry *metric.MetricsRegistry, logger *slog.Logger) error {
	var started []stopper
	defer func() {
		shutdown(started, cfg.ShutdownTimeout, logger)
	}()

	// Components outlive the signal so that shutdown can stop them in order.
	lifetime := context.WithoutCancel(ctx)

	if err := gw.Start(lifetime); err != nil {
		return err
	}
	started = append(started, stopper{"gateway", gw.Stop})

	if cfg.HTTP.Enabled {
		srv, err := startHTTP(lifetime, cfg, gw, registry, logger)
		if err != nil {
			return err
		}
		started = append(started, stopper{"http", srv.Stop})
	}

	if cfg.NATS.Enabled {
		stops, err := startNATS(ctx, lifetime, cfg, gw, registry, logger)
		started = append(started, stops...)
		if err != nil {
			return err
		}
	}

	logger.Info("gqlpool started", "listen", gw.Addr().String(), "tables", len(gw.Schema().Tables))

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	return nil
}

func startHTTP(ctx context.Context, cfg *config.Config, gw *gateway.Gateway, registry *metric.MetricsRegistry, logger *slog.Logger) (*httpfe.Server, error) {
	deps := httpfe.Deps{Gateway: gw, Logger: logger}
	if cfg.HTTP.Metrics {
		deps.Metrics = registry.Handler()
	}
	srv, err := httpfe.New(httpfe.Config{
		Address:          cfg.HTTP.Address,
		Path:             cfg.HTTP.Path,
		Timeout:          cfg.HTTP.Timeout,
		MaxRequestSize:   cfg.HTTP.MaxRequestSize,
		EnablePlayground: cfg.HTTP.EnablePlayground,
		EnableCORS:       cfg.HTTP.EnableCORS,
		CORSOrigins:      cfg.HTTP.CORSOrigins,
	}, deps)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

// startNATS connects to NATS within ctx and starts the request/reply
// front-end for lifetime. The returned stoppers are valid even when err is set.
func startNATS(ctx, lifetime context.Context, cfg *config.Config, gw *gateway.Gateway, registry *metric.MetricsRegistry, logger *slog.Logger) ([]stopper, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry.CoreMetrics()),
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	nc, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := nc.Connect(ctx); err != nil {
		return nil, err
	}
	stops := []stopper{{"nats", func(timeout time.Duration) error {
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return nc.Close(closeCtx)
	}}}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := nc.WaitForConnection(connCtx); err != nil {
		return stops, fmt.Errorf("NATS connection timeout: %w", err)
	}

	fe, err := natsfe.New(natsfe.Config{
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		QueueGroup:    cfg.NATS.QueueGroup,
		Workers:       cfg.NATS.Workers,
		QueueSize:     cfg.NATS.QueueSize,
		Timeout:       cfg.NATS.Timeout,
	}, natsfe.Deps{
		Gateway:         gw,
		Subscriber:      nc,
		Logger:          logger,
		MetricsRegistry: registry,
	})
	if err != nil {
		return stops, err
	}
	if err := fe.Start(lifetime); err != nil {
		return stops, err
	}
	return append(stops, stopper{"natsfe", fe.Stop}), nil
}

// shutdown stops components in reverse start order, sharing one deadline.
func shutdown(started []stopper, timeout time.Duration, logger *slog.Logger) {
	deadline := time.Now().Add(timeout)
	for i := len(started) - 1; i >= 0; i-- {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn("Shutdown deadline exceeded", "remaining_components", i+1)
			return
		}
		if err := started[i].stop(remaining); err != nil {
			logger.Warn("Component did not stop cleanly", "component", started[i].name, "error", err)
		}
	}
	if len(started) > 0 {
		logger.Info("gqlpool shutdown complete")
	}
}
