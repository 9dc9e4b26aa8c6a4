package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/freekieb7/quarry/admin"
	"github.com/freekieb7/quarry/config"
	"github.com/freekieb7/quarry/dump"
	"github.com/freekieb7/quarry/filesystem"
	"github.com/freekieb7/quarry/http"
	"github.com/freekieb7/quarry/metrics"
	"github.com/freekieb7/quarry/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const (
	name            = "quarry"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.Default()
	var (
		mode    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   name,
		Short: "A small HTTP/1.1 and WebSocket development server",
		Long: `quarry answers HTTP/1.1 requests and WebSocket connections for
debugging clients.

Modes:
  debug         list the request headers as HTML
  serve-file    serve text files from the document root
  dump-request  like debug, and store the raw request bytes

Examples:
  quarry
  quarry --mode=serve-file --root=./public
  quarry --mode=dump-request --dump-s3-bucket=requests`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.ParseMode(mode)
			if err != nil {
				return err
			}
			cfg.Mode = m

			return run(cmd.Context(), cfg, verbose)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.IP, "ip", cfg.IP, "IPv4 address to listen on")
	flags.Uint16VarP(&cfg.Port, "port", "p", cfg.Port, "Port to listen on")
	flags.StringVarP(&mode, "mode", "m", cfg.Mode.String(), "Response mode: debug, serve-file, dump-request")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of connection workers")
	flags.IntVar(&cfg.QueueSize, "queue", cfg.QueueSize, "Accepted connections waiting for a worker")
	flags.BoolVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "Reuse connections between requests")
	flags.DurationVar(&cfg.KeepAliveTimeout, "keep-alive-timeout", cfg.KeepAliveTimeout, "Idle time before a connection is closed")
	flags.StringVar(&cfg.Greeting, "greeting", cfg.Greeting, "Text frame sent after a WebSocket upgrade")
	flags.StringVar(&cfg.DocumentRoot, "root", cfg.DocumentRoot, "Document root for serve-file mode")
	flags.StringVar(&cfg.DumpPath, "dump-path", cfg.DumpPath, "File that receives raw requests in dump-request mode")
	flags.StringVar(&cfg.DumpS3.Bucket, "dump-s3-bucket", "", "Store raw requests in this S3 bucket instead of a file")
	flags.StringVar(&cfg.DumpS3.Key, "dump-s3-key", "request.binary", "Object key for S3 dumps")
	flags.StringVar(&cfg.DumpS3.Region, "dump-s3-region", "", "Region of the S3 bucket, defaults to the AWS configuration")
	flags.StringVar(&cfg.DumpS3.Endpoint, "dump-s3-endpoint", "", "Endpoint of an S3 compatible store")
	flags.StringVar(&cfg.AdminAddr, "admin", "", "Address for the metrics and health listener, disabled when empty")
	flags.BoolVar(&cfg.OTLP, "otlp", false, "Export traces, metrics and logs over OTLP/gRPC")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log connection level events")

	return cmd
}

func run(ctx context.Context, cfg config.Config, verbose bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, shutdownTelemetry, err := newLogger(ctx, cfg, verbose)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sink, err := newSink(ctx, cfg)
	if err != nil {
		return err
	}

	server, err := http.NewServer(http.Config{
		Addr:             cfg.Addr(),
		Mode:             cfg.Mode,
		Workers:          cfg.Workers,
		QueueSize:        cfg.QueueSize,
		KeepAlive:        cfg.KeepAlive,
		KeepAliveTimeout: cfg.KeepAliveTimeout,
		Greeting:         cfg.Greeting,
		Filesystem:       filesystem.NewLocalFileSystem(cfg.DocumentRoot),
		Sink:             sink,
		Logger:           logger,
		Metrics:          metrics.New(reg),
	})
	if err != nil {
		return err
	}

	serverErrCh := make(chan error, 2)

	go func() {
		logger.Info("starting", "mode", cfg.Mode.String(), "addr", cfg.Addr(), "workers", cfg.Workers)
		serverErrCh <- server.ListenAndServe(ctx)
	}()

	if cfg.AdminAddr != "" {
		go func() {
			serverErrCh <- admin.ListenAndServe(ctx, cfg.AdminAddr, admin.NewHandler(reg, server.Ready), logger)
		}()
	}

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}

func newLogger(ctx context.Context, cfg config.Config, verbose bool) (*slog.Logger, func(context.Context) error, error) {
	if cfg.OTLP {
		shutdown, err := telemetry.Setup(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		return telemetry.Logger(name), shutdown, nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return logger, func(context.Context) error { return nil }, nil
}

func newSink(ctx context.Context, cfg config.Config) (dump.Sink, error) {
	if cfg.Mode != http.ModeDumpRequest {
		return nil, nil
	}
	if cfg.DumpS3.Bucket != "" {
		return dump.NewS3Sink(ctx, cfg.DumpS3)
	}
	return dump.NewFileSink(cfg.DumpPath), nil
}
