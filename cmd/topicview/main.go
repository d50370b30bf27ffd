package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"

	topicview "github.com/topicview/go-topicview"
	"github.com/topicview/go-topicview/bus"
	"github.com/topicview/go-topicview/mqttsource"
	"github.com/topicview/go-topicview/tele"
)

type Config struct {
	Broker        string
	Topics        []string
	ClientID      string
	Username      string
	Password      string `json:"-"`
	CAFile        string
	CertFile      string
	KeyFile       string
	QoS           int
	Window        time.Duration
	Amplification float64
	MinInterval   time.Duration
	MaxInterval   time.Duration
	LogLevel      string
	MetricsHost   string
	MetricsPort   int
	TraceEndpoint string
}

func (c Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

var cfg = Config{
	Broker:        "tcp://127.0.0.1:1883",
	Topics:        []string{"#"},
	Window:        10 * time.Second,
	Amplification: 20,
	MinInterval:   300 * time.Millisecond,
	LogLevel:      "info",
	MetricsHost:   "127.0.0.1",
	MetricsPort:   3232,
}

// logSystems are the go-log subsystems whose level follows --log-level.
var logSystems = []string{"topicview", "bus", "mqttsource"}

func main() {
	app := &cli.App{
		Name:  "topicview",
		Usage: "prints a live tree of the topics published to an MQTT broker",
		Before: func(cCtx *cli.Context) error {
			cfg.Topics = cCtx.StringSlice("topic")
			if cfg.ClientID == "" {
				cfg.ClientID = "topicview-" + uuid.NewString()[:8]
			}
			for _, system := range logSystems {
				if err := tele.SetLevel(system, cfg.LogLevel); err != nil {
					return fmt.Errorf("set log level: %w", err)
				}
			}
			return nil
		},
		Action: daemonAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "broker",
				Usage:       "the address of the MQTT broker",
				Value:       cfg.Broker,
				Destination: &cfg.Broker,
				EnvVars:     []string{"TOPICVIEW_BROKER"},
			},
			&cli.StringSliceFlag{
				Name:    "topic",
				Usage:   "a topic filter to subscribe to, may be repeated",
				Value:   cli.NewStringSlice(cfg.Topics...),
				EnvVars: []string{"TOPICVIEW_TOPICS"},
			},
			&cli.StringFlag{
				Name:        "client-id",
				Usage:       "the MQTT client id",
				Destination: &cfg.ClientID,
				EnvVars:     []string{"TOPICVIEW_CLIENT_ID"},
				DefaultText: "random",
			},
			&cli.StringFlag{
				Name:        "username",
				Usage:       "the user name to authenticate with",
				Destination: &cfg.Username,
				EnvVars:     []string{"TOPICVIEW_USERNAME"},
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "the password to authenticate with",
				Destination: &cfg.Password,
				EnvVars:     []string{"TOPICVIEW_PASSWORD"},
			},
			&cli.StringFlag{
				Name:        "ca-file",
				Usage:       "a CA certificate, enables TLS",
				Destination: &cfg.CAFile,
				EnvVars:     []string{"TOPICVIEW_CA_FILE"},
			},
			&cli.StringFlag{
				Name:        "cert-file",
				Usage:       "a client certificate for mutual TLS",
				Destination: &cfg.CertFile,
				EnvVars:     []string{"TOPICVIEW_CERT_FILE"},
			},
			&cli.StringFlag{
				Name:        "key-file",
				Usage:       "the key of the client certificate",
				Destination: &cfg.KeyFile,
				EnvVars:     []string{"TOPICVIEW_KEY_FILE"},
			},
			&cli.IntFlag{
				Name:        "qos",
				Usage:       "the quality of service level of the subscriptions",
				Value:       cfg.QoS,
				Destination: &cfg.QoS,
				EnvVars:     []string{"TOPICVIEW_QOS"},
			},
			&cli.DurationFlag{
				Name:        "window",
				Usage:       "the time window over which the render cost is averaged",
				Value:       cfg.Window,
				Destination: &cfg.Window,
				EnvVars:     []string{"TOPICVIEW_WINDOW"},
			},
			&cli.Float64Flag{
				Name:        "amplification",
				Usage:       "the interval between renders as a multiple of the render cost",
				Value:       cfg.Amplification,
				Destination: &cfg.Amplification,
				EnvVars:     []string{"TOPICVIEW_AMPLIFICATION"},
			},
			&cli.DurationFlag{
				Name:        "min-interval",
				Usage:       "the minimum interval between renders",
				Value:       cfg.MinInterval,
				Destination: &cfg.MinInterval,
				EnvVars:     []string{"TOPICVIEW_MIN_INTERVAL"},
			},
			&cli.DurationFlag{
				Name:        "max-interval",
				Usage:       "the maximum interval between renders",
				Value:       cfg.MaxInterval,
				Destination: &cfg.MaxInterval,
				EnvVars:     []string{"TOPICVIEW_MAX_INTERVAL"},
				DefaultText: "unbounded",
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "the log level (debug, info, warn, error)",
				Value:       cfg.LogLevel,
				Destination: &cfg.LogLevel,
				EnvVars:     []string{"TOPICVIEW_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:        "metrics-host",
				Usage:       "the network topicview metrics should bind on",
				Value:       cfg.MetricsHost,
				Destination: &cfg.MetricsHost,
				EnvVars:     []string{"TOPICVIEW_METRICS_HOST"},
			},
			&cli.IntFlag{
				Name:        "metrics-port",
				Usage:       "the port on which topicview metrics should listen on",
				Value:       cfg.MetricsPort,
				Destination: &cfg.MetricsPort,
				EnvVars:     []string{"TOPICVIEW_METRICS_PORT"},
			},
			&cli.StringFlag{
				Name:        "trace-endpoint",
				Usage:       "the OTLP gRPC endpoint traces are pushed to",
				Destination: &cfg.TraceEndpoint,
				EnvVars:     []string{"TOPICVIEW_TRACE_ENDPOINT"},
				DefaultText: "tracing disabled",
			},
		},
	}

	sigs := make(chan os.Signal, 1)
	ctx, cancel := context.WithCancel(context.Background())

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	go func() {
		sig := <-sigs
		slog.Info("Received signal - Stopping...", "signal", sig.String())
		signal.Stop(sigs)
		cancel()
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("application error", "err", err)
		os.Exit(1)
	}
}

func daemonAction(cCtx *cli.Context) error {
	ctx := cCtx.Context

	slog.Info("Starting topicview with configuration:")
	fmt.Fprintln(os.Stderr, cfg.String())

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("new prometheus exporter: %w", err)
	}
	meterProvider := metric.NewMeterProvider(append(tele.MeterProviderOpts, metric.WithReader(exporter))...)
	defer meterProvider.Shutdown(context.Background())

	tracerProvider, shutdownTracing, err := traceProvider(ctx)
	if err != nil {
		return fmt.Errorf("new trace provider: %w", err)
	}
	defer shutdownTracing()

	go serveMetrics()

	b := bus.New()

	pipelineConfig := topicview.DefaultConfig()
	pipelineConfig.Window = cfg.Window
	pipelineConfig.Amplification = cfg.Amplification
	pipelineConfig.MinInterval = cfg.MinInterval
	pipelineConfig.MaxInterval = cfg.MaxInterval
	pipelineConfig.MeterProvider = meterProvider
	pipelineConfig.TracerProvider = tracerProvider

	p, err := topicview.New(b, pipelineConfig)
	if err != nil {
		return fmt.Errorf("new pipeline: %w", err)
	}
	p.OnFlush(render(os.Stdout))

	sourceConfig := mqttsource.DefaultConfig()
	sourceConfig.Broker = cfg.Broker
	sourceConfig.ClientID = cfg.ClientID
	sourceConfig.ConnectionID = cfg.ClientID
	sourceConfig.Username = cfg.Username
	sourceConfig.Password = cfg.Password
	sourceConfig.Topics = cfg.Topics
	sourceConfig.QoS = byte(cfg.QoS)
	sourceConfig.MeterProvider = meterProvider
	if cfg.CAFile != "" {
		sourceConfig.TLS, err = mqttsource.NewTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("load tls config: %w", err)
		}
	}

	src, err := mqttsource.New(b, sourceConfig)
	if err != nil {
		return fmt.Errorf("new mqtt source: %w", err)
	}

	// attach before connecting, retained messages arrive right after subscribing
	if err := p.Attach(ctx, cfg.ClientID); err != nil {
		return fmt.Errorf("attach pipeline: %w", err)
	}

	if err := src.Connect(ctx); err != nil {
		return multierror.Append(err, p.Close())
	}

	slog.Info("Initialized", "pipeline", p.ID(), "key", src.Key())
	<-ctx.Done()

	var result error
	if err := src.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// render returns a consumer that prints the tree followed by the most
// recent event.
func render(w io.Writer) topicview.FlushFunc {
	return func(ctx context.Context, f topicview.Flush) error {
		last := f.LastEvent.Path
		if f.LastEvent.Err == nil && last != "" {
			last += " = " + f.LastEvent.Value
		}
		_, err := fmt.Fprintf(w, "%s%d topics, last: %s\n\n", f.Tree, f.Tree.Leaves(), last)
		return err
	}
}

func serveMetrics() {
	addr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)

	slog.Info("serving metrics", "endpoint", addr+"/metrics")
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, nil)
	if err != nil {
		slog.Warn("error serving metrics", "err", err.Error())
		return
	}
}

// traceProvider exports traces to the configured OTLP endpoint. Without an
// endpoint tracing is disabled.
func traceProvider(ctx context.Context) (trace.TracerProvider, func(), error) {
	if cfg.TraceEndpoint == "" {
		return trace.NewNoopTracerProvider(), func() {}, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.TraceEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("topicview"),
		)),
	)

	return tp, func() { _ = tp.Shutdown(context.Background()) }, nil
}
