// Command shim runs the pipeline engine as a standalone net/http process:
// it loads a policy document, compiles it into a blueprint index, and
// serves every request through internal/httpfilter.Middleware in front of
// a configurable upstream. Production deployments wire the same engine
// into a proxy's native ABI (an Envoy wasm plugin, an ext_proc sidecar)
// instead of this net/http harness; this binary exists so the engine runs
// as a complete, runnable program on its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kuadrant/wasm-shim-go/internal/httpfilter"
	"github.com/kuadrant/wasm-shim-go/internal/reload"
	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/observability/logging"
	"github.com/kuadrant/wasm-shim-go/pkg/observability/tracing"
)

type options struct {
	configPath    string
	logLevel      string
	listenAddr    string
	metricsAddr   string
	upstreamURL   string
	otlpEndpoint  string
	traceService  string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "shim",
		Short: "Run the Kuadrant pipeline engine as a standalone HTTP filter.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "path to the policy document")
	flags.StringVar(&opts.logLevel, "log-level", "", "overrides observability.defaultLevel from the config")
	flags.StringVar(&opts.listenAddr, "listen", ":8080", "address the filter listens on")
	flags.StringVar(&opts.metricsAddr, "metrics-listen", ":9090", "address the Prometheus /metrics endpoint listens on")
	flags.StringVar(&opts.upstreamURL, "upstream", "http://127.0.0.1:8081", "upstream the filter forwards allowed requests to")
	flags.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP/gRPC collector address; empty disables span export")
	flags.StringVar(&opts.traceService, "trace-service-name", "wasm-shim", "service.name reported on exported spans")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.logLevel != "" {
		if err := logging.SetLevel(opts.logLevel); err != nil {
			return fmt.Errorf("shim: invalid --log-level: %w", err)
		}
	} else if doc, err := config.Load(opts.configPath); err == nil && doc.Observability.DefaultLevel != "" {
		if err := logging.SetLevel(doc.Observability.DefaultLevel); err != nil {
			logging.New("shim").Error(err, "ignoring invalid observability.defaultLevel", "level", doc.Observability.DefaultLevel)
		}
	}
	defer func() { _ = logging.Sync() }()

	logger := logging.New("shim")

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    opts.otlpEndpoint,
		ServiceName: opts.traceService,
	})
	if err != nil {
		return fmt.Errorf("shim: init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	watcher, err := reload.New(opts.configPath, logger)
	if err != nil {
		return fmt.Errorf("shim: load %q: %w", opts.configPath, err)
	}
	stopReload := make(chan struct{})
	go watcher.Run(stopReload)
	defer close(stopReload)

	upstream, err := newUpstreamProxy(opts.upstreamURL)
	if err != nil {
		return fmt.Errorf("shim: invalid --upstream: %w", err)
	}

	mw := httpfilter.New(watcher.Current, logger, upstream)
	defer mw.Close()

	server := &http.Server{Addr: opts.listenAddr, Handler: mw}
	metricsServer := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.Handler()}

	errCh := make(chan error, 2)
	go func() { errCh <- serveOrNil(server, "filter", logger) }()
	go func() { errCh <- serveOrNil(metricsServer, "metrics", logger) }()

	select {
	case <-ctx.Done():
		logger.Info("shim: shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func serveOrNil(s *http.Server, name string, logger logr.Logger) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "shim: server exited", "server", name)
		return err
	}
	return nil
}

func newUpstreamProxy(raw string) (http.Handler, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.Transport = &http.Transport{
		DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
	}
	return proxy, nil
}
