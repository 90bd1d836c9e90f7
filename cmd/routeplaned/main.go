package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"xdao.co/routeplane/config"
	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/events"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network"
	"xdao.co/routeplane/network/grpcnet"
	"xdao.co/routeplane/network/registry"
	"xdao.co/routeplane/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

type grantList []string

func (g *grantList) String() string { return strings.Join(*g, ",") }
func (g *grantList) Set(v string) error {
	*g = append(*g, v)
	return nil
}

// parseGrants reads <address>=<role>[,<role>...] pairs.
func parseGrants(grants []string) (map[model.Address]model.Role, error) {
	out := make(map[model.Address]model.Role, len(grants))
	for _, g := range grants {
		a, roles, ok := strings.Cut(g, "=")
		if !ok {
			return nil, fmt.Errorf("--grant %q: want <address>=<role>[,<role>]", g)
		}
		addr, err := model.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("--grant %q: %w", g, err)
		}
		for _, name := range strings.Split(roles, ",") {
			r, err := model.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("--grant %q: %w", g, err)
			}
			out[addr] |= r
		}
	}
	return out, nil
}

type options struct {
	listen     string
	httpListen string
	logFormat  string
	logLevel   string
	configPath string
	signedOnly bool
	spec       registry.Spec
}

func parseFlags(args []string, errOut io.Writer) (options, bool, int) {
	fs := flag.NewFlagSet("routeplaned", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var o options
	var identity, feeRecipient, admin string
	var grants grantList
	var listBackends bool

	fs.StringVar(&o.listen, "listen", "127.0.0.1:7400", "gRPC listen address")
	fs.StringVar(&o.httpListen, "http", "127.0.0.1:7401", "HTTP listen address for /metrics, /healthz and /status (empty disables)")
	fs.StringVar(&o.logFormat, "log-format", "console", "Log format: console or json")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level")
	fs.StringVar(&o.configPath, "config", "", "Take the network definition from this config file (selected by --network)")
	fs.StringVar(&o.spec.ID, "network", "local", "Network identifier")
	fs.StringVar(&o.spec.Backend, "backend", "memory", "Ledger backend name")
	fs.StringVar(&o.spec.Path, "path", "", "Data directory for the badger backend")
	fs.StringVar(&identity, "identity", "", "Deployment store identity address")
	fs.Uint64Var(&o.spec.Store.Fee, "fee", 0, "Fee per newly deployed chunk")
	fs.StringVar(&feeRecipient, "fee-recipient", "", "Fee recipient address (empty disables fees)")
	fs.IntVar(&o.spec.Store.MaxChunkSize, "max-chunk-size", deploy.DefaultMaxChunkSize, "Largest chunk in bytes")
	fs.IntVar(&o.spec.Store.MaxBatchSize, "max-batch-size", deploy.DefaultMaxBatchSize, "Most items per batch")
	fs.StringVar(&admin, "admin", "", "Dispatcher admin address")
	fs.Uint64Var(&o.spec.Dispatch.ActivationDelay, "activation-delay", 0, "Seconds between commit and activation")
	fs.Var(&grants, "grant", "Initial role grant <address>=<role>[,<role>] (repeatable)")
	fs.IntVar(&o.spec.MaxMsgBytes, "max-msg-bytes", 16<<20, "Largest gRPC message accepted")
	fs.BoolVar(&o.signedOnly, "require-signed", false, "Reject mutating calls that are not signed by the acting address")
	fs.BoolVar(&listBackends, "list-backends", false, "List supported backends and exit")

	if err := fs.Parse(args); err != nil {
		return o, false, 2
	}
	if listBackends {
		for _, b := range registry.List(registry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(errOut, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(errOut, "%s\t%s\n", b.Name, b.Description)
		}
		return o, false, 0
	}

	if o.configPath != "" {
		cfg, err := config.LoadFile(o.configPath)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return o, false, 2
		}
		for _, n := range cfg.Networks {
			if n.ID != o.spec.ID {
				continue
			}
			spec, err := n.Spec()
			if err != nil {
				fmt.Fprintln(errOut, err)
				return o, false, 2
			}
			if spec.MaxMsgBytes == 0 {
				spec.MaxMsgBytes = o.spec.MaxMsgBytes
			}
			o.spec = spec
			if cfg.Log.Format != "" {
				o.logFormat = cfg.Log.Format
			}
			if cfg.Log.Level != "" {
				o.logLevel = cfg.Log.Level
			}
			return o, true, 0
		}
		fmt.Fprintf(errOut, "network %q not found in %s\n", o.spec.ID, o.configPath)
		return o, false, 2
	}

	for _, f := range []struct {
		name string
		val  string
		dst  *model.Address
	}{
		{"identity", identity, &o.spec.Store.Identity},
		{"fee-recipient", feeRecipient, &o.spec.Store.FeeRecipient},
		{"admin", admin, &o.spec.Dispatch.Admin},
	} {
		if f.val == "" {
			continue
		}
		a, err := model.ParseAddress(f.val)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --%s: %v\n", f.name, err)
			return o, false, 2
		}
		*f.dst = a
	}
	roles, err := parseGrants(grants)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return o, false, 2
	}
	o.spec.Dispatch.Roles = roles
	return o, true, 0
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	o, ok, code := parseFlags(args, errOut)
	if !ok {
		return code
	}

	logger, err := observability.NewLogger("routeplaned", o.logFormat, o.logLevel, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "logger: %v\n", err)
		return 2
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	o.spec.Logger = logger
	o.spec.Metrics = metrics
	o.spec.Sink = events.LogSink{Logger: logger}
	n, closeFn, err := registry.Open(ctx, o.spec, registry.UsageDaemon)
	if err != nil {
		logger.Error().Err(err).Msg("open network")
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", o.listen)
	if err != nil {
		logger.Error().Err(err).Msg("listen")
		return 1
	}
	defer lis.Close()

	var serverOpts []grpc.ServerOption
	if o.spec.MaxMsgBytes > 0 {
		serverOpts = append(serverOpts,
			grpc.MaxRecvMsgSize(o.spec.MaxMsgBytes),
			grpc.MaxSendMsgSize(o.spec.MaxMsgBytes),
		)
	}
	s := grpc.NewServer(serverOpts...)
	grpcnet.RegisterNetworkServer(s, &grpcnet.Server{Network: n, Log: logger, RequireSignatures: o.signedOnly})

	var httpSrv *http.Server
	errs := make(chan error, 2)
	if o.httpListen != "" {
		httpSrv = &http.Server{
			Addr:              o.httpListen,
			Handler:           newHTTPHandler(n, reg, metrics, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http: %w", err)
			}
		}()
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			errs <- fmt.Errorf("grpc: %w", err)
		}
	}()

	logger.Info().
		Str("network", n.ID()).
		Str("backend", o.spec.Backend).
		Str("grpc", lis.Addr().String()).
		Str("http", o.httpListen).
		Msg("routeplaned listening")

	code = 0
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errs:
		logger.Error().Err(err).Msg("server failed")
		code = 1
	}

	s.GracefulStop()
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return code
}

type statusDoc struct {
	Network    string                 `json:"network"`
	Dispatcher model.DispatcherStatus `json:"dispatcher"`
	Store      model.StoreInfo        `json:"store"`
	Phase      string                 `json:"phase,omitempty"`
}

func newHTTPHandler(n network.Network, gatherer prometheus.Gatherer, metrics *observability.Metrics, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetrics(metrics))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if _, err := n.Status(req.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		st, err := n.Status(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		info, err := n.Info(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		doc := statusDoc{Network: n.ID(), Dispatcher: st, Store: info}
		if l, ok := n.(*network.Local); ok {
			doc.Phase = string(l.Dispatcher().Phase())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
