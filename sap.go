// Package sap is the public API for building a Super App data provider.
//
// A provider wraps a fetch function in a periodically refreshed in-memory
// cache and serves it over a small HTTP protocol that shells discover and
// query:
//
//	app, err := sap.New(
//	    sap.Info{Name: "hr-directory", Description: "Employee records"},
//	    fetchEmployees,
//	    sap.WithInterval(5*time.Minute),
//	    sap.WithLazyLoader(resolver, sap.Scope{Type: "employee"}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: sap (root) imports
// internal/*, but internal/* never imports sap (root). Public types (Object,
// Scope, Resolver) are standalone; the adapters that cross the boundary live
// here because this is the only file that sees both sides.
package sap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sebitommy123/SAP/internal/config"
	"github.com/sebitommy123/SAP/internal/object"
	"github.com/sebitommy123/SAP/internal/query"
	"github.com/sebitommy123/SAP/internal/registry"
	"github.com/sebitommy123/SAP/internal/runner"
	"github.com/sebitommy123/SAP/internal/server"
	"github.com/sebitommy123/SAP/internal/telemetry"
)

// Info identifies the provider to shells via GET /hello.
type Info struct {
	Name        string
	Description string
	Version     string
}

// Status is a point-in-time view of the refresh cycle.
type Status struct {
	LastStartedAt   *time.Time
	LastCompletedAt *time.Time
	LastError       *string
	InFlight        bool
	Count           int
}

// App is the provider lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	info         Info
	runner       *runner.Runner
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
}

// New initialises the provider: loads configuration, wires the fetch runner,
// query router and HTTP server, and binds the listen socket. It does NOT
// start any goroutines or serve requests; call Run().
func New(info Info, fetch FetchFunc, opts ...Option) (*App, error) {
	if info.Name == "" {
		return nil, errors.New("sap: provider name is required")
	}
	if fetch == nil {
		return nil, errors.New("sap: fetch function is required")
	}

	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.host != "" {
		cfg.Host = o.host
	}
	if o.port != nil {
		cfg.Port = *o.port
	}
	if o.autoPort != nil {
		cfg.AutoPort = *o.autoPort
	}
	if o.interval != 0 {
		cfg.Interval = o.interval
	}
	if o.fetchTimeout != 0 {
		cfg.FetchTimeout = o.fetchTimeout
	}
	if o.runImmediately != nil {
		cfg.RunImmediately = *o.runImmediately
	}
	if o.refreshToken != nil {
		cfg.RefreshToken = *o.refreshToken
	}
	if o.registerWithShell != nil {
		cfg.RegisterWithShell = *o.registerWithShell
	}
	if o.registryFile != "" {
		cfg.RegistryFile = o.registryFile
	}
	if o.requireInitialFetch {
		cfg.RequireInitialFetch = true
	}
	if info.Version == "" {
		info.Version = "dev"
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.LogLevel)
	}

	logger.Info("sap provider starting", "name", info.Name, "version", info.Version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, info.Version)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	run := runner.New(adaptFetch(fetch), runner.Config{
		Interval:       cfg.Interval,
		FetchTimeout:   cfg.FetchTimeout,
		RunImmediately: cfg.RunImmediately,
	}, logger)

	scopes := make([]query.Scope, len(o.scopes))
	for i, s := range o.scopes {
		scopes[i] = query.Scope{Type: s.Type, Fields: s.Fields}
	}
	var resolver query.Resolver
	if o.resolver != nil {
		resolver = &resolverAdapter{r: o.resolver}
	}
	router := query.NewRouter(scopes, resolver)

	handlers := server.NewHandlers(server.ProviderInfo{
		Name:        info.Name,
		Description: info.Description,
		Version:     info.Version,
		Scopes:      scopes,
	}, run, router, cfg.RefreshToken, logger)

	srv, err := server.New(server.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		AutoPort: cfg.AutoPort,
		Handlers: handlers,
		Logger:   logger,
	})
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	return &App{
		cfg:          cfg,
		info:         info,
		runner:       run,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
	}, nil
}

// Run starts the refresh loop and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. Shutdown happens automatically on
// return; callers should not call anything afterwards.
func (a *App) Run(ctx context.Context) error {
	a.runner.Start(ctx)

	if a.cfg.RequireInitialFetch {
		if err := a.awaitInitialFetch(ctx); err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = a.srv.Shutdown(shutdownCtx)
			cancel()
			a.shutdown(context.Background())
			return err
		}
	}

	if a.cfg.RegisterWithShell {
		a.registerWithShell()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()

	a.shutdown(context.Background())
	if err != nil {
		return fmt.Errorf("sap: %w", err)
	}
	return nil
}

// awaitInitialFetch blocks until the first successful fetch or the configured
// deadline. A refresh is triggered first so startup does not wait for an
// interval tick.
func (a *App) awaitInitialFetch(ctx context.Context) error {
	a.runner.Refresh()
	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.InitialFetchTimeout)
	defer cancel()
	select {
	case <-a.runner.Ready():
		return nil
	case <-waitCtx.Done():
		status := a.runner.Status()
		if status.LastError != nil {
			return fmt.Errorf("sap: initial fetch failed within %s: %s", a.cfg.InitialFetchTimeout, *status.LastError)
		}
		return fmt.Errorf("sap: initial fetch did not complete within %s", a.cfg.InitialFetchTimeout)
	}
}

// registerWithShell appends this provider's URL to the local shell registry
// file. Failures are logged, never fatal.
func (a *App) registerWithShell() {
	file := a.cfg.RegistryFile
	if file == "" {
		var err error
		file, err = registry.DefaultPath()
		if err != nil {
			a.logger.Warn("shell registration skipped", "error", err)
			return
		}
	}
	url := fmt.Sprintf("http://%s", net.JoinHostPort(advertiseHost(a.cfg.Host), fmt.Sprintf("%d", a.srv.Port())))
	if err := registry.Register(file, url); err != nil {
		a.logger.Warn("shell registration failed", "file", file, "error", err)
		return
	}
	a.logger.Info("registered with shell", "file", file, "url", url)
}

// advertiseHost maps wildcard binds to an address a local shell can dial.
func advertiseHost(bind string) string {
	if bind == "" || bind == "0.0.0.0" || bind == "::" {
		return "localhost"
	}
	return bind
}

// shutdown drains the runner and flushes telemetry. The HTTP server is
// already down when this runs.
func (a *App) shutdown(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a.runner.Drain(drainCtx)
	cancel()
	_ = a.otelShutdown(ctx)
	a.logger.Info("sap provider stopped", "name", a.info.Name)
}

// Handler returns the provider's HTTP handler, for driving requests in tests
// without a network round trip.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// Addr returns the bound listen address, including the resolved port.
// Valid as soon as New returns.
func (a *App) Addr() string { return a.srv.Addr() }

// Port returns the bound TCP port.
func (a *App) Port() int { return a.srv.Port() }

// Refresh triggers a fetch outside the periodic schedule. It reports whether
// a fetch was started; false means one was already in flight.
func (a *App) Refresh() bool { return a.runner.Refresh() }

// Snapshot returns the current cached objects.
func (a *App) Snapshot() []Object {
	snap := a.runner.Snapshot()
	out := make([]Object, len(snap))
	for i, o := range snap {
		out[i] = Object(o)
	}
	return out
}

// Status reports the refresh cycle state.
func (a *App) Status() Status {
	s := a.runner.Status()
	return Status{
		LastStartedAt:   s.LastStartedAt,
		LastCompletedAt: s.LastCompletedAt,
		LastError:       s.LastError,
		InFlight:        s.InFlight,
		Count:           s.Count,
	}
}

// Ready returns a channel closed after the first successful fetch.
func (a *App) Ready() <-chan struct{} { return a.runner.Ready() }

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// adaptFetch converts the public fetch signature to the runner's internal one.
func adaptFetch(fetch FetchFunc) runner.FetchFunc {
	return func(ctx context.Context) ([]object.Object, error) {
		objs, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]object.Object, len(objs))
		for i, o := range objs {
			out[i] = object.Object(o)
		}
		return out, nil
	}
}

// resolverAdapter bridges the public Resolver to the internal query router.
type resolverAdapter struct {
	r Resolver
}

func (ra *resolverAdapter) Resolve(ctx context.Context, req query.Request) (query.Result, error) {
	conditions := make([]Condition, len(req.Conditions))
	for i, c := range req.Conditions {
		conditions[i] = Condition{Field: c.Field, Operator: c.Operator, Value: c.Value}
	}
	res, err := ra.r.Resolve(ctx, QueryRequest{
		Scope:      Scope{Type: req.Scope.Type, Fields: req.Scope.Fields},
		Conditions: conditions,
		PlanOnly:   req.PlanOnly,
	})
	if err != nil {
		return query.Result{}, err
	}
	objs := make([]object.Object, len(res.Objects))
	for i, o := range res.Objects {
		objs[i] = object.Object(o)
	}
	return query.Result{Objects: objs, Plan: res.Plan}, nil
}
