package sap

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger              *slog.Logger
	host                string
	port                *int
	autoPort            *bool
	interval            time.Duration
	fetchTimeout        time.Duration
	runImmediately      *bool
	refreshToken        *string
	resolver            Resolver
	scopes              []Scope
	registerWithShell   *bool
	registryFile        string
	requireInitialFetch bool
}

// WithLogger sets the structured logger for the App.
// If not set, a JSON logger at the configured level is created.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithHost overrides the bind host from config (SAP_HOST env var).
func WithHost(host string) Option {
	return func(o *resolvedOptions) { o.host = host }
}

// WithPort overrides the TCP port from config (SAP_PORT env var).
// Port 0 binds an ephemeral port; the resolved port is available from Addr.
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = &port }
}

// WithAutoPort controls fallback binding when the configured port is taken
// (SAP_AUTO_PORT env var). When enabled the next 20 ports are tried in order.
func WithAutoPort(enabled bool) Option {
	return func(o *resolvedOptions) { o.autoPort = &enabled }
}

// WithInterval overrides the periodic refresh interval (SAP_INTERVAL env var).
func WithInterval(interval time.Duration) Option {
	return func(o *resolvedOptions) { o.interval = interval }
}

// WithFetchTimeout overrides the per-fetch deadline (SAP_FETCH_TIMEOUT env var).
func WithFetchTimeout(timeout time.Duration) Option {
	return func(o *resolvedOptions) { o.fetchTimeout = timeout }
}

// WithRunImmediately controls whether the first fetch starts at startup
// instead of waiting one full interval (SAP_RUN_IMMEDIATELY env var).
func WithRunImmediately(enabled bool) Option {
	return func(o *resolvedOptions) { o.runImmediately = &enabled }
}

// WithRefreshToken gates the /refresh endpoint behind a shared secret
// (SAP_REFRESH_TOKEN env var). Empty string leaves /refresh open.
func WithRefreshToken(token string) Option {
	return func(o *resolvedOptions) { o.refreshToken = &token }
}

// WithLazyLoader registers a query resolver and the scopes it answers.
// Without this option POST /lazy_load rejects every request.
func WithLazyLoader(resolver Resolver, scopes ...Scope) Option {
	return func(o *resolvedOptions) {
		o.resolver = resolver
		o.scopes = append(o.scopes, scopes...)
	}
}

// WithRegisterWithShell controls whether the provider appends its URL to the
// local shell registry file at startup (SAP_REGISTER_WITH_SHELL env var).
func WithRegisterWithShell(enabled bool) Option {
	return func(o *resolvedOptions) { o.registerWithShell = &enabled }
}

// WithRegistryFile overrides the shell registry file path
// (SAP_REGISTRY_FILE env var; defaults to ~/.sa/saps.txt).
func WithRegistryFile(path string) Option {
	return func(o *resolvedOptions) { o.registryFile = path }
}

// WithRequireInitialFetch makes Run fail unless the first fetch completes
// within the configured initial fetch timeout (SAP_INITIAL_FETCH_TIMEOUT).
func WithRequireInitialFetch() Option {
	return func(o *resolvedOptions) { o.requireInitialFetch = true }
}
