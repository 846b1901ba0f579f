// Command sap-registry serves the local provider registry file over HTTP so
// shells can discover running providers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebitommy123/SAP/internal/registry"
)

// version is set at build time via -ldflags.
var version = "dev"

type options struct {
	Host     string
	Port     int
	SapsFile string
	Verbose  bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "sap-registry",
		Short: "Serve the provider registry file over HTTP",
		Long: `Serve the local provider registry (saps.txt) over HTTP.

Providers append their URL to the registry file at startup; shells read
GET /saps to discover them. By default the file at ~/.sa/saps.txt is served.

Example:
  sap-registry --port 9000
  sap-registry --saps-file /tmp/saps.txt --verbose`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "0.0.0.0", "bind host")
	cmd.Flags().IntVar(&opts.Port, "port", 9000, "bind port")
	cmd.Flags().StringVar(&opts.SapsFile, "saps-file", "", "registry file to serve (default ~/.sa/saps.txt)")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	file := opts.SapsFile
	if file == "" {
		var err error
		file, err = registry.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve registry file: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:         net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port)),
		Handler:      registry.NewServer(file, logger).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("registry server starting", "version", version, "addr", srv.Addr, "file", file)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("registry server shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
