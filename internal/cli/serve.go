package cli

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

	"github.com/roach88/recsync/internal/backend"
	"github.com/roach88/recsync/internal/remote"
)

// shutdownTimeout bounds the graceful stop of serve.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Listen   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a SQLite reference server over websocket",
		Long: `Open (or create) a SQLite reference server and serve wire requests
over websocket until interrupted. Stores connect with remote.Dial.

Examples:
  recsync serve
  recsync serve --db ./mail.db --listen 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", opts.listenAddr())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to listen", err)
			}
			return runServe(ctx, opts, ln, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default from config)")

	return cmd
}

func (o *ServeOptions) database() string {
	if o.Database != "" {
		return o.Database
	}
	return o.Config.Database
}

func (o *ServeOptions) listenAddr() string {
	if o.Listen != "" {
		return o.Listen
	}
	return o.Config.Listen
}

// ServeInfo is printed once the server accepts connections.
type ServeInfo struct {
	URL      string `json:"url"`
	Database string `json:"database"`
}

// runServe serves on ln until ctx is done. It owns ln.
func runServe(ctx context.Context, opts *ServeOptions, ln net.Listener, cmd *cobra.Command) error {
	defer ln.Close()

	reg, err := loadRegistry(opts.Config.Definitions...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load definitions", err)
	}
	db := opts.database()
	srv, err := backend.Open(db, backend.WithRegistry(reg))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer srv.Close()

	settings := remote.DefaultSettings()
	settings.WriteTimeout = time.Duration(opts.Config.Remote.WriteTimeout)
	handler := remote.NewHandler(srv, settings)
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: settings.HandshakeTimeout,
	}

	info := ServeInfo{URL: "ws://" + ln.Addr().String() + "/", Database: db}
	slog.Info("server listening", "url", info.URL, "database", db)
	if err := opts.formatter(cmd).Success(info, fmt.Sprintf("listening on %s (database %s)\n", info.URL, db)); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by http.Server.
	err = httpSrv.Shutdown(shutdownCtx)
	handler.Shutdown()
	if err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	slog.Info("server stopped")
	return nil
}
