package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/btouchard/burrow/internal/api"
	"github.com/btouchard/burrow/internal/config"
	"github.com/btouchard/burrow/internal/discovery"
	burrowmcp "github.com/btouchard/burrow/internal/mcp"
	"github.com/btouchard/burrow/internal/notify"
	"github.com/btouchard/burrow/internal/session"
	"github.com/btouchard/burrow/internal/store"
	"github.com/btouchard/burrow/internal/tunnel"
)

type upFlags struct {
	https      bool
	port       uint16
	executable string
	require    []string
	timeout    time.Duration
	noAPI      bool
}

func NewUpCommand(c *cli) *cobra.Command {
	var f upFlags

	cmd := &cobra.Command{
		Use:   "up [port]",
		Short: "Open a tunnel to a local port and keep it supervised",
		Long: `Start the tunnel agent for a local port, wait for its public URL and
keep watching it. Exits non-zero if the agent dies on its own.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				p, err := strconv.ParseUint(args[0], 10, 16)
				if err != nil || p == 0 {
					return fmt.Errorf("invalid port %q", args[0])
				}
				f.port = uint16(p)
			}

			b := tunnel.FromConfig(c.cfg.Tunnel)
			if f.https {
				b.HTTPS()
			} else if protocol, _ := b.Target(); protocol == "" {
				b.HTTP()
			}
			if f.port != 0 {
				b.Port(f.port)
			}
			if f.executable != "" {
				b.Executable(f.executable)
			}
			for _, s := range f.require {
				b.Require(discovery.Scheme(s))
			}
			if f.timeout > 0 {
				b.Timeout(f.timeout)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return runUp(ctx, c.cfg, b, !f.noAPI && c.cfg.Server.Enabled, cmd)
		},
	}

	cmd.Flags().BoolVar(&f.https, "https", false, "start the agent in https mode")
	cmd.Flags().StringVar(&f.executable, "executable", "", "tunnel agent binary (default from config)")
	cmd.Flags().StringSliceVar(&f.require, "require", nil, "schemes that must be advertised (http, https)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "how long to wait for the public URL")
	cmd.Flags().BoolVar(&f.noAPI, "no-api", false, "do not serve the local status API")

	return cmd
}

func runUp(ctx context.Context, cfg *config.Config, b *tunnel.Builder, serveAPI bool, cmd *cobra.Command) error {
	// --- SQLite Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if cfg.Database.RetentionDays > 0 {
		if _, err := db.Cleanup(time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour); err != nil {
			slog.Warn("session cleanup failed", "error", err)
		}
	}

	// --- Notifications & Sessions ---
	hub := notify.NewHub(notify.NewLogNotifier(nil), notify.NewStoreNotifier(db))
	defer hub.Wait()
	sessions := session.NewManager(db, hub)

	// --- Tunnel ---
	sess, err := sessions.Launch(ctx, b)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil && !errors.Is(err, tunnel.ErrProcessExited) {
			slog.Warn("closing tunnel", "error", err)
		}
	}()

	snap := sess.Snapshot()
	out := cmd.OutOrStdout()
	if snap.HTTPSURL != "" {
		fmt.Fprintf(out, "%s -> localhost:%d\n", snap.HTTPSURL, snap.Port)
	}
	if snap.HTTPURL != "" {
		fmt.Fprintf(out, "%s -> localhost:%d\n", snap.HTTPURL, snap.Port)
	}

	// --- Status API ---
	if serveAPI {
		mcpServer := burrowmcp.NewServer(&burrowmcp.Deps{
			Sessions: sessions,
			History:  db,
			Version:  version,
		})
		hub.Add(notify.NewMCPNotifier(mcpServer, 30*time.Second))

		srv, errCh := serveStatusAPI(cfg, api.Deps{
			Sessions:  sessions,
			History:   db,
			MCP:       server.NewStreamableHTTPServer(mcpServer),
			RateLimit: cfg.RateLimit,
			Version:   version,
		})
		defer shutdown(srv)

		go func() {
			if err := <-errCh; err != nil {
				slog.Error("status api stopped", "error", err)
			}
		}()
	}

	// --- Supervise ---
	err = sess.Monitor(ctx, cfg.Monitor.Interval)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		slog.Info("shutting down")
		return nil
	default:
		return fmt.Errorf("tunnel on port %d: %w", snap.Port, err)
	}
}

func serveStatusAPI(cfg *config.Config, deps api.Deps) (*http.Server, <-chan error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("status api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return srv, errCh
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "status api shutdown: %v\n", err)
	}
}
