package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/config"
	"github.com/xdg/opsgate/internal/safety"
	"github.com/xdg/opsgate/internal/server"
	"github.com/xdg/opsgate/internal/token"
)

const shutdownTimeout = 5 * time.Second

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateway",
	Long: `Run the websocket chat channel and JSON API.

Clients authenticate with a token from the config file and may submit
commands only as the configured operator. Each command waits for the
operator's confirmation before it runs.

The config file is watched; denylist and token changes apply without a
restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)
}

// gateway is a running serve stack.
type gateway struct {
	srv     *server.Server
	tokens  *token.Registry
	watcher *config.Watcher
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, true); err != nil {
		return err
	}
	defer func() { _ = clog.Close() }()

	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	gw, err := startGateway(cfg, config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "opsgate listening on %s\n", gw.srv.ListenAddr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	clog.Info("serve: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return gw.stop(shutdownCtx)
}

// startGateway builds the dispatcher, starts the server, and watches the
// config file at path for changes. An empty path disables watching.
func startGateway(cfg *config.Config, path string) (*gateway, error) {
	if cfg.Operator.ID == "" {
		return nil, errors.New("operator.id is not set; run \"opsgate config init\" or set " + config.EnvOperatorID)
	}

	hostKeys, err := loadHostKeys(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}

	tokens := token.NewRegistry(cfg.TokenMap())
	if tokens.Count() == 0 {
		clog.Warn("serve: no tokens configured; no client can connect")
	}

	d := buildDispatcher(cfg, hostKeys, nil)
	srv := server.New(d, tokens.Lookup)
	srv.Addr = cfg.Server.Listen
	srv.AllowedOrigins = cfg.Server.AllowedOrigins
	srv.TLSCert = cfg.Server.TLSCert
	srv.TLSKey = cfg.Server.TLSKey

	if err := srv.Start(); err != nil {
		srv.Close()
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	gw := &gateway{srv: srv, tokens: tokens}
	if path == "" {
		return gw, nil
	}

	watcher, err := config.NewWatcher(path, cfg, func(next *config.Config) {
		d.SetFilter(safety.NewFilter(next.Safety.Denylist))
		tokens.Replace(next.TokenMap())
		clog.Info("serve: applied denylist (%d entries) and %d token(s)", len(next.Safety.Denylist), tokens.Count())
	})
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		clog.Warn("serve: config changes will not be applied until restart: %v", err)
		return gw, nil
	}
	gw.watcher = watcher
	return gw, nil
}

func (gw *gateway) stop(ctx context.Context) error {
	if gw.watcher != nil {
		gw.watcher.Stop()
	}
	return gw.srv.Stop(ctx)
}
