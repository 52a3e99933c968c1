// ABOUTME: Composition root wiring store, manager identity, supervisor, commands and the HTTP API
// ABOUTME: Owns startup ordering and the bounded shutdown window

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-warden/internal/command"
	"github.com/2389/coven-warden/internal/config"
	"github.com/2389/coven-warden/internal/fleet"
	"github.com/2389/coven-warden/internal/matrix"
	"github.com/2389/coven-warden/internal/store"
)

// ErrShutdownTimeout is returned when shutdown does not finish inside the window.
var ErrShutdownTimeout = errors.New("shutdown did not complete in time")

// managerClient is the manager identity as seen by the lifecycle code.
type managerClient interface {
	Login(ctx context.Context) error
	Ready() bool
	Run(ctx context.Context, handle matrix.MessageHandler) error
	Logout(ctx context.Context) error
}

// Gateway runs one supervisor process.
type Gateway struct {
	config      *config.Config
	store       store.Store
	manager     managerClient
	supervisor  *fleet.Supervisor
	commands    *command.Interpreter
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// stopSync cancels the manager's sync loop.
	stopSync context.CancelFunc
	syncDone chan struct{}
}

// initStore opens the registry store described by cfg.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	var sealer *store.TokenSealer
	if cfg.TokenEncryptionKey != "" {
		s, err := store.NewTokenSealer(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
		}
		sealer = s
	}

	opts := store.Options{Driver: cfg.DB.Driver, Sealer: sealer, Logger: logger}
	switch cfg.DB.Driver {
	case store.DriverSQLite:
		opts.DSN = cfg.DB.Name
	default:
		opts.DSN = store.MySQLDSN(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name)
	}

	s, err := store.NewSQLStore(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New wires every component. Nothing talks to the homeserver until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	manager, err := matrix.NewManager(matrix.ManagerConfig{
		Homeserver:  cfg.Matrix.Homeserver,
		AccessToken: cfg.Matrix.AccessToken,
		ControlRoom: cfg.Matrix.ControlRoom,
		Logger:      logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gwLogger := logger.With("component", "gateway")
	supervisor := fleet.NewSupervisor(fleet.Options{
		Store:      s,
		Control:    manager,
		NewSession: matrix.NewSessionFactory(cfg.Matrix.Homeserver, logger),
		Logger:     logger,
		OnSideEffectError: func(op, name string, err error) {
			gwLogger.Warn("side effect failed", "op", op, "name", name, "error", err)
		},
	})

	gw := &Gateway{
		config:     cfg,
		store:      s,
		manager:    manager,
		supervisor: supervisor,
		commands:   command.NewInterpreter(manager, supervisor, cfg.Matrix.ControlRoom, logger),
		logger:     gwLogger,
	}
	gw.httpServer = newHTTPServer(gw)
	return gw, nil
}

func newHTTPServer(g *Gateway) *http.Server {
	return &http.Server{
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run logs in the manager, starts the HTTP API, restores the fleet and then
// processes commands until ctx is cancelled. Shutdown is bounded by the
// configured window; exceeding it returns ErrShutdownTimeout.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.manager.Login(ctx); err != nil {
		_ = g.store.Close()
		return fmt.Errorf("logging in manager: %w", err)
	}

	ln, err := g.listen(ctx)
	if err != nil {
		_ = g.shutdownWithin()
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		g.logger.Info("HTTP API listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	g.supervisor.Reconcile(ctx)

	syncCtx, stopSync := context.WithCancel(context.Background())
	g.stopSync = stopSync
	g.syncDone = make(chan struct{})
	go func() {
		defer close(g.syncDone)
		if err := g.manager.Run(syncCtx, g.handleMessage); err != nil {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.shutdownWithin()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (g *Gateway) handleMessage(ctx context.Context, msg matrix.Incoming) {
	g.commands.Handle(ctx, command.Request{
		RoomID:  msg.RoomID,
		EventID: msg.EventID,
		Sender:  msg.Sender,
		Body:    msg.Body,
	})
}

// shutdownWithin runs Shutdown with a fresh context bounded by the window.
func (g *Gateway) shutdownWithin() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops command intake, clears the topic, logs out every bot and
// the manager, then stops the HTTP API and closes the store. Failures are logged and do not stop
// later steps. Returns ErrShutdownTimeout if ctx expires first.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down")

	done := make(chan error, 1)
	go func() {
		done <- g.shutdownSteps(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		g.logger.Error("shutdown window elapsed", "timeout", g.config.ShutdownTimeout)
		return ErrShutdownTimeout
	}
}

func (g *Gateway) shutdownSteps(ctx context.Context) error {
	var errs []error

	// Stop intake first; Run returns only after in-flight commands finish.
	if g.stopSync != nil {
		g.stopSync()
		select {
		case <-g.syncDone:
		case <-ctx.Done():
		}
	}

	if g.manager.Ready() {
		if err := g.supervisor.Presence().ClearTopic(ctx); err != nil {
			g.logger.Error("failed to clear topic", "error", err)
		}
	}

	g.supervisor.Shutdown(ctx)

	if g.manager.Ready() {
		if err := g.manager.Logout(ctx); err != nil {
			g.logger.Error("failed to log out manager", "error", err)
		}
	}

	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	g.logger.Info("shutdown complete")
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// listen opens the API listener on TCP or, when enabled, on the tailnet.
func (g *Gateway) listen(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.ListenAPI.Host != "" {
			g.logger.Warn("LISTEN_API_HOST is ignored when tailscale is enabled", "host", g.config.ListenAPI.Host)
		}
		return g.listenTailscale(ctx)
	}

	addr := g.config.APIAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set TAILSCALE_STATE_DIR): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-warden", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set TAILSCALE_AUTH_KEY or TS_AUTHKEY")
	}
	return authKey, nil
}

// listenTailscale joins the tailnet and listens on LISTEN_API_PORT there.
func (g *Gateway) listenTailscale(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		g.tsnetServer = nil
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", fmt.Sprintf(":%d", g.config.ListenAPI.Port))
	if err != nil {
		_ = g.tsnetServer.Close()
		g.tsnetServer = nil
		return nil, fmt.Errorf("listening on tailscale API port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
