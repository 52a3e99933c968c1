// ABOUTME: Entry point for coven-warden, the Matrix bot fleet supervisor
// ABOUTME: Cobra commands for serving and for probing a running instance

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-warden/internal/config"
	"github.com/2389/coven-warden/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                            _
  ___ _____   _____ _ __      __      ____ _ _ __ __| | ___ _ __
 / __/ _ \ \ / / _ \ '_ \_____\ \ /\ / / _' | '__/ _' |/ _ \ '_ \
| (_| (_) \ V /  __/ | | |_____\ V  V / (_| | | | (_| |  __/ | | |
 \___\___/ \_/ \___|_| |_|      \_/\_/ \__,_|_|  \__,_|\___|_| |_|
`

// probeTimeout bounds the health and bots commands.
const probeTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "coven-warden",
		Short: "Supervise a fleet of Matrix bot identities",
		Long: `coven-warden logs into Matrix as a manager identity, listens for admin
commands in a control room and keeps a registry of bot identities connected.
External services push bot presence through its HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"optional YAML or TOML config file (default $"+config.FileEnvVar+")")

	load := func() (*config.Config, string, error) {
		path := configPath
		if path == "" {
			path = os.Getenv(config.FileEnvVar)
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, path, fmt.Errorf("loading config: %w", err)
		}
		return cfg, path, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the supervisor",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, path, err := load()
				if err != nil {
					return err
				}
				return runServe(cmd.Context(), cfg, path)
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check that a running instance answers /health",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := load()
				if err != nil {
					return err
				}
				return runHealth(cmd.Context(), cfg, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "bots",
			Short: "List the bots active in a running instance",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := load()
				if err != nil {
					return err
				}
				return runBots(cmd.Context(), cfg, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func runServe(ctx context.Context, cfg *config.Config, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger, err := setupLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if configPath != "" {
		green.Print("    ▶ ")
		fmt.Printf("Config:       %s\n", configPath)
	}
	green.Print("    ▶ ")
	fmt.Printf("Homeserver:   %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Control room: %s\n", cfg.Matrix.ControlRoom)
	green.Print("    ▶ ")
	fmt.Printf("Database:     %s\n", cfg.DB.Driver)
	if cfg.TokenEncryptionKey == "" {
		yellow.Println("                  tokens stored unencrypted")
	}

	green.Print("    ▶ ")
	if cfg.Tailscale.Enabled {
		fmt.Printf("API:          ")
		cyan.Printf("%s:%d", cfg.Tailscale.Hostname, cfg.ListenAPI.Port)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		fmt.Printf("API:          %s\n", cfg.APIAddr())
	}
	fmt.Println()

	logger.Info("starting coven-warden",
		"version", version,
		"control_room", cfg.Matrix.ControlRoom,
		"db_driver", cfg.DB.Driver,
		"api_addr", cfg.APIAddr(),
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// probeURL addresses a local instance; an unspecified bind host is reached on loopback.
func probeURL(cfg *config.Config, path string) string {
	host := cfg.ListenAPI.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.ListenAPI.Port)) + path
}

func runHealth(ctx context.Context, cfg *config.Config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL(cfg, "/health"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func runBots(ctx context.Context, cfg *config.Config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL(cfg, "/api/bots"), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(gateway.APIKeyHeader, cfg.ListenAPI.Key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("bots request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bots request failed: status %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintln(out, string(body))
	return nil
}
